package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/geoquest/platform/internal/auth"
	"github.com/geoquest/platform/internal/domain"
	"github.com/geoquest/platform/internal/store"
)

// AuthHandler handles rider registration.
type AuthHandler struct {
	riders *store.RiderStore
	jwtMgr *auth.JWTManager
	logger *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(riders *store.RiderStore, jwtMgr *auth.JWTManager, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{riders: riders, jwtMgr: jwtMgr, logger: logger}
}

// RegisterInput is the POST /auth/register body.
type RegisterInput struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// RegisterResult is returned on successful registration.
type RegisterResult struct {
	RiderID string `json:"riderId"`
	Name    string `json:"name"`
	Token   string `json:"token"`
}

// Register handles POST /auth/register. Registering a known email returns
// the existing rider with a fresh token.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input RegisterInput
	if err := DecodeJSON(r, &input); err != nil {
		RespondJSON(w, http.StatusBadRequest, map[string]string{
			"code":    "VALIDATION_ERROR",
			"message": "invalid request body",
		})
		return
	}

	if err := domain.ValidateEmail(domain.NormalizeEmail(input.Email)); err != nil {
		RespondError(w, domain.ErrValidation(err.Error()))
		return
	}
	if name := strings.TrimSpace(input.Name); name != "" {
		if err := domain.ValidateName(name); err != nil {
			RespondError(w, domain.ErrValidation(err.Error()))
			return
		}
	}

	rider, created, err := h.riders.Register(input.Email, input.Name)
	if err != nil {
		RespondError(w, domain.ErrValidation(err.Error()))
		return
	}
	Annotate(r.Context(), "rider_id", rider.ID)

	token, err := h.jwtMgr.GenerateToken(rider.ID, rider.Email)
	if err != nil {
		RespondError(w, domain.ErrInternal("issue token", err))
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.logger.Info("rider registered", "rider_id", rider.ID)
	}
	RespondJSON(w, status, RegisterResult{RiderID: rider.ID, Name: rider.Name, Token: token})
}
