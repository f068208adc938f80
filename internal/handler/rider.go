package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/geoquest/platform/internal/auth"
	"github.com/geoquest/platform/internal/domain"
	"github.com/geoquest/platform/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxLeaderboardLimit = 100

// RiderHandler serves read-only views of riders and challenges.
type RiderHandler struct {
	riders *store.RiderStore
}

// NewRiderHandler creates a new RiderHandler.
func NewRiderHandler(riders *store.RiderStore) *RiderHandler {
	return &RiderHandler{riders: riders}
}

// List handles GET /riders.
func (h *RiderHandler) List(w http.ResponseWriter, r *http.Request) {
	all := h.riders.Riders()
	out := make([]*domain.Rider, 0, len(all))
	for _, rd := range all {
		out = append(out, rd.Public())
	}
	RespondJSON(w, http.StatusOK, out)
}

// Get handles GET /riders/{id}.
func (h *RiderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rider, err := h.riders.Resolve(id)
	if errors.Is(err, domain.ErrUnknownRider) {
		RespondError(w, domain.ErrNotFound("rider", id))
		return
	}
	if err != nil {
		RespondError(w, domain.ErrInternal("resolve rider", err))
		return
	}
	RespondJSON(w, http.StatusOK, rider.Public())
}

// GetMe handles GET /riders/me for the bearer's own rider, email included.
func (h *RiderHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	sub := auth.SubjectFromContext(r.Context())
	if sub == "" {
		RespondError(w, domain.ErrUnauthorized("no subject in context"))
		return
	}
	Annotate(r.Context(), "rider_id", sub)

	rider, err := h.riders.Resolve(sub)
	if errors.Is(err, domain.ErrUnknownRider) {
		RespondError(w, domain.ErrNotFound("rider", sub))
		return
	}
	if err != nil {
		RespondError(w, domain.ErrInternal("resolve rider", err))
		return
	}
	RespondJSON(w, http.StatusOK, rider)
}

// Challenges handles GET /challenges.
func (h *RiderHandler) Challenges(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.riders.Challenges())
}

// leaderboardEntry is one ranked row of GET /leaderboard.
type leaderboardEntry struct {
	Rank     int      `json:"rank"`
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Distance int64    `json:"distance"`
	Score    int64    `json:"score"`
	Badges   []string `json:"badges"`
}

// Leaderboard handles GET /leaderboard?limit=n (default 10, max 100).
func (h *RiderHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			RespondError(w, domain.ErrValidation("limit must be a positive integer"))
			return
		}
		limit = min(n, maxLeaderboardLimit)
	}

	ranked := h.riders.Leaderboard(limit)
	out := make([]leaderboardEntry, 0, len(ranked))
	for i, rd := range ranked {
		badges := rd.Badges
		if badges == nil {
			badges = []string{}
		}
		out = append(out, leaderboardEntry{
			Rank:     i + 1,
			ID:       rd.ID,
			Name:     rd.Name,
			Distance: rd.RoundedDistance(),
			Score:    rd.Score,
			Badges:   badges,
		})
	}
	RespondJSON(w, http.StatusOK, out)
}
