package app

import (
	"log/slog"
	"net/http"

	"github.com/geoquest/platform/internal/auth"
	"github.com/geoquest/platform/internal/guard"
	"github.com/geoquest/platform/internal/handler"
	"github.com/geoquest/platform/internal/infra"
	"github.com/geoquest/platform/internal/store"
	"github.com/go-chi/chi/v5"
)

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Store   *store.RiderStore
	Engine  handler.PositionProcessor
	Hub     *infra.WSHub
	JWTMgr  *auth.JWTManager
	Limiter *guard.RateLimiter
	Metrics *infra.Metrics
	// DB is pinged by /health; nil for the file snapshot backend.
	DB          infra.Pinger
	CORSOrigins string
	Logger      *slog.Logger
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	logger := deps.Logger

	// Handlers
	authHandler := handler.NewAuthHandler(deps.Store, deps.JWTMgr, logger)
	riderHandler := handler.NewRiderHandler(deps.Store)
	wsHandler := handler.NewWSHandler(deps.Hub, deps.Engine, deps.Store, deps.Limiter, logger)

	origins := deps.CORSOrigins
	if origins == "" {
		origins = "*"
	}

	// Router
	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORSWithOrigins(origins))

	// WebSocket and metrics (no JSON content-type)
	r.Get("/ws", wsHandler.ServeHTTP)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(handler.JSONContentType)

		// Health (no auth)
		r.Get("/health", handler.HealthHandler(deps.Store, deps.Hub.ConnectionCount, deps.DB))

		// Auth routes (no auth)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
		})

		// Public read-only views
		r.Get("/challenges", riderHandler.Challenges)
		r.Get("/leaderboard", riderHandler.Leaderboard)

		r.Route("/riders", func(r chi.Router) {
			r.Get("/", riderHandler.List)

			// Rider-authenticated
			r.With(auth.AuthenticateRider(deps.JWTMgr)).Get("/me", riderHandler.GetMe)

			r.Get("/{id}", riderHandler.Get)
		})
	})

	return r
}
