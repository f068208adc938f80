package handler

import (
	"encoding/json"
	"net/http"

	"github.com/geoquest/platform/internal/infra"
)

// RiderCounter reports how many riders are loaded.
type RiderCounter interface {
	Count() int
}

// HealthHandler returns a health check endpoint. db may be nil when the
// snapshot backend is not postgres.
func HealthHandler(riders RiderCounter, observers func() int, db infra.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"status": "healthy",
			"riders": riders.Count(),
		}
		if observers != nil {
			body["observers"] = observers()
		}

		if db != nil {
			if err := infra.HealthCheck(r.Context(), db); err != nil {
				body["status"] = "unhealthy"
				body["error"] = err.Error()
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(body)
				return
			}
			body["database"] = "ok"
		}
		json.NewEncoder(w).Encode(body)
	}
}
