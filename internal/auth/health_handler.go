// health_handler.go -- Health check handler for GET /health.
package auth

import (
	"net/http"
)

// CheckHealth handles GET /health -- pings Postgres and, when configured, Redis.
// Returns 200 if every configured dependency is healthy, 503 otherwise.
func (h *AuthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	postgresStatus := "ok"
	redisStatus := "disabled"

	if err := h.DB.CheckHealth(r.Context()); err != nil {
		logError(r, "postgres health check failed", "error", err)
		postgresStatus = "error"
	}
	if h.Cache != nil {
		redisStatus = "ok"
		if err := h.Cache.CheckHealth(r.Context()); err != nil {
			logError(r, "redis health check failed", "error", err)
			redisStatus = "error"
		}
	}

	status := http.StatusOK
	if postgresStatus == "error" || redisStatus == "error" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, struct {
		App      string `json:"app,omitempty"`
		Postgres string `json:"postgres"`
		Redis    string `json:"redis"`
	}{h.AppName, postgresStatus, redisStatus})
}
