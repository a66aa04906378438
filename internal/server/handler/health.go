package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger checks liveness of a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	db     Pinger
	cache  Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. db and cache may be nil, in
// which case the corresponding check is skipped.
func NewHealthHandler(db, cache Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache, logger: logger}
}

// HealthCheck reports server liveness and the state of backing stores.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			checks["postgres"] = "down"
			healthy = false
		} else {
			checks["postgres"] = "ok"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			checks["redis"] = "down"
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status":    state,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
