package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint, probing the dependencies
// it was given. Nil probes are skipped so optional backends (cache, blob
// store) do not fail the check when unconfigured.
type HealthHandler struct {
	probes map[string]Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. The probes map keys become the
// component names in the response body.
func NewHealthHandler(probes map[string]Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{probes: probes, logger: logger}
}

// HealthCheck reports overall service health. It returns 200 when every
// configured probe succeeds and 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := make(map[string]string, len(h.probes))
	healthy := true
	for name, p := range h.probes {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "handler: health probe failed",
				slog.String("component", name),
				slog.String("error", err.Error()),
			)
			components[name] = err.Error()
			healthy = false
			continue
		}
		components[name] = "ok"
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
