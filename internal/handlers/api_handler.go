package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/excerpo/internal/common"
)

// healthProbeTimeout bounds each component probe so a dead provider cannot
// stall the health endpoint.
const healthProbeTimeout = 5 * time.Second

// HealthChecker is implemented by components the health endpoint probes.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// APIHandler serves the version, health, and 404 endpoints.
type APIHandler struct {
	checks map[string]HealthChecker
	logger arbor.ILogger
}

// NewAPIHandler creates the handler. Checks maps component names to their
// probes; nil entries are skipped.
func NewAPIHandler(checks map[string]HealthChecker, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		checks: checks,
		logger: logger,
	}
}

// VersionHandler returns version information.
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.GetBuild(),
		"git_commit": common.GetGitCommit(),
	})
}

// HealthHandler reports liveness plus per-component provider health. The
// response is always 200; a failing component flips status to degraded.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	status := "ok"
	components := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if check == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		err := check.HealthCheck(ctx)
		cancel()
		if err != nil {
			h.logger.Warn().Err(err).Str("component", name).Msg("Health check failed")
			components[name] = err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}

// NotFoundHandler handles 404 errors with JSON response.
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
