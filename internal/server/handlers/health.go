package handlers

import (
	"log/slog"
	"net/http"

	"github.com/haidra-org/horde-model-reference/internal/backends"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	backend backends.Backend
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(b backends.Backend, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{backend: b, logger: logger}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string                 `json:"status"`
	Mode    backends.ReplicateMode `json:"mode"`
	Backend string                 `json:"backend"`
	Checks  map[string]CheckResult `json:"checks"`
}

// CheckResult represents a single health check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// GetHealth handles GET /health. Backends without an external dependency
// are always healthy.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Mode:    h.backend.Mode(),
		Backend: h.backend.Name(),
		Checks:  make(map[string]CheckResult),
	}

	hc, ok := h.backend.(backends.HealthChecker)
	if !ok {
		resp.Checks["backend"] = CheckResult{Status: "healthy"}
		writeJSON(w, h.logger, http.StatusOK, resp)
		return
	}
	if err := hc.HealthCheck(r.Context()); err != nil {
		h.logger.Error("Health check failed: backend unhealthy", "backend", resp.Backend, "error", err)
		resp.Status = "unhealthy"
		resp.Checks["backend"] = CheckResult{Status: "unhealthy", Message: err.Error()}
		writeJSON(w, h.logger, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Checks["backend"] = CheckResult{Status: "healthy"}
	writeJSON(w, h.logger, http.StatusOK, resp)
}
