package handlers

import (
	"log/slog"
	"net/http"

	"github.com/haidra-org/horde-model-reference/internal/analytics"
	"github.com/haidra-org/horde-model-reference/internal/backends"
)

// CacheReporter is an analytics cache that can describe itself.
type CacheReporter interface {
	Info() analytics.CacheInfo
}

// BackendHandler reports what the active backend is doing.
type BackendHandler struct {
	backend backends.Backend
	caches  []CacheReporter
	logger  *slog.Logger
}

// NewBackendHandler creates a new backend handler
func NewBackendHandler(b backends.Backend, logger *slog.Logger, caches ...CacheReporter) *BackendHandler {
	return &BackendHandler{backend: b, caches: caches, logger: logger}
}

// BackendResponse is the body of GET /backend.
type BackendResponse struct {
	Name                 string                 `json:"name"`
	Mode                 backends.ReplicateMode `json:"mode"`
	SupportsWrites       bool                   `json:"supports_writes"`
	SupportsLegacyWrites bool                   `json:"supports_legacy_writes"`
	SupportsCacheWarming bool                   `json:"supports_cache_warming"`
	Statistics           map[string]any         `json:"statistics,omitempty"`
	AnalyticsCaches      []analytics.CacheInfo  `json:"analytics_caches"`
}

// GetBackend handles GET /backend
func (h *BackendHandler) GetBackend(w http.ResponseWriter, r *http.Request) {
	resp := BackendResponse{
		Name:                 h.backend.Name(),
		Mode:                 h.backend.Mode(),
		SupportsWrites:       h.backend.SupportsWrites(),
		SupportsLegacyWrites: h.backend.SupportsLegacyWrites(),
		SupportsCacheWarming: backends.SupportsCacheWarming(h.backend),
		AnalyticsCaches:      make([]analytics.CacheInfo, 0, len(h.caches)),
	}
	if sp, ok := h.backend.(backends.StatisticsProvider); ok {
		stats, err := sp.Statistics(r.Context())
		if err != nil {
			h.logger.Warn("Backend statistics unavailable", "backend", resp.Name, "error", err)
		} else {
			resp.Statistics = stats
		}
	}
	for _, c := range h.caches {
		resp.AnalyticsCaches = append(resp.AnalyticsCaches, c.Info())
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}
