package handlers

import (
	"log/slog"
	"net/http"

	"github.com/haidra-org/horde-model-reference/internal/analytics"
	"github.com/haidra-org/horde-model-reference/internal/apierrors"
)

// AnalyticsHandler serves category statistics and deletion-risk audits.
type AnalyticsHandler struct {
	stats  *analytics.StatisticsEngine
	audits *analytics.AuditEngine
	logger *slog.Logger
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(stats *analytics.StatisticsEngine, audits *analytics.AuditEngine, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{stats: stats, audits: audits, logger: logger}
}

// GetStatistics handles GET /statistics/{category}?grouped=
func (h *AnalyticsHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	s, err := h.stats.Statistics(r.Context(), c, boolQuery(r, "grouped"))
	countOperation("statistics", err)
	if err != nil {
		h.logger.Warn("Statistics failed", "category", c, "error", err)
		apierrors.WriteMappedError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, s)
}

// ListPresets handles GET /audit/presets
func (h *AnalyticsHandler) ListPresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, analytics.Presets())
}

// GetAudit handles GET /audit/{category}. Query parameters: grouped,
// backend_variations, preset, sort, offset and limit.
func (h *AnalyticsHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	offset, ok := intQuery(w, r, "offset", 0)
	if !ok {
		return
	}
	limit, ok := intQuery(w, r, "limit", 0)
	if !ok {
		return
	}
	q := analytics.AuditQuery{
		Grouped:           boolQuery(r, "grouped"),
		BackendVariations: boolQuery(r, "backend_variations"),
	}

	audit, err := h.audits.Audit(r.Context(), c, q)
	countOperation("audit", err)
	if err != nil {
		h.logger.Warn("Audit failed", "category", c, "error", err)
		apierrors.WriteMappedError(w, err)
		return
	}

	// The cached audit is shared; sort a copy.
	if field := r.URL.Query().Get("sort"); field != "" {
		sorted := *audit
		sorted.Models = append([]analytics.ModelAudit(nil), audit.Models...)
		analytics.SortAudits(sorted.Models, field)
		audit = &sorted
	}
	view, err := audit.View(r.URL.Query().Get("preset"), offset, limit)
	if err != nil {
		apierrors.WriteMappedError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, view)
}
