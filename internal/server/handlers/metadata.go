package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/haidra-org/horde-model-reference/internal/apierrors"
	"github.com/haidra-org/horde-model-reference/internal/metadata"
	"github.com/haidra-org/horde-model-reference/internal/models"
	"github.com/haidra-org/horde-model-reference/internal/paths"
)

// MetadataHandler serves the per-category operation ledgers of a PRIMARY.
type MetadataHandler struct {
	meta      *metadata.Manager
	canonical paths.Ledger
	logger    *slog.Logger
}

// LastUpdatedResponse is the newest ledger timestamp of one format.
type LastUpdatedResponse struct {
	LastUpdated *int64 `json:"last_updated"`
}

// CategoryLastUpdatedResponse is the ledger timestamp of one category.
type CategoryLastUpdatedResponse struct {
	Category    models.Category `json:"category"`
	LastUpdated *int64          `json:"last_updated"`
}

// NewMetadataHandler creates a metadata handler; meta is nil on REPLICA
// deployments, which keep no ledgers. canonical is the ledger of the
// canonical format.
func NewMetadataHandler(meta *metadata.Manager, canonical paths.Ledger, logger *slog.Logger) *MetadataHandler {
	return &MetadataHandler{meta: meta, canonical: canonical, logger: logger}
}

func (h *MetadataHandler) requireLedgers(w http.ResponseWriter) bool {
	if h.meta == nil {
		apierrors.WriteError(w, apierrors.ErrCodeMetadataUnavailable, "Metadata tracking is not available on REPLICA deployments", http.StatusServiceUnavailable, nil)
		return false
	}
	return true
}

// LastUpdated handles GET /{v1|v2}/metadata/last_updated. Only the
// canonical format answers; watchers poll it to detect writes.
func (h *MetadataHandler) LastUpdated(ledger paths.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.requireLedgers(w) {
			return
		}
		if ledger != h.canonical {
			apierrors.WriteError(w, apierrors.ErrCodeMetadataUnavailable,
				"last_updated is only served for the canonical format ("+string(h.canonical)+")",
				http.StatusServiceUnavailable, map[string]string{"ledger": string(ledger)})
			return
		}
		var resp LastUpdatedResponse
		if ts, ok := h.meta.LastUpdated(ledger); ok {
			resp.LastUpdated = &ts
		}
		writeJSON(w, h.logger, http.StatusOK, resp)
	}
}

// CategoryLastUpdated handles GET /{v1|v2}/metadata/{category}/last_updated.
func (h *MetadataHandler) CategoryLastUpdated(ledger paths.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.requireLedgers(w) {
			return
		}
		c, ok := categoryParam(w, r)
		if !ok {
			return
		}
		meta, err := h.meta.Get(ledger, c)
		if err != nil {
			apierrors.WriteMappedError(w, err)
			return
		}
		ts := meta.LastUpdated
		writeJSON(w, h.logger, http.StatusOK, CategoryLastUpdatedResponse{Category: c, LastUpdated: &ts})
	}
}

func (h *MetadataHandler) ledgerParam(w http.ResponseWriter, r *http.Request) (paths.Ledger, bool) {
	switch l := paths.Ledger(chi.URLParam(r, "ledger")); l {
	case paths.LedgerV2, paths.LedgerLegacy:
		if h.meta == nil {
			apierrors.WriteError(w, apierrors.ErrCodeMetadataNotFound, "This deployment keeps no metadata", http.StatusNotFound, nil)
			return "", false
		}
		return l, true
	}
	apierrors.WriteError(w, apierrors.ErrCodeValidationError, "ledger must be v2 or legacy", http.StatusBadRequest, map[string]string{"field": "ledger"})
	return "", false
}

// ListMetadata handles GET /metadata/{ledger}
func (h *MetadataHandler) ListMetadata(w http.ResponseWriter, r *http.Request) {
	ledger, ok := h.ledgerParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, h.logger, http.StatusOK, h.meta.All(ledger))
}

// GetMetadata handles GET /metadata/{ledger}/{category}
func (h *MetadataHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	ledger, ok := h.ledgerParam(w, r)
	if !ok {
		return
	}
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	meta, err := h.meta.Get(ledger, c)
	if err != nil {
		apierrors.WriteMappedError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, meta)
}
