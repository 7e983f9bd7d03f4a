package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/haidra-org/horde-model-reference/internal/apierrors"
	"github.com/haidra-org/horde-model-reference/internal/backends"
	"github.com/haidra-org/horde-model-reference/internal/manager"
	"github.com/haidra-org/horde-model-reference/internal/models"
)

// maxBodyBytes bounds write request bodies.
const maxBodyBytes = 8 << 20

// ReferenceHandler serves v2 category documents and model writes.
type ReferenceHandler struct {
	manager *manager.Manager
	logger  *slog.Logger
}

// NewReferenceHandler creates a new reference handler
func NewReferenceHandler(m *manager.Manager, logger *slog.Logger) *ReferenceHandler {
	return &ReferenceHandler{manager: m, logger: logger}
}

// CategorySummary describes one category in the category listing.
type CategorySummary struct {
	Category  models.Category `json:"category"`
	Available bool            `json:"available"`
	Models    int             `json:"models"`
}

// ListCategories handles GET /v2
func (h *ReferenceHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	refs, err := h.manager.AllReferencesUnsafe(r.Context(), boolQuery(r, "refresh"))
	if err != nil {
		h.logger.Error("Failed to list categories", "error", err)
		apierrors.WriteMappedError(w, err)
		return
	}
	out := make([]CategorySummary, 0, len(models.AllCategories))
	for _, c := range models.AllCategories {
		s := CategorySummary{Category: c}
		if ref := refs[c]; ref != nil {
			s.Available = true
			s.Models = ref.Len()
		}
		out = append(out, s)
	}
	writeJSON(w, h.logger, http.StatusOK, out)
}

// GetCategory handles GET /v2/{category}
func (h *ReferenceHandler) GetCategory(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	doc, err := h.manager.RawReferenceJSON(r.Context(), c, boolQuery(r, "refresh"))
	countOperation("category_read", err)
	if err != nil {
		h.logger.Warn("Category read failed", "category", c, "error", err)
		apierrors.WriteMappedError(w, err)
		return
	}
	data, err := doc.Marshal()
	if err != nil {
		apierrors.WriteMappedError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, data)
}

// GetModelNames handles GET /v2/{category}/names
func (h *ReferenceHandler) GetModelNames(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	names, err := h.manager.ModelNames(r.Context(), c, false)
	if err != nil {
		apierrors.WriteMappedError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, names)
}

// GetModel handles GET /v2/{category}/{model}
func (h *ReferenceHandler) GetModel(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	raw, err := h.manager.RawModelJSON(r.Context(), c, modelParam(r), false)
	countOperation("model_read", err)
	if err != nil {
		apierrors.WriteMappedError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, raw)
}

func (h *ReferenceHandler) decodeRecord(w http.ResponseWriter, r *http.Request) (*models.ModelRecord, bool) {
	var rec models.ModelRecord
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&rec); err != nil {
		h.logger.Warn("Failed to decode model record",
			"error", err,
			"remote_addr", r.RemoteAddr)
		apierrors.WriteError(w, apierrors.ErrCodeValidationError, "Invalid JSON in request body", http.StatusBadRequest, nil)
		return nil, false
	}
	return &rec, true
}

// exists treats a category without a document as holding no models.
func (h *ReferenceHandler) exists(r *http.Request, c models.Category, name string) (bool, error) {
	_, err := h.manager.RawModelJSON(r.Context(), c, name, false)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, manager.ErrModelNotFound), errors.Is(err, backends.ErrUnavailable):
		return false, nil
	}
	return false, err
}

// CreateModel handles POST /v2/{category}
func (h *ReferenceHandler) CreateModel(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	rec, ok := h.decodeRecord(w, r)
	if !ok {
		return
	}
	if err := models.ValidateModelName(rec.Name); err != nil {
		apierrors.WriteMappedError(w, err)
		return
	}
	found, err := h.exists(r, c, rec.Name)
	if err != nil {
		apierrors.WriteMappedError(w, err)
		return
	}
	if found {
		apierrors.WriteError(w, apierrors.ErrCodeModelAlreadyExists,
			fmt.Sprintf("Model %q already exists in %s", rec.Name, c), http.StatusConflict, nil)
		return
	}

	err = h.manager.UpdateModel(r.Context(), c, rec)
	countOperation("model_create", err)
	if err != nil {
		h.logger.Warn("Model create failed", "category", c, "model", rec.Name, "error", err)
		apierrors.WriteMappedError(w, err)
		return
	}
	h.logger.Info("Model created",
		"category", c,
		"model", rec.Name,
		"remote_addr", r.RemoteAddr)
	h.writeStored(w, r, c, rec.Name, http.StatusCreated)
}

// UpdateModel handles PUT /v2/{category}/{model}
func (h *ReferenceHandler) UpdateModel(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	name := modelParam(r)
	rec, ok := h.decodeRecord(w, r)
	if !ok {
		return
	}
	if rec.Name == "" {
		rec.Name = name
	}
	if rec.Name != name {
		apierrors.WriteError(w, apierrors.ErrCodeValidationError,
			"Model name in body does not match the URL", http.StatusBadRequest, map[string]string{"field": "name"})
		return
	}
	found, err := h.exists(r, c, name)
	if err != nil {
		apierrors.WriteMappedError(w, err)
		return
	}
	if !found {
		apierrors.WriteMappedError(w, manager.ErrModelNotFound)
		return
	}

	err = h.manager.UpdateModel(r.Context(), c, rec)
	countOperation("model_update", err)
	if err != nil {
		h.logger.Warn("Model update failed", "category", c, "model", name, "error", err)
		apierrors.WriteMappedError(w, err)
		return
	}
	h.logger.Info("Model updated",
		"category", c,
		"model", name,
		"remote_addr", r.RemoteAddr)
	h.writeStored(w, r, c, name, http.StatusOK)
}

// writeStored answers a write with the record as persisted, metadata
// stamps included.
func (h *ReferenceHandler) writeStored(w http.ResponseWriter, r *http.Request, c models.Category, name string, status int) {
	raw, err := h.manager.RawModelJSON(r.Context(), c, name, false)
	if err != nil {
		h.logger.Warn("Written model not readable", "category", c, "model", name, "error", err)
		w.WriteHeader(status)
		return
	}
	writeRawJSON(w, status, raw)
}

// DeleteModel handles DELETE /v2/{category}/{model}
func (h *ReferenceHandler) DeleteModel(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	name := modelParam(r)
	err := h.manager.DeleteModel(r.Context(), c, name)
	countOperation("model_delete", err)
	if err != nil {
		h.logger.Warn("Model delete failed", "category", c, "model", name, "error", err)
		apierrors.WriteMappedError(w, err)
		return
	}
	h.logger.Info("Model deleted",
		"category", c,
		"model", name,
		"remote_addr", r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}
