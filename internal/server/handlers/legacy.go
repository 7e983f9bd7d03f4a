package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/haidra-org/horde-model-reference/internal/apierrors"
	"github.com/haidra-org/horde-model-reference/internal/manager"
	"github.com/haidra-org/horde-model-reference/internal/models"
)

// LegacyHandler serves legacy category documents. Writes only succeed on
// PRIMARY deployments whose canonical format is legacy.
type LegacyHandler struct {
	manager *manager.Manager
	logger  *slog.Logger
}

// NewLegacyHandler creates a new legacy handler
func NewLegacyHandler(m *manager.Manager, logger *slog.Logger) *LegacyHandler {
	return &LegacyHandler{manager: m, logger: logger}
}

// GetCategory handles GET /v1/{category}, returning the document as stored.
func (h *LegacyHandler) GetCategory(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	s, err := h.manager.LegacyReferenceString(r.Context(), c, boolQuery(r, "refresh"))
	countOperation("legacy_read", err)
	if err != nil {
		h.logger.Warn("Legacy read failed", "category", c, "error", err)
		apierrors.WriteMappedError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, []byte(s))
}

// GetModel handles GET /v1/{category}/{model}
func (h *LegacyHandler) GetModel(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	name := modelParam(r)
	doc, err := h.manager.LegacyReferenceJSON(r.Context(), c, false)
	if err != nil {
		apierrors.WriteMappedError(w, err)
		return
	}
	raw, found := doc[name]
	if !found {
		apierrors.WriteMappedError(w, fmt.Errorf("%w: legacy %s in %s", manager.ErrModelNotFound, name, c))
		return
	}
	writeRawJSON(w, http.StatusOK, raw)
}

func (h *LegacyHandler) readObject(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeValidationError, "Request body too large", http.StatusRequestEntityTooLarge, nil)
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeValidationError, "Request body must be a JSON object", http.StatusBadRequest, nil)
		return nil, false
	}
	return body, true
}

// CreateModel handles POST /v1/{category}; the body carries the name.
func (h *LegacyHandler) CreateModel(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	raw, ok := h.readObject(w, r)
	if !ok {
		return
	}
	var named struct {
		Name string `json:"name"`
	}
	json.Unmarshal(raw, &named)
	if err := models.ValidateModelName(named.Name); err != nil {
		apierrors.WriteMappedError(w, err)
		return
	}
	if doc, err := h.manager.LegacyReferenceJSON(r.Context(), c, false); err == nil {
		if _, exists := doc[named.Name]; exists {
			apierrors.WriteError(w, apierrors.ErrCodeModelAlreadyExists,
				fmt.Sprintf("Model %q already exists in %s", named.Name, c), http.StatusConflict, nil)
			return
		}
	}
	h.write(w, r, c, named.Name, raw, http.StatusCreated)
}

// UpdateModel handles PUT /v1/{category}/{model}
func (h *LegacyHandler) UpdateModel(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	raw, ok := h.readObject(w, r)
	if !ok {
		return
	}
	h.write(w, r, c, modelParam(r), raw, http.StatusOK)
}

func (h *LegacyHandler) write(w http.ResponseWriter, r *http.Request, c models.Category, name string, raw json.RawMessage, status int) {
	err := h.manager.UpdateModelLegacy(r.Context(), c, name, raw)
	countOperation("legacy_write", err)
	if err != nil {
		h.logger.Warn("Legacy write failed", "category", c, "model", name, "error", err)
		apierrors.WriteMappedError(w, err)
		return
	}
	h.logger.Info("Legacy model written",
		"category", c,
		"model", name,
		"remote_addr", r.RemoteAddr)
	writeRawJSON(w, status, raw)
}

// DeleteModel handles DELETE /v1/{category}/{model}
func (h *LegacyHandler) DeleteModel(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	name := modelParam(r)
	err := h.manager.DeleteModelLegacy(r.Context(), c, name)
	countOperation("legacy_delete", err)
	if err != nil {
		apierrors.WriteMappedError(w, err)
		return
	}
	h.logger.Info("Legacy model deleted", "category", c, "model", name)
	w.WriteHeader(http.StatusNoContent)
}
