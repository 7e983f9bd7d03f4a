package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/haidra-org/horde-model-reference/internal/apierrors"
	"github.com/haidra-org/horde-model-reference/internal/models"
)

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

// writeRawJSON writes an already encoded document.
func writeRawJSON(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// categoryParam parses the {category} URL parameter, writing a 400 on
// failure.
func categoryParam(w http.ResponseWriter, r *http.Request) (models.Category, bool) {
	c, err := models.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		apierrors.WriteMappedError(w, err)
		return "", false
	}
	return c, true
}

// modelParam is the model name matched by the trailing wildcard. Names may
// contain slashes (clip's "ViT-L/14") or arrive percent-encoded.
func modelParam(r *http.Request) string {
	raw := chi.URLParam(r, "*")
	if name, err := url.PathUnescape(raw); err == nil {
		return name
	}
	return raw
}

func boolQuery(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

// intQuery parses a non-negative integer query parameter; absent means def.
func intQuery(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		apierrors.WriteError(w, apierrors.ErrCodeValidationError, key+" must be a non-negative integer", http.StatusBadRequest, map[string]string{"field": key})
		return 0, false
	}
	return n, true
}
