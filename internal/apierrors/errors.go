package apierrors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haidra-org/horde-model-reference/internal/analytics"
	"github.com/haidra-org/horde-model-reference/internal/backends"
	"github.com/haidra-org/horde-model-reference/internal/manager"
	"github.com/haidra-org/horde-model-reference/internal/metadata"
	"github.com/haidra-org/horde-model-reference/internal/models"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	ErrCodeInvalidCategory        ErrorCode = "INVALID_CATEGORY"
	ErrCodeModelNotFound          ErrorCode = "MODEL_NOT_FOUND"
	ErrCodeModelAlreadyExists     ErrorCode = "MODEL_ALREADY_EXISTS"
	ErrCodeReferenceUnavailable   ErrorCode = "REFERENCE_UNAVAILABLE"
	ErrCodeMetadataNotFound       ErrorCode = "METADATA_NOT_FOUND"
	ErrCodeMetadataUnavailable    ErrorCode = "METADATA_UNAVAILABLE"
	ErrCodeValidationError        ErrorCode = "VALIDATION_ERROR"
	ErrCodeReplicaMode            ErrorCode = "REPLICA_MODE"
	ErrCodeReadOnly               ErrorCode = "READ_ONLY"
	ErrCodeLegacyWritesDisabled   ErrorCode = "LEGACY_WRITES_DISABLED"
	ErrCodeBackendPrefixedModel   ErrorCode = "BACKEND_PREFIXED_MODEL"
	ErrCodeUnknownPreset          ErrorCode = "UNKNOWN_PRESET"
	ErrCodeStatisticsNotSupported ErrorCode = "STATISTICS_NOT_SUPPORTED"
	ErrCodeUnauthorized           ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimited            ErrorCode = "RATE_LIMITED"
	ErrCodeInternal               ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    ErrorCode         `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteError writes a standardized error response
func WriteError(w http.ResponseWriter, code ErrorCode, message string, statusCode int, details map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// MapError maps domain errors to HTTP responses. Validation errors carry
// the offending field in the returned details.
func MapError(err error) (ErrorCode, string, int, map[string]string) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		if verr.Field == "category" {
			return ErrCodeInvalidCategory, verr.Message, http.StatusBadRequest, nil
		}
		return ErrCodeValidationError, verr.Message, http.StatusBadRequest, map[string]string{"field": verr.Field}

	case errors.Is(err, manager.ErrModelNotFound), errors.Is(err, backends.ErrModelNotFound):
		return ErrCodeModelNotFound, "Model not found", http.StatusNotFound, nil

	case errors.Is(err, metadata.ErrMetadataNotFound):
		return ErrCodeMetadataNotFound, "Metadata not found", http.StatusNotFound, nil

	case errors.Is(err, manager.ErrReferenceUnavailable), errors.Is(err, backends.ErrUnavailable):
		return ErrCodeReferenceUnavailable, "Model reference unavailable", http.StatusServiceUnavailable, nil

	case errors.Is(err, backends.ErrReplicaMode):
		return ErrCodeReplicaMode, "Writes are only accepted by PRIMARY deployments", http.StatusServiceUnavailable, nil

	case errors.Is(err, backends.ErrReadOnly):
		return ErrCodeReadOnly, "Backend is read-only", http.StatusServiceUnavailable, nil

	case errors.Is(err, backends.ErrLegacyWritesDisabled):
		return ErrCodeLegacyWritesDisabled, "Legacy writes require canonical_format=legacy", http.StatusServiceUnavailable, nil

	case errors.Is(err, backends.ErrBackendPrefix):
		return ErrCodeBackendPrefixedModel, "Backend-prefixed text models are derived and cannot be written", http.StatusBadRequest, nil

	case errors.Is(err, analytics.ErrUnknownPreset):
		return ErrCodeUnknownPreset, err.Error(), http.StatusBadRequest, nil

	default:
		return ErrCodeInternal, "Internal server error", http.StatusInternalServerError, nil
	}
}

// WriteMappedError writes the response MapError chooses for err.
func WriteMappedError(w http.ResponseWriter, err error) {
	code, msg, status, details := MapError(err)
	WriteError(w, code, msg, status, details)
}
