package handlers

import (
	"log/slog"
	"net/http"

	"github.com/haidra-org/horde-model-reference/internal/apierrors"
	"github.com/haidra-org/horde-model-reference/internal/auth"
)

// WhoamiHandler handles whoami requests
type WhoamiHandler struct {
	authenticator auth.Authenticator
	logger        *slog.Logger
}

// NewWhoamiHandler creates a new whoami handler
func NewWhoamiHandler(authenticator auth.Authenticator, logger *slog.Logger) *WhoamiHandler {
	return &WhoamiHandler{
		authenticator: authenticator,
		logger:        logger,
	}
}

// WhoamiResponse represents the whoami response
type WhoamiResponse struct {
	Username string `json:"username"`
}

// GetWhoami handles GET /whoami and returns the authenticated username.
func (h *WhoamiHandler) GetWhoami(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		var err error
		user, err = h.authenticator.Authenticate(r)
		if err != nil {
			h.logger.Debug("Authentication failed for whoami", "error", err)
			w.Header().Set("WWW-Authenticate", `Basic realm="`+auth.Realm+`"`)
			apierrors.WriteError(w, apierrors.ErrCodeUnauthorized, "Unauthorized", http.StatusUnauthorized, nil)
			return
		}
	}
	writeJSON(w, h.logger, http.StatusOK, WhoamiResponse{Username: user.Username})
}
