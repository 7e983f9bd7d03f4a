package middleware

import (
	"log/slog"
	"net/http"

	"github.com/haidra-org/horde-model-reference/internal/apierrors"
	"github.com/haidra-org/horde-model-reference/internal/auth"
	"github.com/haidra-org/horde-model-reference/internal/metadata"
)

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+auth.Realm+`"`)
	apierrors.WriteError(w, apierrors.ErrCodeUnauthorized, "Unauthorized", http.StatusUnauthorized, nil)
}

// RequireAuth authenticates write requests. The user becomes the actor
// recorded in model metadata. Reads pass through unauthenticated.
func RequireAuth(authenticator auth.Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isWrite(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			user, err := authenticator.Authenticate(r)
			if err != nil {
				logger.Debug("Write rejected", "method", r.Method, "endpoint", r.URL.Path, "error", err)
				unauthorized(w)
				return
			}
			ctx := auth.WithUser(r.Context(), user)
			ctx = metadata.WithActor(ctx, user.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticated authenticates every request.
func Authenticated(authenticator auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := authenticator.Authenticate(r)
			if err != nil {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
		})
	}
}
