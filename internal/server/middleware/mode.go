package middleware

import (
	"net/http"

	"github.com/haidra-org/horde-model-reference/internal/apierrors"
	"github.com/haidra-org/horde-model-reference/internal/backends"
)

// RequirePrimary rejects writes when the deployment is not PRIMARY.
func RequirePrimary(mode backends.ReplicateMode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isWrite(r.Method) && mode != backends.ModePrimary {
				apierrors.WriteMappedError(w, backends.ErrReplicaMode)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
