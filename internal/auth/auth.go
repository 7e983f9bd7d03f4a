package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Realm is announced in WWW-Authenticate challenges.
const Realm = "Horde Model Reference"

// ErrInvalidCredentials is returned for missing or wrong credentials.
var ErrInvalidCredentials = errors.New("invalid credentials")

// User represents an authenticated user
type User struct {
	Username string
}

// Authenticator defines the authentication interface
type Authenticator interface {
	// Authenticate validates request credentials and returns user info
	Authenticate(r *http.Request) (*User, error)
}

type userKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user stored by WithUser.
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userKey{}).(*User)
	return u, ok
}

// New builds the authenticator for auth.type.
func New(authType, usersFile string, logger *slog.Logger) (Authenticator, error) {
	switch authType {
	case "", "none":
		logger.Info("Authentication disabled (auth.type=none)")
		return NewNoAuth(), nil
	case "basic":
		return NewBasicAuth(usersFile, logger)
	default:
		return nil, fmt.Errorf("unsupported auth type %q", authType)
	}
}
