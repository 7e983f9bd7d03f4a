package auth

import (
	"net/http"
)

// NoAuth accepts every request as the anonymous user.
type NoAuth struct{}

// NewNoAuth creates a new NoAuth authenticator
func NewNoAuth() *NoAuth {
	return &NoAuth{}
}

func (a *NoAuth) Authenticate(*http.Request) (*User, error) {
	return &User{Username: "anonymous"}, nil
}
