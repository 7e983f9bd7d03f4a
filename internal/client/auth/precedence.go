package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
)

// TokenEnvVar holds a "user:password" token.
const TokenEnvVar = "HMR_CTL_TOKEN"

// ResolveToken picks the token from, in order, the --token flag,
// HMR_CTL_TOKEN and the store. No token at all yields "".
func ResolveToken(flagToken string, store *Store) (string, error) {
	if flagToken != "" {
		return flagToken, nil
	}
	if env := os.Getenv(TokenEnvVar); env != "" {
		return env, nil
	}
	if store == nil {
		return "", nil
	}
	creds, err := store.Load()
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load stored token: %w", err)
	}
	return creds.Token, nil
}

// ParseToken splits a "user:password" token.
func ParseToken(token string) (user, password string, err error) {
	user, password, ok := strings.Cut(token, ":")
	if !ok || user == "" {
		return "", "", errors.New("token must be in 'user:password' format")
	}
	return user, password, nil
}

// EncodeBasic returns the value of a Basic Authorization header for token,
// or "" for an empty token.
func EncodeBasic(token string) string {
	if token == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(token))
}
