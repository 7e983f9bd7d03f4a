// Package config resolves which model reference service hmr-ctl talks to.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/haidra-org/horde-model-reference/internal/client/auth"
)

// URLEnvVar names the service URL when --url is not given.
const URLEnvVar = "HMR_CTL_URL"

// ResolveURL picks the service URL from, in order, the --url flag,
// HMR_CTL_URL and the store.
func ResolveURL(flagURL string, store *auth.Store) (string, error) {
	if flagURL != "" {
		return NormalizeURL(flagURL)
	}
	if env := os.Getenv(URLEnvVar); env != "" {
		return NormalizeURL(env)
	}
	if store != nil {
		if creds, err := store.Load(); err == nil {
			return NormalizeURL(creds.URL)
		}
	}
	return "", fmt.Errorf("no server URL configured. Use --url, %s or run 'hmr-ctl login'", URLEnvVar)
}

// NormalizeURL checks that raw is an http(s) URL and strips trailing slashes.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: must be http:// or https://", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}
