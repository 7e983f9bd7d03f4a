// Package auth stores and resolves the credentials hmr-ctl sends to a
// PRIMARY for write operations.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("credentials not found")

const (
	keyringService  = "hmr-ctl"
	credentialsDir  = ".config/hmr-ctl"
	credentialsFile = "credentials.yaml"
)

// Credentials are the stored server URL and "user:password" token.
type Credentials struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token,omitempty"`
}

// Store keeps the credentials of a single server. With UseKeyring the token
// lives in the OS keyring under the server URL and only the URL is written
// to Path.
type Store struct {
	Path       string
	UseKeyring bool
}

// DefaultStore returns the per-user store. macOS and Windows keep the token
// in the system keyring; elsewhere it is written to a 0600 file.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return &Store{
		Path:       filepath.Join(home, credentialsDir, credentialsFile),
		UseKeyring: runtime.GOOS == "darwin" || runtime.GOOS == "windows",
	}, nil
}

func (s *Store) readFile() (*Credentials, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if creds.URL == "" {
		return nil, ErrNotFound
	}
	return &creds, nil
}

// Load returns the stored credentials. The token is empty when only a URL
// was stored.
func (s *Store) Load() (*Credentials, error) {
	creds, err := s.readFile()
	if err != nil {
		return nil, err
	}
	if !s.UseKeyring {
		return creds, nil
	}
	token, err := keyring.Get(keyringService, creds.URL)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		creds.Token = ""
	case err != nil:
		return nil, fmt.Errorf("failed to get token from keyring: %w", err)
	default:
		creds.Token = token
	}
	return creds, nil
}

// Save replaces the stored credentials.
func (s *Store) Save(url, token string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	creds := Credentials{URL: url, Token: token}
	if s.UseKeyring {
		if err := keyring.Set(keyringService, url, token); err != nil {
			return fmt.Errorf("failed to save token to keyring: %w", err)
		}
		creds.Token = ""
	}

	data, err := yaml.Marshal(&creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := os.WriteFile(s.Path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

// Delete removes the stored credentials. Deleting nothing is not an error.
func (s *Store) Delete() error {
	if s.UseKeyring {
		if creds, err := s.readFile(); err == nil {
			if err := keyring.Delete(keyringService, creds.URL); err != nil && !errors.Is(err, keyring.ErrNotFound) {
				return fmt.Errorf("failed to delete token from keyring: %w", err)
			}
		}
	}
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete credentials file: %w", err)
	}
	return nil
}
