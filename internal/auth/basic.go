package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// UserConfig is one entry of the users file.
type UserConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"` // bcrypt hash
}

// UsersFile is the structure of users.yaml.
type UsersFile struct {
	Users []UserConfig `yaml:"users"`
}

// BasicAuth checks HTTP Basic credentials of curators against a bcrypt
// users file. The file can be re-read at runtime with Reload.
type BasicAuth struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	users map[string][]byte
}

// NewBasicAuth loads usersFile and returns a BasicAuth authenticator.
func NewBasicAuth(usersFile string, logger *slog.Logger) (*BasicAuth, error) {
	users, err := loadUsers(usersFile)
	if err != nil {
		return nil, err
	}

	logger.Info("Basic auth initialized",
		"users_file", usersFile,
		"user_count", len(users))

	return &BasicAuth{path: usersFile, logger: logger, users: users}, nil
}

// loadUsers parses a users file. Every entry needs a username and a
// well-formed bcrypt hash; plaintext passwords are rejected.
func loadUsers(path string) (map[string][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}

	var parsed UsersFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse users file (invalid YAML syntax): %w", err)
	}

	users := make(map[string][]byte, len(parsed.Users))
	for _, u := range parsed.Users {
		if u.Username == "" || u.Password == "" {
			return nil, fmt.Errorf("users file entry without username or password hash")
		}
		if _, dup := users[u.Username]; dup {
			return nil, fmt.Errorf("duplicate user %q in users file", u.Username)
		}
		if _, err := bcrypt.Cost([]byte(u.Password)); err != nil {
			return nil, fmt.Errorf("user %q: password is not a bcrypt hash (use 'hmr-server auth hash-password')", u.Username)
		}
		users[u.Username] = []byte(u.Password)
	}
	return users, nil
}

// Reload re-reads the users file. On error the current users stay active.
func (a *BasicAuth) Reload() error {
	users, err := loadUsers(a.path)
	if err != nil {
		a.logger.Error("Users file reload failed, keeping previous users",
			"users_file", a.path,
			"error", err)
		return err
	}

	a.mu.Lock()
	a.users = users
	a.mu.Unlock()

	a.logger.Info("Users file reloaded",
		"users_file", a.path,
		"user_count", len(users))
	return nil
}

// UserCount returns the number of configured users.
func (a *BasicAuth) UserCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.users)
}

// Authenticate validates HTTP Basic Auth credentials
func (a *BasicAuth) Authenticate(r *http.Request) (*User, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, fmt.Errorf("%w: missing basic auth credentials", ErrInvalidCredentials)
	}

	a.mu.RLock()
	hashed, exists := a.users[username]
	a.mu.RUnlock()

	if !exists {
		a.logger.Warn("Authentication failed: user not found",
			"username", username,
			"source_ip", r.RemoteAddr)
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(hashed, []byte(password)); err != nil {
		a.logger.Warn("Authentication failed: invalid password",
			"username", username,
			"source_ip", r.RemoteAddr)
		return nil, ErrInvalidCredentials
	}

	a.logger.Debug("Authentication successful",
		"username", username,
		"source_ip", r.RemoteAddr)

	return &User{Username: username}, nil
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
