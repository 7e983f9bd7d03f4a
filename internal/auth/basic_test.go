package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestUsersFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestBasicAuth_Authenticate(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	path := newTestUsersFile(t, "users:\n  - username: curator\n    password: \""+hash+"\"\n")

	a, err := NewBasicAuth(path, newTestLogger())
	require.NoError(t, err)

	tests := []struct {
		name     string
		user     string
		password string
		wantErr  bool
	}{
		{name: "valid", user: "curator", password: "s3cret"},
		{name: "wrong password", user: "curator", password: "nope", wantErr: true},
		{name: "unknown user", user: "ghost", password: "s3cret", wantErr: true},
		{name: "no credentials", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.password)
			}
			u, err := a.Authenticate(req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCredentials)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "curator", u.Username)
		})
	}
}

func TestNewBasicAuth_InvalidFiles(t *testing.T) {
	_, err := NewBasicAuth(filepath.Join(t.TempDir(), "missing.yaml"), newTestLogger())
	assert.ErrorContains(t, err, "failed to read users file")

	_, err = NewBasicAuth(newTestUsersFile(t, "users: [\n"), newTestLogger())
	assert.ErrorContains(t, err, "invalid YAML")

	_, err = NewBasicAuth(newTestUsersFile(t, "users:\n  - username: a\n"), newTestLogger())
	assert.ErrorContains(t, err, "without username or password")

	_, err = NewBasicAuth(newTestUsersFile(t, "users:\n  - {username: a, password: plaintext}\n"), newTestLogger())
	assert.ErrorContains(t, err, "not a bcrypt hash")

	hash, err := HashPassword("pw")
	require.NoError(t, err)
	dup := "users:\n  - {username: a, password: \"" + hash + "\"}\n  - {username: a, password: \"" + hash + "\"}\n"
	_, err = NewBasicAuth(newTestUsersFile(t, dup), newTestLogger())
	assert.ErrorContains(t, err, "duplicate user")
}

func TestBasicAuth_Reload(t *testing.T) {
	oldHash, err := HashPassword("old")
	require.NoError(t, err)
	newHash, err := HashPassword("new")
	require.NoError(t, err)

	path := newTestUsersFile(t, "users:\n  - {username: curator, password: \""+oldHash+"\"}\n")
	a, err := NewBasicAuth(path, newTestLogger())
	require.NoError(t, err)

	login := func(password string) error {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.SetBasicAuth("curator", password)
		_, err := a.Authenticate(req)
		return err
	}
	require.NoError(t, login("old"))

	users := "users:\n  - {username: curator, password: \"" + newHash + "\"}\n  - {username: second, password: \"" + newHash + "\"}\n"
	require.NoError(t, os.WriteFile(path, []byte(users), 0o600))
	require.NoError(t, a.Reload())
	assert.ErrorIs(t, login("old"), ErrInvalidCredentials)
	assert.NoError(t, login("new"))
	assert.Equal(t, 2, a.UserCount())

	// a broken file keeps the previous users
	require.NoError(t, os.WriteFile(path, []byte("users: [\n"), 0o600))
	assert.Error(t, a.Reload())
	assert.NoError(t, login("new"))
}

func TestNew(t *testing.T) {
	a, err := New("none", "", newTestLogger())
	require.NoError(t, err)
	u, err := a.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, "anonymous", u.Username)

	_, err = New("oauth", "", newTestLogger())
	assert.ErrorContains(t, err, "unsupported auth type")
}

func TestUserContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := UserFromContext(req.Context())
	assert.False(t, ok)

	ctx := WithUser(req.Context(), &User{Username: "curator"})
	u, ok := UserFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "curator", u.Username)
}
