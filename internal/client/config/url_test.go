package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haidra-org/horde-model-reference/internal/client/auth"
)

func TestNormalizeURL(t *testing.T) {
	got, err := NormalizeURL("https://models.example.org/")
	require.NoError(t, err)
	assert.Equal(t, "https://models.example.org", got)

	for _, bad := range []string{"models.example.org", "ftp://x", "http://"} {
		_, err := NormalizeURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestResolveURL(t *testing.T) {
	store := &auth.Store{Path: filepath.Join(t.TempDir(), "credentials.yaml")}
	t.Setenv(URLEnvVar, "")

	_, err := ResolveURL("", store)
	assert.ErrorContains(t, err, URLEnvVar)

	require.NoError(t, store.Save("http://stored:19800", ""))
	got, err := ResolveURL("", store)
	require.NoError(t, err)
	assert.Equal(t, "http://stored:19800", got)

	t.Setenv(URLEnvVar, "http://env:19800/")
	got, err = ResolveURL("", store)
	require.NoError(t, err)
	assert.Equal(t, "http://env:19800", got)

	got, err = ResolveURL("http://flag:19800", store)
	require.NoError(t, err)
	assert.Equal(t, "http://flag:19800", got)
}
