package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/haidra-org/horde-model-reference/internal/backends"
	"github.com/haidra-org/horde-model-reference/internal/client"
	"github.com/haidra-org/horde-model-reference/internal/config"
)

func newTestRoot(run func(cmd *cobra.Command) error) *cobra.Command {
	configFile = ""
	root := &cobra.Command{Use: "hmr-server", SilenceUsage: true, SilenceErrors: true}
	AddConfigFlags(root)
	root.AddCommand(&cobra.Command{
		Use:  "inspect",
		RunE: func(cmd *cobra.Command, args []string) error { return run(cmd) },
	})
	return root
}

func TestLoadConfig_FlagsOverrideEnvironment(t *testing.T) {
	base := t.TempDir()
	t.Setenv(config.EnvPrefix+"_REPLICATE_MODE", "REPLICA")
	t.Setenv(config.EnvPrefix+"_LOGGING_LEVEL", "error")

	var cfg *config.Config
	root := newTestRoot(func(cmd *cobra.Command) error {
		var err error
		cfg, _, err = loadConfig(cmd)
		return err
	})
	root.SetArgs([]string{"inspect", "--mode", "primary", "--base-path", base})
	require.NoError(t, root.Execute())

	assert.Equal(t, "PRIMARY", cfg.ReplicateMode)
	assert.Equal(t, base, cfg.BasePath)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestLoadConfig_ConfigFileFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hmr.yaml")
	require.NoError(t, os.WriteFile(path, []byte("canonical_format: LEGACY\nreplicate_mode: PRIMARY\n"), 0o600))
	t.Setenv(ConfigFileEnvVar, path)

	var cfg *config.Config
	root := newTestRoot(func(cmd *cobra.Command) error {
		var err error
		cfg, _, err = loadConfig(cmd)
		return err
	})
	root.SetArgs([]string{"inspect", "--log-level", "error"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "legacy", cfg.CanonicalFormat)
}

func TestLoadConfig_Invalid(t *testing.T) {
	root := newTestRoot(func(cmd *cobra.Command) error {
		_, _, err := loadConfig(cmd)
		return err
	})
	root.SetArgs([]string{"inspect", "--mode", "mirror", "--log-level", "error"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replicate_mode")
}

func TestHashPassword_Stdin(t *testing.T) {
	var out bytes.Buffer
	hashFromStdin = true
	t.Cleanup(func() { hashFromStdin = false })
	hashPasswordCmd.SetIn(strings.NewReader("s3cret\n"))
	hashPasswordCmd.SetOut(&out)

	require.NoError(t, runHashPassword(hashPasswordCmd, nil))
	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))

	hashPasswordCmd.SetIn(strings.NewReader("\n"))
	assert.Error(t, runHashPassword(hashPasswordCmd, nil))
}

func TestSync_ExportsDriftedCategory(t *testing.T) {
	const x4 = `"RealESRGAN_x4plus":{"name":"RealESRGAN_x4plus","type":"ESRGAN"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == client.V1CategoryPath("esrgan"):
			w.Write([]byte(`{` + x4 + `,"RealESRGAN_x2plus":{"name":"RealESRGAN_x2plus","type":"ESRGAN"}}`))
		case strings.HasSuffix(r.URL.Path, "/esrgan.json"):
			w.Write([]byte(`{` + x4 + `}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	t.Setenv(config.EnvPrefix+"_GITHUB_PROXY_URL_BASE", srv.URL)
	t.Cleanup(func() { syncDryRun = false })

	out := t.TempDir()
	var stdout bytes.Buffer
	configFile = ""
	root := &cobra.Command{Use: "hmr-server", SilenceUsage: true, SilenceErrors: true}
	AddConfigFlags(root)
	root.AddCommand(SyncCmd)
	root.SetOut(&stdout)
	root.SetArgs([]string{"sync", "esrgan", "--primary-url", srv.URL, "--output", out, "--log-level", "error"})
	require.NoError(t, root.Execute())

	assert.Contains(t, stdout.String(), "+ RealESRGAN_x2plus")
	assert.Contains(t, stdout.String(), "Total changes: 1")

	exported := filepath.Join(out, backends.DefaultGitHubRepos.ImageRepo, "esrgan.json")
	assert.Contains(t, stdout.String(), "Wrote "+exported)
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Contains(t, string(data), "RealESRGAN_x2plus")
}
