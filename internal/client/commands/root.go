// Package commands implements the hmr-ctl command tree.
package commands

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/haidra-org/horde-model-reference/internal/client"
	"github.com/haidra-org/horde-model-reference/internal/client/auth"
	"github.com/haidra-org/horde-model-reference/internal/client/config"
	"github.com/haidra-org/horde-model-reference/internal/client/errors"
)

// Version is set at build time.
var Version = "dev"

var (
	flagURL     string
	flagToken   string
	flagJSON    bool
	flagVerbose bool
	flagTimeout time.Duration
	flagYes     bool
)

var rootCmd = &cobra.Command{
	Use:   "hmr-ctl",
	Short: "Horde model reference CLI client",
	Long: `hmr-ctl reads the AI Horde model reference from a running service and
manages its models on a PRIMARY deployment.`,
	Version: Version,
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	rootCmd.Version = Version
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagURL, "url", "", "Service URL (or "+config.URLEnvVar+")")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "Credentials in 'user:password' format (or "+auth.TokenEnvVar+")")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Print requests to stderr")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "HTTP request timeout")
	rootCmd.PersistentFlags().BoolVarP(&flagYes, "yes", "y", false, "Skip confirmation prompts")
	rootCmd.SetVersionTemplate("hmr-ctl {{.Version}}\n")
}

func credentialStore() *auth.Store {
	store, err := auth.DefaultStore()
	if err != nil {
		errors.ExitWithError(err, "failed to locate credentials")
	}
	return store
}

// getClient resolves the URL and credentials. Credentials are always sent
// when available; the service decides whether it needs them.
func getClient() *client.Client {
	store := credentialStore()
	serverURL, err := config.ResolveURL(flagURL, store)
	if err != nil {
		errors.ExitWithCode(errors.ExitInvalidArguments, err.Error())
	}
	token, err := auth.ResolveToken(flagToken, store)
	if err != nil {
		errors.ExitWithError(err, "failed to resolve authentication token")
	}
	if token != "" {
		if _, _, err := auth.ParseToken(token); err != nil {
			errors.ExitWithCode(errors.ExitInvalidArguments, err.Error())
		}
	}
	return newAPIClient(serverURL, token)
}

func newAPIClient(serverURL, token string) *client.Client {
	c := client.NewClient(serverURL, auth.EncodeBasic(token), flagTimeout, flagVerbose)
	c.UserAgent = "hmr-ctl/" + Version
	return c
}

// expect reads the body of a response and exits unless its status is one
// of want.
func expect(action string, resp *http.Response, err error, want ...int) []byte {
	if err != nil {
		errors.ExitWithError(err, "failed to "+action)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		errors.ExitWithError(err, "failed to read response")
	}
	if !slices.Contains(want, resp.StatusCode) {
		errors.HandleHTTPError(resp.StatusCode, body, "failed to "+action)
	}
	return body
}

// modelPath is the API path of one model; names may contain "/".
func modelPath(category string, model string, legacy bool) string {
	base := client.V2CategoryPath(category)
	if legacy {
		base = client.V1CategoryPath(category)
	}
	return base + "/" + url.PathEscape(model)
}

func query(values map[string]string) string {
	q := url.Values{}
	for k, v := range values {
		if v != "" && v != "false" && v != "0" {
			q.Set(k, v)
		}
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}
