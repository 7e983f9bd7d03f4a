package commands

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/haidra-org/horde-model-reference/internal/client"
	"github.com/haidra-org/horde-model-reference/internal/client/auth"
	"github.com/haidra-org/horde-model-reference/internal/client/config"
	"github.com/haidra-org/horde-model-reference/internal/client/errors"
	"github.com/haidra-org/horde-model-reference/internal/client/output"
	"github.com/haidra-org/horde-model-reference/internal/client/prompts"
)

var loginCmd = &cobra.Command{
	Use:   "login [server-url]",
	Short: "Store credentials for a PRIMARY deployment",
	Long: `Prompt for a username and password, check them against the service's
whoami endpoint and store them.

The token is kept in the system keyring on macOS and Windows and in
~/.config/hmr-ctl/credentials.yaml (0600) elsewhere. Only one server is
remembered; logging in again replaces it.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLogin,
}

func runLogin(cmd *cobra.Command, args []string) {
	store := credentialStore()

	var (
		serverURL string
		err       error
	)
	if len(args) > 0 {
		serverURL, err = config.NormalizeURL(args[0])
	} else {
		serverURL, err = config.ResolveURL(flagURL, nil)
	}
	if err != nil {
		errors.ExitWithCode(errors.ExitInvalidArguments, err.Error())
	}

	p := prompts.New()
	username, err := p.Username()
	if err != nil {
		errors.ExitWithError(err, "failed to read username")
	}
	password, err := p.Password()
	if err != nil {
		errors.ExitWithError(err, "failed to read password")
	}
	token := username + ":" + password
	if _, _, err := auth.ParseToken(token); err != nil {
		errors.ExitWithCode(errors.ExitInvalidArguments, err.Error())
	}

	c := newAPIClient(serverURL, token)
	resp, err := c.Get(cmd.Context(), client.APIPrefix+"/whoami")
	if err != nil {
		errors.ExitWithError(err, "failed to connect to server")
	}
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		errors.ExitWithCode(errors.ExitAuthError, "authentication failed: invalid credentials")
	default:
		errors.HandleHTTPError(resp.StatusCode, nil, "login failed")
	}

	if err := store.Save(serverURL, token); err != nil {
		errors.ExitWithError(err, "failed to save credentials")
	}

	if flagJSON {
		output.OutputJSON(map[string]string{"server": serverURL, "user": username}, nil)
		return
	}
	output.PrintSuccess(fmt.Sprintf("Logged in to %s as %s", serverURL, username))
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
