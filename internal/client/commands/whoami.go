package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/haidra-org/horde-model-reference/internal/client"
	"github.com/haidra-org/horde-model-reference/internal/client/errors"
	"github.com/haidra-org/horde-model-reference/internal/client/output"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show who the service thinks you are",
	Long: `Call the service's whoami endpoint with the resolved credentials.

URL: --url > HMR_CTL_URL > stored URL
Token: --token > HMR_CTL_TOKEN > stored token`,
	Args: cobra.NoArgs,
	Run:  runWhoami,
}

func runWhoami(cmd *cobra.Command, args []string) {
	c := getClient()
	resp, err := c.Get(cmd.Context(), client.APIPrefix+"/whoami")
	if err != nil {
		errors.ExitWithError(err, "failed to connect to server")
	}
	defer resp.Body.Close()

	authenticated := resp.StatusCode == http.StatusOK
	var who struct {
		Username string `json:"username"`
	}
	if authenticated {
		body, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(body, &who) != nil || who.Username == "" {
			who.Username = "(username unknown)"
		}
	}

	if flagJSON {
		output.OutputJSON(map[string]any{
			"server":        c.BaseURL,
			"authenticated": authenticated,
			"username":      who.Username,
		}, nil)
	} else {
		switch {
		case authenticated:
			output.PrintSuccess(fmt.Sprintf("Authenticated to %s as %s", c.BaseURL, who.Username))
		case resp.StatusCode == http.StatusUnauthorized:
			output.PrintError(fmt.Sprintf("Not authenticated to %s", c.BaseURL))
			fmt.Fprintln(output.Stderr, "Run 'hmr-ctl login' to authenticate")
		default:
			output.PrintError(fmt.Sprintf("Server returned status %d", resp.StatusCode))
		}
	}

	if !authenticated {
		errors.ExitWithCode(errors.ExitAuthError, "")
	}
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}
