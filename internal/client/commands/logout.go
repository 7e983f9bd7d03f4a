package commands

import (
	"github.com/spf13/cobra"

	"github.com/haidra-org/horde-model-reference/internal/client/errors"
	"github.com/haidra-org/horde-model-reference/internal/client/output"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	Long:  `Remove the stored server URL and token. Succeeds when nothing is stored.`,
	Args:  cobra.NoArgs,
	Run:   runLogout,
}

func runLogout(cmd *cobra.Command, args []string) {
	if err := credentialStore().Delete(); err != nil {
		errors.ExitWithError(err, "failed to remove credentials")
	}

	if flagJSON {
		output.OutputJSON(map[string]bool{"logged_out": true}, nil)
		return
	}
	output.PrintSuccess("Logged out")
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
