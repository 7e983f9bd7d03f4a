package commands

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/haidra-org/horde-model-reference/internal/client"
	"github.com/haidra-org/horde-model-reference/internal/client/errors"
	"github.com/haidra-org/horde-model-reference/internal/client/output"
	"github.com/haidra-org/horde-model-reference/internal/client/validation"
)

var metadataCmd = &cobra.Command{
	Use:   "metadata <v2|legacy> [category]",
	Short: "Print per-model creation and update metadata",
	Long: `Print the metadata ledger of a PRIMARY: who created and last updated each
model, and when. Without a category every category of the ledger is printed.`,
	Args: cobra.RangeArgs(1, 2),
	Run:  runMetadata,
}

func init() {
	rootCmd.AddCommand(metadataCmd)
}

func runMetadata(cmd *cobra.Command, args []string) {
	ledger, err := validation.ValidateLedger(args[0])
	if err != nil {
		errors.ExitWithCode(errors.ExitInvalidArguments, err.Error())
	}
	path := client.APIPrefix + "/metadata/" + string(ledger)
	if len(args) == 2 {
		category, err := validation.ValidateCategory(args[1])
		if err != nil {
			errors.ExitWithCode(errors.ExitInvalidArguments, err.Error())
		}
		path += "/" + string(category)
	}

	c := getClient()
	resp, err := c.Get(cmd.Context(), path)
	body := expect("get metadata", resp, err, http.StatusOK)
	if err := output.PrintRawJSON(body); err != nil {
		errors.ExitWithError(err, "")
	}
}
