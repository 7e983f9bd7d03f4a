package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/haidra-org/horde-model-reference/internal/client"
	"github.com/haidra-org/horde-model-reference/internal/client/errors"
	"github.com/haidra-org/horde-model-reference/internal/client/output"
	"github.com/haidra-org/horde-model-reference/internal/client/prompts"
	"github.com/haidra-org/horde-model-reference/internal/client/validation"
	"github.com/haidra-org/horde-model-reference/internal/models"
)

var (
	modelLegacy bool
	modelFile   string
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Read and manage single models",
	Long: `Read single model records, and create, replace or delete them on a
PRIMARY deployment. With --legacy the legacy record format is used, which the
service only accepts when its canonical format is legacy.`,
}

var modelGetCmd = &cobra.Command{
	Use:   "get <category> <model>",
	Short: "Print a model record",
	Args:  cobra.ExactArgs(2),
	Run:   runModelGet,
}

var modelCreateCmd = &cobra.Command{
	Use:   "create <category> <model> -f <file|->",
	Short: "Create a model from a JSON record",
	Args:  cobra.ExactArgs(2),
	Run:   runModelCreate,
}

var modelUpdateCmd = &cobra.Command{
	Use:   "update <category> <model> -f <file|->",
	Short: "Replace an existing model with a JSON record",
	Args:  cobra.ExactArgs(2),
	Run:   runModelUpdate,
}

var modelDeleteCmd = &cobra.Command{
	Use:   "delete <category> <model>",
	Short: "Delete a model",
	Args:  cobra.ExactArgs(2),
	Run:   runModelDelete,
}

func init() {
	modelCmd.PersistentFlags().BoolVar(&modelLegacy, "legacy", false, "Use the legacy record format")
	for _, c := range []*cobra.Command{modelCreateCmd, modelUpdateCmd} {
		c.Flags().StringVarP(&modelFile, "file", "f", "", "JSON record to send, - for stdin")
		c.MarkFlagRequired("file")
	}
	modelCmd.AddCommand(modelGetCmd, modelCreateCmd, modelUpdateCmd, modelDeleteCmd)
	rootCmd.AddCommand(modelCmd)
}

func modelArgs(args []string) (models.Category, string) {
	category, err := validation.ValidateCategory(args[0])
	if err != nil {
		errors.ExitWithCode(errors.ExitInvalidArguments, err.Error())
	}
	if err := models.ValidateModelName(args[1]); err != nil {
		errors.ExitWithCode(errors.ExitInvalidArguments, err.Error())
	}
	return category, args[1]
}

func runModelGet(cmd *cobra.Command, args []string) {
	category, name := modelArgs(args)
	c := getClient()
	resp, err := c.Get(cmd.Context(), modelPath(string(category), name, modelLegacy))
	body := expect(fmt.Sprintf("get model %q", name), resp, err, http.StatusOK)

	if err := output.PrintRawJSON(body); err != nil {
		errors.ExitWithError(err, "")
	}
}

func readRecord(name string) json.RawMessage {
	raw, err := validation.ReadModelDocument(modelFile, os.Stdin)
	if err != nil {
		errors.ExitWithCode(errors.ExitInvalidArguments, err.Error())
	}
	raw, err = validation.WithName(raw, name)
	if err != nil {
		errors.ExitWithCode(errors.ExitInvalidArguments, err.Error())
	}
	return raw
}

func runModelCreate(cmd *cobra.Command, args []string) {
	category, name := modelArgs(args)
	raw := readRecord(name)

	path := client.V2CategoryPath(string(category))
	if modelLegacy {
		path = client.V1CategoryPath(string(category))
	}
	c := getClient()
	resp, err := c.Post(cmd.Context(), path, raw)
	expect(fmt.Sprintf("create model %q", name), resp, err, http.StatusCreated)

	if flagJSON {
		output.OutputJSON(map[string]string{"category": string(category), "model": name}, nil)
		return
	}
	output.PrintSuccess(fmt.Sprintf("Created model '%s' in %s", name, category))
}

func runModelUpdate(cmd *cobra.Command, args []string) {
	category, name := modelArgs(args)
	raw := readRecord(name)

	c := getClient()
	resp, err := c.Put(cmd.Context(), modelPath(string(category), name, modelLegacy), raw)
	expect(fmt.Sprintf("update model %q", name), resp, err, http.StatusOK)

	if flagJSON {
		output.OutputJSON(map[string]string{"category": string(category), "model": name}, nil)
		return
	}
	output.PrintSuccess(fmt.Sprintf("Updated model '%s' in %s", name, category))
}

func runModelDelete(cmd *cobra.Command, args []string) {
	category, name := modelArgs(args)
	c := getClient()

	if !flagYes && !prompts.New().ConfirmDeletion(string(category), name) {
		fmt.Fprintln(output.Stdout, "Deletion cancelled")
		return
	}

	resp, err := c.Delete(cmd.Context(), modelPath(string(category), name, modelLegacy))
	expect(fmt.Sprintf("delete model %q", name), resp, err, http.StatusNoContent, http.StatusOK)

	if flagJSON {
		output.OutputJSON(map[string]bool{"deleted": true}, nil)
		return
	}
	output.PrintSuccess(fmt.Sprintf("Deleted model '%s' from %s", name, category))
}
