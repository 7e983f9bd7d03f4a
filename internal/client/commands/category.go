package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/haidra-org/horde-model-reference/internal/client"
	"github.com/haidra-org/horde-model-reference/internal/client/errors"
	"github.com/haidra-org/horde-model-reference/internal/client/output"
	"github.com/haidra-org/horde-model-reference/internal/client/validation"
)

var (
	catLegacy  bool
	catRefresh bool
)

var categoryCmd = &cobra.Command{
	Use:     "category",
	Aliases: []string{"cat"},
	Short:   "Read category documents",
}

var categoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List categories with their availability and model count",
	Args:  cobra.NoArgs,
	Run:   runCategoryList,
}

var categoryGetCmd = &cobra.Command{
	Use:   "get <category>",
	Short: "Print a category document",
	Args:  cobra.ExactArgs(1),
	Run:   runCategoryGet,
}

var categoryNamesCmd = &cobra.Command{
	Use:   "names <category>",
	Short: "List the model names of a category",
	Args:  cobra.ExactArgs(1),
	Run:   runCategoryNames,
}

func init() {
	categoryCmd.AddCommand(categoryListCmd, categoryGetCmd, categoryNamesCmd)

	categoryListCmd.Flags().BoolVar(&catRefresh, "refresh", false, "Ask the service to refresh its cache first")
	categoryGetCmd.Flags().BoolVar(&catLegacy, "legacy", false, "Print the legacy document instead of v2")
	categoryGetCmd.Flags().BoolVar(&catRefresh, "refresh", false, "Ask the service to refresh its cache first")

	rootCmd.AddCommand(categoryCmd)
}

func runCategoryList(cmd *cobra.Command, args []string) {
	c := getClient()
	resp, err := c.Get(cmd.Context(), client.APIPrefix+"/v2"+query(map[string]string{"refresh": strconv.FormatBool(catRefresh)}))
	body := expect("list categories", resp, err, http.StatusOK)

	var categories []struct {
		Category  string `json:"category"`
		Available bool   `json:"available"`
		Models    int    `json:"models"`
	}
	if err := json.Unmarshal(body, &categories); err != nil {
		errors.ExitWithError(err, "failed to parse response")
	}

	if flagJSON {
		output.OutputJSON(categories, nil)
		return
	}
	table := output.NewTableWriter()
	table.WriteHeader("CATEGORY", "AVAILABLE", "MODELS")
	for _, cat := range categories {
		table.WriteRow(cat.Category, strconv.FormatBool(cat.Available), strconv.Itoa(cat.Models))
	}
	table.Flush()
}

func runCategoryGet(cmd *cobra.Command, args []string) {
	category, err := validation.ValidateCategory(args[0])
	if err != nil {
		errors.ExitWithCode(errors.ExitInvalidArguments, err.Error())
	}

	path := client.V2CategoryPath(string(category))
	if catLegacy {
		path = client.V1CategoryPath(string(category))
	}
	c := getClient()
	resp, err := c.Get(cmd.Context(), path+query(map[string]string{"refresh": strconv.FormatBool(catRefresh)}))
	body := expect(fmt.Sprintf("get %s", category), resp, err, http.StatusOK)

	if err := output.PrintRawJSON(body); err != nil {
		errors.ExitWithError(err, "")
	}
}

func runCategoryNames(cmd *cobra.Command, args []string) {
	category, err := validation.ValidateCategory(args[0])
	if err != nil {
		errors.ExitWithCode(errors.ExitInvalidArguments, err.Error())
	}

	c := getClient()
	resp, err := c.Get(cmd.Context(), client.V2CategoryPath(string(category))+"/names")
	body := expect(fmt.Sprintf("list %s models", category), resp, err, http.StatusOK)

	var names []string
	if err := json.Unmarshal(body, &names); err != nil {
		errors.ExitWithError(err, "failed to parse response")
	}
	if flagJSON {
		output.OutputJSON(names, nil)
		return
	}
	if len(names) == 0 {
		fmt.Fprintf(output.Stdout, "No models in %s\n", category)
		return
	}
	for _, n := range names {
		fmt.Fprintln(output.Stdout, n)
	}
}
