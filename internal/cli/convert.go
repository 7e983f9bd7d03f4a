package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haidra-org/horde-model-reference/internal/legacy"
	"github.com/haidra-org/horde-model-reference/internal/models"
)

var (
	convertDryRun bool
	convertDebug  bool
)

// ConvertCmd converts legacy category files on disk into v2 documents.
var ConvertCmd = &cobra.Command{
	Use:   "convert [category...]",
	Short: "Convert legacy reference files to the v2 format",
	Long: `Convert the legacy files under base_path/legacy into v2 category files.
Without arguments every category with a legacy file is converted. A category
is written only when its conversion has no fatal issue.`,
	RunE: runConvert,
}

func init() {
	ConvertCmd.Flags().BoolVar(&convertDryRun, "dry-run", false, "Convert without writing any file")
	ConvertCmd.Flags().BoolVar(&convertDebug, "debug", false, "Write validation logs next to the legacy files")
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	categories, err := categoryArgs(args)
	if err != nil {
		return err
	}

	conv := legacy.NewConverter(legacy.Options{
		Layout:          cfg.Layout(),
		ShowcaseURLBase: cfg.BackendOptions().Repos.ShowcaseURLBase(),
		Debug:           convertDebug,
		DryRun:          convertDryRun,
		Logger:          logger,
	})

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tMODELS\tISSUES\tWRITTEN")
	var failed int
	for _, c := range categories {
		res, err := conv.Convert(c)
		if err != nil {
			failed++
			logger.Error("Conversion failed", "category", c, "error", err)
			fmt.Fprintf(tw, "%s\t-\t-\tfailed: %v\n", c, err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%t\n", c, len(res.Records), res.Issues.Total(), res.Written)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d categories failed to convert", failed, len(categories))
	}
	return nil
}

// categoryArgs parses category arguments; none selects every category.
func categoryArgs(args []string) ([]models.Category, error) {
	if len(args) == 0 {
		return models.AllCategories, nil
	}
	categories := make([]models.Category, 0, len(args))
	for _, arg := range args {
		c, err := models.ParseCategory(arg)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, nil
}
