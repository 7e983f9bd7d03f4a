package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haidra-org/horde-model-reference/internal/analytics"
	"github.com/haidra-org/horde-model-reference/internal/client"
	"github.com/haidra-org/horde-model-reference/internal/client/errors"
	"github.com/haidra-org/horde-model-reference/internal/client/output"
	"github.com/haidra-org/horde-model-reference/internal/client/validation"
)

var (
	statsGrouped bool

	auditGrouped    bool
	auditVariations bool
	auditPreset     string
	auditSort       string
	auditOffset     int
	auditLimit      int
)

var statsCmd = &cobra.Command{
	Use:   "stats <category>",
	Short: "Show category statistics",
	Args:  cobra.ExactArgs(1),
	Run:   runStats,
}

var auditCmd = &cobra.Command{
	Use:   "audit <category>",
	Short: "Show the deletion risk audit of a category",
	Long: `Show the deletion risk audit of image_generation or text_generation,
combining the reference with live worker and usage data from the AI Horde.`,
	Args: cobra.ExactArgs(1),
	Run:  runAudit,
}

var auditPresetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the audit filter presets",
	Args:  cobra.NoArgs,
	Run:   runAuditPresets,
}

func init() {
	statsCmd.Flags().BoolVar(&statsGrouped, "grouped", false, "Group text model variants")

	auditCmd.Flags().BoolVar(&auditGrouped, "grouped", false, "Group text model variants")
	auditCmd.Flags().BoolVar(&auditVariations, "backend-variations", false, "Include per-backend usage of text models")
	auditCmd.Flags().StringVar(&auditPreset, "preset", "", "Filter preset, see 'hmr-ctl audit presets'")
	auditCmd.Flags().StringVar(&auditSort, "sort", "", "Sort field, e.g. usage_month or risk_score")
	auditCmd.Flags().IntVar(&auditOffset, "offset", 0, "Skip this many models")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 0, "Return at most this many models, 0 for all")
	auditCmd.AddCommand(auditPresetsCmd)

	rootCmd.AddCommand(statsCmd, auditCmd)
}

func runStats(cmd *cobra.Command, args []string) {
	category, err := validation.ValidateCategory(args[0])
	if err != nil {
		errors.ExitWithCode(errors.ExitInvalidArguments, err.Error())
	}

	c := getClient()
	path := client.APIPrefix + "/statistics/" + string(category) +
		query(map[string]string{"grouped": strconv.FormatBool(statsGrouped)})
	resp, err := c.Get(cmd.Context(), path)
	body := expect("get statistics", resp, err, http.StatusOK)

	var stats analytics.CategoryStatistics
	if err := json.Unmarshal(body, &stats); err != nil {
		errors.ExitWithError(err, "failed to parse response")
	}
	if flagJSON {
		output.OutputJSON(stats, nil)
		return
	}

	w := output.Stdout
	fmt.Fprintf(w, "Category:        %s\n", stats.Category)
	fmt.Fprintf(w, "Models:          %d (%d nsfw, %d sfw)\n", stats.TotalModels, stats.NSFWCount, stats.SFWCount)
	fmt.Fprintf(w, "With downloads:  %d (%d entries)\n", stats.Downloads.ModelsWithDownloads, stats.Downloads.DownloadEntries)
	if stats.Downloads.TotalSizeBytes > 0 {
		fmt.Fprintf(w, "Total size:      %.1f GB\n", float64(stats.Downloads.TotalSizeBytes)/(1<<30))
	}

	if len(stats.BaselineDistribution) > 0 {
		baselines := make([]string, 0, len(stats.BaselineDistribution))
		for b := range stats.BaselineDistribution {
			baselines = append(baselines, b)
		}
		sort.Strings(baselines)
		fmt.Fprintln(w)
		table := output.NewTableWriter()
		table.WriteHeader("BASELINE", "MODELS", "PERCENT")
		for _, b := range baselines {
			s := stats.BaselineDistribution[b]
			table.WriteRow(b, strconv.Itoa(s.Count), fmt.Sprintf("%.1f%%", s.Percentage))
		}
		table.Flush()
	}

	if len(stats.Downloads.Hosts) > 0 {
		fmt.Fprintln(w)
		table := output.NewTableWriter()
		table.WriteHeader("HOST", "DOWNLOADS")
		hosts := make([]string, 0, len(stats.Downloads.Hosts))
		for host := range stats.Downloads.Hosts {
			hosts = append(hosts, host)
		}
		sort.Strings(hosts)
		for _, host := range hosts {
			table.WriteRow(host, strconv.Itoa(stats.Downloads.Hosts[host]))
		}
		table.Flush()
	}
}

func runAudit(cmd *cobra.Command, args []string) {
	category, err := validation.ValidateCategory(args[0])
	if err != nil {
		errors.ExitWithCode(errors.ExitInvalidArguments, err.Error())
	}

	c := getClient()
	path := client.APIPrefix + "/audit/" + string(category) + query(map[string]string{
		"grouped":            strconv.FormatBool(auditGrouped),
		"backend_variations": strconv.FormatBool(auditVariations),
		"preset":             auditPreset,
		"sort":               auditSort,
		"offset":             strconv.Itoa(auditOffset),
		"limit":              strconv.Itoa(auditLimit),
	})
	resp, err := c.Get(cmd.Context(), path)
	body := expect("get audit", resp, err, http.StatusOK)

	if flagJSON {
		if err := output.PrintRawJSON(body); err != nil {
			errors.ExitWithError(err, "")
		}
		return
	}

	var audit analytics.CategoryAudit
	if err := json.Unmarshal(body, &audit); err != nil {
		errors.ExitWithError(err, "failed to parse response")
	}
	if !audit.UsageAvailable {
		output.PrintWarning("Horde usage data unavailable, usage columns are empty")
	}

	table := output.NewTableWriter()
	table.WriteHeader("MODEL", "RISK", "WORKERS", "MONTH", "SHARE", "FLAGS")
	for _, m := range audit.Models {
		risk := strconv.Itoa(m.RiskScore)
		if m.Critical {
			risk += " critical"
		}
		table.WriteRow(m.Name, risk, strconv.Itoa(m.WorkerCount),
			strconv.FormatInt(m.UsageMonth, 10), fmt.Sprintf("%.2f%%", m.UsagePercentage),
			strings.Join(flagNames(m.Flags), ","))
	}
	table.Flush()

	s := audit.Summary
	fmt.Fprintf(output.Stdout, "\n%d of %d models shown, %d at risk, %d critical\n",
		audit.ReturnedCount, audit.TotalCount, s.ModelsAtRisk, s.ModelsCritical)
}

// flagNames lists the set flags by their JSON names.
func flagNames(f analytics.RiskFlags) []string {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	var set map[string]bool
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil
	}
	var names []string
	for name, on := range set {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func runAuditPresets(cmd *cobra.Command, args []string) {
	c := getClient()
	resp, err := c.Get(cmd.Context(), client.APIPrefix+"/audit/presets")
	body := expect("list presets", resp, err, http.StatusOK)

	var presets []analytics.Preset
	if err := json.Unmarshal(body, &presets); err != nil {
		errors.ExitWithError(err, "failed to parse response")
	}
	if flagJSON {
		output.OutputJSON(presets, nil)
		return
	}
	table := output.NewTableWriter()
	table.WriteHeader("PRESET", "DESCRIPTION")
	for _, p := range presets {
		table.WriteRow(p.Name, p.Description)
	}
	table.Flush()
}
