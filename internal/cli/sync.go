package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haidra-org/horde-model-reference/internal/config"
	"github.com/haidra-org/horde-model-reference/internal/models"
	"github.com/haidra-org/horde-model-reference/internal/refsync"
)

var syncDryRun bool

// SyncCmd compares a PRIMARY with the GitHub legacy repositories.
var SyncCmd = &cobra.Command{
	Use:   "sync [category...]",
	Short: "Compare a PRIMARY with the GitHub legacy repositories",
	Long: `Fetch the legacy documents a PRIMARY serves on its v1 API and the copies in
the GitHub legacy repositories, and report the added, removed and modified
models per category. Unless --dry-run is set, the PRIMARY documents of the
categories with at least sync.min_changes_threshold changes are written to
sync.output_dir in the layout of the legacy repositories.`,
	RunE: runSync,
}

// SyncWatchCmd re-runs the sync whenever the PRIMARY's ledgers move.
var SyncWatchCmd = &cobra.Command{
	Use:   "watch [category...]",
	Short: "Sync whenever the PRIMARY reports a legacy change",
	Long: `Poll the v1 metadata last_updated endpoint of the PRIMARY and run a sync each
time the timestamp advances. The watch stops on SIGINT or SIGTERM, or after
ten consecutive failed polls.`,
	RunE: runSyncWatch,
}

func init() {
	SyncCmd.PersistentFlags().BoolVar(&syncDryRun, "dry-run", false, "Report differences without writing any file")
	SyncCmd.PersistentFlags().String("primary-url", "", "Base URL of the PRIMARY (defaults to primary_api.url)")
	SyncCmd.PersistentFlags().String("output", "", "Directory receiving the exported documents")
	SyncCmd.PersistentFlags().Int("min-changes", 0, "Smallest number of changes that exports a category")
	flagBinding["primary-url"] = "sync.primary_url"
	flagBinding["output"] = "sync.output_dir"
	flagBinding["min-changes"] = "sync.min_changes_threshold"

	SyncCmd.AddCommand(SyncWatchCmd)
}

func newSyncer(cfg *config.Config, logger *slog.Logger) (*refsync.Syncer, *refsync.PrimarySource, error) {
	url := cfg.Sync.PrimaryURL
	if url == "" {
		url = cfg.PrimaryAPI.URL
	}
	if url == "" {
		return nil, nil, errors.New("sync needs a PRIMARY: set sync.primary_url or --primary-url")
	}
	timeout := time.Duration(cfg.Sync.TimeoutSeconds) * time.Second
	repos := cfg.BackendOptions().Repos
	primary := refsync.NewPrimarySource(url, timeout)
	s := refsync.New(refsync.Options{
		Primary:    primary,
		GitHub:     refsync.NewGitHubSource(repos, nil, timeout),
		Repos:      repos,
		OutputDir:  cfg.Sync.OutputDir,
		MinChanges: cfg.Sync.MinChangesThreshold,
		Logger:     logger,
	})
	logger.Info("Sync configured",
		"primary_url", url,
		"output_dir", cfg.Sync.OutputDir,
		"min_changes", cfg.Sync.MinChangesThreshold,
		"dry_run", syncDryRun)
	return s, primary, nil
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	categories, err := categoryArgs(args)
	if err != nil {
		return err
	}
	s, _, err := newSyncer(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return syncOnce(ctx, cmd.OutOrStdout(), s, categories, cfg.Sync.OutputDir)
}

func runSyncWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	categories, err := categoryArgs(args)
	if err != nil {
		return err
	}
	s, primary, err := newSyncer(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	return refsync.Watch(ctx, primary.LastUpdated, func(ctx context.Context) error {
		return syncOnce(ctx, out, s, categories, cfg.Sync.OutputDir)
	}, refsync.WatchOptions{
		Interval:     time.Duration(cfg.Sync.WatchIntervalSeconds) * time.Second,
		InitialDelay: time.Duration(cfg.Sync.WatchInitialDelaySeconds) * time.Second,
		StartupSync:  cfg.Sync.WatchEnableStartupSync,
		Logger:       logger,
	})
}

// syncOnce compares the categories, exports unless --dry-run is set and
// prints the outcome.
func syncOnce(ctx context.Context, out io.Writer, s *refsync.Syncer, categories []models.Category, outputDir string) error {
	report, written, err := s.Run(ctx, categories, syncDryRun || outputDir == "")
	if err != nil {
		return err
	}
	if err := printSyncReport(out, report); err != nil {
		return err
	}
	switch {
	case syncDryRun:
		fmt.Fprintln(out, "Dry run, nothing exported")
	case outputDir == "":
		fmt.Fprintln(out, "No sync.output_dir configured, nothing exported")
	default:
		for _, path := range written {
			fmt.Fprintf(out, "Wrote %s\n", path)
		}
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d of %d categories could not be compared", len(report.Failed), len(categories))
	}
	return nil
}

func printSyncReport(out io.Writer, report *refsync.Report) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tADDED\tREMOVED\tMODIFIED")
	for _, d := range report.Diffs {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", d.Category, len(d.Added), len(d.Removed), len(d.Modified))
	}
	for c, err := range report.Failed {
		fmt.Fprintf(tw, "%s\t-\t-\tfailed: %v\n", c, err)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, d := range report.Diffs {
		if d.HasChanges() {
			fmt.Fprintln(out)
			fmt.Fprintln(out, d.Summary())
		}
	}
	fmt.Fprintf(out, "\nTotal changes: %d\n", report.TotalChanges())
	return nil
}
