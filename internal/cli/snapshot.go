package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/haidra-org/horde-model-reference/internal/backends"
	"github.com/haidra-org/horde-model-reference/internal/config"
	"github.com/haidra-org/horde-model-reference/internal/snapshot"
)

var (
	snapshotURI   string
	snapshotToken string
)

// SnapshotCmd moves whole reference snapshots to and from remote storage.
var SnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Push or pull reference snapshots",
	Long: `Push the category documents of a deployment to a file://, s3:// or oci://
target, or restore them from one into base_path.`,
}

var snapshotPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Capture the current references and store them in the target",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotPush,
}

var snapshotPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Restore the references stored in the target into base_path",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotPull,
}

func init() {
	SnapshotCmd.PersistentFlags().StringVar(&snapshotURI, "uri", "", "Snapshot target URI (default snapshot.uri)")
	SnapshotCmd.PersistentFlags().StringVar(&snapshotToken, "token", "", "Snapshot target credentials (default snapshot.token)")
	SnapshotCmd.AddCommand(snapshotPushCmd, snapshotPullCmd)
}

func snapshotTarget(ctx context.Context, cfg *config.Config, logger *slog.Logger) (snapshot.Target, error) {
	if snapshotURI != "" {
		cfg.Snapshot.URI = snapshotURI
	}
	if snapshotToken != "" {
		cfg.Snapshot.Token = snapshotToken
	}
	if cfg.Snapshot.URI == "" {
		return nil, fmt.Errorf("no snapshot target, set --uri or snapshot.uri")
	}
	uri, err := cfg.ParsedSnapshotURI()
	if err != nil {
		return nil, err
	}
	logger.Debug("Using snapshot target", "uri", uri.String(), "token", cfg.MaskToken())
	return snapshot.NewTarget(ctx, uri, cfg.Snapshot.Token, logger)
}

func runSnapshotPush(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	target, err := snapshotTarget(ctx, cfg, logger)
	if err != nil {
		return err
	}

	opts := cfg.BackendOptions()
	opts.Logger = logger
	// pushing reads only, no seeding or cache fan-out needed
	opts.SeedEnabled = false
	opts.UseRedis = false
	src, err := backends.New(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize backend: %w", err)
	}
	defer src.Close()

	b, err := snapshot.Push(ctx, src, target, logger)
	if err != nil {
		return fmt.Errorf("snapshot push failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pushed %d categories to %s (%s)\n", len(b.Categories), target, b.Digest)
	return nil
}

func runSnapshotPull(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	target, err := snapshotTarget(ctx, cfg, logger)
	if err != nil {
		return err
	}
	res, err := snapshot.Pull(ctx, target, cfg.Layout(), logger)
	if err != nil {
		return fmt.Errorf("snapshot pull failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "restored %d categories (%d unchanged, %d legacy) into %s\n",
		len(res.Written), len(res.Unchanged), len(res.Legacy), cfg.BasePath)
	return nil
}
