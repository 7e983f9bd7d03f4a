package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/haidra-org/horde-model-reference/internal/backends"
	"github.com/haidra-org/horde-model-reference/internal/metadata"
)

var seedForce bool

// SeedCmd populates a PRIMARY base path from the GitHub legacy repositories.
var SeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the PRIMARY reference files from GitHub",
	Long: `Download the legacy reference files from GitHub, convert them and write
the v2 category files of a PRIMARY deployment. Categories that already have a
v2 file are skipped unless --force is set.`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	SeedCmd.Flags().BoolVar(&seedForce, "force", false, "Re-seed categories that already have a v2 file")
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Mode() != backends.ModePrimary {
		return fmt.Errorf("seeding requires replicate_mode=PRIMARY, got %s", cfg.ReplicateMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := cfg.BackendOptions()
	fs, err := backends.NewFileSystemBackend(backends.FileSystemOptions{
		Layout:          opts.Layout,
		Mode:            backends.ModePrimary,
		CacheTTL:        opts.CacheTTL,
		CanonicalFormat: opts.CanonicalFormat,
		Metadata:        metadata.NewManager(opts.Layout, logger),
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open base path: %w", err)
	}
	defer fs.Close()

	gh, err := backends.NewGitHubBackend(backends.GitHubOptions{
		Layout:           opts.Layout,
		Mode:             backends.ModePrimary,
		CacheTTL:         opts.CacheTTL,
		Repos:            opts.Repos,
		RetryMaxAttempts: opts.RetryMaxAttempts,
		RetryBackoff:     opts.RetryBackoff,
		SeedEnabled:      true,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer gh.Close()

	seeded, err := backends.SeedPrimary(ctx, fs, gh, seedForce, logger)
	if err != nil {
		return fmt.Errorf("seeding failed: %w", err)
	}
	if len(seeded) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to seed, every category already has a v2 file")
		return nil
	}
	for _, c := range seeded {
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %s\n", c)
	}
	return nil
}
