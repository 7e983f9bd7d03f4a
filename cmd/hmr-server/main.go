package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haidra-org/horde-model-reference/internal/cli"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "hmr-server",
	Short: "Horde model reference service",
	Long: `hmr-server serves the AI Horde model reference: the v2 category documents,
their legacy rendering, per-model metadata, statistics and deletion audits.
It also seeds, converts and snapshots the reference files of a deployment,
and compares a PRIMARY with the GitHub legacy repositories.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cli.Version = version
	cli.AddConfigFlags(rootCmd)

	rootCmd.AddCommand(cli.ServerCmd)
	rootCmd.AddCommand(cli.ConvertCmd)
	rootCmd.AddCommand(cli.SeedCmd)
	rootCmd.AddCommand(cli.SnapshotCmd)
	rootCmd.AddCommand(cli.SyncCmd)
	rootCmd.AddCommand(cli.AuthCmd)

	rootCmd.SetVersionTemplate(`{{.Version}}
`)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
