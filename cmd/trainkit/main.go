// Package main provides the entry point for the trainkit CLI tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/trainkit/cmd/trainkit/commands"
	"github.com/Sumatoshi-tech/trainkit/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts commands.Options

	rootCmd := &cobra.Command{
		Use:   "trainkit",
		Short: "Trainkit - resumable training loops and streaming metrics",
		Long: `Trainkit checkpoints training epochs and resumes from the last completed one.

Commands:
  train     Train the built-in demo model with checkpoint resume
  eval      Compute streaming accuracy and AUC over a predictions CSV
  ledger    Inspect and maintain a checkpoint ledger`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	opts.RegisterFlags(rootCmd)

	rootCmd.AddCommand(commands.NewTrainCommand(&opts))
	rootCmd.AddCommand(commands.NewEvalCommand(&opts))
	rootCmd.AddCommand(commands.NewLedgerCommand(&opts))
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "trainkit %s\n", version.String())
		},
	}
}
