package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newBackfillCmd creates the 'backfill' subcommand, which runs the child
// reconciliation pass without a preceding crawl.
func newBackfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Refetches items and files for notices missing children",
		RunE:  runBackfillCommand,
	}
}

func runBackfillCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Scanner().Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run backfill: %w", err)
	}
	a.Logger.Info("backfill command finished")
	return nil
}
