package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newHarvestCmd creates the 'harvest' subcommand, which runs one full
// ingestion pass followed by the backfill reconciliation.
func newHarvestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "harvest",
		Short: "Runs one ingestion pass over the remote catalog",
		Long: `Fetches the configured search pages, persists new notices with
their items and attachments, queues attached documents for markdown
conversion, and finishes with a backfill pass over notices missing
children.`,
		RunE: runHarvestCommand,
	}
}

func runHarvestCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Coordinator().Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run ingestion: %w", err)
	}
	a.Logger.Info("harvest command finished")
	return nil
}
