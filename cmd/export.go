package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newExportCmd creates the 'export' subcommand, which renders every stored
// notice into a markdown file with YAML front matter.
func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Renders stored notices into markdown files",
		RunE:  runExportCommand,
	}
}

func runExportCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Renderer().RenderAll(ctx, 0); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run export: %w", err)
	}
	a.Logger.Info("export command finished")
	return nil
}
