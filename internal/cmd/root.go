package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/turbolytics/pixelator/internal/cmd/fixtures"
	"github.com/turbolytics/pixelator/internal/cmd/process"
	"github.com/turbolytics/pixelator/internal/cmd/serve"
	"github.com/turbolytics/pixelator/internal/cmd/storage"
	"github.com/turbolytics/pixelator/internal/cmd/table"
)

func NewRootCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "pixelator",
		Short: "Batch image generation over contact spreadsheets",
		Long: `pixelator runs uploaded contact CSVs through image pipelines (pixel art,
placeholder art, background removal), streams progress while it works and
stores the enriched table for download.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(serve.NewCommand())
	cmd.AddCommand(process.NewCommand())
	cmd.AddCommand(fixtures.NewCommand())
	cmd.AddCommand(table.NewCommand())
	cmd.AddCommand(storage.NewCommand())

	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
