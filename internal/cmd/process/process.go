package process

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/turbolytics/pixelator/internal/config"
	"github.com/turbolytics/pixelator/pkg/batch"
	"github.com/turbolytics/pixelator/pkg/table"
)

func NewCommand() *cobra.Command {
	var configPath string
	var pipelineName string
	var input string

	var cmd = &cobra.Command{
		Use:   "process",
		Short: "Runs a pipeline over a local CSV, streaming progress to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, l, err := config.Setup(configPath, "pixelator.process")
			if err != nil {
				return err
			}
			defer l.Sync()

			app, err := config.Initialize(cmd.Context(), c, l)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					l.Warn("closing", zap.Error(err))
				}
			}()

			pipeline, ok := app.Pipelines.Get(pipelineName)
			if !ok {
				return fmt.Errorf("pipeline %q is not available, check its configuration", pipelineName)
			}

			f, err := os.Open(input)
			if err != nil {
				return err
			}
			defer f.Close()

			t, err := table.ReadCSV(f)
			if err != nil {
				return fmt.Errorf("reading %s: %w", input, err)
			}

			run := app.Engine.NewRun(batch.Job{
				Pipeline: pipeline,
				Table:    t,
				Source:   filepath.Base(input),
			})
			l.Info("run started", zap.String("run_id", run.ID()), zap.String("pipeline", pipelineName))

			summary, err := run.Execute(cmd.Context(), batch.NewStreamReporter(cmd.OutOrStdout()))
			if err != nil {
				return err
			}

			l.Info("run completed",
				zap.String("run_id", summary.RunID),
				zap.Int("succeeded", summary.Succeeded),
				zap.Int("failed", summary.Failed),
				zap.Int("rejected", summary.Rejected),
				zap.String("download_url", summary.DownloadURL),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&pipelineName, "pipeline", "p", "", "Pipeline to run (pixelart, placeholder, nobg)")
	cmd.Flags().StringVarP(&input, "input", "i", "", "Path to the input CSV")
	cmd.MarkFlagRequired("pipeline")
	cmd.MarkFlagRequired("input")
	return cmd
}
