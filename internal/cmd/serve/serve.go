package serve

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/turbolytics/pixelator/internal/config"
	"github.com/turbolytics/pixelator/internal/server"
)

func NewCommand() *cobra.Command {
	var configPath string
	var addr string

	var cmd = &cobra.Command{
		Use:   "serve",
		Short: "Starts the upload and run status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, l, err := config.Setup(configPath, "pixelator.serve")
			if err != nil {
				return err
			}
			defer l.Sync()

			if addr != "" {
				c.Server.Addr = addr
			}

			app, err := config.Initialize(cmd.Context(), c, l)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					l.Warn("closing", zap.Error(err))
				}
			}()

			for _, d := range app.Pipelines.Definitions() {
				l.Info("pipeline enabled", zap.String("name", d.Name), zap.String("route", d.Route))
			}

			opts := []server.Option{
				server.WithLogger(l),
				server.WithCatalog(app.Catalog),
				server.WithMaxUploadBytes(c.Server.MaxUploadBytes),
				server.WithIdleTimeout(c.Server.IdleTimeout),
			}
			if c.Storage.Type == "local" && c.Storage.Local.BaseURL != "" {
				opts = append(opts, server.WithFiles(c.Storage.Local.Path))
			}

			s := server.New(app.Engine, app.Pipelines, opts...)
			return s.Start(cmd.Context(), c.Server.Addr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides server.addr")
	return cmd
}
