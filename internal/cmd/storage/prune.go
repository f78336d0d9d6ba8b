package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/turbolytics/pixelator/internal"
	"github.com/turbolytics/pixelator/internal/config"
)

// Prune deletes every object under prefix whose key ends with suffix and
// returns the deleted keys.
func Prune(ctx context.Context, l internal.Lister, prefix, suffix string, dryRun bool, logger *zap.Logger) ([]string, error) {
	objects, err := l.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing objects: %w", err)
	}
	logger.Info("fetched objects", zap.Int("count", len(objects)), zap.String("prefix", prefix))

	var keys []string
	for _, o := range objects {
		if strings.HasSuffix(o.Key, suffix) {
			keys = append(keys, o.Key)
		}
	}
	if dryRun {
		return keys, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(10)
	for _, k := range keys {
		k := k
		g.Go(func() error {
			if err := l.Delete(ctx, k); err != nil {
				return fmt.Errorf("deleting %s: %w", k, err)
			}
			logger.Info("deleted", zap.String("key", k))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return keys, nil
}

func newPruneCommand() *cobra.Command {
	var configPath, prefix, suffix string
	var dryRun bool

	var cmd = &cobra.Command{
		Use:   "prune",
		Short: "Deletes objects whose key ends with a suffix",
		RunE: func(cmd *cobra.Command, args []string) error {
			if suffix == "" {
				return fmt.Errorf("--suffix must not be empty")
			}
			c, l, err := config.Setup(configPath, "pixelator.storage.prune")
			if err != nil {
				return err
			}
			defer l.Sync()

			repo, err := config.InitializeRepository(c.Storage, l)
			if err != nil {
				return err
			}
			lister, ok := repo.(internal.Lister)
			if !ok {
				return fmt.Errorf("storage type %q cannot list objects", c.Storage.Type)
			}

			keys, err := Prune(cmd.Context(), lister, prefix, suffix, dryRun, l)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only consider keys under this prefix")
	cmd.Flags().StringVar(&suffix, "suffix", "placeholder/", "Delete keys ending with this suffix")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List matching keys without deleting them")
	return cmd
}
