package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/turbolytics/pixelator/internal"
	"github.com/turbolytics/pixelator/internal/catalog"
	"github.com/turbolytics/pixelator/internal/imagine"
	"github.com/turbolytics/pixelator/internal/integrations/kafka"
	"github.com/turbolytics/pixelator/internal/integrations/pubsub"
	"github.com/turbolytics/pixelator/internal/local"
	"github.com/turbolytics/pixelator/internal/notify"
	"github.com/turbolytics/pixelator/internal/parquet"
	"github.com/turbolytics/pixelator/internal/photoroom"
	"github.com/turbolytics/pixelator/internal/pipelines"
	"github.com/turbolytics/pixelator/internal/postgres"
	"github.com/turbolytics/pixelator/internal/s3"
	"github.com/turbolytics/pixelator/pkg/batch"
	"github.com/turbolytics/pixelator/pkg/table"
)

// App is everything a command needs to run pipelines.
type App struct {
	Config     *Config
	Logger     *zap.Logger
	Repository internal.Repository
	Catalog    catalog.Store
	Engine     *batch.Engine
	Pipelines  *pipelines.Registry

	closers []func() error
}

// Close releases the connections opened by Initialize.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func Initialize(ctx context.Context, c *Config, logger *zap.Logger) (*App, error) {
	app := &App{
		Config: c,
		Logger: logger,
	}

	repo, err := InitializeRepository(c.Storage, logger)
	if err != nil {
		return nil, err
	}
	app.Repository = repo

	encoder, err := InitializeEncoder(c.Output)
	if err != nil {
		return nil, err
	}

	poster, closePoster, err := InitializePoster(ctx, c.Notifier, logger)
	if err != nil {
		return nil, err
	}
	if closePoster != nil {
		app.closers = append(app.closers, closePoster)
	}

	store, closeStore, err := InitializeCatalog(ctx, c.Catalog, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	if closeStore != nil {
		app.closers = append(app.closers, closeStore)
	}
	app.Catalog = store

	app.Engine, err = batch.NewEngine(
		batch.WithGroupSize(c.Batch.GroupSize),
		batch.WithNotifyInterval(c.Batch.NotifyInterval),
		batch.WithEncoder(encoder),
		batch.WithLogger(logger.Named("engine")),
		batch.WithNotifier(batch.NewStatusNotifier(poster, batch.NotifierWithLogger(logger.Named("notifier")))),
		batch.WithRecorder(catalog.Recorder{Store: store}),
		batch.WithStore(internal.ArtifactStore{Repository: repo}),
	)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Pipelines, err = InitializePipelines(c, repo, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func InitializeRepository(s Storage, logger *zap.Logger) (internal.Repository, error) {
	switch s.Type {
	case "s3":
		return s3.New(
			s3.WithBucket(s.S3.Bucket),
			s3.WithRegion(s.S3.Region),
			s3.WithEndpoint(s.S3.Endpoint),
			s3.WithPrefix(s.S3.Prefix),
			s3.WithCredentials(s.S3.AccessKey, s.S3.Secret),
			s3.WithForcePathStyle(s.S3.ForcePathStyle),
			s3.WithACL(s.S3.ACL),
			s3.WithPublicBaseURL(s.S3.PublicBaseURL),
			s3.WithLogger(logger.Named("s3")),
		)
	case "local":
		return local.New(s.Local.Path,
			local.WithBaseURL(s.Local.BaseURL),
			local.WithLogger(logger.Named("local")),
		), nil
	}
	return nil, fmt.Errorf("unsupported storage type %q", s.Type)
}

func InitializeEncoder(o Output) (batch.Encoder, error) {
	switch o.Format {
	case "csv":
		return table.CSVEncoder{}, nil
	case "parquet":
		return parquet.Encoder{}, nil
	}
	return nil, fmt.Errorf("unsupported output format %q", o.Format)
}

// InitializePoster returns the notifier backend and, for brokers, a function
// that releases it. A nil poster disables notifications.
func InitializePoster(ctx context.Context, n Notifier, logger *zap.Logger) (batch.Poster, func() error, error) {
	p, closer, err := newPoster(ctx, n, logger)
	if err != nil || p == nil {
		return p, closer, err
	}
	if n.Echo && n.Type != "log" {
		p = notify.Multi{notify.Log{Logger: logger.Named("notifications")}, p}
	}
	return p, closer, nil
}

func newPoster(ctx context.Context, n Notifier, logger *zap.Logger) (batch.Poster, func() error, error) {
	switch n.Type {
	case "none":
		return nil, nil, nil
	case "log":
		return notify.Log{Logger: logger.Named("notifications")}, nil, nil
	case "slack":
		p, err := notify.NewSlack(n.Slack.Token, n.Slack.Channel, notify.SlackWithLogger(logger.Named("slack")))
		return p, nil, err
	case "kafka":
		u, err := url.Parse(n.Kafka.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("notifier.kafka.url: %w", err)
		}
		p, err := kafka.NewPoster(u, logger.Named("kafka"))
		if err != nil {
			return nil, nil, err
		}
		if err := p.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	case "pubsub":
		p, err := pubsub.New(ctx, n.PubSub.Project, n.PubSub.Topic, nil, pubsub.WithLogger(logger.Named("pubsub")))
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported notifier type %q", n.Type)
}

func InitializeCatalog(ctx context.Context, c Catalog, logger *zap.Logger) (catalog.Store, func() error, error) {
	switch c.Type {
	case "none":
		return catalog.NoopStore{}, nil, nil
	case "local":
		return catalog.NewFilesystemStore(c.Local.Path, logger.Named("catalog")), nil, nil
	case "postgres":
		store, err := postgres.Connect(ctx, c.Postgres.ConnectionString, postgres.WithLogger(logger.Named("catalog")))
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, func() error { store.Close(); return nil }, nil
	}
	return nil, nil, fmt.Errorf("unsupported catalog type %q", c.Type)
}

// InitializePipelines registers every pipeline whose collaborator is
// configured. Pipelines without one are left out with a warning.
func InitializePipelines(c *Config, repo internal.Repository, logger *zap.Logger) (*pipelines.Registry, error) {
	reg := pipelines.NewRegistry()

	if c.Generator.Endpoint == "" {
		logger.Warn("generator.endpoint not set, art pipelines disabled")
	} else {
		client, err := imagine.New(c.Generator.Endpoint, c.Generator.Token,
			imagine.WithPollInterval(c.Generator.PollInterval),
			imagine.WithTimeout(c.Generator.Timeout),
			imagine.WithLogger(logger.Named("imagine")),
		)
		if err != nil {
			return nil, err
		}
		prompts := map[string]string{
			pipelines.PixelArt:    c.Generator.PixelPrompt,
			pipelines.Placeholder: c.Generator.PlaceholderPrompt,
		}
		for name, prompt := range prompts {
			adapter := pipelines.GeneratorAdapter{Generator: client, StylePrompt: prompt}
			if err := reg.Register(name, adapter, logger.Named(name)); err != nil {
				return nil, err
			}
		}
	}

	if c.Remover.APIKey == "" {
		logger.Warn("remover.api_key not set, background removal disabled")
	} else {
		remover, err := photoroom.New(c.Remover.APIKey,
			photoroom.WithEndpoint(c.Remover.Endpoint),
			photoroom.WithTimeout(c.Remover.Timeout),
			photoroom.WithLogger(logger.Named("photoroom")),
		)
		if err != nil {
			return nil, err
		}
		adapter := pipelines.BackgroundAdapter{
			Repository: repo,
			Remover:    remover,
			Logger:     logger.Named(pipelines.NoBackground),
		}
		if err := reg.Register(pipelines.NoBackground, adapter, logger.Named(pipelines.NoBackground)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
