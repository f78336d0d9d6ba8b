package config

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/turbolytics/pixelator/internal/catalog"
	"github.com/turbolytics/pixelator/internal/local"
	"github.com/turbolytics/pixelator/internal/notify"
	"github.com/turbolytics/pixelator/internal/parquet"
	"github.com/turbolytics/pixelator/internal/pipelines"
	"github.com/turbolytics/pixelator/internal/s3"
)

func TestInitialize(t *testing.T) {
	dir := t.TempDir()
	c, err := New(nil)
	require.NoError(t, err)
	c.Storage.Local.Path = filepath.Join(dir, "storage")
	c.Catalog.Local.Path = filepath.Join(dir, "catalog")
	c.Generator.Endpoint = "http://imagine.invalid"
	c.Remover.APIKey = "key"

	app, err := Initialize(context.Background(), c, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	assert.IsType(t, &local.Repository{}, app.Repository)
	assert.IsType(t, &catalog.FilesystemStore{}, app.Catalog)
	require.Len(t, app.Pipelines.Definitions(), 3)
	for _, name := range []string{pipelines.PixelArt, pipelines.Placeholder, pipelines.NoBackground} {
		_, ok := app.Pipelines.Get(name)
		assert.True(t, ok, name)
	}
}

func TestInitializePipelines_Unconfigured(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)

	reg, err := InitializePipelines(c, local.New(t.TempDir()), zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, reg.Definitions())
}

func TestInitializeRepository(t *testing.T) {
	repo, err := InitializeRepository(Storage{
		Type: "s3",
		S3:   S3{Bucket: "b", Region: "nyc3", Endpoint: "https://nyc3.digitaloceanspaces.com", AccessKey: "k", Secret: "s"},
	}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &s3.Repository{}, repo)
	assert.Equal(t, "https://b.nyc3.digitaloceanspaces.com/a.csv", repo.URL("a.csv"))
}

func TestInitializeEncoder(t *testing.T) {
	enc, err := InitializeEncoder(Output{Format: "parquet"})
	require.NoError(t, err)
	assert.Equal(t, parquet.Encoder{}, enc)

	_, err = InitializeEncoder(Output{Format: "xml"})
	assert.Error(t, err)
}

func TestInitializePoster(t *testing.T) {
	p, closer, err := InitializePoster(context.Background(), Notifier{Type: "none"}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Nil(t, closer)

	p, _, err = InitializePoster(context.Background(), Notifier{Type: "slack", Slack: Slack{Token: "t", Channel: "c"}}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &notify.Slack{}, p)

	p, _, err = InitializePoster(context.Background(), Notifier{Type: "slack", Echo: true, Slack: Slack{Token: "t", Channel: "c"}}, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, notify.Multi{}, p)
	assert.Len(t, p.(notify.Multi), 2)

	p, _, err = InitializePoster(context.Background(), Notifier{Type: "log", Echo: true}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, notify.Log{}, p)
}
