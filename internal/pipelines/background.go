package pipelines

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/turbolytics/pixelator/internal"
	"github.com/turbolytics/pixelator/pkg/batch"
)

const (
	NoBackgroundFolder = "character_image_no_bg"
	DriveMirrorFolder  = "gdrive_character_image"
)

// Remover cuts the subject of an image out of its background.
type Remover interface {
	RemoveBackground(ctx context.Context, image io.Reader, filename string) ([]byte, error)
}

// BackgroundAdapter removes the background of a record's character image and
// stores the result under character_image_no_bg/<id>.png. Work already done
// for a record is reused.
type BackgroundAdapter struct {
	Repository internal.Repository
	Remover    Remover
	HTTP       *http.Client
	Logger     *zap.Logger
}

func (a BackgroundAdapter) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

func (a BackgroundAdapter) Process(ctx context.Context, rec batch.Record) (batch.Artifacts, error) {
	key := fmt.Sprintf("%s/%s.png", NoBackgroundFolder, rec.ID)

	exists, err := a.Repository.Exists(ctx, key)
	if err != nil {
		return batch.Artifacts{}, batch.Classify(fmt.Errorf("checking %s: %w", key, err))
	}
	if exists {
		a.logger().Debug("background already removed", zap.String("record_id", rec.ID))
		return batch.Artifacts{Refs: []string{a.Repository.URL(key)}, Source: rec.SourceImage}, nil
	}

	source, image, err := a.sourceImage(ctx, rec)
	if err != nil {
		return batch.Artifacts{}, err
	}

	out, err := a.Remover.RemoveBackground(ctx, bytes.NewReader(image), rec.ID+"-original.png")
	if err != nil {
		return batch.Artifacts{}, batch.Classify(err)
	}

	if err := a.Repository.Write(ctx, key, bytes.NewReader(out), "image/png"); err != nil {
		return batch.Artifacts{}, batch.Classify(fmt.Errorf("storing %s: %w", key, err))
	}
	return batch.Artifacts{Refs: []string{a.Repository.URL(key)}, Source: source}, nil
}

// sourceImage returns the address the image came from and its bytes. Drive
// links are mirrored to gdrive_character_image/<id>.png first.
func (a BackgroundAdapter) sourceImage(ctx context.Context, rec batch.Record) (string, []byte, error) {
	direct, isDrive := DriveDownloadURL(rec.SourceImage)
	if !isDrive {
		b, err := a.download(ctx, rec.SourceImage)
		return rec.SourceImage, b, err
	}

	mirror := fmt.Sprintf("%s/%s.png", DriveMirrorFolder, rec.ID)
	exists, err := a.Repository.Exists(ctx, mirror)
	if err != nil {
		return "", nil, batch.Classify(fmt.Errorf("checking %s: %w", mirror, err))
	}
	if exists {
		b, err := a.read(ctx, mirror)
		return a.Repository.URL(mirror), b, err
	}

	b, err := a.download(ctx, direct)
	if err != nil {
		return "", nil, err
	}
	if err := a.Repository.Write(ctx, mirror, bytes.NewReader(b), "image/png"); err != nil {
		return "", nil, batch.Classify(fmt.Errorf("mirroring drive image: %w", err))
	}
	a.logger().Debug("drive image mirrored", zap.String("record_id", rec.ID), zap.String("key", mirror))
	return a.Repository.URL(mirror), b, nil
}

func (a BackgroundAdapter) read(ctx context.Context, key string) ([]byte, error) {
	if r, ok := a.Repository.(internal.Reader); ok {
		b, err := r.Read(ctx, key)
		if err != nil {
			return nil, batch.Classify(fmt.Errorf("reading %s: %w", key, err))
		}
		return b, nil
	}
	return a.download(ctx, a.Repository.URL(key))
}

func (a BackgroundAdapter) download(ctx context.Context, u string) ([]byte, error) {
	if u == "" {
		return nil, batch.NotFound(errors.New("no image url"))
	}
	client := a.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, batch.NotFound(fmt.Errorf("bad image url %q: %w", u, err))
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, batch.Classify(fmt.Errorf("downloading image: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, batch.NotFound(fmt.Errorf("image %s not found", u))
	case resp.StatusCode != http.StatusOK:
		return nil, batch.RemoteError(fmt.Errorf("downloading image %s: %s", u, resp.Status))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, batch.Classify(fmt.Errorf("downloading image: %w", err))
	}
	return b, nil
}
