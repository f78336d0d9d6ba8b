// Package photoroom calls the PhotoRoom segmentation API to cut a subject out
// of its background.
package photoroom

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/turbolytics/pixelator/pkg/batch"
)

const DefaultEndpoint = "https://sdk.photoroom.com/v1/segment"

type Remover struct {
	endpoint string
	apiKey   string
	http     *http.Client
	logger   *zap.Logger
}

type Option func(*Remover)

func WithEndpoint(u string) Option {
	return func(r *Remover) {
		r.endpoint = u
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(r *Remover) {
		r.http = h
	}
}

func WithTimeout(d time.Duration) Option {
	return func(r *Remover) {
		r.http.Timeout = d
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Remover) {
		r.logger = l
	}
}

func New(apiKey string, opts ...Option) (*Remover, error) {
	if apiKey == "" {
		return nil, errors.New("photoroom api key is required")
	}
	r := &Remover{
		endpoint: DefaultEndpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 2 * time.Minute},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RemoveBackground uploads image and returns the segmented RGBA PNG.
func (r *Remover) RemoveBackground(ctx context.Context, image io.Reader, filename string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("image_file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, image); err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	if err := mw.WriteField("format", "png"); err != nil {
		return nil, err
	}
	if err := mw.WriteField("channels", "rgba"); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("x-api-key", r.apiKey)

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, batch.Classify(fmt.Errorf("photoroom: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, batch.RemoteError(fmt.Errorf("photoroom: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, batch.Classify(fmt.Errorf("photoroom: reading response: %w", err))
	}
	r.logger.Debug("background removed", zap.String("filename", filename), zap.Int("bytes", len(out)))
	return out, nil
}
