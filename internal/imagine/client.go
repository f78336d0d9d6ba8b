// Package imagine is a client for the asynchronous image generation API the
// art pipelines call: a generation is submitted, then polled until it
// completes.
package imagine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/turbolytics/pixelator/pkg/batch"
)

const (
	StatusPending    = "pending"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// StatusError is an unexpected HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("imagine api: status %d: %s", e.Code, e.Body)
}

// Temporary reports whether the request is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type Image struct {
	ID           string   `json:"id"`
	Status       string   `json:"status"`
	Progress     any      `json:"progress,omitempty"`
	URL          string   `json:"url,omitempty"`
	UpscaledURLs []string `json:"upscaled_urls,omitempty"`
	Error        string   `json:"error,omitempty"`
}

type envelope struct {
	Data Image `json:"data"`
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	Ref    string `json:"ref,omitempty"`
}

type Client struct {
	endpoint     string
	token        string
	http         *http.Client
	pollInterval time.Duration
	timeout      time.Duration
	backOff      func() backoff.BackOff
	logger       *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithTimeout bounds a whole generation, submission and polling included.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithBackOff sets the retry policy of every API call. f is called once per
// call since backoff policies keep state.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) {
		c.backOff = f
	}
}

// DefaultBackOff makes up to three attempts, one second apart and doubling.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 10 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, 2)
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func New(endpoint, token string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("imagine endpoint is required")
	}
	c := &Client{
		endpoint:     strings.TrimRight(endpoint, "/"),
		token:        token,
		http:         &http.Client{Timeout: time.Minute},
		pollInterval: 5 * time.Second,
		timeout:      10 * time.Minute,
		logger:       zap.NewNop(),
		backOff:      DefaultBackOff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Temporary reports whether err is a transient API failure.
func Temporary(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var we *batch.WorkError
	if errors.As(err, &we) {
		return we.Kind == batch.KindRemote
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Generate submits prompt and waits for the generated images. Errors are
// classified as batch work errors.
func (c *Client) Generate(ctx context.Context, prompt, ref string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	img, err := c.call(ctx, "submit", func() (Image, error) {
		return c.submit(ctx, generateRequest{Prompt: prompt, Ref: ref})
	})
	if err != nil {
		return nil, classify(ctx, err)
	}

	c.logger.Debug("generation submitted", zap.String("id", img.ID), zap.String("ref", ref))

	t := time.NewTicker(c.pollInterval)
	defer t.Stop()
	for {
		switch img.Status {
		case StatusCompleted:
			urls := img.UpscaledURLs
			if len(urls) == 0 && img.URL != "" {
				urls = []string{img.URL}
			}
			if len(urls) == 0 {
				return nil, batch.RemoteError(fmt.Errorf("generation %s completed without images", img.ID))
			}
			return urls, nil
		case StatusFailed:
			return nil, batch.RemoteError(fmt.Errorf("generation %s failed: %s", img.ID, img.Error))
		}

		select {
		case <-ctx.Done():
			return nil, batch.Timeout(fmt.Errorf("generation %s: %w", img.ID, ctx.Err()))
		case <-t.C:
		}

		id := img.ID
		img, err = c.call(ctx, "poll", func() (Image, error) {
			return c.get(ctx, id)
		})
		if err != nil {
			return nil, classify(ctx, err)
		}
	}
}

// call runs op under the client's backoff policy. Errors that are not
// Temporary end the retries at once.
func (c *Client) call(ctx context.Context, name string, op func() (Image, error)) (Image, error) {
	attempt := 0
	return backoff.RetryNotifyWithData(func() (Image, error) {
		attempt++
		img, err := op()
		if err != nil && !Temporary(err) {
			return img, backoff.Permanent(err)
		}
		return img, err
	}, backoff.WithContext(c.backOff(), ctx), func(err error, next time.Duration) {
		c.logger.Warn("imagine call failed, retrying",
			zap.String("call", name),
			zap.Int("attempt", attempt),
			zap.Duration("next", next),
			zap.Error(err),
		)
	})
}

func classify(ctx context.Context, err error) error {
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return batch.NotFound(err)
	}
	if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return batch.Classify(err)
}

func (c *Client) submit(ctx context.Context, body generateRequest) (Image, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return Image{}, err
	}
	return c.do(ctx, http.MethodPost, "/items/images/", bytes.NewReader(b))
}

func (c *Client) get(ctx context.Context, id string) (Image, error) {
	return c.do(ctx, http.MethodGet, "/items/images/"+id, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (Image, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return Image{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Image{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Image{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return Image{}, fmt.Errorf("decoding imagine response: %w", err)
	}
	return env.Data, nil
}
