package imagine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbolytics/pixelator/pkg/batch"
)

func fastBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2)
}

func writeImage(w http.ResponseWriter, img Image) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope{Data: img})
}

func newClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	opts = append([]Option{
		WithPollInterval(time.Millisecond),
		WithBackOff(fastBackOff),
	}, opts...)
	c, err := New(srv.URL+"/", "secret", opts...)
	require.NoError(t, err)
	return c
}

func TestClient_Generate(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/items/images/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if r.Method == http.MethodPost {
			var req generateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "https://img/ada.png pixel art", req.Prompt)
			assert.Equal(t, "1_Ada_Lovelace", req.Ref)
			writeImage(w, Image{ID: "gen-1", Status: StatusPending})
			return
		}
		assert.Equal(t, "/items/images/gen-1", r.URL.Path)
		if polls.Add(1) < 3 {
			writeImage(w, Image{ID: "gen-1", Status: StatusInProgress})
			return
		}
		writeImage(w, Image{
			ID:           "gen-1",
			Status:       StatusCompleted,
			UpscaledURLs: []string{"https://cdn/1.png", "https://cdn/2.png", "https://cdn/3.png", "https://cdn/4.png"},
		})
	})

	c := newClient(t, mux)
	urls, err := c.Generate(context.Background(), "https://img/ada.png pixel art", "1_Ada_Lovelace")
	require.NoError(t, err)
	assert.Len(t, urls, 4)
	assert.Equal(t, int32(3), polls.Load())
}

func TestClient_GenerateErrors(t *testing.T) {
	t.Run("failed generation", func(t *testing.T) {
		c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeImage(w, Image{ID: "x", Status: StatusFailed, Error: "nsfw"})
		}))
		_, err := c.Generate(context.Background(), "p", "r")
		assert.Equal(t, batch.KindRemote, batch.KindOf(err))
		assert.ErrorContains(t, err, "nsfw")
	})

	t.Run("not found", func(t *testing.T) {
		c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no such image", http.StatusNotFound)
		}))
		_, err := c.Generate(context.Background(), "p", "r")
		assert.Equal(t, batch.KindNotFound, batch.KindOf(err))
	})

	t.Run("transient errors are retried", func(t *testing.T) {
		var calls atomic.Int32
		c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				http.Error(w, "busy", http.StatusServiceUnavailable)
				return
			}
			writeImage(w, Image{ID: "x", Status: StatusCompleted, URL: "https://cdn/only.png"})
		}))
		urls, err := c.Generate(context.Background(), "p", "r")
		require.NoError(t, err)
		assert.Equal(t, []string{"https://cdn/only.png"}, urls)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("retries run out", func(t *testing.T) {
		var calls atomic.Int32
		c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "slow down", http.StatusTooManyRequests)
		}))
		_, err := c.Generate(context.Background(), "p", "r")
		assert.Equal(t, batch.KindRemote, batch.KindOf(err))
		assert.ErrorContains(t, err, "status 429")
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "bad prompt", http.StatusBadRequest)
		}))
		_, err := c.Generate(context.Background(), "p", "r")
		assert.Equal(t, batch.KindRemote, batch.KindOf(err))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("timeout", func(t *testing.T) {
		c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeImage(w, Image{ID: "x", Status: StatusPending})
		}), WithTimeout(20*time.Millisecond))
		_, err := c.Generate(context.Background(), "p", "r")
		assert.Equal(t, batch.KindTimeout, batch.KindOf(err))
	})
}

func TestNew(t *testing.T) {
	_, err := New("", "t")
	assert.Error(t, err)
}
