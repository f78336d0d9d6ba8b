package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/turbolytics/pixelator/internal/catalog"
	"github.com/turbolytics/pixelator/internal/pipelines"
	"github.com/turbolytics/pixelator/pkg/batch"
)

const (
	DefaultMaxUploadBytes = 10 << 20
	DefaultIdleTimeout    = 10 * time.Minute
	// DefaultRetainedRuns bounds the finished runs kept in memory. Older ones
	// are still served from the catalog.
	DefaultRetainedRuns = 256
)

type Server struct {
	logger    *zap.Logger
	engine    *batch.Engine
	pipelines *pipelines.Registry
	catalog   catalog.Store
	files     http.Handler

	maxUploadBytes int64
	idleTimeout    time.Duration
	retainedRuns   int

	mu    sync.RWMutex
	runs  map[string]*batch.Run
	order []string

	// inflight tracks runs still executing after their request returned.
	inflight sync.WaitGroup
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

func WithCatalog(c catalog.Store) Option {
	return func(s *Server) {
		s.catalog = c
	}
}

// WithFiles serves dir under /files/, for local storage.
func WithFiles(dir string) Option {
	return func(s *Server) {
		s.files = http.StripPrefix("/files/", http.FileServer(http.Dir(dir)))
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		s.maxUploadBytes = n
	}
}

func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.idleTimeout = d
	}
}

func WithRetainedRuns(n int) Option {
	return func(s *Server) {
		s.retainedRuns = n
	}
}

func New(engine *batch.Engine, registry *pipelines.Registry, opts ...Option) *Server {
	s := &Server{
		logger:         zap.NewNop(),
		engine:         engine,
		pipelines:      registry,
		catalog:        catalog.NoopStore{},
		maxUploadBytes: DefaultMaxUploadBytes,
		idleTimeout:    DefaultIdleTimeout,
		retainedRuns:   DefaultRetainedRuns,
		runs:           make(map[string]*batch.Run),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)

	for _, d := range s.pipelines.Definitions() {
		r.Post(d.Route, s.submit(d.Name))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/pipelines", s.listPipelines)
		r.Post("/pipelines/{name}/runs", func(w http.ResponseWriter, r *http.Request) {
			s.submit(chi.URLParam(r, "name"))(w, r)
		})
		r.Get("/runs", s.listRuns)
		r.Get("/runs/{id}", s.getRun)
	})

	if s.files != nil {
		r.Handle("/files/*", s.files)
	}
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

type pipelineInfo struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Route string `json:"route"`
}

func (s *Server) listPipelines(w http.ResponseWriter, r *http.Request) {
	defs := s.pipelines.Definitions()
	out := make([]pipelineInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, pipelineInfo{Name: d.Name, Label: d.Label, Route: d.Route})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pipelines": out,
		"count":     len(out),
	})
}

// Start serves on addr until ctx is cancelled, then shuts down and waits for
// detached runs to finish.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       s.idleTimeout,
		IdleTimeout:       s.idleTimeout,
	}

	s.logger.Info("starting server", zap.String("addr", addr))

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)

	s.logger.Info("waiting for runs to finish")
	s.Wait()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Wait blocks until every submitted run has finished.
func (s *Server) Wait() {
	s.inflight.Wait()
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
