package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/turbolytics/pixelator/pkg/batch"
	"github.com/turbolytics/pixelator/pkg/table"
)

// RunIDHeader carries the id of the run a submission started.
const RunIDHeader = "X-Run-ID"

var errNoFile = errors.New("no CSV file uploaded")

// submit accepts a multipart CSV upload in the "file" field and streams the
// run's progress back as newline delimited JSON. The run is detached from
// the request: a client going away stops delivery, not the work.
func (s *Server) submit(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pipeline, ok := s.pipelines.Get(name)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("unknown pipeline %q", name))
			return
		}

		if r.ContentLength > s.maxUploadBytes {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", s.maxUploadBytes))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
		if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", s.maxUploadBytes))
				return
			}
			writeError(w, http.StatusBadRequest, errNoFile)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, errNoFile)
			return
		}
		defer file.Close()

		input, err := table.ReadCSV(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("reading csv: %w", err))
			return
		}

		run := s.engine.NewRun(batch.Job{
			Pipeline: pipeline,
			Table:    input,
			Source:   header.Filename,
		})
		s.register(run)

		logger := s.logger.With(
			zap.String("run_id", run.ID()),
			zap.String("pipeline", name),
			zap.String("source", header.Filename),
		)

		ctx := context.WithoutCancel(r.Context())
		if err := run.Prepare(ctx); err != nil {
			status := http.StatusInternalServerError
			var se *batch.SetupError
			if errors.As(err, &se) {
				status = http.StatusBadRequest
			}
			s.inflight.Add(1)
			go func() {
				defer s.inflight.Done()
				run.Close()
			}()
			writeError(w, status, err)
			return
		}

		w.Header().Set(RunIDHeader, run.ID())
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		reporter := batch.NewStreamReporter(w, batch.ReporterWithLogger(logger))
		finished := make(chan struct{})

		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			defer close(finished)
			if _, err := run.Execute(ctx, reporter); err != nil {
				logger.Error("run failed", zap.Error(err))
			}
		}()

		select {
		case <-reporter.Done():
		case <-finished:
		case <-r.Context().Done():
			logger.Info("client went away, run continues")
		}
		reporter.Detach()
	}
}
