package batch

import (
	"encoding/json"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
)

// ErrReporterClosed is returned when a reporter is used after Close.
var ErrReporterClosed = errors.New("progress reporter closed")

// Sink receives the live stream of a run: zero or more progress events, one
// results message, then Close.
type Sink interface {
	Progress(ev ProgressEvent) error
	Results(outcomes []Outcome) error
	Close() error
}

type flusher interface {
	Flush()
}

// StreamReporter writes a run's progress as newline delimited JSON. It never
// buffers: each message is flushed as soon as it is written.
//
// Delivery failures are logged and otherwise ignored so a dropped viewer
// cannot affect the run.
type StreamReporter struct {
	mu       sync.Mutex
	w        io.Writer
	enc      *json.Encoder
	logger   *zap.Logger
	started  bool
	closed   bool
	detached bool
	done     chan struct{}
}

type ReporterOption func(*StreamReporter)

func ReporterWithLogger(l *zap.Logger) ReporterOption {
	return func(r *StreamReporter) {
		r.logger = l
	}
}

func NewStreamReporter(w io.Writer, opts ...ReporterOption) *StreamReporter {
	r := &StreamReporter{
		w:      w,
		enc:    json.NewEncoder(w),
		logger: zap.NewNop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type progressMessage struct {
	Progress float64 `json:"progress"`
}

type resultsMessage struct {
	Results []Outcome `json:"results"`
}

func (r *StreamReporter) Progress(ev ProgressEvent) error {
	return r.write(progressMessage{Progress: ev.Fraction})
}

func (r *StreamReporter) Results(outcomes []Outcome) error {
	if outcomes == nil {
		outcomes = []Outcome{}
	}
	return r.write(resultsMessage{Results: outcomes})
}

// Close ends the stream. It may only be called once.
func (r *StreamReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrReporterClosed
	}
	r.closed = true
	close(r.done)
	return nil
}

// Detach stops delivery without closing the stream, for when the consumer
// has gone away. It waits for an in-flight write to finish.
func (r *StreamReporter) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detached = true
}

// Done is closed once the terminal message has been handed over and the
// stream closed.
func (r *StreamReporter) Done() <-chan struct{} {
	return r.done
}

// Started reports whether anything was written to the stream.
func (r *StreamReporter) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *StreamReporter) write(msg any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrReporterClosed
	}
	r.started = true
	if r.detached {
		return nil
	}

	if err := r.enc.Encode(msg); err != nil {
		r.detached = true
		r.logger.Warn("progress delivery failed, continuing without viewer", zap.Error(err))
		return err
	}
	if f, ok := r.w.(flusher); ok {
		f.Flush()
	}
	return nil
}
