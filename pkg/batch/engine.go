package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turbolytics/pixelator/pkg/table"
)

// Encoder serializes a reconciled table.
type Encoder interface {
	Encode(w io.Writer, t *table.Table) error
	Extension() string
	ContentType() string
}

// ArtifactStore persists the reconciled table and returns where it can be
// downloaded from.
type ArtifactStore interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
}

// Recorder keeps a durable record of finished runs.
type Recorder interface {
	Record(ctx context.Context, s Summary) error
}

// Pipeline binds the pluggable parts of a run.
type Pipeline struct {
	Name  string
	Label string

	Validator  Validator
	Adapter    WorkAdapter
	Reconciler *Reconciler

	// ArtifactPrefix starts the file name of the persisted table.
	ArtifactPrefix string
}

// Job is a single submission: one table run through one pipeline.
type Job struct {
	Pipeline *Pipeline
	Table    *table.Table
	// Source is the name of the submitted file.
	Source string
}

// Engine executes jobs. It is safe to share between runs; every run gets its
// own State.
type Engine struct {
	groupSize      int
	notifyInterval time.Duration

	encoder  Encoder
	logger   *zap.Logger
	notifier *StatusNotifier
	recorder Recorder
	store    ArtifactStore
	now      func() time.Time
}

type EngineOption func(*Engine)

func WithGroupSize(n int) EngineOption {
	return func(e *Engine) {
		e.groupSize = n
	}
}

func WithNotifyInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.notifyInterval = d
	}
}

func WithEncoder(enc Encoder) EngineOption {
	return func(e *Engine) {
		e.encoder = enc
	}
}

func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

func WithNotifier(n *StatusNotifier) EngineOption {
	return func(e *Engine) {
		e.notifier = n
	}
}

func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		e.recorder = r
	}
}

func WithStore(s ArtifactStore) EngineOption {
	return func(e *Engine) {
		e.store = s
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		groupSize:      DefaultGroupSize,
		notifyInterval: DefaultNotifyInterval,
		encoder:        table.CSVEncoder{},
		logger:         zap.NewNop(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.groupSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidGroupSize, e.groupSize)
	}
	if e.notifier == nil {
		e.notifier = NewStatusNotifier(nil)
	}
	return e, nil
}

// NewRun creates a run for job. Nothing happens until Prepare or Execute.
func (e *Engine) NewRun(job Job) *Run {
	id := uuid.NewString()
	logger := e.logger.With(zap.String("run_id", id))
	if job.Pipeline != nil {
		logger = logger.With(zap.String("pipeline", job.Pipeline.Name))
	}
	r := &Run{
		id:     id,
		job:    job,
		engine: e,
		logger: logger,
		fsm:    NewFSM(FSMWithLogger(logger.Named("fsm"))),
		notes:  e.notifier.Outbox(),
	}
	r.summary = Summary{
		RunID:  id,
		Source: job.Source,
	}
	if job.Pipeline != nil {
		r.summary.Pipeline = job.Pipeline.Name
		r.summary.Label = job.Pipeline.Label
	}
	return r
}

// Run is one execution of a Job.
type Run struct {
	id     string
	job    Job
	engine *Engine
	logger *zap.Logger
	fsm    *FSM
	notes  *Outbox

	mu       sync.Mutex
	records  []Record
	state    *State
	summary  Summary
	prepared bool
}

func (r *Run) ID() string {
	return r.id
}

func (r *Run) Phase() Phase {
	return r.fsm.Current()
}

// Summary returns a snapshot of the run, including live counters while it is
// running.
func (r *Run) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.summary
	if r.state != nil && !s.Completed && s.Error == "" {
		s.Processed = r.state.Completed()
	}
	return s
}

// Close blocks until the run's notifications have been posted. Execute
// calls it on return; callers that stop after a failed Prepare call it
// themselves.
func (r *Run) Close() {
	r.notes.Close()
}

// Prepare validates the input and returns a *SetupError when there is
// nothing to schedule. It is safe to call before handing the run to a
// background goroutine so setup failures can be reported synchronously.
func (r *Run) Prepare(ctx context.Context) error {
	r.mu.Lock()
	if r.prepared {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := r.fsm.Transition(PhaseValidating); err != nil {
		return err
	}

	if err := r.prepare(); err != nil {
		r.fail(ctx, err)
		return err
	}
	return nil
}

func (r *Run) prepare() error {
	p := r.job.Pipeline
	if p == nil || p.Validator == nil || p.Adapter == nil || p.Reconciler == nil {
		return &SetupError{Err: errors.New("incomplete pipeline")}
	}
	if r.job.Table == nil {
		return &SetupError{Err: ErrNoInput}
	}

	records, rejected := ValidateTable(p.Validator, r.job.Table)
	for _, ve := range rejected {
		r.logger.Debug("row rejected", zap.Int("row", ve.Row), zap.String("reason", ve.Reason))
	}
	r.logger.Info("input validated",
		zap.Int("rows", r.job.Table.Len()),
		zap.Int("accepted", len(records)),
		zap.Int("rejected", len(rejected)),
	)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Rows = r.job.Table.Len()
	r.summary.Rejected = len(rejected)
	r.summary.Total = len(records)
	if len(records) == 0 {
		return &SetupError{Err: ErrNoRecords}
	}
	r.records = records
	r.state = NewState(len(records))
	r.summary.StartedAt = r.state.StartedAt
	r.prepared = true
	return nil
}

// Execute drives the run to completion, streaming to sink. The sink always
// receives its results message and Close once scheduling has started, even
// if persistence fails afterwards.
func (r *Run) Execute(ctx context.Context, sink Sink) (Summary, error) {
	defer r.notes.Close()

	if err := r.Prepare(ctx); err != nil {
		return r.Summary(), err
	}
	if err := r.fsm.Transition(PhaseRunning); err != nil {
		return r.Summary(), err
	}
	if sink == nil {
		sink = discardSink{}
	}

	e := r.engine
	p := r.job.Pipeline

	r.notes.NotifyStart(ctx, p.Label, r.job.Source)
	stop := r.notes.Start(ctx, r.state, e.notifyInterval, p.Label, r.job.Source)

	sched, err := NewScheduler(p.Adapter,
		SchedulerWithGroupSize(e.groupSize),
		SchedulerWithLogger(r.logger.Named("scheduler")),
	)
	if err != nil {
		stop()
		r.fail(ctx, err)
		return r.Summary(), err
	}

	results, err := sched.Run(ctx, r.records, r.state, func(ev ProgressEvent) {
		if err := sink.Progress(ev); err != nil {
			r.logger.Debug("progress not delivered", zap.Error(err))
		}
	})
	stop()
	if err != nil {
		r.fail(ctx, err)
		return r.Summary(), err
	}

	if err := sink.Results(results); err != nil {
		r.logger.Debug("results not delivered", zap.Error(err))
	}
	if err := sink.Close(); err != nil {
		r.logger.Warn("closing progress stream", zap.Error(err))
	}

	r.mu.Lock()
	r.summary.Processed = len(results)
	for _, o := range results {
		if o.OK() {
			r.summary.Succeeded++
		} else {
			r.summary.Failed++
		}
	}
	r.mu.Unlock()

	if err := r.fsm.Transition(PhaseReconciling); err != nil {
		return r.Summary(), err
	}

	url, err := r.persist(ctx, results)
	if err != nil {
		perr := &PersistenceError{Err: err}
		r.fail(ctx, perr)
		return r.Summary(), perr
	}

	r.mu.Lock()
	r.summary.DownloadURL = url
	r.summary.CompletedAt = e.now()
	r.summary.Completed = true
	summary := r.summary
	r.mu.Unlock()

	if err := r.fsm.Transition(PhaseCompleted); err != nil {
		return summary, err
	}

	r.logger.Info("run completed",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.String("download_url", url),
		zap.Duration("duration", summary.Duration()),
	)

	r.notes.NotifyComplete(ctx, summary)
	r.record(ctx, summary)
	return summary, nil
}

func (r *Run) persist(ctx context.Context, results []Outcome) (string, error) {
	e := r.engine
	p := r.job.Pipeline

	reconciled, err := p.Reconciler.Reconcile(r.job.Table, results)
	if err != nil {
		return "", fmt.Errorf("reconcile: %w", err)
	}

	if e.store == nil {
		r.logger.Warn("no artifact store configured, reconciled table not persisted")
		return "", nil
	}

	var buf bytes.Buffer
	if err := e.encoder.Encode(&buf, reconciled); err != nil {
		return "", fmt.Errorf("encode %s: %w", e.encoder.Extension(), err)
	}

	key := ArtifactKey(p.ArtifactPrefix, r.job.Source, e.now(), e.encoder.Extension())
	url, err := e.store.Upload(ctx, key, &buf, e.encoder.ContentType())
	if err != nil {
		return "", fmt.Errorf("upload %q: %w", key, err)
	}
	return url, nil
}

func (r *Run) fail(ctx context.Context, err error) {
	if tErr := r.fsm.Transition(PhaseFailed); tErr != nil {
		r.logger.Warn("marking run failed", zap.Error(tErr))
	}

	r.mu.Lock()
	r.summary.Error = err.Error()
	r.summary.CompletedAt = r.engine.now()
	summary := r.summary
	r.mu.Unlock()

	r.logger.Error("run failed", zap.Error(err))
	r.notes.NotifyError(ctx, summary.Label, err)
	r.record(ctx, summary)
}

func (r *Run) record(ctx context.Context, s Summary) {
	if r.engine.recorder == nil {
		return
	}
	if err := r.engine.recorder.Record(ctx, s); err != nil {
		r.logger.Warn("recording run", zap.Error(err))
	}
}

var nonKeyChars = regexp.MustCompile(`[^a-z0-9_.-]+`)

// ArtifactKey names the persisted table:
// downloads/<prefix><base of source>_<unix ms>.<ext>.
func ArtifactKey(prefix, source string, ts time.Time, ext string) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	base = strings.ToLower(strings.TrimSpace(base))
	base = nonKeyChars.ReplaceAllString(base, "_")
	if base == "" || base == "." {
		base = "input"
	}
	return fmt.Sprintf("downloads/%s%s_%d.%s", prefix, base, ts.UnixMilli(), ext)
}

type discardSink struct{}

func (discardSink) Progress(ProgressEvent) error { return nil }
func (discardSink) Results([]Outcome) error      { return nil }
func (discardSink) Close() error                 { return nil }
