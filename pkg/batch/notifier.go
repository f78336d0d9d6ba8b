package batch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultNotifyInterval is how often a running batch reports its status.
const DefaultNotifyInterval = 45 * time.Minute

const notifyTimeFormat = "Jan 2, 2006, 3:04 PM"

// Poster delivers a formatted message to a reporting channel.
type Poster interface {
	Post(ctx context.Context, message string) error
}

// Summary describes a finished (or failed) run.
type Summary struct {
	RunID       string    `json:"run_id"`
	Pipeline    string    `json:"pipeline"`
	Label       string    `json:"label"`
	Source      string    `json:"source"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	// Rows is the number of rows in the input table.
	Rows int `json:"rows"`
	// Rejected rows never reached the scheduler.
	Rejected    int    `json:"rejected"`
	Total       int    `json:"total"`
	Processed   int    `json:"processed"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	DownloadURL string `json:"download_url,omitempty"`
	Error       string `json:"error,omitempty"`
	Completed   bool   `json:"completed"`
}

func (s Summary) Duration() time.Duration {
	return s.CompletedAt.Sub(s.StartedAt)
}

// StatusNotifier formats run status messages and hands them to a Poster.
// It never returns errors: delivery problems are logged and dropped.
type StatusNotifier struct {
	poster  Poster
	logger  *zap.Logger
	timeout time.Duration
}

type NotifierOption func(*StatusNotifier)

func NotifierWithLogger(l *zap.Logger) NotifierOption {
	return func(n *StatusNotifier) {
		n.logger = l
	}
}

func NotifierWithTimeout(d time.Duration) NotifierOption {
	return func(n *StatusNotifier) {
		n.timeout = d
	}
}

func NewStatusNotifier(p Poster, opts ...NotifierOption) *StatusNotifier {
	n := &StatusNotifier{
		poster:  p,
		logger:  zap.NewNop(),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *StatusNotifier) NotifyStart(ctx context.Context, label, source string) {
	n.post(ctx, fmt.Sprintf("*%s Process Started* :rocket:\n\n*File Name:* `%s`", label, source))
}

func (n *StatusNotifier) NotifyProgress(ctx context.Context, processed, total int, label, source string) {
	pct := 0.0
	if total > 0 {
		pct = float64(processed) / float64(total) * 100
	}
	n.post(ctx, fmt.Sprintf(
		"*%s* :hourglass_flowing_sand:\n\n"+
			"*File Name:* `%s`\n"+
			"*Processed Profiles:* `%d`\n"+
			"*Remaining Profiles:* `%d`\n"+
			"*Completion:* `%.2f%%`",
		label, source, processed, total-processed, pct,
	))
}

func (n *StatusNotifier) NotifyComplete(ctx context.Context, s Summary) {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s Complete!* :white_check_mark:\n\n", s.Label)
	fmt.Fprintf(&b, "*File Name:* `%s`\n", s.Source)
	fmt.Fprintf(&b, " *Started At:* `%s`\n", s.StartedAt.Format(notifyTimeFormat))
	fmt.Fprintf(&b, " *Completed At:* `%s`\n", s.CompletedAt.Format(notifyTimeFormat))
	fmt.Fprintf(&b, " *Processing Time:* `%.2f seconds`\n", s.Duration().Seconds())
	fmt.Fprintf(&b, " *Total Profiles Processed:* `%d`\n", s.Total)
	fmt.Fprintf(&b, " *Succeeded:* `%d`  *Failed:* `%d`", s.Succeeded, s.Failed)
	if s.DownloadURL != "" {
		fmt.Fprintf(&b, "\n\n<%s|Download Results>", s.DownloadURL)
	}
	n.post(ctx, b.String())
}

func (n *StatusNotifier) NotifyError(ctx context.Context, label string, err error) {
	n.post(ctx, fmt.Sprintf("*Error in %s* :x:\n\n*Error:* `%v`", label, err))
}

const outboxSize = 16

// Outbox delivers the notifications of one run in order, on a goroutine of
// its own, so a slow Poster never holds up the run. Close drains it.
type Outbox struct {
	n *StatusNotifier

	mu     sync.Mutex
	queue  chan func()
	done   chan struct{}
	closed bool
}

// Outbox returns an empty queue for a single run. Its goroutine starts with
// the first message.
func (n *StatusNotifier) Outbox() *Outbox {
	return &Outbox{n: n}
}

func (o *Outbox) NotifyStart(ctx context.Context, label, source string) {
	o.send(func() { o.n.NotifyStart(ctx, label, source) })
}

func (o *Outbox) NotifyProgress(ctx context.Context, processed, total int, label, source string) {
	o.send(func() { o.n.NotifyProgress(ctx, processed, total, label, source) })
}

func (o *Outbox) NotifyComplete(ctx context.Context, s Summary) {
	o.send(func() { o.n.NotifyComplete(ctx, s) })
}

func (o *Outbox) NotifyError(ctx context.Context, label string, err error) {
	o.send(func() { o.n.NotifyError(ctx, label, err) })
}

// Start queues a progress message every interval until the returned stop
// function is called. stop blocks until the ticker goroutine has exited.
func (o *Outbox) Start(ctx context.Context, state *State, interval time.Duration, label, source string) (stop func()) {
	if interval <= 0 || !o.enabled() {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				// the message outlives the ticker, which is cancelled on stop
				o.NotifyProgress(context.WithoutCancel(ctx), state.Completed(), state.Total(), label, source)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}

// Close waits for every queued message to be posted. Messages sent after
// Close are dropped.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	queue, done := o.queue, o.done
	o.mu.Unlock()

	if queue == nil {
		return
	}
	close(queue)
	<-done
}

func (o *Outbox) enabled() bool {
	return o != nil && o.n != nil && o.n.poster != nil
}

func (o *Outbox) send(f func()) {
	if !o.enabled() {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		o.n.logger.Warn("notification dropped, outbox closed")
		return
	}
	if o.queue == nil {
		o.queue = make(chan func(), outboxSize)
		o.done = make(chan struct{})
		go func(queue <-chan func(), done chan<- struct{}) {
			defer close(done)
			for f := range queue {
				f()
			}
		}(o.queue, o.done)
	}
	o.queue <- f
}

func (n *StatusNotifier) post(ctx context.Context, msg string) {
	if n == nil || n.poster == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("notifier panic", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.poster.Post(ctx, msg); err != nil {
		n.logger.Warn("notification failed", zap.Error(err))
	}
}
