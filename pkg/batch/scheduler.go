package batch

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultGroupSize bounds the number of concurrent adapter calls.
const DefaultGroupSize = 10

// ProgressEvent is emitted once per completed group.
type ProgressEvent struct {
	Group     int     `json:"-"`
	Completed int     `json:"-"`
	Total     int     `json:"-"`
	Fraction  float64 `json:"progress"`
}

// GroupCallback is invoked synchronously after each group settles.
type GroupCallback func(ProgressEvent)

// Scheduler drives records through a WorkAdapter in sequential groups, with
// every record of a group processed concurrently.
type Scheduler struct {
	adapter   WorkAdapter
	groupSize int
	logger    *zap.Logger
}

type SchedulerOption func(*Scheduler)

func SchedulerWithGroupSize(n int) SchedulerOption {
	return func(s *Scheduler) {
		s.groupSize = n
	}
}

func SchedulerWithLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = l
	}
}

func NewScheduler(adapter WorkAdapter, opts ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		adapter:   adapter,
		groupSize: DefaultGroupSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.groupSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidGroupSize, s.groupSize)
	}
	if s.adapter == nil {
		return nil, fmt.Errorf("scheduler requires a work adapter")
	}
	return s, nil
}

func (s *Scheduler) GroupSize() int {
	return s.groupSize
}

// Groups returns the [start, end) bounds of each group for n records.
func (s *Scheduler) Groups(n int) [][2]int {
	var groups [][2]int
	for start := 0; start < n; start += s.groupSize {
		end := min(start+s.groupSize, n)
		groups = append(groups, [2]int{start, end})
	}
	return groups
}

// Run processes records and returns one Outcome per record in input order.
// Record failures never stop the run; the only error is ErrNoRecords.
func (s *Scheduler) Run(ctx context.Context, records []Record, state *State, onGroup GroupCallback) ([]Outcome, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	if state == nil {
		state = NewState(len(records))
	}

	results := make([]Outcome, 0, len(records))
	for gi, bounds := range s.Groups(len(records)) {
		group := records[bounds[0]:bounds[1]]
		outcomes := s.runGroup(ctx, group)
		results = append(results, outcomes...)

		completed := state.advance(len(group))
		ev := ProgressEvent{
			Group:     gi,
			Completed: completed,
			Total:     state.Total(),
			Fraction:  float64(completed) / float64(state.Total()),
		}

		s.logger.Info("group complete",
			zap.Int("group", gi),
			zap.Int("size", len(group)),
			zap.Int("completed", completed),
			zap.Int("total", state.Total()),
		)

		if onGroup != nil {
			onGroup(ev)
		}
	}
	return results, nil
}

func (s *Scheduler) runGroup(ctx context.Context, group []Record) []Outcome {
	outcomes := make([]Outcome, len(group))

	// Every task returns nil so one record can never cancel its siblings.
	var g errgroup.Group
	for i, rec := range group {
		i, rec := i, rec
		g.Go(func() error {
			outcomes[i] = s.process(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *Scheduler) process(ctx context.Context, rec Record) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("adapter panic",
				zap.String("record_id", rec.ID),
				zap.Any("panic", r),
			)
			out = Failure(rec, fmt.Sprintf("panic: %v", r))
		}
	}()

	artifacts, err := s.adapter.Process(ctx, rec)
	if err != nil {
		s.logger.Warn("record failed",
			zap.String("record_id", rec.ID),
			zap.String("url", rec.ReferenceURL),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err),
		)
		return Failure(rec, err.Error())
	}
	return Success(rec, artifacts)
}
