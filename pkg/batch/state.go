package batch

import (
	"sync/atomic"
	"time"
)

// State holds the counters of a single run. Only the scheduler loop writes
// them; the notifier reads them from its own goroutine.
type State struct {
	total     int
	completed atomic.Int64
	groups    atomic.Int64

	StartedAt time.Time
}

func NewState(total int) *State {
	return &State{
		total:     total,
		StartedAt: time.Now(),
	}
}

func (s *State) Total() int {
	return s.total
}

func (s *State) Completed() int {
	return int(s.completed.Load())
}

func (s *State) Groups() int {
	return int(s.groups.Load())
}

// Fraction returns completed/total, or zero for an empty run.
func (s *State) Fraction() float64 {
	if s.total == 0 {
		return 0
	}
	return float64(s.Completed()) / float64(s.total)
}

func (s *State) advance(n int) int {
	s.groups.Add(1)
	return int(s.completed.Add(int64(n)))
}
