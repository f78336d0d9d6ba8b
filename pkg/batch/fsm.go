package batch

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrInvalidTransition = fmt.Errorf("invalid state transition")
)

type Phase string

const (
	PhaseCreated     Phase = "created"
	PhaseValidating  Phase = "validating"
	PhaseRunning     Phase = "running"
	PhaseReconciling Phase = "reconciling"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

// Terminal reports whether a run in this phase has finished, successfully or
// not.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// FSM tracks the lifecycle of a run.
type FSM struct {
	mu          sync.Mutex
	Transitions map[Phase]map[Phase]struct{}

	current Phase
	logger  *zap.Logger
}

type FSMOption func(*FSM)

func FSMWithLogger(logger *zap.Logger) FSMOption {
	return func(f *FSM) {
		f.logger = logger
	}
}

func NewFSM(opts ...FSMOption) *FSM {
	f := &FSM{
		current: PhaseCreated,
		logger:  zap.NewNop(),

		Transitions: map[Phase]map[Phase]struct{}{
			PhaseCreated: {
				PhaseValidating: {},
				PhaseFailed:     {},
			},
			PhaseValidating: {
				PhaseRunning: {},
				PhaseFailed:  {}, // nothing valid to schedule
			},
			PhaseRunning: {
				PhaseReconciling: {},
				PhaseFailed:      {},
			},
			PhaseReconciling: {
				PhaseCompleted: {},
				PhaseFailed:    {}, // persistence failed
			},
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FSM) Current() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FSM) canTransition(to Phase) bool {
	_, ok := f.Transitions[f.current][to]
	return ok
}

func (f *FSM) Transition(to Phase) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.canTransition(to) {
		f.logger.Error("Invalid state transition",
			zap.String("from", string(f.current)),
			zap.String("to", string(to)),
		)
		return ErrInvalidTransition
	}
	previous := f.current
	f.current = to

	f.logger.Info("State transitioned",
		zap.String("state", string(f.current)),
		zap.String("from", string(previous)),
	)
	return nil
}
