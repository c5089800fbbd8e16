// Package scheduler drives sync passes at a fixed interval and owns the
// process lifecycle states.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"chat-sync/internal/usecase"
)

type State int32

const (
	Idle State = iota
	Connecting
	Running
	Waiting
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// FaultError reports a panic raised during a pass.
type FaultError struct {
	Value any
	Stack []byte
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("scheduler: pass panicked: %v", e.Value)
}

type PassRunner interface {
	RunPass(ctx context.Context) (usecase.Stats, error)
}

// ConnectFunc opens the stores and returns the runner that uses them.
type ConnectFunc func(ctx context.Context) (PassRunner, error)

type Scheduler struct {
	connect  ConnectFunc
	interval time.Duration
	log      zerolog.Logger

	state  atomic.Int32
	passes atomic.Int64
}

func New(connect ConnectFunc, interval time.Duration, log zerolog.Logger) (*Scheduler, error) {
	if connect == nil {
		return nil, errors.New("scheduler: connect must not be nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be positive, got %s", interval)
	}
	return &Scheduler{connect: connect, interval: interval, log: log}, nil
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Ready reports whether the stores are connected and passes are being run.
func (s *Scheduler) Ready() bool {
	st := s.State()
	return st == Running || st == Waiting
}

// Passes is the number of passes finished so far.
func (s *Scheduler) Passes() int64 {
	return s.passes.Load()
}

func (s *Scheduler) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.log.Debug().Str("from", prev.String()).Str("to", st.String()).Msg("state change")
	}
}

// Run connects, runs a pass immediately and then one pass per interval until
// ctx is cancelled. The next timer is armed only after a pass completes, so
// passes never overlap. Cancellation returns nil. A connect failure or a
// panicking pass (*FaultError) is returned.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.setState(Stopped)

	s.setState(Connecting)
	runner, err := s.connect(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: connect: %w", err)
	}
	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")

	for {
		s.setState(Running)
		if _, err := RunProtected(ctx, runner); err != nil {
			var fault *FaultError
			if errors.As(err, &fault) {
				s.setState(ShuttingDown)
				return fault
			}
			if ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("pass did not complete")
			}
		}
		s.passes.Add(1)

		if ctx.Err() != nil {
			s.setState(ShuttingDown)
			s.log.Info().Msg("shutdown requested")
			return nil
		}

		s.setState(Waiting)
		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(ShuttingDown)
			s.log.Info().Msg("shutdown requested")
			return nil
		case <-timer.C:
		}
	}
}

// RunProtected runs a single pass, converting a panic into a *FaultError.
func RunProtected(ctx context.Context, r PassRunner) (stats usecase.Stats, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &FaultError{Value: v, Stack: debug.Stack()}
		}
	}()
	return r.RunPass(ctx)
}
