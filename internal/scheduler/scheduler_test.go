package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/usecase"
)

type fakeRunner struct {
	calls    atomic.Int32
	active   atomic.Int32
	overlap  atomic.Bool
	duration time.Duration
	err      error
	panicAt  int32
	onPass   func(n int32)
}

func (f *fakeRunner) RunPass(_ context.Context) (usecase.Stats, error) {
	n := f.calls.Add(1)
	if f.active.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.active.Add(-1)
	if f.panicAt != 0 && n == f.panicAt {
		panic("corrupt state")
	}
	time.Sleep(f.duration)
	if f.onPass != nil {
		f.onPass(n)
	}
	return usecase.Stats{}, f.err
}

func connectTo(r PassRunner) ConnectFunc {
	return func(context.Context) (PassRunner, error) { return r, nil }
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, time.Second, zerolog.Nop())
	require.Error(t, err)
	_, err = New(connectTo(&fakeRunner{}), 0, zerolog.Nop())
	require.Error(t, err)
}

func TestRun_FirstPassImmediatelyThenStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeRunner{onPass: func(int32) { cancel() }}
	s, err := New(connectTo(r), time.Hour, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Run(ctx))
	require.EqualValues(t, 1, r.calls.Load())
	require.Equal(t, Stopped, s.State())
	require.EqualValues(t, 1, s.Passes())
}

func TestRun_RepeatsAtInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeRunner{onPass: func(n int32) {
		if n == 3 {
			cancel()
		}
	}}
	s, err := New(connectTo(r), 5*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Run(ctx))
	require.EqualValues(t, 3, r.calls.Load())
}

func TestRun_PassesNeverOverlap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeRunner{duration: 15 * time.Millisecond, onPass: func(n int32) {
		if n == 4 {
			cancel()
		}
	}}
	s, err := New(connectTo(r), time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Run(ctx))
	require.False(t, r.overlap.Load())
}

func TestRun_PassErrorDoesNotStopScheduler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeRunner{err: usecase.ErrPassInProgress, onPass: func(n int32) {
		if n == 2 {
			cancel()
		}
	}}
	s, err := New(connectTo(r), time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Run(ctx))
	require.EqualValues(t, 2, r.calls.Load())
}

func TestRun_PanicBecomesFault(t *testing.T) {
	r := &fakeRunner{panicAt: 2}
	s, err := New(connectTo(r), time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	err = s.Run(context.Background())
	var fault *FaultError
	require.ErrorAs(t, err, &fault)
	require.Equal(t, "corrupt state", fault.Value)
	require.NotEmpty(t, fault.Stack)
	require.Equal(t, Stopped, s.State())
}

func TestRun_ConnectFailure(t *testing.T) {
	s, err := New(func(context.Context) (PassRunner, error) {
		return nil, errors.New("dial tcp: refused")
	}, time.Second, zerolog.Nop())
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.ErrorContains(t, err, "refused")
	require.Equal(t, Stopped, s.State())
}

func TestRun_CancelWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeRunner{}
	s, err := New(connectTo(r), time.Hour, zerolog.Nop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var runErr error
	go func() {
		defer wg.Done()
		runErr = s.Run(ctx)
	}()

	require.Eventually(t, func() bool { return s.State() == Waiting }, time.Second, time.Millisecond)
	require.True(t, s.Ready())
	cancel()
	wg.Wait()
	require.NoError(t, runErr)
	require.Equal(t, Stopped, s.State())
	require.False(t, s.Ready())
}

func TestRunProtected(t *testing.T) {
	_, err := RunProtected(context.Background(), &fakeRunner{panicAt: 1})
	var fault *FaultError
	require.ErrorAs(t, err, &fault)
	require.Contains(t, fault.Error(), "corrupt state")

	_, err = RunProtected(context.Background(), &fakeRunner{})
	require.NoError(t, err)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "idle", Idle.String())
	require.Equal(t, "shutting_down", ShuttingDown.String())
	require.Equal(t, "state(42)", State(42).String())
}
