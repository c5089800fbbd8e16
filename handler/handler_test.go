package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/scheduler"
	"chat-sync/internal/usecase"
)

type stubRunner struct {
	stats usecase.Stats
	err   error
	panic any
	calls int
}

func (s *stubRunner) RunPass(context.Context) (usecase.Stats, error) {
	s.calls++
	if s.panic != nil {
		panic(s.panic)
	}
	return s.stats, s.err
}

func makeEvent() events.CloudWatchEvent {
	return events.CloudWatchEvent{
		ID:         "evt-1",
		DetailType: "Scheduled Event",
		Source:     "aws.events",
		Time:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Detail:     json.RawMessage(`{}`),
	}
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil, zerolog.Nop())
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	r := &stubRunner{stats: usecase.Stats{
		RunID:          "run-1",
		TotalUsers:     3,
		ProcessedUsers: 2,
		ErrorUsers:     1,
		TotalChats:     5,
		TotalMessages:  40,
		RawBytes:       1000,
		MinimizedBytes: 250,
		Duration:       1500 * time.Millisecond,
	}}
	h, err := NewHandler(r, zerolog.Nop())
	require.NoError(t, err)

	res, err := h.Handle(context.Background(), makeEvent())
	require.NoError(t, err)
	require.Equal(t, 1, r.calls)
	require.Equal(t, StatusCompleted, res.Status)
	require.Equal(t, "run-1", res.RunID)
	require.Equal(t, "evt-1", res.EventID)
	require.Equal(t, 2, res.ProcessedUsers)
	require.Equal(t, 40, res.TotalMessages)
	require.InDelta(t, 75.0, res.SavingsPercent, 0.001)
	require.EqualValues(t, 1500, res.DurationMs)
}

func TestHandle_LeaseHeldIsSkipped(t *testing.T) {
	h, err := NewHandler(&stubRunner{err: usecase.ErrPassInProgress}, zerolog.Nop())
	require.NoError(t, err)

	res, err := h.Handle(context.Background(), makeEvent())
	require.NoError(t, err)
	require.Equal(t, StatusSkipped, res.Status)
}

func TestHandle_Errors(t *testing.T) {
	cases := []struct {
		name   string
		runner *stubRunner
		check  func(t *testing.T, err error)
	}{
		{
			name:   "lease failure",
			runner: &stubRunner{err: &usecase.Error{Code: usecase.ErrorLease, Reason: "acquire_failed"}},
			check: func(t *testing.T, err error) {
				code, ok := usecase.CodeOf(err)
				require.True(t, ok)
				require.Equal(t, usecase.ErrorLease, code)
			},
		},
		{
			name:   "cancelled",
			runner: &stubRunner{err: context.Canceled},
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, context.Canceled) },
		},
		{
			name:   "panic",
			runner: &stubRunner{panic: errors.New("nil map")},
			check: func(t *testing.T, err error) {
				var fault *scheduler.FaultError
				require.ErrorAs(t, err, &fault)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NewHandler(tc.runner, zerolog.Nop())
			require.NoError(t, err)

			_, err = h.Handle(context.Background(), makeEvent())
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}
