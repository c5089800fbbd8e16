// Package handler runs one sync pass per scheduled Lambda invocation.
package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"chat-sync/internal/scheduler"
	"chat-sync/internal/usecase"
)

const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
)

// Result is returned to the Lambda runtime after each invocation.
type Result struct {
	Status         string  `json:"status"`
	RunID          string  `json:"runId,omitempty"`
	EventID        string  `json:"eventId,omitempty"`
	TotalUsers     int     `json:"totalUsers"`
	ProcessedUsers int     `json:"processedUsers"`
	ErrorUsers     int     `json:"errorUsers"`
	TotalChats     int     `json:"totalChats"`
	TotalMessages  int     `json:"totalMessages"`
	SkippedChats   int     `json:"skippedChats"`
	FailedChats    int     `json:"failedChats"`
	SavingsPercent float64 `json:"savingsPercent"`
	DurationMs     int64   `json:"durationMs"`
}

type Handler struct {
	runner scheduler.PassRunner
	log    zerolog.Logger
}

func NewHandler(runner scheduler.PassRunner, log zerolog.Logger) (*Handler, error) {
	if runner == nil {
		return nil, errors.New("handler: runner must not be nil")
	}
	return &Handler{runner: runner, log: log}, nil
}

// Handle runs one pass for an EventBridge schedule event. A pass skipped
// because another holds the lease is not a failure.
func (h *Handler) Handle(ctx context.Context, event events.CloudWatchEvent) (Result, error) {
	log := h.log.With().Str("event_id", event.ID).Logger()

	stats, err := scheduler.RunProtected(ctx, h.runner)
	switch {
	case errors.Is(err, usecase.ErrPassInProgress):
		log.Info().Msg("pass skipped")
		return Result{Status: StatusSkipped, RunID: stats.RunID, EventID: event.ID}, nil
	case err != nil:
		var fault *scheduler.FaultError
		if errors.As(err, &fault) {
			log.Error().Str("stack", string(fault.Stack)).Msg("pass panicked")
		} else {
			log.Error().Err(err).Msg("pass failed")
		}
		return Result{}, fmt.Errorf("handler: Handle: %w", err)
	}

	return Result{
		Status:         StatusCompleted,
		RunID:          stats.RunID,
		EventID:        event.ID,
		TotalUsers:     stats.TotalUsers,
		ProcessedUsers: stats.ProcessedUsers,
		ErrorUsers:     stats.ErrorUsers,
		TotalChats:     stats.TotalChats,
		TotalMessages:  stats.TotalMessages,
		SkippedChats:   stats.SkippedChats,
		FailedChats:    stats.FailedChats,
		SavingsPercent: stats.SavingsPercent(),
		DurationMs:     stats.Duration.Milliseconds(),
	}, nil
}
