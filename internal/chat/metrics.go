package chat

import (
	"context"
	"errors"
	"log"
	"time"
)

// Event describes one send attempt for the operational pipeline.
type Event struct {
	SessionID    string    `json:"session_id"`
	Outcome      string    `json:"outcome"`
	DurationMs   int64     `json:"duration_ms"`
	TokensInput  int       `json:"tokens_input"`
	TokensOutput int       `json:"tokens_output"`
	At           time.Time `json:"at"`
}

type EventPublisher interface {
	PublishChatEvent(ctx context.Context, e Event) error
}

// Sender is the orchestrator entry point the HTTP layer depends on.
type Sender interface {
	Send(ctx context.Context, userID uint64, sessionID string, text string) (*TurnResult, error)
}

// InstrumentedSender wraps Send with duration/outcome recording and event
// publishing. It never alters control flow: expected user-facing outcomes are
// not logged as failures, infrastructure faults are logged with full context,
// and a publish failure is log-only.
type InstrumentedSender struct {
	next   Sender
	events EventPublisher
}

func NewInstrumentedSender(next Sender, events EventPublisher) *InstrumentedSender {
	return &InstrumentedSender{next: next, events: events}
}

func (s *InstrumentedSender) Send(ctx context.Context, userID uint64, sessionID string, text string) (*TurnResult, error) {
	started := time.Now()
	result, err := s.next.Send(ctx, userID, sessionID, text)
	duration := time.Since(started)

	e := Event{
		SessionID:  sessionID,
		Outcome:    outcomeOf(err),
		DurationMs: duration.Milliseconds(),
		At:         started,
	}
	if result != nil {
		e.TokensInput = result.TokensInput
		e.TokensOutput = result.TokensOutput
	}

	switch e.Outcome {
	case "upstream_error", "conflict", "internal_error":
		log.Printf("[chat] send failed session_id=%s outcome=%s duration_ms=%d err=%v",
			sessionID, e.Outcome, e.DurationMs, err)
	default:
		log.Printf("[chat] send session_id=%s outcome=%s duration_ms=%d tokens_in=%d tokens_out=%d",
			sessionID, e.Outcome, e.DurationMs, e.TokensInput, e.TokensOutput)
	}

	if s.events != nil {
		if pubErr := s.events.PublishChatEvent(ctx, e); pubErr != nil {
			log.Printf("[chat] event publish failed session_id=%s err=%v", sessionID, pubErr)
		}
	}

	return result, err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrModerationRejected):
		return "moderation_rejected"
	case errors.Is(err, ErrBudgetExceeded):
		return "budget_exceeded"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermission):
		return "permission_denied"
	case errors.Is(err, ErrUpstream):
		return "upstream_error"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal_error"
	}
}
