package gen

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ParseFunc turns raw model text into a candidate value. It should lean on
// Salvage before giving up.
type ParseFunc[T any] func(raw string) (T, error)

// ValidateFunc judges a parsed candidate against the generator's contract.
type ValidateFunc[T any] func(v T) Verdict

// GenerationError is returned once the retry budget is exhausted. It carries
// the last diagnostic so callers can surface a meaningful turn failure
// instead of a default-filled result.
type GenerationError struct {
	Generator  string
	Attempts   int
	LastReason string
	Err        error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: no valid result after %d attempts: %s: %v", e.Generator, e.Attempts, e.LastReason, e.Err)
	}
	return fmt.Sprintf("%s: no valid result after %d attempts: %s", e.Generator, e.Attempts, e.LastReason)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Structured drives one prompt through the parse -> validate -> retry loop
// until the backend produces a value that honors the contract. Every
// generator in this package is a specialization of this type; the feedback
// and backoff semantics live in exactly one place.
type Structured[T any] struct {
	Name        string
	Backend     Backend
	Parse       ParseFunc[T]
	Validate    ValidateFunc[T]
	MaxAttempts int
	Backoff     time.Duration
	Log         zerolog.Logger
}

// Generate renders nothing itself; it takes fully-built messages and loops:
// call the backend, parse, validate. On a parse or validation failure the
// offending answer and the violated rule are appended to the conversation and
// the model is asked again, with a linearly growing backoff between attempts.
func (s *Structured[T]) Generate(ctx context.Context, messages []Message) (T, error) {
	var zero T

	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	attemptMsgs := messages
	var lastReason string
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, s.Backoff*time.Duration(attempt-1)); err != nil {
				return zero, err
			}
		}

		raw, err := s.Backend.Chat(ctx, attemptMsgs)
		if err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			lastReason = "backend call failed"
			lastErr = err
			s.Log.Warn().Str("generator", s.Name).Int("attempt", attempt).Err(err).Msg("backend call failed")
			continue
		}

		candidate, err := s.Parse(raw)
		if err != nil {
			lastReason = fmt.Sprintf("unparseable response: %v", err)
			lastErr = nil
			attemptMsgs = withFeedback(messages, raw, lastReason)
			s.Log.Debug().Str("generator", s.Name).Int("attempt", attempt).Str("reason", lastReason).Msg("parse failed, retrying with feedback")
			continue
		}

		verdict := Valid()
		if s.Validate != nil {
			verdict = s.Validate(candidate)
		}
		if verdict.OK {
			return candidate, nil
		}

		lastReason = verdict.Reason
		lastErr = nil
		attemptMsgs = withFeedback(messages, raw, verdict.Reason)
		s.Log.Debug().Str("generator", s.Name).Int("attempt", attempt).Str("reason", verdict.Reason).Msg("validation failed, retrying with feedback")
	}

	return zero, &GenerationError{
		Generator:  s.Name,
		Attempts:   maxAttempts,
		LastReason: lastReason,
		Err:        lastErr,
	}
}

// withFeedback rebuilds the conversation from the original messages plus the
// rejected answer and the specific rule it violated.
func withFeedback(base []Message, rejected, reason string) []Message {
	out := make([]Message, 0, len(base)+2)
	out = append(out, base...)
	out = append(out, Message{Role: RoleAssistant, Content: rejected})
	out = append(out, Message{
		Role:    RoleUser,
		Content: fmt.Sprintf("Your previous answer was rejected: %s\nAnswer again and follow every rule exactly.", reason),
	})
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
