// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEvent = errors.New("duplicate event")

	// Input errors: bad image or payload, surfaced to the caller, never retried.
	ErrInvalidInput = errors.New("invalid input")

	// Webhook authentication failure: logged, rejected, never retried.
	ErrSignature = errors.New("invalid webhook signature")

	// State machine guard violation. Callers treat this as an idempotent
	// no-op: redelivering a webhook after the submission is terminal is not
	// a failure, but it changes nothing and emits nothing.
	ErrInvalidTransition = errors.New("invalid state transition")

	// Matcher tie-break: two submissions scored within epsilon, routed to
	// manual review instead of guessing.
	ErrAmbiguousMatch = errors.New("ambiguous match")

	// External API errors.
	ErrRateLimit  = errors.New("rate limit exceeded")
	ErrMaxRetries = errors.New("max retries exceeded")

	// Queue retry budget exhausted; the event is dead-lettered.
	ErrQueueExhausted = errors.New("queue retries exhausted")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// RetryableError wraps an error with retry-specific metadata.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if an error should trigger a retry. Business-rule
// outcomes (invalid transition, ambiguous match, bad input, bad signature)
// are terminal for their event and never retried.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrSignature) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAmbiguousMatch) {
		return false
	}

	// An exhausted inner retry loop is still transient from the queue's
	// point of view; the event gets another attempt after backoff.
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrMaxRetries) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
