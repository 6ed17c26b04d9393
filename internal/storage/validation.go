package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gomflow/payproof/internal/model"
)

// Validation errors.
var (
	ErrNilContext   = errors.New("context cannot be nil")
	ErrEmptyString  = errors.New("string parameter cannot be empty")
	ErrNilParameter = errors.New("parameter cannot be nil")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateSubmission validates a submission before persistence.
func validateSubmission(submission *model.Submission) error {
	if submission == nil {
		return fmt.Errorf("%w: submission", ErrNilParameter)
	}
	return submission.Validate()
}

// validateEvent validates a payment event before persistence.
func validateEvent(event *model.PaymentEvent) error {
	if event == nil {
		return fmt.Errorf("%w: event", ErrNilParameter)
	}
	return event.Validate()
}

// validateTransition validates a transition request.
func validateTransition(t *model.Transition) error {
	if t == nil {
		return fmt.Errorf("%w: transition", ErrNilParameter)
	}
	return t.Validate()
}
