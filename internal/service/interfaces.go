// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/gomflow/payproof/internal/model"
)

// SubmissionFilter defines filtering options for submission queries.
type SubmissionFilter struct {
	GomID   string
	OrderID string
	Status  []model.SubmissionStatus
	Limit   int
	Offset  int
}

// Storage defines the contract for the persistence layer.
type Storage interface {
	// Submission operations.
	CreateSubmission(ctx context.Context, submission *model.Submission) error
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	GetSubmissionByReference(ctx context.Context, reference string) (*model.Submission, error)
	GetSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error)
	GetOpenSubmissions(ctx context.Context, gomID, orderID string) ([]model.Submission, error)

	// TransitionSubmission is the compare-and-swap commit: the row is
	// updated only if its current status equals expected. A concurrent
	// transition makes it return common.ErrInvalidTransition with zero
	// side effects; the caller re-reads and decides whether its event is
	// now moot.
	TransitionSubmission(ctx context.Context, t *model.Transition) error

	// Payment event / reconciliation queue operations.
	InsertPaymentEvent(ctx context.Context, event *model.PaymentEvent) error
	GetPaymentEvent(ctx context.Context, id string) (*model.PaymentEvent, error)
	ClaimDueEvents(ctx context.Context, limit int) ([]model.PaymentEvent, error)
	ClaimEvent(ctx context.Context, id string) (*model.PaymentEvent, error)
	RecoverInFlightEvents(ctx context.Context) (int, error)
	CompleteEvent(ctx context.Context, id string, audit string) error
	RescheduleEvent(ctx context.Context, id string, attempts int, nextAttempt time.Time, lastError string) error
	DeadLetterEvent(ctx context.Context, id string, lastError string) error
	GetDeadLetteredEvents(ctx context.Context, limit int) ([]model.PaymentEvent, error)
	RequeueEvent(ctx context.Context, id string) error

	// Notification outbox operations.
	GetPendingNotifications(ctx context.Context, limit int) ([]model.Notification, error)
	MarkNotificationDelivered(ctx context.Context, id string) error
	BumpNotificationAttempts(ctx context.Context, id string) error

	// Database management.
	Migrate(ctx context.Context) error
	Close() error
}

// Extractor produces confidence-scored payment candidates from an image.
type Extractor interface {
	Extract(ctx context.Context, imageBytes []byte, contextHint string) (model.ExtractionResult, error)
}

// Notifier delivers a state transition event to the notification
// dispatcher. Implementations own their transport; the core guarantees
// at-least-once invocation with a stable idempotency key.
type Notifier interface {
	Send(ctx context.Context, notification model.Notification) error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
