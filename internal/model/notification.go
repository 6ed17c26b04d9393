package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Notification is a state-machine transition event destined for the
// notification dispatcher. It is written to the outbox in the same database
// transaction as the transition commit, so exactly one row ever exists per
// (submission, state) pair; delivery from the outbox is at-least-once.
type Notification struct {
	OccurredAt     time.Time
	DeliveredAt    *time.Time
	ID             string
	SubmissionID   string
	NewState       SubmissionStatus
	Actor          string
	IdempotencyKey string
	Attempts       int
}

// NotificationKey derives the stable idempotency key for a transition event.
func NotificationKey(submissionID string, newState SubmissionStatus) string {
	sum := sha256.Sum256([]byte(submissionID + "|" + string(newState)))
	return fmt.Sprintf("%x", sum)
}
