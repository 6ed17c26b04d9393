package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// EventSource identifies what produced a payment event.
type EventSource string

// Payment event sources.
const (
	SourceScreenshot     EventSource = "screenshot"
	SourceGatewayWebhook EventSource = "gateway_webhook"
)

// EventStatus is the reconciliation queue state of a payment event.
type EventStatus string

// Queue states for payment events.
const (
	EventQueued     EventStatus = "queued"
	EventProcessing EventStatus = "processing"
	EventDone       EventStatus = "done"
	EventDead       EventStatus = "dead"
)

// PaymentEvent is one normalized unit of work for the reconciliation queue.
// A screenshot upload and a gateway webhook both become a PaymentEvent; the
// idempotency key makes redeliveries of the same external event detectable
// before they reach the state machine.
type PaymentEvent struct {
	ReceivedAt     time.Time
	NextAttemptAt  time.Time
	ID             string
	Source         EventSource
	Provider       string // "paymongo", "billplz"; empty for screenshots
	SubmissionHint string // may be empty for screenshots until the matcher resolves one
	GomID          string
	Channel        string // source channel tag: telegram, discord, web
	Currency       string
	Reference      string
	IdempotencyKey string
	RawPayload     []byte
	Status         EventStatus
	LastError      string
	Amount         int64 // minor units; zero for unparsed screenshots
	Attempts       int
}

// EventIdempotencyKey derives the stable dedup key for an external event.
// The same source and external id always hash to the same key, so webhook
// redeliveries and double-tapped screenshot uploads collapse to one event.
func EventIdempotencyKey(source EventSource, externalID string) string {
	sum := sha256.Sum256([]byte(string(source) + ":" + externalID))
	return fmt.Sprintf("%x", sum)
}

// Validate ensures the event carries everything the queue needs.
func (e *PaymentEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("payment event: missing ID")
	}
	switch e.Source {
	case SourceScreenshot, SourceGatewayWebhook:
	default:
		return fmt.Errorf("payment event: invalid source %q", e.Source)
	}
	if e.IdempotencyKey == "" {
		return fmt.Errorf("payment event: missing idempotency key")
	}
	if e.Source == SourceGatewayWebhook && e.Provider == "" {
		return fmt.Errorf("payment event: webhook event missing provider")
	}
	return nil
}

// LaneKey returns the value used to pick a worker lane. Events that resolved
// to a submission share its lane so they process in strict arrival order;
// unresolved screenshots have no ordering constraint and spread by event id.
func (e *PaymentEvent) LaneKey() string {
	if e.SubmissionHint != "" {
		return e.SubmissionHint
	}
	return e.ID
}
