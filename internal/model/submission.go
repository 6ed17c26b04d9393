// Package model defines the core domain models used throughout the application.
package model

import (
	"fmt"
	"time"
)

// SubmissionStatus is the lifecycle state of a buyer's submission.
type SubmissionStatus string

// Submission lifecycle states.
const (
	StatusPendingPayment SubmissionStatus = "pending_payment"
	StatusUnderReview    SubmissionStatus = "under_review"
	StatusConfirmed      SubmissionStatus = "confirmed"
	StatusRejected       SubmissionStatus = "rejected"
	StatusCancelled      SubmissionStatus = "cancelled"
)

// Verification actor identifiers for transitions not made by a human GOM.
const (
	ActorSystemAuto    = "system:auto"
	ActorSystemGateway = "system:gateway"
)

// IsTerminal reports whether no further transitions are allowed from the state.
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case StatusConfirmed, StatusRejected, StatusCancelled:
		return true
	case StatusPendingPayment, StatusUnderReview:
		return false
	}
	return false
}

// CanTransition reports whether the state graph permits moving from s to next.
func (s SubmissionStatus) CanTransition(next SubmissionStatus) bool {
	switch s {
	case StatusPendingPayment:
		// Rejection is only reachable through review; a payment that never
		// arrived stays pending until cancelled.
		return next == StatusUnderReview || next == StatusConfirmed || next == StatusCancelled
	case StatusUnderReview:
		return next == StatusConfirmed || next == StatusRejected || next == StatusCancelled
	case StatusConfirmed, StatusRejected, StatusCancelled:
		return false
	}
	return false
}

// Submission represents one buyer's claim against one group order.
type Submission struct {
	CreatedAt         time.Time
	UpdatedAt         time.Time
	VerifiedAt        *time.Time
	ID                string
	OrderID           string
	GomID             string
	BuyerPlatform     string // e.g. "telegram", "discord", "web"
	BuyerExternalID   string
	Currency          string
	PaymentMethod     string
	PaymentReference  string // system-generated, unique, the human correlation key
	Status            SubmissionStatus
	VerifiedBy        string
	VerificationNotes string
	Quantity          int64
	UnitPrice         int64 // minor units
	TotalAmount       int64 // minor units; always Quantity * UnitPrice
}

// BuyerIdentity returns the platform-qualified buyer id, e.g. "telegram:12345".
func (s *Submission) BuyerIdentity() string {
	return s.BuyerPlatform + ":" + s.BuyerExternalID
}

// Validate ensures the submission satisfies its creation invariants.
func (s *Submission) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("submission: missing ID")
	}
	if s.OrderID == "" {
		return fmt.Errorf("submission: missing order ID")
	}
	if s.GomID == "" {
		return fmt.Errorf("submission: missing GOM ID")
	}
	if s.BuyerPlatform == "" || s.BuyerExternalID == "" {
		return fmt.Errorf("submission: missing buyer identity")
	}
	if s.Quantity <= 0 {
		return fmt.Errorf("submission: quantity must be positive, got %d", s.Quantity)
	}
	if s.UnitPrice <= 0 {
		return fmt.Errorf("submission: unit price must be positive, got %d", s.UnitPrice)
	}
	if s.TotalAmount != s.Quantity*s.UnitPrice {
		return fmt.Errorf("submission: total %d != quantity %d * unit price %d",
			s.TotalAmount, s.Quantity, s.UnitPrice)
	}
	if s.Currency == "" {
		return fmt.Errorf("submission: missing currency")
	}
	if s.PaymentReference == "" {
		return fmt.Errorf("submission: missing payment reference")
	}
	switch s.Status {
	case StatusPendingPayment, StatusUnderReview, StatusConfirmed, StatusRejected, StatusCancelled:
	default:
		return fmt.Errorf("submission: invalid status %q", s.Status)
	}
	return nil
}
