package server

import (
	"time"

	"github.com/gomflow/payproof/internal/model"
)

// createSubmissionRequest is the intake payload for a new submission.
type createSubmissionRequest struct {
	OrderID         string `json:"order_id" binding:"required"`
	GomID           string `json:"gom_id" binding:"required"`
	BuyerPlatform   string `json:"buyer_platform" binding:"required"`
	BuyerExternalID string `json:"buyer_external_id" binding:"required"`
	Currency        string `json:"currency" binding:"required"`
	PaymentMethod   string `json:"payment_method" binding:"required"`
	Quantity        int64  `json:"quantity" binding:"required"`
	UnitPrice       int64  `json:"unit_price" binding:"required"`
}

// submissionResponse is the public view of a submission.
type submissionResponse struct {
	ID                string     `json:"id"`
	OrderID           string     `json:"order_id"`
	GomID             string     `json:"gom_id"`
	Buyer             string     `json:"buyer"`
	Quantity          int64      `json:"quantity"`
	UnitPrice         int64      `json:"unit_price"`
	TotalAmount       int64      `json:"total_amount"`
	Currency          string     `json:"currency"`
	PaymentMethod     string     `json:"payment_method"`
	PaymentReference  string     `json:"payment_reference"`
	Status            string     `json:"status"`
	VerifiedBy        string     `json:"verified_by,omitempty"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	VerificationNotes string     `json:"verification_notes,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func toSubmissionResponse(s *model.Submission) submissionResponse {
	return submissionResponse{
		ID:                s.ID,
		OrderID:           s.OrderID,
		GomID:             s.GomID,
		Buyer:             s.BuyerIdentity(),
		Quantity:          s.Quantity,
		UnitPrice:         s.UnitPrice,
		TotalAmount:       s.TotalAmount,
		Currency:          s.Currency,
		PaymentMethod:     s.PaymentMethod,
		PaymentReference:  s.PaymentReference,
		Status:            string(s.Status),
		VerifiedBy:        s.VerifiedBy,
		VerifiedAt:        s.VerifiedAt,
		VerificationNotes: s.VerificationNotes,
		CreatedAt:         s.CreatedAt,
	}
}

// proofRequest uploads payment proof as base64. Multipart uploads use the
// "image" file field instead and the remaining fields as form values.
type proofRequest struct {
	ImageBase64 string `json:"image_base64"`
	Channel     string `json:"channel"`
	GomID       string `json:"gom_id"`
	Reference   string `json:"reference"`
}

// proofResponse is the synchronous outcome of a proof upload.
type proofResponse struct {
	Outcome      string `json:"outcome"`
	SubmissionID string `json:"submission_id,omitempty"`
	Message      string `json:"message"`
	EventID      string `json:"event_id"`
}

// buyer-facing messages per outcome
var outcomeMessages = map[string]string{
	"confirmed":    "payment confirmed",
	"under_review": "we're reviewing your payment",
	"no_match":     "we couldn't match this payment, please check your reference number",
	"processing":   "we're processing your payment proof",
	"duplicate":    "we already received this payment proof",
}

// decisionRequest is a GOM verdict on a reviewable submission.
type decisionRequest struct {
	Decision string `json:"decision" binding:"required"`
	Notes    string `json:"notes"`
}

// cancelRequest withdraws a submission; the note is optional audit context.
type cancelRequest struct {
	Notes string `json:"notes"`
}

// deadLetterResponse is the operator view of a parked event.
type deadLetterResponse struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"`
	Provider       string    `json:"provider,omitempty"`
	SubmissionHint string    `json:"submission_hint,omitempty"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency,omitempty"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error"`
	ReceivedAt     time.Time `json:"received_at"`
}

func toDeadLetterResponse(e model.PaymentEvent) deadLetterResponse {
	return deadLetterResponse{
		ID:             e.ID,
		Source:         string(e.Source),
		Provider:       e.Provider,
		SubmissionHint: e.SubmissionHint,
		Amount:         e.Amount,
		Currency:       e.Currency,
		Attempts:       e.Attempts,
		LastError:      e.LastError,
		ReceivedAt:     e.ReceivedAt,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}
