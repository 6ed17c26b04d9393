package model

import (
	"testing"
)

func TestSubmissionStatus_CanTransition(t *testing.T) {
	tests := []struct {
		name string
		from SubmissionStatus
		to   SubmissionStatus
		want bool
	}{
		{"pending to review", StatusPendingPayment, StatusUnderReview, true},
		{"pending to confirmed (auto or gateway)", StatusPendingPayment, StatusConfirmed, true},
		{"pending to rejected (needs review first)", StatusPendingPayment, StatusRejected, false},
		{"pending to cancelled", StatusPendingPayment, StatusCancelled, true},
		{"review to confirmed", StatusUnderReview, StatusConfirmed, true},
		{"review to rejected", StatusUnderReview, StatusRejected, true},
		{"review to cancelled", StatusUnderReview, StatusCancelled, true},
		{"review back to pending", StatusUnderReview, StatusPendingPayment, false},
		{"confirmed to rejected", StatusConfirmed, StatusRejected, false},
		{"confirmed to pending", StatusConfirmed, StatusPendingPayment, false},
		{"rejected to confirmed", StatusRejected, StatusConfirmed, false},
		{"cancelled to review", StatusCancelled, StatusUnderReview, false},
		{"self transition", StatusPendingPayment, StatusPendingPayment, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestSubmissionStatus_IsTerminal(t *testing.T) {
	terminal := []SubmissionStatus{StatusConfirmed, StatusRejected, StatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	open := []SubmissionStatus{StatusPendingPayment, StatusUnderReview}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestSubmission_Validate(t *testing.T) {
	valid := func() Submission {
		return Submission{
			ID:               "sub-1",
			OrderID:          "ord-1",
			GomID:            "gom-1",
			BuyerPlatform:    "telegram",
			BuyerExternalID:  "12345",
			Quantity:         2,
			UnitPrice:        50000,
			TotalAmount:      100000,
			Currency:         "PHP",
			PaymentReference: "GOMF789123",
			Status:           StatusPendingPayment,
		}
	}

	tests := []struct {
		mutate  func(*Submission)
		name    string
		wantErr bool
	}{
		{name: "valid", mutate: func(_ *Submission) {}, wantErr: false},
		{name: "total not quantity times unit price", mutate: func(s *Submission) { s.TotalAmount = 99999 }, wantErr: true},
		{name: "zero quantity", mutate: func(s *Submission) { s.Quantity = 0 }, wantErr: true},
		{name: "missing reference", mutate: func(s *Submission) { s.PaymentReference = "" }, wantErr: true},
		{name: "missing buyer identity", mutate: func(s *Submission) { s.BuyerExternalID = "" }, wantErr: true},
		{name: "bogus status", mutate: func(s *Submission) { s.Status = "paid" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubmission_BuyerIdentity(t *testing.T) {
	s := Submission{BuyerPlatform: "telegram", BuyerExternalID: "12345"}
	if got := s.BuyerIdentity(); got != "telegram:12345" {
		t.Errorf("BuyerIdentity() = %q", got)
	}
}
