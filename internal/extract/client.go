// Package extract turns payment-proof screenshots into confidence-scored
// payment candidates via a vision model.
package extract

import (
	"context"
	"time"
)

// Client defines the interface for vision extraction providers.
type Client interface {
	ExtractPayments(ctx context.Context, req VisionRequest) (VisionResponse, error)
}

// VisionRequest is one screenshot plus optional context for the model.
type VisionRequest struct {
	MediaType   string // image/jpeg, image/png, image/webp
	ImageBase64 string
	ContextHint string // e.g. the expected currency or order context
}

// VisionResponse is the provider's parsed reading of the screenshot.
type VisionResponse struct {
	Payments []VisionPayment
}

// VisionPayment mirrors what the model reports for one payment it can see.
// Amounts arrive in decimal currency units and are converted to minor units
// by the engine.
type VisionPayment struct {
	Timestamp   *time.Time
	Confidences map[string]float64
	Currency    string
	Reference   string
	Method      string
	Amount      float64
}
