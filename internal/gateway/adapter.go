// Package gateway verifies and normalizes inbound payment webhooks.
package gateway

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/gomflow/payproof/internal/common"
	"github.com/gomflow/payproof/internal/config"
	"github.com/gomflow/payproof/internal/model"
)

// Supported gateway providers.
const (
	ProviderPayMongo = "paymongo"
	ProviderBillplz  = "billplz"
)

// Adapter turns a raw webhook delivery into a normalized PaymentEvent.
// Signature verification is unconditional and happens before any business
// parsing; a payload that fails it never reaches the queue.
type Adapter struct {
	cfg config.GatewaysConfig
}

// NewAdapter creates a webhook adapter with the configured signing secrets.
func NewAdapter(cfg config.GatewaysConfig) *Adapter {
	return &Adapter{cfg: cfg}
}

// Verify authenticates and normalizes one webhook delivery. A nil event
// with a nil error means the delivery was authentic but carries an event
// type this service does not act on; the caller acknowledges it anyway.
func (a *Adapter) Verify(provider string, rawBody []byte, header http.Header) (*model.PaymentEvent, error) {
	switch provider {
	case ProviderPayMongo:
		return a.verifyPayMongo(rawBody, header)
	case ProviderBillplz:
		return a.verifyBillplz(rawBody, header)
	default:
		return nil, fmt.Errorf("%w: unknown gateway provider %q", common.ErrInvalidInput, provider)
	}
}

// newEventID mints the internal id for a normalized event.
func newEventID() string {
	return "pe-" + uuid.NewString()
}
