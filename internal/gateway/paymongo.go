package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gomflow/payproof/internal/common"
	"github.com/gomflow/payproof/internal/model"
)

// payMongoWebhook mirrors the PayMongo event envelope.
type payMongoWebhook struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Type string `json:"type"`
			Data struct {
				ID         string `json:"id"`
				Attributes struct {
					Metadata map[string]string `json:"metadata"`
					Currency string            `json:"currency"`
					Status   string            `json:"status"`
					Amount   int64             `json:"amount"` // centavos
				} `json:"attributes"`
			} `json:"data"`
		} `json:"attributes"`
	} `json:"data"`
}

// verifyPayMongo checks the Paymongo-Signature header and normalizes a
// payment.paid event. The header carries `t=<ts>,te=<hex>,li=<hex>`; the
// signed message is `<ts>.<rawBody>` and the slot to compare depends on
// whether this deployment receives test or live traffic.
func (a *Adapter) verifyPayMongo(rawBody []byte, header http.Header) (*model.PaymentEvent, error) {
	if a.cfg.PayMongoSecret == "" {
		return nil, fmt.Errorf("%w: paymongo webhook secret", common.ErrMissingConfig)
	}

	ts, testSig, liveSig, err := parsePayMongoSignature(header.Get("Paymongo-Signature"))
	if err != nil {
		return nil, err
	}

	want := liveSig
	if !a.cfg.PayMongoLive {
		want = testSig
	}
	if want == "" {
		return nil, fmt.Errorf("%w: signature slot missing", common.ErrSignature)
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.PayMongoSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	computed := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computed), []byte(want)) {
		return nil, fmt.Errorf("%w: paymongo signature mismatch", common.ErrSignature)
	}

	var webhook payMongoWebhook
	if err := json.Unmarshal(rawBody, &webhook); err != nil {
		return nil, fmt.Errorf("%w: malformed paymongo payload: %v", common.ErrInvalidInput, err)
	}
	if webhook.Data.ID == "" {
		return nil, fmt.Errorf("%w: paymongo payload missing event id", common.ErrInvalidInput)
	}

	eventType := webhook.Data.Attributes.Type
	if eventType != "payment.paid" {
		slog.Info("Ignoring paymongo event type", "type", eventType, "event_id", webhook.Data.ID)
		return nil, nil
	}

	payment := webhook.Data.Attributes.Data

	return &model.PaymentEvent{
		ID:             newEventID(),
		Source:         model.SourceGatewayWebhook,
		Provider:       ProviderPayMongo,
		SubmissionHint: payment.Attributes.Metadata["submission_id"],
		GomID:          payment.Attributes.Metadata["gom_id"],
		Amount:         payment.Attributes.Amount,
		Currency:       strings.ToUpper(payment.Attributes.Currency),
		Reference:      payment.ID,
		IdempotencyKey: model.EventIdempotencyKey(model.SourceGatewayWebhook, webhook.Data.ID),
		RawPayload:     rawBody,
	}, nil
}

// parsePayMongoSignature splits `t=<ts>,te=<hex>,li=<hex>`.
func parsePayMongoSignature(header string) (ts, testSig, liveSig string, err error) {
	if header == "" {
		return "", "", "", fmt.Errorf("%w: missing Paymongo-Signature header", common.ErrSignature)
	}

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "te":
			testSig = value
		case "li":
			liveSig = value
		}
	}
	if ts == "" {
		return "", "", "", fmt.Errorf("%w: malformed Paymongo-Signature header", common.ErrSignature)
	}
	return ts, testSig, liveSig, nil
}
