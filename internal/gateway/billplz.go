package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/gomflow/payproof/internal/common"
	"github.com/gomflow/payproof/internal/model"
)

// verifyBillplz checks the x_signature of a form-encoded bill callback and
// normalizes a paid bill. Billplz signs the sorted `key|value` concatenation
// of every callback field except the signature itself.
func (a *Adapter) verifyBillplz(rawBody []byte, header http.Header) (*model.PaymentEvent, error) {
	if a.cfg.BillplzXSignKey == "" {
		return nil, fmt.Errorf("%w: billplz x-signature key", common.ErrMissingConfig)
	}

	values, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed billplz callback body: %v", common.ErrInvalidInput, err)
	}

	signature := values.Get("x_signature")
	if signature == "" {
		signature = header.Get("X-Signature")
	}
	if signature == "" {
		return nil, fmt.Errorf("%w: missing billplz x_signature", common.ErrSignature)
	}

	computed := billplzSignature(values, a.cfg.BillplzXSignKey)
	if !hmac.Equal([]byte(computed), []byte(strings.ToLower(signature))) {
		return nil, fmt.Errorf("%w: billplz signature mismatch", common.ErrSignature)
	}

	billID := values.Get("id")
	if billID == "" {
		return nil, fmt.Errorf("%w: billplz callback missing bill id", common.ErrInvalidInput)
	}

	if values.Get("paid") != "true" {
		slog.Info("Ignoring unpaid billplz callback", "bill_id", billID, "state", values.Get("state"))
		return nil, nil
	}

	amount, err := strconv.ParseInt(values.Get("paid_amount"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: billplz paid_amount %q: %v",
			common.ErrInvalidInput, values.Get("paid_amount"), err)
	}

	return &model.PaymentEvent{
		ID:             newEventID(),
		Source:         model.SourceGatewayWebhook,
		Provider:       ProviderBillplz,
		SubmissionHint: values.Get("reference_1"),
		GomID:          values.Get("reference_2"),
		Amount:         amount, // sen
		Currency:       "MYR",
		Reference:      billID,
		IdempotencyKey: model.EventIdempotencyKey(model.SourceGatewayWebhook, billID),
		RawPayload:     rawBody,
	}, nil
}

// billplzSignature computes the HMAC-SHA256 over the callback fields,
// sorted by key and joined as `key|value` pairs.
func billplzSignature(values url.Values, key string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "x_signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+values.Get(k))
	}

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}
