package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomflow/payproof/internal/common"
	"github.com/gomflow/payproof/internal/config"
	"github.com/gomflow/payproof/internal/model"
)

const (
	payMongoSecret = "whsk_test_secret"
	billplzKey     = "billplz_sign_key"
)

func testAdapter() *Adapter {
	return NewAdapter(config.GatewaysConfig{
		PayMongoSecret:  payMongoSecret,
		BillplzXSignKey: billplzKey,
	})
}

func signPayMongo(t *testing.T, ts string, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(payMongoSecret))
	mac.Write([]byte(ts + "."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func payMongoBody(eventType string) []byte {
	return []byte(`{
		"data": {
			"id": "evt_abc123",
			"attributes": {
				"type": "` + eventType + `",
				"data": {
					"id": "pay_xyz789",
					"attributes": {
						"amount": 100000,
						"currency": "php",
						"status": "paid",
						"metadata": {"submission_id": "sub-1", "gom_id": "gom-1"}
					}
				}
			}
		}
	}`)
}

func payMongoHeader(sig string) http.Header {
	h := http.Header{}
	h.Set("Paymongo-Signature", "t=1717245000,te="+sig+",li=")
	return h
}

func TestAdapter_PayMongo_ValidSignature(t *testing.T) {
	a := testAdapter()
	body := payMongoBody("payment.paid")
	sig := signPayMongo(t, "1717245000", body)

	event, err := a.Verify(ProviderPayMongo, body, payMongoHeader(sig))
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, model.SourceGatewayWebhook, event.Source)
	assert.Equal(t, ProviderPayMongo, event.Provider)
	assert.Equal(t, "sub-1", event.SubmissionHint)
	assert.Equal(t, "gom-1", event.GomID)
	assert.Equal(t, int64(100000), event.Amount)
	assert.Equal(t, "PHP", event.Currency)
	assert.Equal(t, "pay_xyz789", event.Reference)
	assert.Equal(t,
		model.EventIdempotencyKey(model.SourceGatewayWebhook, "evt_abc123"),
		event.IdempotencyKey)
}

func TestAdapter_PayMongo_RedeliverySharesIdempotencyKey(t *testing.T) {
	a := testAdapter()
	body := payMongoBody("payment.paid")
	sig := signPayMongo(t, "1717245000", body)

	first, err := a.Verify(ProviderPayMongo, body, payMongoHeader(sig))
	require.NoError(t, err)
	second, err := a.Verify(ProviderPayMongo, body, payMongoHeader(sig))
	require.NoError(t, err)

	assert.Equal(t, first.IdempotencyKey, second.IdempotencyKey)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestAdapter_PayMongo_SignatureRejection(t *testing.T) {
	a := testAdapter()
	body := payMongoBody("payment.paid")
	goodSig := signPayMongo(t, "1717245000", body)

	tests := []struct {
		name   string
		body   []byte
		header http.Header
	}{
		{name: "missing header", body: body, header: http.Header{}},
		{name: "garbage signature", body: body, header: payMongoHeader("deadbeef")},
		{name: "tampered body", body: []byte(`{"data":{"id":"evt_abc123"}}`), header: payMongoHeader(goodSig)},
		{name: "wrong timestamp", body: body, header: func() http.Header {
			h := http.Header{}
			h.Set("Paymongo-Signature", "t=9999999999,te="+goodSig+",li=")
			return h
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := a.Verify(ProviderPayMongo, tt.body, tt.header)
			assert.ErrorIs(t, err, common.ErrSignature)
			assert.Nil(t, event)
		})
	}
}

func TestAdapter_PayMongo_LiveSlot(t *testing.T) {
	a := NewAdapter(config.GatewaysConfig{
		PayMongoSecret: payMongoSecret,
		PayMongoLive:   true,
	})
	body := payMongoBody("payment.paid")
	sig := signPayMongo(t, "1717245000", body)

	h := http.Header{}
	h.Set("Paymongo-Signature", "t=1717245000,te=,li="+sig)
	event, err := a.Verify(ProviderPayMongo, body, h)
	require.NoError(t, err)
	require.NotNil(t, event)

	// The same delivery signed only in the test slot fails in live mode.
	event, err = a.Verify(ProviderPayMongo, body, payMongoHeader(sig))
	assert.ErrorIs(t, err, common.ErrSignature)
	assert.Nil(t, event)
}

func TestAdapter_PayMongo_UnknownEventTypeAcknowledged(t *testing.T) {
	a := testAdapter()
	body := payMongoBody("source.chargeable")
	sig := signPayMongo(t, "1717245000", body)

	event, err := a.Verify(ProviderPayMongo, body, payMongoHeader(sig))
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestAdapter_PayMongo_MissingSecret(t *testing.T) {
	a := NewAdapter(config.GatewaysConfig{})
	_, err := a.Verify(ProviderPayMongo, payMongoBody("payment.paid"), http.Header{})
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func billplzForm(paid bool) url.Values {
	v := url.Values{}
	v.Set("id", "bill_abc")
	v.Set("collection_id", "col_1")
	v.Set("paid", map[bool]string{true: "true", false: "false"}[paid])
	v.Set("state", map[bool]string{true: "paid", false: "due"}[paid])
	v.Set("amount", "8990")
	v.Set("paid_amount", "8990")
	v.Set("reference_1", "sub-2")
	v.Set("reference_2", "gom-1")
	v.Set("transaction_id", "txn_555")
	return v
}

func signedBillplzBody(t *testing.T, v url.Values) []byte {
	t.Helper()
	v.Set("x_signature", billplzSignature(v, billplzKey))
	return []byte(v.Encode())
}

func TestAdapter_Billplz_ValidSignature(t *testing.T) {
	a := testAdapter()
	body := signedBillplzBody(t, billplzForm(true))

	event, err := a.Verify(ProviderBillplz, body, http.Header{})
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, ProviderBillplz, event.Provider)
	assert.Equal(t, "sub-2", event.SubmissionHint)
	assert.Equal(t, "gom-1", event.GomID)
	assert.Equal(t, int64(8990), event.Amount)
	assert.Equal(t, "MYR", event.Currency)
	assert.Equal(t, "bill_abc", event.Reference)
	assert.Equal(t,
		model.EventIdempotencyKey(model.SourceGatewayWebhook, "bill_abc"),
		event.IdempotencyKey)
}

func TestAdapter_Billplz_SignatureRejection(t *testing.T) {
	a := testAdapter()

	// Tamper with the paid amount after signing.
	v := billplzForm(true)
	v.Set("x_signature", billplzSignature(v, billplzKey))
	v.Set("paid_amount", "1")
	event, err := a.Verify(ProviderBillplz, []byte(v.Encode()), http.Header{})
	assert.ErrorIs(t, err, common.ErrSignature)
	assert.Nil(t, event)

	// Missing signature entirely.
	event, err = a.Verify(ProviderBillplz, []byte(billplzForm(true).Encode()), http.Header{})
	assert.ErrorIs(t, err, common.ErrSignature)
	assert.Nil(t, event)
}

func TestAdapter_Billplz_SignatureFromHeader(t *testing.T) {
	a := testAdapter()
	v := billplzForm(true)
	sig := billplzSignature(v, billplzKey)

	h := http.Header{}
	h.Set("X-Signature", sig)
	event, err := a.Verify(ProviderBillplz, []byte(v.Encode()), h)
	require.NoError(t, err)
	require.NotNil(t, event)
}

func TestAdapter_Billplz_UnpaidBillAcknowledged(t *testing.T) {
	a := testAdapter()
	body := signedBillplzBody(t, billplzForm(false))

	event, err := a.Verify(ProviderBillplz, body, http.Header{})
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestAdapter_UnknownProvider(t *testing.T) {
	a := testAdapter()
	_, err := a.Verify("stripe", nil, http.Header{})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
