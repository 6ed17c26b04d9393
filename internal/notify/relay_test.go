package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomflow/payproof/internal/common"
	"github.com/gomflow/payproof/internal/config"
	"github.com/gomflow/payproof/internal/model"
	"github.com/gomflow/payproof/internal/storage"
)

func testStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedOutboxRow(t *testing.T, store *storage.SQLiteStorage) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateSubmission(ctx, &model.Submission{
		ID:               "sub-1",
		OrderID:          "ord-1",
		GomID:            "gom-1",
		BuyerPlatform:    "telegram",
		BuyerExternalID:  "10001",
		Quantity:         1,
		UnitPrice:        100000,
		TotalAmount:      100000,
		Currency:         "PHP",
		PaymentMethod:    "gcash",
		PaymentReference: "GOMF000001",
		Status:           model.StatusPendingPayment,
	}))
	require.NoError(t, store.TransitionSubmission(ctx, &model.Transition{
		SubmissionID: "sub-1",
		From:         model.StatusPendingPayment,
		To:           model.StatusConfirmed,
		Actor:        model.ActorSystemAuto,
		Notify:       true,
	}))
}

type capturedRequest struct {
	idempotencyKey string
	payload        string
}

func TestWebhookNotifier_Send(t *testing.T) {
	var mu sync.Mutex
	var requests []capturedRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, capturedRequest{
			idempotencyKey: r.Header.Get("Idempotency-Key"),
			payload:        string(body),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(config.NotifyConfig{WebhookURL: server.URL})
	require.NoError(t, err)

	notification := model.Notification{
		ID:             "n-1",
		SubmissionID:   "sub-1",
		NewState:       model.StatusConfirmed,
		Actor:          model.ActorSystemAuto,
		IdempotencyKey: model.NotificationKey("sub-1", model.StatusConfirmed),
		OccurredAt:     time.Now(),
	}
	require.NoError(t, notifier.Send(context.Background(), notification))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, requests, 1)
	assert.Equal(t, notification.IdempotencyKey, requests[0].idempotencyKey)
	assert.Contains(t, requests[0].payload, `"submission_id":"sub-1"`)
	assert.Contains(t, requests[0].payload, `"new_state":"confirmed"`)
}

func TestWebhookNotifier_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(config.NotifyConfig{WebhookURL: server.URL})
	require.NoError(t, err)

	err = notifier.Send(context.Background(), model.Notification{SubmissionID: "sub-1"})
	require.Error(t, err)

	var retryable *common.RetryableError
	require.ErrorAs(t, err, &retryable)
	assert.True(t, retryable.Retryable)
}

func TestWebhookNotifier_MissingURL(t *testing.T) {
	_, err := NewWebhookNotifier(config.NotifyConfig{})
	assert.Error(t, err)
}

func TestRelay_Sweep_DeliversAndMarks(t *testing.T) {
	store := testStore(t)
	seedOutboxRow(t, store)

	var delivered int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(config.NotifyConfig{WebhookURL: server.URL})
	require.NoError(t, err)
	relay := NewRelay(store, notifier, config.NotifyConfig{})

	require.NoError(t, relay.Sweep(context.Background()))
	assert.Equal(t, 1, delivered)

	pending, err := store.GetPendingNotifications(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A second sweep finds nothing to deliver.
	require.NoError(t, relay.Sweep(context.Background()))
	assert.Equal(t, 1, delivered)
}

func TestRelay_Sweep_FailureStaysPending(t *testing.T) {
	store := testStore(t)
	seedOutboxRow(t, store)

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(config.NotifyConfig{WebhookURL: server.URL})
	require.NoError(t, err)
	relay := NewRelay(store, notifier, config.NotifyConfig{})

	require.NoError(t, relay.Sweep(context.Background()))
	assert.Equal(t, 3, calls, "inner retry budget exhausted")

	pending, err := store.GetPendingNotifications(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
}
