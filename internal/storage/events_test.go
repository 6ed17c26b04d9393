package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomflow/payproof/internal/common"
	"github.com/gomflow/payproof/internal/model"
)

func testEvent(n int) *model.PaymentEvent {
	externalID := fmt.Sprintf("evt_%d", n)
	return &model.PaymentEvent{
		ID:             fmt.Sprintf("pe-%d", n),
		Source:         model.SourceGatewayWebhook,
		Provider:       "paymongo",
		SubmissionHint: "sub-1",
		GomID:          "gom-1",
		Amount:         100000,
		Currency:       "PHP",
		Reference:      "GOMF000001",
		IdempotencyKey: model.EventIdempotencyKey(model.SourceGatewayWebhook, externalID),
		RawPayload:     []byte(`{"id":"` + externalID + `"}`),
	}
}

func TestSQLiteStorage_InsertPaymentEvent_Idempotent(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.InsertPaymentEvent(ctx, testEvent(1)))

	// Same external event redelivered under a new internal id: dropped.
	dup := testEvent(1)
	dup.ID = "pe-1-redelivery"
	err := store.InsertPaymentEvent(ctx, dup)
	assert.ErrorIs(t, err, common.ErrDuplicateEvent)

	// The redelivery inserted nothing.
	_, err = store.GetPaymentEvent(ctx, "pe-1-redelivery")
	assert.ErrorIs(t, err, common.ErrNotFound)

	got, err := store.GetPaymentEvent(ctx, "pe-1")
	require.NoError(t, err)
	assert.Equal(t, model.EventQueued, got.Status)
}

func TestSQLiteStorage_InsertPaymentEvent_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/payproof.db"
	ctx := context.Background()

	store, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.InsertPaymentEvent(ctx, testEvent(1)))
	require.NoError(t, store.Close())

	// A restart must not forget the seen-set.
	reopened, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	require.NoError(t, reopened.Migrate(ctx))

	err = reopened.InsertPaymentEvent(ctx, testEvent(1))
	assert.ErrorIs(t, err, common.ErrDuplicateEvent)
}

func TestSQLiteStorage_ClaimDueEvents_ArrivalOrder(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	for i := 1; i <= 3; i++ {
		e := testEvent(i)
		e.ReceivedAt = base.Add(time.Duration(i) * time.Second)
		e.NextAttemptAt = e.ReceivedAt
		require.NoError(t, store.InsertPaymentEvent(ctx, e))
	}

	claimed, err := store.ClaimDueEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	assert.Equal(t, "pe-1", claimed[0].ID)
	assert.Equal(t, "pe-2", claimed[1].ID)
	assert.Equal(t, "pe-3", claimed[2].ID)
	for _, e := range claimed {
		assert.Equal(t, model.EventProcessing, e.Status)
	}

	// Claimed events are not handed out twice.
	again, err := store.ClaimDueEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestSQLiteStorage_ClaimDueEvents_SkipsFutureAttempts(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	e := testEvent(1)
	e.NextAttemptAt = time.Now().UTC().Add(time.Hour)
	require.NoError(t, store.InsertPaymentEvent(ctx, e))

	claimed, err := store.ClaimDueEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestSQLiteStorage_RescheduleAndComplete(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	require.NoError(t, store.InsertPaymentEvent(ctx, testEvent(1)))

	claimed, err := store.ClaimDueEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Transient failure: back to the queue with backoff.
	next := time.Now().UTC().Add(-time.Second)
	require.NoError(t, store.RescheduleEvent(ctx, "pe-1", 1, next, "notifier unavailable"))

	got, err := store.GetPaymentEvent(ctx, "pe-1")
	require.NoError(t, err)
	assert.Equal(t, model.EventQueued, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "notifier unavailable", got.LastError)

	claimed, err = store.ClaimDueEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.CompleteEvent(ctx, "pe-1", "confirmed sub-1"))
	got, err = store.GetPaymentEvent(ctx, "pe-1")
	require.NoError(t, err)
	assert.Equal(t, model.EventDone, got.Status)
	assert.Empty(t, got.LastError)
}

func TestSQLiteStorage_DeadLetterAndRequeue(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	require.NoError(t, store.InsertPaymentEvent(ctx, testEvent(1)))

	require.NoError(t, store.DeadLetterEvent(ctx, "pe-1", "retries exhausted"))

	dead, err := store.GetDeadLetteredEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "pe-1", dead[0].ID)
	assert.Equal(t, "retries exhausted", dead[0].LastError)

	// Dead events are not claimable.
	claimed, err := store.ClaimDueEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	require.NoError(t, store.RequeueEvent(ctx, "pe-1"))
	claimed, err = store.ClaimDueEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)

	// Requeueing a non-dead event is an error.
	assert.ErrorIs(t, store.RequeueEvent(ctx, "pe-1"), common.ErrNotFound)
}
