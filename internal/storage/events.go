package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gomflow/payproof/internal/common"
	"github.com/gomflow/payproof/internal/model"
)

// InsertPaymentEvent enqueues a payment event. The idempotency key carries a
// unique constraint, so redelivery of the same external event inserts
// nothing and returns common.ErrDuplicateEvent — the seen-set is the table
// itself, durable across restarts.
func (s *SQLiteStorage) InsertPaymentEvent(ctx context.Context, event *model.PaymentEvent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateEvent(event); err != nil {
		return err
	}

	now := time.Now().UTC()
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = now
	}
	if event.NextAttemptAt.IsZero() {
		event.NextAttemptAt = now
	}
	if event.Status == "" {
		event.Status = model.EventQueued
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_events (
			id, source, provider, submission_hint, gom_id, channel,
			amount, currency, reference, idempotency_key, raw_payload,
			status, attempts, next_attempt_at, last_error, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, '', ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`,
		event.ID,
		string(event.Source),
		event.Provider,
		event.SubmissionHint,
		event.GomID,
		event.Channel,
		event.Amount,
		event.Currency,
		event.Reference,
		event.IdempotencyKey,
		event.RawPayload,
		string(event.Status),
		event.NextAttemptAt,
		event.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: idempotency key %s", common.ErrDuplicateEvent, event.IdempotencyKey)
	}
	return nil
}

const eventColumns = `
	id, source, provider, submission_hint, gom_id, channel,
	amount, currency, reference, idempotency_key, raw_payload,
	status, attempts, next_attempt_at, last_error, received_at`

func scanEvent(row interface{ Scan(...any) error }) (*model.PaymentEvent, error) {
	var e model.PaymentEvent
	var source, status string
	err := row.Scan(
		&e.ID, &source, &e.Provider, &e.SubmissionHint, &e.GomID, &e.Channel,
		&e.Amount, &e.Currency, &e.Reference, &e.IdempotencyKey, &e.RawPayload,
		&status, &e.Attempts, &e.NextAttemptAt, &e.LastError, &e.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Source = model.EventSource(source)
	e.Status = model.EventStatus(status)
	return &e, nil
}

// GetPaymentEvent fetches one event by id.
func (s *SQLiteStorage) GetPaymentEvent(ctx context.Context, id string) (*model.PaymentEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	event, err := scanEvent(s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM payment_events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: payment event %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment event: %w", err)
	}
	return event, nil
}

// ClaimDueEvents atomically moves up to limit due queued events into
// processing and returns them in arrival order. The single-connection pool
// serializes claimers, so an event is only ever handed to one dispatcher
// sweep.
func (s *SQLiteStorage) ClaimDueEvents(ctx context.Context, limit int) ([]model.PaymentEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 32
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM payment_events
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY received_at ASC
		LIMIT ?
	`, string(model.EventQueued), time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due events: %w", err)
	}

	var events []model.PaymentEvent
	for rows.Next() {
		event, scanErr := scanEvent(rows)
		if scanErr != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan event: %w", scanErr)
		}
		events = append(events, *event)
	}
	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range events {
		if _, err = tx.ExecContext(ctx,
			`UPDATE payment_events SET status = ? WHERE id = ?`,
			string(model.EventProcessing), events[i].ID); err != nil {
			return nil, fmt.Errorf("failed to claim event %s: %w", events[i].ID, err)
		}
		events[i].Status = model.EventProcessing
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return events, nil
}

// ClaimEvent atomically takes one specific queued event into processing.
// Used for the synchronous proof-upload path, where the handler that just
// enqueued an event processes it inline before the dispatcher can.
func (s *SQLiteStorage) ClaimEvent(ctx context.Context, id string) (*model.PaymentEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_events SET status = ? WHERE id = ? AND status = ?
	`, string(model.EventProcessing), id, string(model.EventQueued))
	if err != nil {
		return nil, fmt.Errorf("failed to claim event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: claimable event %s", common.ErrNotFound, id)
	}
	return s.GetPaymentEvent(ctx, id)
}

// RecoverInFlightEvents requeues events stranded in processing by a crash.
// Run once at startup, before the dispatcher starts claiming.
func (s *SQLiteStorage) RecoverInFlightEvents(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_events SET status = ?, next_attempt_at = ? WHERE status = ?
	`, string(model.EventQueued), time.Now().UTC(), string(model.EventProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to recover in-flight events: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(affected), nil
}

// CompleteEvent marks an event done and records its processing outcome.
func (s *SQLiteStorage) CompleteEvent(ctx context.Context, id string, audit string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE payment_events SET status = ?, audit = ?, last_error = '' WHERE id = ?
	`, string(model.EventDone), audit, id)
	if err != nil {
		return fmt.Errorf("failed to complete event: %w", err)
	}
	return nil
}

// RescheduleEvent puts an event back in the queue for a later attempt.
func (s *SQLiteStorage) RescheduleEvent(ctx context.Context, id string, attempts int, nextAttempt time.Time, lastError string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE payment_events
		SET status = ?, attempts = ?, next_attempt_at = ?, last_error = ?
		WHERE id = ?
	`, string(model.EventQueued), attempts, nextAttempt.UTC(), lastError, id)
	if err != nil {
		return fmt.Errorf("failed to reschedule event: %w", err)
	}
	return nil
}

// DeadLetterEvent parks an event for operator attention. Dead-lettered
// events are never deleted automatically.
func (s *SQLiteStorage) DeadLetterEvent(ctx context.Context, id string, lastError string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE payment_events SET status = ?, last_error = ? WHERE id = ?
	`, string(model.EventDead), lastError, id)
	if err != nil {
		return fmt.Errorf("failed to dead-letter event: %w", err)
	}
	return nil
}

// GetDeadLetteredEvents lists parked events, newest first.
func (s *SQLiteStorage) GetDeadLetteredEvents(ctx context.Context, limit int) ([]model.PaymentEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM payment_events
		WHERE status = ?
		ORDER BY received_at DESC
		LIMIT ?
	`, string(model.EventDead), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead-lettered events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.PaymentEvent
	for rows.Next() {
		event, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan event: %w", scanErr)
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

// RequeueEvent resets a dead-lettered event for another processing run.
func (s *SQLiteStorage) RequeueEvent(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_events
		SET status = ?, attempts = 0, next_attempt_at = ?, last_error = ''
		WHERE id = ? AND status = ?
	`, string(model.EventQueued), time.Now().UTC(), id, string(model.EventDead))
	if err != nil {
		return fmt.Errorf("failed to requeue event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: dead-lettered event %s", common.ErrNotFound, id)
	}
	return nil
}
