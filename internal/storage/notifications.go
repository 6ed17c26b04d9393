package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gomflow/payproof/internal/model"
)

// GetPendingNotifications returns undelivered outbox rows, oldest first.
func (s *SQLiteStorage) GetPendingNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, submission_id, new_state, actor, idempotency_key,
		       occurred_at, delivered_at, attempts
		FROM notifications
		WHERE delivered_at IS NULL
		ORDER BY occurred_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var notifications []model.Notification
	for rows.Next() {
		var n model.Notification
		var newState string
		var deliveredAt sql.NullTime
		if err := rows.Scan(
			&n.ID, &n.SubmissionID, &newState, &n.Actor, &n.IdempotencyKey,
			&n.OccurredAt, &deliveredAt, &n.Attempts,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.NewState = model.SubmissionStatus(newState)
		if deliveredAt.Valid {
			t := deliveredAt.Time
			n.DeliveredAt = &t
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationDelivered records a successful hand-off to the dispatcher.
func (s *SQLiteStorage) MarkNotificationDelivered(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET delivered_at = CURRENT_TIMESTAMP WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification delivered: %w", err)
	}
	return nil
}

// BumpNotificationAttempts counts a failed delivery attempt. The row stays
// pending so the next relay sweep picks it up again: at-least-once.
func (s *SQLiteStorage) BumpNotificationAttempts(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET attempts = attempts + 1 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to bump notification attempts: %w", err)
	}
	return nil
}
