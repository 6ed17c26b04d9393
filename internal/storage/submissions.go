package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gomflow/payproof/internal/common"
	"github.com/gomflow/payproof/internal/model"
	"github.com/gomflow/payproof/internal/service"
)

// CreateSubmission persists a new submission in pending_payment.
func (s *SQLiteStorage) CreateSubmission(ctx context.Context, submission *model.Submission) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSubmission(submission); err != nil {
		return err
	}

	now := time.Now().UTC()
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = now
	}
	submission.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (
			id, order_id, gom_id, buyer_platform, buyer_external_id,
			quantity, unit_price, total_amount, currency, payment_method,
			payment_reference, status, verified_by, verification_notes,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)
	`,
		submission.ID,
		submission.OrderID,
		submission.GomID,
		submission.BuyerPlatform,
		submission.BuyerExternalID,
		submission.Quantity,
		submission.UnitPrice,
		submission.TotalAmount,
		submission.Currency,
		submission.PaymentMethod,
		submission.PaymentReference,
		string(submission.Status),
		submission.CreatedAt,
		submission.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: payment reference %s", common.ErrDuplicateEvent, submission.PaymentReference)
		}
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

const submissionColumns = `
	id, order_id, gom_id, buyer_platform, buyer_external_id,
	quantity, unit_price, total_amount, currency, payment_method,
	payment_reference, status, verified_by, verified_at,
	verification_notes, created_at, updated_at`

func scanSubmission(row interface{ Scan(...any) error }) (*model.Submission, error) {
	var sub model.Submission
	var status string
	var verifiedAt sql.NullTime
	err := row.Scan(
		&sub.ID, &sub.OrderID, &sub.GomID, &sub.BuyerPlatform, &sub.BuyerExternalID,
		&sub.Quantity, &sub.UnitPrice, &sub.TotalAmount, &sub.Currency, &sub.PaymentMethod,
		&sub.PaymentReference, &status, &sub.VerifiedBy, &verifiedAt,
		&sub.VerificationNotes, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Status = model.SubmissionStatus(status)
	if verifiedAt.Valid {
		t := verifiedAt.Time
		sub.VerifiedAt = &t
	}
	return &sub, nil
}

// GetSubmission fetches one submission by id.
func (s *SQLiteStorage) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	sub, err := scanSubmission(s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: submission %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return sub, nil
}

// GetSubmissionByReference fetches one submission by its payment reference.
func (s *SQLiteStorage) GetSubmissionByReference(ctx context.Context, reference string) (*model.Submission, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(reference, "reference"); err != nil {
		return nil, err
	}

	sub, err := scanSubmission(s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE payment_reference = ?`, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: reference %s", common.ErrNotFound, reference)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission by reference: %w", err)
	}
	return sub, nil
}

// GetSubmissions lists submissions matching the filter.
func (s *SQLiteStorage) GetSubmissions(ctx context.Context, filter service.SubmissionFilter) ([]model.Submission, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE 1=1`
	var args []any
	if filter.GomID != "" {
		query += ` AND gom_id = ?`
		args = append(args, filter.GomID)
	}
	if filter.OrderID != "" {
		query += ` AND order_id = ?`
		args = append(args, filter.OrderID)
	}
	if len(filter.Status) > 0 {
		query += ` AND status IN (?` + strings.Repeat(",?", len(filter.Status)-1) + `)`
		for _, st := range filter.Status {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []model.Submission
	for rows.Next() {
		sub, scanErr := scanSubmission(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", scanErr)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// GetOpenSubmissions returns the matcher pool: pending_payment and
// under_review submissions of one GOM, optionally scoped to one order.
// Cross-order matching never happens outside this pool.
func (s *SQLiteStorage) GetOpenSubmissions(ctx context.Context, gomID, orderID string) ([]model.Submission, error) {
	if err := validateString(gomID, "gomID"); err != nil {
		return nil, err
	}
	return s.GetSubmissions(ctx, service.SubmissionFilter{
		GomID:   gomID,
		OrderID: orderID,
		Status:  []model.SubmissionStatus{model.StatusPendingPayment, model.StatusUnderReview},
	})
}

// TransitionSubmission applies a state change as a compare-and-swap: the
// update only lands if the row still holds the expected current status.
// When it lands, the audit log entry and (for Notify transitions) the
// notification outbox row commit in the same database transaction.
func (s *SQLiteStorage) TransitionSubmission(ctx context.Context, t *model.Transition) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransition(t); err != nil {
		return err
	}

	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var res sql.Result
	if t.To.IsTerminal() && t.To != model.StatusCancelled {
		res, err = tx.ExecContext(ctx, `
			UPDATE submissions
			SET status = ?, verified_by = ?, verified_at = ?,
			    verification_notes = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, string(t.To), t.Actor, at, t.Notes, at, t.SubmissionID, string(t.From))
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE submissions
			SET status = ?, verification_notes = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, string(t.To), t.Notes, at, t.SubmissionID, string(t.From))
	}
	if err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or a concurrent event won the race.
		var current string
		err = tx.QueryRowContext(ctx,
			`SELECT status FROM submissions WHERE id = ?`, t.SubmissionID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: submission %s", common.ErrNotFound, t.SubmissionID)
		}
		if err != nil {
			return fmt.Errorf("failed to read submission state: %w", err)
		}
		slog.Warn("lost transition race",
			"submission_id", t.SubmissionID,
			"expected", t.From,
			"observed", current,
			"wanted", t.To,
			"actor", t.Actor)
		return fmt.Errorf("%w: submission %s is %s, expected %s",
			common.ErrInvalidTransition, t.SubmissionID, current, t.From)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO transition_log (submission_id, from_status, to_status, actor, notes)
		VALUES (?, ?, ?, ?, ?)
	`, t.SubmissionID, string(t.From), string(t.To), t.Actor, t.Notes); err != nil {
		return fmt.Errorf("failed to write transition log: %w", err)
	}

	if t.Notify {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO notifications (id, submission_id, new_state, actor, idempotency_key, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(idempotency_key) DO NOTHING
		`,
			uuid.NewString(),
			t.SubmissionID,
			string(t.To),
			t.Actor,
			model.NotificationKey(t.SubmissionID, t.To),
			at,
		); err != nil {
			return fmt.Errorf("failed to write notification outbox: %w", err)
		}
	}

	return tx.Commit()
}
