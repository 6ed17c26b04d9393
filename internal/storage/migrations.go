package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema: submissions, payment events, notification outbox",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS submissions (
					id TEXT PRIMARY KEY,
					order_id TEXT NOT NULL,
					gom_id TEXT NOT NULL,
					buyer_platform TEXT NOT NULL,
					buyer_external_id TEXT NOT NULL,
					quantity INTEGER NOT NULL,
					unit_price INTEGER NOT NULL,
					total_amount INTEGER NOT NULL,
					currency TEXT NOT NULL,
					payment_method TEXT,
					payment_reference TEXT UNIQUE NOT NULL,
					status TEXT NOT NULL,
					verified_by TEXT NOT NULL DEFAULT '',
					verified_at DATETIME,
					verification_notes TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_submissions_gom_status ON submissions(gom_id, status)`,
				`CREATE INDEX idx_submissions_order ON submissions(order_id)`,

				`CREATE TABLE IF NOT EXISTS payment_events (
					id TEXT PRIMARY KEY,
					source TEXT NOT NULL,
					provider TEXT NOT NULL DEFAULT '',
					submission_hint TEXT NOT NULL DEFAULT '',
					gom_id TEXT NOT NULL DEFAULT '',
					channel TEXT NOT NULL DEFAULT '',
					amount INTEGER NOT NULL DEFAULT 0,
					currency TEXT NOT NULL DEFAULT '',
					reference TEXT NOT NULL DEFAULT '',
					idempotency_key TEXT UNIQUE NOT NULL,
					raw_payload BLOB,
					status TEXT NOT NULL DEFAULT 'queued',
					attempts INTEGER NOT NULL DEFAULT 0,
					next_attempt_at DATETIME NOT NULL,
					last_error TEXT NOT NULL DEFAULT '',
					audit TEXT NOT NULL DEFAULT '',
					received_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_payment_events_due ON payment_events(status, next_attempt_at)`,

				`CREATE TABLE IF NOT EXISTS notifications (
					id TEXT PRIMARY KEY,
					submission_id TEXT NOT NULL,
					new_state TEXT NOT NULL,
					actor TEXT NOT NULL,
					idempotency_key TEXT UNIQUE NOT NULL,
					occurred_at DATETIME NOT NULL,
					delivered_at DATETIME,
					attempts INTEGER NOT NULL DEFAULT 0,
					FOREIGN KEY (submission_id) REFERENCES submissions(id)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add transition audit log",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS transition_log (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					submission_id TEXT NOT NULL,
					from_status TEXT NOT NULL,
					to_status TEXT NOT NULL,
					actor TEXT NOT NULL,
					notes TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (submission_id) REFERENCES submissions(id)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_transition_log_submission ON transition_log(submission_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Index undelivered notifications for the outbox relay",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_notifications_pending
				ON notifications(occurred_at) WHERE delivered_at IS NULL`)
			return err
		},
	},
}

// SchemaVersion returns the schema version currently recorded in the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Migrate brings the database schema up to the expected version.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
