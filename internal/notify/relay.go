package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/gomflow/payproof/internal/common"
	"github.com/gomflow/payproof/internal/config"
	"github.com/gomflow/payproof/internal/service"
)

// Relay drains the notification outbox. Rows are written transactionally
// with their transition commits; the relay's only job is moving them to the
// dispatcher at least once and marking delivery.
type Relay struct {
	store    service.Storage
	notifier service.Notifier
	interval time.Duration
}

// NewRelay creates an outbox relay.
func NewRelay(store service.Storage, notifier service.Notifier, cfg config.NotifyConfig) *Relay {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Relay{store: store, notifier: notifier, interval: interval}
}

// Run blocks until the context is canceled, sweeping the outbox on every
// tick.
func (r *Relay) Run(ctx context.Context) error {
	slog.Info("Notification relay started", "poll_interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Notification relay stopped")
			return nil
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Outbox sweep failed", "error", err)
			}
		}
	}
}

// Sweep delivers every pending outbox row once. A failed delivery bumps the
// attempt counter and stays pending for the next sweep; delivery order
// follows commit order.
func (r *Relay) Sweep(ctx context.Context) error {
	pending, err := r.store.GetPendingNotifications(ctx, 100)
	if err != nil {
		return err
	}

	for _, notification := range pending {
		sendErr := common.WithRetry(ctx, func() error {
			return r.notifier.Send(ctx, notification)
		}, service.RetryOptions{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond})

		if sendErr != nil {
			if err := r.store.BumpNotificationAttempts(ctx, notification.ID); err != nil {
				return err
			}
			slog.Warn("Notification delivery failed, will retry next sweep",
				"notification_id", notification.ID,
				"submission_id", notification.SubmissionID,
				"new_state", notification.NewState,
				"attempts", notification.Attempts+1,
				"error", sendErr)
			continue
		}

		if err := r.store.MarkNotificationDelivered(ctx, notification.ID); err != nil {
			return err
		}
		slog.Info("Notification delivered",
			"submission_id", notification.SubmissionID,
			"new_state", notification.NewState)
	}
	return nil
}
