// Package notify hands verification outcomes to the notification
// dispatcher, a separate service that owns buyer and GOM messaging.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gomflow/payproof/internal/common"
	"github.com/gomflow/payproof/internal/config"
	"github.com/gomflow/payproof/internal/model"
	"github.com/gomflow/payproof/internal/service"
)

// WebhookNotifier posts transition events as JSON to the dispatcher's
// endpoint. The Idempotency-Key header lets the dispatcher collapse
// redeliveries from the at-least-once outbox.
type WebhookNotifier struct {
	httpClient *http.Client
	url        string
}

var _ service.Notifier = (*WebhookNotifier)(nil)

// NewWebhookNotifier creates a notifier for the configured dispatcher URL.
func NewWebhookNotifier(cfg config.NotifyConfig) (*WebhookNotifier, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("%w: notify webhook URL", common.ErrMissingConfig)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:        cfg.WebhookURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type notificationPayload struct {
	SubmissionID string `json:"submission_id"`
	NewState     string `json:"new_state"`
	Actor        string `json:"actor"`
	OccurredAt   string `json:"occurred_at"`
}

// Send delivers one transition event. Server-side errors and transport
// failures are retryable; a 4xx means the dispatcher rejected the payload
// and retrying will not help.
func (n *WebhookNotifier) Send(ctx context.Context, notification model.Notification) error {
	body, err := json.Marshal(notificationPayload{
		SubmissionID: notification.SubmissionID,
		NewState:     string(notification.NewState),
		Actor:        notification.Actor,
		OccurredAt:   notification.OccurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", notification.IdempotencyKey)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return &common.RetryableError{Err: fmt.Errorf("notification delivery failed: %w", err), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return common.ErrRateLimit
	case resp.StatusCode >= 500:
		return &common.RetryableError{
			Err:       fmt.Errorf("dispatcher error (status %d)", resp.StatusCode),
			Retryable: true,
		}
	default:
		return &common.RetryableError{
			Err:       fmt.Errorf("dispatcher rejected notification (status %d)", resp.StatusCode),
			Retryable: false,
		}
	}
}
