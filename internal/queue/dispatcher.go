// Package queue runs the durable reconciliation loop: claiming payment
// events from sqlite, fanning them out to worker lanes, and applying
// backoff and dead-lettering around the verification state machine.
package queue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/gomflow/payproof/internal/common"
	"github.com/gomflow/payproof/internal/config"
	"github.com/gomflow/payproof/internal/model"
	"github.com/gomflow/payproof/internal/service"
	"github.com/gomflow/payproof/internal/verify"
)

// Dispatcher claims due events and routes each to a worker lane chosen by
// hashing its lane key. Events for the same submission always land in the
// same lane, so they process in strict arrival order without a global lock.
type Dispatcher struct {
	store     service.Storage
	extractor service.Extractor
	machine   *verify.Machine
	cfg       config.QueueConfig
	lanes     []chan model.PaymentEvent
	wg        sync.WaitGroup
}

// NewDispatcher creates a reconciliation dispatcher.
func NewDispatcher(store service.Storage, extractor service.Extractor, machine *verify.Machine, cfg config.QueueConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ClaimBatch <= 0 {
		cfg.ClaimBatch = 32
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	return &Dispatcher{
		store:     store,
		extractor: extractor,
		machine:   machine,
		cfg:       cfg,
	}
}

// Run blocks until the context is canceled. Events stranded in processing
// by a previous crash are requeued before the first claim.
func (d *Dispatcher) Run(ctx context.Context) error {
	recovered, err := d.store.RecoverInFlightEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover in-flight events: %w", err)
	}
	if recovered > 0 {
		slog.Info("Requeued in-flight events from previous run", "count", recovered)
	}

	d.lanes = make([]chan model.PaymentEvent, d.cfg.Workers)
	for i := range d.lanes {
		d.lanes[i] = make(chan model.PaymentEvent, d.cfg.ClaimBatch)
		d.wg.Add(1)
		go d.worker(ctx, i)
	}

	slog.Info("Reconciliation dispatcher started",
		"workers", d.cfg.Workers,
		"poll_interval", d.cfg.PollInterval)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, lane := range d.lanes {
				close(lane)
			}
			d.wg.Wait()
			slog.Info("Reconciliation dispatcher stopped")
			return nil
		case <-ticker.C:
			if err := d.sweep(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Claim sweep failed", "error", err)
			}
		}
	}
}

// sweep claims one batch of due events and distributes them to lanes.
func (d *Dispatcher) sweep(ctx context.Context) error {
	events, err := d.store.ClaimDueEvents(ctx, d.cfg.ClaimBatch)
	if err != nil {
		return err
	}

	for _, event := range events {
		lane := d.laneFor(event.LaneKey())
		select {
		case d.lanes[lane] <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// laneFor maps a lane key to a worker index by FNV-1a hash.
func (d *Dispatcher) laneFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(d.cfg.Workers))
}

func (d *Dispatcher) worker(ctx context.Context, lane int) {
	defer d.wg.Done()
	for event := range d.lanes[lane] {
		d.handle(ctx, &event)
	}
}

// handle processes one claimed event end to end, writing the terminal queue
// state (done, requeued with backoff, or dead).
func (d *Dispatcher) handle(ctx context.Context, event *model.PaymentEvent) {
	result, err := d.process(ctx, event)
	if err == nil {
		audit := fmt.Sprintf("%s: %s", result.Outcome, result.Notes)
		if completeErr := d.store.CompleteEvent(ctx, event.ID, audit); completeErr != nil {
			slog.Error("Failed to complete event", "event_id", event.ID, "error", completeErr)
			return
		}
		slog.Info("Event processed",
			"event_id", event.ID,
			"source", event.Source,
			"outcome", result.Outcome,
			"submission_id", result.SubmissionID)
		return
	}

	// A shutdown mid-processing is not the event's fault; it stays claimed
	// and the next run's recovery sweep requeues it untouched.
	if ctx.Err() != nil {
		return
	}

	d.fail(ctx, event, err)
}

// fail reschedules a retryable failure with exponential backoff, or parks
// the event in the dead letter queue once the budget is spent.
func (d *Dispatcher) fail(ctx context.Context, event *model.PaymentEvent, cause error) {
	attempts := event.Attempts + 1

	if !common.IsRetryable(cause) || attempts >= d.cfg.MaxAttempts {
		reason := cause.Error()
		if attempts >= d.cfg.MaxAttempts {
			reason = fmt.Sprintf("%v after %d attempts: %v", common.ErrQueueExhausted, attempts, cause)
		}
		if err := d.store.DeadLetterEvent(ctx, event.ID, reason); err != nil {
			slog.Error("Failed to dead-letter event", "event_id", event.ID, "error", err)
			return
		}
		slog.Error("Event dead-lettered",
			"event_id", event.ID,
			"source", event.Source,
			"attempts", attempts,
			"error", cause)
		return
	}

	delay := d.backoff(attempts)
	next := time.Now().UTC().Add(delay)
	if err := d.store.RescheduleEvent(ctx, event.ID, attempts, next, cause.Error()); err != nil {
		slog.Error("Failed to reschedule event", "event_id", event.ID, "error", err)
		return
	}
	slog.Warn("Event processing failed, rescheduled",
		"event_id", event.ID,
		"attempt", attempts,
		"max_attempts", d.cfg.MaxAttempts,
		"retry_in", delay,
		"error", cause)
}

// backoff doubles per attempt from the initial delay, capped at the maximum.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.cfg.InitialBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	if delay > d.cfg.MaxBackoff {
		delay = d.cfg.MaxBackoff
	}
	return delay
}

// process runs extraction for screenshot events and applies the result to
// the state machine. Gateway events carry their own trusted numbers and
// skip extraction.
func (d *Dispatcher) process(ctx context.Context, event *model.PaymentEvent) (verify.Result, error) {
	var candidates []model.ExtractedPayment
	if event.Source == model.SourceScreenshot {
		extraction, err := d.extractor.Extract(ctx, event.RawPayload, event.Reference)
		if err != nil {
			return verify.Result{}, err
		}
		candidates = extraction.Candidates
	}
	return d.machine.ApplyEvent(ctx, event, candidates)
}

// ProcessInline claims and processes one just-enqueued event on the
// caller's goroutine, so a proof upload can return its outcome
// synchronously. Failures leave the event queued for the background
// dispatcher; the durable path is the same either way.
//
// Inline processing runs outside the lane hashing, so it can interleave
// with queued events for the same submission. The CAS transition decides
// any such race and the loser resolves against the settled state.
func (d *Dispatcher) ProcessInline(ctx context.Context, eventID string) (verify.Result, error) {
	event, err := d.store.ClaimEvent(ctx, eventID)
	if err != nil {
		return verify.Result{}, err
	}

	result, err := d.process(ctx, event)
	if err != nil {
		d.fail(ctx, event, err)
		return verify.Result{}, err
	}

	audit := fmt.Sprintf("%s: %s", result.Outcome, result.Notes)
	if err := d.store.CompleteEvent(ctx, event.ID, audit); err != nil {
		return verify.Result{}, err
	}
	return result, nil
}

// Enqueue inserts an event for background processing. Duplicate deliveries
// are acknowledged and dropped.
func (d *Dispatcher) Enqueue(ctx context.Context, event *model.PaymentEvent) error {
	err := d.store.InsertPaymentEvent(ctx, event)
	if errors.Is(err, common.ErrDuplicateEvent) {
		slog.Info("Duplicate event dropped",
			"source", event.Source,
			"provider", event.Provider,
			"idempotency_key", event.IdempotencyKey)
		return err
	}
	return err
}
