// Package verify drives submission state through its verification lifecycle.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gomflow/payproof/internal/common"
	"github.com/gomflow/payproof/internal/config"
	"github.com/gomflow/payproof/internal/match"
	"github.com/gomflow/payproof/internal/model"
	"github.com/gomflow/payproof/internal/service"
)

// Outcome summarizes what an event did to the pool.
type Outcome string

// Event outcomes, also used as the buyer-facing result of a proof upload.
const (
	OutcomeConfirmed   Outcome = "confirmed"
	OutcomeUnderReview Outcome = "under_review"
	OutcomeNoMatch     Outcome = "no_match"
)

// Result reports how an event was resolved.
type Result struct {
	Outcome      Outcome
	SubmissionID string
	Score        float64
	Confidence   float64
	Notes        string
}

// GOM decisions on a submission under review.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// Machine applies payment events and human decisions to submissions. All
// commits go through the storage compare-and-swap, so two racing events can
// never both take a submission to a terminal state.
type Machine struct {
	store   service.Storage
	matcher *match.Matcher
	cfg     config.MatchingConfig
}

// NewMachine creates a verification state machine sharing the matcher's
// policy surface.
func NewMachine(store service.Storage, matcher *match.Matcher, cfg config.MatchingConfig) *Machine {
	return &Machine{store: store, matcher: matcher, cfg: cfg}
}

// ApplyEvent resolves one payment event against the submission pool.
// Candidates are the extraction readings for screenshot events and are
// ignored for gateway events, which carry their own trusted amounts.
func (m *Machine) ApplyEvent(ctx context.Context, event *model.PaymentEvent, candidates []model.ExtractedPayment) (Result, error) {
	switch event.Source {
	case model.SourceGatewayWebhook:
		return m.applyGatewayEvent(ctx, event)
	case model.SourceScreenshot:
		return m.applyScreenshotEvent(ctx, event, candidates)
	default:
		return Result{}, fmt.Errorf("%w: unknown event source %q", common.ErrInvalidInput, event.Source)
	}
}

// applyGatewayEvent handles a signed gateway payment. The gateway already
// settled the money, so an exact amount and currency match confirms directly
// without review; any discrepancy goes to a human with the numbers recorded.
func (m *Machine) applyGatewayEvent(ctx context.Context, event *model.PaymentEvent) (Result, error) {
	if event.SubmissionHint == "" {
		return Result{Outcome: OutcomeNoMatch, Notes: "gateway event carries no submission id"}, nil
	}

	sub, err := m.store.GetSubmission(ctx, event.SubmissionHint)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return Result{Outcome: OutcomeNoMatch,
				Notes: fmt.Sprintf("gateway event references unknown submission %s", event.SubmissionHint)}, nil
		}
		return Result{}, err
	}
	if sub.Status.IsTerminal() {
		return m.mootResult(sub, "already settled when gateway event arrived"), nil
	}

	if event.Amount == sub.TotalAmount && event.Currency == sub.Currency {
		t := &model.Transition{
			SubmissionID: sub.ID,
			From:         sub.Status,
			To:           model.StatusConfirmed,
			Actor:        model.ActorSystemGateway,
			Notes:        fmt.Sprintf("%s %s settled %d %s", event.Provider, event.Reference, event.Amount, event.Currency),
			Notify:       true,
		}
		return m.commit(ctx, t, Result{
			Outcome:      OutcomeConfirmed,
			SubmissionID: sub.ID,
			Notes:        t.Notes,
		})
	}

	// Paid, but not what was owed. Never auto-confirm a discrepancy.
	notes := fmt.Sprintf("%s reported %d %s, submission expects %d %s",
		event.Provider, event.Amount, event.Currency, sub.TotalAmount, sub.Currency)
	return m.routeToReview(ctx, sub, model.ActorSystemGateway, notes)
}

// applyScreenshotEvent matches extraction readings against the GOM's open
// submissions and either auto-confirms a unique strong match or routes the
// contenders to review.
func (m *Machine) applyScreenshotEvent(ctx context.Context, event *model.PaymentEvent, candidates []model.ExtractedPayment) (Result, error) {
	pool, err := m.eventPool(ctx, event)
	if err != nil {
		return Result{}, err
	}
	if len(pool) == 0 || len(candidates) == 0 {
		return Result{Outcome: OutcomeNoMatch, Notes: "no readable payment or no open submissions"}, nil
	}

	matches := m.matcher.Match(candidates, pool)
	if len(matches) == 0 {
		return Result{Outcome: OutcomeNoMatch, Notes: "no submission matched the screenshot"}, nil
	}

	if matches.Ambiguous(m.cfg.TieEpsilon) {
		return m.reviewAmbiguous(ctx, matches)
	}

	top := matches.Top()
	if m.autoApprovable(top) {
		t := &model.Transition{
			SubmissionID: top.Submission.ID,
			From:         top.Submission.Status,
			To:           model.StatusConfirmed,
			Actor:        model.ActorSystemAuto,
			Notes:        auditNotes("auto-approved", top),
			Notify:       true,
		}
		return m.commit(ctx, t, Result{
			Outcome:      OutcomeConfirmed,
			SubmissionID: top.Submission.ID,
			Score:        top.Score,
			Confidence:   top.Extracted.OverallConfidence,
			Notes:        t.Notes,
		})
	}

	return m.routeToReview(ctx, &top.Submission, model.ActorSystemAuto, auditNotes("below auto-approve policy", top))
}

// autoApprovable checks the full auto-approve policy: match score floor,
// extraction confidence floor, and amount within tolerance.
func (m *Machine) autoApprovable(c *model.MatchCandidate) bool {
	if c.Score < m.cfg.MinScoreAutoMatch {
		return false
	}
	if c.Extracted.OverallConfidence < m.cfg.MinConfidenceAutoMatch {
		return false
	}
	diff := c.Extracted.Amount - c.Submission.TotalAmount
	if diff < 0 {
		diff = -diff
	}
	return diff <= m.cfg.AmountTolerance && c.Extracted.Currency == c.Submission.Currency
}

// eventPool returns the submissions an event may settle. A resolved hint
// narrows the pool to that one submission; otherwise every open submission
// of the event's GOM is in play.
func (m *Machine) eventPool(ctx context.Context, event *model.PaymentEvent) ([]model.Submission, error) {
	if event.SubmissionHint != "" {
		sub, err := m.store.GetSubmission(ctx, event.SubmissionHint)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if sub.Status.IsTerminal() {
			return nil, nil
		}
		return []model.Submission{*sub}, nil
	}
	return m.store.GetOpenSubmissions(ctx, event.GomID, "")
}

// reviewAmbiguous sends every candidate within the tie window to review.
// Two buyers paying the same amount must both be looked at by a human.
func (m *Machine) reviewAmbiguous(ctx context.Context, matches model.MatchCandidates) (Result, error) {
	matches.Sort()
	cutoff := matches[0].Score - m.cfg.TieEpsilon

	var ids []string
	for i := range matches {
		c := &matches[i]
		if c.Score < cutoff {
			break
		}
		if _, err := m.routeToReview(ctx, &c.Submission, model.ActorSystemAuto,
			auditNotes("ambiguous match", c)); err != nil {
			return Result{}, err
		}
		ids = append(ids, c.Submission.ID)
	}

	return Result{
		Outcome:      OutcomeUnderReview,
		SubmissionID: matches[0].Submission.ID,
		Score:        matches[0].Score,
		Confidence:   matches[0].Extracted.OverallConfidence,
		Notes:        fmt.Sprintf("ambiguous between %s", strings.Join(ids, ", ")),
	}, nil
}

// routeToReview moves a submission to under_review, tolerating the case
// where it is already there or was settled meanwhile.
func (m *Machine) routeToReview(ctx context.Context, sub *model.Submission, actor, notes string) (Result, error) {
	if sub.Status == model.StatusUnderReview {
		return Result{Outcome: OutcomeUnderReview, SubmissionID: sub.ID, Notes: notes}, nil
	}
	if sub.Status.IsTerminal() {
		return m.mootResult(sub, notes), nil
	}

	t := &model.Transition{
		SubmissionID: sub.ID,
		From:         sub.Status,
		To:           model.StatusUnderReview,
		Actor:        actor,
		Notes:        notes,
		Notify:       true,
	}
	return m.commit(ctx, t, Result{Outcome: OutcomeUnderReview, SubmissionID: sub.ID, Notes: notes})
}

// Decide applies a GOM's manual verdict. Only the owning GOM may decide,
// and only while the submission is reviewable.
func (m *Machine) Decide(ctx context.Context, submissionID, gomID, decision, notes string) (Result, error) {
	var to model.SubmissionStatus
	var outcome Outcome
	switch decision {
	case DecisionApprove:
		to, outcome = model.StatusConfirmed, OutcomeConfirmed
	case DecisionReject:
		to, outcome = model.StatusRejected, OutcomeNoMatch
	default:
		return Result{}, fmt.Errorf("%w: unknown decision %q", common.ErrInvalidInput, decision)
	}

	sub, err := m.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return Result{}, err
	}
	// Ownership check before anything else; a foreign GOM learns nothing
	// beyond "not found".
	if sub.GomID != gomID {
		return Result{}, common.ErrNotFound
	}
	if sub.Status != model.StatusUnderReview {
		return Result{}, fmt.Errorf("%w: submission is %s, verdicts apply only under review",
			common.ErrInvalidTransition, sub.Status)
	}

	t := &model.Transition{
		SubmissionID: submissionID,
		From:         sub.Status,
		To:           to,
		Actor:        gomID,
		Notes:        notes,
		Notify:       true,
	}
	if err := t.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrInvalidTransition, err)
	}
	if err := m.store.TransitionSubmission(ctx, t); err != nil {
		return Result{}, err
	}
	return Result{Outcome: outcome, SubmissionID: submissionID, Notes: notes}, nil
}

// Cancel withdraws a submission from any non-terminal state.
func (m *Machine) Cancel(ctx context.Context, submissionID, actor, notes string) error {
	sub, err := m.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	if sub.Status.IsTerminal() {
		return fmt.Errorf("%w: submission already %s", common.ErrInvalidTransition, sub.Status)
	}

	return m.store.TransitionSubmission(ctx, &model.Transition{
		SubmissionID: submissionID,
		From:         sub.Status,
		To:           model.StatusCancelled,
		Actor:        actor,
		Notes:        notes,
		Notify:       true,
	})
}

// commit runs the compare-and-swap and absorbs lost races. A race lost to a
// transition that reached the same destination, or any terminal state, makes
// this event moot: redeliveries resolve as a success without a second
// notification.
func (m *Machine) commit(ctx context.Context, t *model.Transition, onSuccess Result) (Result, error) {
	err := m.store.TransitionSubmission(ctx, t)
	if err == nil {
		return onSuccess, nil
	}
	if !errors.Is(err, common.ErrInvalidTransition) {
		return Result{}, err
	}

	current, readErr := m.store.GetSubmission(ctx, t.SubmissionID)
	if readErr != nil {
		return Result{}, readErr
	}
	if current.Status == t.To || current.Status.IsTerminal() {
		slog.Info("Transition moot after lost race",
			"submission_id", t.SubmissionID,
			"wanted", t.To,
			"current", current.Status)
		return m.mootResult(current, t.Notes), nil
	}
	return Result{}, err
}

// mootResult reports the outcome a settled submission already reached.
func (m *Machine) mootResult(sub *model.Submission, notes string) Result {
	outcome := OutcomeUnderReview
	switch sub.Status {
	case model.StatusConfirmed:
		outcome = OutcomeConfirmed
	case model.StatusRejected, model.StatusCancelled:
		outcome = OutcomeNoMatch
	}
	return Result{Outcome: outcome, SubmissionID: sub.ID, Notes: notes}
}

// auditNotes folds the match breakdown into the decision record.
func auditNotes(prefix string, c *model.MatchCandidate) string {
	return fmt.Sprintf("%s: score %.3f (amount %.2f reference %.2f method %.2f recency %.2f) confidence %.3f ref %q",
		prefix, c.Score,
		c.Breakdown.Amount, c.Breakdown.Reference, c.Breakdown.Method, c.Breakdown.Recency,
		c.Extracted.OverallConfidence, c.Extracted.ReferenceText)
}
