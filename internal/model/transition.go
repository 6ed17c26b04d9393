package model

import (
	"fmt"
	"time"
)

// Transition is one requested submission state change. It is applied as a
// single atomic read-modify-write keyed by (SubmissionID, From): if the row
// is no longer in From when the update runs, the transition is abandoned
// and reported as a lost race rather than blindly retried.
type Transition struct {
	At           time.Time
	SubmissionID string
	From         SubmissionStatus
	To           SubmissionStatus
	Actor        string
	Notes        string
	// Notify writes the outbox row in the same database transaction as the
	// commit, so a terminal transition and its notification record are
	// inseparable.
	Notify bool
}

// Validate checks the transition against the state graph before it touches
// the database.
func (t *Transition) Validate() error {
	if t.SubmissionID == "" {
		return fmt.Errorf("transition: missing submission ID")
	}
	if t.Actor == "" {
		return fmt.Errorf("transition: missing actor")
	}
	if !t.From.CanTransition(t.To) {
		return fmt.Errorf("transition: %s -> %s is not a legal path", t.From, t.To)
	}
	return nil
}
