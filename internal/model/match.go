package model

import "sort"

// ScoreBreakdown records how each signal contributed to a match score.
type ScoreBreakdown struct {
	Amount    float64
	Reference float64
	Method    float64
	Recency   float64
}

// Total sums the component scores.
func (b ScoreBreakdown) Total() float64 {
	return b.Amount + b.Reference + b.Method + b.Recency
}

// MatchCandidate pairs one extracted payment with one submission it may
// settle. Transient: candidates live only as long as the decision that
// consumes them, with the breakdown folded into the audit notes.
type MatchCandidate struct {
	Extracted  ExtractedPayment
	Submission Submission
	Breakdown  ScoreBreakdown
	Score      float64
}

// MatchCandidates supports sorting by score, best first.
type MatchCandidates []MatchCandidate

func (m MatchCandidates) Len() int { return len(m) }

func (m MatchCandidates) Less(i, j int) bool {
	if m[i].Score != m[j].Score {
		return m[i].Score > m[j].Score
	}
	// Equal scores order by submission id so results are stable.
	return m[i].Submission.ID < m[j].Submission.ID
}

func (m MatchCandidates) Swap(i, j int) { m[i], m[j] = m[j], m[i] }

// Sort orders candidates by score in descending order.
func (m MatchCandidates) Sort() { sort.Sort(m) }

// Top returns the highest-scoring candidate, or nil if empty.
func (m MatchCandidates) Top() *MatchCandidate {
	if len(m) == 0 {
		return nil
	}
	m.Sort()
	return &m[0]
}

// Ambiguous reports whether the top two candidates score within epsilon of
// each other. Two buyers paying the same amount must never silently resolve
// to whichever sorted first.
func (m MatchCandidates) Ambiguous(epsilon float64) bool {
	if len(m) < 2 {
		return false
	}
	m.Sort()
	return m[0].Score-m[1].Score < epsilon
}
