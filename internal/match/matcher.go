// Package match ranks extracted payments against a GOM's open submissions.
package match

import (
	"strings"
	"time"
	"unicode"

	"github.com/gomflow/payproof/internal/config"
	"github.com/gomflow/payproof/internal/model"
)

// Signal weights. Amount dominates, reference nearly so; together they are
// what auto-approval hinges on. Method and recency only separate otherwise
// equal candidates.
const (
	weightAmount    = 0.50
	weightReference = 0.35
	weightMethod    = 0.05
	weightRecency   = 0.10
)

// Matcher scores candidate pairs using the shared matching policy.
type Matcher struct {
	now func() time.Time
	cfg config.MatchingConfig
}

// New creates a matcher with the given policy.
func New(cfg config.MatchingConfig) *Matcher {
	return &Matcher{cfg: cfg, now: time.Now}
}

// Match scores every extracted payment against every open submission in the
// pool and returns the pairs with any signal at all, best first. The caller
// decides auto-approval; ties within TieEpsilon must never auto-approve.
func (m *Matcher) Match(candidates []model.ExtractedPayment, pool []model.Submission) model.MatchCandidates {
	now := m.now().UTC()

	var results model.MatchCandidates
	for _, extracted := range candidates {
		for _, sub := range pool {
			if sub.Status.IsTerminal() {
				continue
			}
			breakdown := m.score(extracted, sub, now)
			// Method and recency only separate real contenders; without an
			// amount or reference signal the pair is not a match at all.
			if breakdown.Amount == 0 && breakdown.Reference == 0 {
				continue
			}
			total := breakdown.Total()
			results = append(results, model.MatchCandidate{
				Extracted:  extracted,
				Submission: sub,
				Breakdown:  breakdown,
				Score:      total,
			})
		}
	}

	results.Sort()
	return results
}

func (m *Matcher) score(extracted model.ExtractedPayment, sub model.Submission, now time.Time) model.ScoreBreakdown {
	var b model.ScoreBreakdown

	// A reading in the wrong currency can never be an amount match.
	if extracted.Currency == sub.Currency && amountWithin(extracted.Amount, sub.TotalAmount, m.cfg.AmountTolerance) {
		b.Amount = weightAmount
	}

	b.Reference = m.referenceScore(extracted.ReferenceText, sub.PaymentReference)

	if extracted.MethodGuess != "" &&
		strings.EqualFold(extracted.MethodGuess, sub.PaymentMethod) {
		b.Method = weightMethod
	}

	b.Recency = m.recencyScore(sub.CreatedAt, now)

	return b
}

// referenceScore gives full weight to containment or an exact normalized
// match, and a decaying share for readings within the edit-distance ceiling.
// OCR misreads of one or two characters still count, garbage does not.
func (m *Matcher) referenceScore(readText, reference string) float64 {
	read := normalizeReference(readText)
	want := normalizeReference(reference)
	if read == "" || want == "" {
		return 0
	}

	if strings.Contains(read, want) || strings.Contains(want, read) {
		return weightReference
	}

	maxDist := m.cfg.ReferenceMaxDistance
	if maxDist <= 0 {
		return 0
	}
	if dist := levenshtein(read, want); dist <= maxDist {
		return weightReference * (1 - float64(dist)/float64(maxDist+1))
	}
	return 0
}

// recencyScore decays linearly from full weight at creation to zero at the
// edge of the lookback window.
func (m *Matcher) recencyScore(createdAt, now time.Time) float64 {
	lookback := time.Duration(m.cfg.LookbackDays) * 24 * time.Hour
	if lookback <= 0 {
		return 0
	}
	age := now.Sub(createdAt)
	if age < 0 {
		age = 0
	}
	if age >= lookback {
		return 0
	}
	return weightRecency * (1 - float64(age)/float64(lookback))
}

func amountWithin(a, b, tolerance int64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// normalizeReference strips everything but letters and digits and upcases,
// so "gomf-789 123" and "GOMF789123" compare equal.
func normalizeReference(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(unicode.ToUpper(r))
		}
	}
	return sb.String()
}

// levenshtein computes the edit distance between two strings with a
// two-row dynamic programming table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
