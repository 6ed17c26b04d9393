package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomflow/payproof/internal/config"
	"github.com/gomflow/payproof/internal/model"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func testMatcher() *Matcher {
	m := New(config.MatchingConfig{
		MinConfidenceAutoMatch: 0.95,
		MinScoreAutoMatch:      0.85,
		TieEpsilon:             0.05,
		AmountTolerance:        0,
		ReferenceMaxDistance:   2,
		LookbackDays:           14,
	})
	m.now = func() time.Time { return testNow }
	return m
}

func openSubmission(id, ref string, amount int64) model.Submission {
	return model.Submission{
		ID:               id,
		OrderID:          "ord-1",
		GomID:            "gom-1",
		Currency:         "PHP",
		PaymentMethod:    "gcash",
		PaymentReference: ref,
		Status:           model.StatusPendingPayment,
		TotalAmount:      amount,
		CreatedAt:        testNow.Add(-24 * time.Hour),
	}
}

func extracted(amount int64, ref string, confidence float64) model.ExtractedPayment {
	return model.ExtractedPayment{
		Amount:            amount,
		Currency:          "PHP",
		ReferenceText:     ref,
		MethodGuess:       "gcash",
		OverallConfidence: confidence,
	}
}

func TestMatcher_UniqueReferenceAndAmountWins(t *testing.T) {
	m := testMatcher()
	pool := []model.Submission{
		openSubmission("sub-1", "GOMF789123", 100000),
		openSubmission("sub-2", "GOMF555001", 250000),
	}

	results := m.Match([]model.ExtractedPayment{extracted(100000, "GOMF789123", 0.97)}, pool)
	require.NotEmpty(t, results)

	top := results.Top()
	assert.Equal(t, "sub-1", top.Submission.ID)
	assert.GreaterOrEqual(t, top.Score, 0.85)
	assert.Equal(t, 0.50, top.Breakdown.Amount)
	assert.Equal(t, 0.35, top.Breakdown.Reference)
	assert.False(t, results.Ambiguous(0.05))
}

func TestMatcher_TieOnAmountIsAmbiguous(t *testing.T) {
	m := testMatcher()
	// Two buyers owing the same amount, screenshot shows only the amount.
	pool := []model.Submission{
		openSubmission("sub-1", "GOMF000001", 100000),
		openSubmission("sub-2", "GOMF000002", 100000),
	}

	results := m.Match([]model.ExtractedPayment{extracted(100000, "", 0.99)}, pool)
	require.Len(t, results, 2)
	assert.True(t, results.Ambiguous(0.05), "identical amounts must tie")
	assert.InDelta(t, results[0].Score, results[1].Score, 1e-9)
}

func TestMatcher_ReferenceOCRMisread(t *testing.T) {
	m := testMatcher()
	pool := []model.Submission{openSubmission("sub-1", "GOMF789123", 100000)}
	_ = pool

	tests := []struct {
		name      string
		read      string
		wantScore bool
	}{
		{name: "exact", read: "GOMF789123", wantScore: true},
		{name: "containment in longer text", read: "Ref No. GOMF789123 sent", wantScore: true},
		{name: "one character misread", read: "GOMF78912E", wantScore: true},
		{name: "lowercase with separators", read: "gomf-789 123", wantScore: true},
		{name: "unrelated reference", read: "XYZ0000000", wantScore: false},
		{name: "empty reading", read: "", wantScore: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := m.referenceScore(tt.read, "GOMF789123")
			if tt.wantScore {
				assert.Greater(t, score, 0.0)
			} else {
				assert.Zero(t, score)
			}
		})
	}
}

func TestMatcher_ExactReferenceOutscoresMisread(t *testing.T) {
	m := testMatcher()
	exact := m.referenceScore("GOMF789123", "GOMF789123")
	misread := m.referenceScore("GOMF78912E", "GOMF789123")
	assert.Greater(t, exact, misread)
	assert.Greater(t, misread, 0.0)
}

func TestMatcher_CurrencyMismatchNeverAmountMatch(t *testing.T) {
	m := testMatcher()
	sub := openSubmission("sub-1", "GOMF789123", 100000)
	reading := extracted(100000, "GOMF789123", 0.97)
	reading.Currency = "MYR"

	results := m.Match([]model.ExtractedPayment{reading}, []model.Submission{sub})
	require.Len(t, results, 1)
	assert.Zero(t, results[0].Breakdown.Amount)
	// Reference still matched, so it surfaces for review instead of vanishing.
	assert.Equal(t, 0.35, results[0].Breakdown.Reference)
}

func TestMatcher_TerminalSubmissionsExcluded(t *testing.T) {
	m := testMatcher()
	confirmed := openSubmission("sub-1", "GOMF789123", 100000)
	confirmed.Status = model.StatusConfirmed

	results := m.Match([]model.ExtractedPayment{extracted(100000, "GOMF789123", 0.97)},
		[]model.Submission{confirmed})
	assert.Empty(t, results)
}

func TestMatcher_RecencyDecay(t *testing.T) {
	m := testMatcher()

	fresh := openSubmission("sub-1", "GOMF000001", 100000)
	fresh.CreatedAt = testNow.Add(-time.Hour)
	week := openSubmission("sub-2", "GOMF000002", 100000)
	week.CreatedAt = testNow.Add(-7 * 24 * time.Hour)
	stale := openSubmission("sub-3", "GOMF000003", 100000)
	stale.CreatedAt = testNow.Add(-30 * 24 * time.Hour)

	freshScore := m.recencyScore(fresh.CreatedAt, testNow)
	weekScore := m.recencyScore(week.CreatedAt, testNow)
	staleScore := m.recencyScore(stale.CreatedAt, testNow)

	assert.Greater(t, freshScore, weekScore)
	assert.Greater(t, weekScore, 0.0)
	assert.Zero(t, staleScore)
}

func TestMatcher_NoSignalMeansNoCandidate(t *testing.T) {
	m := testMatcher()
	sub := openSubmission("sub-1", "GOMF789123", 100000)
	sub.CreatedAt = testNow.Add(-30 * 24 * time.Hour)

	reading := extracted(999, "UNRELATED99", 0.9)
	reading.MethodGuess = "bank_transfer"

	results := m.Match([]model.ExtractedPayment{reading}, []model.Submission{sub})
	assert.Empty(t, results)
}

func TestMatcher_SortedDescending(t *testing.T) {
	m := testMatcher()
	pool := []model.Submission{
		openSubmission("sub-1", "GOMF000001", 100000),
		openSubmission("sub-2", "GOMF000002", 100000),
		openSubmission("sub-3", "GOMF000003", 200000),
	}

	// Amount and reference match sub-2; sub-1 shares only the amount.
	results := m.Match([]model.ExtractedPayment{extracted(100000, "GOMF000002", 0.96)}, pool)
	require.GreaterOrEqual(t, len(results), 2)
	assert.Equal(t, "sub-2", results[0].Submission.ID)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestNormalizeReference(t *testing.T) {
	assert.Equal(t, "GOMF789123", normalizeReference("gomf-789 123"))
	assert.Equal(t, "GOMF789123", normalizeReference("  GOMF789123\n"))
	assert.Equal(t, "", normalizeReference("--- ---"))
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("GOMF789123", "GOMF789123"))
	assert.Equal(t, 1, levenshtein("GOMF789123", "GOMF78912E"))
	assert.Equal(t, 2, levenshtein("GOMF789123", "GOMF7891"))
	assert.Equal(t, 5, levenshtein("", "GOMF7"))
}
