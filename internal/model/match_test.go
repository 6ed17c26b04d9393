package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func candidate(id string, score float64) MatchCandidate {
	return MatchCandidate{
		Submission: Submission{ID: id},
		Score:      score,
	}
}

func TestMatchCandidates_Sort(t *testing.T) {
	m := MatchCandidates{
		candidate("a", 0.2),
		candidate("b", 0.9),
		candidate("c", 0.5),
	}
	m.Sort()
	assert.Equal(t, "b", m[0].Submission.ID)
	assert.Equal(t, "c", m[1].Submission.ID)
	assert.Equal(t, "a", m[2].Submission.ID)
}

func TestMatchCandidates_SortStableOnEqualScores(t *testing.T) {
	m := MatchCandidates{
		candidate("z", 0.5),
		candidate("a", 0.5),
	}
	m.Sort()
	assert.Equal(t, "a", m[0].Submission.ID)
}

func TestMatchCandidates_Top(t *testing.T) {
	var empty MatchCandidates
	assert.Nil(t, empty.Top())

	m := MatchCandidates{candidate("a", 0.3), candidate("b", 0.7)}
	top := m.Top()
	assert.NotNil(t, top)
	assert.Equal(t, "b", top.Submission.ID)
}

func TestMatchCandidates_Ambiguous(t *testing.T) {
	tests := []struct {
		name    string
		scores  []float64
		epsilon float64
		want    bool
	}{
		{"single candidate never ambiguous", []float64{0.9}, 0.05, false},
		{"clear winner", []float64{0.9, 0.4}, 0.05, false},
		{"tie within epsilon", []float64{0.9, 0.88}, 0.05, true},
		{"exact tie", []float64{0.9, 0.9}, 0.05, true},
		{"boundary equals epsilon is not ambiguous", []float64{0.9, 0.85}, 0.05, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := make(MatchCandidates, 0, len(tt.scores))
			for i, s := range tt.scores {
				m = append(m, candidate(string(rune('a'+i)), s))
			}
			assert.Equal(t, tt.want, m.Ambiguous(tt.epsilon))
		})
	}
}

func TestScoreBreakdown_Total(t *testing.T) {
	b := ScoreBreakdown{Amount: 0.5, Reference: 0.35, Method: 0.05, Recency: 0.1}
	assert.InDelta(t, 1.0, b.Total(), 1e-9)
}
