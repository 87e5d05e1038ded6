package searcher

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/medcode-resolver/pkg/types"
)

func cand(code string, combined, vector float64) *types.Candidate {
	return &types.Candidate{CodeValue: code, CombinedScore: combined, VectorScore: vector}
}

func codeValues(cs []*types.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.CodeValue
	}
	return out
}

func TestSelect(t *testing.T) {
	input := []*types.Candidate{
		cand("C", 0.60, 0.5),
		cand("A", 0.80, 0.9),
		cand("B", 0.60, 0.7),
		cand("D", 0.60, 0.7),
		cand("E", 0.20, 0.2),
	}

	sel := Select(input, 0.5, 10)
	assert.Equal(t, []string{"A", "B", "D", "C"}, codeValues(sel.Ranked))
	for i, c := range sel.Ranked {
		assert.Equal(t, i+1, c.Rank)
	}
	require.NotNil(t, sel.Best)
	assert.Equal(t, "A", sel.Best.CodeValue)
	assert.Equal(t, types.ConfidenceHigh, sel.Confidence)

	// Input untouched
	for _, c := range input {
		assert.Zero(t, c.Rank)
	}
}

func TestSelect_Truncates(t *testing.T) {
	input := []*types.Candidate{cand("A", 0.9, 0), cand("B", 0.8, 0), cand("C", 0.7, 0)}

	sel := Select(input, 0, 2)
	assert.Equal(t, []string{"A", "B"}, codeValues(sel.Ranked))
}

func TestSelect_ThresholdIsInclusive(t *testing.T) {
	sel := Select([]*types.Candidate{cand("A", 0.5, 0), cand("B", 0.4999, 0)}, 0.5, 10)
	assert.Equal(t, []string{"A"}, codeValues(sel.Ranked))
}

func TestSelect_Empty(t *testing.T) {
	sel := Select([]*types.Candidate{cand("A", 0.3, 0.3)}, 0.9, 10)
	assert.Nil(t, sel.Best)
	assert.Empty(t, sel.Ranked)
	assert.Equal(t, types.ConfidenceNone, sel.Confidence)

	sel = Select(nil, 0, 10)
	assert.Nil(t, sel.Best)
	assert.Equal(t, types.ConfidenceNone, sel.Confidence)
}

func TestSelect_ConfidenceBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  types.Confidence
	}{
		{0.71, types.ConfidenceHigh},
		{0.70, types.ConfidenceMedium},
		{0.51, types.ConfidenceMedium},
		{0.50, types.ConfidenceLow},
		{0.0, types.ConfidenceLow},
	}
	for _, tt := range tests {
		sel := Select([]*types.Candidate{cand("A", tt.score, 0)}, 0, 10)
		assert.Equal(t, tt.want, sel.Confidence, "score %v", tt.score)
	}
}

func TestSelect_RandomOrderingProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		n := rng.Intn(40)
		input := make([]*types.Candidate, n)
		for i := range input {
			// Coarse scores so ties are common
			input[i] = cand(string(rune('a'+rng.Intn(26)))+string(rune('a'+i%26)),
				float64(rng.Intn(5))/4, float64(rng.Intn(3))/2)
		}
		minSim := float64(rng.Intn(3)) / 4
		limit := 1 + rng.Intn(20)

		sel := Select(input, minSim, limit)
		assert.LessOrEqual(t, len(sel.Ranked), limit)
		for i, c := range sel.Ranked {
			assert.Equal(t, i+1, c.Rank)
			assert.GreaterOrEqual(t, c.CombinedScore, minSim)
			if i == 0 {
				continue
			}
			prev := sel.Ranked[i-1]
			assert.GreaterOrEqual(t, prev.CombinedScore, c.CombinedScore)
			if prev.CombinedScore == c.CombinedScore {
				assert.GreaterOrEqual(t, prev.VectorScore, c.VectorScore)
				if prev.VectorScore == c.VectorScore {
					assert.LessOrEqual(t, prev.CodeValue, c.CodeValue)
				}
			}
		}
	}
}
