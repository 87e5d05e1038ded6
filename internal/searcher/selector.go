package searcher

import (
	"cmp"
	"slices"

	"github.com/dshills/medcode-resolver/pkg/types"
)

// Selection is the outcome of ranking a candidate set
type Selection struct {
	Best       *types.Candidate // nil when nothing passed the threshold
	Ranked     []*types.Candidate
	Confidence types.Confidence
}

// Select drops candidates scoring below minSimilarity, ranks the rest by
// combined score (ties broken by vector score, then code value) and keeps
// the top maxCandidates. Input candidates are not modified.
func Select(candidates []*types.Candidate, minSimilarity float64, maxCandidates int) Selection {
	if maxCandidates <= 0 {
		maxCandidates = types.DefaultMaxCandidates
	}

	kept := make([]*types.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c == nil || c.CombinedScore < minSimilarity {
			continue
		}
		dup := *c
		kept = append(kept, &dup)
	}

	slices.SortStableFunc(kept, func(a, b *types.Candidate) int {
		if n := cmp.Compare(b.CombinedScore, a.CombinedScore); n != 0 {
			return n
		}
		if n := cmp.Compare(b.VectorScore, a.VectorScore); n != 0 {
			return n
		}
		return cmp.Compare(a.CodeValue, b.CodeValue)
	})

	if len(kept) > maxCandidates {
		kept = kept[:maxCandidates]
	}
	for i, c := range kept {
		c.Rank = i + 1
	}

	sel := Selection{Ranked: kept, Confidence: types.ConfidenceNone}
	if len(kept) > 0 {
		sel.Best = kept[0]
		sel.Confidence = types.ConfidenceFor(kept[0].CombinedScore)
	}
	return sel
}
