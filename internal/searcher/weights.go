package searcher

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dshills/medcode-resolver/pkg/types"
)

// Default blend, favouring semantic similarity
const (
	DefaultLexicalWeight = 0.3
	DefaultVectorWeight  = 0.7
)

var ErrInvalidWeights = errors.New("invalid retrieval weights")

// Weights blends the two component scores into combined_score.
type Weights struct {
	Lexical float64 `json:"lexical"`
	Vector  float64 `json:"vector"`
}

// DefaultWeights returns the default 0.3/0.7 blend.
func DefaultWeights() Weights {
	return Weights{Lexical: DefaultLexicalWeight, Vector: DefaultVectorWeight}
}

// Validate requires non-negative weights summing to 1.
func (w Weights) Validate() error {
	if w.Lexical < 0 || w.Vector < 0 {
		return fmt.Errorf("%w: weights must be non-negative", ErrInvalidWeights)
	}
	if math.Abs(w.Lexical+w.Vector-1) > 1e-6 {
		return fmt.Errorf("%w: lexical %.3f + vector %.3f must sum to 1", ErrInvalidWeights, w.Lexical, w.Vector)
	}
	return nil
}

// Combine blends a lexical and vector score.
func (w Weights) Combine(lexical, vector float64) float64 {
	return w.Lexical*lexical + w.Vector*vector
}

// Blends used when one retrieval pass is unavailable. The surviving score
// carries the full weight so thresholds keep their meaning.
var (
	lexicalOnlyWeights = Weights{Lexical: 1}
	vectorOnlyWeights  = Weights{Vector: 1}
)

func (w Weights) String() string {
	return strconv.FormatFloat(w.Lexical, 'f', -1, 64) + ":" + strconv.FormatFloat(w.Vector, 'f', -1, 64)
}

// WeightTable holds the default blend and per entity type overrides.
type WeightTable struct {
	Default   Weights
	Overrides map[types.EntityType]Weights
}

// NewWeightTable returns a table with the default blend and no overrides.
func NewWeightTable() WeightTable {
	return WeightTable{Default: DefaultWeights()}
}

// For returns the blend for entityType.
func (t WeightTable) For(entityType types.EntityType) Weights {
	if w, ok := t.Overrides[entityType]; ok {
		return w
	}
	return t.Default
}

// Validate checks every blend in the table.
func (t WeightTable) Validate() error {
	if err := t.Default.Validate(); err != nil {
		return fmt.Errorf("default: %w", err)
	}
	for et, w := range t.Overrides {
		if !et.Valid() {
			return fmt.Errorf("%w: override for unknown entity type %q", ErrInvalidWeights, et)
		}
		if err := w.Validate(); err != nil {
			return fmt.Errorf("%s: %w", et, err)
		}
	}
	return nil
}

// ParseWeightOverrides parses "procedure=0.5:0.5,medication=0.3:0.7"
// (entity_type=lexical:vector).
func ParseWeightOverrides(s string) (map[types.EntityType]Weights, error) {
	overrides := make(map[types.EntityType]Weights)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, pair, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q is not entity_type=lexical:vector", ErrInvalidWeights, part)
		}
		lexRaw, vecRaw, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q is not entity_type=lexical:vector", ErrInvalidWeights, part)
		}
		lex, err := strconv.ParseFloat(strings.TrimSpace(lexRaw), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidWeights, part, err)
		}
		vec, err := strconv.ParseFloat(strings.TrimSpace(vecRaw), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidWeights, part, err)
		}

		et := types.EntityType(strings.ToLower(strings.TrimSpace(name)))
		if !et.Valid() {
			return nil, fmt.Errorf("%w: unknown entity type %q", ErrInvalidWeights, name)
		}
		w := Weights{Lexical: lex, Vector: vec}
		if err := w.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", et, err)
		}
		overrides[et] = w
	}
	return overrides, nil
}
