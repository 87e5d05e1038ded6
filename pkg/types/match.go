package types

// DefaultMaxCandidates is used when a query does not set MaxCandidates.
const DefaultMaxCandidates = 20

// MatchQuery represents one inbound resolution request
type MatchQuery struct {
	EntityText    string     // Raw text from upstream detection
	EntityType    EntityType // Optional filter
	CountryCode   string     // Optional filter
	CodeSystem    string     // Optional filter
	MaxCandidates int
	MinSimilarity float64
}

// WithDefaults returns a copy of q with zero-valued limits replaced by defaults.
func (q MatchQuery) WithDefaults() MatchQuery {
	if q.MaxCandidates <= 0 {
		q.MaxCandidates = DefaultMaxCandidates
	}
	return q
}

// Validate checks if the match query is valid
func (q *MatchQuery) Validate() error {
	if q.EntityText == "" {
		return ErrEmptyEntityText
	}

	if q.MaxCandidates < 1 {
		return ErrInvalidMaxCandidates
	}

	if q.MinSimilarity < 0 || q.MinSimilarity > 1 {
		return ErrInvalidMinSimilarity
	}

	if q.EntityType != "" && !q.EntityType.Valid() {
		return ErrInvalidEntityType
	}

	return nil
}

// Candidate is one scored corpus row proposed as a match for a query
type Candidate struct {
	// Identification
	EntryID     int64      `json:"entry_id"`
	CodeSystem  string     `json:"code_system"`
	CodeValue   string     `json:"code_value"`
	CountryCode string     `json:"country_code"`
	DisplayName string     `json:"display_name"`
	EntityType  EntityType `json:"entity_type,omitempty"`

	// Scoring, all in [0, 1]
	LexicalScore  float64 `json:"lexical_score"`
	VectorScore   float64 `json:"vector_score"` // Cosine similarity clamped to [0, 1]
	CombinedScore float64 `json:"combined_score"`
	Rank          int     `json:"rank"` // Position after selection (1-based), 0 before
}

// Key identifies the corpus row behind the candidate.
func (c *Candidate) Key() string {
	return c.CodeSystem + "|" + c.CountryCode + "|" + c.CodeValue
}

// Validate checks if a ranked candidate is valid
func (c *Candidate) Validate() error {
	if c.CodeValue == "" {
		return ErrMissingCodeValue
	}

	if c.Rank < 1 {
		return ErrInvalidRank
	}

	if c.CombinedScore < 0 || c.CombinedScore > 1 {
		return ErrInvalidCombinedScore
	}

	return nil
}

// Confidence classifies a combined score for caller consumption
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none" // No candidate selected
)

// Bucket boundaries shared with downstream quality gating. Both are exclusive.
const (
	HighConfidenceThreshold   = 0.7
	MediumConfidenceThreshold = 0.5
)

// ConfidenceFor buckets a combined score.
func ConfidenceFor(score float64) Confidence {
	switch {
	case score > HighConfidenceThreshold:
		return ConfidenceHigh
	case score > MediumConfidenceThreshold:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ResolveStatus distinguishes a confident match, no match, and infrastructure failure.
type ResolveStatus string

const (
	StatusMatched              ResolveStatus = "matched"
	StatusNoMatch              ResolveStatus = "no_match"
	StatusRetrievalUnavailable ResolveStatus = "retrieval_unavailable"
)
