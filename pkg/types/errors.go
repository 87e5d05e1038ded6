package types

import "errors"

// Domain errors for type validation
var (
	// Corpus entry errors
	ErrMissingCodeSystem  = errors.New("code system is required")
	ErrMissingCodeValue   = errors.New("code value is required")
	ErrMissingCountryCode = errors.New("country code is required")
	ErrMissingDisplayName = errors.New("display name is required")
	ErrInvalidEntityType  = errors.New("invalid entity type")

	// Embedding invariant errors
	ErrEmbeddingWithoutText  = errors.New("embedding present without normalized text")
	ErrEmbeddingWithoutModel = errors.New("embedding present without model name")

	// Query and candidate errors
	ErrEmptyEntityText      = errors.New("entity text cannot be empty")
	ErrInvalidMaxCandidates = errors.New("max candidates must be >= 1")
	ErrInvalidMinSimilarity = errors.New("min similarity must be between 0 and 1")
	ErrInvalidRank          = errors.New("rank must be >= 1")
	ErrInvalidCombinedScore = errors.New("combined score must be between 0 and 1")
	ErrEmbeddingUnavailable = errors.New("query embedding unavailable")
	ErrRetrievalUnavailable = errors.New("lexical and vector retrieval both failed")
)
