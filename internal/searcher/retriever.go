package searcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/dshills/medcode-resolver/internal/metrics"
	"github.com/dshills/medcode-resolver/internal/storage"
	"github.com/dshills/medcode-resolver/pkg/types"
)

var tracer = otel.Tracer("medcode/searcher")

// DefaultEmbedTimeout bounds the query embedding inside one retrieval
const DefaultEmbedTimeout = 2 * time.Second

// RetrievalMode records which passes contributed to a retrieval
type RetrievalMode string

const (
	ModeHybrid      RetrievalMode = "hybrid"
	ModeLexicalOnly RetrievalMode = "lexical_only" // Query embedding or vector search failed
	ModeVectorOnly  RetrievalMode = "vector_only"  // Lexical search failed
)

// Retrieval is the unranked union of both passes
type Retrieval struct {
	Candidates   []*types.Candidate
	Weights      Weights // Blend actually applied
	Mode         RetrievalMode
	LexicalCount int
	VectorCount  int
	LexicalErr   error
	VectorErr    error
}

// RetrieverConfig configures a Retriever
type RetrieverConfig struct {
	Weights      WeightTable
	EmbedTimeout time.Duration // Default: 2s
}

// Retriever runs the lexical and vector passes and blends their scores.
type Retriever struct {
	storage      storage.Storage
	queries      *QueryEmbedder
	weights      WeightTable
	embedTimeout time.Duration
	logger       zerolog.Logger
}

// NewRetriever creates a Retriever. queries may be nil, in which case every
// retrieval is lexical-only.
func NewRetriever(store storage.Storage, queries *QueryEmbedder, cfg RetrieverConfig, logger zerolog.Logger) *Retriever {
	if cfg.Weights.Default == (Weights{}) {
		cfg.Weights.Default = DefaultWeights()
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultEmbedTimeout
	}
	return &Retriever{
		storage:      store,
		queries:      queries,
		weights:      cfg.Weights,
		embedTimeout: cfg.EmbedTimeout,
		logger:       logger,
	}
}

// Weights returns the configured weight table.
func (r *Retriever) Weights() WeightTable {
	return r.weights
}

// Retrieve scores candidates for q with the blend configured for its entity type.
func (r *Retriever) Retrieve(ctx context.Context, q types.MatchQuery) (*Retrieval, error) {
	return r.RetrieveWeighted(ctx, q, r.weights.For(q.EntityType))
}

// RetrieveWeighted scores candidates for q with an explicit blend. It fails
// with types.ErrRetrievalUnavailable only when both passes fail.
func (r *Retriever) RetrieveWeighted(ctx context.Context, q types.MatchQuery, w Weights) (*Retrieval, error) {
	q = q.WithDefaults()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "searcher.Retrieve", trace.WithAttributes(
		attribute.String("entity_type", string(q.EntityType)),
		attribute.String("country", q.CountryCode),
		attribute.Int("max_candidates", q.MaxCandidates),
	))
	defer span.End()

	filter := storage.Filter{
		CodeSystem:  q.CodeSystem,
		CountryCode: strings.ToUpper(q.CountryCode),
		EntityType:  q.EntityType,
	}

	var (
		lexical    []storage.LexicalResult
		vector     []storage.VectorResult
		lexicalErr error
		vectorErr  error
	)

	// Neither pass cancels the other, so errors are kept rather than returned
	var g errgroup.Group
	g.Go(func() error {
		lexical, lexicalErr = r.lexicalPass(ctx, q, filter)
		return nil
	})
	g.Go(func() error {
		vector, vectorErr = r.vectorPass(ctx, q, filter)
		return nil
	})
	_ = g.Wait()

	out := &Retrieval{
		Weights:      w,
		Mode:         ModeHybrid,
		LexicalCount: len(lexical),
		VectorCount:  len(vector),
		LexicalErr:   lexicalErr,
		VectorErr:    vectorErr,
	}

	switch {
	case lexicalErr != nil && vectorErr != nil:
		err := fmt.Errorf("%w: lexical: %w; vector: %w", types.ErrRetrievalUnavailable, lexicalErr, vectorErr)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	case vectorErr != nil:
		out.Mode = ModeLexicalOnly
		out.Weights = lexicalOnlyWeights
		r.logger.Warn().Err(vectorErr).Msg("vector retrieval unavailable, using lexical scores only")
	case lexicalErr != nil:
		out.Mode = ModeVectorOnly
		out.Weights = vectorOnlyWeights
		r.logger.Warn().Err(lexicalErr).Msg("lexical retrieval failed, using vector scores only")
	}
	metrics.RetrievalMode.WithLabelValues(string(out.Mode)).Inc()

	out.Candidates = merge(lexical, vector, out.Weights)
	span.SetAttributes(
		attribute.String("mode", string(out.Mode)),
		attribute.Int("lexical_results", out.LexicalCount),
		attribute.Int("vector_results", out.VectorCount),
		attribute.Int("candidates", len(out.Candidates)),
	)
	return out, nil
}

func (r *Retriever) lexicalPass(ctx context.Context, q types.MatchQuery, filter storage.Filter) ([]storage.LexicalResult, error) {
	ctx, span := tracer.Start(ctx, "searcher.lexicalPass")
	defer span.End()

	terms := Tokenize(q.EntityText)
	if len(terms) == 0 {
		return nil, nil
	}
	results, err := r.storage.SearchLexical(ctx, terms, q.MaxCandidates, filter)
	if errors.Is(err, storage.ErrEmptyQuery) {
		return nil, nil
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return results, nil
}

func (r *Retriever) vectorPass(ctx context.Context, q types.MatchQuery, filter storage.Filter) ([]storage.VectorResult, error) {
	ctx, span := tracer.Start(ctx, "searcher.vectorPass")
	defer span.End()

	embedCtx, cancel := context.WithTimeout(ctx, r.embedTimeout)
	vec, err := r.queries.EmbedQuery(embedCtx, q.EntityText)
	cancel()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results, err := r.storage.SearchVector(ctx, vec, r.queries.Model(), q.MaxCandidates, filter)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return results, nil
}

// merge unions both result sets by corpus key. A row found by one pass only
// scores 0 for the other.
func merge(lexical []storage.LexicalResult, vector []storage.VectorResult, w Weights) []*types.Candidate {
	byKey := make(map[string]*types.Candidate, len(lexical)+len(vector))
	out := make([]*types.Candidate, 0, len(lexical)+len(vector))

	candidate := func(entry *types.CodeEntry) *types.Candidate {
		c := &types.Candidate{
			EntryID:     entry.ID,
			CodeSystem:  entry.CodeSystem,
			CodeValue:   entry.CodeValue,
			CountryCode: entry.CountryCode,
			DisplayName: entry.DisplayName,
			EntityType:  entry.EntityType,
		}
		if existing, ok := byKey[c.Key()]; ok {
			return existing
		}
		byKey[c.Key()] = c
		out = append(out, c)
		return c
	}

	maxRelevance := 0.0
	for _, res := range lexical {
		maxRelevance = max(maxRelevance, res.Relevance)
	}
	for _, res := range lexical {
		c := candidate(res.Entry)
		if maxRelevance > 0 {
			c.LexicalScore = clamp01(res.Relevance / maxRelevance)
		}
	}
	for _, res := range vector {
		c := candidate(res.Entry)
		c.VectorScore = clamp01(res.Similarity)
	}

	for _, c := range out {
		c.CombinedScore = clamp01(w.Combine(c.LexicalScore, c.VectorScore))
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Tokenize splits entity text into lowercase search terms. Letter and digit
// runs are separated so "500mg" yields "500" and "mg".
func Tokenize(text string) []string {
	text = strings.ToLower(norm.NFKC.String(text))

	var (
		terms []string
		seen  = make(map[string]bool)
		cur   strings.Builder
		class int // 0 none, 1 letter, 2 digit
	)
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		term := cur.String()
		cur.Reset()
		if !seen[term] {
			seen[term] = true
			terms = append(terms, term)
		}
	}

	for _, r := range text {
		next := 0
		switch {
		case unicode.IsLetter(r):
			next = 1
		case unicode.IsDigit(r):
			next = 2
		}
		if next != class {
			flush()
			class = next
		}
		if next != 0 {
			cur.WriteRune(r)
		}
	}
	flush()
	return terms
}
