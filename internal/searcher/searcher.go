package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/medcode-resolver/internal/metrics"
	"github.com/dshills/medcode-resolver/internal/normalizer"
	"github.com/dshills/medcode-resolver/pkg/types"
)

// Defaults for Config
const (
	DefaultQueryTimeout = 3 * time.Second
	DefaultCacheSize    = 1000
	DefaultCacheTTL     = 10 * time.Minute
)

// ErrInvalidRequest marks caller mistakes, as opposed to retrieval failures
var ErrInvalidRequest = errors.New("invalid resolve request")

// ResolveRequest contains parameters for one resolution
type ResolveRequest struct {
	EntityText      string           `json:"entity_text"`
	InterpretedText string           `json:"interpreted_text,omitempty"` // Used when longer than EntityText
	EntityType      types.EntityType `json:"entity_type,omitempty"`
	Country         string           `json:"country,omitempty"`
	CodeSystem      string           `json:"code_system,omitempty"`
	MaxCandidates   int              `json:"max_candidates,omitempty"`
	MinSimilarity   float64          `json:"min_similarity,omitempty"`
	Weights         *Weights         `json:"weights,omitempty"` // Overrides the configured blend
	UseCache        bool             `json:"use_cache,omitempty"`
}

// ResolveResponse is the structured result of a resolution. Status separates
// "no confident match" from "retrieval infrastructure failure".
type ResolveResponse struct {
	RequestID   string              `json:"request_id"`
	Status      types.ResolveStatus `json:"status"`
	Best        *types.Candidate    `json:"best_match"`
	Ranked      []*types.Candidate  `json:"ranked_candidates"`
	Confidence  types.Confidence    `json:"confidence"`
	QueryText   string              `json:"query_text"`
	Weights     Weights             `json:"weights"`
	LexicalOnly bool                `json:"lexical_only,omitempty"`
	VectorOnly  bool                `json:"vector_only,omitempty"`
	Duration    time.Duration       `json:"duration_ns"`
	CacheHit    bool                `json:"cache_hit,omitempty"`
}

// Config configures a Searcher
type Config struct {
	QueryTimeout time.Duration // Default: 3s
	CacheSize    int           // Response cache entries (default 1000)
	CacheTTL     time.Duration // Default: 10m
}

// cacheEntry represents a cached response with expiration time
type cacheEntry struct {
	response  *ResolveResponse
	expiresAt time.Time
}

// Searcher is the caller-facing resolve entry point
type Searcher struct {
	retriever *Retriever
	cfg       Config
	logger    zerolog.Logger
	cache     *lru.Cache[[32]byte, *cacheEntry]
	cacheMu   sync.RWMutex
}

// NewSearcher creates a new Searcher instance
func NewSearcher(retriever *Retriever, cfg Config, logger zerolog.Logger) *Searcher {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	cache, err := lru.New[[32]byte, *cacheEntry](cfg.CacheSize)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		retriever: retriever,
		cfg:       cfg,
		logger:    logger.With().Str("component", "searcher").Logger(),
		cache:     cache,
	}
}

// Resolve maps entity text to ranked candidate codes. Both retrieval passes
// failing yields Status retrieval_unavailable, not an error. Errors are
// returned for invalid requests, caller cancellation and an expired query
// deadline (context.Canceled or context.DeadlineExceeded).
func (s *Searcher) Resolve(ctx context.Context, req ResolveRequest) (*ResolveResponse, error) {
	start := time.Now()

	query := types.MatchQuery{
		EntityText:    strings.TrimSpace(normalizer.SelectSource(req.EntityText, req.InterpretedText)),
		EntityType:    types.EntityType(strings.ToLower(string(req.EntityType))),
		CountryCode:   strings.ToUpper(strings.TrimSpace(req.Country)),
		CodeSystem:    strings.TrimSpace(req.CodeSystem),
		MaxCandidates: req.MaxCandidates,
		MinSimilarity: req.MinSimilarity,
	}.WithDefaults()
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	weights := s.retriever.Weights().For(query.EntityType)
	if req.Weights != nil {
		if err := req.Weights.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		weights = *req.Weights
	}

	key := cacheKey(query, weights)
	if req.UseCache {
		cached := s.checkCache(key)
		metrics.CacheLookups.WithLabelValues("resolve", metrics.CacheResult(cached != nil)).Inc()
		if cached != nil {
			cached.RequestID = uuid.NewString()
			cached.CacheHit = true
			cached.Duration = time.Since(start)
			return cached, nil
		}
	}

	ctx, span := tracer.Start(ctx, "searcher.Resolve", trace.WithAttributes(
		attribute.String("entity_type", string(query.EntityType)),
		attribute.String("country", query.CountryCode),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	resp := &ResolveResponse{
		RequestID:  uuid.NewString(),
		QueryText:  query.EntityText,
		Weights:    weights,
		Confidence: types.ConfidenceNone,
		Ranked:     []*types.Candidate{},
	}

	retrieval, err := s.retriever.RetrieveWeighted(ctx, query, weights)
	if err != nil && ctx.Err() != nil {
		// The passes failed because the request ran out of time, not the backends
		span.SetStatus(codes.Error, ctx.Err().Error())
		return nil, fmt.Errorf("resolve: %w", ctx.Err())
	}
	switch {
	case errors.Is(err, types.ErrRetrievalUnavailable):
		resp.Status = types.StatusRetrievalUnavailable
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error().Err(err).Str("request_id", resp.RequestID).Msg("retrieval unavailable")
		s.finish(resp, start)
		return resp, nil
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sel := Select(retrieval.Candidates, query.MinSimilarity, query.MaxCandidates)
	resp.Best = sel.Best
	resp.Ranked = sel.Ranked
	resp.Confidence = sel.Confidence
	resp.Weights = retrieval.Weights
	resp.LexicalOnly = retrieval.Mode == ModeLexicalOnly
	resp.VectorOnly = retrieval.Mode == ModeVectorOnly
	resp.Status = types.StatusNoMatch
	if sel.Best != nil {
		resp.Status = types.StatusMatched
	}

	span.SetAttributes(
		attribute.String("status", string(resp.Status)),
		attribute.String("confidence", string(resp.Confidence)),
		attribute.Int("ranked", len(resp.Ranked)),
	)
	s.finish(resp, start)

	// Degraded answers are not cached so recovery is seen immediately
	if req.UseCache && retrieval.Mode == ModeHybrid {
		s.storeInCache(key, resp)
	}
	return resp, nil
}

func (s *Searcher) finish(resp *ResolveResponse, start time.Time) {
	resp.Duration = time.Since(start)
	metrics.ResolveTotal.WithLabelValues(string(resp.Status), string(resp.Confidence)).Inc()
	metrics.ResolveLatency.Observe(resp.Duration.Seconds())

	event := s.logger.Debug().
		Str("request_id", resp.RequestID).
		Str("status", string(resp.Status)).
		Str("confidence", string(resp.Confidence)).
		Int("candidates", len(resp.Ranked)).
		Dur("duration", resp.Duration)
	if resp.Best != nil {
		event = event.Str("best", resp.Best.CodeValue).Float64("score", resp.Best.CombinedScore)
	}
	event.Msg("resolve finished")
}

// checkCache returns a copy of a live cached response, or nil
func (s *Searcher) checkCache(key [32]byte) *ResolveResponse {
	s.cacheMu.RLock()
	entry, found := s.cache.Get(key)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}

	if time.Now().After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil
	}

	response := copyResponse(entry.response)
	s.cacheMu.RUnlock()
	return response
}

func (s *Searcher) storeInCache(key [32]byte, response *ResolveResponse) {
	entry := &cacheEntry{
		response:  copyResponse(response),
		expiresAt: time.Now().Add(s.cfg.CacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(key, entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops every cached response. Call it after the corpus or
// its embeddings change.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// copyResponse deep-copies the candidate list; Best points into the copy.
func copyResponse(src *ResolveResponse) *ResolveResponse {
	dst := *src
	dst.Ranked = make([]*types.Candidate, len(src.Ranked))
	for i, c := range src.Ranked {
		dup := *c
		dst.Ranked[i] = &dup
	}
	dst.Best = nil
	if len(dst.Ranked) > 0 {
		dst.Best = dst.Ranked[0]
	}
	return &dst
}

// cacheKey hashes everything that changes the answer
func cacheKey(q types.MatchQuery, w Weights) [32]byte {
	var data strings.Builder
	data.WriteString(q.EntityText)
	data.WriteString("|")
	data.WriteString(string(q.EntityType))
	data.WriteString("|")
	data.WriteString(q.CountryCode)
	data.WriteString("|")
	data.WriteString(q.CodeSystem)
	fmt.Fprintf(&data, "|%d|%.4f|%s", q.MaxCandidates, q.MinSimilarity, w)
	return sha256.Sum256([]byte(data.String()))
}
