package searcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/medcode-resolver/internal/embedder"
	"github.com/dshills/medcode-resolver/internal/metrics"
	"github.com/dshills/medcode-resolver/pkg/types"
)

// VectorCache is a shared second-level cache for query vectors, such as
// embedder.RedisCache.
type VectorCache interface {
	Get(ctx context.Context, hash string) ([]float32, bool, error)
	Set(ctx context.Context, hash string, vec []float32) error
}

// QueryEmbedder turns entity text into a query vector. Query text is used as
// given; it is a clinical phrase, not a catalog display name.
type QueryEmbedder struct {
	embedder embedder.Embedder
	cache    *embedder.Cache
	shared   VectorCache // Optional
	logger   zerolog.Logger
}

// NewQueryEmbedder creates a QueryEmbedder with an in-process LRU of cacheSize
// vectors. shared may be nil.
func NewQueryEmbedder(emb embedder.Embedder, cacheSize int, shared VectorCache, logger zerolog.Logger) *QueryEmbedder {
	return &QueryEmbedder{
		embedder: emb,
		cache:    embedder.NewCache(cacheSize),
		shared:   shared,
		logger:   logger,
	}
}

// Model returns the embedding model query vectors are produced with.
func (q *QueryEmbedder) Model() string {
	if q == nil || q.embedder == nil {
		return ""
	}
	return q.embedder.Model()
}

// EmbedQuery returns the vector for text. Every failure is reported as
// types.ErrEmbeddingUnavailable so the retriever can degrade to lexical-only.
func (q *QueryEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if q == nil || q.embedder == nil {
		return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingUnavailable, embedder.ErrNoProviderEnabled)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingUnavailable, embedder.ErrEmptyText)
	}

	hash := embedder.ComputeHash(q.embedder.Model(), text)
	if cached, ok := q.cache.Get(hash); ok {
		metrics.CacheLookups.WithLabelValues("query_embedding", metrics.CacheResult(true)).Inc()
		return cached.Vector, nil
	}
	metrics.CacheLookups.WithLabelValues("query_embedding", metrics.CacheResult(false)).Inc()

	if q.shared != nil {
		vec, ok, err := q.shared.Get(ctx, hash)
		if err != nil {
			q.logger.Warn().Err(err).Msg("shared query cache lookup failed")
		}
		if ok && embedder.ValidateVector(vec, q.embedder.Dimension()) == nil {
			metrics.CacheLookups.WithLabelValues("redis", metrics.CacheResult(true)).Inc()
			q.remember(hash, vec)
			return vec, nil
		}
		metrics.CacheLookups.WithLabelValues("redis", metrics.CacheResult(false)).Inc()
	}

	emb, err := q.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingUnavailable, err)
	}

	q.remember(hash, emb.Vector)
	if q.shared != nil {
		if err := q.shared.Set(ctx, hash, emb.Vector); err != nil {
			q.logger.Warn().Err(err).Msg("shared query cache store failed")
		}
	}
	return emb.Vector, nil
}

func (q *QueryEmbedder) remember(hash string, vec []float32) {
	q.cache.Set(hash, &embedder.Embedding{
		Vector:    vec,
		Dimension: len(vec),
		Provider:  q.embedder.Provider(),
		Model:     q.embedder.Model(),
		Hash:      hash,
	})
}
