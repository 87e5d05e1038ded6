// Package metrics holds the Prometheus collectors shared by the resolver components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "medcode"

// Embedding provider metrics
var (
	EmbeddingCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "api_calls_total",
		Help:      "Embedding provider HTTP calls by provider and outcome",
	}, []string{"provider", "outcome"})

	EmbeddingRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "retries_total",
		Help:      "Embedding call retries by failure class (model_loading, rate_limited, transient)",
	}, []string{"class"})

	EmbeddingRateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "rate_limit_hits_total",
		Help:      "HTTP 429 responses received from the embedding provider",
	})

	EmbeddingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "call_latency_seconds",
		Help:      "Latency of a single embedding provider HTTP call",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	})
)

// Corpus job metrics
var (
	JobItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "corpus_job",
		Name:      "items_total",
		Help:      "Corpus rows handled by the embedding job by outcome (succeeded, failed, skipped)",
	}, []string{"outcome"})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "corpus_job",
		Name:      "runs_total",
		Help:      "Corpus job runs by kind (embed, normalize) and result",
	}, []string{"kind", "result"})

	JobThroughput = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "corpus_job",
		Name:      "last_throughput_items_per_second",
		Help:      "Throughput of the most recent embedding job run",
	})
)

// Resolve metrics
var (
	ResolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "resolve",
		Name:      "requests_total",
		Help:      "Resolve requests by status and confidence",
	}, []string{"status", "confidence"})

	ResolveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "resolve",
		Name:      "latency_seconds",
		Help:      "End-to-end resolve latency",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 3.0},
	})

	RetrievalMode = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retrieval",
		Name:      "mode_total",
		Help:      "Retrieval mode used: hybrid, lexical_only (embedding unavailable), vector_only (lexical failed)",
	}, []string{"mode"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by cache (query_embedding, redis, resolve) and result (hit, miss)",
	}, []string{"cache", "result"})
)

// CacheResult returns the label value for a cache lookup.
func CacheResult(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
