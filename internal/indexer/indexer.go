package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/medcode-resolver/internal/embedder"
	"github.com/dshills/medcode-resolver/internal/metrics"
	"github.com/dshills/medcode-resolver/internal/normalizer"
	"github.com/dshills/medcode-resolver/internal/storage"
	"github.com/dshills/medcode-resolver/pkg/types"
)

const (
	DefaultBatchSize  = 50
	DefaultSampleSize = 10
	MaxWorkers        = 4

	// maxRecordedFailures bounds Statistics.Failures on large runs
	maxRecordedFailures = 100
)

// ErrJobRunning is returned when another corpus job holds the lock
var ErrJobRunning = errors.New("a corpus job is already running")

var tracer = otel.Tracer("medcode/indexer")

// Indexer drives the offline corpus jobs: normalize -> embed -> store
type Indexer struct {
	storage  storage.Storage
	embedder embedder.Embedder
	logger   zerolog.Logger
	lock     JobLock
}

// Config contains configuration for one job run
type Config struct {
	Filter    storage.Filter
	BatchSize int // Rows fetched per page (default: 50)

	// Workers splits each batch across concurrent GenerateBatch calls
	// (default 1, max 4). Provider pacing is shared, so the rate ceiling holds.
	Workers int

	// DryRunLimit caps the rows processed when > 0 and collects samples
	DryRunLimit int
	SampleSize  int // Samples kept in a dry run (default: 10)

	// SkipOnEmptyNormalization skips rows whose normalization is empty
	// instead of embedding the lowercased display name.
	SkipOnEmptyNormalization bool
}

func (c *Config) withDefaults() Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.BatchSize <= 0 {
		out.BatchSize = DefaultBatchSize
	}
	if out.BatchSize > storage.DefaultPageSize {
		out.BatchSize = storage.DefaultPageSize
	}
	if out.Workers <= 0 {
		out.Workers = 1
	}
	if out.Workers > MaxWorkers {
		out.Workers = MaxWorkers
	}
	if out.DryRunLimit > 0 && out.SampleSize <= 0 {
		out.SampleSize = DefaultSampleSize
	}
	return out
}

// Sample is one before/after pair collected during a dry run
type Sample struct {
	CodeValue      string `json:"code_value"`
	DisplayName    string `json:"display_name"`
	NormalizedText string `json:"normalized_text"`
	Fallback       bool   `json:"fallback"`
}

// ItemFailure records why one row was not processed
type ItemFailure struct {
	CodeValue string `json:"code_value"`
	Class     string `json:"class"`
	Error     string `json:"error"`
}

// Statistics contains statistics about one job run
type Statistics struct {
	RunID         string        `json:"run_id"`
	Kind          string        `json:"kind"`
	Model         string        `json:"model,omitempty"`
	DryRun        bool          `json:"dry_run"`
	Total         int           `json:"total"`
	Processed     int           `json:"processed"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	Skipped       int           `json:"skipped"`
	Fallbacks     int           `json:"fallbacks"`
	APICalls      int           `json:"api_calls"`
	RateLimitHits int           `json:"rate_limit_hits"`
	Retries       int           `json:"retries"`
	Elapsed       time.Duration `json:"elapsed"`
	Throughput    float64       `json:"throughput"` // Processed items per second
	Interrupted   bool          `json:"interrupted"`
	Failures      []ItemFailure `json:"failures,omitempty"`
	Samples       []Sample      `json:"samples,omitempty"`
}

func newStatistics(kind, model string, cfg Config) *Statistics {
	return &Statistics{
		RunID:  uuid.NewString(),
		Kind:   kind,
		Model:  model,
		DryRun: cfg.DryRunLimit > 0,
	}
}

func (s *Statistics) fail(code string, class string, err error) {
	s.Processed++
	s.Failed++
	metrics.JobItems.WithLabelValues("failed").Inc()
	if len(s.Failures) < maxRecordedFailures {
		s.Failures = append(s.Failures, ItemFailure{CodeValue: code, Class: class, Error: err.Error()})
	}
}

func (s *Statistics) succeed() {
	s.Processed++
	s.Succeeded++
	metrics.JobItems.WithLabelValues("succeeded").Inc()
}

func (s *Statistics) skip() {
	s.Processed++
	s.Skipped++
	metrics.JobItems.WithLabelValues("skipped").Inc()
}

func (s *Statistics) sample(limit int, entry *types.CodeEntry, text string, fallback bool) {
	if len(s.Samples) >= limit {
		return
	}
	s.Samples = append(s.Samples, Sample{
		CodeValue:      entry.CodeValue,
		DisplayName:    entry.DisplayName,
		NormalizedText: text,
		Fallback:       fallback,
	})
}

func (s *Statistics) addCalls(cs embedder.CallStats) {
	s.APICalls += cs.APICalls
	s.RateLimitHits += cs.RateLimitHits
	s.Retries += cs.Retries
}

// finish computes the derived fields and records metrics
func (s *Statistics) finish(started time.Time) {
	s.Elapsed = time.Since(started)
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.Throughput = float64(s.Processed) / secs
	}
	result := "ok"
	switch {
	case s.Interrupted:
		result = "interrupted"
	case s.Failed > 0:
		result = "partial"
	}
	metrics.JobRuns.WithLabelValues(s.Kind, result).Inc()
	if s.Kind == "embed" {
		metrics.JobThroughput.Set(s.Throughput)
	}
}

func (s *Statistics) log(logger zerolog.Logger) {
	ev := logger.Info()
	if s.Failed > 0 || s.Interrupted {
		ev = logger.Warn()
	}
	ev.Str("run_id", s.RunID).
		Str("kind", s.Kind).
		Str("model", s.Model).
		Bool("dry_run", s.DryRun).
		Int("total", s.Total).
		Int("processed", s.Processed).
		Int("succeeded", s.Succeeded).
		Int("failed", s.Failed).
		Int("skipped", s.Skipped).
		Int("fallbacks", s.Fallbacks).
		Int("api_calls", s.APICalls).
		Int("rate_limit_hits", s.RateLimitHits).
		Int("retries", s.Retries).
		Dur("elapsed", s.Elapsed).
		Float64("throughput", s.Throughput).
		Bool("interrupted", s.Interrupted).
		Msg("corpus job finished")
}

// New creates a new Indexer instance
func New(store storage.Storage, emb embedder.Embedder, logger zerolog.Logger) *Indexer {
	return &Indexer{
		storage:  store,
		embedder: emb,
		logger:   logger.With().Str("component", "indexer").Logger(),
	}
}

// Running reports whether a job currently holds the lock
func (idx *Indexer) Running() bool {
	return idx.lock.Held()
}

// EmbedCorpus embeds every row lacking an embedding from the current model.
//
// Rows are visited in (code_value, id) order and each success is written on
// its own, so a rerun after a failure or interruption only touches rows still
// pending. Per-row failures are counted and never stop the run. Cancelling ctx
// stops the run between batches and returns partial statistics with
// Interrupted set.
func (idx *Indexer) EmbedCorpus(ctx context.Context, config *Config) (*Statistics, error) {
	if idx.embedder == nil {
		return nil, embedder.ErrNoProviderEnabled
	}
	if !idx.lock.TryAcquire() {
		return nil, ErrJobRunning
	}
	defer idx.lock.Release()

	cfg := config.withDefaults()
	model := idx.embedder.Model()
	stats := newStatistics("embed", model, cfg)
	started := time.Now()

	ctx, span := tracer.Start(ctx, "indexer.EmbedCorpus", trace.WithAttributes(
		attribute.String("run_id", stats.RunID),
		attribute.String("model", model),
		attribute.Int("batch_size", cfg.BatchSize),
		attribute.Int("dry_run_limit", cfg.DryRunLimit),
	))
	defer span.End()

	total, err := idx.storage.CountNeedingEmbedding(ctx, cfg.Filter, model)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to count pending rows: %w", err)
	}
	stats.Total = total
	if cfg.DryRunLimit > 0 && stats.Total > cfg.DryRunLimit {
		stats.Total = cfg.DryRunLimit
	}

	idx.logger.Info().
		Str("run_id", stats.RunID).
		Str("model", model).
		Int("pending", total).
		Int("batch_size", cfg.BatchSize).
		Int("workers", cfg.Workers).
		Bool("dry_run", stats.DryRun).
		Msg("embedding corpus")

	err = idx.walk(ctx, cfg, stats, func(ctx context.Context, after storage.Cursor, limit int) ([]*types.CodeEntry, error) {
		return idx.storage.ListNeedingEmbedding(ctx, cfg.Filter, model, after, limit)
	}, func(ctx context.Context, page []*types.CodeEntry) {
		idx.embedBatch(ctx, cfg, model, page, stats)
	})

	stats.finish(started)
	span.SetAttributes(
		attribute.Int("processed", stats.Processed),
		attribute.Int("succeeded", stats.Succeeded),
		attribute.Int("failed", stats.Failed),
		attribute.Bool("interrupted", stats.Interrupted),
	)
	stats.log(idx.logger)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return stats, err
	}
	return stats, nil
}

// NormalizeCorpus fills the normalized text of rows that have none. Changing
// a row's normalized text clears its embedding.
func (idx *Indexer) NormalizeCorpus(ctx context.Context, config *Config) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrJobRunning
	}
	defer idx.lock.Release()

	cfg := config.withDefaults()
	stats := newStatistics("normalize", "", cfg)
	started := time.Now()

	ctx, span := tracer.Start(ctx, "indexer.NormalizeCorpus", trace.WithAttributes(
		attribute.String("run_id", stats.RunID),
	))
	defer span.End()

	err := idx.walk(ctx, cfg, stats, func(ctx context.Context, after storage.Cursor, limit int) ([]*types.CodeEntry, error) {
		return idx.storage.ListNeedingNormalization(ctx, cfg.Filter, after, limit)
	}, func(ctx context.Context, page []*types.CodeEntry) {
		for _, entry := range page {
			text, fallback, ok := embeddingText(entry, cfg, true)
			if !ok {
				stats.skip()
				continue
			}
			if fallback {
				stats.Fallbacks++
			}
			if err := idx.storage.SetNormalizedText(ctx, entry.ID, text); err != nil {
				idx.logger.Warn().Err(err).Str("code_value", entry.CodeValue).Msg("failed to store normalized text")
				stats.fail(entry.CodeValue, "write", err)
				continue
			}
			stats.succeed()
			if stats.DryRun {
				stats.sample(cfg.SampleSize, entry, text, fallback)
			}
		}
	})

	stats.Total = stats.Processed
	stats.finish(started)
	stats.log(idx.logger)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return stats, err
	}
	return stats, nil
}

type pageFunc func(ctx context.Context, after storage.Cursor, limit int) ([]*types.CodeEntry, error)

// walk pages through rows with a keyset cursor, handing each page to process.
// Cancellation is checked before every page.
func (idx *Indexer) walk(ctx context.Context, cfg Config, stats *Statistics, next pageFunc, process func(context.Context, []*types.CodeEntry)) error {
	cursor := storage.Cursor{}
	visited := 0
	for batch := 1; ; batch++ {
		if ctx.Err() != nil {
			stats.Interrupted = true
			return nil
		}

		limit := cfg.BatchSize
		if cfg.DryRunLimit > 0 {
			remaining := cfg.DryRunLimit - visited
			if remaining <= 0 {
				return nil
			}
			if remaining < limit {
				limit = remaining
			}
		}

		page, err := next(ctx, cursor, limit)
		if err != nil {
			if ctx.Err() != nil {
				stats.Interrupted = true
				return nil
			}
			return fmt.Errorf("failed to fetch batch %d: %w", batch, err)
		}
		if len(page) == 0 {
			return nil
		}
		cursor = storage.After(page[len(page)-1])

		batchStart := time.Now()
		process(ctx, page)
		visited += len(page)

		idx.logger.Debug().
			Str("run_id", stats.RunID).
			Int("batch", batch).
			Int("rows", len(page)).
			Str("last_code", cursor.CodeValue).
			Dur("took", time.Since(batchStart)).
			Msg("batch done")
	}
}

// embeddingText picks the text to embed for entry. Stored normalized text is
// reused unless fresh is set.
func embeddingText(entry *types.CodeEntry, cfg Config, fresh bool) (text string, fallback bool, ok bool) {
	if !fresh && entry.NormalizedText != nil && strings.TrimSpace(*entry.NormalizedText) != "" {
		return *entry.NormalizedText, false, true
	}
	text, err := normalizer.Normalize(entry.DisplayName, entry.EntityType)
	if err == nil {
		return text, false, true
	}
	if cfg.SkipOnEmptyNormalization {
		return "", false, false
	}
	text = normalizer.Fallback(entry.DisplayName)
	return text, true, text != ""
}

// embedBatch embeds one page and persists every success individually
func (idx *Indexer) embedBatch(ctx context.Context, cfg Config, model string, page []*types.CodeEntry, stats *Statistics) {
	ctx, span := tracer.Start(ctx, "indexer.embedBatch", trace.WithAttributes(attribute.Int("rows", len(page))))
	defer span.End()

	entries := make([]*types.CodeEntry, 0, len(page))
	texts := make([]string, 0, len(page))
	fallbacks := make([]bool, 0, len(page))
	for _, entry := range page {
		text, fallback, ok := embeddingText(entry, cfg, false)
		if !ok {
			idx.logger.Debug().Str("code_value", entry.CodeValue).Msg("skipping row with empty normalization")
			stats.skip()
			continue
		}
		if fallback {
			stats.Fallbacks++
		}
		entries = append(entries, entry)
		texts = append(texts, text)
		fallbacks = append(fallbacks, fallback)
	}
	if len(texts) == 0 {
		return
	}

	vectors, errs := idx.embedTexts(ctx, cfg.Workers, texts, stats)

	// Vectors already paid for are stored even if the run is being cancelled
	writeCtx := context.WithoutCancel(ctx)

	for i, entry := range entries {
		if errs[i] != nil && ctx.Err() != nil && errors.Is(errs[i], ctx.Err()) {
			// Left pending for the next run
			stats.Interrupted = true
			continue
		}
		if errs[i] != nil {
			class := embedder.Classify(errs[i]).String()
			idx.logger.Warn().
				Err(errs[i]).
				Str("code_value", entry.CodeValue).
				Str("class", class).
				Msg("embedding failed")
			stats.fail(entry.CodeValue, class, errs[i])
			continue
		}
		if err := idx.storage.SaveEmbedding(writeCtx, entry.ID, texts[i], vectors[i], model); err != nil {
			idx.logger.Warn().Err(err).Str("code_value", entry.CodeValue).Msg("failed to store embedding")
			stats.fail(entry.CodeValue, "write", err)
			continue
		}
		stats.succeed()
		if stats.DryRun {
			stats.sample(cfg.SampleSize, entry, texts[i], fallbacks[i])
		}
	}
}

// embedTexts calls the provider, splitting texts across up to workers
// concurrent GenerateBatch calls of at most MaxBatchSize texts. Results keep
// the order of texts.
func (idx *Indexer) embedTexts(ctx context.Context, workers int, texts []string, stats *Statistics) ([][]float32, []error) {
	vectors := make([][]float32, len(texts))
	errs := make([]error, len(texts))

	if workers > len(texts) {
		workers = len(texts)
	}
	chunk := (len(texts) + workers - 1) / workers
	callStats := make([]embedder.CallStats, workers)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := min(start+chunk, len(texts))
		if start >= end {
			continue
		}
		g.Go(func() error {
			for lo := start; lo < end; lo += embedder.MaxBatchSize {
				hi := min(lo+embedder.MaxBatchSize, end)
				resp, err := idx.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
					Texts: texts[lo:hi],
					Stats: &callStats[w],
				})
				for i := lo; i < hi; i++ {
					switch {
					case err != nil:
						errs[i] = err
					case resp.Errors[i-lo] != nil:
						errs[i] = resp.Errors[i-lo]
					default:
						vectors[i] = resp.Embeddings[i-lo].Vector
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, cs := range callStats {
		stats.addCalls(cs)
	}
	return vectors, errs
}
