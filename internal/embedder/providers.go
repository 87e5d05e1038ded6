package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/dshills/medcode-resolver/internal/metrics"
)

// Provider configuration
const (
	ProviderHTTP   = "http"
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default endpoints and models
	JinaURL            = "https://api.jina.ai/v1/embeddings"
	OpenAIURL          = "https://api.openai.com/v1/embeddings"
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultHTTPModel   = "default"
	DefaultLocalModel  = "local-trigram-v1"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	HTTPDimension   = 768
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	// Retry and pacing
	DefaultMaxAttempts       = 3
	DefaultModelLoadingDelay = 5 * time.Second
	DefaultRateLimitDelay    = 60 * time.Second
	DefaultTransientDelay    = 1 * time.Second
	DefaultCallInterval      = 100 * time.Millisecond
	DefaultTimeout           = 30 * time.Second

	DefaultCacheSize = 10000

	maxResponseBytes = 32 << 20
)

// RequestFormat selects the JSON body sent to an HTTP provider.
type RequestFormat string

const (
	FormatText   RequestFormat = "text"   // {"text": "..."} or {"text": ["...", ...]}
	FormatInputs RequestFormat = "inputs" // {"inputs": ...}, inference-server style
	FormatOpenAI RequestFormat = "openai" // {"input": [...], "model": "..."}
)

// HTTPConfig configures an HTTPProvider
type HTTPConfig struct {
	Name          string // Provider name reported by Provider()
	URL           string
	APIKey        string
	Model         string
	Format        RequestFormat
	Dimension     int
	BatchRequests bool // Send a batch in one call instead of one call per text
	Retry         RetryConfig
	CallInterval  time.Duration // Minimum spacing between provider calls
	Timeout       time.Duration
	Cache         *Cache
	Logger        zerolog.Logger
}

// HTTPProvider implements Embedder against a remote embedding endpoint
type HTTPProvider struct {
	name       string
	url        string
	apiKey     string
	model      string
	format     RequestFormat
	dimension  int
	batchCalls bool
	retry      RetryConfig
	limiter    *rate.Limiter
	httpClient *http.Client
	cache      *Cache
	logger     zerolog.Logger
}

// NewHTTPProvider creates an embedder that calls cfg.URL
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: embedding URL not set", ErrNoProviderEnabled)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidInput)
	}
	if cfg.Name == "" {
		cfg.Name = ProviderHTTP
	}
	if cfg.Model == "" {
		cfg.Model = DefaultHTTPModel
	}
	if cfg.Format == "" {
		cfg.Format = FormatText
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	limit := rate.Inf
	if cfg.CallInterval > 0 {
		limit = rate.Every(cfg.CallInterval)
	}

	return &HTTPProvider{
		name:       cfg.Name,
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		format:     cfg.Format,
		dimension:  cfg.Dimension,
		batchCalls: cfg.BatchRequests,
		retry:      cfg.Retry,
		limiter:    rate.NewLimiter(limit, 1),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cache:  cfg.Cache,
		logger: cfg.Logger.With().Str("component", "embedder").Str("provider", cfg.Name).Logger(),
	}, nil
}

func (h *HTTPProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := h.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
		Stats: req.Stats,
	})
	if err != nil {
		return nil, err
	}

	if resp.Errors[0] != nil {
		return nil, resp.Errors[0]
	}
	return resp.Embeddings[0], nil
}

func (h *HTTPProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	model := req.Model
	if model == "" {
		model = h.model
	}
	stats := req.Stats
	if stats == nil {
		stats = &CallStats{}
	}

	resp := &BatchEmbeddingResponse{
		Embeddings: make([]*Embedding, len(req.Texts)),
		Errors:     make([]error, len(req.Texts)),
		Provider:   h.name,
		Model:      model,
	}

	// Serve what we can from cache
	var pending []int
	for i, text := range req.Texts {
		if h.cache != nil {
			if emb, ok := h.cache.Get(ComputeHash(model, text)); ok {
				resp.Embeddings[i] = emb
				stats.CacheHits++
				continue
			}
		}
		pending = append(pending, i)
	}

	if h.batchCalls && len(pending) > 1 {
		pending = h.embedTogether(ctx, req.Texts, pending, model, stats, resp)
	}

	for _, i := range pending {
		if err := ctx.Err(); err != nil {
			resp.Errors[i] = err
			continue
		}
		vectors, err := withRetry(ctx, h.retry, stats, h.logger, func() ([][]float32, error) {
			return h.callAPI(ctx, []string{req.Texts[i]}, model, stats)
		})
		if err == nil {
			err = ValidateVector(vectors[0], h.dimension)
		}
		h.record(resp, i, req.Texts[i], model, vectors, err, stats)
	}

	return resp, nil
}

// embedTogether sends the pending texts in one call. It returns the indexes
// that still need a per-text call: all of them when the provider rejected the
// batch itself, none otherwise.
func (h *HTTPProvider) embedTogether(ctx context.Context, texts []string, pending []int, model string, stats *CallStats, resp *BatchEmbeddingResponse) []int {
	batch := make([]string, len(pending))
	for j, i := range pending {
		batch[j] = texts[i]
	}

	vectors, err := withRetry(ctx, h.retry, stats, h.logger, func() ([][]float32, error) {
		return h.callAPI(ctx, batch, model, stats)
	})
	if err != nil && Classify(err) == ClassPermanent && ctx.Err() == nil {
		h.logger.Warn().Err(err).Int("texts", len(batch)).Msg("batch call rejected, falling back to single calls")
		return pending
	}

	for j, i := range pending {
		if err != nil {
			h.record(resp, i, texts[i], model, nil, err, stats)
			continue
		}
		h.record(resp, i, texts[i], model, vectors[j:j+1], ValidateVector(vectors[j], h.dimension), stats)
	}
	return nil
}

func (h *HTTPProvider) record(resp *BatchEmbeddingResponse, i int, text, model string, vectors [][]float32, err error, stats *CallStats) {
	if err != nil {
		stats.Failures++
		resp.Errors[i] = err
		return
	}

	emb := &Embedding{
		Vector:    vectors[0],
		Dimension: len(vectors[0]),
		Provider:  h.name,
		Model:     model,
		Hash:      ComputeHash(model, text),
	}
	if h.cache != nil {
		h.cache.Set(emb.Hash, emb)
	}
	resp.Embeddings[i] = emb
}

func (h *HTTPProvider) requestBody(texts []string, model string) ([]byte, error) {
	var input interface{} = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	switch h.format {
	case FormatOpenAI:
		return json.Marshal(map[string]interface{}{
			"input": texts,
			"model": model,
		})
	case FormatInputs:
		return json.Marshal(map[string]interface{}{"inputs": input})
	default:
		return json.Marshal(map[string]interface{}{"text": input})
	}
}

func (h *HTTPProvider) callAPI(ctx context.Context, texts []string, model string, stats *CallStats) ([][]float32, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := h.requestBody(texts, model)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrInvalidInput, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrInvalidInput, err)
	}

	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	stats.APICalls++
	start := time.Now()
	resp, err := h.httpClient.Do(req)
	metrics.EmbeddingLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EmbeddingCalls.WithLabelValues(h.name, "network_error").Inc()
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.EmbeddingCalls.WithLabelValues(h.name, "network_error").Inc()
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.EmbeddingCalls.WithLabelValues(h.name, fmt.Sprintf("http_%d", resp.StatusCode)).Inc()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 256)}
	}
	metrics.EmbeddingCalls.WithLabelValues(h.name, "ok").Inc()

	return parseResponse(respBody, len(texts))
}

func (h *HTTPProvider) Dimension() int {
	return h.dimension
}

func (h *HTTPProvider) Provider() string {
	return h.name
}

func (h *HTTPProvider) Model() string {
	return h.model
}

func (h *HTTPProvider) Close() error {
	h.httpClient.CloseIdleConnections()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// LocalProvider is an offline embedder built from hashed word and character
// trigram features. Spelling-similar texts get similar vectors, which is enough
// for development corpora and tests; it has no notion of synonyms.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider(dimension int, cache *Cache) (*LocalProvider, error) {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{
		model:     DefaultLocalModel,
		dimension: dimension,
		cache:     cache,
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := ComputeHash(l.model, req.Text)
	if l.cache != nil {
		if emb, ok := l.cache.Get(hash); ok {
			if req.Stats != nil {
				req.Stats.CacheHits++
			}
			return emb, nil
		}
	}

	if req.Stats != nil {
		req.Stats.APICalls++
	}
	vector := l.featureVector(req.Text)
	if err := ValidateVector(vector, l.dimension); err != nil {
		if req.Stats != nil {
			req.Stats.Failures++
		}
		return nil, err
	}

	emb := &Embedding{
		Vector:    vector,
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      hash,
	}

	if l.cache != nil {
		l.cache.Set(hash, emb)
	}

	return emb, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	resp := &BatchEmbeddingResponse{
		Embeddings: make([]*Embedding, len(req.Texts)),
		Errors:     make([]error, len(req.Texts)),
		Provider:   ProviderLocal,
		Model:      l.model,
	}
	for i, text := range req.Texts {
		resp.Embeddings[i], resp.Errors[i] = l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text, Model: req.Model, Stats: req.Stats})
	}

	return resp, nil
}

// featureVector hashes each word and each padded character trigram into a
// signed bucket and L2-normalizes the result.
func (l *LocalProvider) featureVector(text string) []float32 {
	vector := make([]float32, l.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	add := func(feature string, weight float32) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(feature))
		sum := h.Sum64()
		idx := int(sum % uint64(l.dimension))
		if sum>>63 == 1 {
			weight = -weight
		}
		vector[idx] += weight
	}

	for _, word := range words {
		add("w:"+word, 1.0)
		runes := []rune("^" + word + "$")
		for i := 0; i+3 <= len(runes); i++ {
			add("t:"+string(runes[i:i+3]), 0.5)
		}
	}

	return NormalizeVector(vector)
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}
