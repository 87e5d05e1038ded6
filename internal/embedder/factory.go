package embedder

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds embedder configuration
type Config struct {
	Provider      string
	URL           string
	APIKey        string
	Model         string
	Format        string
	Dimension     int
	BatchRequests bool
	MaxAttempts   int
	LoadingDelay  time.Duration
	RateLimitWait time.Duration
	TransientWait time.Duration
	CallInterval  time.Duration
	Timeout       time.Duration
	CacheSize     int
	Logger        zerolog.Logger
}

// New creates an embedder with explicit configuration.
// Zero-valued fields take the provider's defaults.
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	retry := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.LoadingDelay > 0 {
		retry.ModelLoadingDelay = cfg.LoadingDelay
	}
	if cfg.RateLimitWait > 0 {
		retry.RateLimitDelay = cfg.RateLimitWait
	}
	if cfg.TransientWait > 0 {
		retry.TransientDelay = cfg.TransientWait
	}

	callInterval := cfg.CallInterval
	if callInterval == 0 {
		callInterval = DefaultCallInterval
	}

	httpCfg := HTTPConfig{
		Name:          strings.ToLower(cfg.Provider),
		URL:           cfg.URL,
		APIKey:        cfg.APIKey,
		Model:         cfg.Model,
		Format:        RequestFormat(strings.ToLower(cfg.Format)),
		Dimension:     cfg.Dimension,
		BatchRequests: cfg.BatchRequests,
		Retry:         retry,
		CallInterval:  callInterval,
		Timeout:       cfg.Timeout,
		Cache:         cache,
		Logger:        cfg.Logger,
	}

	switch httpCfg.Name {
	case ProviderHTTP:
		if httpCfg.Dimension == 0 {
			httpCfg.Dimension = HTTPDimension
		}
		return NewHTTPProvider(httpCfg)
	case ProviderJina:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: API key not set for %s", ErrNoProviderEnabled, ProviderJina)
		}
		applyPreset(&httpCfg, JinaURL, DefaultJinaModel, JinaDimension)
		return NewHTTPProvider(httpCfg)
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: API key not set for %s", ErrNoProviderEnabled, ProviderOpenAI)
		}
		applyPreset(&httpCfg, OpenAIURL, DefaultOpenAIModel, OpenAIDimension)
		return NewHTTPProvider(httpCfg)
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// applyPreset fills hosted-provider defaults. Both hosted APIs take the
// OpenAI request format.
func applyPreset(cfg *HTTPConfig, url, model string, dimension int) {
	if cfg.URL == "" {
		cfg.URL = url
	}
	if cfg.Model == "" {
		cfg.Model = model
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = dimension
	}
	cfg.Format = FormatOpenAI
}
