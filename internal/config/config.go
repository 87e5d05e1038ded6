// Package config loads resolver settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dshills/medcode-resolver/internal/embedder"
	"github.com/dshills/medcode-resolver/internal/searcher"
)

// Storage drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	Port     string `mapstructure:"PORT"`

	// Corpus store
	DBDriver    string `mapstructure:"DB_DRIVER"`
	DBPath      string `mapstructure:"DB_PATH"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// Embedding provider
	EmbeddingProvider      string        `mapstructure:"EMBEDDING_PROVIDER"`
	EmbeddingURL           string        `mapstructure:"EMBEDDING_URL"`
	EmbeddingAPIKey        string        `mapstructure:"EMBEDDING_API_KEY"`
	EmbeddingModel         string        `mapstructure:"EMBEDDING_MODEL"`
	EmbeddingFormat        string        `mapstructure:"EMBEDDING_FORMAT"`
	EmbeddingDimension     int           `mapstructure:"EMBEDDING_DIMENSION"`
	EmbeddingMaxAttempts   int           `mapstructure:"EMBEDDING_MAX_ATTEMPTS"`
	EmbeddingLoadingDelay  time.Duration `mapstructure:"EMBEDDING_LOADING_DELAY"`
	EmbeddingRateLimitWait time.Duration `mapstructure:"EMBEDDING_RATE_LIMIT_DELAY"`
	EmbeddingTransientWait time.Duration `mapstructure:"EMBEDDING_TRANSIENT_DELAY"`
	EmbeddingCallInterval  time.Duration `mapstructure:"EMBEDDING_CALL_INTERVAL"`
	EmbeddingTimeout       time.Duration `mapstructure:"EMBEDDING_TIMEOUT"`
	EmbeddingBatchRequests bool          `mapstructure:"EMBEDDING_BATCH_REQUESTS"`
	EmbeddingCacheSize     int           `mapstructure:"EMBEDDING_CACHE_SIZE"`

	// Shared query-vector cache, disabled when REDIS_ADDR is empty
	RedisAddr string        `mapstructure:"REDIS_ADDR"`
	RedisTTL  time.Duration `mapstructure:"REDIS_TTL"`

	// Resolve
	QueryTimeout      time.Duration `mapstructure:"QUERY_TIMEOUT"`
	QueryEmbedTimeout time.Duration `mapstructure:"QUERY_EMBED_TIMEOUT"`
	ResolveCacheTTL   time.Duration `mapstructure:"RESOLVE_CACHE_TTL"`
	WeightLexical     float64       `mapstructure:"WEIGHT_LEXICAL"`
	WeightVector      float64       `mapstructure:"WEIGHT_VECTOR"`
	WeightOverrides   string        `mapstructure:"WEIGHT_OVERRIDES"`

	// Corpus jobs
	JobBatchSize int `mapstructure:"JOB_BATCH_SIZE"`
	JobWorkers   int `mapstructure:"JOB_WORKERS"`
}

var keys = []string{
	"ENV", "LOG_LEVEL", "PORT",
	"DB_DRIVER", "DB_PATH", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"EMBEDDING_PROVIDER", "EMBEDDING_URL", "EMBEDDING_API_KEY", "EMBEDDING_MODEL",
	"EMBEDDING_FORMAT", "EMBEDDING_DIMENSION", "EMBEDDING_MAX_ATTEMPTS",
	"EMBEDDING_LOADING_DELAY", "EMBEDDING_RATE_LIMIT_DELAY", "EMBEDDING_TRANSIENT_DELAY",
	"EMBEDDING_CALL_INTERVAL", "EMBEDDING_TIMEOUT", "EMBEDDING_BATCH_REQUESTS",
	"EMBEDDING_CACHE_SIZE",
	"REDIS_ADDR", "REDIS_TTL",
	"QUERY_TIMEOUT", "QUERY_EMBED_TIMEOUT", "RESOLVE_CACHE_TTL",
	"WEIGHT_LEXICAL", "WEIGHT_VECTOR", "WEIGHT_OVERRIDES",
	"JOB_BATCH_SIZE", "JOB_WORKERS",
}

// Load reads the environment, falling back to envFile when it exists.
// An empty envFile means ".env".
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}

	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("DB_PATH", "medcode.db")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("EMBEDDING_PROVIDER", embedder.ProviderLocal)
	v.SetDefault("EMBEDDING_MAX_ATTEMPTS", 3)
	v.SetDefault("EMBEDDING_LOADING_DELAY", 5*time.Second)
	v.SetDefault("EMBEDDING_RATE_LIMIT_DELAY", 60*time.Second)
	v.SetDefault("EMBEDDING_TRANSIENT_DELAY", time.Second)
	v.SetDefault("EMBEDDING_CALL_INTERVAL", embedder.DefaultCallInterval)
	v.SetDefault("EMBEDDING_TIMEOUT", 30*time.Second)
	v.SetDefault("EMBEDDING_CACHE_SIZE", embedder.DefaultCacheSize)
	v.SetDefault("REDIS_TTL", 24*time.Hour)
	v.SetDefault("QUERY_TIMEOUT", searcher.DefaultQueryTimeout)
	v.SetDefault("QUERY_EMBED_TIMEOUT", searcher.DefaultEmbedTimeout)
	v.SetDefault("RESOLVE_CACHE_TTL", searcher.DefaultCacheTTL)
	v.SetDefault("WEIGHT_LEXICAL", searcher.DefaultLexicalWeight)
	v.SetDefault("WEIGHT_VECTOR", searcher.DefaultVectorWeight)
	v.SetDefault("JOB_BATCH_SIZE", 50)
	v.SetDefault("JOB_WORKERS", 1)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	// Try reading the env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.EmbeddingProvider = strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider))
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Weights builds the resolve weight table from WEIGHT_* settings.
func (c *Config) Weights() (searcher.WeightTable, error) {
	table := searcher.WeightTable{
		Default: searcher.Weights{Lexical: c.WeightLexical, Vector: c.WeightVector},
	}
	overrides, err := searcher.ParseWeightOverrides(c.WeightOverrides)
	if err != nil {
		return table, fmt.Errorf("WEIGHT_OVERRIDES: %w", err)
	}
	table.Overrides = overrides
	if err := table.Validate(); err != nil {
		return table, err
	}
	return table, nil
}

// Embedder returns the provider factory settings.
func (c *Config) Embedder() embedder.Config {
	return embedder.Config{
		Provider:      c.EmbeddingProvider,
		URL:           c.EmbeddingURL,
		APIKey:        c.EmbeddingAPIKey,
		Model:         c.EmbeddingModel,
		Format:        c.EmbeddingFormat,
		Dimension:     c.EmbeddingDimension,
		BatchRequests: c.EmbeddingBatchRequests,
		MaxAttempts:   c.EmbeddingMaxAttempts,
		LoadingDelay:  c.EmbeddingLoadingDelay,
		RateLimitWait: c.EmbeddingRateLimitWait,
		TransientWait: c.EmbeddingTransientWait,
		CallInterval:  c.EmbeddingCallInterval,
		Timeout:       c.EmbeddingTimeout,
		CacheSize:     c.EmbeddingCacheSize,
	}
}

// Validate checks that the configuration is usable before anything is opened.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required when DB_DRIVER is %q", DriverSQLite)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER is %q", DriverPostgres)
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DBDriver)
	}

	switch c.EmbeddingProvider {
	case embedder.ProviderLocal, embedder.ProviderHTTP, embedder.ProviderJina, embedder.ProviderOpenAI:
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be one of http, jina, openai, local; got %q", c.EmbeddingProvider)
	}
	if c.EmbeddingProvider == embedder.ProviderHTTP && c.EmbeddingURL == "" {
		return fmt.Errorf("EMBEDDING_URL is required when EMBEDDING_PROVIDER is %q", embedder.ProviderHTTP)
	}
	if (c.EmbeddingProvider == embedder.ProviderOpenAI || c.EmbeddingProvider == embedder.ProviderJina) && c.EmbeddingAPIKey == "" {
		return fmt.Errorf("EMBEDDING_API_KEY is required when EMBEDDING_PROVIDER is %q", c.EmbeddingProvider)
	}
	if c.EmbeddingMaxAttempts < 1 {
		return fmt.Errorf("EMBEDDING_MAX_ATTEMPTS must be at least 1, got %d", c.EmbeddingMaxAttempts)
	}
	if c.QueryEmbedTimeout > c.QueryTimeout {
		return fmt.Errorf("QUERY_EMBED_TIMEOUT (%s) exceeds QUERY_TIMEOUT (%s)", c.QueryEmbedTimeout, c.QueryTimeout)
	}
	if c.JobBatchSize < 1 {
		return fmt.Errorf("JOB_BATCH_SIZE must be at least 1, got %d", c.JobBatchSize)
	}
	if c.JobWorkers < 1 {
		return fmt.Errorf("JOB_WORKERS must be at least 1, got %d", c.JobWorkers)
	}
	if _, err := c.Weights(); err != nil {
		return err
	}
	return nil
}
