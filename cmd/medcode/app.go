package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/dshills/medcode-resolver/internal/config"
	"github.com/dshills/medcode-resolver/internal/embedder"
	"github.com/dshills/medcode-resolver/internal/indexer"
	"github.com/dshills/medcode-resolver/internal/searcher"
	"github.com/dshills/medcode-resolver/internal/storage"
)

// app holds the wired components shared by every subcommand
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	storage  storage.Storage
	embedder embedder.Embedder
	redis    *embedder.RedisCache // nil unless REDIS_ADDR is set
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
}

// newLogger builds the process logger. Output goes to stderr because stdout
// carries the MCP protocol and command results.
func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// openApp loads configuration and wires storage, embedder, indexer and searcher
func openApp(ctx context.Context, envFile string) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := newLogger(cfg)

	weights, err := cfg.Weights()
	if err != nil {
		return nil, err
	}

	emb, err := embedder.New(cfg.Embedder())
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, embedder: emb}

	a.storage, err = openStorage(ctx, cfg, emb.Dimension())
	if err != nil {
		_ = emb.Close()
		return nil, err
	}

	var shared searcher.VectorCache
	if cfg.RedisAddr != "" {
		a.redis, err = embedder.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisTTL)
		if err != nil {
			// Query vectors still come from the in-process cache and provider
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, continuing without shared cache")
		} else {
			shared = a.redis
		}
	}

	queries := searcher.NewQueryEmbedder(emb, cfg.EmbeddingCacheSize, shared, logger)
	retriever := searcher.NewRetriever(a.storage, queries, searcher.RetrieverConfig{
		Weights:      weights,
		EmbedTimeout: cfg.QueryEmbedTimeout,
	}, logger)
	a.searcher = searcher.NewSearcher(retriever, searcher.Config{
		QueryTimeout: cfg.QueryTimeout,
		CacheTTL:     cfg.ResolveCacheTTL,
	}, logger)
	a.indexer = indexer.New(a.storage, emb, logger)

	logger.Debug().
		Str("db_driver", cfg.DBDriver).
		Str("provider", emb.Provider()).
		Str("model", emb.Model()).
		Int("dimension", emb.Dimension()).
		Str("weights", weights.Default.String()).
		Msg("components wired")

	return a, nil
}

func openStorage(ctx context.Context, cfg *config.Config, dimension int) (storage.Storage, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		store, err := storage.NewPostgresStorage(ctx, storage.PostgresConfig{
			DatabaseURL: cfg.DatabaseURL,
			MaxConns:    cfg.DBMaxConns,
			MinConns:    cfg.DBMinConns,
			Dimension:   dimension,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return store, nil
	default:
		store, err := storage.NewSQLiteStorage(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.DBPath, err)
		}
		return store, nil
	}
}

// jobConfig builds an indexer config from configuration and command flags
func (a *app) jobConfig(f *jobFlags) *indexer.Config {
	batch := f.batchSize
	if batch <= 0 {
		batch = a.cfg.JobBatchSize
	}
	workers := f.workers
	if workers <= 0 {
		workers = a.cfg.JobWorkers
	}
	return &indexer.Config{
		Filter:                   f.filter(),
		BatchSize:                batch,
		Workers:                  workers,
		DryRunLimit:              f.dryRunLimit,
		SkipOnEmptyNormalization: f.skipEmpty,
	}
}

func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.storage.Close(), a.embedder.Close())
	return errors.Join(errs...)
}
