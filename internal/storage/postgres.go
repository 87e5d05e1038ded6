package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/Masterminds/semver/v3"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/dshills/medcode-resolver/pkg/types"
)

// PostgresConfig configures the pgvector-backed corpus store
type PostgresConfig struct {
	DatabaseURL string
	MaxConns    int32
	MinConns    int32
	// Dimension fixes the width of the vector column
	Dimension int
}

// PostgresStorage implements Storage on Postgres with pgvector and tsvector
type PostgresStorage struct {
	pool      *pgxpool.Pool
	dimension int
}

// pgQuerier is implemented by both *pgxpool.Pool and pgx.Tx
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// NewPool opens a pgx connection pool and verifies connectivity
func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// NewPostgresStorage connects and applies the Postgres schema
func NewPostgresStorage(ctx context.Context, cfg PostgresConfig) (*PostgresStorage, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("postgres storage requires a positive vector dimension")
	}
	pool, err := NewPool(ctx, cfg.DatabaseURL, cfg.MaxConns, cfg.MinConns)
	if err != nil {
		return nil, err
	}
	if err := applyPostgresMigrations(ctx, pool, cfg.Dimension); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return &PostgresStorage{pool: pool, dimension: cfg.Dimension}, nil
}

func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &postgresTx{tx: tx, storage: s}, nil
}

// Schema

func postgresMigrations(dimension int) []Migration {
	return []Migration{
		{
			Version: "1.0.0",
			Up: fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS code_entries (
    id BIGSERIAL PRIMARY KEY,
    code_system TEXT NOT NULL,
    code_value TEXT NOT NULL,
    country_code TEXT NOT NULL,
    display_name TEXT NOT NULL,
    search_text TEXT NOT NULL DEFAULT '',
    normalized_text TEXT,
    embedding vector(%d),
    embedding_model TEXT,
    embedded_at TIMESTAMPTZ,
    entity_type TEXT NOT NULL DEFAULT '',
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    search_vector tsvector GENERATED ALWAYS AS (
        setweight(to_tsvector('simple', display_name), 'A') ||
        setweight(to_tsvector('simple', search_text), 'B')
    ) STORED,
    UNIQUE (code_system, country_code, code_value)
);

CREATE INDEX IF NOT EXISTS idx_code_entries_scope ON code_entries (code_system, country_code, entity_type, active);
CREATE INDEX IF NOT EXISTS idx_code_entries_cursor ON code_entries (code_value, id);
CREATE INDEX IF NOT EXISTS idx_code_entries_search ON code_entries USING GIN (search_vector);
CREATE INDEX IF NOT EXISTS idx_code_entries_embedding ON code_entries USING hnsw (embedding vector_cosine_ops);
`, dimension),
		},
		{
			Version: "1.1.0",
			Up:      `CREATE INDEX IF NOT EXISTS idx_code_entries_model ON code_entries (embedding_model, code_value, id);`,
		},
	}
}

func applyPostgresMigrations(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		seq BIGSERIAL PRIMARY KEY,
		version TEXT NOT NULL UNIQUE,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	current, err := postgresSchemaVersion(ctx, pool)
	if err != nil {
		return err
	}

	for _, migration := range postgresMigrations(dimension) {
		v, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}
		if !current.LessThan(v) {
			continue
		}
		if _, err := pool.Exec(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if _, err := pool.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}
		current = v
	}
	return nil
}

func postgresSchemaVersion(ctx context.Context, q pgQuerier) (*semver.Version, error) {
	var version string
	err := q.QueryRow(ctx, `SELECT version FROM schema_version ORDER BY seq DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	return semver.NewVersion(version)
}

// Corpus operations

const pgTextChanged = `(code_entries.display_name <> excluded.display_name
	OR (excluded.normalized_text IS NOT NULL AND excluded.normalized_text IS DISTINCT FROM code_entries.normalized_text))`

const pgUpsertEntry = `
	INSERT INTO code_entries (code_system, code_value, country_code, display_name, search_text,
		normalized_text, entity_type, active, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	ON CONFLICT (code_system, country_code, code_value) DO UPDATE SET
		normalized_text = CASE
			WHEN excluded.normalized_text IS NOT NULL THEN excluded.normalized_text
			WHEN code_entries.display_name = excluded.display_name THEN code_entries.normalized_text
			ELSE NULL END,
		embedding = CASE WHEN ` + pgTextChanged + ` THEN NULL ELSE code_entries.embedding END,
		embedding_model = CASE WHEN ` + pgTextChanged + ` THEN NULL ELSE code_entries.embedding_model END,
		embedded_at = CASE WHEN ` + pgTextChanged + ` THEN NULL ELSE code_entries.embedded_at END,
		display_name = excluded.display_name,
		search_text = excluded.search_text,
		entity_type = excluded.entity_type,
		active = excluded.active,
		updated_at = excluded.updated_at
	RETURNING id, created_at
`

func (s *PostgresStorage) upsertCodeEntry(ctx context.Context, q pgQuerier, entry *types.CodeEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	err := q.QueryRow(ctx, pgUpsertEntry,
		entry.CodeSystem, entry.CodeValue, entry.CountryCode, entry.DisplayName, entry.SearchText,
		entry.NormalizedText, string(entry.EntityType), entry.Active, now,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: upsert %s/%s/%s: %w", ErrWriteFailed,
			entry.CodeSystem, entry.CountryCode, entry.CodeValue, err)
	}
	entry.UpdatedAt = now
	return nil
}

func (s *PostgresStorage) UpsertCodeEntry(ctx context.Context, entry *types.CodeEntry) error {
	return s.upsertCodeEntry(ctx, s.pool, entry)
}

func (s *PostgresStorage) getCodeEntry(ctx context.Context, q pgQuerier, key CodeKey) (*types.CodeEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM code_entries e
		WHERE e.code_system = $1 AND e.country_code = $2 AND e.code_value = $3`
	entry, err := scanPostgresEntry(q.QueryRow(ctx, query, key.CodeSystem, key.CountryCode, key.CodeValue))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *PostgresStorage) GetCodeEntry(ctx context.Context, key CodeKey) (*types.CodeEntry, error) {
	return s.getCodeEntry(ctx, s.pool, key)
}

func (s *PostgresStorage) list(ctx context.Context, q pgQuerier, b *clauseBuilder, after Cursor, limit int) ([]*types.CodeEntry, error) {
	b.after("e", after)
	query := `SELECT ` + entryColumns + ` FROM code_entries e` + b.sql() +
		` ORDER BY e.code_value, e.id LIMIT ` + b.arg(clampLimit(limit))

	rows, err := q.Query(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan corpus: %w", err)
	}
	defer rows.Close()

	entries := make([]*types.CodeEntry, 0)
	for rows.Next() {
		entry, err := scanPostgresEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *PostgresStorage) ListCodeEntries(ctx context.Context, filter Filter, after Cursor, limit int) ([]*types.CodeEntry, error) {
	b := newClauseBuilder(postgresDialect)
	b.filter("e", filter)
	return s.list(ctx, s.pool, b, after, limit)
}

func (s *PostgresStorage) ListNeedingNormalization(ctx context.Context, filter Filter, after Cursor, limit int) ([]*types.CodeEntry, error) {
	b := newClauseBuilder(postgresDialect)
	b.filter("e", filter)
	b.where("e.normalized_text IS NULL")
	return s.list(ctx, s.pool, b, after, limit)
}

func (s *PostgresStorage) ListNeedingEmbedding(ctx context.Context, filter Filter, model string, after Cursor, limit int) ([]*types.CodeEntry, error) {
	b := newClauseBuilder(postgresDialect)
	b.filter("e", filter)
	b.where("(e.embedding IS NULL OR e.embedding_model IS DISTINCT FROM %s)", model)
	return s.list(ctx, s.pool, b, after, limit)
}

func (s *PostgresStorage) CountNeedingEmbedding(ctx context.Context, filter Filter, model string) (int, error) {
	return s.countNeedingEmbedding(ctx, s.pool, filter, model)
}

func (s *PostgresStorage) countNeedingEmbedding(ctx context.Context, q pgQuerier, filter Filter, model string) (int, error) {
	b := newClauseBuilder(postgresDialect)
	b.filter("e", filter)
	b.where("(e.embedding IS NULL OR e.embedding_model IS DISTINCT FROM %s)", model)

	var count int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM code_entries e`+b.sql(), b.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending embeddings: %w", err)
	}
	return count, nil
}

func (s *PostgresStorage) setNormalizedText(ctx context.Context, q pgQuerier, entryID int64, text string) error {
	query := `
		UPDATE code_entries SET
			embedding = CASE WHEN normalized_text IS NOT DISTINCT FROM $1 THEN embedding ELSE NULL END,
			embedding_model = CASE WHEN normalized_text IS NOT DISTINCT FROM $1 THEN embedding_model ELSE NULL END,
			embedded_at = CASE WHEN normalized_text IS NOT DISTINCT FROM $1 THEN embedded_at ELSE NULL END,
			normalized_text = $1,
			updated_at = $2
		WHERE id = $3
	`
	tag, err := q.Exec(ctx, query, text, time.Now().UTC(), entryID)
	return checkPostgresWrite(tag, err, entryID)
}

func (s *PostgresStorage) SetNormalizedText(ctx context.Context, entryID int64, text string) error {
	return s.setNormalizedText(ctx, s.pool, entryID, text)
}

func (s *PostgresStorage) saveEmbedding(ctx context.Context, q pgQuerier, entryID int64, text string, vector []float32, model string) error {
	if text == "" {
		return types.ErrEmbeddingWithoutText
	}
	if model == "" {
		return types.ErrEmbeddingWithoutModel
	}
	if len(vector) != s.dimension {
		return fmt.Errorf("%w: entry %d: vector has %d dimensions, column has %d",
			ErrWriteFailed, entryID, len(vector), s.dimension)
	}
	now := time.Now().UTC()
	query := `
		UPDATE code_entries SET
			normalized_text = $1,
			embedding = $2::vector,
			embedding_model = $3,
			embedded_at = $4,
			updated_at = $4
		WHERE id = $5
	`
	tag, err := q.Exec(ctx, query, text, pgvector.NewVector(vector), model, now, entryID)
	return checkPostgresWrite(tag, err, entryID)
}

func (s *PostgresStorage) SaveEmbedding(ctx context.Context, entryID int64, text string, vector []float32, model string) error {
	return s.saveEmbedding(ctx, s.pool, entryID, text, vector, model)
}

// Search operations

func (s *PostgresStorage) searchLexical(ctx context.Context, q pgQuerier, terms []string, limit int, filter Filter) ([]LexicalResult, error) {
	tsquery := buildTSQuery(terms)
	if tsquery == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		return []LexicalResult{}, nil
	}

	b := newClauseBuilder(postgresDialect, tsquery)
	b.where("e.search_vector @@ to_tsquery('simple', $1)")
	b.filter("e", filter)

	query := `SELECT ` + entryColumns + `, ts_rank_cd(e.search_vector, to_tsquery('simple', $1)) AS relevance
		FROM code_entries e` + b.sql() +
		` ORDER BY relevance DESC, e.code_value LIMIT ` + b.arg(limit)

	rows, err := q.Query(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute full-text search: %w", err)
	}
	defer rows.Close()

	results := make([]LexicalResult, 0, limit)
	for rows.Next() {
		var relevance float64
		entry, err := scanPostgresEntry(withExtra{rows, []interface{}{&relevance}})
		if err != nil {
			return nil, err
		}
		results = append(results, LexicalResult{Entry: entry, Relevance: relevance})
	}
	return results, rows.Err()
}

func (s *PostgresStorage) SearchLexical(ctx context.Context, terms []string, limit int, filter Filter) ([]LexicalResult, error) {
	return s.searchLexical(ctx, s.pool, terms, limit, filter)
}

// buildTSQuery ORs sanitized terms, with prefix matching on longer terms
func buildTSQuery(terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, term)
		if clean == "" {
			continue
		}
		if len([]rune(clean)) >= minPrefixTermLength {
			clean += ":*"
		}
		parts = append(parts, clean)
	}
	return strings.Join(parts, " | ")
}

func (s *PostgresStorage) searchVector(ctx context.Context, q pgQuerier, vector []float32, model string, limit int, filter Filter) ([]VectorResult, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("query vector has %d dimensions, column has %d", len(vector), s.dimension)
	}
	if limit <= 0 {
		return []VectorResult{}, nil
	}

	b := newClauseBuilder(postgresDialect, pgvector.NewVector(vector))
	b.where("e.embedding IS NOT NULL")
	b.where("e.embedding_model = %s", model)
	b.filter("e", filter)

	// <=> is cosine distance
	query := `SELECT ` + entryColumns + `, 1 - (e.embedding <=> $1::vector) AS similarity
		FROM code_entries e` + b.sql() +
		` ORDER BY e.embedding <=> $1::vector, e.code_value LIMIT ` + b.arg(limit)

	rows, err := q.Query(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer rows.Close()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var similarity float64
		entry, err := scanPostgresEntry(withExtra{rows, []interface{}{&similarity}})
		if err != nil {
			return nil, err
		}
		results = append(results, VectorResult{Entry: entry, Similarity: similarity})
	}
	return results, rows.Err()
}

func (s *PostgresStorage) SearchVector(ctx context.Context, vector []float32, model string, limit int, filter Filter) ([]VectorResult, error) {
	return s.searchVector(ctx, s.pool, vector, model, limit, filter)
}

// Status operations

func (s *PostgresStorage) GetStatus(ctx context.Context, model string) (*CorpusStatus, error) {
	status := &CorpusStatus{
		Backend:  "postgres-pgvector",
		Model:    model,
		ByModel:  make(map[string]int),
		BySystem: make(map[string]int),
	}

	version, err := postgresSchemaVersion(ctx, s.pool)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version.String()

	var lastEmbedded *time.Time
	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE active),
			COUNT(*) FILTER (WHERE normalized_text IS NOT NULL),
			COUNT(*) FILTER (WHERE embedding IS NOT NULL),
			COUNT(*) FILTER (WHERE embedding IS NOT NULL AND embedding_model = $1),
			COUNT(*) FILTER (WHERE active AND normalized_text IS NULL),
			COUNT(*) FILTER (WHERE active AND (embedding IS NULL OR embedding_model IS DISTINCT FROM $1)),
			MAX(embedded_at)
		FROM code_entries
	`, model).Scan(
		&status.TotalEntries, &status.ActiveEntries, &status.Normalized, &status.Embedded,
		&status.EmbeddedCurrent, &status.PendingNormalization, &status.PendingEmbedding, &lastEmbedded,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus counts: %w", err)
	}
	if lastEmbedded != nil {
		status.LastEmbeddedAt = *lastEmbedded
	}

	if err := s.groupCounts(ctx, `SELECT embedding_model, COUNT(*) FROM code_entries
		WHERE embedding IS NOT NULL GROUP BY embedding_model`, status.ByModel); err != nil {
		return nil, err
	}
	if err := s.groupCounts(ctx, `SELECT code_system || '/' || country_code, COUNT(*) FROM code_entries
		GROUP BY code_system, country_code`, status.BySystem); err != nil {
		return nil, err
	}

	var sizeBytes int64
	if err := s.pool.QueryRow(ctx, `SELECT pg_total_relation_size('code_entries')`).Scan(&sizeBytes); err == nil {
		status.SizeMB = float64(sizeBytes) / (1024 * 1024)
	}

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		EmbeddingsAvailable: status.EmbeddedCurrent > 0,
		LexicalIndexBuilt:   true,
		VectorIndexNative:   true,
	}
	return status, nil
}

func (s *PostgresStorage) groupCounts(ctx context.Context, query string, into map[string]int) error {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to group corpus counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

// Helpers

func scanPostgresEntry(row rowScanner) (*types.CodeEntry, error) {
	var (
		entry      types.CodeEntry
		vec        *pgvector.Vector
		model      *string
		entityType string
	)
	err := row.Scan(
		&entry.ID, &entry.CodeSystem, &entry.CodeValue, &entry.CountryCode, &entry.DisplayName,
		&entry.SearchText, &entry.NormalizedText, &vec, &model, &entry.EmbeddedAt, &entityType,
		&entry.Active, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if vec != nil {
		entry.Embedding = vec.Slice()
	}
	if model != nil {
		entry.EmbeddingModel = *model
	}
	entry.EntityType = types.EntityType(entityType)
	return &entry, nil
}

func checkPostgresWrite(tag pgconn.CommandTag, err error, entryID int64) error {
	if err != nil {
		return fmt.Errorf("%w: entry %d: %w", ErrWriteFailed, entryID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entry %d: %w", entryID, ErrNotFound)
	}
	return nil
}

// postgresTx runs every operation on one pgx transaction
type postgresTx struct {
	tx      pgx.Tx
	storage *PostgresStorage
}

func (t *postgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *postgresTx) Rollback() error {
	err := t.tx.Rollback(context.Background())
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func (t *postgresTx) UpsertCodeEntry(ctx context.Context, entry *types.CodeEntry) error {
	return t.storage.upsertCodeEntry(ctx, t.tx, entry)
}

func (t *postgresTx) GetCodeEntry(ctx context.Context, key CodeKey) (*types.CodeEntry, error) {
	return t.storage.getCodeEntry(ctx, t.tx, key)
}

func (t *postgresTx) ListCodeEntries(ctx context.Context, filter Filter, after Cursor, limit int) ([]*types.CodeEntry, error) {
	b := newClauseBuilder(postgresDialect)
	b.filter("e", filter)
	return t.storage.list(ctx, t.tx, b, after, limit)
}

func (t *postgresTx) ListNeedingNormalization(ctx context.Context, filter Filter, after Cursor, limit int) ([]*types.CodeEntry, error) {
	b := newClauseBuilder(postgresDialect)
	b.filter("e", filter)
	b.where("e.normalized_text IS NULL")
	return t.storage.list(ctx, t.tx, b, after, limit)
}

func (t *postgresTx) ListNeedingEmbedding(ctx context.Context, filter Filter, model string, after Cursor, limit int) ([]*types.CodeEntry, error) {
	b := newClauseBuilder(postgresDialect)
	b.filter("e", filter)
	b.where("(e.embedding IS NULL OR e.embedding_model IS DISTINCT FROM %s)", model)
	return t.storage.list(ctx, t.tx, b, after, limit)
}

func (t *postgresTx) CountNeedingEmbedding(ctx context.Context, filter Filter, model string) (int, error) {
	return t.storage.countNeedingEmbedding(ctx, t.tx, filter, model)
}

func (t *postgresTx) SetNormalizedText(ctx context.Context, entryID int64, text string) error {
	return t.storage.setNormalizedText(ctx, t.tx, entryID, text)
}

func (t *postgresTx) SaveEmbedding(ctx context.Context, entryID int64, text string, vector []float32, model string) error {
	return t.storage.saveEmbedding(ctx, t.tx, entryID, text, vector, model)
}

func (t *postgresTx) SearchLexical(ctx context.Context, terms []string, limit int, filter Filter) ([]LexicalResult, error) {
	return t.storage.searchLexical(ctx, t.tx, terms, limit, filter)
}

func (t *postgresTx) SearchVector(ctx context.Context, vector []float32, model string, limit int, filter Filter) ([]VectorResult, error) {
	return t.storage.searchVector(ctx, t.tx, vector, model, limit, filter)
}

func (t *postgresTx) GetStatus(ctx context.Context, model string) (*CorpusStatus, error) {
	return t.storage.GetStatus(ctx, model)
}

func (t *postgresTx) Close() error {
	return nil
}

func (t *postgresTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, errors.New("nested transactions not supported")
}
