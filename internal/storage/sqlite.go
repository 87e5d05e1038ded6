package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/medcode-resolver/pkg/types"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens (creating if needed) the corpus database at dbPath
// and applies pending migrations. ":memory:" is accepted for tests.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// Corpus operations

const sqliteUpsertEntry = `
	INSERT INTO code_entries (code_system, code_value, country_code, display_name, search_text,
		normalized_text, entity_type, active, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(code_system, country_code, code_value) DO UPDATE SET
		normalized_text = CASE
			WHEN excluded.normalized_text IS NOT NULL THEN excluded.normalized_text
			WHEN code_entries.display_name = excluded.display_name THEN code_entries.normalized_text
			ELSE NULL END,
		embedding = CASE WHEN ` + sqliteTextChanged + ` THEN NULL ELSE code_entries.embedding END,
		embedding_model = CASE WHEN ` + sqliteTextChanged + ` THEN NULL ELSE code_entries.embedding_model END,
		embedded_at = CASE WHEN ` + sqliteTextChanged + ` THEN NULL ELSE code_entries.embedded_at END,
		display_name = excluded.display_name,
		search_text = excluded.search_text,
		entity_type = excluded.entity_type,
		active = excluded.active,
		updated_at = excluded.updated_at
	RETURNING id
`

// sqliteTextChanged is true when an upsert invalidates the stored embedding
const sqliteTextChanged = `(code_entries.display_name <> excluded.display_name
	OR (excluded.normalized_text IS NOT NULL AND excluded.normalized_text IS NOT code_entries.normalized_text))`

func (s *SQLiteStorage) upsertCodeEntryWithQuerier(ctx context.Context, q querier, entry *types.CodeEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	err := q.QueryRowContext(ctx, sqliteUpsertEntry,
		entry.CodeSystem, entry.CodeValue, entry.CountryCode, entry.DisplayName, entry.SearchText,
		nullString(entry.NormalizedText), string(entry.EntityType), entry.Active, now, now,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("%w: upsert %s/%s/%s: %w", ErrWriteFailed,
			entry.CodeSystem, entry.CountryCode, entry.CodeValue, err)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertCodeEntry(ctx context.Context, entry *types.CodeEntry) error {
	return s.upsertCodeEntryWithQuerier(ctx, s.db, entry)
}

func (s *SQLiteStorage) getCodeEntryWithQuerier(ctx context.Context, q querier, key CodeKey) (*types.CodeEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM code_entries e
		WHERE e.code_system = ? AND e.country_code = ? AND e.code_value = ?`
	entry, err := scanSQLiteEntry(q.QueryRowContext(ctx, query, key.CodeSystem, key.CountryCode, key.CodeValue))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *SQLiteStorage) GetCodeEntry(ctx context.Context, key CodeKey) (*types.CodeEntry, error) {
	return s.getCodeEntryWithQuerier(ctx, s.db, key)
}

// listWithQuerier runs a keyset-paginated scan; extra conditions are ANDed in
func (s *SQLiteStorage) listWithQuerier(ctx context.Context, q querier, b *clauseBuilder, after Cursor, limit int) ([]*types.CodeEntry, error) {
	b.after("e", after)
	query := `SELECT ` + entryColumns + ` FROM code_entries e` + b.sql() +
		` ORDER BY e.code_value, e.id LIMIT ` + b.arg(clampLimit(limit))

	rows, err := q.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan corpus: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]*types.CodeEntry, 0)
	for rows.Next() {
		entry, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStorage) ListCodeEntries(ctx context.Context, filter Filter, after Cursor, limit int) ([]*types.CodeEntry, error) {
	b := newClauseBuilder(sqliteDialect)
	b.filter("e", filter)
	return s.listWithQuerier(ctx, s.db, b, after, limit)
}

// Embedding maintenance

func (s *SQLiteStorage) ListNeedingNormalization(ctx context.Context, filter Filter, after Cursor, limit int) ([]*types.CodeEntry, error) {
	b := newClauseBuilder(sqliteDialect)
	b.filter("e", filter)
	b.where("e.normalized_text IS NULL")
	return s.listWithQuerier(ctx, s.db, b, after, limit)
}

func (s *SQLiteStorage) ListNeedingEmbedding(ctx context.Context, filter Filter, model string, after Cursor, limit int) ([]*types.CodeEntry, error) {
	b := newClauseBuilder(sqliteDialect)
	b.filter("e", filter)
	b.where("(e.embedding IS NULL OR e.embedding_model IS NULL OR e.embedding_model <> %s)", model)
	return s.listWithQuerier(ctx, s.db, b, after, limit)
}

func (s *SQLiteStorage) CountNeedingEmbedding(ctx context.Context, filter Filter, model string) (int, error) {
	return s.countNeedingEmbeddingWithQuerier(ctx, s.db, filter, model)
}

func (s *SQLiteStorage) countNeedingEmbeddingWithQuerier(ctx context.Context, q querier, filter Filter, model string) (int, error) {
	b := newClauseBuilder(sqliteDialect)
	b.filter("e", filter)
	b.where("(e.embedding IS NULL OR e.embedding_model IS NULL OR e.embedding_model <> %s)", model)

	var count int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM code_entries e`+b.sql(), b.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending embeddings: %w", err)
	}
	return count, nil
}

func (s *SQLiteStorage) setNormalizedTextWithQuerier(ctx context.Context, q querier, entryID int64, text string) error {
	query := `
		UPDATE code_entries SET
			embedding = CASE WHEN normalized_text IS ? THEN embedding ELSE NULL END,
			embedding_model = CASE WHEN normalized_text IS ? THEN embedding_model ELSE NULL END,
			embedded_at = CASE WHEN normalized_text IS ? THEN embedded_at ELSE NULL END,
			normalized_text = ?,
			updated_at = ?
		WHERE id = ?
	`
	res, err := q.ExecContext(ctx, query, text, text, text, text, time.Now().UTC(), entryID)
	return checkWrite(res, err, entryID)
}

func (s *SQLiteStorage) SetNormalizedText(ctx context.Context, entryID int64, text string) error {
	return s.setNormalizedTextWithQuerier(ctx, s.db, entryID, text)
}

func (s *SQLiteStorage) saveEmbeddingWithQuerier(ctx context.Context, q querier, entryID int64, text string, vector []float32, model string) error {
	if text == "" {
		return types.ErrEmbeddingWithoutText
	}
	if model == "" {
		return types.ErrEmbeddingWithoutModel
	}
	now := time.Now().UTC()
	query := `
		UPDATE code_entries SET
			normalized_text = ?,
			embedding = ?,
			embedding_model = ?,
			embedded_at = ?,
			updated_at = ?
		WHERE id = ?
	`
	res, err := q.ExecContext(ctx, query, text, serializeVector(vector), model, now, now, entryID)
	return checkWrite(res, err, entryID)
}

func (s *SQLiteStorage) SaveEmbedding(ctx context.Context, entryID int64, text string, vector []float32, model string) error {
	return s.saveEmbeddingWithQuerier(ctx, s.db, entryID, text, vector, model)
}

// Search operations

func (s *SQLiteStorage) SearchLexical(ctx context.Context, terms []string, limit int, filter Filter) ([]LexicalResult, error) {
	return searchLexical(ctx, s.db, terms, limit, filter)
}

func (s *SQLiteStorage) SearchVector(ctx context.Context, vector []float32, model string, limit int, filter Filter) ([]VectorResult, error) {
	return searchVector(ctx, s.db, vector, model, limit, filter)
}

// Status operations

func (s *SQLiteStorage) GetStatus(ctx context.Context, model string) (*CorpusStatus, error) {
	status := &CorpusStatus{
		Backend:  "sqlite-" + BuildMode,
		Model:    model,
		ByModel:  make(map[string]int),
		BySystem: make(map[string]int),
	}

	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version

	var lastEmbedded sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(active), 0),
			COALESCE(SUM(CASE WHEN normalized_text IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN embedding IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN embedding IS NOT NULL AND embedding_model = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN active = 1 AND normalized_text IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN active = 1 AND (embedding IS NULL OR embedding_model IS NOT ?) THEN 1 ELSE 0 END), 0),
			MAX(embedded_at)
		FROM code_entries
	`, model, model).Scan(
		&status.TotalEntries, &status.ActiveEntries, &status.Normalized, &status.Embedded,
		&status.EmbeddedCurrent, &status.PendingNormalization, &status.PendingEmbedding, &lastEmbedded,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus counts: %w", err)
	}
	if lastEmbedded.Valid {
		status.LastEmbeddedAt = parseSQLiteTime(lastEmbedded.String)
	}

	if err := s.groupCounts(ctx, `SELECT embedding_model, COUNT(*) FROM code_entries
		WHERE embedding IS NOT NULL GROUP BY embedding_model`, status.ByModel); err != nil {
		return nil, err
	}
	if err := s.groupCounts(ctx, `SELECT code_system || '/' || country_code, COUNT(*) FROM code_entries
		GROUP BY code_system, country_code`, status.BySystem); err != nil {
		return nil, err
	}

	var pageCount, pageSize int
	err = s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.SizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		EmbeddingsAvailable: status.EmbeddedCurrent > 0,
		LexicalIndexBuilt:   true, // FTS5 table and triggers are created with migrations
		VectorIndexNative:   VectorExtensionAvailable,
	}

	return status, nil
}

func (s *SQLiteStorage) groupCounts(ctx context.Context, query string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to group corpus counts: %w", err)
	}
	defer func() { _ = rows.Close() }()
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

func scanSQLiteEntry(row rowScanner) (*types.CodeEntry, error) {
	var (
		entry      types.CodeEntry
		normalized sql.NullString
		blob       []byte
		model      sql.NullString
		embeddedAt sql.NullTime
		entityType string
	)
	err := row.Scan(
		&entry.ID, &entry.CodeSystem, &entry.CodeValue, &entry.CountryCode, &entry.DisplayName,
		&entry.SearchText, &normalized, &blob, &model, &embeddedAt, &entityType, &entry.Active,
		&entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if normalized.Valid {
		text := normalized.String
		entry.NormalizedText = &text
	}
	if len(blob) > 0 {
		entry.Embedding = deserializeVector(blob)
	}
	entry.EmbeddingModel = model.String
	if embeddedAt.Valid {
		t := embeddedAt.Time
		entry.EmbeddedAt = &t
	}
	entry.EntityType = types.EntityType(entityType)
	return &entry, nil
}

func checkWrite(res sql.Result, err error, entryID int64) error {
	if err != nil {
		return fmt.Errorf("%w: entry %d: %w", ErrWriteFailed, entryID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: entry %d: %w", ErrWriteFailed, entryID, err)
	}
	if n == 0 {
		return fmt.Errorf("entry %d: %w", entryID, ErrNotFound)
	}
	return nil
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// parseSQLiteTime parses aggregate timestamps, which drivers return as text
func parseSQLiteTime(s string) time.Time {
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Transaction implementations. Reads and writes both go through the tx.

func (t *sqliteTx) UpsertCodeEntry(ctx context.Context, entry *types.CodeEntry) error {
	return t.storage.upsertCodeEntryWithQuerier(ctx, t.tx, entry)
}

func (t *sqliteTx) GetCodeEntry(ctx context.Context, key CodeKey) (*types.CodeEntry, error) {
	return t.storage.getCodeEntryWithQuerier(ctx, t.tx, key)
}

func (t *sqliteTx) ListCodeEntries(ctx context.Context, filter Filter, after Cursor, limit int) ([]*types.CodeEntry, error) {
	b := newClauseBuilder(sqliteDialect)
	b.filter("e", filter)
	return t.storage.listWithQuerier(ctx, t.tx, b, after, limit)
}

func (t *sqliteTx) ListNeedingNormalization(ctx context.Context, filter Filter, after Cursor, limit int) ([]*types.CodeEntry, error) {
	b := newClauseBuilder(sqliteDialect)
	b.filter("e", filter)
	b.where("e.normalized_text IS NULL")
	return t.storage.listWithQuerier(ctx, t.tx, b, after, limit)
}

func (t *sqliteTx) ListNeedingEmbedding(ctx context.Context, filter Filter, model string, after Cursor, limit int) ([]*types.CodeEntry, error) {
	b := newClauseBuilder(sqliteDialect)
	b.filter("e", filter)
	b.where("(e.embedding IS NULL OR e.embedding_model IS NULL OR e.embedding_model <> %s)", model)
	return t.storage.listWithQuerier(ctx, t.tx, b, after, limit)
}

func (t *sqliteTx) CountNeedingEmbedding(ctx context.Context, filter Filter, model string) (int, error) {
	return t.storage.countNeedingEmbeddingWithQuerier(ctx, t.tx, filter, model)
}

func (t *sqliteTx) SetNormalizedText(ctx context.Context, entryID int64, text string) error {
	return t.storage.setNormalizedTextWithQuerier(ctx, t.tx, entryID, text)
}

func (t *sqliteTx) SaveEmbedding(ctx context.Context, entryID int64, text string, vector []float32, model string) error {
	return t.storage.saveEmbeddingWithQuerier(ctx, t.tx, entryID, text, vector, model)
}

func (t *sqliteTx) SearchLexical(ctx context.Context, terms []string, limit int, filter Filter) ([]LexicalResult, error) {
	return searchLexical(ctx, t.tx, terms, limit, filter)
}

func (t *sqliteTx) SearchVector(ctx context.Context, vector []float32, model string, limit int, filter Filter) ([]VectorResult, error) {
	return searchVector(ctx, t.tx, vector, model, limit, filter)
}

func (t *sqliteTx) GetStatus(ctx context.Context, model string) (*CorpusStatus, error) {
	// The single pooled connection is held by the transaction
	return nil, errors.New("status not supported inside a transaction")
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, errors.New("nested transactions not supported")
}
