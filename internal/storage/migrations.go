package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Regional code corpus
CREATE TABLE IF NOT EXISTS code_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    code_system TEXT NOT NULL,
    code_value TEXT NOT NULL,
    country_code TEXT NOT NULL,
    display_name TEXT NOT NULL,
    search_text TEXT NOT NULL DEFAULT '',
    normalized_text TEXT,
    embedding BLOB,
    embedding_model TEXT,
    embedded_at TIMESTAMP,
    entity_type TEXT NOT NULL DEFAULT '',
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(code_system, country_code, code_value)
);

CREATE INDEX IF NOT EXISTS idx_code_entries_scope ON code_entries(code_system, country_code, entity_type, active);
CREATE INDEX IF NOT EXISTS idx_code_entries_cursor ON code_entries(code_value, id);

-- Full-text index over display_name and search_text
CREATE VIRTUAL TABLE IF NOT EXISTS code_entries_fts USING fts5(
    display_name,
    search_text,
    content='code_entries',
    content_rowid='id',
    tokenize='unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS code_entries_fts_insert AFTER INSERT ON code_entries BEGIN
    INSERT INTO code_entries_fts(rowid, display_name, search_text)
    VALUES (new.id, new.display_name, new.search_text);
END;

CREATE TRIGGER IF NOT EXISTS code_entries_fts_delete AFTER DELETE ON code_entries BEGIN
    INSERT INTO code_entries_fts(code_entries_fts, rowid, display_name, search_text)
    VALUES ('delete', old.id, old.display_name, old.search_text);
END;

CREATE TRIGGER IF NOT EXISTS code_entries_fts_update AFTER UPDATE OF display_name, search_text ON code_entries BEGIN
    INSERT INTO code_entries_fts(code_entries_fts, rowid, display_name, search_text)
    VALUES ('delete', old.id, old.display_name, old.search_text);
    INSERT INTO code_entries_fts(rowid, display_name, search_text)
    VALUES (new.id, new.display_name, new.search_text);
END;
`

const migrationV1Down = `
DROP TRIGGER IF EXISTS code_entries_fts_update;
DROP TRIGGER IF EXISTS code_entries_fts_delete;
DROP TRIGGER IF EXISTS code_entries_fts_insert;
DROP TABLE IF EXISTS code_entries_fts;
DROP TABLE IF EXISTS code_entries;
DROP TABLE IF EXISTS schema_version;
`

// 1.1.0 speeds up the embedding job's "needs embedding" scan.
const migrationV11Up = `
CREATE INDEX IF NOT EXISTS idx_code_entries_model ON code_entries(embedding_model, code_value, id);
`

const migrationV11Down = `
DROP INDEX IF EXISTS idx_code_entries_model;
`

// currentVersion reads the most recently applied schema version, or 0.0.0
func currentVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	var version string
	err = db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY rowid DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows || (err == nil && version == "") {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("invalid current schema version %s: %w", version, err)
	}
	return v, nil
}

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !current.LessThan(migrationVersion) {
			continue
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		current = migrationVersion
	}

	return nil
}

// SchemaVersion returns the applied schema version
func SchemaVersion(ctx context.Context, db *sql.DB) (string, error) {
	v, err := currentVersion(ctx, db)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	var version string
	err := db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY rowid DESC LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("no migrations to rollback: %w", err)
	}

	var migration *Migration
	for i := range AllMigrations {
		if AllMigrations[i].Version == version {
			migration = &AllMigrations[i]
			break
		}
	}

	if migration == nil {
		return fmt.Errorf("migration %s not found", version)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", version, err)
	}

	// The 1.0.0 down script drops schema_version itself
	if migration.Version == AllMigrations[0].Version {
		return nil
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", version, err)
	}

	return nil
}
