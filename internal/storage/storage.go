package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/medcode-resolver/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrWriteFailed wraps any failure to persist a corpus row
	ErrWriteFailed = errors.New("corpus store write failed")
	// ErrEmptyQuery is returned by lexical search when no usable terms remain
	ErrEmptyQuery = errors.New("empty search query")
)

// DefaultPageSize bounds every scan of the corpus
const DefaultPageSize = 1000

// Storage defines the corpus store used by the resolver
type Storage interface {
	// Corpus operations
	UpsertCodeEntry(ctx context.Context, entry *types.CodeEntry) error
	GetCodeEntry(ctx context.Context, key CodeKey) (*types.CodeEntry, error)
	ListCodeEntries(ctx context.Context, filter Filter, after Cursor, limit int) ([]*types.CodeEntry, error)

	// Embedding maintenance
	ListNeedingNormalization(ctx context.Context, filter Filter, after Cursor, limit int) ([]*types.CodeEntry, error)
	ListNeedingEmbedding(ctx context.Context, filter Filter, model string, after Cursor, limit int) ([]*types.CodeEntry, error)
	CountNeedingEmbedding(ctx context.Context, filter Filter, model string) (int, error)
	SetNormalizedText(ctx context.Context, entryID int64, text string) error
	SaveEmbedding(ctx context.Context, entryID int64, text string, vector []float32, model string) error

	// Search operations
	SearchLexical(ctx context.Context, terms []string, limit int, filter Filter) ([]LexicalResult, error)
	SearchVector(ctx context.Context, vector []float32, model string, limit int, filter Filter) ([]VectorResult, error)

	// Status operations
	GetStatus(ctx context.Context, model string) (*CorpusStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage
}

// CodeKey identifies one corpus row
type CodeKey struct {
	CodeSystem  string
	CountryCode string
	CodeValue   string
}

// Filter narrows scans and searches. Empty fields match everything.
type Filter struct {
	CodeSystem      string
	CountryCode     string
	EntityType      types.EntityType
	IncludeInactive bool
}

// Cursor is a keyset position in (code_value, id) order. The zero value starts
// from the beginning.
type Cursor struct {
	CodeValue string `json:"after_code"`
	ID        int64  `json:"after_id"`
}

// After returns the cursor positioned just past entry.
func After(entry *types.CodeEntry) Cursor {
	return Cursor{CodeValue: entry.CodeValue, ID: entry.ID}
}

// IsZero reports whether c starts from the beginning.
func (c Cursor) IsZero() bool {
	return c.CodeValue == "" && c.ID == 0
}

// LexicalResult is a full-text match. Relevance is engine specific, positive,
// higher is better; callers normalize it.
type LexicalResult struct {
	Entry     *types.CodeEntry
	Relevance float64
}

// VectorResult is a nearest-neighbour match with raw cosine similarity in [-1, 1]
type VectorResult struct {
	Entry      *types.CodeEntry
	Similarity float64
}

// CorpusStatus contains statistics about the corpus and its embeddings
type CorpusStatus struct {
	Backend              string         `json:"backend"`
	SchemaVersion        string         `json:"schema_version"`
	Model                string         `json:"model"`
	TotalEntries         int            `json:"total_entries"`
	ActiveEntries        int            `json:"active_entries"`
	Normalized           int            `json:"normalized"`
	Embedded             int            `json:"embedded"`         // Any model
	EmbeddedCurrent      int            `json:"embedded_current"` // Embedded with Model
	PendingNormalization int            `json:"pending_normalization"`
	PendingEmbedding     int            `json:"pending_embedding"` // Active rows lacking a Model embedding
	ByModel              map[string]int `json:"by_model"`
	BySystem             map[string]int `json:"by_system"`
	LastEmbeddedAt       time.Time      `json:"last_embedded_at"`
	SizeMB               float64        `json:"size_mb"`
	Health               HealthStatus   `json:"health"`
}

// HealthStatus represents the health of the corpus store
type HealthStatus struct {
	DatabaseAccessible  bool `json:"database_accessible"`
	EmbeddingsAvailable bool `json:"embeddings_available"`
	LexicalIndexBuilt   bool `json:"lexical_index_built"`
	VectorIndexNative   bool `json:"vector_index_native"`
}
