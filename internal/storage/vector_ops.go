package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
)

// minPrefixTermLength is the shortest term that also matches as a prefix
const minPrefixTermLength = 4

// searchLexical performs BM25 full-text search using FTS5
func searchLexical(ctx context.Context, q querier, terms []string, limit int, filter Filter) ([]LexicalResult, error) {
	match := buildFTSQuery(terms)
	if match == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		return []LexicalResult{}, nil
	}

	b := newClauseBuilder(sqliteDialect)
	b.where("code_entries_fts MATCH %s", match)
	b.filter("e", filter)

	// bm25() is negative with lower being better; negate so relevance grows.
	// display_name hits weigh twice search_text hits.
	query := `SELECT ` + entryColumns + `, -bm25(code_entries_fts, 2.0, 1.0) AS relevance
		FROM code_entries_fts
		INNER JOIN code_entries e ON e.id = code_entries_fts.rowid` + b.sql() +
		` ORDER BY relevance DESC, e.code_value LIMIT ` + b.arg(limit)

	rows, err := q.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]LexicalResult, 0, limit)
	for rows.Next() {
		var relevance float64
		entry, err := scanSQLiteEntry(withExtra{rows, []interface{}{&relevance}})
		if err != nil {
			return nil, err
		}
		results = append(results, LexicalResult{Entry: entry, Relevance: relevance})
	}
	return results, rows.Err()
}

// buildFTSQuery ORs the quoted terms together. Longer terms also match as a
// prefix so "paracetamol" finds "paracetamolum".
func buildFTSQuery(terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		quoted := `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
		if len([]rune(term)) >= minPrefixTermLength {
			quoted += "*"
		}
		parts = append(parts, quoted)
	}
	return strings.Join(parts, " OR ")
}

// searchVector performs vector similarity search using cosine similarity
func searchVector(ctx context.Context, q querier, vector []float32, model string, limit int, filter Filter) ([]VectorResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if limit <= 0 {
		return []VectorResult{}, nil
	}
	// Use SQL-side distance when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, q, vector, model, limit, filter)
	}
	return searchVectorFallback(ctx, q, vector, model, limit, filter)
}

// searchVectorOptimized uses the sqlite-vec extension. vec_distance_cosine
// returns a distance, converted here to similarity.
func searchVectorOptimized(ctx context.Context, q querier, vector []float32, model string, limit int, filter Filter) ([]VectorResult, error) {
	blob := serializeVector(vector)

	b := newClauseBuilder(sqliteDialect, blob)
	b.where("e.embedding IS NOT NULL")
	b.where("e.embedding_model = %s", model)
	b.where("length(e.embedding) = %s", len(blob))
	b.filter("e", filter)

	query := `SELECT ` + entryColumns + `, 1.0 - vec_distance_cosine(e.embedding, ?) AS similarity
		FROM code_entries e` + b.sql() +
		` ORDER BY similarity DESC, e.code_value LIMIT ` + b.arg(limit)

	rows, err := q.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var similarity float64
		entry, err := scanSQLiteEntry(withExtra{rows, []interface{}{&similarity}})
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, VectorResult{Entry: entry, Similarity: similarity})
	}
	return results, rows.Err()
}

// searchVectorFallback scores every embedded row in Go. Used by purego builds.
func searchVectorFallback(ctx context.Context, q querier, vector []float32, model string, limit int, filter Filter) ([]VectorResult, error) {
	b := newClauseBuilder(sqliteDialect)
	b.where("e.embedding IS NOT NULL")
	b.where("e.embedding_model = %s", model)
	b.filter("e", filter)

	rows, err := q.QueryContext(ctx, `SELECT `+entryColumns+` FROM code_entries e`+b.sql(), b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]VectorResult, 0)
	for rows.Next() {
		entry, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		if len(entry.Embedding) != len(vector) {
			continue
		}
		candidates = append(candidates, VectorResult{
			Entry:      entry,
			Similarity: cosineSimilarity(vector, entry.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortVectorResults(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// sortVectorResults orders by similarity descending, then code value
func sortVectorResults(results []VectorResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Entry.CodeValue < results[j].Entry.CodeValue
	})
}

// withExtra appends trailing destinations to an entry scan
type withExtra struct {
	row   rowScanner
	extra []interface{}
}

func (w withExtra) Scan(dest ...interface{}) error {
	return w.row.Scan(append(dest, w.extra...)...)
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
