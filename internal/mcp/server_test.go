package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/medcode-resolver/internal/embedder/embeddertest"
	"github.com/dshills/medcode-resolver/internal/indexer"
	"github.com/dshills/medcode-resolver/internal/searcher"
	"github.com/dshills/medcode-resolver/internal/storage"
	"github.com/dshills/medcode-resolver/pkg/types"
)

var corpus = map[string]string{
	"MED-AMOX": "Amoxicillin Capsule 500 mg",
	"MED-FLUC": "Flucloxacillin Capsule 500 mg",
	"MED-MFOR": "Metformin hydrochloride 500 mg tablet",
}

// brokenLexical fails every full-text query
type brokenLexical struct {
	storage.Storage
}

func (brokenLexical) SearchLexical(context.Context, []string, int, storage.Filter) ([]storage.LexicalResult, error) {
	return nil, errors.New("fts index corrupted")
}

func setupServer(t *testing.T) (*Server, *embeddertest.MockEmbedder) {
	return setupServerWith(t, func(s storage.Storage) storage.Storage { return s })
}

func setupServerWith(t *testing.T, wrap func(storage.Storage) storage.Storage) (*Server, *embeddertest.MockEmbedder) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for code, display := range corpus {
		require.NoError(t, store.UpsertCodeEntry(context.Background(), &types.CodeEntry{
			CodeSystem:  types.SystemMedicationFormulary,
			CodeValue:   code,
			CountryCode: "AU",
			DisplayName: display,
			EntityType:  types.EntityMedication,
			Active:      true,
		}))
	}

	mock := embeddertest.New(64)
	idx := indexer.New(store, mock, zerolog.Nop())
	queries := searcher.NewQueryEmbedder(mock, 100, nil, zerolog.Nop())
	retriever := searcher.NewRetriever(wrap(store), queries, searcher.RetrieverConfig{}, zerolog.Nop())
	srch := searcher.NewSearcher(retriever, searcher.Config{}, zerolog.Nop())

	return NewServer(store, idx, srch, mock.Model(), zerolog.Nop()), mock
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func decode(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])

	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func mcpCode(t *testing.T, err error) int {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	return mcpErr.Code
}

func TestResolveEntity(t *testing.T) {
	s, _ := setupServer(t)
	ctx := context.Background()

	_, err := s.handleEmbedCorpus(ctx, call(nil))
	require.NoError(t, err)

	result, err := s.handleResolveEntity(ctx, call(map[string]interface{}{
		"entity_text":    "amoxicillin 500mg",
		"entity_type":    "medication",
		"country":        "au",
		"max_candidates": float64(2),
	}))
	require.NoError(t, err)

	body := decode(t, result)
	assert.Equal(t, "matched", body["status"])
	best, ok := body["best_match"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "MED-AMOX", best["code_value"])
	ranked, ok := body["ranked_candidates"].([]interface{})
	require.True(t, ok)
	assert.LessOrEqual(t, len(ranked), 2)
}

func TestResolveEntity_Validation(t *testing.T) {
	s, _ := setupServer(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]interface{}
		code int
	}{
		{"empty text", map[string]interface{}{"entity_text": "   "}, ErrorCodeEmptyQuery},
		{"missing text", map[string]interface{}{}, ErrorCodeEmptyQuery},
		{"bad entity type", map[string]interface{}{"entity_text": "x", "entity_type": "device"}, ErrorCodeInvalidParams},
		{"too many candidates", map[string]interface{}{"entity_text": "x", "max_candidates": float64(101)}, ErrorCodeInvalidParams},
		{"bad threshold", map[string]interface{}{"entity_text": "x", "min_similarity": 1.5}, ErrorCodeInvalidParams},
		{"bad weight", map[string]interface{}{"entity_text": "x", "lexical_weight": 1.5}, ErrorCodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.handleResolveEntity(ctx, call(tt.args))
			require.Error(t, err)
			assert.Equal(t, tt.code, mcpCode(t, err))
		})
	}

	_, err := s.handleResolveEntity(ctx, mcp.CallToolRequest{})
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))
}

func TestResolveEntity_RetrievalUnavailableIsAResult(t *testing.T) {
	s, mock := setupServerWith(t, func(s storage.Storage) storage.Storage { return brokenLexical{s} })
	ctx := context.Background()
	mock.FailAll(errors.New("provider down"))

	result, err := s.handleResolveEntity(ctx, call(map[string]interface{}{
		"entity_text": "amoxicillin",
		"use_cache":   false,
	}))
	require.NoError(t, err)
	body := decode(t, result)
	assert.Equal(t, "retrieval_unavailable", body["status"])
	assert.Nil(t, body["best_match"])
}

func TestLookupCode(t *testing.T) {
	s, _ := setupServer(t)
	ctx := context.Background()

	result, err := s.handleLookupCode(ctx, call(map[string]interface{}{
		"code_system": types.SystemMedicationFormulary,
		"country":     "au",
		"code_value":  "MED-MFOR",
	}))
	require.NoError(t, err)
	body := decode(t, result)
	assert.Equal(t, "Metformin hydrochloride 500 mg tablet", body["display_name"])
	assert.Equal(t, "AU", body["country_code"])
	assert.Equal(t, false, body["embedded"])

	_, err = s.handleLookupCode(ctx, call(map[string]interface{}{
		"code_system": types.SystemMedicationFormulary,
		"country":     "AU",
		"code_value":  "MED-NONE",
	}))
	assert.Equal(t, ErrorCodeCodeNotFound, mcpCode(t, err))

	_, err = s.handleLookupCode(ctx, call(map[string]interface{}{"code_value": "MED-MFOR"}))
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))
}

func TestEmbedAndNormalizeCorpus(t *testing.T) {
	s, mock := setupServer(t)
	ctx := context.Background()

	result, err := s.handleNormalizeCorpus(ctx, call(map[string]interface{}{"country": "au"}))
	require.NoError(t, err)
	body := decode(t, result)
	assert.Equal(t, float64(len(corpus)), body["succeeded"])

	result, err = s.handleEmbedCorpus(ctx, call(map[string]interface{}{
		"batch_size": float64(2),
		"workers":    float64(2),
	}))
	require.NoError(t, err)
	body = decode(t, result)
	assert.Equal(t, float64(len(corpus)), body["succeeded"])
	assert.Equal(t, float64(0), body["failed"])
	calls := mock.Calls()

	// Re-running finds nothing left to do
	result, err = s.handleEmbedCorpus(ctx, call(nil))
	require.NoError(t, err)
	body = decode(t, result)
	assert.Equal(t, float64(0), body["total"])
	assert.Equal(t, calls, mock.Calls())

	status, err := s.handleCorpusStatus(ctx, call(nil))
	require.NoError(t, err)
	body = decode(t, status)
	assert.Equal(t, float64(len(corpus)), body["embedded_current"])
	assert.Equal(t, float64(0), body["pending_embedding"])
	assert.Equal(t, false, body["job_running"])
}

func TestEmbedCorpus_Validation(t *testing.T) {
	s, _ := setupServer(t)
	ctx := context.Background()

	for name, args := range map[string]map[string]interface{}{
		"workers":       {"workers": float64(9)},
		"batch size":    {"batch_size": float64(0)},
		"dry run":       {"dry_run_limit": float64(-1)},
		"entity filter": {"entity_type": "drug"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.handleEmbedCorpus(ctx, call(args))
			assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))
		})
	}
}

func TestJobError(t *testing.T) {
	assert.Equal(t, ErrorCodeJobRunning, mcpCode(t, jobError("x", indexer.ErrJobRunning)))
	assert.Equal(t, ErrorCodeInternalError, mcpCode(t, jobError("x", errors.New("boom"))))
}

func TestArgumentHelpers(t *testing.T) {
	args := map[string]interface{}{
		"f": 0.25,
		"i": 3,
		"n": float64(7),
		"b": true,
		"s": "text",
	}
	assert.Equal(t, 0.25, getFloatDefault(args, "f", 1))
	assert.Equal(t, 3.0, getFloatDefault(args, "i", 1))
	assert.Equal(t, 1.0, getFloatDefault(args, "missing", 1))
	assert.Equal(t, 7, getIntDefault(args, "n", 0))
	assert.Equal(t, 3, getIntDefault(args, "i", 0))
	assert.True(t, getBoolDefault(args, "b", false))
	assert.Equal(t, "text", getStringDefault(args, "s", ""))
	assert.Equal(t, "d", getStringDefault(args, "missing", "d"))
}
