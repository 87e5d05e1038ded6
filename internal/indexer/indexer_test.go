package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/medcode-resolver/internal/embedder"
	"github.com/dshills/medcode-resolver/internal/embedder/embeddertest"
	"github.com/dshills/medcode-resolver/internal/storage"
	"github.com/dshills/medcode-resolver/pkg/types"
)

const testDim = 64

func setupStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store storage.Storage, rows map[string]string) {
	t.Helper()
	for code, display := range rows {
		require.NoError(t, store.UpsertCodeEntry(context.Background(), &types.CodeEntry{
			CodeSystem:  types.SystemMedicationFormulary,
			CodeValue:   code,
			CountryCode: "AU",
			DisplayName: display,
			EntityType:  types.EntityMedication,
			Active:      true,
		}))
	}
}

func get(t *testing.T, store storage.Storage, code string) *types.CodeEntry {
	t.Helper()
	entry, err := store.GetCodeEntry(context.Background(), storage.CodeKey{
		CodeSystem:  types.SystemMedicationFormulary,
		CountryCode: "AU",
		CodeValue:   code,
	})
	require.NoError(t, err)
	return entry
}

var corpus = map[string]string{
	"MED-001": "Amoxicillin Capsule 500 mg",
	"MED-002": "Metformin 500 mg tablet",
	"MED-003": "Metoprolol tartrate 50 mg tablet",
}

func TestEmbedCorpus(t *testing.T) {
	store := setupStore(t)
	seed(t, store, corpus)
	mock := embeddertest.New(testDim)
	idx := New(store, mock, zerolog.Nop())

	stats, err := idx.EmbedCorpus(context.Background(), &Config{BatchSize: 2})
	require.NoError(t, err)

	assert.NotEmpty(t, stats.RunID)
	assert.Equal(t, "embed", stats.Kind)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 3, stats.Succeeded)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 3, stats.APICalls)
	assert.False(t, stats.Interrupted)
	assert.Greater(t, stats.Throughput, 0.0)

	// Rows are visited in code_value order
	assert.Equal(t, []string{"amoxicillin", "metformin", "metoprolol tartrate"}, mock.Texts())

	entry := get(t, store, "MED-001")
	require.NotNil(t, entry.NormalizedText)
	assert.Equal(t, "amoxicillin", *entry.NormalizedText)
	assert.Len(t, entry.Embedding, testDim)
	assert.Equal(t, mock.Model(), entry.EmbeddingModel)
}

func TestEmbedCorpus_SecondRunMakesNoCalls(t *testing.T) {
	store := setupStore(t)
	seed(t, store, corpus)
	mock := embeddertest.New(testDim)
	idx := New(store, mock, zerolog.Nop())
	ctx := context.Background()

	_, err := idx.EmbedCorpus(ctx, nil)
	require.NoError(t, err)
	calls := mock.Calls()

	stats, err := idx.EmbedCorpus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 0, stats.Processed)
	assert.Equal(t, 0, stats.APICalls)
	assert.Equal(t, calls, mock.Calls())
}

func TestEmbedCorpus_ModelChangeReembeds(t *testing.T) {
	store := setupStore(t)
	seed(t, store, corpus)
	mock := embeddertest.New(testDim)
	idx := New(store, mock, zerolog.Nop())
	ctx := context.Background()

	_, err := idx.EmbedCorpus(ctx, nil)
	require.NoError(t, err)

	mock.SetModel("local-trigram-v2")
	stats, err := idx.EmbedCorpus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Succeeded)
	assert.Equal(t, "local-trigram-v2", get(t, store, "MED-002").EmbeddingModel)
}

func TestEmbedCorpus_ItemFailureDoesNotStopBatch(t *testing.T) {
	store := setupStore(t)
	seed(t, store, corpus)
	mock := embeddertest.New(testDim)
	mock.FailText("metformin", embedder.ErrProviderFailed)
	idx := New(store, mock, zerolog.Nop())
	ctx := context.Background()

	stats, err := idx.EmbedCorpus(ctx, &Config{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
	require.Len(t, stats.Failures, 1)
	assert.Equal(t, "MED-002", stats.Failures[0].CodeValue)

	assert.Empty(t, get(t, store, "MED-002").Embedding)
	assert.NotEmpty(t, get(t, store, "MED-003").Embedding)

	// The rerun only touches the failed row
	mock.FailText("metformin", nil)
	before := mock.Calls()
	stats, err = idx.EmbedCorpus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, before+1, mock.Calls())
}

func TestEmbedCorpus_ProviderLoadingExhaustsOneItem(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Text == "metformin" {
			http.Error(w, "model is loading", http.StatusServiceUnavailable)
			return
		}
		vec := make([]float64, 8)
		for i := range vec {
			vec[i] = float64(len(req.Text) + i)
		}
		_ = json.NewEncoder(w).Encode(vec)
	}))
	defer server.Close()

	provider, err := embedder.NewHTTPProvider(embedder.HTTPConfig{
		URL:       server.URL,
		Dimension: 8,
		Retry: embedder.RetryConfig{
			MaxAttempts:       3,
			ModelLoadingDelay: time.Millisecond,
			RateLimitDelay:    time.Millisecond,
			TransientDelay:    time.Millisecond,
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	store := setupStore(t)
	seed(t, store, corpus)
	idx := New(store, provider, zerolog.Nop())

	stats, err := idx.EmbedCorpus(context.Background(), &Config{BatchSize: 10})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
	require.Len(t, stats.Failures, 1)
	assert.Equal(t, "MED-002", stats.Failures[0].CodeValue)
	assert.Equal(t, "model_loading", stats.Failures[0].Class)
	assert.Equal(t, 5, stats.APICalls)
	assert.Equal(t, 2, stats.Retries)
	assert.Equal(t, int32(5), calls.Load())
}

func TestEmbedCorpus_DryRun(t *testing.T) {
	store := setupStore(t)
	seed(t, store, corpus)
	mock := embeddertest.New(testDim)
	idx := New(store, mock, zerolog.Nop())
	ctx := context.Background()

	stats, err := idx.EmbedCorpus(ctx, &Config{BatchSize: 10, DryRunLimit: 2})
	require.NoError(t, err)
	assert.True(t, stats.DryRun)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Processed)
	require.Len(t, stats.Samples, 2)
	assert.Equal(t, Sample{
		CodeValue:      "MED-001",
		DisplayName:    "Amoxicillin Capsule 500 mg",
		NormalizedText: "amoxicillin",
	}, stats.Samples[0])

	pending, err := store.CountNeedingEmbedding(ctx, storage.Filter{}, mock.Model())
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestEmbedCorpus_Interrupted(t *testing.T) {
	store := setupStore(t)
	seed(t, store, corpus)
	mock := embeddertest.New(testDim)
	idx := New(store, mock, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := idx.EmbedCorpus(ctx, nil)
	if err == nil {
		assert.True(t, stats.Interrupted)
		assert.Equal(t, 0, stats.Processed)
	}
	assert.Equal(t, 0, mock.Calls())
}

func TestEmbedCorpus_EmptyNormalization(t *testing.T) {
	store := setupStore(t)
	seed(t, store, map[string]string{"MED-001": "(Panadol) 500 mg tablet"})
	mock := embeddertest.New(testDim)
	idx := New(store, mock, zerolog.Nop())
	ctx := context.Background()

	stats, err := idx.EmbedCorpus(ctx, &Config{SkipOnEmptyNormalization: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, mock.Calls())

	stats, err = idx.EmbedCorpus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, stats.Fallbacks)
	assert.Equal(t, []string{"(panadol) 500 mg tablet"}, mock.Texts())
}

func TestEmbedCorpus_Workers(t *testing.T) {
	store := setupStore(t)
	rows := map[string]string{
		"A1": "Aspirin", "A2": "Atenolol", "A3": "Atorvastatin", "A4": "Azithromycin",
		"A5": "Amlodipine", "A6": "Allopurinol", "A7": "Amiodarone",
	}
	seed(t, store, rows)
	mock := embeddertest.New(testDim)
	idx := New(store, mock, zerolog.Nop())

	stats, err := idx.EmbedCorpus(context.Background(), &Config{BatchSize: 5, Workers: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Succeeded)
	assert.Equal(t, 7, stats.APICalls)
	for code := range rows {
		assert.NotEmpty(t, get(t, store, code).Embedding, code)
	}
}

func TestEmbedCorpus_Lock(t *testing.T) {
	store := setupStore(t)
	idx := New(store, embeddertest.New(testDim), zerolog.Nop())

	require.True(t, idx.lock.TryAcquire())
	assert.True(t, idx.Running())

	_, err := idx.EmbedCorpus(context.Background(), nil)
	assert.ErrorIs(t, err, ErrJobRunning)
	_, err = idx.NormalizeCorpus(context.Background(), nil)
	assert.ErrorIs(t, err, ErrJobRunning)

	idx.lock.Release()
	assert.False(t, idx.Running())
}

func TestEmbedCorpus_NoEmbedder(t *testing.T) {
	idx := New(setupStore(t), nil, zerolog.Nop())
	_, err := idx.EmbedCorpus(context.Background(), nil)
	assert.True(t, errors.Is(err, embedder.ErrNoProviderEnabled))
}

func TestNormalizeCorpus(t *testing.T) {
	store := setupStore(t)
	seed(t, store, corpus)
	idx := New(store, nil, zerolog.Nop())
	ctx := context.Background()

	stats, err := idx.NormalizeCorpus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "normalize", stats.Kind)
	assert.Equal(t, 3, stats.Succeeded)
	assert.Equal(t, 0, stats.APICalls)

	entry := get(t, store, "MED-003")
	require.NotNil(t, entry.NormalizedText)
	assert.Equal(t, "metoprolol tartrate", *entry.NormalizedText)

	stats, err = idx.NormalizeCorpus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Processed)
}

func TestNormalizeThenEmbedReusesStoredText(t *testing.T) {
	store := setupStore(t)
	seed(t, store, map[string]string{"MED-001": "Amoxicillin Capsule 500 mg"})
	mock := embeddertest.New(testDim)
	idx := New(store, mock, zerolog.Nop())
	ctx := context.Background()

	_, err := idx.NormalizeCorpus(ctx, nil)
	require.NoError(t, err)
	entry := get(t, store, "MED-001")
	require.NoError(t, store.SetNormalizedText(ctx, entry.ID, "amoxicillin trihydrate"))

	_, err = idx.EmbedCorpus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"amoxicillin trihydrate"}, mock.Texts())
}
