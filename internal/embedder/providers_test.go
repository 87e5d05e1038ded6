package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 4

// scriptedServer answers {"text": ...} requests. Texts found in statuses get
// that HTTP status on every call; others get a deterministic flat vector.
type scriptedServer struct {
	mu       sync.Mutex
	calls    map[string]int
	statuses map[string][]int // consumed in order, then 200
	bodies   map[string]string
}

func newScriptedServer() *scriptedServer {
	return &scriptedServer{
		calls:    make(map[string]int),
		statuses: make(map[string][]int),
		bodies:   make(map[string]string),
	}
}

func (s *scriptedServer) callsFor(text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[text]
}

func (s *scriptedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text json.RawMessage `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var texts []string
	var single string
	if err := json.Unmarshal(req.Text, &single); err == nil {
		texts = []string{single}
	} else if err := json.Unmarshal(req.Text, &texts); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	key := texts[0]
	s.calls[key]++
	var status int
	if script := s.statuses[key]; len(script) > 0 {
		status = script[0]
		if len(script) > 1 {
			s.statuses[key] = script[1:]
		} else if status != http.StatusOK {
			s.statuses[key] = script // keep failing
		}
	}
	body, hasBody := s.bodies[key]
	s.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"scripted"}`))
		return
	}
	if hasBody {
		_, _ = w.Write([]byte(body))
		return
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text)), 1, 0.5, 0.25}
	}
	if len(texts) == 1 {
		_ = json.NewEncoder(w).Encode(vectors[0])
		return
	}
	_ = json.NewEncoder(w).Encode(vectors)
}

func newTestProvider(t *testing.T, url string, batch bool) *HTTPProvider {
	t.Helper()
	p, err := NewHTTPProvider(HTTPConfig{
		URL:           url,
		Dimension:     testDim,
		BatchRequests: batch,
		Retry:         fastRetry(),
	})
	require.NoError(t, err)
	return p
}

func TestHTTPProviderBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("503 exhausts one item, others succeed", func(t *testing.T) {
		script := newScriptedServer()
		script.statuses["cold"] = []int{503}
		server := httptest.NewServer(script)
		defer server.Close()

		p := newTestProvider(t, server.URL, false)
		stats := &CallStats{}
		resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{
			Texts: []string{"aspirin", "cold", "warfarin"},
			Stats: stats,
		})
		require.NoError(t, err)

		assert.NotNil(t, resp.Embeddings[0])
		assert.Nil(t, resp.Embeddings[1])
		assert.ErrorIs(t, resp.Errors[1], ErrProviderFailed)
		assert.NotNil(t, resp.Embeddings[2])
		assert.Equal(t, 1, resp.Failed())

		assert.Equal(t, 3, script.callsFor("cold"))
		assert.Equal(t, 5, stats.APICalls)
		assert.Equal(t, 2, stats.Retries)
		assert.Equal(t, 1, stats.Failures)
	})

	t.Run("429 counted and retried", func(t *testing.T) {
		script := newScriptedServer()
		script.statuses["busy"] = []int{429, 429, 200}
		server := httptest.NewServer(script)
		defer server.Close()

		p := newTestProvider(t, server.URL, false)
		stats := &CallStats{}
		emb, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "busy", Stats: stats})
		require.NoError(t, err)
		assert.Len(t, emb.Vector, testDim)
		assert.Equal(t, 2, stats.RateLimitHits)
		assert.Equal(t, 3, stats.APICalls)
	})

	t.Run("transient 500 recovers", func(t *testing.T) {
		script := newScriptedServer()
		script.statuses["flaky"] = []int{500, 200}
		server := httptest.NewServer(script)
		defer server.Close()

		p := newTestProvider(t, server.URL, false)
		_, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "flaky"})
		require.NoError(t, err)
		assert.Equal(t, 2, script.callsFor("flaky"))
	})

	t.Run("malformed response fails without retry", func(t *testing.T) {
		script := newScriptedServer()
		script.bodies["weird"] = `{"vectors": [1, 2, 3, 4]}`
		server := httptest.NewServer(script)
		defer server.Close()

		p := newTestProvider(t, server.URL, false)
		_, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "weird"})
		assert.ErrorIs(t, err, ErrMalformedResponse)
		assert.Equal(t, 1, script.callsFor("weird"))
	})

	t.Run("dimension mismatch is not persisted", func(t *testing.T) {
		script := newScriptedServer()
		script.bodies["short"] = `[0.1, 0.2]`
		server := httptest.NewServer(script)
		defer server.Close()

		p := newTestProvider(t, server.URL, false)
		resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"short", "fine"}})
		require.NoError(t, err)
		assert.ErrorIs(t, resp.Errors[0], ErrDimensionMismatch)
		assert.Nil(t, resp.Embeddings[0])
		assert.NoError(t, resp.Errors[1])
		assert.Equal(t, 1, script.callsFor("short"))
	})

	t.Run("zero vector on 200 rejected", func(t *testing.T) {
		script := newScriptedServer()
		script.bodies["zero"] = `[0, 0, 0, 0]`
		server := httptest.NewServer(script)
		defer server.Close()

		p := newTestProvider(t, server.URL, false)
		_, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "zero"})
		assert.ErrorIs(t, err, ErrInvalidVector)
	})

	t.Run("batch mode sends one call", func(t *testing.T) {
		script := newScriptedServer()
		server := httptest.NewServer(script)
		defer server.Close()

		p := newTestProvider(t, server.URL, true)
		stats := &CallStats{}
		resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"a", "bb", "ccc"}, Stats: stats})
		require.NoError(t, err)
		assert.Equal(t, 0, resp.Failed())
		assert.Equal(t, 1, stats.APICalls)
		assert.Equal(t, float32(3), resp.Embeddings[2].Vector[0])
	})

	t.Run("batch mode falls back on rejected batch", func(t *testing.T) {
		script := newScriptedServer()
		script.statuses["a"] = []int{413, 200}
		server := httptest.NewServer(script)
		defer server.Close()

		p := newTestProvider(t, server.URL, true)
		stats := &CallStats{}
		resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"a", "bb"}, Stats: stats})
		require.NoError(t, err)
		assert.Equal(t, 0, resp.Failed())
		assert.Equal(t, 3, stats.APICalls)
	})

	t.Run("cache avoids repeat calls", func(t *testing.T) {
		script := newScriptedServer()
		server := httptest.NewServer(script)
		defer server.Close()

		p, err := NewHTTPProvider(HTTPConfig{URL: server.URL, Dimension: testDim, Retry: fastRetry(), Cache: NewCache(10)})
		require.NoError(t, err)

		stats := &CallStats{}
		for i := 0; i < 3; i++ {
			_, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "amoxicillin", Stats: stats})
			require.NoError(t, err)
		}
		assert.Equal(t, 1, stats.APICalls)
		assert.Equal(t, 2, stats.CacheHits)
	})

	t.Run("batch too large", func(t *testing.T) {
		p := newTestProvider(t, "http://unused", false)
		texts := make([]string, MaxBatchSize+1)
		for i := range texts {
			texts[i] = "x"
		}
		_, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
		assert.ErrorIs(t, err, ErrBatchTooLarge)
	})
}

func TestHTTPProviderRequestFormats(t *testing.T) {
	tests := []struct {
		format RequestFormat
		check  func(t *testing.T, body map[string]interface{})
	}{
		{FormatText, func(t *testing.T, body map[string]interface{}) {
			assert.Equal(t, "amoxicillin", body["text"])
		}},
		{FormatInputs, func(t *testing.T, body map[string]interface{}) {
			assert.Equal(t, "amoxicillin", body["inputs"])
		}},
		{FormatOpenAI, func(t *testing.T, body map[string]interface{}) {
			assert.Equal(t, []interface{}{"amoxicillin"}, body["input"])
			assert.Equal(t, "test-model", body["model"])
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
				var body map[string]interface{}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				tt.check(t, body)
				_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,2,3,4]}]}`))
			}))
			defer server.Close()

			p, err := NewHTTPProvider(HTTPConfig{
				URL:       server.URL,
				APIKey:    "secret",
				Model:     "test-model",
				Format:    tt.format,
				Dimension: testDim,
				Retry:     fastRetry(),
			})
			require.NoError(t, err)
			defer p.Close()

			emb, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "amoxicillin"})
			require.NoError(t, err)
			assert.Equal(t, "test-model", emb.Model)
		})
	}
}

func TestHTTPProviderPacing(t *testing.T) {
	server := httptest.NewServer(newScriptedServer())
	defer server.Close()

	p, err := NewHTTPProvider(HTTPConfig{
		URL:          server.URL,
		Dimension:    testDim,
		Retry:        fastRetry(),
		CallInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "b", "c", "d"}})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Failed())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestHTTPProviderCancelled(t *testing.T) {
	server := httptest.NewServer(newScriptedServer())
	defer server.Close()

	p := newTestProvider(t, server.URL, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Failed())
	assert.ErrorIs(t, resp.Errors[0], context.Canceled)
}
