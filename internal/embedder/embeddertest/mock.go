// Package embeddertest provides a scriptable Embedder for tests.
package embeddertest

import (
	"context"
	"sync"

	"github.com/dshills/medcode-resolver/internal/embedder"
)

// MockEmbedder produces LocalProvider vectors and fails on demand.
type MockEmbedder struct {
	local *embedder.LocalProvider

	mu       sync.Mutex
	failures map[string]error
	failAll  error
	calls    int
	texts    []string
	model    string
}

// New returns a mock with the given dimension
func New(dimension int) *MockEmbedder {
	local, _ := embedder.NewLocalProvider(dimension, nil)
	return &MockEmbedder{local: local, failures: make(map[string]error), model: local.Model()}
}

// FailText makes every embedding of text fail with err.
func (m *MockEmbedder) FailText(text string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[text] = err
}

// FailAll makes every call fail with err until reset with nil.
func (m *MockEmbedder) FailAll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = err
}

// SetModel changes the reported model name.
func (m *MockEmbedder) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = model
}

// Calls returns the number of texts the mock was asked to embed.
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Texts returns every text the mock was asked to embed, in order.
func (m *MockEmbedder) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

func (m *MockEmbedder) embed(ctx context.Context, text string, stats *embedder.CallStats) (*embedder.Embedding, error) {
	m.mu.Lock()
	m.calls++
	m.texts = append(m.texts, text)
	err := m.failAll
	if e, ok := m.failures[text]; ok {
		err = e
	}
	model := m.model
	m.mu.Unlock()

	if stats != nil {
		stats.APICalls++
	}
	if err != nil {
		if stats != nil {
			stats.Failures++
		}
		return nil, err
	}

	emb, err := m.local.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
	if err != nil {
		return nil, err
	}
	emb.Model = model
	return emb, nil
}

func (m *MockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	if err := embedder.ValidateRequest(req); err != nil {
		return nil, err
	}
	return m.embed(ctx, req.Text, req.Stats)
}

func (m *MockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	if err := embedder.ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	resp := &embedder.BatchEmbeddingResponse{
		Embeddings: make([]*embedder.Embedding, len(req.Texts)),
		Errors:     make([]error, len(req.Texts)),
		Provider:   "mock",
		Model:      m.Model(),
	}
	for i, text := range req.Texts {
		resp.Embeddings[i], resp.Errors[i] = m.embed(ctx, text, req.Stats)
	}
	return resp, nil
}

func (m *MockEmbedder) Dimension() int {
	return m.local.Dimension()
}

func (m *MockEmbedder) Provider() string {
	return "mock"
}

func (m *MockEmbedder) Model() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

func (m *MockEmbedder) Close() error {
	return nil
}

var _ embedder.Embedder = (*MockEmbedder)(nil)
