package embedder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		provider  string
		model     string
		dimension int
		wantErr   error
	}{
		{"local default", Config{Provider: "local"}, ProviderLocal, DefaultLocalModel, LocalDimension, nil},
		{"local custom dimension", Config{Provider: "LOCAL", Dimension: 64}, ProviderLocal, DefaultLocalModel, 64, nil},
		{"http", Config{Provider: "http", URL: "http://embed:8080/embed"}, ProviderHTTP, DefaultHTTPModel, HTTPDimension, nil},
		{"http without url", Config{Provider: "http"}, "", "", 0, ErrNoProviderEnabled},
		{"openai", Config{Provider: "openai", APIKey: "k"}, ProviderOpenAI, DefaultOpenAIModel, OpenAIDimension, nil},
		{"openai without key", Config{Provider: "openai"}, "", "", 0, ErrNoProviderEnabled},
		{"jina custom model", Config{Provider: "jina", APIKey: "k", Model: "jina-v4", Dimension: 2048}, ProviderJina, "jina-v4", 2048, nil},
		{"unknown", Config{Provider: "ollama"}, "", "", 0, ErrUnsupportedModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb, err := New(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer emb.Close()

			assert.Equal(t, tt.provider, emb.Provider())
			assert.Equal(t, tt.model, emb.Model())
			assert.Equal(t, tt.dimension, emb.Dimension())
		})
	}
}

func TestNewAppliesRetryOverrides(t *testing.T) {
	emb, err := New(Config{
		Provider:      "http",
		URL:           "http://embed",
		MaxAttempts:   5,
		LoadingDelay:  2 * time.Second,
		RateLimitWait: 30 * time.Second,
		CacheSize:     10,
	})
	require.NoError(t, err)

	p, ok := emb.(*HTTPProvider)
	require.True(t, ok)
	assert.Equal(t, 5, p.retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.retry.ModelLoadingDelay)
	assert.Equal(t, 30*time.Second, p.retry.RateLimitDelay)
	assert.Equal(t, DefaultTransientDelay, p.retry.TransientDelay)
	assert.Equal(t, FormatText, p.format)
	assert.NotNil(t, p.cache)
}
