package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		inputs int
		shape  responseShape
		want   [][]float32
	}{
		{"flat", `[0.1, 0.2, 0.3]`, 1, shapeFlat, [][]float32{{0.1, 0.2, 0.3}}},
		{"batch", `[[1, 0], [0, 1]]`, 2, shapeBatch, [][]float32{{1, 0}, {0, 1}}},
		{"batch of one", `[[1, 2]]`, 1, shapeBatch, [][]float32{{1, 2}}},
		{"tokens mean pooled", `[[1, 2], [3, 4], [5, 6]]`, 1, shapeTokens, [][]float32{{3, 4}}},
		{"token batch", "[\n [[1, 1], [3, 3]],\n [[2, 0]]\n]", 2, shapeTokenBatch, [][]float32{{2, 2}, {2, 0}}},
		{"object embedding", `{"embedding": [0.5, 0.5]}`, 1, shapeObjectFlat, [][]float32{{0.5, 0.5}}},
		{"object embeddings", `{"embeddings": [[1, 0], [0, 1]]}`, 2, shapeObjectBatch, [][]float32{{1, 0}, {0, 1}}},
		{"openai data reordered", `{"data": [{"index": 1, "embedding": [0, 1]}, {"index": 0, "embedding": [1, 0]}], "model": "m"}`, 2, shapeObjectData, [][]float32{{1, 0}, {0, 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.shape, detectShape([]byte(tt.body), tt.inputs))

			got, err := parseResponse([]byte(tt.body), tt.inputs)
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.InDeltaSlice(t, tt.want[i], got[i], 1e-6)
			}
		})
	}
}

func TestParseResponseMalformed(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		inputs int
	}{
		{"empty body", ``, 1},
		{"string", `"hello"`, 1},
		{"number", `42`, 1},
		{"error object", `{"error": "Model is currently loading", "estimated_time": 20}`, 1},
		{"empty array", `[]`, 1},
		{"count mismatch", `[[1, 0], [0, 1]]`, 3},
		{"flat for many inputs", `[0.1, 0.2]`, 2},
		{"ragged tokens", `[[1, 2], [3]]`, 1},
		{"non numeric", `[0.1, "x"]`, 1},
		{"empty data", `{"data": []}`, 1},
		{"too deep", `[[[[1]]]]`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseResponse([]byte(tt.body), tt.inputs)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestParseResponseOverflowIsInvalid(t *testing.T) {
	got, err := parseResponse([]byte(`[1e39, 0.5]`), 1)
	require.NoError(t, err)
	assert.ErrorIs(t, ValidateVector(got[0], 2), ErrInvalidVector)
}
