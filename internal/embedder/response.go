package embedder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// responseShape tags each response layout an embedding provider may return.
type responseShape int

const (
	shapeUnknown     responseShape = iota
	shapeFlat                      // [f, f, ...]: one vector for one input
	shapeBatch                     // [[f, ...], ...]: one vector per input
	shapeTokens                    // [[f, ...], ...]: token vectors for one input
	shapeTokenBatch                // [[[f, ...], ...], ...]: token vectors per input
	shapeObjectFlat                // {"embedding": [...]}
	shapeObjectBatch               // {"embeddings": [...]}
	shapeObjectData                // {"data": [{"embedding": [...], "index": i}]}
)

func (s responseShape) String() string {
	switch s {
	case shapeFlat:
		return "flat"
	case shapeBatch:
		return "batch"
	case shapeTokens:
		return "tokens"
	case shapeTokenBatch:
		return "token_batch"
	case shapeObjectFlat:
		return "object_embedding"
	case shapeObjectBatch:
		return "object_embeddings"
	case shapeObjectData:
		return "object_data"
	default:
		return "unknown"
	}
}

type objectResponse struct {
	Embedding  []float64       `json:"embedding"`
	Embeddings json.RawMessage `json:"embeddings"`
	Data       []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// detectShape inspects the JSON prefix: the number of leading '[' for arrays,
// or the populated field for objects.
func detectShape(body []byte, inputs int) responseShape {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return shapeUnknown
	}

	if body[0] == '{' {
		var obj objectResponse
		if err := json.Unmarshal(body, &obj); err != nil {
			return shapeUnknown
		}
		switch {
		case obj.Data != nil:
			return shapeObjectData
		case obj.Embedding != nil:
			return shapeObjectFlat
		case obj.Embeddings != nil:
			return shapeObjectBatch
		}
		return shapeUnknown
	}

	depth := 0
scan:
	for _, b := range body {
		switch b {
		case '[':
			depth++
		case ' ', '\t', '\n', '\r':
		default:
			break scan
		}
	}

	switch depth {
	case 1:
		return shapeFlat
	case 2:
		// A single input with several rows is token-level output.
		if inputs == 1 {
			var rows [][]float64
			if err := json.Unmarshal(body, &rows); err != nil {
				return shapeUnknown
			}
			if len(rows) > 1 {
				return shapeTokens
			}
		}
		return shapeBatch
	case 3:
		return shapeTokenBatch
	}
	return shapeUnknown
}

// parseResponse decodes a provider body into exactly one vector per input.
func parseResponse(body []byte, inputs int) ([][]float32, error) {
	shape := detectShape(body, inputs)

	var vectors [][]float64
	switch shape {
	case shapeFlat:
		var v []float64
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, shape, err)
		}
		vectors = [][]float64{v}

	case shapeBatch:
		if err := json.Unmarshal(body, &vectors); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, shape, err)
		}

	case shapeTokens:
		var tokens [][]float64
		if err := json.Unmarshal(body, &tokens); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, shape, err)
		}
		pooled, err := meanPool(tokens)
		if err != nil {
			return nil, err
		}
		vectors = [][]float64{pooled}

	case shapeTokenBatch:
		var batches [][][]float64
		if err := json.Unmarshal(body, &batches); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, shape, err)
		}
		for _, tokens := range batches {
			pooled, err := meanPool(tokens)
			if err != nil {
				return nil, err
			}
			vectors = append(vectors, pooled)
		}

	case shapeObjectFlat, shapeObjectBatch, shapeObjectData:
		var obj objectResponse
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, shape, err)
		}
		switch shape {
		case shapeObjectFlat:
			vectors = [][]float64{obj.Embedding}
		case shapeObjectBatch:
			return parseResponse(obj.Embeddings, inputs)
		case shapeObjectData:
			sort.SliceStable(obj.Data, func(i, j int) bool { return obj.Data[i].Index < obj.Data[j].Index })
			for _, d := range obj.Data {
				vectors = append(vectors, d.Embedding)
			}
		}

	default:
		return nil, fmt.Errorf("%w: expected an array or an object with embedding, embeddings or data", ErrMalformedResponse)
	}

	if len(vectors) != inputs {
		return nil, fmt.Errorf("%w: %s response has %d vectors for %d inputs", ErrMalformedResponse, shape, len(vectors), inputs)
	}

	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: %s response vector %d is empty", ErrMalformedResponse, shape, i)
		}
		out[i] = toFloat32(v)
	}
	return out, nil
}

// meanPool averages token vectors into one sentence vector.
func meanPool(tokens [][]float64) ([]float64, error) {
	if len(tokens) == 0 || len(tokens[0]) == 0 {
		return nil, fmt.Errorf("%w: empty token matrix", ErrMalformedResponse)
	}

	dim := len(tokens[0])
	pooled := make([]float64, dim)
	for i, tok := range tokens {
		if len(tok) != dim {
			return nil, fmt.Errorf("%w: token %d has %d components, want %d", ErrMalformedResponse, i, len(tok), dim)
		}
		for j, x := range tok {
			pooled[j] += x
		}
	}
	for j := range pooled {
		pooled[j] /= float64(len(tokens))
	}
	return pooled, nil
}

// toFloat32 narrows a decoded vector. Values beyond float32 range become ±Inf
// and are rejected by ValidateVector.
func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
