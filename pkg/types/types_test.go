package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfidenceFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Confidence
	}{
		{0.95, ConfidenceHigh},
		{0.7001, ConfidenceHigh},
		{0.7, ConfidenceMedium},
		{0.51, ConfidenceMedium},
		{0.5, ConfidenceLow},
		{0.0, ConfidenceLow},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ConfidenceFor(tt.score), "score %v", tt.score)
	}
}

func TestCodeEntryValidate(t *testing.T) {
	text := "amoxicillin"
	valid := func() *CodeEntry {
		return &CodeEntry{
			CodeSystem:  SystemMedicationFormulary,
			CodeValue:   "AMX500",
			CountryCode: "AU",
			DisplayName: "Amoxicillin Capsule 500 mg",
			EntityType:  EntityMedication,
		}
	}

	t.Run("valid without embedding", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing code value", func(t *testing.T) {
		e := valid()
		e.CodeValue = ""
		assert.ErrorIs(t, e.Validate(), ErrMissingCodeValue)
	})

	t.Run("unknown entity type", func(t *testing.T) {
		e := valid()
		e.EntityType = "device"
		assert.ErrorIs(t, e.Validate(), ErrInvalidEntityType)
	})

	t.Run("embedding requires normalized text", func(t *testing.T) {
		e := valid()
		e.Embedding = []float32{0.1, 0.2}
		e.EmbeddingModel = "m1"
		assert.ErrorIs(t, e.Validate(), ErrEmbeddingWithoutText)
	})

	t.Run("embedding requires model", func(t *testing.T) {
		e := valid()
		e.Embedding = []float32{0.1, 0.2}
		e.NormalizedText = &text
		assert.ErrorIs(t, e.Validate(), ErrEmbeddingWithoutModel)
	})

	t.Run("needs embedding on model change", func(t *testing.T) {
		e := valid()
		e.Embedding = []float32{0.1}
		e.NormalizedText = &text
		e.EmbeddingModel = "m1"
		assert.False(t, e.NeedsEmbedding("m1"))
		assert.True(t, e.NeedsEmbedding("m2"))
	})
}

func TestMatchQueryDefaults(t *testing.T) {
	q := MatchQuery{EntityText: "Metoprolol"}.WithDefaults()
	assert.Equal(t, DefaultMaxCandidates, q.MaxCandidates)
	assert.NoError(t, q.Validate())

	q.MinSimilarity = 1.5
	assert.ErrorIs(t, q.Validate(), ErrInvalidMinSimilarity)
}
