package types

import "time"

// Code systems known to the resolver. Other values are accepted as opaque strings.
const (
	SystemMedicationFormulary    = "national-medication-formulary"
	SystemProcedureBilling       = "procedure-billing"
	SystemClinicalTerminology    = "clinical-terminology"
	SystemObservationTerminology = "observation-terminology"
)

// EntityType classifies what a corpus row or query refers to.
type EntityType string

const (
	EntityMedication  EntityType = "medication"
	EntityProcedure   EntityType = "procedure"
	EntityCondition   EntityType = "condition"
	EntityObservation EntityType = "observation"
	EntityAllergy     EntityType = "allergy"
)

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityMedication, EntityProcedure, EntityCondition, EntityObservation, EntityAllergy:
		return true
	}
	return false
}

// CodeEntry represents one row of the regional code corpus
type CodeEntry struct {
	// Identification
	ID          int64
	CodeSystem  string
	CodeValue   string // Unique within CodeSystem + CountryCode
	CountryCode string

	// Source text
	DisplayName string // Authoritative label
	SearchText  string // Synonyms and abbreviations used for lexical indexing

	// Derived, nil until the embedding job fills them
	NormalizedText *string
	Embedding      []float32
	EmbeddingModel string
	EmbeddedAt     *time.Time

	// Classification
	EntityType EntityType
	Active     bool

	// Timestamps
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NeedsEmbedding reports whether the entry lacks an embedding for model.
func (e *CodeEntry) NeedsEmbedding(model string) bool {
	return len(e.Embedding) == 0 || e.EmbeddingModel != model
}

// Validate checks if the code entry is valid
func (e *CodeEntry) Validate() error {
	if e.CodeSystem == "" {
		return ErrMissingCodeSystem
	}

	if e.CodeValue == "" {
		return ErrMissingCodeValue
	}

	if e.CountryCode == "" {
		return ErrMissingCountryCode
	}

	if e.DisplayName == "" {
		return ErrMissingDisplayName
	}

	if e.EntityType != "" && !e.EntityType.Valid() {
		return ErrInvalidEntityType
	}

	if len(e.Embedding) > 0 {
		if e.NormalizedText == nil {
			return ErrEmbeddingWithoutText
		}
		if e.EmbeddingModel == "" {
			return ErrEmbeddingWithoutModel
		}
	}

	return nil
}
