// Package types provides shared type definitions for the medcode resolver.
//
// This package defines the domain types used across the normalizer, storage,
// indexer and searcher packages: corpus rows, inbound match queries, and the
// scored candidates produced by hybrid retrieval.
//
// # Core Types
//
// CodeEntry is one row of a regional code corpus:
//
//	entry := &types.CodeEntry{
//	    CodeSystem:  types.SystemMedicationFormulary,
//	    CodeValue:   "AMX500",
//	    CountryCode: "AU",
//	    DisplayName: "Amoxicillin Capsule 500 mg",
//	    EntityType:  types.EntityMedication,
//	    Active:      true,
//	}
//
// NormalizedText and Embedding are nil until the corpus embedding job fills
// them. An entry carries an embedding only together with the normalized text
// it was generated from and the model that produced it.
//
// MatchQuery is one inbound resolution request and Candidate is a scored
// corpus row proposed as a match for it:
//
//	candidate := types.Candidate{
//	    CodeValue:     "AMX500",
//	    LexicalScore:  0.81,
//	    VectorScore:   0.93,
//	    CombinedScore: 0.894,
//	    Rank:          1,
//	}
//
// # Confidence
//
// ConfidenceFor buckets a combined score for caller consumption:
//
//	types.ConfidenceFor(0.71) // ConfidenceHigh
//	types.ConfidenceFor(0.70) // ConfidenceMedium
//	types.ConfidenceFor(0.50) // ConfidenceLow
//
// Scores are in [0, 1], with higher values indicating better matches.
package types
