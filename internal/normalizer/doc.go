// Package normalizer turns code display names into canonical, embedding-ready text.
//
// Catalog labels carry strength, dose form and brand noise that pulls embeddings
// of the same substance apart ("Amoxicillin Capsule 500 mg" vs "Amoxicillin 250 mg
// Oral Suspension"). Normalize strips that noise with an ordered list of rules:
//
//  1. dosage-unit patterns, including ranges and ratios ("10 mg-20 mg", "250 mg/5 ml")
//  2. pharmaceutical form words, whole words only
//  3. connector words ("containing", "with")
//  4. salt annotations "(as ...)"
//  5. any remaining parenthetical content
//  6. NFKC folding, whitespace collapse, trim, lowercase
//
// The rule list is applied until the text stops changing, so the output never
// contains a dosage pair and Normalize(Normalize(x)) == Normalize(x).
//
//	text, err := normalizer.Normalize("Amoxicillin Capsule 500 mg", types.EntityMedication)
//	// text == "amoxicillin"
//
// When every token is noise, Normalize returns ErrEmptyNormalization and the caller
// decides what to embed instead; NormalizeOrFallback implements the usual choice.
package normalizer
