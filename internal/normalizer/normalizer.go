package normalizer

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/dshills/medcode-resolver/pkg/types"
)

// ErrEmptyNormalization is returned when no text survives normalization.
var ErrEmptyNormalization = errors.New("normalization produced empty text")

// maxPasses bounds the fixpoint loop. Every pass that changes the text shortens it,
// so real inputs settle in two or three passes.
const maxPasses = 16

const (
	numberPattern = `\d+(?:[.,]\d+)?`
	unitPattern   = `(?:micrograms?|milligrams?|mcg|mg|ml|µg|μg|g)`
)

var (
	// DosagePattern matches a strength with its unit, optionally as a range or a ratio.
	DosagePattern = regexp.MustCompile(`(?i)\b` +
		`(?:` + numberPattern + `\s*(?:` + unitPattern + `\s*)?(?:-|–|to)\s*)?` +
		numberPattern + `\s*` + unitPattern + `\b` +
		`(?:\s*/\s*(?:` + numberPattern + `\s*)?` + unitPattern + `\b)?`)

	// gluedDosePattern finds a strength written directly after a word, as in "Amoxicillin500mg"
	gluedDosePattern = regexp.MustCompile(`(?i)(\pL)(` + numberPattern + `\s*` + unitPattern + `\b)`)

	formPattern = regexp.MustCompile(`(?i)\b(?:oral\s+liquids?|tablets?|capsules?|injections?|syrups?|creams?|ointments?|` +
		`suppositor(?:y|ies)|pessar(?:y|ies)|powders?|solutions?|suspensions?)\b`)

	connectorPattern = regexp.MustCompile(`(?i)\b(?:containing|with)\b`)

	saltPattern = regexp.MustCompile(`(?i)\(\s*as\s+[^()]*\)`)

	parenPattern = regexp.MustCompile(`\([^()]*\)`)

	spacePattern = regexp.MustCompile(`\s+`)
)

// edgePunct is trimmed from both ends once the noise tokens are gone.
const edgePunct = " ,;:-/+&."

// Rule is one named normalization step.
type Rule struct {
	Name  string
	Apply func(string) string
}

// Rules returns the normalization steps in application order.
func Rules() []Rule {
	return []Rule{
		{Name: "dosage", Apply: StripDosage},
		{Name: "form", Apply: StripForms},
		{Name: "connector", Apply: StripConnectors},
		{Name: "salt", Apply: StripSaltAnnotations},
		{Name: "parenthetical", Apply: StripParentheticals},
		{Name: "canonical", Apply: Canonicalize},
	}
}

// StripDosage removes strengths such as "500 mg", "10 mg-20 mg" and "250 mg/5 ml".
func StripDosage(s string) string {
	s = gluedDosePattern.ReplaceAllString(s, "${1} ${2}")
	return DosagePattern.ReplaceAllString(s, " ")
}

// StripForms removes pharmaceutical dose form words.
func StripForms(s string) string {
	return formPattern.ReplaceAllString(s, " ")
}

// StripConnectors removes "containing" and "with".
func StripConnectors(s string) string {
	return connectorPattern.ReplaceAllString(s, " ")
}

// StripSaltAnnotations removes "(as <salt>)".
func StripSaltAnnotations(s string) string {
	return saltPattern.ReplaceAllString(s, " ")
}

// StripParentheticals removes parenthesised content, innermost first.
func StripParentheticals(s string) string {
	for {
		next := parenPattern.ReplaceAllString(s, " ")
		if next == s {
			return s
		}
		s = next
	}
}

// Canonicalize folds to NFKC, drops control characters, collapses whitespace,
// trims dangling punctuation and lowercases.
func Canonicalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = spacePattern.ReplaceAllString(s, " ")
	s = strings.Trim(s, edgePunct)
	return strings.ToLower(s)
}

// Normalize converts a display name into embedding text.
// Rules apply identically to every entity type.
func Normalize(displayName string, _ types.EntityType) (string, error) {
	s := norm.NFKC.String(displayName)
	for pass := 0; pass < maxPasses; pass++ {
		next := s
		for _, rule := range Rules() {
			next = rule.Apply(next)
		}
		if next == s {
			break
		}
		s = next
	}

	if strings.TrimSpace(s) == "" {
		return "", ErrEmptyNormalization
	}
	return s, nil
}

// Fallback is the text used when normalization leaves nothing: the display name,
// lowercased and trimmed.
func Fallback(displayName string) string {
	return strings.ToLower(strings.TrimSpace(displayName))
}

// NormalizeOrFallback returns Normalize's result, or Fallback when it is empty.
// The boolean reports whether the fallback was used.
func NormalizeOrFallback(displayName string, entityType types.EntityType) (string, bool) {
	text, err := Normalize(displayName, entityType)
	if err != nil {
		return Fallback(displayName), true
	}
	return text, false
}

// SelectSource picks the text to normalize for an entity: the interpreted text
// when it is strictly longer than the raw text, otherwise the raw text.
func SelectSource(raw, interpreted string) string {
	if len(strings.TrimSpace(interpreted)) > len(strings.TrimSpace(raw)) {
		return interpreted
	}
	return raw
}
