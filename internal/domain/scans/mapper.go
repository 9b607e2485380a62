package scans

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Map projects a validated analysis into the result shown to the user.
// It is pure; slices are copied so the result does not alias the input.
func Map(parsed ParsedAnalysis) (AnalysisResult, error) {
	findings := make([]IngredientFinding, 0, len(parsed.Ingredients))
	for _, ing := range parsed.Ingredients {
		findings = append(findings, IngredientFinding{
			Name:        ing.IngredientName,
			Safety:      SafetyLabel(capitalize(ing.Safe)),
			Description: ing.Usage + " " + ing.Background,
			OtherNames:  ing.OtherNames,
			SideEffects: cloneStrings(ing.SideEffects),
			Concerns:    cloneStrings(ing.Concerns),
		})
	}
	return NewAnalysisResult(findings, parsed.OverallSafety, parsed.Recommendations)
}

// capitalize upper-cases the first rune and leaves the rest untouched.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	b.WriteRune(unicode.ToUpper(r))
	b.WriteString(s[size:])
	return b.String()
}

func cloneStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return slices.Clone(in)
}
