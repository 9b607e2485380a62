package scans

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ParsedIngredient mirrors one element of the analysis document after validation.
type ParsedIngredient struct {
	IngredientName string
	Safe           string
	Usage          string
	Background     string
	OtherNames     string
	SideEffects    []string
	Concerns       []string
}

// ParsedAnalysis is the schema-checked intermediate form of the analysis response.
type ParsedAnalysis struct {
	Ingredients     []ParsedIngredient
	OverallSafety   string
	Recommendations string
}

// Pointer fields distinguish "missing or null" from zero values.
type rawAnalysis struct {
	Ingredients     *[]json.RawMessage `json:"ingredients"`
	OverallSafety   *string            `json:"overallSafety"`
	Recommendations *string            `json:"recommendations"`
}

type rawIngredient struct {
	IngredientName *string   `json:"ingredient_name"`
	Safe           *string   `json:"safe"`
	Usage          *string   `json:"usage"`
	Background     *string   `json:"background"`
	OtherNames     *string   `json:"other_names"`
	SideEffects    *[]*string `json:"side_effects"`
	Concerns       *[]*string `json:"concerns"`
}

var (
	fenceOpen  = regexp.MustCompile("^```(?i:json)?[ \t]*\r?\n?")
	fenceClose = regexp.MustCompile("\r?\n?```$")
)

// StripFence removes an optional markdown code fence (with optional json tag)
// around the model output and trims surrounding whitespace.
func StripFence(raw string) string {
	s := strings.TrimSpace(raw)
	s = fenceOpen.ReplaceAllString(s, "")
	s = fenceClose.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Sanitize turns the raw analysis completion into a validated ParsedAnalysis.
// Any error is a *ParseFailure; a partially valid document is never returned.
func Sanitize(raw string) (ParsedAnalysis, error) {
	body := StripFence(raw)
	if body == "" {
		return ParsedAnalysis{}, &ParseFailure{RawText: raw, Reason: "empty response"}
	}

	var doc rawAnalysis
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return ParsedAnalysis{}, &ParseFailure{RawText: raw, Reason: decodeReason(err)}
	}
	switch {
	case doc.Ingredients == nil:
		return ParsedAnalysis{}, missing(raw, "ingredients")
	case doc.OverallSafety == nil:
		return ParsedAnalysis{}, missing(raw, "overallSafety")
	case doc.Recommendations == nil:
		return ParsedAnalysis{}, missing(raw, "recommendations")
	}

	out := ParsedAnalysis{
		Ingredients:     make([]ParsedIngredient, 0, len(*doc.Ingredients)),
		OverallSafety:   *doc.OverallSafety,
		Recommendations: *doc.Recommendations,
	}
	for i, elem := range *doc.Ingredients {
		ing, err := parseIngredient(elem)
		if err != nil {
			return ParsedAnalysis{}, &ParseFailure{RawText: raw, Reason: fmt.Sprintf("ingredients[%d]: %s", i, err)}
		}
		out.Ingredients = append(out.Ingredients, ing)
	}
	return out, nil
}

func parseIngredient(elem json.RawMessage) (ParsedIngredient, error) {
	if strings.TrimSpace(string(elem)) == "null" {
		return ParsedIngredient{}, errors.New("element is null")
	}
	var r rawIngredient
	if err := json.Unmarshal(elem, &r); err != nil {
		return ParsedIngredient{}, errors.New(decodeReason(err))
	}

	required := []struct {
		name string
		ok   bool
	}{
		{"ingredient_name", r.IngredientName != nil},
		{"safe", r.Safe != nil},
		{"usage", r.Usage != nil},
		{"background", r.Background != nil},
		{"other_names", r.OtherNames != nil},
		{"side_effects", r.SideEffects != nil},
		{"concerns", r.Concerns != nil},
	}
	for _, f := range required {
		if !f.ok {
			return ParsedIngredient{}, fmt.Errorf("missing required field %q", f.name)
		}
	}

	sideEffects, err := stringList("side_effects", *r.SideEffects)
	if err != nil {
		return ParsedIngredient{}, err
	}
	concerns, err := stringList("concerns", *r.Concerns)
	if err != nil {
		return ParsedIngredient{}, err
	}

	return ParsedIngredient{
		IngredientName: *r.IngredientName,
		Safe:           *r.Safe,
		Usage:          *r.Usage,
		Background:     *r.Background,
		OtherNames:     *r.OtherNames,
		SideEffects:    sideEffects,
		Concerns:       concerns,
	}, nil
}

// stringList rejects null elements, which encoding/json would otherwise decode as "".
func stringList(field string, in []*string) ([]string, error) {
	out := make([]string, 0, len(in))
	for j, v := range in {
		if v == nil {
			return nil, fmt.Errorf("%s[%d] is null", field, j)
		}
		out = append(out, *v)
	}
	return out, nil
}

func missing(raw, field string) *ParseFailure {
	return &ParseFailure{RawText: raw, Reason: fmt.Sprintf("missing required field %q", field)}
}

func decodeReason(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field != "" {
			return fmt.Sprintf("field %q: expected %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value)
		}
		return fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Sprintf("invalid JSON at offset %d: %v", syntaxErr.Offset, syntaxErr)
	}
	return err.Error()
}
