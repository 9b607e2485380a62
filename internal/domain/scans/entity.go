package scans

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
)

// SafetyLabel is the per-ingredient display classification returned by the
// analysis stage. Values other than the constants below are allowed.
type SafetyLabel string

const (
	SafetySafe    SafetyLabel = "Safe"
	SafetyCaution SafetyLabel = "Caution"
)

// Overall safety tiers the analysis prompt asks for. The service value is
// copied verbatim, these are only used to flag unexpected tiers.
const (
	OverallSafe     = "Safe"
	OverallLowRisk  = "Low Risk"
	OverallModerate = "Moderate"
	OverallHighRisk = "High Risk"
)

// KnownOverall reports whether s is one of the four tiers named in the prompt.
func KnownOverall(s string) bool {
	switch strings.TrimSpace(s) {
	case OverallSafe, OverallLowRisk, OverallModerate, OverallHighRisk:
		return true
	}
	return false
}

// PreviewRef points at a displayable copy of a captured image.
type PreviewRef struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// CapturedImage is the normalized output of an upload or a camera capture.
// It is immutable once built.
type CapturedImage struct {
	data     []byte
	mimeType string
	preview  PreviewRef
}

// NewCapturedImage copies data and fails with InvalidImage when it is empty.
func NewCapturedImage(data []byte, mimeType string, preview PreviewRef) (CapturedImage, error) {
	if len(data) == 0 {
		return CapturedImage{}, &Error{Kind: KindInvalidImage, Stage: StageCapture, Err: ErrEmptyImage}
	}
	return CapturedImage{
		data:     bytes.Clone(data),
		mimeType: mimeType,
		preview:  preview,
	}, nil
}

// Bytes returns a copy of the image payload.
func (c CapturedImage) Bytes() []byte { return bytes.Clone(c.data) }

func (c CapturedImage) Size() int           { return len(c.data) }
func (c CapturedImage) MimeType() string    { return c.mimeType }
func (c CapturedImage) Preview() PreviewRef { return c.preview }
func (c CapturedImage) IsZero() bool        { return len(c.data) == 0 }

// DataURL encodes the image as a base64 data URL, the inline form accepted by
// multimodal chat endpoints.
func (c CapturedImage) DataURL() string {
	return "data:" + c.mimeType + ";base64," + base64.StdEncoding.EncodeToString(c.data)
}

// MarshalJSON never exposes the payload, only what the presentation layer needs.
func (c CapturedImage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		MimeType string     `json:"mime_type"`
		Size     int        `json:"size"`
		Preview  PreviewRef `json:"preview"`
	}{c.mimeType, len(c.data), c.preview})
}

// IngredientFinding is one analysed ingredient as shown to the user.
type IngredientFinding struct {
	Name        string      `json:"name"`
	Safety      SafetyLabel `json:"safety"`
	Description string      `json:"description"`
	OtherNames  string      `json:"other_names"`
	SideEffects []string    `json:"side_effects"`
	Concerns    []string    `json:"concerns"`
}

// AnalysisResult is the validated outcome of a pipeline run.
type AnalysisResult struct {
	Ingredients     []IngredientFinding `json:"ingredients"`
	OverallSafety   string              `json:"overall_safety"`
	Recommendations string              `json:"recommendations"`
}

// NewAnalysisResult enforces the non-empty ingredient invariant.
func NewAnalysisResult(ingredients []IngredientFinding, overall, recommendations string) (AnalysisResult, error) {
	if len(ingredients) == 0 {
		return AnalysisResult{}, &Error{Kind: KindEmptyResult, Stage: StageMap, Err: ErrNoIngredients}
	}
	return AnalysisResult{
		Ingredients:     ingredients,
		OverallSafety:   overall,
		Recommendations: recommendations,
	}, nil
}
