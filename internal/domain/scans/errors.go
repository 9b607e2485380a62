package scans

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed pipeline run.
type ErrorKind string

const (
	KindInvalidImage         ErrorKind = "invalid_image"
	KindInferenceUnavailable ErrorKind = "inference_unavailable"
	KindMalformedResponse    ErrorKind = "malformed_response"
	KindEmptyResult          ErrorKind = "empty_result"
)

// Message is the short explanation shown to the user. Raw causes are logged only.
func (k ErrorKind) Message() string {
	switch k {
	case KindInvalidImage:
		return "We couldn't read that image. Please upload or capture a clear photo of the ingredient list."
	case KindInferenceUnavailable:
		return "The analysis service is unavailable right now. Please try again in a moment."
	case KindMalformedResponse:
		return "We couldn't understand the analysis for this product. Please try again."
	case KindEmptyResult:
		return "No ingredients were found in this image. Try a sharper photo of the ingredient list."
	default:
		return "Something went wrong. Please try again."
	}
}

// Stage names the pipeline step that produced an error.
type Stage string

const (
	StageCapture  Stage = "capture"
	StageOCR      Stage = "ocr"
	StageAnalysis Stage = "analysis"
	StageSanitize Stage = "sanitize"
	StageMap      Stage = "map"
)

var (
	ErrEmptyImage        = errors.New("image is empty")
	ErrNoIngredients     = errors.New("analysis contains no ingredients")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Error is the typed failure every pipeline component returns across its boundary.
type Error struct {
	Kind  ErrorKind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at %s: %v", e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s at %s", e.Kind, e.Stage)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind of err, or "" if err is not a pipeline error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var pf *ParseFailure
	if errors.As(err, &pf) {
		return KindMalformedResponse
	}
	return ""
}

// StageOf extracts the Stage of err, or "" if err is not a pipeline error.
func StageOf(err error) Stage {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Stage
	}
	var pf *ParseFailure
	if errors.As(err, &pf) {
		return StageSanitize
	}
	return ""
}

// ParseFailure is returned by Sanitize. It keeps the raw model text for diagnostics.
type ParseFailure struct {
	RawText string
	Reason  string
}

func (f *ParseFailure) Error() string { return "malformed analysis response: " + f.Reason }
