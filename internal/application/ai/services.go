package ai

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/labelscan/internal/domain/ai"
	"github.com/bryanwahyu/labelscan/internal/domain/scans"
	"github.com/bryanwahyu/labelscan/internal/logger"
	"github.com/bryanwahyu/labelscan/internal/metrics"
)

// Service drives one image through both inference stages, the sanitizer and
// the mapper. It holds no per-run state and is safe for concurrent use.
type Service struct {
	client ai.Client
}

func NewService(client ai.Client) *Service {
	return &Service{client: client}
}

// Analyze runs the full chain. Every error is a *scans.Error naming the
// failing stage; there is no partial result.
func (s *Service) Analyze(ctx context.Context, img scans.CapturedImage) (scans.AnalysisResult, error) {
	var extracted string
	err := timed(scans.StageOCR, func() (err error) {
		extracted, err = s.client.ExtractText(ctx, img)
		return err
	})
	if err != nil {
		return scans.AnalysisResult{}, inferenceErr(scans.StageOCR, err)
	}
	logger.WithFields(logrus.Fields{
		"stage": scans.StageOCR,
		"chars": len(extracted),
	}).Debug("ingredient text extracted")

	var raw string
	err = timed(scans.StageAnalysis, func() (err error) {
		raw, err = s.client.Analyze(ctx, extracted)
		return err
	})
	if err != nil {
		return scans.AnalysisResult{}, inferenceErr(scans.StageAnalysis, err)
	}

	parsed, err := scans.Sanitize(raw)
	if err != nil {
		return scans.AnalysisResult{}, &scans.Error{Kind: scans.KindMalformedResponse, Stage: scans.StageSanitize, Err: err}
	}

	result, err := scans.Map(parsed)
	if err != nil {
		return scans.AnalysisResult{}, err
	}
	if !scans.KnownOverall(result.OverallSafety) {
		logger.WithField("overall_safety", result.OverallSafety).Warn("analysis returned an unexpected overall safety tier")
	}
	return result, nil
}

func timed(stage scans.Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.StageDurationSeconds.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	return err
}

// inferenceErr keeps typed errors from the client and wraps anything else as
// InferenceUnavailable for the given stage.
func inferenceErr(stage scans.Stage, err error) error {
	var pe *scans.Error
	if errors.As(err, &pe) {
		return err
	}
	return &scans.Error{Kind: scans.KindInferenceUnavailable, Stage: stage, Err: err}
}
