package scans

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/labelscan/internal/application"
	"github.com/bryanwahyu/labelscan/internal/domain/scanerrors"
	domain "github.com/bryanwahyu/labelscan/internal/domain/scans"
	"github.com/bryanwahyu/labelscan/internal/logger"
	"github.com/bryanwahyu/labelscan/internal/metrics"
)

const cleanupTimeout = 5 * time.Second

// Analyzer runs one image through the inference pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, img domain.CapturedImage) (domain.AnalysisResult, error)
}

// Deps are shared by every controller of a Service.
type Deps struct {
	Analyzer Analyzer
	Previews domain.PreviewStore  // optional; previews are released on discard
	Failures scanerrors.Repository // optional; failed runs are recorded here
	Clock    application.Clock
}

// Controller is the per-session pipeline state machine:
//
//	idle -> capturing -> analyzing -> results | failed
//
// Each run gets a token from a monotonically increasing counter. A run's
// resolution is applied only while the machine is still analyzing that token,
// so a superseded or reset run can never overwrite a newer state.
type Controller struct {
	sessionID string
	deps      Deps

	mu      sync.Mutex
	state   domain.State
	run     uint64
	cancel  context.CancelFunc
	changed chan struct{}
	closed  bool

	wg sync.WaitGroup
}

func NewController(sessionID string, deps Deps) *Controller {
	if deps.Clock == nil {
		deps.Clock = application.SystemClock{}
	}
	return &Controller{
		sessionID: sessionID,
		deps:      deps,
		state:     domain.Idle(deps.Clock.Now()),
		changed:   make(chan struct{}),
	}
}

func (c *Controller) SessionID() string { return c.sessionID }

// State returns the current snapshot. The pointed-to values are never mutated
// by the controller and must not be mutated by callers.
func (c *Controller) State() domain.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OpenCamera moves idle -> capturing.
func (c *Controller) OpenCamera() (domain.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.state, ErrSessionNotFound
	}
	if c.state.Kind != domain.StateIdle {
		return c.state, ErrInvalidTransition
	}
	c.setLocked(domain.Capturing(c.deps.Clock.Now()))
	return c.state, nil
}

// CloseCamera moves capturing -> idle.
func (c *Controller) CloseCamera() (domain.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.state, ErrSessionNotFound
	}
	if c.state.Kind != domain.StateCapturing {
		return c.state, ErrInvalidTransition
	}
	c.setLocked(domain.Idle(c.deps.Clock.Now()))
	return c.state, nil
}

// Submit starts a run for img. Allowed from idle, capturing, failed and
// analyzing; in the last case the in-flight run is superseded and cancelled.
// Results must be reset first. A closed controller rejects every submission
// with ErrSessionNotFound; the caller still owns img and its preview.
func (c *Controller) Submit(img domain.CapturedImage) (domain.State, error) {
	if img.IsZero() {
		return c.State(), &domain.Error{Kind: domain.KindInvalidImage, Stage: domain.StageCapture, Err: domain.ErrEmptyImage}
	}

	c.mu.Lock()
	if c.closed {
		st := c.state
		c.mu.Unlock()
		return st, ErrSessionNotFound
	}
	switch c.state.Kind {
	case domain.StateIdle, domain.StateCapturing, domain.StateAnalyzing, domain.StateFailed:
	default:
		st := c.state
		c.mu.Unlock()
		return st, ErrInvalidTransition
	}
	prev := c.state.Image
	if c.state.Kind == domain.StateAnalyzing {
		logger.WithFields(logrus.Fields{
			"session": c.sessionID,
			"run":     c.state.RunID,
		}).Info("scan run superseded by a new capture")
	}
	c.startLocked(img)
	st := c.state
	c.mu.Unlock()

	c.release(prev, &img)
	return st, nil
}

// Retry re-enters analyzing with the image of the failed run.
func (c *Controller) Retry() (domain.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.state, ErrSessionNotFound
	}
	if c.state.Kind != domain.StateFailed || c.state.Image == nil {
		return c.state, ErrInvalidTransition
	}
	c.startLocked(*c.state.Image)
	return c.state, nil
}

// Reset returns to idle from any state, cancelling an in-flight run and
// discarding the image and result.
func (c *Controller) Reset() domain.State {
	c.mu.Lock()
	prev := c.state.Image
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.state.Kind != domain.StateIdle {
		c.setLocked(domain.Idle(c.deps.Clock.Now()))
	}
	st := c.state
	c.mu.Unlock()

	c.release(prev, nil)
	return st
}

// Await blocks until the machine is not analyzing, or ctx is done.
func (c *Controller) Await(ctx context.Context) (domain.State, error) {
	for {
		c.mu.Lock()
		st, ch := c.state, c.changed
		c.mu.Unlock()

		if st.Kind != domain.StateAnalyzing {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ch:
		}
	}
}

// Close resets the machine, refuses further runs and waits for run goroutines
// to exit. No run can start once closed is set, so wg.Add never races wg.Wait.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Reset()
	c.wg.Wait()
}

func (c *Controller) startLocked(img domain.CapturedImage) {
	if c.cancel != nil {
		c.cancel()
	}
	c.run++
	token := c.run
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.setLocked(domain.Analyzing(token, img, c.deps.Clock.Now()))

	c.wg.Add(1)
	go c.execute(ctx, cancel, token, img)
}

func (c *Controller) execute(ctx context.Context, cancel context.CancelFunc, token uint64, img domain.CapturedImage) {
	defer c.wg.Done()
	defer cancel()
	metrics.RunsInFlight.Inc()
	defer metrics.RunsInFlight.Dec()

	result, err := c.deps.Analyzer.Analyze(ctx, img)
	c.resolve(token, img, result, err)
}

func (c *Controller) resolve(token uint64, img domain.CapturedImage, result domain.AnalysisResult, err error) {
	c.mu.Lock()
	if c.state.Kind != domain.StateAnalyzing || c.state.RunID != token {
		c.mu.Unlock()
		metrics.StaleResultsTotal.Inc()
		logger.WithFields(logrus.Fields{
			"session": c.sessionID,
			"run":     token,
		}).Debug("discarding result of superseded run")
		return
	}
	c.cancel = nil
	now := c.deps.Clock.Now()
	if err != nil {
		c.setLocked(domain.Failed(token, img, err, now))
	} else {
		c.setLocked(domain.Results(token, img, result, now))
	}
	st := c.state
	c.mu.Unlock()

	if err == nil {
		metrics.RunsTotal.WithLabelValues(string(domain.StateResults)).Inc()
		logger.WithFields(logrus.Fields{
			"session":        c.sessionID,
			"run":            token,
			"ingredients":    len(result.Ingredients),
			"overall_safety": result.OverallSafety,
		}).Info("scan run completed")
		return
	}
	metrics.RunsTotal.WithLabelValues(string(st.Failure.Kind)).Inc()
	c.recordFailure(token, st.Failure, err)
}

// recordFailure logs the failing stage and stores a diagnostic record.
func (c *Controller) recordFailure(token uint64, f *domain.Failure, err error) {
	logger.WithError(err).WithFields(logrus.Fields{
		"session": c.sessionID,
		"run":     token,
		"stage":   f.Stage,
		"kind":    f.Kind,
	}).Warn("scan run failed")

	if c.deps.Failures == nil {
		return
	}
	rec := &scanerrors.ScanError{
		SessionID:   c.sessionID,
		RunID:       token,
		Stage:       string(f.Stage),
		Kind:        string(f.Kind),
		Message:     err.Error(),
		DetailsJSON: failureDetails(err),
		CreatedAt:   c.deps.Clock.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if serr := c.deps.Failures.Save(ctx, rec); serr != nil {
		logger.WithError(serr).WithField("session", c.sessionID).Error("failed to record scan failure")
	}
}

// release deletes the preview of prev unless it is the image being kept.
func (c *Controller) release(prev, keep *domain.CapturedImage) {
	if prev == nil || c.deps.Previews == nil {
		return
	}
	key := prev.Preview().Key
	if key == "" || (keep != nil && keep.Preview().Key == key) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := c.deps.Previews.Delete(ctx, key); err != nil {
		logger.WithError(err).WithField("preview", key).Warn("failed to delete preview")
	}
}

func (c *Controller) setLocked(st domain.State) {
	c.state = st
	close(c.changed)
	c.changed = make(chan struct{})
}

func failureDetails(err error) string {
	var pf *domain.ParseFailure
	if !errors.As(err, &pf) {
		return ""
	}
	b, _ := json.Marshal(map[string]string{
		"reason":   pf.Reason,
		"raw_text": pf.RawText,
	})
	return string(b)
}
