package scans

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/labelscan/internal/application"
	"github.com/bryanwahyu/labelscan/internal/domain/scanerrors"
	domain "github.com/bryanwahyu/labelscan/internal/domain/scans"
	"github.com/bryanwahyu/labelscan/internal/logger"
	"github.com/bryanwahyu/labelscan/internal/metrics"
)

const defaultSessionTTL = 30 * time.Minute

var (
	ErrInvalidTransition = domain.ErrInvalidTransition
	ErrSessionNotFound   = errors.New("session not found")
)

type session struct {
	ctrl     *Controller
	lastSeen time.Time
}

// Service holds one Controller per user session.
// Service is designed to be used concurrently and is thread-safe
type Service struct {
	deps Deps
	ttl  time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

func NewService(deps Deps, ttl time.Duration) *Service {
	if deps.Clock == nil {
		deps.Clock = application.SystemClock{}
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Service{deps: deps, ttl: ttl, sessions: make(map[string]*session)}
}

//
// ==== USE CASES ====
//

// Create starts a new session in the idle state and returns its controller.
func (s *Service) Create() *Controller {
	id := uuid.New().String()
	ctrl := NewController(id, s.deps)

	s.mu.Lock()
	s.sessions[id] = &session{ctrl: ctrl, lastSeen: s.deps.Clock.Now()}
	n := len(s.sessions)
	s.mu.Unlock()

	metrics.SessionsActive.Set(float64(n))
	return ctrl
}

// Get returns the controller of a live session and marks it as seen.
func (s *Service) Get(id string) (*Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.lastSeen = s.deps.Clock.Now()
	return sess.ctrl, nil
}

// End discards a session, cancelling any in-flight run.
func (s *Service) End(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	n := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	metrics.SessionsActive.Set(float64(n))
	sess.ctrl.Close()
	return nil
}

// Failures lists recent failure diagnostics of a session.
func (s *Service) Failures(ctx context.Context, id string, limit int) ([]*scanerrors.ScanError, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	if s.deps.Failures == nil {
		return []*scanerrors.ScanError{}, nil
	}
	list, err := s.deps.Failures.ListBySession(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*scanerrors.ScanError{}
	}
	return list, nil
}

// Len reports the number of live sessions.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep ends sessions idle for longer than the TTL. Sessions with a run in
// flight are kept. Returns how many were ended.
func (s *Service) Sweep() int {
	now := s.deps.Clock.Now()

	s.mu.Lock()
	var expired []string
	for id, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.ttl && sess.ctrl.State().Kind != domain.StateAnalyzing {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	ended := 0
	for _, id := range expired {
		if s.End(id) == nil {
			ended++
		}
	}
	if ended > 0 {
		logger.WithField("sessions", ended).Info("expired idle scan sessions")
	}
	return ended
}

// Run sweeps expired sessions until ctx is done, then ends every session.
func (s *Service) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Service) shutdown() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.End(id)
	}
}
