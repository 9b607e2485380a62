package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/labelscan/internal/application/capture"
	appscans "github.com/bryanwahyu/labelscan/internal/application/scans"
	domain "github.com/bryanwahyu/labelscan/internal/domain/scans"
	"github.com/bryanwahyu/labelscan/internal/infra/storage"
	"github.com/bryanwahyu/labelscan/internal/logger"
	"github.com/bryanwahyu/labelscan/internal/middleware"
)

const defaultMaxWait = 60 * time.Second

// Options wires the router. Previews is only set when the in-memory preview
// store is in use; MinIO previews are served by presigned URLs instead.
type Options struct {
	Sessions       *appscans.Service
	Source         *capture.Source
	Previews       *storage.MemoryStore
	Limiter        *middleware.RateLimiter
	Checkers       map[string]middleware.HealthChecker
	AllowedOrigins []string
	MaxWait        time.Duration
	MaxImageBytes  int64
}

type Router struct {
	sessions *appscans.Service
	source   *capture.Source
	previews *storage.MemoryStore
	maxWait  time.Duration
	maxBytes int64
}

func NewRouter(o Options) http.Handler {
	r := &Router{
		sessions: o.Sessions,
		source:   o.Source,
		previews: o.Previews,
		maxWait:  o.MaxWait,
		maxBytes: o.MaxImageBytes,
	}
	if r.maxWait <= 0 {
		r.maxWait = defaultMaxWait
	}
	if r.maxBytes <= 0 {
		r.maxBytes = capture.DefaultMaxImageBytes
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)

	origins := o.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	mux.Get("/health", middleware.HealthHandler(o.Checkers))
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Get("/live", middleware.LivenessHandler)
	mux.Method(http.MethodGet, "/metrics", middleware.MetricsHandler())

	if r.previews != nil {
		mux.Get(storage.PreviewPath+"{key}", r.handlePreview)
	}

	limited := func(h http.HandlerFunc) http.Handler { return h }
	if o.Limiter != nil {
		rl := middleware.RateLimit(o.Limiter)
		limited = func(h http.HandlerFunc) http.Handler { return rl(h) }
	}

	mux.Route("/v1/sessions", func(rt chi.Router) {
		rt.Method(http.MethodPost, "/", limited(r.wrap(r.handleCreate)))
		rt.Route("/{session}", func(s chi.Router) {
			s.Delete("/", r.wrap(r.handleEnd))
			s.Get("/state", r.wrap(r.handleState))
			s.Post("/camera", r.wrap(r.handleOpenCamera))
			s.Delete("/camera", r.wrap(r.handleCloseCamera))
			s.Method(http.MethodPost, "/upload", limited(r.wrap(r.handleUpload)))
			s.Method(http.MethodPost, "/capture", limited(r.wrap(r.handleCapture)))
			s.Method(http.MethodPost, "/retry", limited(r.wrap(r.handleRetry)))
			s.Post("/reset", r.wrap(r.handleReset))
			s.Get("/failures", r.wrap(r.handleFailures))
		})
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks request-shape errors that carry no domain kind.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var br badRequest
		switch {
		case errors.As(err, &br):
			http.Error(w, br.msg, http.StatusBadRequest)
		case errors.Is(err, appscans.ErrSessionNotFound):
			http.Error(w, "session not found", http.StatusNotFound)
		case errors.Is(err, appscans.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		case domain.KindOf(err) == domain.KindInvalidImage:
			logger.WithError(err).WithField("request_id", chimw.GetReqID(req.Context())).Info("rejected image")
			http.Error(w, domain.KindInvalidImage.Message(), http.StatusBadRequest)
		default:
			logger.WithError(err).WithFields(logrus.Fields{
				"path":       req.URL.Path,
				"request_id": chimw.GetReqID(req.Context()),
			}).Error("request failed")
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	}
}

func (r *Router) controller(req *http.Request) (*appscans.Controller, error) {
	id := chi.URLParam(req, "session")
	if err := middleware.ValidateSessionID(id); err != nil {
		return nil, badRequest{err.Error()}
	}
	return r.sessions.Get(id)
}

// POST /v1/sessions
func (r *Router) handleCreate(w http.ResponseWriter, req *http.Request) error {
	ctrl := r.sessions.Create()
	return writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": ctrl.SessionID(),
		"state":      ctrl.State(),
	})
}

// DELETE /v1/sessions/{session}
func (r *Router) handleEnd(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "session")
	if err := middleware.ValidateSessionID(id); err != nil {
		return badRequest{err.Error()}
	}
	if err := r.sessions.End(id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// GET /v1/sessions/{session}/state?wait=30s
func (r *Router) handleState(w http.ResponseWriter, req *http.Request) error {
	ctrl, err := r.controller(req)
	if err != nil {
		return err
	}
	wait, err := middleware.ValidateWait(req.URL.Query().Get("wait"), r.maxWait)
	if err != nil {
		return badRequest{err.Error()}
	}
	if wait == 0 {
		return writeJSON(w, http.StatusOK, ctrl.State())
	}

	ctx, cancel := context.WithTimeout(req.Context(), wait)
	defer cancel()
	// a timeout just reports the still-analyzing state
	st, _ := ctrl.Await(ctx)
	return writeJSON(w, http.StatusOK, st)
}

// POST /v1/sessions/{session}/camera
func (r *Router) handleOpenCamera(w http.ResponseWriter, req *http.Request) error {
	ctrl, err := r.controller(req)
	if err != nil {
		return err
	}
	st, err := ctrl.OpenCamera()
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, st)
}

// DELETE /v1/sessions/{session}/camera
func (r *Router) handleCloseCamera(w http.ResponseWriter, req *http.Request) error {
	ctrl, err := r.controller(req)
	if err != nil {
		return err
	}
	st, err := ctrl.CloseCamera()
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, st)
}

// POST /v1/sessions/{session}/upload (multipart, field "image")
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) error {
	ctrl, err := r.controller(req)
	if err != nil {
		return err
	}
	// leave room for the multipart envelope
	req.Body = http.MaxBytesReader(w, req.Body, r.maxBytes+1<<20)
	file, header, err := req.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			err = domain.ErrEmptyImage
		}
		return &domain.Error{Kind: domain.KindInvalidImage, Stage: domain.StageCapture, Err: err}
	}
	defer file.Close()

	img, err := r.source.FromUpload(req.Context(), capture.Upload{
		Filename:    middleware.SanitizeString(header.Filename),
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		return err
	}
	return r.submit(w, req, ctrl, img)
}

// POST /v1/sessions/{session}/capture
// Body: {"frame": "data:image/jpeg;base64,..."}
func (r *Router) handleCapture(w http.ResponseWriter, req *http.Request) error {
	ctrl, err := r.controller(req)
	if err != nil {
		return err
	}
	// base64 inflates by 4/3
	req.Body = http.MaxBytesReader(w, req.Body, r.maxBytes*4/3+1<<10)
	var body struct {
		Frame string `json:"frame"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return &domain.Error{Kind: domain.KindInvalidImage, Stage: domain.StageCapture, Err: err}
	}
	frame, err := capture.DecodeFrame(body.Frame)
	if err != nil {
		return err
	}
	img, err := r.source.FromCapture(req.Context(), frame)
	if err != nil {
		return err
	}
	return r.submit(w, req, ctrl, img)
}

func (r *Router) submit(w http.ResponseWriter, req *http.Request, ctrl *appscans.Controller, img domain.CapturedImage) error {
	st, err := ctrl.Submit(img)
	if err != nil {
		if derr := r.source.Discard(req.Context(), img); derr != nil {
			logger.WithError(derr).WithField("preview", img.Preview().Key).Warn("failed to discard preview")
		}
		return err
	}
	return writeJSON(w, http.StatusAccepted, st)
}

// POST /v1/sessions/{session}/retry
func (r *Router) handleRetry(w http.ResponseWriter, req *http.Request) error {
	ctrl, err := r.controller(req)
	if err != nil {
		return err
	}
	st, err := ctrl.Retry()
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusAccepted, st)
}

// POST /v1/sessions/{session}/reset
func (r *Router) handleReset(w http.ResponseWriter, req *http.Request) error {
	ctrl, err := r.controller(req)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, ctrl.Reset())
}

// GET /v1/sessions/{session}/failures?limit=20
func (r *Router) handleFailures(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "session")
	if err := middleware.ValidateSessionID(id); err != nil {
		return badRequest{err.Error()}
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.sessions.Failures(req.Context(), id, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/previews/{key}
func (r *Router) handlePreview(w http.ResponseWriter, req *http.Request) {
	key := chi.URLParam(req, "key")
	if err := middleware.ValidatePreviewKey(key); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, mimeType, ok := r.previews.Get(key)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
