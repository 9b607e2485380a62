package httpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/labelscan/internal/application/capture"
	appscans "github.com/bryanwahyu/labelscan/internal/application/scans"
	domain "github.com/bryanwahyu/labelscan/internal/domain/scans"
	memdb "github.com/bryanwahyu/labelscan/internal/infra/db/memory"
	"github.com/bryanwahyu/labelscan/internal/infra/storage"
	"github.com/bryanwahyu/labelscan/internal/middleware"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

// stubAnalyzer resolves every run immediately with the configured outcome.
type stubAnalyzer struct {
	mu  sync.Mutex
	err error
}

func (s *stubAnalyzer) set(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *stubAnalyzer) Analyze(_ context.Context, _ domain.CapturedImage) (domain.AnalysisResult, error) {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	return domain.NewAnalysisResult([]domain.IngredientFinding{{
		Name:        "Phenoxyethanol",
		Safety:      domain.SafetyCaution,
		Description: "Preservative ...",
		OtherNames:  "EGPE",
		SideEffects: []string{"Irritation"},
		Concerns:    []string{"EU 1% limit"},
	}}, "Moderate", "Contains a cautionary ingredient.")
}

type testEnv struct {
	handler  http.Handler
	router   *Router
	analyzer *stubAnalyzer
	previews *storage.MemoryStore
	sessions *appscans.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	analyzer := &stubAnalyzer{}
	previews := storage.NewMemoryStore()
	sessions := appscans.NewService(appscans.Deps{
		Analyzer: analyzer,
		Previews: previews,
		Failures: memdb.NewScanErrorRepository(0),
	}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sessions.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	source := capture.NewSource(previews, 1<<20)
	return &testEnv{
		handler: NewRouter(Options{
			Sessions: sessions,
			Source:   source,
			Previews: previews,
			Limiter:  middleware.NewRateLimiter(100, 10),
			Checkers: map[string]middleware.HealthChecker{
				"inference": middleware.InferenceConfigChecker{APIKey: "k"},
			},
		}),
		router:   &Router{sessions: sessions, source: source, previews: previews},
		analyzer: analyzer,
		previews: previews,
		sessions: sessions,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/sessions", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var body struct {
		SessionID string `json:"session_id"`
		State     struct {
			State string `json:"state"`
		} `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "idle", body.State.State)
	return body.SessionID
}

func multipartImage(t *testing.T, field, contentType string, data []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="label.png"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes(), w.FormDataContentType()
}

type stateBody struct {
	State string `json:"state"`
	RunID uint64 `json:"run_id"`
	Image *struct {
		MimeType string            `json:"mime_type"`
		Size     int               `json:"size"`
		Preview  domain.PreviewRef `json:"preview"`
	} `json:"image"`
	Result  *domain.AnalysisResult `json:"result"`
	Failure *domain.Failure        `json:"failure"`
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) stateBody {
	t.Helper()
	var st stateBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st), rec.Body.String())
	return st
}

func TestRouter_UploadToResults(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	base := "/v1/sessions/" + id

	body, ct := multipartImage(t, "image", "image/png", pngHeader)
	rec := env.do(t, http.MethodPost, base+"/upload", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "analyzing", decodeState(t, rec).State)

	rec = env.do(t, http.MethodGet, base+"/state?wait=2s", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeState(t, rec)
	require.Equal(t, "results", st.State)
	require.NotNil(t, st.Result)
	assert.Equal(t, "Phenoxyethanol", st.Result.Ingredients[0].Name)
	assert.Equal(t, domain.SafetyCaution, st.Result.Ingredients[0].Safety)
	assert.Equal(t, "Moderate", st.Result.OverallSafety)
	require.NotNil(t, st.Image)
	assert.Equal(t, "image/png", st.Image.MimeType)
	assert.NotContains(t, rec.Body.String(), base64.StdEncoding.EncodeToString(pngHeader), "payload is never echoed")

	rec = env.do(t, http.MethodGet, st.Image.Preview.URL, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, pngHeader, rec.Body.Bytes())

	// a new scan needs a reset first; the rejected image leaves no preview behind
	before := env.previews.Len()
	rec = env.do(t, http.MethodPost, base+"/upload", body, ct)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, before, env.previews.Len())

	rec = env.do(t, http.MethodPost, base+"/reset", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decodeState(t, rec).State)
	assert.Equal(t, 0, env.previews.Len())
}

func TestRouter_EmptyUploadIsRejected(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	base := "/v1/sessions/" + id

	rec := env.do(t, http.MethodPost, base+"/camera", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body, ct := multipartImage(t, "image", "image/png", nil)
	rec = env.do(t, http.MethodPost, base+"/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.KindInvalidImage.Message())

	body, ct = multipartImage(t, "file", "image/png", pngHeader)
	rec = env.do(t, http.MethodPost, base+"/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, base+"/state", nil, "")
	assert.Equal(t, "capturing", decodeState(t, rec).State)
	assert.Equal(t, 0, env.previews.Len())
}

func TestRouter_CameraCapture(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	base := "/v1/sessions/" + id

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/camera", nil, "").Code)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, base+"/camera", nil, "").Code)

	bad, _ := json.Marshal(map[string]string{"frame": "%%%"})
	rec := env.do(t, http.MethodPost, base+"/capture", bad, "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	frame, _ := json.Marshal(map[string]string{"frame": "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)})
	rec = env.do(t, http.MethodPost, base+"/capture", frame, "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, base+"/state?wait=true", nil, "")
	st := decodeState(t, rec)
	assert.Equal(t, "results", st.State)
	assert.Equal(t, capture.CameraMimeType, st.Image.MimeType)
}

func TestRouter_CloseCamera(t *testing.T) {
	env := newTestEnv(t)
	base := "/v1/sessions/" + env.createSession(t)

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodDelete, base+"/camera", nil, "").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/camera", nil, "").Code)
	rec := env.do(t, http.MethodDelete, base+"/camera", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decodeState(t, rec).State)
}

func TestRouter_FailureRetryAndDiagnostics(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	base := "/v1/sessions/" + id

	env.analyzer.set(&domain.Error{
		Kind:  domain.KindMalformedResponse,
		Stage: domain.StageSanitize,
		Err:   &domain.ParseFailure{RawText: "Sorry, I cannot analyze this.", Reason: "invalid JSON"},
	})
	body, ct := multipartImage(t, "image", "", pngHeader)
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, base+"/upload", body, ct).Code)

	rec := env.do(t, http.MethodGet, base+"/state?wait=2s", nil, "")
	st := decodeState(t, rec)
	require.Equal(t, "failed", st.State)
	require.NotNil(t, st.Failure)
	assert.Equal(t, domain.KindMalformedResponse, st.Failure.Kind)
	assert.Equal(t, domain.KindMalformedResponse.Message(), st.Failure.Message)
	assert.NotContains(t, rec.Body.String(), "Sorry, I cannot analyze this.")

	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, base+"/failures", nil, "")
		return rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), "malformed_response")
	}, 2*time.Second, 10*time.Millisecond)

	env.analyzer.set(nil)
	rec = env.do(t, http.MethodPost, base+"/retry", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, uint64(2), decodeState(t, rec).RunID)

	rec = env.do(t, http.MethodGet, base+"/state?wait=2s", nil, "")
	assert.Equal(t, "results", decodeState(t, rec).State)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, base+"/retry", nil, "").Code)
}

func TestRouter_Sessions(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/sessions/not-a-uuid/state", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/sessions/3f8b9c2e-7c1d-4e6a-9a59-1c2d3e4f5a6b/state", nil, "").Code)

	id := env.createSession(t)
	assert.Equal(t, 1, env.sessions.Len())
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/sessions/"+id+"/state?wait=soon", nil, "").Code)

	rec := env.do(t, http.MethodGet, "/v1/sessions/"+id+"/failures", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/v1/sessions/"+id, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/v1/sessions/"+id, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/v1/sessions/"+id+"/reset", nil, "").Code)
}

func TestRouter_Previews(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, storage.PreviewPath+"nope", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, storage.PreviewPath+"3f8b9c2e-7c1d-4e6a-9a59-1c2d3e4f5a6b", nil, "").Code)
}

func TestRouter_Operational(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/live", nil, "")
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/ready", nil, "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil, "").Code)

	rec = env.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "labelscan_")
}

func TestRouter_UploadToEndedSessionLeavesNoPreview(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	ctrl, err := env.sessions.Get(id)
	require.NoError(t, err)
	require.NoError(t, env.sessions.End(id))

	img, err := capture.NewSource(env.previews, 0).FromCapture(context.Background(), pngHeader)
	require.NoError(t, err)
	require.Equal(t, 1, env.previews.Len())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	err = env.router.submit(rec, req, ctrl, img)
	assert.ErrorIs(t, err, appscans.ErrSessionNotFound)
	assert.Equal(t, 0, env.previews.Len(), "the rejected capture's preview is discarded")
}

func TestRouter_SessionCreationIsRateLimited(t *testing.T) {
	env := newTestEnv(t)
	handler := NewRouter(Options{
		Sessions: env.sessions,
		Source:   capture.NewSource(env.previews, 1<<20),
		Limiter:  middleware.NewRateLimiter(2, 0),
	})
	create := func() int {
		req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusCreated, create())
	assert.Equal(t, http.StatusCreated, create())
	assert.Equal(t, http.StatusTooManyRequests, create())
}
