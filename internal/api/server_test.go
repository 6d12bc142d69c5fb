package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vqd/internal/baseline"
	"vqd/internal/config"
	"vqd/internal/detect"
	"vqd/internal/detect/detectors"
	"vqd/internal/scheduler"
	"vqd/internal/stream"
	"vqd/internal/ws"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.DataDir = dir
	cfg.Storage.ReportDir = filepath.Join(dir, "reports")

	log := zerolog.Nop()

	registry := detect.NewRegistry()
	require.NoError(t, detectors.RegisterAll(registry))

	baselines, err := baseline.NewStore(dir, log)
	require.NoError(t, err)

	hub := ws.NewHub(log)
	streams := stream.NewService(nil, nil, nil, log)
	t.Cleanup(streams.StopAll)

	store, err := scheduler.NewStore(dir)
	require.NoError(t, err)
	sched, err := scheduler.NewService(store, registry, cfg.Storage.ReportDir, log)
	require.NoError(t, err)

	return NewServer(cfg, registry, streams, sched, baselines, hub, log).Router()
}

func doRequest(t *testing.T, h http.Handler, method, path string, body *bytes.Buffer, contentType string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestHealthz(t *testing.T) {
	h := testRouter(t)
	rec, env := doRequest(t, h, http.MethodGet, "/healthz", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, codeOK, env.Code)
	assert.Equal(t, "success", env.Message)
}

func TestListDetectors(t *testing.T) {
	h := testRouter(t)
	rec, env := doRequest(t, h, http.MethodGet, "/api/v1/detectors", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	metas, ok := env.Data.([]any)
	require.True(t, ok)
	assert.Len(t, metas, 8)
}

func TestDiagnoseRequiresImage(t *testing.T) {
	h := testRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("level", "fast"))
	require.NoError(t, mw.Close())

	rec, env := doRequest(t, h, http.MethodPost, "/api/v1/diagnose", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeInvalidParam, env.Code)
}

func TestVideoAnalyzeValidation(t *testing.T) {
	h := testRouter(t)

	rec, env := doRequest(t, h, http.MethodPost, "/api/v1/video/analyze",
		bytes.NewBufferString(`{"path":""}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeInvalidParam, env.Code)

	rec, env = doRequest(t, h, http.MethodPost, "/api/v1/video/analyze",
		bytes.NewBufferString(`{"path":"/nonexistent/clip.mp4"}`), "application/json")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeNotFound, env.Code)

	rec, _ = doRequest(t, h, http.MethodPost, "/api/v1/video/analyze",
		bytes.NewBufferString(`{"path":"/tmp/file.xyz"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamNotFound(t *testing.T) {
	h := testRouter(t)
	rec, env := doRequest(t, h, http.MethodGet, "/api/v1/streams/ghost", nil, "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeNotFound, env.Code)
}

func TestStreamCreateRejectsBadScheme(t *testing.T) {
	h := testRouter(t)
	rec, env := doRequest(t, h, http.MethodPost, "/api/v1/streams/",
		bytes.NewBufferString(`{"url":"http://not-a-stream"}`), "application/json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeInvalidParam, env.Code)
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	h := testRouter(t)

	body := `{"name":"nightly","kind":"batch","cron":"0 3 * * *","config":{"input_path":"/data/frames"}}`
	rec, env := doRequest(t, h, http.MethodPost, "/api/v1/tasks/", bytes.NewBufferString(body), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code)

	task, ok := env.Data.(map[string]any)
	require.True(t, ok)
	id, _ := task["id"].(string)
	require.NotEmpty(t, id)

	rec, _ = doRequest(t, h, http.MethodGet, "/api/v1/tasks/"+id, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doRequest(t, h, http.MethodPost, "/api/v1/tasks/"+id+"/enable", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doRequest(t, h, http.MethodDelete, "/api/v1/tasks/"+id, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = doRequest(t, h, http.MethodGet, "/api/v1/tasks/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeNotFound, env.Code)
}

func TestReportsEmptyAndTraversalGuard(t *testing.T) {
	h := testRouter(t)

	rec, env := doRequest(t, h, http.MethodGet, "/api/v1/reports", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, codeOK, env.Code)

	rec, _ = doRequest(t, h, http.MethodGet, "/api/v1/reports/missing.json", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBaselineNotFound(t *testing.T) {
	h := testRouter(t)
	rec, env := doRequest(t, h, http.MethodGet, "/api/v1/baselines/ghost", nil, "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeNotFound, env.Code)
}
