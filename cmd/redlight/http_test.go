package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redlight/internal/auth"
	"redlight/internal/config"
	"redlight/internal/database"
	"redlight/internal/pipeline"
	"redlight/internal/pipeline/detectors"
)

type fixedStatus struct{ event pipeline.StatusEvent }

func (f fixedStatus) Status() pipeline.StatusEvent { return f.event }

type apiHarness struct {
	handler   http.Handler
	processor *pipeline.Processor
	db        *database.Database
}

func newAPIHarness(t *testing.T, password string) *apiHarness {
	log := logs.NewTestingLog(t)

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	processor := pipeline.NewProcessor(pipeline.DefaultSettings(), pipeline.Collaborators{}, nil, log)
	tuning := newTuningStore(config.EmptyTuningConfig(), db, log)
	tuning.processor = processor

	authenticator, err := auth.NewAuthenticator(auth.Options{Enabled: password != "", Password: password, Secret: "test"})
	require.NoError(t, err)

	api := &apiServer{
		processor: processor,
		status:    fixedStatus{event: pipeline.StatusEvent{SourceID: "cam1", Status: pipeline.StatusRunning}},
		tuning:    tuning,
		auth:      authenticator,
		log:       log,
	}
	return &apiHarness{handler: newHandler(api, false), processor: processor, db: db}
}

func (h *apiHarness) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (h *apiHarness) login(t *testing.T, password string) string {
	rec := h.do(t, "POST", "/api/auth/login", `{"username":"admin","password":"`+password+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token, _ := decode(t, rec)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestHealth(t *testing.T) {
	h := newAPIHarness(t, "")
	rec := h.do(t, "GET", "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "running", body["pipeline"].(map[string]any)["status"])
}

type downDetector struct{ name string }

func (d downDetector) Name() string    { return d.name }
func (d downDetector) IsHealthy() bool { return false }
func (d downDetector) Close() error    { return nil }
func (d downDetector) Detect(ctx context.Context, frame *pipeline.FrameData) ([]pipeline.Detection, error) {
	return nil, errors.New("down")
}

func TestHealthReportsDetectorBackends(t *testing.T) {
	registry := detectors.NewRegistry()
	require.NoError(t, registry.Register(downDetector{name: "grpc"}))

	api := &apiServer{registry: registry, log: logs.NewTestingLog(t)}
	rec := httptest.NewRecorder()
	newHandler(api, false).ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, []any{map[string]any{"name": "grpc", "healthy": false, "active": false}}, body["detectors"])
}

func TestLogin(t *testing.T) {
	h := newAPIHarness(t, "pw")
	h.login(t, "pw")

	rec := h.do(t, "POST", "/api/auth/login", `{"username":"admin","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid credentials", decode(t, rec)["error"])

	rec = h.do(t, "POST", "/api/auth/login", `not json`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginWhenAuthDisabled(t *testing.T) {
	h := newAPIHarness(t, "")
	rec := h.do(t, "POST", "/api/auth/login", `{"username":"admin","password":"x"}`, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutConfig(t *testing.T) {
	h := newAPIHarness(t, "pw")

	rec := h.do(t, "PUT", "/api/config", `{"movement_threshold": 2.5}`, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token := h.login(t, "pw")
	rec = h.do(t, "PUT", "/api/config", `{"movement_threshold": 2.5}`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2.5, decode(t, rec)["effective"].(map[string]any)["movement_threshold"])

	assert.Equal(t, float32(2.5), h.processor.Settings().Track.MovementThreshold)

	stored, err := h.db.LoadTuningOverride()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 2.5, stored.GetMovementThreshold())

	// A second patch keeps the first
	rec = h.do(t, "PUT", "/api/config", `{"light_policy": "sticky"}`, token)
	require.Equal(t, http.StatusOK, rec.Code)
	settings := h.processor.Settings()
	assert.Equal(t, "sticky", settings.LightPolicy)
	assert.Equal(t, float32(2.5), settings.Track.MovementThreshold)

	rec = h.do(t, "GET", "/api/config", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	override := decode(t, rec)["override"].(map[string]any)
	assert.Equal(t, "sticky", override["light_policy"])
	assert.Equal(t, 2.5, override["movement_threshold"])
}

func TestPutConfigRejectsInvalid(t *testing.T) {
	h := newAPIHarness(t, "")
	before := h.processor.Settings()

	rec := h.do(t, "PUT", "/api/config", `{"movement_window": 0}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "movement_window")
	assert.Equal(t, before, h.processor.Settings())

	rec = h.do(t, "PUT", "/api/config", `{"movement_window": "four"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsAndTracksBeforeFirstFrame(t *testing.T) {
	h := newAPIHarness(t, "")

	rec := h.do(t, "GET", "/api/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unknown", decode(t, rec)["light"].(map[string]any)["color"])

	rec = h.do(t, "GET", "/api/tracks", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, []any{}, body["tracks"])
	assert.Equal(t, []any{}, body["violating_ids"])
}

func TestReset(t *testing.T) {
	h := newAPIHarness(t, "")
	rec := h.do(t, "POST", "/api/reset", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, h.processor.LastResult())
}

func TestDetectionToggle(t *testing.T) {
	h := newAPIHarness(t, "pw")

	rec := h.do(t, "GET", "/api/detection", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["enabled"])

	rec = h.do(t, "PUT", "/api/detection", `{"enabled":false}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, h.processor.DetectionEnabled())

	token := h.login(t, "pw")
	rec = h.do(t, "PUT", "/api/detection", `{"enabled":false}`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, decode(t, rec)["enabled"])
	assert.False(t, h.processor.DetectionEnabled())

	rec = h.do(t, "PUT", "/api/detection", `{}`, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, h.processor.DetectionEnabled())
}

func TestUnknownRoute(t *testing.T) {
	h := newAPIHarness(t, "")
	rec := h.do(t, "GET", "/api/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
