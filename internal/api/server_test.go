package api

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/greenwave.report/internal/analyzer"
	"github.com/banshee-data/greenwave.report/internal/config"
	"github.com/banshee-data/greenwave.report/internal/detect"
	"github.com/banshee-data/greenwave.report/internal/metrics"
	"github.com/banshee-data/greenwave.report/internal/session"
	"github.com/banshee-data/greenwave.report/internal/signalplan"
	"github.com/banshee-data/greenwave.report/internal/testutil"
	"github.com/banshee-data/greenwave.report/internal/timeutil"
	"github.com/banshee-data/greenwave.report/internal/video"
)

type testEnv struct {
	srv        *Server
	mux        *http.ServeMux
	clock      *timeutil.MockClock
	resultsDir string
}

func newTestEnv(t *testing.T, det *detect.StaticDetector, opener video.Opener) *testEnv {
	t.Helper()
	// Noon, so the time-of-day adjustment is zero.
	clock := timeutil.NewMockClock(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	cfg := config.EmptyTuningConfig()
	met := metrics.New()

	sessCfg := session.DefaultConfig()
	sessCfg.StopGrace = 50 * time.Millisecond
	manager := session.NewManager(det, opener, clock, met, nil, sessCfg)
	an := analyzer.New(det, det, opener, met)

	resultsDir := t.TempDir()
	srv := NewServer(det, manager, an, nil, cfg, clock, nil, resultsDir, "ffmpeg")
	return &testEnv{srv: srv, mux: srv.ServeMux(), clock: clock, resultsDir: resultsDir}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := testutil.NewTestRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func vehicleDets(n int) []detect.TrackedDetection {
	dets := make([]detect.TrackedDetection, n)
	for i := range dets {
		dets[i] = detect.TrackedDetection{
			Detection: detect.Detection{
				Class:      2,
				Confidence: 0.9,
				Box:        detect.Box{X1: float64(i * 60), Y1: 10, X2: float64(i*60 + 50), Y2: 50},
			},
			TrackID: int64(i + 1),
		}
	}
	return dets
}

func TestDetectImageMethodAndValidation(t *testing.T) {
	env := newTestEnv(t, detect.NewStaticDetector(), &video.StubOpener{})

	rec := env.do(testutil.NewTestRequest(http.MethodGet, "/api/detect"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)

	rec = env.do(testutil.NewTestRequest(http.MethodPost, "/api/detect"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestDetectImageHappyPath(t *testing.T) {
	// First detector call counts vehicles, second checks emergencies.
	det := detect.NewStaticDetector(vehicleDets(3), nil)
	env := newTestEnv(t, det, &video.StubOpener{})

	body, ct := testutil.MultipartUpload(t, "image", "junction.jpg", testutil.EncodeTestJPEG(t, 64, 64))
	req := httptest.NewRequest(http.MethodPost, "/api/detect", body)
	req.Header.Set("Content-Type", ct)
	rec := env.do(req)

	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var resp imageDetectResponse
	testutil.DecodeJSONBody(t, rec, &resp)

	assert.Equal(t, 3, resp.VehicleCount)
	assert.False(t, resp.EmergencyDetected)
	assert.Equal(t, 16, resp.GreenSeconds) // 10 + 2*3

	require.True(t, strings.HasPrefix(resp.AnnotatedImageRef, "/results/"))
	_, err := os.Stat(filepath.Join(env.resultsDir, filepath.Base(resp.AnnotatedImageRef)))
	assert.NoError(t, err, "annotated artifact written")
}

func TestDetectImageEmergencyBonus(t *testing.T) {
	emergency := []detect.TrackedDetection{
		{Detection: detect.Detection{Class: 80, Confidence: 0.9}},
	}
	det := detect.NewStaticDetector(vehicleDets(2), emergency)
	env := newTestEnv(t, det, &video.StubOpener{})

	body, ct := testutil.MultipartUpload(t, "image", "junction.jpg", testutil.EncodeTestJPEG(t, 64, 64))
	req := httptest.NewRequest(http.MethodPost, "/api/detect", body)
	req.Header.Set("Content-Type", ct)
	rec := env.do(req)

	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var resp imageDetectResponse
	testutil.DecodeJSONBody(t, rec, &resp)

	assert.True(t, resp.EmergencyDetected)
	assert.Equal(t, 24, resp.GreenSeconds) // 10 + 2*2 + 10
}

func TestStreamLifecycle(t *testing.T) {
	src := video.NewStubSource(5.0, testutil.SolidFrame(8, 8, 0, 0, 0))
	opener := &video.StubOpener{Sources: map[string]*video.StubSource{"cam0": src}}
	env := newTestEnv(t, detect.NewStaticDetector(), opener)

	// Unreachable source is a 503, not a doomed session.
	req := httptest.NewRequest(http.MethodPost, "/api/stream/start", strings.NewReader(`{"source": "nope"}`))
	rec := env.do(req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)

	req = httptest.NewRequest(http.MethodPost, "/api/stream/start", strings.NewReader(`{"source": "cam0"}`))
	rec = env.do(req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var started startStreamResponse
	testutil.DecodeJSONBody(t, rec, &started)
	require.NotEmpty(t, started.SessionID)

	rec = env.do(testutil.NewTestRequest(http.MethodGet, "/api/stream/metrics?sessionId="+started.SessionID))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var snap session.Snapshot
	testutil.DecodeJSONBody(t, rec, &snap)
	assert.Equal(t, started.SessionID, snap.SessionID)

	req = httptest.NewRequest(http.MethodPost, "/api/stream/stop", strings.NewReader(`{"sessionId": "`+started.SessionID+`"}`))
	rec = env.do(req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	// Second stop and post-stop metrics both 404.
	req = httptest.NewRequest(http.MethodPost, "/api/stream/stop", strings.NewReader(`{"sessionId": "`+started.SessionID+`"}`))
	rec = env.do(req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	rec = env.do(testutil.NewTestRequest(http.MethodGet, "/api/stream/metrics?sessionId="+started.SessionID))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestStreamValidation(t *testing.T) {
	env := newTestEnv(t, detect.NewStaticDetector(), &video.StubOpener{})

	req := httptest.NewRequest(http.MethodPost, "/api/stream/start", strings.NewReader(`not json`))
	testutil.AssertStatusCode(t, env.do(req).Code, http.StatusBadRequest)

	req = httptest.NewRequest(http.MethodPost, "/api/stream/start", strings.NewReader(`{}`))
	testutil.AssertStatusCode(t, env.do(req).Code, http.StatusBadRequest)

	testutil.AssertStatusCode(t,
		env.do(testutil.NewTestRequest(http.MethodGet, "/api/stream/metrics")).Code,
		http.StatusBadRequest)

	testutil.AssertStatusCode(t,
		env.do(testutil.NewTestRequest(http.MethodGet, "/api/stream/metrics?sessionId=zzz")).Code,
		http.StatusNotFound)
}

func TestAnalyzeVideoUnreadableSourceYieldsZeroDecision(t *testing.T) {
	// The stub opener knows nothing about the spooled upload, so the
	// analyzer reports zeroed metrics; the decision is still computed.
	env := newTestEnv(t, detect.NewStaticDetector(), &video.StubOpener{})

	body, ct := testutil.MultipartUpload(t, "video", "clip.mp4", []byte("fake video bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/video/analyze", body)
	req.Header.Set("Content-Type", ct)
	rec := env.do(req)

	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var resp videoAnalysisResponse
	testutil.DecodeJSONBody(t, rec, &resp)

	assert.Equal(t, 0, resp.VehicleCount)
	assert.Equal(t, 0, resp.DataPoints)
	// 33 + 2*(0-10) at noon, clamped to the lower bound.
	assert.Equal(t, 15, resp.GreenSeconds)
	assert.Empty(t, resp.AnnotatedVideoRef)
}

func TestAnalyzeVideoValidation(t *testing.T) {
	env := newTestEnv(t, detect.NewStaticDetector(), &video.StubOpener{})

	testutil.AssertStatusCode(t,
		env.do(testutil.NewTestRequest(http.MethodGet, "/api/video/analyze")).Code,
		http.StatusMethodNotAllowed)

	testutil.AssertStatusCode(t,
		env.do(testutil.NewTestRequest(http.MethodPost, "/api/video/analyze")).Code,
		http.StatusBadRequest)
}

// multiLaneUpload builds a multipart body with one fake video per field.
func multiLaneUpload(t *testing.T, fields ...string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range fields {
		fw, err := mw.CreateFormFile(f, f+".mp4")
		require.NoError(t, err)
		_, err = fw.Write([]byte("fake video bytes"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func doMultiAnalyze(t *testing.T, env *testEnv, fields ...string) []signalplan.LaneDecision {
	t.Helper()
	body, ct := multiLaneUpload(t, fields...)
	req := httptest.NewRequest(http.MethodPost, "/api/video/analyze-multi", body)
	req.Header.Set("Content-Type", ct)
	rec := env.do(req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var resp struct {
		Lanes []signalplan.LaneDecision `json:"lanes"`
	}
	testutil.DecodeJSONBody(t, rec, &resp)
	return resp.Lanes
}

func TestAnalyzeMultiLegacyLaneAliases(t *testing.T) {
	env := newTestEnv(t, detect.NewStaticDetector(), &video.StubOpener{})

	// lane1..lane4 follow the original numbering: north, south, east,
	// west. All four present means every compass direction appears once
	// in the fairness-ordered response.
	lanes := doMultiAnalyze(t, env, "lane1", "lane2", "lane3", "lane4")
	require.Len(t, lanes, 4)
	wantOrder := []signalplan.Direction{signalplan.North, signalplan.West, signalplan.East, signalplan.South}
	for i, want := range wantOrder {
		assert.Equal(t, want, lanes[i].Direction, "lane %d", i)
	}
}

func TestAnalyzeMultiLegacyLaneTwoIsSouth(t *testing.T) {
	env := newTestEnv(t, detect.NewStaticDetector(), &video.StubOpener{})

	lanes := doMultiAnalyze(t, env, "lane2")
	require.Len(t, lanes, 1)
	assert.Equal(t, signalplan.South, lanes[0].Direction)
}

func TestAnalyzeMultiCompassFieldsOverrideLegacy(t *testing.T) {
	env := newTestEnv(t, detect.NewStaticDetector(), &video.StubOpener{})

	// When any compass field is present the numbered aliases are ignored
	// rather than treated as duplicates.
	lanes := doMultiAnalyze(t, env, "north", "lane1")
	require.Len(t, lanes, 1)
	assert.Equal(t, signalplan.North, lanes[0].Direction)
}

func TestAnalyzeMultiRequiresLanes(t *testing.T) {
	env := newTestEnv(t, detect.NewStaticDetector(), &video.StubOpener{})

	body, ct := testutil.MultipartUpload(t, "unrelated", "x.mp4", []byte("bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/video/analyze-multi", body)
	req.Header.Set("Content-Type", ct)
	rec := env.do(req)

	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestServeResult(t *testing.T) {
	env := newTestEnv(t, detect.NewStaticDetector(), &video.StubOpener{})
	require.NoError(t, os.WriteFile(filepath.Join(env.resultsDir, "art.txt"), []byte("hello world"), 0o644))

	rec := env.do(testutil.NewTestRequest(http.MethodGet, "/results/art.txt"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "hello world", rec.Body.String())

	// Range requests work for video scrubbing.
	req := testutil.NewTestRequest(http.MethodGet, "/results/art.txt")
	req.Header.Set("Range", "bytes=0-4")
	rec = env.do(req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusPartialContent)
	assert.Equal(t, "hello", rec.Body.String())

	// Nested paths and dotfiles are rejected.
	testutil.AssertStatusCode(t,
		env.do(testutil.NewTestRequest(http.MethodGet, "/results/sub/art.txt")).Code,
		http.StatusNotFound)
	testutil.AssertStatusCode(t,
		env.do(testutil.NewTestRequest(http.MethodGet, "/results/.hidden")).Code,
		http.StatusNotFound)
}

func TestReportValidation(t *testing.T) {
	env := newTestEnv(t, detect.NewStaticDetector(), &video.StubOpener{})

	testutil.AssertStatusCode(t,
		env.do(testutil.NewTestRequest(http.MethodGet, "/api/report")).Code,
		http.StatusBadRequest)

	testutil.AssertStatusCode(t,
		env.do(testutil.NewTestRequest(http.MethodGet, "/api/report?sessionId=unknown")).Code,
		http.StatusNotFound)
}
