package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sensor-fdd/internal/analytics"
	"sensor-fdd/internal/artifacts"
	"sensor-fdd/internal/cache"
	"sensor-fdd/internal/models"
	"sensor-fdd/internal/sfdd"
	"sensor-fdd/internal/structure"
)

const twoSubsystems = `
components:
  - {name: x, type: subsystem}
  - {name: y, type: subsystem}
  - {name: a, type: sensor, parents: [x]}
  - {name: b, type: sensor, parents: [x]}
  - {name: c, type: sensor, parents: [y]}
  - {name: d, type: sensor, parents: [y]}
`

// a и b коррелируют в первой половине и застревают во второй
var faultyRows = [][]float64{
	{1, 2, 5, 3},
	{2, 4, 1, 1},
	{3, 6, 4, 2},
	{4, 8.1, 2, 5},
	{4, 8, 1, 2},
	{4, 8, 3, 6},
	{4, 8, 2, 1},
	{4, 8, 5, 4},
}

type testServer struct {
	handler  http.Handler
	history  *cache.RedisCache
	dir      string
	analyzer *analytics.Analyzer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	model, err := structure.Load(strings.NewReader(twoSubsystems))
	require.NoError(t, err)
	engine, err := sfdd.New(model.Sensors(), model, 0.8, 2, logger)
	require.NoError(t, err)

	analyzer := analytics.NewAnalyzer(engine, sfdd.ModeStateful, len(faultyRows), -1, logger)
	analyzer.Start(1)
	t.Cleanup(analyzer.Stop)

	dir := t.TempDir()
	store, err := artifacts.NewFileStore(dir)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	history, err := cache.NewRedisCache(context.Background(), mr.Addr(), "", 0, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	h := NewHandler(engine, analyzer, store, history, logger)
	return &testServer{handler: h.Routes(), history: history, dir: dir, analyzer: analyzer}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func faultyWindow() models.Window {
	ts := make([]float64, len(faultyRows))
	for i := range ts {
		ts[i] = float64(i)
	}
	return models.Window{Timestamps: ts, Values: faultyRows}
}

// trainingRequest: d всегда равен 3a, a застревает в строках 10..16
func trainingRequest() models.LearnRequest {
	const n = 30
	req := models.LearnRequest{WindowSize: 5}
	for i := 0; i < n; i++ {
		a := float64((i * 3) % 7)
		if i >= 10 && i <= 16 {
			a = 4
		}
		req.Timestamps = append(req.Timestamps, float64(i))
		req.Values = append(req.Values, []float64{
			a,
			2*a + 0.1*float64(i%3),
			float64((i * 5) % 11),
			3 * a,
		})
	}
	return req
}

func TestMonitorBasic(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/monitor/basic", faultyWindow())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []interface{}{"a", "b"}, decode(t, rec)["faulty_sensors"])
}

func TestMonitorStatefulReportsHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/monitor/stateful", faultyWindow())
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, []interface{}{"a", "b"}, body["faulty_sensors"])
	assert.Equal(t, false, body["health"].(map[string]interface{})["a"])

	rec = s.do(t, http.MethodPost, "/monitor/stateful", faultyWindow())
	assert.Equal(t, []interface{}{}, decode(t, rec)["faulty_sensors"])
}

func TestMonitorErrors(t *testing.T) {
	s := newTestServer(t)
	short := faultyWindow()
	short.Timestamps = short.Timestamps[:7]
	corrWindow := 7

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{"unknown mode", "/monitor/fancy", faultyWindow(), http.StatusBadRequest},
		{"malformed json", "/monitor/basic", "{", http.StatusBadRequest},
		{"timestamp mismatch", "/monitor/basic", short, http.StatusBadRequest},
		{"wrong columns", "/monitor/basic", models.Window{Timestamps: []float64{0, 1}, Values: [][]float64{{1, 2}, {3, 4}}}, http.StatusBadRequest},
		{"empty window", "/monitor/basic", models.Window{}, http.StatusBadRequest},
		{"correlation window too large", "/monitor/basic", models.Window{Timestamps: faultyWindow().Timestamps, Values: faultyRows, CorrWindow: &corrWindow}, http.StatusBadRequest},
		{"not learned", "/monitor/extended", faultyWindow(), http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, decode(t, rec), "error")
		})
	}
}

func TestLearnPersistsArtifacts(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/learn", trainingRequest())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Contains(t, body["correlations"].(map[string]interface{})["a"], "d")

	_, err := os.Stat(filepath.Join(s.dir, artifacts.CorrelationsFile))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(s.dir, artifacts.PatternsFile))
	assert.NoError(t, err)

	req := trainingRequest()
	window := models.Window{Timestamps: req.Timestamps[8:13], Values: req.Values[8:13]}
	rec = s.do(t, http.MethodPost, "/monitor/extended", window)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []interface{}{}, decode(t, rec)["faulty_sensors"])

	rec = s.do(t, http.MethodGet, "/sensors", nil)
	assert.Equal(t, true, decode(t, rec)["learned"])
}

func TestLearnValidation(t *testing.T) {
	s := newTestServer(t)

	req := trainingRequest()
	req.WindowSize = 1
	rec := s.do(t, http.MethodPost, "/learn", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/learn", models.LearnRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRejectedLearnLeavesEngineUntrained(t *testing.T) {
	s := newTestServer(t)

	req := trainingRequest()
	req.WindowSize = 1
	rec := s.do(t, http.MethodPost, "/learn", req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, false, decode(t, rec)["learned"])

	window := models.Window{Timestamps: req.Timestamps[10:15], Values: req.Values[10:15]}
	rec = s.do(t, http.MethodPost, "/monitor/extended", window)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	_, err := os.Stat(filepath.Join(s.dir, artifacts.CorrelationsFile))
	assert.True(t, os.IsNotExist(err))
}

func TestSubmitSample(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/samples", models.Sample{PlatformID: "robot-1", Timestamp: 0, Values: faultyRows[0]})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/samples", models.Sample{PlatformID: "robot-1", Values: []float64{1}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/samples", models.Sample{Values: faultyRows[0]})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/samples", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBatchSubmitFeedsAnalyzer(t *testing.T) {
	s := newTestServer(t)

	batch := make([]models.Sample, 0, len(faultyRows)+1)
	for i, row := range faultyRows {
		batch = append(batch, models.Sample{PlatformID: "robot-1", Timestamp: float64(i), Values: row})
	}
	batch = append(batch, models.Sample{Values: faultyRows[0]})

	rec := s.do(t, http.MethodPost, "/samples/batch", batch)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(len(faultyRows)+1), body["total"])
	assert.Equal(t, float64(len(faultyRows)), body["accepted"])

	select {
	case report := <-s.analyzer.GetResultsChan():
		assert.Equal(t, []string{"a", "b"}, report.FaultySensors)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the analyzer")
	}

	rec = s.do(t, http.MethodGet, "/platforms/robot-1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["health"].(map[string]interface{})["a"])

	rec = s.do(t, http.MethodGet, "/platforms/robot-9/health", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetFaults(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.history.StoreFaultReport(ctx, models.FaultReport{
			ID:            fmt.Sprintf("r%d", i),
			PlatformID:    "robot-1",
			Mode:          "basic",
			FaultySensors: []string{"a"},
			DetectedAt:    time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	rec := s.do(t, http.MethodGet, "/faults?platform_id=robot-1&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["fault_count"])
	assert.Equal(t, float64(3), body["sensor_count"].(map[string]interface{})["a"])

	rec = s.do(t, http.MethodGet, "/faults", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/faults?platform_id=robot-1&limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSensors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/sensors", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sensors    []sensorInfo `json:"sensors"`
		Components []string     `json:"components"`
		Patterns   []string     `json:"patterns"`
		Learned    bool         `json:"learned"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sensors, 4)
	assert.Equal(t, sensorInfo{Name: "a", Parents: []string{"x"}, Independent: []string{"c", "d"}}, body.Sensors[0])
	assert.Equal(t, []string{"x", "y", "a", "b", "c", "d"}, body.Components)
	assert.Equal(t, []string{"stuck_at", "drift"}, body.Patterns)
	assert.False(t, body.Learned)
}

func TestHealthStatsAndPrometheus(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	rec = s.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body, "analyzer")
	assert.Contains(t, body, "redis")

	s.do(t, http.MethodPost, "/monitor/basic", faultyWindow())
	rec = s.do(t, http.MethodGet, "/prometheus", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sfdd_windows_evaluated_total{mode="basic"}`)
	assert.Contains(t, rec.Body.String(), `endpoint="/monitor/{mode}"`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(&models.ConfigurationError{Message: "x"}))
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("wrapped: %w", &models.InsufficientDataError{})))
	assert.Equal(t, http.StatusBadRequest, statusFor(&models.DimensionMismatchError{}))
	assert.Equal(t, http.StatusConflict, statusFor(sfdd.ErrNotLearned))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(analytics.ErrQueueFull))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
