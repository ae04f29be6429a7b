package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurosync-backend/internal/aggregator"
	"neurosync-backend/internal/ml"
	"neurosync-backend/internal/models"
	"neurosync-backend/internal/pipeline"
	"neurosync-backend/internal/ppg"
	"neurosync-backend/internal/services"
)

type fakeHistory struct {
	insights []models.Insight
	err      error
	limit    int
}

func (f *fakeHistory) GetRecentInsights(deviceID string, limit int) ([]models.Insight, error) {
	f.limit = limit
	return f.insights, f.err
}

type testEnv struct {
	agg      *aggregator.StreamAggregator
	insights *services.InsightService
	router   *gin.Engine
	dir      string
}

func newTestEnv(t *testing.T, history HistoryStore) *testEnv {
	t.Helper()
	return newTestEnvWithClassifier(t, history, ml.NewHeuristicModel())
}

func newTestEnvWithClassifier(t *testing.T, history HistoryStore, classifier ml.Classifier) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := pipeline.DefaultConfig()
	agg := aggregator.NewStreamAggregator(aggregator.StreamConfig{
		EEGChannels:   cfg.Channels,
		EEGSampleRate: cfg.SampleRate,
		EEGCapacity:   256 * 60,
		PPGSampleRate: 64,
		PPGCapacity:   64 * 60,
	})
	pipe, err := pipeline.New(cfg)
	require.NoError(t, err)
	analyzer := services.NewAnalyzer(agg, pipe, classifier, ppg.NewExtractor(ppg.DefaultConfig()))
	insights := services.NewInsightService(analyzer, nil, services.InsightServiceConfig{
		IntervalSeconds: 1,
		WindowSeconds:   10,
		ChannelSize:     50,
	})

	dir := t.TempDir()
	server := NewServer(analyzer, agg, insights, history, ServerConfig{
		CORSOrigins: []string{"http://localhost:3000"},
		SnapshotDir: dir,
	})
	return &testEnv{agg: agg, insights: insights, router: server.SetupRoutes(), dir: dir}
}

func (e *testEnv) streamPPG(t *testing.T, deviceID string, bpm, seconds float64) {
	t.Helper()
	n := int(seconds * 64)
	frames := make([][]float64, n)
	for i := range frames {
		frames[i] = []float64{100 + 5*math.Sin(2*math.Pi*(bpm/60)*float64(i)/64)}
	}
	require.NoError(t, e.agg.Append(&models.SampleBatch{
		DeviceID:  deviceID,
		Kind:      models.StreamPPG,
		Timestamp: time.Now(),
		Frames:    frames,
	}))
}

func (e *testEnv) stream(t *testing.T, deviceID string, seconds float64) {
	t.Helper()
	n := int(seconds * 256)
	frames := make([][]float64, n)
	for i := range frames {
		v := 20 * math.Sin(2*math.Pi*10*float64(i)/256)
		frames[i] = []float64{v, 0.5 * v, -v, 0.2 * v}
	}
	require.NoError(t, e.agg.Append(&models.SampleBatch{
		DeviceID:  deviceID,
		Kind:      models.StreamEEG,
		Timestamp: time.Now(),
		Frames:    frames,
	}))
}

func (e *testEnv) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Streaming)

	env.stream(t, "muse-01", 1)
	w = env.do(http.MethodGet, "/health")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Streaming)
	assert.Equal(t, []string{"muse-01"}, body.Devices)
}

func TestInsightsNotStreaming(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/student/insights")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = env.do(http.MethodGet, "/student/insights?device_id=ghost")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestInsightsWindowValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.stream(t, "muse-01", 10)

	for _, q := range []string{"1", "61", "abc", "NaN", "nan", "Inf", "-Inf"} {
		w := env.do(http.MethodGet, "/student/insights?window_seconds="+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)

		w = env.do(http.MethodGet, "/student/features?window_seconds="+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestInsightsSchemaMismatch(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	var columns []string
	for _, channel := range cfg.Channels {
		for _, band := range pipeline.DefaultBands {
			columns = append(columns, channel+"_"+band.Name)
		}
	}
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, ml.CreateSampleModel(path, columns))
	predictor, err := ml.NewPredictor(path)
	require.NoError(t, err)

	env := newTestEnvWithClassifier(t, nil, predictor)
	env.stream(t, "muse-01", 10)

	w := env.do(http.MethodGet, "/student/insights")
	require.Equal(t, http.StatusOK, w.Code)

	env.streamPPG(t, "muse-01", 72, 10)
	w = env.do(http.MethodGet, "/student/insights")
	assert.Equal(t, http.StatusConflict, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Details, "feature schema mismatch")
}

func TestInstructorSummary(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/instructor/summary")
	require.Equal(t, http.StatusOK, w.Code)
	var body SummaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Zero(t, body.StudentsTotal)
	assert.Zero(t, body.StudentsReporting)

	env.stream(t, "muse-01", 10)
	env.stream(t, "muse-02", 1)
	env.insights.RegisterDevice("muse-01")
	env.insights.RegisterDevice("muse-02")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.insights.Start(ctx)

	require.Eventually(t, func() bool {
		return len(env.insights.LatestAll()) == 2
	}, 3*time.Second, 20*time.Millisecond)

	w = env.do(http.MethodGet, "/instructor/summary")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	latest, ok := env.insights.Latest("muse-01")
	require.True(t, ok)
	assert.Equal(t, 2, body.StudentsTotal)
	assert.Equal(t, 1, body.StudentsReporting)
	assert.InDelta(t, latest.Probabilities["focus"], body.AvgFocus, 1e-9)
	assert.InDelta(t, latest.Probabilities["calm"], body.AvgCalm, 1e-9)
	assert.Zero(t, body.AvgStress)
	assert.Zero(t, body.StudentsHighStress)
}

func TestInsightsDefaultDevice(t *testing.T) {
	env := newTestEnv(t, nil)
	env.stream(t, "muse-01", 10)

	w := env.do(http.MethodGet, "/student/insights")
	require.Equal(t, http.StatusOK, w.Code)

	var insight models.Insight
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &insight))
	assert.Equal(t, "muse-01", insight.DeviceID)
	assert.Equal(t, 9, insight.Epochs)
	assert.False(t, insight.Insufficient)
	assert.Len(t, insight.Probabilities, len(ml.States))
}

func TestInsightsInsufficientData(t *testing.T) {
	env := newTestEnv(t, nil)
	env.stream(t, "muse-01", 1)

	w := env.do(http.MethodGet, "/student/insights?device_id=muse-01&window_seconds=5")
	require.Equal(t, http.StatusOK, w.Code)

	var insight models.Insight
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &insight))
	assert.True(t, insight.Insufficient)
	assert.Equal(t, "neutral", insight.PrimaryState)
}

func TestFeatures(t *testing.T) {
	env := newTestEnv(t, nil)
	env.stream(t, "muse-01", 4)

	w := env.do(http.MethodGet, "/student/features?window_seconds=4")
	require.Equal(t, http.StatusOK, w.Code)

	var body FeaturesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1024, body.Samples)
	assert.Len(t, body.Columns, 4*len(pipeline.DefaultBands))
	assert.Equal(t, "TP9_delta", body.Columns[0])
	assert.Equal(t, []float64{0, 1, 2}, body.EpochStarts)
	assert.Len(t, body.Rows, 3)
	assert.True(t, body.Stages.Bandpassed)
	assert.Nil(t, body.PPG)
}

func TestHistory(t *testing.T) {
	history := &fakeHistory{insights: []models.Insight{{ID: "a", DeviceID: "muse-01"}, {ID: "b", DeviceID: "muse-01"}}}
	env := newTestEnv(t, history)
	env.stream(t, "muse-01", 1)

	w := env.do(http.MethodGet, "/student/history")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultHistoryLimit, history.limit)

	var body HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "a", body.Insights[0].ID)

	w = env.do(http.MethodGet, "/student/history?limit=0")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(http.MethodGet, "/student/history?limit=501")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	history.err = errors.New("connection refused")
	w = env.do(http.MethodGet, "/student/history?limit=5")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHistoryWithoutStore(t *testing.T) {
	env := newTestEnv(t, nil)
	env.stream(t, "muse-01", 1)

	w := env.do(http.MethodGet, "/student/history?device_id=muse-01")
	require.Equal(t, http.StatusOK, w.Code)

	var body HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Zero(t, body.Count)
	assert.NotNil(t, body.Insights)
}

func TestSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/recordings/snapshot")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	env.stream(t, "muse-01", 3)

	for _, q := range []string{"0", "NaN", "Inf", "301"} {
		w = env.do(http.MethodPost, "/recordings/snapshot?seconds="+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}

	w = env.do(http.MethodPost, "/recordings/snapshot?seconds=2")
	require.Equal(t, http.StatusOK, w.Code)

	var body SnapshotResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "muse-01", body.DeviceID)
	assert.Equal(t, 2, body.Records)

	info, err := os.Stat(body.Path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestCORSConfig(t *testing.T) {
	assert.True(t, corsConfig(nil).AllowAllOrigins)
	assert.True(t, corsConfig([]string{"*"}).AllowAllOrigins)

	config := corsConfig([]string{"https://app.example.com"})
	assert.False(t, config.AllowAllOrigins)
	assert.Equal(t, []string{"https://app.example.com"}, config.AllowOrigins)
}
