package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smahud/traffic-buster/internal/audit"
	"github.com/smahud/traffic-buster/internal/automation"
	"github.com/smahud/traffic-buster/internal/dataset"
	"github.com/smahud/traffic-buster/internal/events"
	"github.com/smahud/traffic-buster/internal/history"
	"github.com/smahud/traffic-buster/internal/job"
	"github.com/smahud/traffic-buster/internal/license"
	"github.com/smahud/traffic-buster/internal/proxytest"
	"github.com/smahud/traffic-buster/internal/ratelimit"
	"github.com/smahud/traffic-buster/internal/schedule"
	"github.com/smahud/traffic-buster/pkg/models"
)

type testEnv struct {
	router   *mux.Router
	recorder *history.FileRecorder
	datasets *dataset.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := dataset.NewStore(filepath.Join(dir, "users"))
	require.NoError(t, err)
	rec, err := history.NewFileRecorder(filepath.Join(dir, "history.json"))
	require.NoError(t, err)
	trail, err := audit.NewTrail(filepath.Join(dir, "users"))
	require.NoError(t, err)
	hub := events.NewHub()
	t.Cleanup(hub.Close)

	jobs := job.NewManager(job.ManagerConfig{
		Deps: job.Deps{
			Datasets: store,
			Recorder: rec,
			Sink:     hub,
			Runner:   &automation.Simulator{SpeedFactor: 0.001},
		},
		DrainWindow:   10 * time.Millisecond,
		GraceInterval: 10 * time.Millisecond,
	})
	scheds, err := schedule.NewScheduler(filepath.Join(dir, "users"), func(string, license.License, models.DatasetRefs) {})
	require.NoError(t, err)

	h := NewHandler(HandlerConfig{
		Jobs:      jobs,
		Datasets:  store,
		Histories: rec,
		Schedules: scheds,
		Hub:       hub,
		Tester:    proxytest.NewTester(),
		Trail:     trail,
	})
	return &testEnv{
		router:   h.SetupRoutes(ratelimit.NewLimiter(6000, 100)),
		recorder: rec,
		datasets: store,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-License", "Premium")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func seedDatasets(t *testing.T, e *testEnv) {
	w := e.do(t, "PUT", "/v1/datasets/targets/main",
		[]map[string]any{{"url": "https://a.example", "flowTarget": 1}}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, "PUT", "/v1/datasets/settings/default",
		map[string]any{"instanceCount": 1, "sessionDuration": map[string]int{"min": 1, "max": 1}}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRequiresUserHeader(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest("GET", "/v1/jobs", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	seedDatasets(t, e)

	w := e.do(t, "POST", "/v1/jobs",
		map[string]string{"targetSet": "main", "settingsProfile": "default"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var snap models.JobSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.NotEmpty(t, snap.JobID)
	assert.EqualValues(t, 1, snap.Stats.TotalFlows)

	require.Eventually(t, func() bool {
		entry, err := e.recorder.Get(snap.HistoryID)
		return err == nil && entry.Status == "completed"
	}, 2*time.Second, 5*time.Millisecond)

	w = e.do(t, "GET", "/v1/history", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []models.HistoryEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, snap.JobID, entries[0].JobID)
}

func TestCreateJobMissingDataset(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "POST", "/v1/jobs",
		map[string]string{"targetSet": "ghost", "settingsProfile": "default"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "DATASET_NOT_FOUND")
}

func TestCreateJobRejectsBadBody(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "POST", "/v1/jobs", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFreeLicenseCannotSchedule(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "POST", "/v1/schedules",
		map[string]any{"occurrence": "Daily", "nextRun": time.Now().Add(time.Hour)},
		map[string]string{"X-License": "Free"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "LICENSE_FEATURE_DISABLED")
}

func TestScheduleCRUDOverHTTP(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "POST", "/v1/schedules", map[string]any{
		"occurrence": "Weekly",
		"name":       "weekly-run",
		"nextRun":    time.Now().Add(time.Hour),
		"jobPayload": map[string]string{"targetSet": "main", "settingsProfile": "default"},
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.ScheduledJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "Premium", created.License)

	w = e.do(t, "GET", "/v1/schedules", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.ScheduledJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)

	w = e.do(t, "DELETE", "/v1/schedules/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, "DELETE", "/v1/schedules/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDatasetRoundTripOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	seedDatasets(t, e)

	w := e.do(t, "GET", "/v1/datasets/targets", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sets []dataset.SetInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sets))
	require.Len(t, sets, 1)
	assert.Equal(t, "main", sets[0].Name)

	w = e.do(t, "GET", "/v1/datasets/targets/main", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, "DELETE", "/v1/datasets/targets/main", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, "GET", "/v1/datasets/targets/main", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnknownDatasetKind(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "GET", "/v1/datasets/widgets", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChunkedUploadOverHTTP(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "POST", "/v1/datasets/targets/big/uploads", nil, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var begin map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &begin))
	uploadID := begin["uploadId"]
	require.NotEmpty(t, uploadID)

	payload := `[{"url":"https://a.example","flowTarget":2}]`
	half := len(payload) / 2

	req := httptest.NewRequest("PUT", "/v1/uploads/"+uploadID+"/chunks/0", bytes.NewBufferString(payload[:half]))
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest("PUT", "/v1/uploads/"+uploadID+"/chunks/1", bytes.NewBufferString(payload[half:]))
	req.Header.Set("X-User-ID", "u1")
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	w = e.do(t, "POST", "/v1/uploads/"+uploadID+"/finalize", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"items":1`)
}

func TestRateLimitHeadersPresent(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "GET", "/v1/jobs", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	// The advertised limit comes from the limiter itself.
	assert.Equal(t, "6000", w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimitKicksIn(t *testing.T) {
	e := newTestEnv(t)
	e.router = NewHandler(HandlerConfig{}).SetupRoutes(ratelimit.NewLimiter(60, 1))

	first := e.do(t, "GET", "/v1/license", nil, nil)
	_ = first
	second := e.do(t, "GET", "/v1/license", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestLicenseEndpoint(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "GET", "/v1/license", nil, map[string]string{"X-License": "free"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"license":"Free"`)
}
