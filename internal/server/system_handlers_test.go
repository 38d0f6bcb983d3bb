package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/di"
	"github.com/aristath/frontier/internal/modules/optimization"
	"github.com/aristath/frontier/internal/modules/universe"
	"github.com/aristath/frontier/internal/scheduler"
	testingpkg "github.com/aristath/frontier/internal/testing"
)

type stubJob struct {
	name string
	err  error
	runs int
}

func (j *stubJob) Name() string { return j.name }

func (j *stubJob) Run() error {
	j.runs++
	return j.err
}

// newTestContainer wires the real services over a temp database, without a
// market data provider
func newTestContainer(t *testing.T) *di.Container {
	t.Helper()
	log := zerolog.Nop()

	db := testingpkg.NewTestDB(t, "history")

	u, err := universe.NewUniverse(universe.DefaultInstruments())
	require.NoError(t, err)

	history := universe.NewHistoryDB(db.Conn(), log)
	validator := universe.NewPriceValidator(log)
	repo := universe.NewPriceRepository(u, history, nil, validator, log)
	optimizer := optimization.NewMVOptimizer(optimization.DefaultSettings(), log)
	frontier := optimization.NewFrontierGenerator(optimizer, optimization.NewWorkerPool(2), log)

	service := optimization.NewService(repo, u, frontier, optimization.ServiceConfig{
		Risk:     optimization.DefaultRiskParams(),
		Frontier: optimization.DefaultFrontierOptions(),
	}, log)
	syncService := universe.NewPriceSyncService(nil, u, history, validator, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), log)

	return &di.Container{
		HistoryDB:         db,
		Universe:          u,
		HistoryStore:      history,
		PriceValidator:    validator,
		PriceRepository:   repo,
		PriceSyncService:  syncService,
		MVOptimizer:       optimizer,
		FrontierGenerator: frontier,
		OptimizerService:  service,
		Scheduler:         scheduler.New(log),
	}
}

func newTestServer(t *testing.T, jobs ...scheduler.Job) *Server {
	t.Helper()
	container := newTestContainer(t)
	s := New(Config{
		Log:       zerolog.Nop(),
		Config:    &config.Config{Port: 5000, DevMode: true},
		Container: container,
	})
	s.systemHandlers.SetJobs(jobs...)
	return s
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHandleHealth(t *testing.T) {
	w := serve(newTestServer(t), http.MethodGet, "/health")

	require.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response["status"])
	assert.Equal(t, "frontier", response["service"])
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestHandleSystemStatus(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.container.HistoryStore.RecordSyncRun(context.Background(), universe.SyncRun{
		Symbol:     "TCS",
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
		Rows:       12,
	}))
	require.NoError(t, s.container.Scheduler.AddJob("@hourly", &stubJob{name: "noop"}))

	w := serve(s, http.MethodGet, "/api/system/status")
	require.Equal(t, http.StatusOK, w.Code)

	var response SystemStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response.Status)
	assert.Equal(t, 5, response.Instruments)
	assert.Equal(t, 1, response.ScheduledJobs)
	assert.GreaterOrEqual(t, response.UptimeSeconds, int64(0))
	assert.Greater(t, response.HistoryDBSizeMB, 0.0)
	require.NotNil(t, response.LastSync)
	assert.Equal(t, "TCS", response.LastSync.Symbol)
	assert.Equal(t, 12, response.LastSync.Rows)
}

func TestHandleSystemStatus_ClosedDatabase(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.container.HistoryDB.Close())

	w := serve(s, http.MethodGet, "/api/system/status")
	require.Equal(t, http.StatusOK, w.Code)

	var response SystemStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "degraded", response.Status)
	assert.Nil(t, response.LastSync)
}

func TestHandleDatabaseStats(t *testing.T) {
	w := serve(newTestServer(t), http.MethodGet, "/api/system/database/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var response DatabaseStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "history", response.Name)
	assert.Greater(t, response.PageCount, int64(0))
	assert.Greater(t, response.PageSize, int64(0))
}

func TestHandleJobs(t *testing.T) {
	ok := &stubJob{name: "check_databases"}
	failing := &stubJob{name: "price_sync", err: errors.New("all instruments failed")}
	s := newTestServer(t, ok, failing)

	w := serve(s, http.MethodGet, "/api/system/jobs")
	require.Equal(t, http.StatusOK, w.Code)
	var status JobsStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Len(t, status.Jobs, 2)
	assert.Equal(t, "check_databases", status.Jobs[0].Name)
	assert.Equal(t, "/api/system/jobs/price_sync", status.Jobs[1].Trigger)

	w = serve(s, http.MethodPost, "/api/system/jobs/check_databases")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ok.runs)

	w = serve(s, http.MethodPost, "/api/system/jobs/price_sync")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, failing.runs)

	w = serve(s, http.MethodPost, "/api/system/jobs/unknown")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestModuleRoutesMounted(t *testing.T) {
	s := newTestServer(t)

	w := serve(s, http.MethodGet, "/api/instruments")
	assert.Equal(t, http.StatusOK, w.Code)

	// No provider configured
	w = serve(s, http.MethodPost, "/api/prices/sync")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = serve(s, http.MethodGet, "/api/prices/sync/runs")
	assert.Equal(t, http.StatusOK, w.Code)

	// Empty body is a client error
	w = serve(s, http.MethodPost, "/api/optimizer/analyze")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Empty cache: every instrument is reported without metrics
	w = serve(s, http.MethodPost, "/api/optimizer/performance")
	assert.Equal(t, http.StatusOK, w.Code)
}
