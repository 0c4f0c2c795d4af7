package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adsight/backfill/internal/chain"
	"github.com/adsight/backfill/internal/engine"
	"github.com/adsight/backfill/internal/gaps"
	"github.com/adsight/backfill/internal/pacing"
	"github.com/adsight/backfill/internal/store"
	"github.com/adsight/backfill/internal/tasks"
	"github.com/adsight/backfill/internal/testutil"
	"github.com/adsight/backfill/internal/window"
)

// Test Fixtures and Helpers

type fixture struct {
	store    *store.Store
	syncer   *testutil.MockSyncer
	registry *tasks.Registry
	server   *Server
}

// newFixture wires the full API against a mock upstream and a fixed clock.
func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()

	s, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })

	clock := testutil.NewMockClock(now)
	sleeper := testutil.NewSleepRecorder()
	logger := testutil.NewTestLogger()
	syncer := testutil.NewMockSyncer()

	cfg := pacing.DefaultConfig()
	executor := engine.NewExecutor(syncer, logger.Logger(), sleeper.Sleep)
	orch := engine.NewOrchestrator(s, executor, cfg, logger.Logger(), sleeper.Sleep, clock.Now)
	sched := chain.NewScheduler(s, orch, logger.Logger(), clock.Now)
	scanner := gaps.NewScanner(s, executor, cfg, logger.Logger(), sleeper.Sleep, gaps.DefaultMinLength)
	registry := tasks.NewRegistry(logger.Logger())

	srv := New(DefaultConfig(), s, orch, sched, scanner, registry, logger.Logger(), clock.Now)

	return &fixture{store: s, syncer: syncer, registry: registry, server: srv}
}

func (f *fixture) seedProject(t *testing.T, id string) *store.Project {
	t.Helper()

	p := &store.Project{ID: id, AdAccountID: "act_" + id, Name: "Project " + id, Timezone: "UTC"}
	require.NoError(t, f.store.CreateProject(p))
	return p
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// =============================================================================
// Health and Error Shape Tests
// =============================================================================

func TestHealthz(t *testing.T) {
	f := newFixture(t, time.Date(2025, time.August, 15, 12, 0, 0, 0, time.UTC))

	w := f.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

// =============================================================================
// Backfill Endpoint Tests
// =============================================================================

func TestStartBackfill_DefaultRange(t *testing.T) {
	f := newFixture(t, time.Date(2025, time.August, 15, 12, 0, 0, 0, time.UTC))
	f.seedProject(t, "proj-1")

	w := f.do(t, http.MethodPost, "/api/backfills", map[string]any{
		"project_id": "proj-1",
	})

	require.Equal(t, http.StatusAccepted, w.Code)
	body := decode(t, w)

	assert.Equal(t, true, body["success"])
	assert.Equal(t, "proj-1", body["project_id"])
	assert.Equal(t, "Project proj-1", body["project_name"])

	// Defaults run from the start of the current year through today:
	// 227 days in 30-day batches.
	rng := body["range"].(map[string]any)
	assert.Equal(t, "2025-01-01", rng["since"])
	assert.Equal(t, "2025-08-15", rng["until"])
	assert.Equal(t, float64(8), body["total_batches"])
	assert.NotEmpty(t, body["task_id"])
	assert.NotZero(t, body["estimated_minutes"])

	// The handle resolves to a completed run once the background task drains
	f.registry.Wait()
	taskID := body["task_id"].(string)

	tw := f.do(t, http.MethodGet, "/api/tasks/"+taskID, nil)
	require.Equal(t, http.StatusOK, tw.Code)
	taskBody := decode(t, tw)
	assert.Equal(t, string(tasks.StateCompleted), taskBody["state"])

	result := taskBody["result"].(map[string]any)
	assert.Equal(t, store.RunStatusSuccess, result["status"])
	assert.Equal(t, float64(80), result["records"])
}

func TestStartBackfill_ExplicitRange(t *testing.T) {
	f := newFixture(t, time.Date(2025, time.August, 15, 12, 0, 0, 0, time.UTC))
	f.seedProject(t, "proj-1")

	w := f.do(t, http.MethodPost, "/api/backfills", map[string]any{
		"project_id": "proj-1",
		"since":      "2025-03-01",
		"until":      "2025-03-31",
	})

	require.Equal(t, http.StatusAccepted, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["total_batches"])

	f.registry.Wait()
}

func TestStartBackfill_UnknownProject(t *testing.T) {
	f := newFixture(t, time.Date(2025, time.August, 15, 12, 0, 0, 0, time.UTC))

	w := f.do(t, http.MethodPost, "/api/backfills", map[string]any{
		"project_id": "ghost",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])
}

func TestStartBackfill_MissingProjectID(t *testing.T) {
	f := newFixture(t, time.Date(2025, time.August, 15, 12, 0, 0, 0, time.UTC))

	w := f.do(t, http.MethodPost, "/api/backfills", map[string]any{
		"since": "2025-01-01",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartBackfill_InvertedRange(t *testing.T) {
	f := newFixture(t, time.Date(2025, time.August, 15, 12, 0, 0, 0, time.UTC))
	f.seedProject(t, "proj-1")

	w := f.do(t, http.MethodPost, "/api/backfills", map[string]any{
		"project_id": "proj-1",
		"since":      "2025-06-01",
		"until":      "2025-01-01",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Month Unit Endpoint Tests
// =============================================================================

func TestEnqueueMonth(t *testing.T) {
	f := newFixture(t, time.Date(2025, time.August, 15, 12, 0, 0, 0, time.UTC))
	f.seedProject(t, "proj-1")

	w := f.do(t, http.MethodPost, "/api/backfills/months", map[string]any{
		"project_id":     "proj-1",
		"year":           2025,
		"month":          3,
		"continue_chain": true,
	})

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])

	// The queue row is the durable artifact; the worker picks it up later
	rec, err := f.store.GetMonth("proj-1", 2025, 3)
	require.NoError(t, err)
	assert.Equal(t, store.MonthStatusPending, rec.Status)
	assert.True(t, rec.ContinueChain)
}

func TestEnqueueMonth_InvalidMonth(t *testing.T) {
	f := newFixture(t, time.Date(2025, time.August, 15, 12, 0, 0, 0, time.UTC))
	f.seedProject(t, "proj-1")

	for _, month := range []int{0, 13} {
		w := f.do(t, http.MethodPost, "/api/backfills/months", map[string]any{
			"project_id": "proj-1",
			"year":       2025,
			"month":      month,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code, "month %d must be rejected", month)
	}
}

func TestEnqueueMonth_UnknownProject(t *testing.T) {
	f := newFixture(t, time.Date(2025, time.August, 15, 12, 0, 0, 0, time.UTC))

	w := f.do(t, http.MethodPost, "/api/backfills/months", map[string]any{
		"project_id": "ghost",
		"year":       2025,
		"month":      3,
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// Gap Scan Endpoint Tests
// =============================================================================

func seedMetrics(t *testing.T, s *store.Store, projectID string, r window.Range, skip map[string]bool) {
	t.Helper()

	for d := r.Since; !d.After(r.Until); d = d.AddDate(0, 0, 1) {
		if skip[d.Format(window.DateLayout)] {
			continue
		}
		require.NoError(t, s.UpsertDailyMetric(&store.DailyMetric{
			ProjectID:   projectID,
			Date:        d,
			Dimension:   store.DimensionTotal,
			Impressions: 100,
		}))
	}
}

func TestGapScan_DetectOnly(t *testing.T) {
	f := newFixture(t, time.Date(2025, time.August, 15, 12, 0, 0, 0, time.UTC))
	f.seedProject(t, "proj-1")

	r, err := window.ParseRange("2025-01-01", "2025-01-31")
	require.NoError(t, err)
	seedMetrics(t, f.store, "proj-1", r, map[string]bool{
		"2025-01-10": true,
		"2025-01-11": true,
		"2025-01-12": true,
		"2025-01-13": true,
	})

	w := f.do(t, http.MethodPost, "/api/gaps/scan", map[string]any{
		"project_id": "proj-1",
		"since":      "2025-01-01",
		"until":      "2025-01-31",
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["gaps_found"])
	assert.Equal(t, float64(0), body["gaps_fixed"])
	assert.Zero(t, f.syncer.CallCount(), "detect-only must not touch the upstream")
}

func TestGapScan_AutoFix(t *testing.T) {
	f := newFixture(t, time.Date(2025, time.August, 15, 12, 0, 0, 0, time.UTC))
	f.seedProject(t, "proj-1")

	r, err := window.ParseRange("2025-01-01", "2025-01-31")
	require.NoError(t, err)
	seedMetrics(t, f.store, "proj-1", r, map[string]bool{
		"2025-01-10": true,
		"2025-01-11": true,
		"2025-01-12": true,
	})

	f.syncer.SetDefault(testutil.Outcome{Records: 3})

	w := f.do(t, http.MethodPost, "/api/gaps/scan", map[string]any{
		"project_id": "proj-1",
		"since":      "2025-01-01",
		"until":      "2025-01-31",
		"auto_fix":   true,
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["gaps_found"])
	assert.Equal(t, float64(1), body["gaps_fixed"])
	assert.Equal(t, float64(3), body["records_imported"])
	assert.Len(t, body["fix_results"], 1)
}

func TestGapScan_AllProjects(t *testing.T) {
	f := newFixture(t, time.Date(2025, time.August, 15, 12, 0, 0, 0, time.UTC))
	f.seedProject(t, "proj-1")
	f.seedProject(t, "proj-2")

	// proj-1 has a hole, proj-2 has no data at all (one gap spanning the range)
	r, err := window.ParseRange("2025-02-01", "2025-02-28")
	require.NoError(t, err)
	seedMetrics(t, f.store, "proj-1", r, map[string]bool{
		"2025-02-10": true,
		"2025-02-11": true,
		"2025-02-12": true,
	})

	w := f.do(t, http.MethodPost, "/api/gaps/scan", map[string]any{
		"since": "2025-02-01",
		"until": "2025-02-28",
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["gaps_found"])
	assert.Len(t, body["gaps"], 2)
}

// =============================================================================
// Task and Progress Endpoint Tests
// =============================================================================

func TestGetTask_Unknown(t *testing.T) {
	f := newFixture(t, time.Date(2025, time.August, 15, 12, 0, 0, 0, time.UTC))

	w := f.do(t, http.MethodGet, "/api/tasks/nope", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetProgress(t *testing.T) {
	f := newFixture(t, time.Date(2025, time.August, 15, 12, 0, 0, 0, time.UTC))
	f.seedProject(t, "proj-1")

	// Nothing recorded yet
	w := f.do(t, http.MethodGet, "/api/projects/proj-1/progress", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, f.store.UpdateSyncProgress("proj-1", store.SyncProgress{
		Status:  store.ProgressStatusSyncing,
		Percent: 45,
		Message: "batch 5 of 10",
	}))

	w = f.do(t, http.MethodGet, "/api/projects/proj-1/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, store.ProgressStatusSyncing, body["status"])
	assert.Equal(t, float64(45), body["progress"])
	assert.Equal(t, "batch 5 of 10", body["message"])
}

func TestStatsEndpoints(t *testing.T) {
	f := newFixture(t, time.Date(2025, time.August, 15, 12, 0, 0, 0, time.UTC))
	f.seedProject(t, "proj-1")

	require.NoError(t, f.store.AppendRunLog("proj-1", store.RunTypeBackfill, store.RunStatusSuccess, store.BackfillPayload{
		Since: "2025-01-01", Until: "2025-03-31", TotalBatches: 3, Records: 300,
	}))

	w := f.do(t, http.MethodGet, "/api/projects/proj-1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["import_runs"])
	assert.Equal(t, float64(300), body["imported_records"])

	w = f.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	overview := decode(t, w)
	assert.Equal(t, float64(1), overview["active_projects"])

	w = f.do(t, http.MethodGet, "/api/projects/ghost/stats", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRuns(t *testing.T) {
	f := newFixture(t, time.Date(2025, time.August, 15, 12, 0, 0, 0, time.UTC))
	f.seedProject(t, "proj-1")

	require.NoError(t, f.store.AppendRunLog("proj-1", store.RunTypeBackfill, store.RunStatusSuccess, store.BackfillPayload{
		Since:        "2025-01-01",
		Until:        "2025-01-31",
		TotalBatches: 2,
		Records:      20,
	}))

	w := f.do(t, http.MethodGet, "/api/projects/proj-1/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["runs"], 1)
}
