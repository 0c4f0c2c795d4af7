package gaps

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/adsight/backfill/internal/engine"
	"github.com/adsight/backfill/internal/pacing"
	"github.com/adsight/backfill/internal/store"
	"github.com/adsight/backfill/internal/testutil"
	"github.com/adsight/backfill/internal/upstream"
	"github.com/adsight/backfill/internal/window"
)

// Test Fixtures and Helpers

func mustRange(t *testing.T, since, until string) window.Range {
	t.Helper()
	r, err := window.ParseRange(since, until)
	if err != nil {
		t.Fatalf("bad test range: %v", err)
	}
	return r
}

// presence builds a presence set covering the range except the listed dates.
func presence(t *testing.T, r window.Range, absent ...string) map[string]bool {
	t.Helper()

	missing := make(map[string]bool, len(absent))
	for _, d := range absent {
		missing[d] = true
	}

	present := make(map[string]bool)
	for d := r.Since; !d.After(r.Until); d = d.AddDate(0, 0, 1) {
		key := d.Format(window.DateLayout)
		if !missing[key] {
			present[key] = true
		}
	}
	return present
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		t.Fatalf("failed to migrate test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProject(t *testing.T, s *store.Store, id string) *store.Project {
	t.Helper()

	p := &store.Project{ID: id, AdAccountID: "act_1", Name: "P " + id, Timezone: "UTC"}
	if err := s.CreateProject(p); err != nil {
		t.Fatalf("failed to seed project: %v", err)
	}
	return p
}

func seedDays(t *testing.T, s *store.Store, projectID string, days ...string) {
	t.Helper()

	for _, d := range days {
		date, err := window.ParseDate(d)
		if err != nil {
			t.Fatalf("bad date %q: %v", d, err)
		}
		m := &store.DailyMetric{ProjectID: projectID, Date: date, Dimension: store.DimensionTotal, Impressions: 1}
		if err := s.UpsertDailyMetric(m); err != nil {
			t.Fatalf("failed to seed metric: %v", err)
		}
	}
}

func newScanner(t *testing.T, s *store.Store, syncer *testutil.MockSyncer) (*Scanner, *testutil.SleepRecorder) {
	t.Helper()

	sleeper := testutil.NewSleepRecorder()
	logger := testutil.NewTestLogger()
	executor := engine.NewExecutor(syncer, logger.Logger(), sleeper.Sleep)

	cfg := pacing.DefaultConfig()
	cfg.GapRepairDelay = 5 * time.Second

	return NewScanner(s, executor, cfg, logger.Logger(), sleeper.Sleep, DefaultMinLength), sleeper
}

// =============================================================================
// Detector Tests
// =============================================================================

func TestDetect_MinimumSpanThreshold(t *testing.T) {
	// January 2025 with Jan 10-14 absent (5 days) and Jan 20 absent alone:
	// only the 5-day span is a gap at the 3-day threshold.
	r := mustRange(t, "2025-01-01", "2025-01-31")
	present := presence(t, r,
		"2025-01-10", "2025-01-11", "2025-01-12", "2025-01-13", "2025-01-14",
		"2025-01-20")

	found := Detect("proj-1", r, present, 3)

	if len(found) != 1 {
		t.Fatalf("expected exactly 1 gap, got %d: %+v", len(found), found)
	}
	g := found[0]
	if g.Start.Format(window.DateLayout) != "2025-01-10" {
		t.Errorf("expected gap start 2025-01-10, got %s", g.Start.Format(window.DateLayout))
	}
	if g.End.Format(window.DateLayout) != "2025-01-14" {
		t.Errorf("expected gap end 2025-01-14, got %s", g.End.Format(window.DateLayout))
	}
	if g.Days != 5 {
		t.Errorf("expected 5-day gap, got %d", g.Days)
	}
}

func TestDetect_NoGaps(t *testing.T) {
	r := mustRange(t, "2025-01-01", "2025-01-31")
	if found := Detect("proj-1", r, presence(t, r), 3); len(found) != 0 {
		t.Errorf("expected no gaps in a full series, got %d", len(found))
	}
}

func TestDetect_GapAtRangeEdges(t *testing.T) {
	r := mustRange(t, "2025-01-01", "2025-01-10")
	// Missing at both ends: Jan 1-3 and Jan 8-10
	present := presence(t, r,
		"2025-01-01", "2025-01-02", "2025-01-03",
		"2025-01-08", "2025-01-09", "2025-01-10")

	found := Detect("proj-1", r, present, 3)
	if len(found) != 2 {
		t.Fatalf("expected 2 gaps, got %d", len(found))
	}
	if found[0].Start.Format(window.DateLayout) != "2025-01-01" {
		t.Errorf("leading gap not detected: %+v", found[0])
	}
	if found[1].End.Format(window.DateLayout) != "2025-01-10" {
		t.Errorf("trailing gap not closed at range end: %+v", found[1])
	}
}

func TestDetect_EntirelyEmpty(t *testing.T) {
	r := mustRange(t, "2025-01-01", "2025-01-10")
	found := Detect("proj-1", r, map[string]bool{}, 3)

	if len(found) != 1 {
		t.Fatalf("expected one spanning gap, got %d", len(found))
	}
	if found[0].Days != 10 {
		t.Errorf("expected 10-day gap, got %d", found[0].Days)
	}
}

func TestDetect_AdjacentShortHoles(t *testing.T) {
	// Two 2-day holes separated by a present day: neither meets the threshold
	r := mustRange(t, "2025-01-01", "2025-01-10")
	present := presence(t, r, "2025-01-02", "2025-01-03", "2025-01-05", "2025-01-06")

	if found := Detect("proj-1", r, present, 3); len(found) != 0 {
		t.Errorf("short holes split by a present day must not merge: %+v", found)
	}
}

// =============================================================================
// Scanner / Healer Tests
// =============================================================================

func TestScan_DetectOnly(t *testing.T) {
	s := newTestStore(t)
	project := seedProject(t, s, "proj-1")
	seedDays(t, s, "proj-1", "2025-01-01", "2025-01-02", "2025-01-08", "2025-01-09", "2025-01-10")

	syncer := testutil.NewMockSyncer()
	scanner, _ := newScanner(t, s, syncer)

	report, err := scanner.Scan(context.Background(), project, mustRange(t, "2025-01-01", "2025-01-10"), false)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if report.GapsFound != 1 {
		t.Fatalf("expected 1 gap, got %d", report.GapsFound)
	}
	if report.GapsFixed != 0 {
		t.Errorf("detect-only scan must not fix, got %d", report.GapsFixed)
	}
	if syncer.CallCount() != 0 {
		t.Errorf("detect-only scan must not call upstream, got %d calls", syncer.CallCount())
	}
}

func TestScan_AutoFix(t *testing.T) {
	s := newTestStore(t)
	project := seedProject(t, s, "proj-1")
	// Two gaps: Jan 3-7 and Jan 12-15
	seedDays(t, s, "proj-1", "2025-01-01", "2025-01-02", "2025-01-08",
		"2025-01-09", "2025-01-10", "2025-01-11", "2025-01-16")

	syncer := testutil.NewMockSyncer()
	syncer.SetDefault(testutil.Outcome{Records: 4})
	scanner, sleeper := newScanner(t, s, syncer)

	report, err := scanner.Scan(context.Background(), project, mustRange(t, "2025-01-01", "2025-01-16"), true)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if report.GapsFound != 2 || report.GapsFixed != 2 {
		t.Fatalf("expected 2/2 fixed, got %d/%d", report.GapsFixed, report.GapsFound)
	}
	if report.Records != 8 {
		t.Errorf("expected 8 records imported, got %d", report.Records)
	}

	// Healer calls the executor on exactly the gap ranges
	calls := syncer.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 heal calls, got %d", len(calls))
	}
	if calls[0].TimeRange.Since != "2025-01-03" || calls[0].TimeRange.Until != "2025-01-07" {
		t.Errorf("unexpected first heal window: %+v", calls[0].TimeRange)
	}

	// One pacing sleep between the two repairs
	if len(sleeper.Sleeps()) != 1 {
		t.Errorf("expected 1 repair-pacing sleep, got %d", len(sleeper.Sleeps()))
	}
}

func TestScan_ZeroRecordHealCountsAsHealed(t *testing.T) {
	s := newTestStore(t)
	project := seedProject(t, s, "proj-1")
	seedDays(t, s, "proj-1", "2025-01-01", "2025-01-08")

	syncer := testutil.NewMockSyncer()
	syncer.SetDefault(testutil.Outcome{Records: 0})
	scanner, _ := newScanner(t, s, syncer)

	report, err := scanner.Scan(context.Background(), project, mustRange(t, "2025-01-01", "2025-01-08"), true)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if report.GapsFound != 1 || report.GapsFixed != 1 {
		t.Errorf("zero-record heal must count as healed: %d/%d", report.GapsFixed, report.GapsFound)
	}
}

func TestScan_ErrorLeavesGapUnhealed(t *testing.T) {
	s := newTestStore(t)
	project := seedProject(t, s, "proj-1")
	seedDays(t, s, "proj-1", "2025-01-01", "2025-01-08")

	syncer := testutil.NewMockSyncer()
	syncer.SetDefault(testutil.Outcome{Err: &upstream.APIError{StatusCode: 400, Code: 100, Message: "Invalid parameter"}})
	scanner, _ := newScanner(t, s, syncer)

	report, err := scanner.Scan(context.Background(), project, mustRange(t, "2025-01-01", "2025-01-08"), true)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if report.GapsFixed != 0 {
		t.Errorf("errored heal must stay unhealed, got %d fixed", report.GapsFixed)
	}
	if len(report.FixResults) != 1 || report.FixResults[0].Error == "" {
		t.Errorf("fix result must carry the error: %+v", report.FixResults)
	}

	// Partial status recorded in the run log
	entry, err := s.LastRunLog("proj-1", store.RunTypeGapScan)
	if err != nil {
		t.Fatalf("expected gap scan log entry: %v", err)
	}
	if entry.Status != store.RunStatusPartial {
		t.Errorf("expected partial status, got %s", entry.Status)
	}
}

func TestScanAll_CoversActiveProjects(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "proj-1")
	seedProject(t, s, "proj-2")
	archived := &store.Project{ID: "proj-3", AdAccountID: "act_3", Name: "Old", Timezone: "UTC", Archived: true}
	if err := s.CreateProject(archived); err != nil {
		t.Fatalf("failed to create archived project: %v", err)
	}

	syncer := testutil.NewMockSyncer()
	scanner, _ := newScanner(t, s, syncer)

	reports, err := scanner.ScanAll(context.Background(), mustRange(t, "2025-01-01", "2025-01-10"), false)
	if err != nil {
		t.Fatalf("scan all failed: %v", err)
	}

	if len(reports) != 2 {
		t.Errorf("expected reports for 2 active projects, got %d", len(reports))
	}
}
