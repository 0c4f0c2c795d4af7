package progress

import (
	"errors"
	"testing"
	"time"

	"github.com/adsight/backfill/internal/store"
	"github.com/adsight/backfill/internal/testutil"
)

// recordingRecorder captures every snapshot write.
type recordingRecorder struct {
	writes []store.SyncProgress
	err    error
}

func (r *recordingRecorder) UpdateSyncProgress(_ string, p store.SyncProgress) error {
	if r.err != nil {
		return r.err
	}
	r.writes = append(r.writes, p)
	return nil
}

func TestReporter_MonotonicPercent(t *testing.T) {
	rec := &recordingRecorder{}
	logger := testutil.NewTestLogger()
	r := NewReporter(rec, logger.Logger(), "proj-1", time.Now())

	r.Start("starting")
	r.Update(30, "batch 1")
	r.Update(20, "late update") // must not regress
	r.Update(60, "batch 2")

	percents := []int{}
	for _, w := range rec.writes {
		percents = append(percents, w.Percent)
	}

	expected := []int{0, 30, 30, 60}
	for i, p := range expected {
		if percents[i] != p {
			t.Errorf("write %d: expected %d%%, got %d%%", i, p, percents[i])
		}
	}
}

func TestReporter_FinishAt100(t *testing.T) {
	rec := &recordingRecorder{}
	logger := testutil.NewTestLogger()
	r := NewReporter(rec, logger.Logger(), "proj-1", time.Now())

	r.Start("starting")
	r.Update(90, "batches done")
	r.Finish("imported 1234 records")

	last := rec.writes[len(rec.writes)-1]
	if last.Percent != 100 {
		t.Errorf("expected 100%%, got %d%%", last.Percent)
	}
	if last.Status != store.ProgressStatusDone {
		t.Errorf("expected done status, got %s", last.Status)
	}
}

func TestReporter_UpdateClampsAbove100(t *testing.T) {
	rec := &recordingRecorder{}
	logger := testutil.NewTestLogger()
	r := NewReporter(rec, logger.Logger(), "proj-1", time.Now())

	r.Update(150, "overshoot")
	if rec.writes[0].Percent != 100 {
		t.Errorf("expected clamp to 100, got %d", rec.writes[0].Percent)
	}
}

func TestReporter_FailKeepsLastPercent(t *testing.T) {
	rec := &recordingRecorder{}
	logger := testutil.NewTestLogger()
	r := NewReporter(rec, logger.Logger(), "proj-1", time.Now())

	r.Update(45, "batch 5")
	r.Fail("upstream rejected credentials")

	last := rec.writes[len(rec.writes)-1]
	if last.Status != store.ProgressStatusError {
		t.Errorf("expected error status, got %s", last.Status)
	}
	if last.Percent != 45 {
		t.Errorf("expected percent preserved at 45, got %d", last.Percent)
	}
}

func TestReporter_WriteFailureIsNonFatal(t *testing.T) {
	rec := &recordingRecorder{err: errors.New("disk full")}
	logger := testutil.NewTestLogger()
	r := NewReporter(rec, logger.Logger(), "proj-1", time.Now())

	// Must not panic or propagate
	r.Start("starting")
	r.Update(50, "halfway")

	if !logger.HasWarning() {
		t.Error("expected a warning log for the failed write")
	}
}
