package progress

import (
	"log/slog"
	"time"

	"github.com/adsight/backfill/internal/store"
)

// Recorder persists a project's progress snapshot. *store.Store satisfies it.
type Recorder interface {
	UpdateSyncProgress(projectID string, p store.SyncProgress) error
}

// Reporter maintains the single mutable progress snapshot for one run.
// Percent never regresses within a run: late or out-of-order updates are
// clamped to the highest value already written, so external observers always
// see monotonically advancing progress.
type Reporter struct {
	recorder  Recorder
	logger    *slog.Logger
	projectID string
	startedAt time.Time
	last      int
}

// NewReporter starts a progress record for one run at 0%.
func NewReporter(recorder Recorder, logger *slog.Logger, projectID string, startedAt time.Time) *Reporter {
	return &Reporter{
		recorder:  recorder,
		logger:    logger,
		projectID: projectID,
		startedAt: startedAt,
	}
}

// Start writes the initial snapshot. Failures are logged, never fatal: a run
// must not abort because its status record could not be written.
func (r *Reporter) Start(message string) {
	r.write(store.ProgressStatusSyncing, 0, message)
}

// Update advances the snapshot to percent with a new message.
func (r *Reporter) Update(percent int, message string) {
	if percent < r.last {
		percent = r.last
	}
	if percent > 100 {
		percent = 100
	}
	r.last = percent
	r.write(store.ProgressStatusSyncing, percent, message)
}

// Finish finalizes the snapshot at 100% with the run summary.
func (r *Reporter) Finish(message string) {
	r.last = 100
	r.write(store.ProgressStatusDone, 100, message)
}

// Fail finalizes the snapshot in the error state, keeping the last percent so
// observers can see how far the run got.
func (r *Reporter) Fail(message string) {
	r.write(store.ProgressStatusError, r.last, message)
}

// Percent returns the last written percent.
func (r *Reporter) Percent() int {
	return r.last
}

func (r *Reporter) write(status string, percent int, message string) {
	err := r.recorder.UpdateSyncProgress(r.projectID, store.SyncProgress{
		Status:    status,
		Percent:   percent,
		Message:   message,
		StartedAt: r.startedAt,
	})
	if err != nil {
		r.logger.Warn("failed to persist sync progress",
			"project_id", r.projectID,
			"percent", percent,
			"error", err)
	}
}
