package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/adsight/backfill/internal/pacing"
	"github.com/adsight/backfill/internal/progress"
	"github.com/adsight/backfill/internal/store"
	"github.com/adsight/backfill/internal/upstream"
	"github.com/adsight/backfill/internal/window"
)

// ImportRun is one invocation of the orchestrator over a full range.
type ImportRun struct {
	ID            string
	ProjectID     string
	Range         window.Range
	Batches       []window.Range
	FailedBatches int
	Records       int
	Elapsed       time.Duration
	Status        string
	SafeMode      bool
}

// Orchestrator drives the window executor over every batch of a run, paced by
// inter-batch delays, then runs the demographic breakdown pass.
type Orchestrator struct {
	store    *store.Store
	executor *Executor
	config   pacing.Config
	logger   *slog.Logger
	sleep    SleepFunc
	now      func() time.Time
}

// NewOrchestrator builds an import orchestrator. nil sleep/now fall back to
// the real clock.
func NewOrchestrator(s *store.Store, executor *Executor, config pacing.Config, logger *slog.Logger, sleep SleepFunc, now func() time.Time) *Orchestrator {
	if sleep == nil {
		sleep = pacing.Sleep
	}
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		store:    s,
		executor: executor,
		config:   config,
		logger:   logger,
		sleep:    sleep,
		now:      now,
	}
}

// Config returns the orchestrator's base pacing profile.
func (o *Orchestrator) Config() pacing.Config {
	return o.config
}

// RunImport executes one full import run. Individual batch failures degrade
// the run to partial but never abort it: every planned batch is attempted, so
// the largest possible fraction of the range gets imported even under
// persistent partial failure.
func (o *Orchestrator) RunImport(ctx context.Context, project *store.Project, rng window.Range, safeMode bool) *ImportRun {
	cfg := o.config
	if safeMode {
		cfg = cfg.SafeMode()
	}

	run := &ImportRun{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Range:     rng,
		Batches:   window.Split(rng, cfg.BatchSizeDays),
		SafeMode:  safeMode,
	}

	startedAt := o.now()
	reporter := progress.NewReporter(o.store, o.logger, project.ID, startedAt)
	reporter.Start(fmt.Sprintf("starting import of %s (%d batches)", rng.String(), len(run.Batches)))

	o.logger.Info("import run started",
		"run_id", run.ID,
		"project_id", project.ID,
		"range", rng.String(),
		"batches", len(run.Batches),
		"safe_mode", safeMode)

	total := len(run.Batches)
	for i, batch := range run.Batches {
		outcome := o.executor.RunWindow(ctx, cfg, project, batch)
		if outcome.Success() {
			run.Records += outcome.Records
		} else {
			run.FailedBatches++
		}

		// The last 10% is reserved for the demographic pass
		percent := int(math.Round(float64(i+1) / float64(total) * 90))
		reporter.Update(percent, fmt.Sprintf("batch %d/%d (%s): %d records so far",
			i+1, total, batch.String(), run.Records))

		if ctx.Err() != nil {
			break
		}
		if i < total-1 {
			if err := o.sleep(ctx, cfg.BatchDelay); err != nil {
				break
			}
		}
	}

	o.runDemographicPass(ctx, project, rng, reporter)

	run.Elapsed = o.now().Sub(startedAt)
	if run.FailedBatches == 0 {
		run.Status = store.RunStatusSuccess
	} else {
		run.Status = store.RunStatusPartial
	}

	reporter.Finish(fmt.Sprintf("imported %d records across %d batches (%d failed)",
		run.Records, total, run.FailedBatches))

	o.writeRunLog(run)

	o.logger.Info("import run finished",
		"run_id", run.ID,
		"project_id", project.ID,
		"status", run.Status,
		"records", run.Records,
		"failed_batches", run.FailedBatches,
		"elapsed", run.Elapsed)

	return run
}

// runDemographicPass syncs each breakdown dimension over the full range.
// Each dimension is independently best-effort; a failure here is logged but
// never flips the run status.
func (o *Orchestrator) runDemographicPass(ctx context.Context, project *store.Project, rng window.Range, reporter *progress.Reporter) {
	dims := upstream.BreakdownDimensions
	for i, dim := range dims {
		if ctx.Err() != nil {
			return
		}

		outcome := o.executor.RunBreakdown(ctx, project, rng, dim)
		if outcome.Err != nil {
			o.logger.Warn("breakdown sync failed",
				"project_id", project.ID,
				"dimension", dim,
				"error", outcome.Err)
		}

		percent := 90 + int(math.Round(float64(i+1)/float64(len(dims))*10))
		reporter.Update(percent, fmt.Sprintf("syncing %s breakdown", dim))
	}
}

func (o *Orchestrator) writeRunLog(run *ImportRun) {
	payload := store.BackfillPayload{
		Since:         run.Range.Since.Format(window.DateLayout),
		Until:         run.Range.Until.Format(window.DateLayout),
		TotalBatches:  len(run.Batches),
		FailedBatches: run.FailedBatches,
		Records:       run.Records,
		ElapsedSecs:   int(run.Elapsed.Seconds()),
		SafeMode:      run.SafeMode,
	}

	if err := o.store.AppendRunLog(run.ProjectID, store.RunTypeBackfill, run.Status, payload); err != nil {
		o.logger.Error("failed to append run log", "run_id", run.ID, "error", err)
	}
}

// EstimateMinutes predicts roughly how long an import of batchCount batches
// will take, for the acceptance response. Assumes one upstream call of about
// ten seconds per batch plus the configured inter-batch delay.
func EstimateMinutes(batchCount int, cfg pacing.Config) int {
	if batchCount == 0 {
		return 0
	}
	perBatch := cfg.BatchDelay + 10*time.Second
	total := time.Duration(batchCount) * perBatch
	minutes := int(math.Ceil(total.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
