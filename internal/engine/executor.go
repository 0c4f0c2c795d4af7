package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/adsight/backfill/internal/pacing"
	"github.com/adsight/backfill/internal/store"
	"github.com/adsight/backfill/internal/upstream"
	"github.com/adsight/backfill/internal/window"
)

// SleepFunc blocks for a duration or until the context is done. Injectable so
// pacing tests run instantly.
type SleepFunc func(ctx context.Context, d time.Duration) error

// WindowOutcome is the result of executing one window, retries included.
// Failures are carried as a value; the executor never panics past its caller.
type WindowOutcome struct {
	Records  int
	Attempts int
	Err      error
}

// Success reports whether the window completed. Zero records is a success:
// it means no qualifying activity existed in the window.
func (o WindowOutcome) Success() bool {
	return o.Err == nil
}

// Executor runs the external single-window sync primitive with the retry
// discipline of a pacing profile.
type Executor struct {
	syncer upstream.Syncer
	logger *slog.Logger
	sleep  SleepFunc
}

// NewExecutor builds a window executor. A nil sleep falls back to real sleeps.
func NewExecutor(syncer upstream.Syncer, logger *slog.Logger, sleep SleepFunc) *Executor {
	if sleep == nil {
		sleep = pacing.Sleep
	}
	return &Executor{
		syncer: syncer,
		logger: logger,
		sleep:  sleep,
	}
}

// RunWindow executes the sync primitive for one range, retrying per the
// profile. Rate-limited and transient failures draw on independent retry
// budgets; exhausting either converts the window to a permanent failure.
func (e *Executor) RunWindow(ctx context.Context, cfg pacing.Config, project *store.Project, rng window.Range) WindowOutcome {
	req := upstream.WindowRequest{
		ProjectID:   project.ID,
		AdAccountID: project.AdAccountID,
		TimeRange:   upstream.NewTimeRange(rng),
	}

	var outcome WindowOutcome
	rateLimited := 0
	transient := 0

	for {
		outcome.Attempts++

		result, err := e.syncer.SyncWindow(ctx, req)
		if err == nil {
			outcome.Records = result.RecordsImported
			outcome.Err = nil
			return outcome
		}
		outcome.Err = err

		if ctx.Err() != nil {
			return outcome
		}

		var delay time.Duration
		switch pacing.Classify(err) {
		case pacing.RateLimited:
			rateLimited++
			if rateLimited >= cfg.MaxRetries {
				e.logger.Warn("window failed: rate limit retries exhausted",
					"project_id", project.ID,
					"range", rng.String(),
					"attempts", outcome.Attempts)
				return outcome
			}
			delay = cfg.Backoff(rateLimited)
			e.logger.Info("rate limited, backing off",
				"project_id", project.ID,
				"range", rng.String(),
				"attempt", outcome.Attempts,
				"delay", delay)

		case pacing.Transient:
			transient++
			if transient >= cfg.TransientRetries {
				e.logger.Warn("window failed: transient retries exhausted",
					"project_id", project.ID,
					"range", rng.String(),
					"attempts", outcome.Attempts)
				return outcome
			}
			delay = cfg.TransientDelay
			e.logger.Info("transient failure, retrying",
				"project_id", project.ID,
				"range", rng.String(),
				"attempt", outcome.Attempts,
				"error", err)

		default:
			e.logger.Warn("window failed permanently",
				"project_id", project.ID,
				"range", rng.String(),
				"error", err)
			return outcome
		}

		if err := e.sleep(ctx, delay); err != nil {
			outcome.Err = err
			return outcome
		}
	}
}

// RunBreakdown executes one demographic breakdown dimension over a range.
// Best-effort: no retry loop, callers log and move on.
func (e *Executor) RunBreakdown(ctx context.Context, project *store.Project, rng window.Range, dimension string) WindowOutcome {
	bs, ok := e.syncer.(upstream.BreakdownSyncer)
	if !ok {
		return WindowOutcome{}
	}

	req := upstream.WindowRequest{
		ProjectID:   project.ID,
		AdAccountID: project.AdAccountID,
		TimeRange:   upstream.NewTimeRange(rng),
		Breakdown:   dimension,
	}

	result, err := bs.SyncBreakdown(ctx, req)
	return WindowOutcome{Records: result.RecordsImported, Attempts: 1, Err: err}
}
