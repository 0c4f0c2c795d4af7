package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adsight/backfill/internal/engine"
	"github.com/adsight/backfill/internal/store"
	"github.com/adsight/backfill/internal/window"
)

// Scheduler runs chained month-by-month imports. Work spanning longer than
// one invocation's time budget is carried by the month_import_records table:
// each completed unit enqueues the next month as a delayed pending row, and
// the worker picks it up after the cooldown. The row is the chain's only
// durable state; a crashed link halts the chain at its last recorded cursor
// and re-arming the next expected month resumes it.
type Scheduler struct {
	store  *store.Store
	orch   *engine.Orchestrator
	logger *slog.Logger
	now    func() time.Time
}

// NewScheduler builds a continuation scheduler. A nil now falls back to the
// real clock.
func NewScheduler(s *store.Store, orch *engine.Orchestrator, logger *slog.Logger, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		store:  s,
		orch:   orch,
		logger: logger,
		now:    now,
	}
}

// Enqueue arms the month unit for (year, month) as a pending row, due
// immediately. Used both to start a chain and to manually re-trigger a
// failed month.
func (c *Scheduler) Enqueue(projectID string, year int, month time.Month, continueChain, safeMode bool) error {
	if month < time.January || month > time.December {
		return fmt.Errorf("invalid month %d", month)
	}

	rec := &store.MonthImportRecord{
		ProjectID:     projectID,
		Year:          year,
		Month:         int(month),
		ContinueChain: continueChain,
		SafeMode:      safeMode,
		NotBefore:     c.now(),
	}
	if err := c.store.EnsureMonthPending(rec); err != nil {
		return fmt.Errorf("failed to enqueue month unit: %w", err)
	}

	c.logger.Info("month unit enqueued",
		"project_id", projectID,
		"year", year,
		"month", int(month),
		"continue_chain", continueChain)
	return nil
}

// RunUnit executes one claimed month unit end to end: import the month's
// range, finalize the row, and schedule the successor when the chain
// continues.
func (c *Scheduler) RunUnit(ctx context.Context, rec *store.MonthImportRecord) error {
	project, err := c.store.GetProject(rec.ProjectID)
	if err != nil {
		msg := fmt.Sprintf("project lookup failed: %v", err)
		if cerr := c.store.CompleteMonth(rec.ID, store.MonthStatusError, 0, &msg, c.now()); cerr != nil {
			c.logger.Error("failed to finalize month unit", "id", rec.ID, "error", cerr)
		}
		return fmt.Errorf("month unit %d/%02d: %s", rec.Year, rec.Month, msg)
	}

	rng := window.MonthRange(rec.Year, time.Month(rec.Month), c.now())
	run := c.orch.RunImport(ctx, project, rng, rec.SafeMode)

	status := store.MonthStatusSuccess
	var errMsg *string
	if run.FailedBatches > 0 {
		status = store.MonthStatusError
		msg := fmt.Sprintf("%d of %d batches failed", run.FailedBatches, len(run.Batches))
		errMsg = &msg
	}

	if err := c.store.CompleteMonth(rec.ID, status, run.Records, errMsg, c.now()); err != nil {
		c.logger.Error("failed to finalize month unit", "id", rec.ID, "error", err)
	}

	payload := store.MonthUnitPayload{
		Year:       rec.Year,
		Month:      rec.Month,
		Records:    run.Records,
		RetryCount: rec.RetryCount,
	}
	logStatus := store.RunStatusSuccess
	if errMsg != nil {
		payload.Error = *errMsg
		logStatus = store.RunStatusError
	}
	if err := c.store.AppendRunLog(rec.ProjectID, store.RunTypeMonthUnit, logStatus, payload); err != nil {
		c.logger.Error("failed to append month unit log", "id", rec.ID, "error", err)
	}

	if rec.ContinueChain {
		c.scheduleNext(rec, status == store.MonthStatusError)
	}

	return nil
}

// scheduleNext enqueues the following calendar month after a cooldown. The
// cooldown is doubled when the just-completed month errored, to avoid
// hammering a throttled upstream. A failed month still chains forward so one
// bad month never stalls a multi-year backfill; its row stays flagged for
// separate inspection.
func (c *Scheduler) scheduleNext(rec *store.MonthImportRecord, failed bool) {
	nextYear, nextMonth := window.NextMonth(rec.Year, time.Month(rec.Month))

	now := c.now()
	if nextYear > now.Year() || (nextYear == now.Year() && nextMonth > now.Month()) {
		c.logger.Info("chain complete",
			"project_id", rec.ProjectID,
			"last_year", rec.Year,
			"last_month", rec.Month)
		return
	}

	cfg := c.orch.Config()
	if rec.SafeMode {
		cfg = cfg.SafeMode()
	}
	cooldown := cfg.ChainCooldown
	if failed {
		cooldown *= 2
	}

	next := &store.MonthImportRecord{
		ProjectID:     rec.ProjectID,
		Year:          nextYear,
		Month:         int(nextMonth),
		ContinueChain: true,
		SafeMode:      rec.SafeMode,
		NotBefore:     now.Add(cooldown),
	}
	if err := c.store.EnsureMonthPending(next); err != nil {
		c.logger.Error("failed to schedule next month",
			"project_id", rec.ProjectID,
			"year", nextYear,
			"month", int(nextMonth),
			"error", err)
		return
	}

	c.logger.Info("next month scheduled",
		"project_id", rec.ProjectID,
		"year", nextYear,
		"month", int(nextMonth),
		"cooldown", cooldown,
		"after_error", failed)
}
