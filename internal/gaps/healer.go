package gaps

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/adsight/backfill/internal/engine"
	"github.com/adsight/backfill/internal/pacing"
	"github.com/adsight/backfill/internal/store"
	"github.com/adsight/backfill/internal/window"
)

// GapResult is the outcome of repairing one gap. A zero-record import is a
// successful heal (absence of activity, not absence of sync); only an
// explicit error counts as unhealed.
type GapResult struct {
	Gap     Gap    `json:"gap"`
	Healed  bool   `json:"healed"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

// Report aggregates one project's gap scan.
type Report struct {
	ProjectID  string      `json:"project_id"`
	GapsFound  int         `json:"gaps_found"`
	GapsFixed  int         `json:"gaps_fixed"`
	Records    int         `json:"records_imported"`
	Gaps       []Gap       `json:"gaps"`
	FixResults []GapResult `json:"fix_results"`
}

// Scanner detects and optionally repairs holes in a project's daily series,
// reusing the window executor and its retry discipline.
type Scanner struct {
	store     *store.Store
	executor  *engine.Executor
	config    pacing.Config
	logger    *slog.Logger
	sleep     engine.SleepFunc
	minLength int
}

// NewScanner builds a gap scanner. minLength <= 0 uses the default threshold.
func NewScanner(s *store.Store, executor *engine.Executor, config pacing.Config, logger *slog.Logger, sleep engine.SleepFunc, minLength int) *Scanner {
	if sleep == nil {
		sleep = pacing.Sleep
	}
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	return &Scanner{
		store:     s,
		executor:  executor,
		config:    config,
		logger:    logger,
		sleep:     sleep,
		minLength: minLength,
	}
}

// Scan detects gaps for one project and, when autoFix is set, feeds each gap
// back through the window executor. Writes an aggregate run log entry.
func (sc *Scanner) Scan(ctx context.Context, project *store.Project, r window.Range, autoFix bool) (*Report, error) {
	present, err := sc.store.PresentDates(project.ID, r)
	if err != nil {
		return nil, fmt.Errorf("failed to load presence set for %s: %w", project.ID, err)
	}

	found := Detect(project.ID, r, present, sc.minLength)
	report := &Report{
		ProjectID:  project.ID,
		GapsFound:  len(found),
		Gaps:       found,
		FixResults: []GapResult{},
	}

	sc.logger.Info("gap scan",
		"project_id", project.ID,
		"range", r.String(),
		"gaps_found", len(found),
		"auto_fix", autoFix)

	if autoFix && len(found) > 0 {
		sc.heal(ctx, project, found, report)
	}

	status := store.RunStatusSuccess
	if autoFix && report.GapsFixed < report.GapsFound {
		status = store.RunStatusPartial
	}
	payload := store.GapScanPayload{
		Since:      r.Since.Format(window.DateLayout),
		Until:      r.Until.Format(window.DateLayout),
		GapsFound:  report.GapsFound,
		GapsHealed: report.GapsFixed,
		Records:    report.Records,
	}
	if err := sc.store.AppendRunLog(project.ID, store.RunTypeGapScan, status, payload); err != nil {
		sc.logger.Error("failed to append gap scan log", "project_id", project.ID, "error", err)
	}

	return report, nil
}

// ScanAll runs Scan over every active project.
func (sc *Scanner) ScanAll(ctx context.Context, r window.Range, autoFix bool) ([]*Report, error) {
	projects, err := sc.store.ListActiveProjects()
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	reports := []*Report{}
	for _, p := range projects {
		if ctx.Err() != nil {
			return reports, ctx.Err()
		}
		report, err := sc.Scan(ctx, p, r, autoFix)
		if err != nil {
			sc.logger.Error("gap scan failed", "project_id", p.ID, "error", err)
			continue
		}
		reports = append(reports, report)
	}

	return reports, nil
}

// heal repairs each gap in order, paced by the gap-repair delay. Gap lists
// are typically small, so the delay is shorter than the import batch delay.
func (sc *Scanner) heal(ctx context.Context, project *store.Project, found []Gap, report *Report) {
	for i, gap := range found {
		if ctx.Err() != nil {
			return
		}

		outcome := sc.executor.RunWindow(ctx, sc.config, project, gap.Range())
		result := GapResult{Gap: gap, Records: outcome.Records}

		if outcome.Success() {
			result.Healed = true
			report.GapsFixed++
			report.Records += outcome.Records
		} else {
			result.Error = outcome.Err.Error()
			sc.logger.Warn("gap heal failed",
				"project_id", project.ID,
				"gap", gap.Range().String(),
				"error", outcome.Err)
		}
		report.FixResults = append(report.FixResults, result)

		if i < len(found)-1 {
			if err := sc.sleep(ctx, sc.config.GapRepairDelay); err != nil {
				return
			}
		}
	}
}
