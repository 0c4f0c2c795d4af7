// Package stats aggregates run history into operational counters. Everything
// is derived from the immutable run log, so the numbers survive restarts and
// need no separate bookkeeping in the hot path.
package stats

import (
	"encoding/json"
	"fmt"

	"github.com/adsight/backfill/internal/store"
)

// historyDepth caps how far back per-project aggregation reads.
const historyDepth = 500

// ProjectSummary aggregates one project's recorded runs.
type ProjectSummary struct {
	ProjectID string `json:"project_id"`

	ImportRuns      int `json:"import_runs"`
	ImportedRecords int `json:"imported_records"`
	FailedBatches   int `json:"failed_batches"`

	MonthUnits       int `json:"month_units"`
	MonthUnitRecords int `json:"month_unit_records"`
	MonthUnitErrors  int `json:"month_unit_errors"`

	GapScans   int `json:"gap_scans"`
	GapsFound  int `json:"gaps_found"`
	GapsHealed int `json:"gaps_healed"`

	RunsByStatus map[string]int `json:"runs_by_status"`
}

// Overview aggregates all active projects.
type Overview struct {
	ActiveProjects int               `json:"active_projects"`
	Totals         ProjectSummary    `json:"totals"`
	Projects       []*ProjectSummary `json:"projects"`
}

// Collector reads the run log and folds it into summaries.
type Collector struct {
	store *store.Store
}

// NewCollector builds a stats collector over the given store.
func NewCollector(s *store.Store) *Collector {
	return &Collector{store: s}
}

// ProjectSummary aggregates the most recent runs of one project.
func (c *Collector) ProjectSummary(projectID string) (*ProjectSummary, error) {
	entries, err := c.store.ListRunLog(projectID, historyDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to read run log for %s: %w", projectID, err)
	}

	summary := &ProjectSummary{
		ProjectID:    projectID,
		RunsByStatus: make(map[string]int),
	}
	for _, e := range entries {
		summary.RunsByStatus[e.Status]++
		summary.add(e)
	}
	return summary, nil
}

// Overview aggregates every active project.
func (c *Collector) Overview() (*Overview, error) {
	projects, err := c.store.ListActiveProjects()
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	overview := &Overview{
		ActiveProjects: len(projects),
		Totals:         ProjectSummary{RunsByStatus: make(map[string]int)},
		Projects:       []*ProjectSummary{},
	}

	for _, p := range projects {
		summary, err := c.ProjectSummary(p.ID)
		if err != nil {
			return nil, err
		}
		overview.Projects = append(overview.Projects, summary)
		overview.Totals.merge(summary)
	}

	return overview, nil
}

// add folds one run log entry into the summary. Entries whose payload fails
// to decode still count toward status totals.
func (s *ProjectSummary) add(e store.RunLogEntry) {
	switch e.RunType {
	case store.RunTypeBackfill:
		var p store.BackfillPayload
		if json.Unmarshal([]byte(e.Message), &p) != nil {
			return
		}
		s.ImportRuns++
		s.ImportedRecords += p.Records
		s.FailedBatches += p.FailedBatches

	case store.RunTypeMonthUnit:
		var p store.MonthUnitPayload
		if json.Unmarshal([]byte(e.Message), &p) != nil {
			return
		}
		s.MonthUnits++
		s.MonthUnitRecords += p.Records
		if p.Error != "" {
			s.MonthUnitErrors++
		}

	case store.RunTypeGapScan:
		var p store.GapScanPayload
		if json.Unmarshal([]byte(e.Message), &p) != nil {
			return
		}
		s.GapScans++
		s.GapsFound += p.GapsFound
		s.GapsHealed += p.GapsHealed
	}
}

func (s *ProjectSummary) merge(other *ProjectSummary) {
	s.ImportRuns += other.ImportRuns
	s.ImportedRecords += other.ImportedRecords
	s.FailedBatches += other.FailedBatches
	s.MonthUnits += other.MonthUnits
	s.MonthUnitRecords += other.MonthUnitRecords
	s.MonthUnitErrors += other.MonthUnitErrors
	s.GapScans += other.GapScans
	s.GapsFound += other.GapsFound
	s.GapsHealed += other.GapsHealed
	for status, n := range other.RunsByStatus {
		s.RunsByStatus[status] += n
	}
}
