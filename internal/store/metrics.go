package store

import (
	"time"

	"github.com/adsight/backfill/internal/window"
)

// UpsertDailyMetric writes one day of metrics. Keyed by (project, date,
// dimension): re-importing the same window overwrites rather than duplicates,
// so repeated imports never corrupt aggregates.
func (s *Store) UpsertDailyMetric(m *DailyMetric) error {
	query := `
		INSERT INTO daily_metrics (project_id, date, dimension, impressions, clicks, spend_cents, conversions)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, date, dimension) DO UPDATE SET
			impressions = excluded.impressions,
			clicks = excluded.clicks,
			spend_cents = excluded.spend_cents,
			conversions = excluded.conversions,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := s.Exec(query,
		m.ProjectID,
		m.Date.Format(window.DateLayout),
		m.Dimension,
		m.Impressions,
		m.Clicks,
		m.SpendCents,
		m.Conversions,
	)
	return err
}

// PresentDates returns the set of dates within the range for which a base
// (total-dimension) daily record exists. Keys use the YYYY-MM-DD layout.
func (s *Store) PresentDates(projectID string, r window.Range) (map[string]bool, error) {
	query := `
		SELECT DISTINCT date
		FROM daily_metrics
		WHERE project_id = ? AND dimension = ? AND date >= ? AND date <= ?
	`

	rows, err := s.Query(query,
		projectID,
		DimensionTotal,
		r.Since.Format(window.DateLayout),
		r.Until.Format(window.DateLayout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, err
		}
		// SQLite may return the stored DATE with a time suffix depending on
		// how it was written; keep only the date part.
		if len(date) > len(window.DateLayout) {
			date = date[:len(window.DateLayout)]
		}
		present[date] = true
	}

	return present, rows.Err()
}

// CountDailyMetrics returns the number of base-dimension records in a range.
func (s *Store) CountDailyMetrics(projectID string, r window.Range) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM daily_metrics
		WHERE project_id = ? AND dimension = ? AND date >= ? AND date <= ?
	`

	var count int
	err := s.QueryRow(query,
		projectID,
		DimensionTotal,
		r.Since.Format(window.DateLayout),
		r.Until.Format(window.DateLayout),
	).Scan(&count)
	return count, err
}

// LatestMetricDate returns the most recent base-dimension date for a project,
// or ErrNotFound when the project has no records at all.
func (s *Store) LatestMetricDate(projectID string) (time.Time, error) {
	query := `
		SELECT MAX(date)
		FROM daily_metrics
		WHERE project_id = ? AND dimension = ?
	`

	var date *string
	if err := s.QueryRow(query, projectID, DimensionTotal).Scan(&date); err != nil {
		return time.Time{}, err
	}
	if date == nil {
		return time.Time{}, ErrNotFound
	}

	d := *date
	if len(d) > len(window.DateLayout) {
		d = d[:len(window.DateLayout)]
	}
	return window.ParseDate(d)
}
