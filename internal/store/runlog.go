package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Typed run-log payloads. One struct per run kind; the run_type column is the
// discriminator, so readers never face an untyped bag of optional keys.

// BackfillPayload summarizes one full backfill run.
type BackfillPayload struct {
	Since         string `json:"since"`
	Until         string `json:"until"`
	TotalBatches  int    `json:"total_batches"`
	FailedBatches int    `json:"failed_batches"`
	Records       int    `json:"records"`
	ElapsedSecs   int    `json:"elapsed_secs"`
	SafeMode      bool   `json:"safe_mode,omitempty"`
}

// MonthUnitPayload summarizes one chained month unit.
type MonthUnitPayload struct {
	Year       int    `json:"year"`
	Month      int    `json:"month"`
	Records    int    `json:"records"`
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error,omitempty"`
}

// GapScanPayload summarizes one gap detection/repair pass.
type GapScanPayload struct {
	Since      string `json:"since"`
	Until      string `json:"until"`
	GapsFound  int    `json:"gaps_found"`
	GapsHealed int    `json:"gaps_healed"`
	Records    int    `json:"records"`
}

// AppendRunLog writes an immutable audit entry with a JSON-encoded payload.
func (s *Store) AppendRunLog(projectID, runType, status string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode run log payload: %w", err)
	}

	query := `
		INSERT INTO run_log (project_id, run_type, status, message)
		VALUES (?, ?, ?, ?)
	`

	_, err = s.Exec(query, projectID, runType, status, string(encoded))
	return err
}

// ListRunLog retrieves the most recent run log entries for a project.
func (s *Store) ListRunLog(projectID string, limit int) ([]RunLogEntry, error) {
	query := `
		SELECT id, project_id, run_type, status, message, created_at
		FROM run_log
		WHERE project_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.Query(query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []RunLogEntry{}
	for rows.Next() {
		var e RunLogEntry
		err := rows.Scan(&e.ID, &e.ProjectID, &e.RunType, &e.Status, &e.Message, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// LastRunLog returns the newest entry of a given run type for a project.
func (s *Store) LastRunLog(projectID, runType string) (*RunLogEntry, error) {
	query := `
		SELECT id, project_id, run_type, status, message, created_at
		FROM run_log
		WHERE project_id = ? AND run_type = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	var e RunLogEntry
	err := s.QueryRow(query, projectID, runType).Scan(
		&e.ID, &e.ProjectID, &e.RunType, &e.Status, &e.Message, &e.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &e, nil
}
