package store

import (
	"database/sql"
	"time"
)

// EnsureMonthPending creates or re-arms the month unit row for
// (project, year, month). An existing row is reset to pending unless a worker
// currently holds it in the importing state; an errored row keeps its retry
// count and error message for inspection.
func (s *Store) EnsureMonthPending(rec *MonthImportRecord) error {
	query := `
		INSERT INTO month_import_records
			(project_id, year, month, status, continue_chain, safe_mode, not_before)
		VALUES (?, ?, ?, 'pending', ?, ?, ?)
		ON CONFLICT(project_id, year, month) DO UPDATE SET
			status = 'pending',
			continue_chain = excluded.continue_chain,
			safe_mode = excluded.safe_mode,
			not_before = excluded.not_before
		WHERE month_import_records.status != 'importing'
	`

	_, err := s.Exec(query,
		rec.ProjectID,
		rec.Year,
		rec.Month,
		rec.ContinueChain,
		rec.SafeMode,
		rec.NotBefore.UTC(),
	)
	return err
}

// ClaimDueMonth atomically claims the earliest pending month unit whose
// not_before has passed, moving it to importing. Returns ErrNotFound when
// nothing is due.
func (s *Store) ClaimDueMonth(now time.Time) (*MonthImportRecord, error) {
	var rec *MonthImportRecord

	err := s.WithTransaction(func(tx *Tx) error {
		query := `
			SELECT id, project_id, year, month, status, records, retry_count, error,
			       continue_chain, safe_mode, not_before, started_at, completed_at
			FROM month_import_records
			WHERE status = 'pending' AND not_before <= ?
			ORDER BY year, month, project_id
			LIMIT 1
		`

		row := tx.QueryRow(query, now.UTC())
		r, err := scanMonthRecord(row)
		if err != nil {
			return err
		}

		// Guarded update: a concurrent claimer loses the race and sees zero
		// rows affected.
		result, err := tx.Exec(`
			UPDATE month_import_records
			SET status = 'importing', started_at = ?
			WHERE id = ? AND status = 'pending'
		`, now.UTC(), r.ID)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrClaimed
		}

		r.Status = MonthStatusImporting
		started := now.UTC()
		r.StartedAt = &started
		rec = r
		return nil
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return rec, nil
}

// CompleteMonth finalizes a claimed month unit. An error outcome increments
// retry_count and records the message; success clears any prior error.
func (s *Store) CompleteMonth(id int64, status string, records int, errMsg *string, completedAt time.Time) error {
	var query string
	if status == MonthStatusError {
		query = `
			UPDATE month_import_records
			SET status = ?, records = ?, error = ?, retry_count = retry_count + 1, completed_at = ?
			WHERE id = ?
		`
	} else {
		query = `
			UPDATE month_import_records
			SET status = ?, records = ?, error = ?, completed_at = ?
			WHERE id = ?
		`
	}

	result, err := s.Exec(query, status, records, errMsg, completedAt.UTC(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// GetMonth retrieves the month unit row for (project, year, month).
func (s *Store) GetMonth(projectID string, year, month int) (*MonthImportRecord, error) {
	query := `
		SELECT id, project_id, year, month, status, records, retry_count, error,
		       continue_chain, safe_mode, not_before, started_at, completed_at
		FROM month_import_records
		WHERE project_id = ? AND year = ? AND month = ?
	`

	rec, err := scanMonthRecord(s.QueryRow(query, projectID, year, month))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListMonths retrieves all month unit rows for a project in chain order.
func (s *Store) ListMonths(projectID string) ([]*MonthImportRecord, error) {
	query := `
		SELECT id, project_id, year, month, status, records, retry_count, error,
		       continue_chain, safe_mode, not_before, started_at, completed_at
		FROM month_import_records
		WHERE project_id = ?
		ORDER BY year, month
	`

	rows, err := s.Query(query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*MonthImportRecord{}
	for rows.Next() {
		rec, err := scanMonthRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func scanMonthRecord(row scanner) (*MonthImportRecord, error) {
	rec := &MonthImportRecord{}
	var errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.ProjectID,
		&rec.Year,
		&rec.Month,
		&rec.Status,
		&rec.Records,
		&rec.RetryCount,
		&errMsg,
		&rec.ContinueChain,
		&rec.SafeMode,
		&rec.NotBefore,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if errMsg.Valid {
		rec.Error = &errMsg.String
	}
	if startedAt.Valid {
		rec.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}

	return rec, nil
}
