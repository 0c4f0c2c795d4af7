package store

import (
	"database/sql"
)

// CreateProject inserts a new project record.
func (s *Store) CreateProject(p *Project) error {
	query := `
		INSERT INTO projects (id, ad_account_id, name, timezone, archived)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.Exec(query, p.ID, p.AdAccountID, p.Name, p.Timezone, p.Archived)
	if IsDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// GetProject retrieves a project by ID.
func (s *Store) GetProject(id string) (*Project, error) {
	query := `
		SELECT id, ad_account_id, name, timezone, archived,
		       sync_status, sync_percent, sync_message, sync_started_at,
		       created_at, updated_at
		FROM projects
		WHERE id = ?
	`

	return scanProject(s.QueryRow(query, id))
}

// ListActiveProjects retrieves all non-archived projects.
func (s *Store) ListActiveProjects() ([]*Project, error) {
	query := `
		SELECT id, ad_account_id, name, timezone, archived,
		       sync_status, sync_percent, sync_message, sync_started_at,
		       created_at, updated_at
		FROM projects
		WHERE archived = 0
		ORDER BY name
	`

	rows, err := s.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []*Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}

	return projects, rows.Err()
}

// UpdateSyncProgress overwrites the project's progress snapshot in place.
func (s *Store) UpdateSyncProgress(projectID string, progress SyncProgress) error {
	query := `
		UPDATE projects
		SET sync_status = ?, sync_percent = ?, sync_message = ?,
		    sync_started_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := s.Exec(query,
		progress.Status,
		progress.Percent,
		progress.Message,
		progress.StartedAt,
		projectID,
	)
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

// GetSyncProgress returns the project's current progress snapshot, or
// ErrNotFound when none has been written yet.
func (s *Store) GetSyncProgress(projectID string) (*SyncProgress, error) {
	p, err := s.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	if p.Progress == nil {
		return nil, ErrNotFound
	}
	return p.Progress, nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan logic
type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (*Project, error) {
	p := &Project{}
	var status, message sql.NullString
	var percent sql.NullInt64
	var startedAt sql.NullTime

	err := row.Scan(
		&p.ID,
		&p.AdAccountID,
		&p.Name,
		&p.Timezone,
		&p.Archived,
		&status,
		&percent,
		&message,
		&startedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if status.Valid {
		p.Progress = &SyncProgress{
			Status:  status.String,
			Percent: int(percent.Int64),
			Message: message.String,
		}
		if startedAt.Valid {
			p.Progress.StartedAt = startedAt.Time
		}
	}

	return p, nil
}
