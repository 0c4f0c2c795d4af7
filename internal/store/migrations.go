package store

import (
	"fmt"
)

// Migrate runs all pending schema migrations.
func (s *Store) Migrate() error {
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := s.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE projects (
					id TEXT PRIMARY KEY,
					ad_account_id TEXT NOT NULL,
					name TEXT NOT NULL,
					timezone TEXT NOT NULL DEFAULT 'UTC',
					archived INTEGER NOT NULL DEFAULT 0,
					sync_status TEXT,
					sync_percent INTEGER,
					sync_message TEXT,
					sync_started_at DATETIME,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE daily_metrics (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					project_id TEXT NOT NULL,
					date DATE NOT NULL,
					dimension TEXT NOT NULL DEFAULT 'total',
					impressions INTEGER NOT NULL DEFAULT 0,
					clicks INTEGER NOT NULL DEFAULT 0,
					spend_cents INTEGER NOT NULL DEFAULT 0,
					conversions INTEGER NOT NULL DEFAULT 0,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(project_id, date, dimension),
					FOREIGN KEY(project_id) REFERENCES projects(id)
				);

				CREATE TABLE run_log (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					project_id TEXT NOT NULL,
					run_type TEXT NOT NULL,
					status TEXT NOT NULL,
					message TEXT NOT NULL,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			version: 2,
			sql: `
				CREATE TABLE month_import_records (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					project_id TEXT NOT NULL,
					year INTEGER NOT NULL,
					month INTEGER NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending',
					records INTEGER NOT NULL DEFAULT 0,
					retry_count INTEGER NOT NULL DEFAULT 0,
					error TEXT,
					continue_chain INTEGER NOT NULL DEFAULT 0,
					safe_mode INTEGER NOT NULL DEFAULT 0,
					not_before DATETIME NOT NULL,
					started_at DATETIME,
					completed_at DATETIME,
					UNIQUE(project_id, year, month),
					FOREIGN KEY(project_id) REFERENCES projects(id)
				);

				CREATE INDEX idx_month_imports_due
					ON month_import_records(status, not_before);
			`,
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		err := s.WithTransaction(func(tx *Tx) error {
			if _, err := tx.Exec(m.sql); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (s *Store) SchemaVersion() (int, error) {
	var version int
	err := s.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
