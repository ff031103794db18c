package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Processed ingest batches
			CREATE TABLE IF NOT EXISTS batches (
				id TEXT PRIMARY KEY,
				source TEXT NOT NULL,
				total_rows INTEGER NOT NULL,
				processed INTEGER NOT NULL,
				failed INTEGER NOT NULL,
				processed_at DATETIME NOT NULL
			);

			-- Triaged alert records. Hot columns are broken out for
			-- aggregation; record_json holds the full record.
			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				batch_id TEXT NOT NULL,
				ts TEXT NOT NULL,
				ioc_type TEXT NOT NULL,
				ioc_value TEXT NOT NULL,
				event_type TEXT NOT NULL,
				country TEXT NOT NULL DEFAULT 'unknown',
				usage_type TEXT NOT NULL DEFAULT 'unknown',
				abuse_score INTEGER NOT NULL DEFAULT 0,
				total_reports INTEGER NOT NULL DEFAULT 0,
				risk_score INTEGER NOT NULL,
				legacy_risk_score INTEGER NOT NULL,
				suggested_action TEXT NOT NULL,
				mitre_id TEXT NOT NULL DEFAULT 'T0000',
				ml_priority TEXT NOT NULL DEFAULT 'unclassified',
				confidence_score REAL NOT NULL DEFAULT 0,
				record_json TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (batch_id) REFERENCES batches(id) ON DELETE CASCADE
			);

			-- Derived high-risk country list, replaced wholesale
			CREATE TABLE IF NOT EXISTS high_risk_countries (
				country TEXT PRIMARY KEY,
				alert_count INTEGER NOT NULL,
				refreshed_at DATETIME NOT NULL
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_alerts_batch ON alerts(batch_id);
			CREATE INDEX IF NOT EXISTS idx_alerts_ioc ON alerts(ioc_type, ioc_value);
			CREATE INDEX IF NOT EXISTS idx_alerts_risk ON alerts(risk_score);
			CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		_, err = tx.Exec(m.Up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
