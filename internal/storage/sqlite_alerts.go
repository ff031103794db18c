package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quiet-owl-labs/threattriage/internal/models"
)

type sqliteAlertRepo struct {
	db *sql.DB
}

func (r *sqliteAlertRepo) InsertBatch(ctx context.Context, batch *BatchRecord, alerts []*models.Alert) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO batches (id, source, total_rows, processed, failed, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		batch.ID, batch.Source, batch.TotalRows, batch.Processed, batch.Failed, batch.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO alerts (id, batch_id, ts, ioc_type, ioc_value, event_type,
			country, usage_type, abuse_score, total_reports,
			risk_score, legacy_risk_score, suggested_action, mitre_id,
			ml_priority, confidence_score, record_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, a := range alerts {
		recordJSON, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal alert %s: %w", a.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			a.ID, batch.ID, a.Timestamp, string(a.Indicator.Type), a.Indicator.Value, a.EventCategory,
			a.Summary.Country, a.Summary.UsageType, a.Summary.AbuseScore, a.Summary.TotalReports,
			a.FusedRiskScore, a.LegacyRiskScore, string(a.SuggestedAction), a.Technique.ID,
			a.PriorityLabel, a.Confidence, string(recordJSON), now,
		)
		if err != nil {
			return fmt.Errorf("insert alert %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	var recordJSON string
	err := r.db.QueryRowContext(ctx,
		"SELECT record_json FROM alerts WHERE id = ?", id,
	).Scan(&recordJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query alert: %w", err)
	}
	return unmarshalAlert(recordJSON)
}

func (r *sqliteAlertRepo) ListAll(ctx context.Context) ([]*models.Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT record_json FROM alerts ORDER BY created_at ASC, id ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()
	return scanAlertRecords(rows)
}

func (r *sqliteAlertRepo) ListRecent(ctx context.Context, limit, offset int) ([]*models.Alert, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT record_json FROM alerts ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	alerts, err := scanAlertRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

func (r *sqliteAlertRepo) ListBatches(ctx context.Context, limit int) ([]*BatchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, source, total_rows, processed, failed, processed_at
		 FROM batches ORDER BY processed_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var batches []*BatchRecord
	for rows.Next() {
		b := &BatchRecord{}
		if err := rows.Scan(&b.ID, &b.Source, &b.TotalRows, &b.Processed, &b.Failed, &b.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *sqliteAlertRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts").Scan(&count); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return count, nil
}

func (r *sqliteAlertRepo) DeleteAll(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM alerts",
		"DELETE FROM batches",
		"DELETE FROM high_risk_countries",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func scanAlertRecords(rows *sql.Rows) ([]*models.Alert, error) {
	var alerts []*models.Alert
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a, err := unmarshalAlert(recordJSON)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func unmarshalAlert(recordJSON string) (*models.Alert, error) {
	a := &models.Alert{}
	if err := json.Unmarshal([]byte(recordJSON), a); err != nil {
		return nil, fmt.Errorf("unmarshal alert record: %w", err)
	}
	return a, nil
}
