// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/quiet-owl-labs/threattriage/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Alerts() AlertRepository
	Stats() StatsRepository
}

// BatchRecord summarizes one processed ingest batch.
type BatchRecord struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"` // api, kafka, cli
	TotalRows   int       `json:"total_rows"`
	Processed   int       `json:"processed"`
	Failed      int       `json:"failed"`
	ProcessedAt time.Time `json:"processed_at"`
}

// AlertRepository defines operations for persisted alert records.
type AlertRepository interface {
	// InsertBatch persists a batch summary and its alert records in one
	// transaction.
	InsertBatch(ctx context.Context, batch *BatchRecord, alerts []*models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	// ListAll returns every persisted alert, oldest first. Feeds the
	// history index and dataset regeneration.
	ListAll(ctx context.Context) ([]*models.Alert, error)
	ListRecent(ctx context.Context, limit, offset int) ([]*models.Alert, int64, error)
	ListBatches(ctx context.Context, limit int) ([]*BatchRecord, error)
	Count(ctx context.Context) (int64, error)
	// DeleteAll removes all alert records and batches. Used by model
	// reset to clear derived data.
	DeleteAll(ctx context.Context) error
}

// CountryCount pairs a country code with its high-risk alert count.
type CountryCount struct {
	Country string `json:"country"`
	Count   int    `json:"count"`
}

// ThreatSummary is the aggregate view over persisted alerts.
type ThreatSummary struct {
	TotalAlerts        int64              `json:"total_alerts"`
	ByIOCType          map[string]int64   `json:"ioc_types"`
	ByPriority         map[string]int64   `json:"ml_priority"`
	ByCountry          map[string]int64   `json:"countries"`
	ByTechnique        map[string]int64   `json:"mitre_techniques"`
	AvgScoreByPriority map[string]float64 `json:"avg_legacy_score_by_priority"`
}

// StatsRepository defines operations for derived statistics.
type StatsRepository interface {
	// ReplaceHighRiskCountries replaces the stored list wholesale.
	ReplaceHighRiskCountries(ctx context.Context, counts []CountryCount) error
	// HighRiskCountries returns the stored country codes, highest count
	// first.
	HighRiskCountries(ctx context.Context) ([]string, error)
	// HighRiskCountryCounts computes counts from the alerts persisted
	// under batchID with fused score at or above minScore, top n by
	// frequency.
	HighRiskCountryCounts(ctx context.Context, batchID string, minScore, n int) ([]CountryCount, error)
	// ThreatSummary aggregates persisted alerts.
	ThreatSummary(ctx context.Context) (*ThreatSummary, error)
}
