package health

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteChecker checks SQLite database connectivity.
type SQLiteChecker struct {
	db *sql.DB
}

// NewSQLiteChecker creates a new SQLite health checker.
func NewSQLiteChecker(db *sql.DB) *SQLiteChecker {
	return &SQLiteChecker{db: db}
}

// Name returns the checker name.
func (c *SQLiteChecker) Name() string {
	return "sqlite"
}

// Check verifies the SQLite database is accessible.
func (c *SQLiteChecker) Check(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return c.db.PingContext(ctx)
}

// ModelChecker reports whether a trained model version is loadable.
// Not being trained yet is a degraded state, surfaced in readiness so
// operators see the "train first" condition without hitting the API.
type ModelChecker struct {
	latest func() (string, error)
}

// NewModelChecker creates a checker over a version lookup.
func NewModelChecker(latest func() (string, error)) *ModelChecker {
	return &ModelChecker{latest: latest}
}

// Name returns the checker name.
func (c *ModelChecker) Name() string {
	return "model"
}

// Check verifies a model version exists.
func (c *ModelChecker) Check(ctx context.Context) error {
	if c.latest == nil {
		return fmt.Errorf("model registry not configured")
	}
	_, err := c.latest()
	return err
}
