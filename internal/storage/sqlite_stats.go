package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type sqliteStatsRepo struct {
	db *sql.DB
}

func (r *sqliteStatsRepo) ReplaceHighRiskCountries(ctx context.Context, counts []CountryCount) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM high_risk_countries"); err != nil {
		return fmt.Errorf("clear high risk countries: %w", err)
	}

	now := time.Now()
	for _, c := range counts {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO high_risk_countries (country, alert_count, refreshed_at) VALUES (?, ?, ?)",
			c.Country, c.Count, now,
		)
		if err != nil {
			return fmt.Errorf("insert country %s: %w", c.Country, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit countries: %w", err)
	}
	return nil
}

func (r *sqliteStatsRepo) HighRiskCountries(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT country FROM high_risk_countries ORDER BY alert_count DESC, country ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("query high risk countries: %w", err)
	}
	defer rows.Close()

	var countries []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan country: %w", err)
		}
		countries = append(countries, c)
	}
	return countries, rows.Err()
}

func (r *sqliteStatsRepo) HighRiskCountryCounts(ctx context.Context, batchID string, minScore, n int) ([]CountryCount, error) {
	if n <= 0 {
		n = 15
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT country, COUNT(*) AS cnt
		FROM alerts
		WHERE batch_id = ? AND risk_score >= ? AND country != 'unknown'
		GROUP BY country
		ORDER BY cnt DESC, country ASC
		LIMIT ?
	`, batchID, minScore, n)
	if err != nil {
		return nil, fmt.Errorf("query country counts: %w", err)
	}
	defer rows.Close()

	var counts []CountryCount
	for rows.Next() {
		var c CountryCount
		if err := rows.Scan(&c.Country, &c.Count); err != nil {
			return nil, fmt.Errorf("scan country count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (r *sqliteStatsRepo) ThreatSummary(ctx context.Context) (*ThreatSummary, error) {
	s := &ThreatSummary{
		ByIOCType:          make(map[string]int64),
		ByPriority:         make(map[string]int64),
		ByCountry:          make(map[string]int64),
		ByTechnique:        make(map[string]int64),
		AvgScoreByPriority: make(map[string]float64),
	}

	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts").Scan(&s.TotalAlerts); err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}

	countQueries := []struct {
		column string
		dest   map[string]int64
	}{
		{"ioc_type", s.ByIOCType},
		{"ml_priority", s.ByPriority},
		{"country", s.ByCountry},
		{"mitre_id", s.ByTechnique},
	}
	for _, q := range countQueries {
		if err := r.countBy(ctx, q.column, q.dest); err != nil {
			return nil, err
		}
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT ml_priority, AVG(legacy_risk_score) FROM alerts GROUP BY ml_priority",
	)
	if err != nil {
		return nil, fmt.Errorf("query avg scores: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var priority string
		var avg float64
		if err := rows.Scan(&priority, &avg); err != nil {
			return nil, fmt.Errorf("scan avg score: %w", err)
		}
		s.AvgScoreByPriority[priority] = avg
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return s, nil
}

// countBy fills dest with GROUP BY counts for one column. The column
// name comes from a fixed internal list, never from user input.
func (r *sqliteStatsRepo) countBy(ctx context.Context, column string, dest map[string]int64) error {
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM alerts GROUP BY %s", column, column)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query %s counts: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		dest[key] = count
	}
	return rows.Err()
}
