// Package risk implements the deterministic heuristic scoring policy
// and the action recommendation derived from it.
package risk

import (
	"log"
	"time"

	"github.com/quiet-owl-labs/threattriage/internal/models"
)

// Thresholds configure the action cutoffs. Scores at or above High
// recommend an immediate block; at or above Medium, escalation.
type Thresholds struct {
	High   int `yaml:"high"`
	Medium int `yaml:"medium"`
}

// DefaultThresholds returns the stock cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 80, Medium: 50}
}

// categoryIncrements are the fixed per-category score additions.
var categoryIncrements = map[string]int{
	"port_scan":         10,
	"suspicious_login":  20,
	"malware_traffic":   30,
	"brute_force":       25,
	"data_exfiltration": 40,
}

// highRiskUsageTypes is the fixed infrastructure set worth +10.
var highRiskUsageTypes = map[string]bool{
	"Data Center/Web Hosting/Transit": true,
	"Content Delivery Network":        true,
	"Fixed Line ISP":                  true,
}

// Policy scores enrichment data against the configured thresholds.
// It holds no mutable state: the high-risk country snapshot is passed
// in per call so a batch sees one consistent list throughout.
type Policy struct {
	thresholds Thresholds
}

// NewPolicy creates a policy with the given thresholds. Zero values
// fall back to the defaults.
func NewPolicy(t Thresholds) *Policy {
	def := DefaultThresholds()
	if t.High <= 0 {
		t.High = def.High
	}
	if t.Medium <= 0 {
		t.Medium = def.Medium
	}
	return &Policy{thresholds: t}
}

// Thresholds returns the configured cutoffs.
func (p *Policy) Thresholds() Thresholds {
	return p.thresholds
}

// Score computes the legacy heuristic risk score in [0,100] from a
// reputation report and the event category. highRiskCountries is the
// snapshot loaded at the start of the batch. now anchors the recency
// bonus so replays are deterministic.
func (p *Policy) Score(rep *models.AbuseIPDBReport, eventCategory string, highRiskCountries []string, now time.Time) int {
	score := 0
	if rep == nil {
		return 0
	}

	score = rep.AbuseScore
	score += categoryIncrements[eventCategory]

	switch {
	case rep.TotalReports > 50:
		score += 15
	case rep.TotalReports > 20:
		score += 10
	case rep.TotalReports > 5:
		score += 5
	}

	score += recencyBonus(rep.LastReportedAt, now)

	if highRiskUsageTypes[rep.UsageType] {
		score += 10
	}

	for _, c := range highRiskCountries {
		if c == rep.Country {
			score += 5
			break
		}
	}

	return models.ClampScore(score)
}

// recencyBonus rewards recently reported indicators. Unparseable
// timestamps yield no bonus, never an error.
func recencyBonus(lastReported string, now time.Time) int {
	if lastReported == "" {
		return 0
	}
	ts, err := time.Parse(time.RFC3339, lastReported)
	if err != nil {
		log.Printf("[risk] invalid last_reported_at %q: %v", lastReported, err)
		return 0
	}
	days := int(now.Sub(ts).Hours() / 24)
	switch {
	case days <= 3:
		return 10
	case days <= 7:
		return 5
	default:
		return 0
	}
}

// SuggestAction maps a score to the recommended action.
func (p *Policy) SuggestAction(score int) models.Action {
	switch {
	case score >= p.thresholds.High:
		return models.ActionBlock
	case score >= p.thresholds.Medium:
		return models.ActionEscalate
	default:
		return models.ActionMonitor
	}
}
