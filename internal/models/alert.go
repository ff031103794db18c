// Package models defines the core data types shared across the
// ThreatTriage pipeline: indicators, enrichment records, alerts, and
// the stage bookkeeping attached to each processed alert.
package models

import (
	"fmt"
	"strings"
)

// IndicatorType identifies the kind of IOC an alert refers to.
type IndicatorType string

const (
	IndicatorIP     IndicatorType = "ip"
	IndicatorDomain IndicatorType = "domain"
	IndicatorHash   IndicatorType = "hash"
	IndicatorURL    IndicatorType = "url"
)

// ParseIndicatorType converts a string to an IndicatorType.
// Unknown values are rejected so malformed rows fail early.
func ParseIndicatorType(s string) (IndicatorType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ip":
		return IndicatorIP, nil
	case "domain":
		return IndicatorDomain, nil
	case "hash":
		return IndicatorHash, nil
	case "url":
		return IndicatorURL, nil
	default:
		return "", fmt.Errorf("unsupported ioc_type %q", s)
	}
}

// Indicator is an immutable IOC identity: (type, value).
type Indicator struct {
	Type  IndicatorType `json:"ioc_type"`
	Value string        `json:"ioc_value"`
}

// Key returns the identity key used by the history index.
func (i Indicator) Key() string {
	return string(i.Type) + "::" + i.Value
}

// Action is the recommended response for an alert.
type Action string

const (
	ActionMonitor  Action = "MONITOR"
	ActionEscalate Action = "ESCALATE TO TIER 2"
	ActionBlock    Action = "BLOCK IMMEDIATELY"
)

// Technique is a MITRE ATT&CK taxonomy entry mapped from an event category.
type Technique struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Tactic string `json:"tactic"`
}

// AbuseIPDBReport is the normalized AbuseIPDB reputation payload.
type AbuseIPDBReport struct {
	AbuseScore     int    `json:"abuse_score"`
	Country        string `json:"country"`
	Source         string `json:"source"`
	TotalReports   int    `json:"total_reports"`
	LastReportedAt string `json:"last_reported_at,omitempty"`
	UsageType      string `json:"usage_type,omitempty"`
	ASN            int    `json:"asn,omitempty"`
}

// VirusTotalReport carries the multi-engine analysis stats for an IOC.
type VirusTotalReport struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Harmless   int `json:"harmless"`
	Undetected int `json:"undetected"`
}

// GeoIPReport is the offline GeoIP lookup payload. It contributes
// context to the enrichment record, never to the fused score.
type GeoIPReport struct {
	Country string `json:"country"`
	City    string `json:"city,omitempty"`
	ASN     uint   `json:"asn,omitempty"`
	ASNOrg  string `json:"asn_org,omitempty"`
}

// SourceResult is a tagged variant: exactly one payload pointer is set
// on success, or Error describes the typed failure for that source.
type SourceResult struct {
	AbuseIPDB  *AbuseIPDBReport  `json:"abuseipdb,omitempty"`
	VirusTotal *VirusTotalReport `json:"virustotal,omitempty"`
	GeoIP      *GeoIPReport      `json:"geoip,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Failed reports whether this source degraded to an error payload.
func (r SourceResult) Failed() bool {
	return r.Error != ""
}

// EnrichmentRecord holds per-source sub-records keyed by source name
// plus the combined risk score. Owned by exactly one Alert.
type EnrichmentRecord struct {
	Sources        map[string]SourceResult `json:"sources"`
	FusedRiskScore int                     `json:"risk_score"`
}

// SourceNames returns the names of sources present in the record,
// successful or degraded.
func (e *EnrichmentRecord) SourceNames() []string {
	names := make([]string, 0, len(e.Sources))
	for name := range e.Sources {
		names = append(names, name)
	}
	return names
}

// AbuseIPDB returns the AbuseIPDB payload, or nil if that source is
// absent or degraded.
func (e *EnrichmentRecord) AbuseIPDB() *AbuseIPDBReport {
	if e == nil {
		return nil
	}
	if r, ok := e.Sources["abuseipdb"]; ok {
		return r.AbuseIPDB
	}
	return nil
}

// EnrichmentSummary is the flattened reputation view consumed by the
// risk policy, the classifier feature vector, and the training dataset.
type EnrichmentSummary struct {
	AbuseScore   int    `json:"abuse_score"`
	Country      string `json:"country"`
	UsageType    string `json:"usage_type"`
	TotalReports int    `json:"total_reports"`
	Source       string `json:"source"`
}

// Summarize flattens the enrichment record into the summary fields.
// Missing reputation data yields the zero summary with "unknown" strings.
func (e *EnrichmentRecord) Summarize() EnrichmentSummary {
	s := EnrichmentSummary{Country: "unknown", UsageType: "unknown", Source: "fusion"}
	if rep := e.AbuseIPDB(); rep != nil {
		s.AbuseScore = rep.AbuseScore
		s.TotalReports = rep.TotalReports
		if rep.Country != "" {
			s.Country = rep.Country
		}
		if rep.UsageType != "" {
			s.UsageType = rep.UsageType
		}
	}
	return s
}

// StageStatus records how a pipeline stage ended for one alert.
type StageStatus string

const (
	StageOK       StageStatus = "ok"
	StageDegraded StageStatus = "degraded"
	StageFailed   StageStatus = "failed"
)

// StageResult is the per-stage outcome attached to a processed alert.
type StageResult struct {
	Stage  string      `json:"stage"`
	Status StageStatus `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// Alert is the unit of work flowing through the pipeline. Each stage
// adds fields additively; once appended to a persisted batch the record
// is immutable.
type Alert struct {
	ID            string    `json:"id"`
	Timestamp     string    `json:"timestamp"`
	Indicator     Indicator `json:"indicator"`
	EventCategory string    `json:"event_type"`

	Enrichment *EnrichmentRecord `json:"enrichment,omitempty"`
	Summary    EnrichmentSummary `json:"summary"`

	FusedRiskScore  int    `json:"risk_score"`
	LegacyRiskScore int    `json:"legacy_risk_score"`
	SuggestedAction Action `json:"suggested_action"`

	Technique Technique `json:"mitre_technique"`

	SeenBefore bool   `json:"ioc_seen_before"`
	SeenCount  int    `json:"seen_count"`
	LastSeen   string `json:"last_seen,omitempty"`

	PriorityLabel string  `json:"ml_priority"`
	Confidence    float64 `json:"confidence_score"`

	Stages     []StageResult `json:"stages,omitempty"`
	NotifiedTo []string      `json:"notified_to,omitempty"`
}

// RecordStage appends a stage outcome to the alert.
func (a *Alert) RecordStage(stage string, status StageStatus, err error) {
	r := StageResult{Stage: stage, Status: status}
	if err != nil {
		r.Error = err.Error()
	}
	a.Stages = append(a.Stages, r)
}

// Degraded reports whether any stage ended degraded or failed.
func (a *Alert) Degraded() bool {
	for _, s := range a.Stages {
		if s.Status != StageOK {
			return true
		}
	}
	return false
}

// ClampScore bounds a risk score to [0,100].
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// ClampConfidence bounds a classifier confidence to [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
