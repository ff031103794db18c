package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/quiet-owl-labs/threattriage/internal/models"
)

const abuseIPDBBaseURL = "https://api.abuseipdb.com/api/v2"

// AbuseIPDBConfig holds the AbuseIPDB client configuration.
type AbuseIPDBConfig struct {
	APIKey  string
	BaseURL string // overridable for tests
	MaxAge  int    // maxAgeInDays query parameter (default 90)
}

// AbuseIPDBClient queries the AbuseIPDB reputation API for IP indicators.
type AbuseIPDBClient struct {
	config     AbuseIPDBConfig
	httpClient *http.Client
}

// NewAbuseIPDBClient creates an AbuseIPDB connector.
func NewAbuseIPDBClient(config AbuseIPDBConfig) *AbuseIPDBClient {
	if config.BaseURL == "" {
		config.BaseURL = abuseIPDBBaseURL
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 90
	}
	return &AbuseIPDBClient{
		config:     config,
		httpClient: &http.Client{Timeout: DefaultLookupTimeout},
	}
}

// Name returns "abuseipdb".
func (c *AbuseIPDBClient) Name() string {
	return "abuseipdb"
}

// Supports reports true only for IP indicators.
func (c *AbuseIPDBClient) Supports(t models.IndicatorType) bool {
	return t == models.IndicatorIP
}

// abuseIPDBResponse mirrors the check endpoint envelope.
type abuseIPDBResponse struct {
	Data struct {
		AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
		CountryCode          string `json:"countryCode"`
		TotalReports         int    `json:"totalReports"`
		LastReportedAt       string `json:"lastReportedAt"`
		UsageType            string `json:"usageType"`
		ASN                  int    `json:"asn"`
	} `json:"data"`
}

// Lookup fetches the reputation report for an IP.
func (c *AbuseIPDBClient) Lookup(ctx context.Context, ind models.Indicator) (models.SourceResult, error) {
	if c.config.APIKey == "" {
		return models.SourceResult{}, ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/check?ipAddress=%s&maxAgeInDays=%d",
		c.config.BaseURL, url.QueryEscape(ind.Value), c.config.MaxAge)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.SourceResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Key", c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.SourceResult{}, fmt.Errorf("abuseipdb request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.SourceResult{}, fmt.Errorf("abuseipdb status %d: %s", resp.StatusCode, string(body))
	}

	var parsed abuseIPDBResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return models.SourceResult{}, fmt.Errorf("decode abuseipdb response: %w", err)
	}

	report := &models.AbuseIPDBReport{
		AbuseScore:     parsed.Data.AbuseConfidenceScore,
		Country:        parsed.Data.CountryCode,
		Source:         "abuseipdb",
		TotalReports:   parsed.Data.TotalReports,
		LastReportedAt: parsed.Data.LastReportedAt,
		UsageType:      parsed.Data.UsageType,
		ASN:            parsed.Data.ASN,
	}
	if report.Country == "" {
		report.Country = "unknown"
	}
	return models.SourceResult{AbuseIPDB: report}, nil
}

// MockAbuseIPDB returns deterministic canned reputation data. Used when
// the server runs in debug mode and by tests.
type MockAbuseIPDB struct{}

// Name returns "abuseipdb" so the mock slots into the same record key.
func (MockAbuseIPDB) Name() string { return "abuseipdb" }

// Supports reports true only for IP indicators.
func (MockAbuseIPDB) Supports(t models.IndicatorType) bool { return t == models.IndicatorIP }

// Lookup returns the canned report.
func (MockAbuseIPDB) Lookup(ctx context.Context, ind models.Indicator) (models.SourceResult, error) {
	return models.SourceResult{AbuseIPDB: &models.AbuseIPDBReport{
		AbuseScore:     75,
		Country:        "RU",
		Source:         "mock",
		TotalReports:   30,
		LastReportedAt: "2024-12-01T11:22:00+00:00",
		UsageType:      "Data Center/Web Hosting/Transit",
		ASN:            9009,
	}}, nil
}
