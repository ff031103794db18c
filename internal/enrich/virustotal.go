package enrich

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/quiet-owl-labs/threattriage/internal/models"
)

const virusTotalBaseURL = "https://www.virustotal.com/api/v3"

// VirusTotalConfig holds the VirusTotal client configuration.
type VirusTotalConfig struct {
	APIKey  string
	BaseURL string // overridable for tests
}

// VirusTotalClient queries the VirusTotal v3 API. It supports all four
// indicator types; URLs are addressed by their unpadded URL-safe base64 id.
type VirusTotalClient struct {
	config     VirusTotalConfig
	httpClient *http.Client
}

// NewVirusTotalClient creates a VirusTotal connector.
func NewVirusTotalClient(config VirusTotalConfig) *VirusTotalClient {
	if config.BaseURL == "" {
		config.BaseURL = virusTotalBaseURL
	}
	return &VirusTotalClient{
		config:     config,
		httpClient: &http.Client{Timeout: DefaultLookupTimeout},
	}
}

// Name returns "virustotal".
func (c *VirusTotalClient) Name() string {
	return "virustotal"
}

// Supports reports true for every indicator type.
func (c *VirusTotalClient) Supports(t models.IndicatorType) bool {
	switch t {
	case models.IndicatorIP, models.IndicatorDomain, models.IndicatorHash, models.IndicatorURL:
		return true
	}
	return false
}

// vtResponse mirrors the subset of the object envelope we consume.
type vtResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats struct {
				Malicious  int `json:"malicious"`
				Suspicious int `json:"suspicious"`
				Harmless   int `json:"harmless"`
				Undetected int `json:"undetected"`
			} `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// endpointFor builds the API path for an indicator.
func (c *VirusTotalClient) endpointFor(ind models.Indicator) (string, error) {
	switch ind.Type {
	case models.IndicatorIP:
		return c.config.BaseURL + "/ip_addresses/" + url.PathEscape(ind.Value), nil
	case models.IndicatorDomain:
		return c.config.BaseURL + "/domains/" + url.PathEscape(ind.Value), nil
	case models.IndicatorHash:
		return c.config.BaseURL + "/files/" + url.PathEscape(ind.Value), nil
	case models.IndicatorURL:
		id := strings.TrimRight(base64.URLEncoding.EncodeToString([]byte(ind.Value)), "=")
		return c.config.BaseURL + "/urls/" + id, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedIndicator, ind.Type)
	}
}

// Lookup fetches the analysis report for an indicator.
func (c *VirusTotalClient) Lookup(ctx context.Context, ind models.Indicator) (models.SourceResult, error) {
	if c.config.APIKey == "" {
		return models.SourceResult{}, ErrNotConfigured
	}

	endpoint, err := c.endpointFor(ind)
	if err != nil {
		return models.SourceResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.SourceResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-apikey", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.SourceResult{}, fmt.Errorf("virustotal request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return models.SourceResult{}, fmt.Errorf("virustotal status %d", resp.StatusCode)
	}

	var parsed vtResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return models.SourceResult{}, fmt.Errorf("decode virustotal response: %w", err)
	}

	stats := parsed.Data.Attributes.LastAnalysisStats
	return models.SourceResult{VirusTotal: &models.VirusTotalReport{
		Malicious:  stats.Malicious,
		Suspicious: stats.Suspicious,
		Harmless:   stats.Harmless,
		Undetected: stats.Undetected,
	}}, nil
}
