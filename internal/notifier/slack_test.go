package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quiet-owl-labs/threattriage/internal/models"
)

func sampleAlert() *models.Alert {
	return &models.Alert{
		ID:            "a1b2c3",
		Timestamp:     "2025-06-01T10:30:00Z",
		Indicator:     models.Indicator{Type: models.IndicatorIP, Value: "203.0.113.5"},
		EventCategory: "brute_force",
		Enrichment: &models.EnrichmentRecord{
			Sources: map[string]models.SourceResult{
				"abuseipdb":  {AbuseIPDB: &models.AbuseIPDBReport{AbuseScore: 90, Country: "RU"}},
				"virustotal": {VirusTotal: &models.VirusTotalReport{Malicious: 4}},
			},
			FusedRiskScore: 100,
		},
		Summary:         models.EnrichmentSummary{AbuseScore: 90, Country: "RU", UsageType: "Fixed Line ISP", TotalReports: 60, Source: "fusion"},
		FusedRiskScore:  100,
		LegacyRiskScore: 100,
		SuggestedAction: models.ActionBlock,
		Technique:       models.Technique{ID: "T1110", Name: "Brute Force", Tactic: "Credential Access"},
		SeenBefore:      true,
		SeenCount:       3,
		LastSeen:        "2025-05-20T08:00:00Z",
		PriorityLabel:   string(models.ActionBlock),
		Confidence:      0.92,
	}
}

func TestSlackConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  SlackConfig
		wantErr bool
		errMsg  string
	}{
		{
			name:    "empty config",
			config:  SlackConfig{},
			wantErr: true,
			errMsg:  "webhook URL is required",
		},
		{
			name: "http URL rejected",
			config: SlackConfig{
				WebhookURL: "http://hooks.slack.com/services/xxx",
			},
			wantErr: true,
			errMsg:  "webhook URL must use HTTPS",
		},
		{
			name: "valid config",
			config: SlackConfig{
				WebhookURL: "https://hooks.slack.com/services/T00/B00/xxx",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error containing %q, got nil", tt.errMsg)
				} else if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSlackNotifierName(t *testing.T) {
	notifier := &SlackNotifier{}
	if got := notifier.Name(); got != "slack" {
		t.Errorf("Name() = %q, want %q", got, "slack")
	}
}

func TestSlackNotifierSend(t *testing.T) {
	var receivedPayload slackMessage

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", ct)
		}

		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &receivedPayload); err != nil {
			t.Errorf("failed to unmarshal payload: %v", err)
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	// Use test server URL (allow non-HTTPS for testing)
	notifier := &SlackNotifier{
		config: SlackConfig{
			WebhookURL: server.URL,
			ReportURL:  "https://triage.example.com",
		},
		httpClient: server.Client(),
	}

	if err := notifier.Send(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if len(receivedPayload.Blocks) == 0 {
		t.Fatal("expected non-empty blocks in payload")
	}

	header := receivedPayload.Blocks[0]
	if header.Type != "header" {
		t.Errorf("first block type = %q, want %q", header.Type, "header")
	}
	if header.Text == nil || !strings.Contains(header.Text.Text, "203.0.113.5") {
		t.Errorf("header text missing IOC value: %+v", header.Text)
	}

	joined, _ := json.Marshal(receivedPayload)
	for _, want := range []string{"T1110", "BLOCK IMMEDIATELY", "RU", "brute_force", "abuseipdb", "View Report", "/alerts/a1b2c3"} {
		if !strings.Contains(string(joined), want) {
			t.Errorf("payload missing %q", want)
		}
	}
}

func TestSlackNotifierSendAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("invalid_blocks"))
	}))
	defer server.Close()

	notifier := &SlackNotifier{
		config:     SlackConfig{WebhookURL: server.URL},
		httpClient: server.Client(),
	}

	err := notifier.Send(context.Background(), sampleAlert())
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	if !strings.Contains(err.Error(), "status 400") {
		t.Errorf("error = %q, want status 400 mention", err.Error())
	}
}

func TestPriorityEmoji(t *testing.T) {
	tests := []struct {
		priority string
		want     string
	}{
		{string(models.ActionBlock), "\U0001F534"},
		{string(models.ActionEscalate), "\U0001F7E0"},
		{string(models.ActionMonitor), "\U0001F7E2"},
		{"monitor", "\U0001F7E2"}, // case-insensitive
		{"unclassified", "⚪"},
	}

	for _, tt := range tests {
		if got := priorityEmoji(tt.priority); got != tt.want {
			t.Errorf("priorityEmoji(%q) = %q, want %q", tt.priority, got, tt.want)
		}
	}
}
