package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quiet-owl-labs/threattriage/internal/models"
)

// SlackConfig holds Slack webhook configuration.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"` // Slack incoming webhook URL
	ReportURL  string `yaml:"report_url"`  // Optional base URL for the "View Report" button
}

// Validate validates the Slack configuration.
func (c *SlackConfig) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// SlackNotifier sends triaged alerts to Slack via incoming webhook.
type SlackNotifier struct {
	config     SlackConfig
	httpClient *http.Client
}

// NewSlackNotifier creates a new Slack notifier.
func NewSlackNotifier(config SlackConfig) (*SlackNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid slack config: %w", err)
	}

	return &SlackNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns "slack".
func (s *SlackNotifier) Name() string {
	return "slack"
}

// Send posts an alert payload to the configured webhook.
func (s *SlackNotifier) Send(ctx context.Context, alert *models.Alert) error {
	payload := s.buildPayload(alert)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// Close is a no-op for Slack notifier.
func (s *SlackNotifier) Close() error {
	return nil
}

// slackMessage represents the Slack webhook payload.
type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

// slackBlock represents a Slack Block Kit block.
type slackBlock struct {
	Type     string        `json:"type"`
	Text     *slackText    `json:"text,omitempty"`
	Fields   []slackText   `json:"fields,omitempty"`
	Elements []interface{} `json:"elements,omitempty"`
}

// slackText represents text in Slack Block Kit.
type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// slackButton is a Block Kit button element.
type slackButton struct {
	Type string    `json:"type"`
	Text slackText `json:"text"`
	URL  string    `json:"url"`
}

// buildPayload builds the Slack Block Kit message for a triaged alert.
func (s *SlackNotifier) buildPayload(alert *models.Alert) slackMessage {
	emoji := priorityEmoji(alert.PriorityLabel)

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{
				Type:  "plain_text",
				Text:  fmt.Sprintf("%s ThreatTriage Alert: %s", emoji, alert.Indicator.Value),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Priority:*\n%s %s", emoji, strings.ToUpper(alert.PriorityLabel)),
				},
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Confidence:*\n%.0f%%", alert.Confidence*100),
				},
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*IOC:*\n`%s` (%s)", alert.Indicator.Value, alert.Indicator.Type),
				},
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Risk Score:*\n%d / 100", alert.FusedRiskScore),
				},
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Event:*\n%s", alert.EventCategory),
				},
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Country:*\n%s", alert.Summary.Country),
				},
			},
		},
	}

	if alert.Technique.ID != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*MITRE:*\n%s — %s (%s)", alert.Technique.ID, alert.Technique.Name, alert.Technique.Tactic),
			},
		})
	}

	if alert.SeenBefore {
		blocks = append(blocks, slackBlock{
			Type: "context",
			Elements: []interface{}{
				slackText{
					Type: "mrkdwn",
					Text: fmt.Sprintf("Seen before: %d prior sightings, last %s", alert.SeenCount, alert.LastSeen),
				},
			},
		})
	}

	if alert.Enrichment != nil && len(alert.Enrichment.Sources) > 0 {
		names := alert.Enrichment.SourceNames()
		blocks = append(blocks, slackBlock{
			Type: "context",
			Elements: []interface{}{
				slackText{
					Type: "mrkdwn",
					Text: fmt.Sprintf("Sources: %s", strings.Join(names, ", ")),
				},
			},
		})
	}

	if s.config.ReportURL != "" {
		blocks = append(blocks, slackBlock{
			Type: "actions",
			Elements: []interface{}{
				slackButton{
					Type: "button",
					Text: slackText{Type: "plain_text", Text: "View Report", Emoji: true},
					URL:  fmt.Sprintf("%s/alerts/%s", strings.TrimRight(s.config.ReportURL, "/"), alert.ID),
				},
			},
		})
	}

	return slackMessage{Blocks: blocks}
}

// priorityEmoji returns an emoji for the classifier priority label.
func priorityEmoji(priority string) string {
	switch strings.ToUpper(priority) {
	case string(models.ActionBlock):
		return "\U0001F534" // red circle
	case string(models.ActionEscalate):
		return "\U0001F7E0" // orange circle
	case string(models.ActionMonitor):
		return "\U0001F7E2" // green circle
	default:
		return "⚪" // white circle
	}
}
