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

// WebhookConfig holds generic webhook configuration.
type WebhookConfig struct {
	Name      string            `yaml:"name"`    // Destination name used by rule routing
	URL       string            `yaml:"url"`     // Endpoint to POST alert JSON to
	Headers   map[string]string `yaml:"headers"` // Extra headers (e.g. auth tokens)
	Timeout   time.Duration     `yaml:"timeout"`
	AllowHTTP bool              `yaml:"allow_http"` // Permit plain HTTP for internal receivers
}

// Validate validates the webhook configuration.
func (c *WebhookConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("destination name is required")
	}
	if c.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.URL, "https://") && !c.AllowHTTP {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// WebhookNotifier posts the full alert record as JSON to an arbitrary
// HTTP endpoint. It serves SIEM forwarders and ticketing receivers that
// consume the raw record rather than a chat-formatted message.
type WebhookNotifier struct {
	config     WebhookConfig
	httpClient *http.Client
}

// NewWebhookNotifier creates a new generic webhook notifier.
func NewWebhookNotifier(config WebhookConfig) (*WebhookNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &WebhookNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Name returns the configured destination name.
func (w *WebhookNotifier) Name() string {
	return w.config.Name
}

// webhookEnvelope wraps the alert with a stable event type marker so
// receivers can multiplex payload kinds.
type webhookEnvelope struct {
	Event string        `json:"event"`
	Alert *models.Alert `json:"alert"`
}

// Send posts the alert to the configured endpoint.
func (w *WebhookNotifier) Send(ctx context.Context, alert *models.Alert) error {
	jsonData, err := json.Marshal(webhookEnvelope{Event: "alert.triaged", Alert: alert})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// Close is a no-op for webhook notifier.
func (w *WebhookNotifier) Close() error {
	return nil
}
