package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebhookConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  WebhookConfig
		wantErr bool
	}{
		{name: "missing name", config: WebhookConfig{URL: "https://siem.example.com/in"}, wantErr: true},
		{name: "missing URL", config: WebhookConfig{Name: "siem"}, wantErr: true},
		{name: "http rejected by default", config: WebhookConfig{Name: "siem", URL: "http://siem.internal/in"}, wantErr: true},
		{name: "http allowed when opted in", config: WebhookConfig{Name: "siem", URL: "http://siem.internal/in", AllowHTTP: true}, wantErr: false},
		{name: "valid https", config: WebhookConfig{Name: "siem", URL: "https://siem.example.com/in"}, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWebhookNotifierSend(t *testing.T) {
	var envelope webhookEnvelope
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &envelope); err != nil {
			t.Errorf("failed to unmarshal payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(WebhookConfig{
		Name:      "siem",
		URL:       server.URL,
		AllowHTTP: true,
		Headers:   map[string]string{"Authorization": "Bearer token123"},
	})
	if err != nil {
		t.Fatalf("NewWebhookNotifier failed: %v", err)
	}

	if got := notifier.Name(); got != "siem" {
		t.Errorf("Name() = %q, want %q", got, "siem")
	}

	if err := notifier.Send(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if gotAuth != "Bearer token123" {
		t.Errorf("Authorization header = %q, want configured token", gotAuth)
	}
	if envelope.Event != "alert.triaged" {
		t.Errorf("envelope event = %q, want %q", envelope.Event, "alert.triaged")
	}
	if envelope.Alert == nil || envelope.Alert.Indicator.Value != "203.0.113.5" {
		t.Errorf("envelope alert = %+v, want full alert record", envelope.Alert)
	}
}

func TestWebhookNotifierSendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("queue full"))
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(WebhookConfig{Name: "siem", URL: server.URL, AllowHTTP: true})
	if err != nil {
		t.Fatalf("NewWebhookNotifier failed: %v", err)
	}

	err = notifier.Send(context.Background(), sampleAlert())
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	if !strings.Contains(err.Error(), "status 503") {
		t.Errorf("error = %q, want status 503 mention", err.Error())
	}
}
