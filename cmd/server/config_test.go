package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigValidate_RequiresSourceOrDebug(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error without source keys or debug mode")
	}

	cfg.Debug = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate debug config: %v", err)
	}
}

func TestConfigValidate_RejectsInvalidDurations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debug = true
	cfg.Server.QueryTimeout = "not-a-duration"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for invalid server.query_timeout")
	}

	cfg = DefaultConfig()
	cfg.Debug = true
	cfg.Trainer.Timeout = "ten minutes"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for invalid trainer.timeout")
	}
}

func TestConfigValidate_ChecksKafkaWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debug = true
	cfg.Kafka.Enabled = true // no brokers, no topic

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for enabled kafka without brokers")
	}
}

func TestLoadConfig(t *testing.T) {
	doc := `
server:
  address: ":9090"
  rate_limit_per_ip: 30
debug: true
sources:
  lookup_timeout: 3s
  max_parallel: 4
risk:
  high: 85
  medium: 55
trainer:
  command: ["python3", "train.py"]
notifiers:
  slack:
    webhook_url: "https://hooks.slack.com/services/T000/B000/XXX"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Address != ":9090" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Risk.High != 85 || cfg.Risk.Medium != 55 {
		t.Errorf("risk thresholds = %+v", cfg.Risk)
	}
	if len(cfg.Trainer.Command) != 2 {
		t.Errorf("trainer command = %v", cfg.Trainer.Command)
	}
	// Defaults fill the rest
	if cfg.Data.ModelDir != "data/models" {
		t.Errorf("model dir = %q", cfg.Data.ModelDir)
	}
	if cfg.Trainer.Timeout != "10m" {
		t.Errorf("trainer timeout = %q", cfg.Trainer.Timeout)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
