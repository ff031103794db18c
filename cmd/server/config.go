// Package main provides the ThreatTriage server CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quiet-owl-labs/threattriage/internal/ingest"
	"github.com/quiet-owl-labs/threattriage/internal/notifier"
	"github.com/quiet-owl-labs/threattriage/internal/risk"
)

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig       `yaml:"server"`
	Data      DataConfig         `yaml:"data"`
	Sources   SourcesConfig      `yaml:"sources"`
	Risk      risk.Thresholds    `yaml:"risk"`
	Trainer   TrainerConfig      `yaml:"trainer"`
	Notifiers NotifierConfig     `yaml:"notifiers"`
	Kafka     ingest.KafkaConfig `yaml:"kafka"`
	Debug     bool               `yaml:"debug"` // mock reputation sources, no API keys needed
	Verbose   bool               `yaml:"-"`     // set via CLI flag
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	Address        string `yaml:"address"`           // HTTP listen address (default: :8080)
	RateLimitPerIP int    `yaml:"rate_limit_per_ip"` // requests per minute per client IP
	QueryTimeout   string `yaml:"query_timeout"`     // timeout for storage-backed API calls
}

// DataConfig locates on-disk state.
type DataConfig struct {
	Dir          string `yaml:"dir"`           // derived files (training dataset)
	DatabasePath string `yaml:"database_path"` // SQLite database file
	ModelDir     string `yaml:"model_dir"`     // versioned model artifacts
	RulesPath    string `yaml:"rules_path"`    // notification rules document
	WatchRules   bool   `yaml:"watch_rules"`   // reload rules on file change
}

// SourcesConfig configures the reputation connectors.
type SourcesConfig struct {
	AbuseIPDB struct {
		APIKey string `yaml:"api_key"`
		MaxAge int    `yaml:"max_age_days"`
	} `yaml:"abuseipdb"`
	VirusTotal struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"virustotal"`
	GeoIP struct {
		CityDB string `yaml:"city_db"`
		ASNDB  string `yaml:"asn_db"`
	} `yaml:"geoip"`
	LookupTimeout string `yaml:"lookup_timeout"` // per-source lookup deadline
	MaxParallel   int    `yaml:"max_parallel"`   // concurrent lookups per indicator
}

// TrainerConfig configures the external training command.
type TrainerConfig struct {
	Command []string `yaml:"command"` // e.g. ["python3", "train.py"]
	Timeout string   `yaml:"timeout"` // max training run duration
}

// NotifierConfig configures outbound notification channels.
type NotifierConfig struct {
	Slack     notifier.SlackConfig     `yaml:"slack"`
	Webhooks  []notifier.WebhookConfig `yaml:"webhooks"`
	RateLimit notifier.RateLimitConfig `yaml:"rate_limit"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Data.Dir == "" {
		c.Data.Dir = "data"
	}
	if c.Data.DatabasePath == "" {
		c.Data.DatabasePath = "data/triage.db"
	}
	if c.Data.ModelDir == "" {
		c.Data.ModelDir = "data/models"
	}
	if c.Data.RulesPath == "" {
		c.Data.RulesPath = "data/notification_rules.json"
	}
	if c.Trainer.Timeout == "" {
		c.Trainer.Timeout = "10m"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if !c.Debug && c.Sources.AbuseIPDB.APIKey == "" && c.Sources.VirusTotal.APIKey == "" {
		return fmt.Errorf("at least one reputation source api key is required (or set debug: true)")
	}
	if _, err := c.queryTimeout(); err != nil {
		return fmt.Errorf("server.query_timeout: %w", err)
	}
	if _, err := c.lookupTimeout(); err != nil {
		return fmt.Errorf("sources.lookup_timeout: %w", err)
	}
	if _, err := c.trainerTimeout(); err != nil {
		return fmt.Errorf("trainer.timeout: %w", err)
	}
	if c.Kafka.Enabled {
		if err := c.Kafka.Validate(); err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
	}
	if c.Notifiers.Slack.WebhookURL != "" {
		if err := c.Notifiers.Slack.Validate(); err != nil {
			return fmt.Errorf("notifiers.slack: %w", err)
		}
	}
	for i := range c.Notifiers.Webhooks {
		if err := c.Notifiers.Webhooks[i].Validate(); err != nil {
			return fmt.Errorf("notifiers.webhooks[%d]: %w", i, err)
		}
	}
	return nil
}

func (c *Config) queryTimeout() (time.Duration, error) {
	return parseDuration(c.Server.QueryTimeout)
}

func (c *Config) lookupTimeout() (time.Duration, error) {
	return parseDuration(c.Sources.LookupTimeout)
}

func (c *Config) trainerTimeout() (time.Duration, error) {
	return parseDuration(c.Trainer.Timeout)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
