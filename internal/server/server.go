// Package server hosts the HTTP API server and route wiring.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/quiet-owl-labs/threattriage/internal/api/alerts"
	"github.com/quiet-owl-labs/threattriage/internal/api/health"
	"github.com/quiet-owl-labs/threattriage/internal/ml"
	"github.com/quiet-owl-labs/threattriage/internal/rules"
	"github.com/quiet-owl-labs/threattriage/internal/storage"
)

// Config holds HTTP server configuration.
type Config struct {
	Address        string
	RateLimitPerIP int           // Requests per minute per client IP
	QueryTimeout   time.Duration // Timeout for storage-backed API calls
	Verbose        bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.RateLimitPerIP == 0 {
		c.RateLimitPerIP = 120
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
}

// Dependencies are the wired components the API exposes.
type Dependencies struct {
	Store       storage.Storage
	Runner      alerts.Runner
	Rules       *rules.Store
	Registry    *ml.Registry
	Trainer     ml.Trainer
	DatasetPath func() string
}

func (d *Dependencies) validate() error {
	if d.Store == nil {
		return fmt.Errorf("storage is required")
	}
	if d.Runner == nil {
		return fmt.Errorf("pipeline runner is required")
	}
	if d.Rules == nil {
		return fmt.Errorf("rules store is required")
	}
	if d.Registry == nil {
		return fmt.Errorf("model registry is required")
	}
	if d.Trainer == nil {
		return fmt.Errorf("trainer is required")
	}
	if d.DatasetPath == nil {
		return fmt.Errorf("dataset path resolver is required")
	}
	return nil
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	deps          *Dependencies
	server        *http.Server
	healthHandler *health.Handler
}

// New creates a new API server.
func New(cfg *Config, deps *Dependencies) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps == nil {
		return nil, fmt.Errorf("dependencies are required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		deps:          deps,
		healthHandler: health.NewHandler(),
	}

	s.server = &http.Server{
		Addr:        cfg.Address,
		Handler:     s.setupRouter(),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout is intentionally 0 (disabled): batch processing
		// and training requests can legitimately outlive any fixed
		// global deadline. Storage-backed handlers bound their own work
		// with QueryTimeout.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		log.Printf("[api] listening on %s", s.config.Address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("[api] shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	if s.healthHandler != nil {
		s.healthHandler.RegisterChecker(c)
	}
}
