package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quiet-owl-labs/threattriage/internal/api/alerts"
	"github.com/quiet-owl-labs/threattriage/internal/api/middleware"
	"github.com/quiet-owl-labs/threattriage/internal/api/modelapi"
	"github.com/quiet-owl-labs/threattriage/internal/api/rulescfg"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	ipLimiter := middleware.NewRateLimiter(s.config.RateLimitPerIP)

	// Global middleware
	r.Use(middleware.RequestLogger(s.config.Verbose))
	r.Use(middleware.Recoverer)
	r.Use(middleware.PrometheusMiddleware)

	alertHandler := alerts.NewHandler(s.deps.Runner, s.deps.Store)
	ruleHandler := rulescfg.NewHandler(s.deps.Rules)
	modelHandler := modelapi.NewHandler(s.deps.Registry, s.deps.Trainer, s.deps.Store, s.deps.DatasetPath)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(ipLimiter))

		r.Route("/alerts", func(r chi.Router) {
			r.Post("/process", alertHandler.Process)
			r.With(queryTimeout(s.config.QueryTimeout)).Get("/", alertHandler.List)
			r.With(queryTimeout(s.config.QueryTimeout)).Get("/{id}", alertHandler.GetByID)
		})

		r.With(queryTimeout(s.config.QueryTimeout)).Get("/batches", alertHandler.Batches)

		r.Route("/stats", func(r chi.Router) {
			r.Use(queryTimeout(s.config.QueryTimeout))
			r.Get("/threats", alertHandler.ThreatSummary)
			r.Get("/high-risk-countries", alertHandler.HighRiskCountries)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", ruleHandler.List)
			r.Route("/{destination}", func(r chi.Router) {
				r.Get("/", ruleHandler.ListDestination)
				r.Post("/", ruleHandler.Add)
				r.Put("/{index}", ruleHandler.Edit)
				r.Delete("/{index}", ruleHandler.Delete)
				r.Post("/{index}/toggle", ruleHandler.Toggle)
			})
		})

		r.Route("/model", func(r chi.Router) {
			r.Get("/versions", modelHandler.Versions)
			r.Post("/train", modelHandler.Train)
			r.Post("/reset", modelHandler.Reset)
		})
	})

	// Health checks (public, no rate limit)
	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/ready", s.healthHandler.Ready)

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// queryTimeout bounds storage-backed read handlers with a context
// deadline.
func queryTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
