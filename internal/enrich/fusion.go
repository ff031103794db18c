package enrich

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quiet-owl-labs/threattriage/internal/metrics"
	"github.com/quiet-owl-labs/threattriage/internal/models"
)

// FusionOptions configures the fusion engine.
type FusionOptions struct {
	// LookupTimeout bounds each individual source lookup.
	LookupTimeout time.Duration
	// MaxParallel bounds how many source lookups run concurrently
	// for one indicator. 0 means one goroutine per source.
	MaxParallel int
}

// DefaultFusionOptions returns the stock options.
func DefaultFusionOptions() FusionOptions {
	return FusionOptions{LookupTimeout: DefaultLookupTimeout}
}

// Fusion merges the outputs of all applicable connectors into a single
// enrichment record with a combined risk score. A single source failing
// or timing out degrades that source only.
type Fusion struct {
	connectors []Connector
	opts       FusionOptions
}

// NewFusion creates a fusion engine over the given connectors.
func NewFusion(connectors []Connector, opts FusionOptions) *Fusion {
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = DefaultLookupTimeout
	}
	return &Fusion{connectors: connectors, opts: opts}
}

// Enrich looks up the indicator across every applicable source and
// returns the fused record. Sources that do not support the indicator
// type are simply absent from the record.
func (f *Fusion) Enrich(ctx context.Context, ind models.Indicator) *models.EnrichmentRecord {
	record := &models.EnrichmentRecord{Sources: make(map[string]models.SourceResult)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if f.opts.MaxParallel > 0 {
		g.SetLimit(f.opts.MaxParallel)
	}

	for _, conn := range f.connectors {
		if !conn.Supports(ind.Type) {
			continue
		}
		conn := conn
		g.Go(func() error {
			start := time.Now()
			lctx, cancel := context.WithTimeout(gctx, f.opts.LookupTimeout)
			defer cancel()

			result, err := conn.Lookup(lctx, ind)
			metrics.SourceLookupDuration.WithLabelValues(conn.Name()).Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.SourceLookupErrors.WithLabelValues(conn.Name()).Inc()
				log.Printf("[fusion] source %s failed for %s: %v", conn.Name(), ind.Key(), err)
				result = models.SourceResult{Error: err.Error()}
			}

			mu.Lock()
			record.Sources[conn.Name()] = result
			mu.Unlock()
			// Lookup failures are recorded per source, never propagated.
			return nil
		})
	}

	g.Wait()

	record.FusedRiskScore = CombinedScore(record.Sources)
	return record
}

// CombinedScore fuses per-source contributions into one [0,100] score:
// the AbuseIPDB confidence score plus weighted VirusTotal detections
// (malicious*5 + suspicious*2). Degraded sources contribute nothing.
func CombinedScore(sources map[string]models.SourceResult) int {
	score := 0

	if r, ok := sources["abuseipdb"]; ok && r.AbuseIPDB != nil {
		score += r.AbuseIPDB.AbuseScore
	}
	if r, ok := sources["virustotal"]; ok && r.VirusTotal != nil {
		score += r.VirusTotal.Malicious*5 + r.VirusTotal.Suspicious*2
	}

	return models.ClampScore(score)
}
