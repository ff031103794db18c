// Package enrich provides the threat-intelligence source connectors and
// the fusion engine that merges their outputs into one enrichment record
// and combined risk score.
package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/quiet-owl-labs/threattriage/internal/models"
)

// DefaultLookupTimeout bounds a single source lookup.
const DefaultLookupTimeout = 5 * time.Second

// ErrNotConfigured is returned by connectors missing required
// credentials or data files. Fusion records it as a per-source failure.
var ErrNotConfigured = errors.New("source not configured")

// ErrUnsupportedIndicator is returned when a connector is asked to look
// up an indicator type it cannot serve. Supports() gating means fusion
// never triggers this; it guards direct callers.
var ErrUnsupportedIndicator = errors.New("unsupported indicator type")

// Connector is a single threat-intel source client. Lookup must honor
// the context deadline; fusion gives each call its own timeout and a
// failure never aborts sibling sources.
type Connector interface {
	// Name is the key under which results appear in the enrichment record.
	Name() string
	// Supports reports whether the source can look up this indicator type.
	Supports(t models.IndicatorType) bool
	// Lookup fetches the source payload for an indicator.
	Lookup(ctx context.Context, ind models.Indicator) (models.SourceResult, error)
}
