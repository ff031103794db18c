// Package history provides the indicator sighting index. The index is a
// read-only view derived from previously persisted alerts, rebuilt at
// the start of each pipeline run.
package history

import (
	"github.com/quiet-owl-labs/threattriage/internal/models"
)

// Index maps indicator identity to the timestamps of prior sightings.
type Index struct {
	sightings map[string][]string
}

// Build groups the timestamps of previously persisted alerts by
// indicator identity.
func Build(previous []*models.Alert) *Index {
	ix := &Index{sightings: make(map[string][]string)}
	for _, a := range previous {
		key := a.Indicator.Key()
		ix.sightings[key] = append(ix.sightings[key], a.Timestamp)
	}
	return ix
}

// Sighting is the prior-occurrence summary for one indicator.
type Sighting struct {
	SeenBefore bool
	SeenCount  int
	LastSeen   string
}

// Lookup returns the sighting summary for an indicator. LastSeen is the
// greatest prior timestamp; empty when the indicator is new.
func (ix *Index) Lookup(ind models.Indicator) Sighting {
	timestamps := ix.sightings[ind.Key()]
	if len(timestamps) == 0 {
		return Sighting{}
	}

	last := timestamps[0]
	for _, ts := range timestamps[1:] {
		if ts > last {
			last = ts
		}
	}
	return Sighting{SeenBefore: true, SeenCount: len(timestamps), LastSeen: last}
}

// Annotate stamps the sighting fields onto an alert.
func (ix *Index) Annotate(a *models.Alert) {
	s := ix.Lookup(a.Indicator)
	a.SeenBefore = s.SeenBefore
	a.SeenCount = s.SeenCount
	a.LastSeen = s.LastSeen
}
