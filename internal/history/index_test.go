package history

import (
	"testing"

	"github.com/quiet-owl-labs/threattriage/internal/models"
)

func alertAt(typ models.IndicatorType, value, ts string) *models.Alert {
	return &models.Alert{
		Timestamp: ts,
		Indicator: models.Indicator{Type: typ, Value: value},
	}
}

func TestLookupNewIndicator(t *testing.T) {
	ix := Build(nil)
	s := ix.Lookup(models.Indicator{Type: models.IndicatorIP, Value: "1.2.3.4"})
	if s.SeenBefore || s.SeenCount != 0 || s.LastSeen != "" {
		t.Errorf("new indicator sighting = %+v", s)
	}
}

func TestLookupRepeatedIndicator(t *testing.T) {
	ix := Build([]*models.Alert{
		alertAt(models.IndicatorIP, "1.2.3.4", "2025-04-01T10:00:00Z"),
		alertAt(models.IndicatorIP, "1.2.3.4", "2025-04-03T10:00:00Z"),
		alertAt(models.IndicatorIP, "1.2.3.4", "2025-04-02T10:00:00Z"),
		alertAt(models.IndicatorIP, "5.6.7.8", "2025-04-02T11:00:00Z"),
	})

	s := ix.Lookup(models.Indicator{Type: models.IndicatorIP, Value: "1.2.3.4"})
	if !s.SeenBefore {
		t.Error("SeenBefore = false, want true")
	}
	if s.SeenCount != 3 {
		t.Errorf("SeenCount = %d, want 3", s.SeenCount)
	}
	if s.LastSeen != "2025-04-03T10:00:00Z" {
		t.Errorf("LastSeen = %q, want the max timestamp", s.LastSeen)
	}
}

func TestIdentityIsTypeAndValue(t *testing.T) {
	// Same value as domain and as IP are distinct identities.
	ix := Build([]*models.Alert{
		alertAt(models.IndicatorDomain, "1.2.3.4", "2025-04-01T10:00:00Z"),
	})

	s := ix.Lookup(models.Indicator{Type: models.IndicatorIP, Value: "1.2.3.4"})
	if s.SeenBefore {
		t.Error("IP lookup matched a domain sighting")
	}
}

func TestAnnotate(t *testing.T) {
	ix := Build([]*models.Alert{
		alertAt(models.IndicatorHash, "abc123", "2025-04-01T10:00:00Z"),
	})

	a := alertAt(models.IndicatorHash, "abc123", "2025-04-05T10:00:00Z")
	ix.Annotate(a)
	if !a.SeenBefore || a.SeenCount != 1 || a.LastSeen != "2025-04-01T10:00:00Z" {
		t.Errorf("annotated alert = seen=%v count=%d last=%q", a.SeenBefore, a.SeenCount, a.LastSeen)
	}
}
