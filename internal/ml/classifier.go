package ml

import (
	"fmt"
	"log"

	"github.com/quiet-owl-labs/threattriage/internal/metrics"
	"github.com/quiet-owl-labs/threattriage/internal/models"
)

// LabelUnclassified is the sentinel priority label used when
// classification fails. It carries zero confidence.
const LabelUnclassified = "unclassified"

// Classifier applies the active model version to alerts.
type Classifier struct {
	registry *Registry
}

// NewClassifier creates a classifier backed by the registry.
func NewClassifier(registry *Registry) *Classifier {
	return &Classifier{registry: registry}
}

// Classify predicts the priority label and confidence for an alert.
// Every internal failure degrades to the LabelUnclassified sentinel
// with confidence 0 and a non-nil error for the caller's stage record;
// it never panics and never aborts sibling alerts.
func (c *Classifier) Classify(a *models.Alert) (string, float64, error) {
	label, confidence, err := c.classify(a)
	if err != nil {
		log.Printf("[ml] classification failed for %s: %v", a.Indicator.Key(), err)
		metrics.Classifications.WithLabelValues(LabelUnclassified).Inc()
		return LabelUnclassified, 0, err
	}
	metrics.Classifications.WithLabelValues(label).Inc()
	return label, confidence, nil
}

func (c *Classifier) classify(a *models.Alert) (string, float64, error) {
	bundle, err := c.registry.GetOrLoad()
	if err != nil {
		return "", 0, fmt.Errorf("load model: %w", err)
	}

	features := FeatureVector(a, bundle.Encoders)

	code, confidence, err := bundle.Model.Predict(features)
	if err != nil {
		return "", 0, fmt.Errorf("predict: %w", err)
	}

	label, err := bundle.Encoders.ActionLabel.Inverse(code)
	if err != nil {
		return "", 0, fmt.Errorf("decode predicted label %d: %w", code, err)
	}

	return label, models.ClampConfidence(confidence), nil
}

// FeatureVector builds the model input from an alert: encoded event
// category, abuse score, report count, encoded country, encoded usage
// type. Unknown categorical values take the encoder fallback code.
func FeatureVector(a *models.Alert, encoders *EncoderSet) []float64 {
	return []float64{
		float64(encoders.EventCategory.Transform(a.EventCategory)),
		float64(a.Summary.AbuseScore),
		float64(a.Summary.TotalReports),
		float64(encoders.Country.Transform(a.Summary.Country)),
		float64(encoders.UsageType.Transform(a.Summary.UsageType)),
	}
}
