package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// FeatureCount is the length of the classifier feature vector:
// event category, abuse score, total reports, country, usage type.
const FeatureCount = 5

// Model is a trained classifier artifact. The training capability is
// external; this type only defines the serialized contract and applies
// it at prediction time. The artifact stores one centroid per action
// class in feature space.
type Model struct {
	Algorithm string      `json:"algorithm"`
	Classes   []int       `json:"classes"`
	Centroids [][]float64 `json:"centroids"`
}

// TrainingMetrics records the evaluation of a training run, written by
// the trainer next to the artifact.
type TrainingMetrics struct {
	Accuracy       float64 `json:"accuracy"`
	PrecisionMacro float64 `json:"precision_macro"`
	RecallMacro    float64 `json:"recall_macro"`
	F1Macro        float64 `json:"f1_macro"`
	Support        int     `json:"support"`
}

// LoadModel reads and validates a model artifact.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}

	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model artifact: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model artifact: %w", err)
	}
	return &m, nil
}

// Validate checks the artifact shape.
func (m *Model) Validate() error {
	if len(m.Classes) == 0 {
		return fmt.Errorf("model has no classes")
	}
	if len(m.Centroids) != len(m.Classes) {
		return fmt.Errorf("centroid count %d does not match class count %d", len(m.Centroids), len(m.Classes))
	}
	for i, c := range m.Centroids {
		if len(c) != FeatureCount {
			return fmt.Errorf("centroid %d has %d features, want %d", i, len(c), FeatureCount)
		}
	}
	return nil
}

// Predict returns the class code nearest to the feature vector and a
// confidence in [0,1] derived from the margin between the two nearest
// centroids.
func (m *Model) Predict(features []float64) (int, float64, error) {
	if len(features) != FeatureCount {
		return 0, 0, fmt.Errorf("feature vector has %d values, want %d", len(features), FeatureCount)
	}

	best, second := math.Inf(1), math.Inf(1)
	bestClass := m.Classes[0]

	for i, centroid := range m.Centroids {
		d := 0.0
		for j, f := range features {
			diff := f - centroid[j]
			d += diff * diff
		}
		d = math.Sqrt(d)
		if d < best {
			second = best
			best = d
			bestClass = m.Classes[i]
		} else if d < second {
			second = d
		}
	}

	confidence := 1.0
	if !math.IsInf(second, 1) && best+second > 0 {
		confidence = second / (best + second)
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return bestClass, confidence, nil
}
