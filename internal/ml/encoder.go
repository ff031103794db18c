// Package ml provides the versioned model registry, the feature
// encoders, and the alert classifier backed by the active model.
package ml

import (
	"fmt"
	"log"
)

// FallbackCode is the encoding used for categorical values the encoder
// has never seen. Unknown values are logged, never an error.
const FallbackCode = -1

// LabelEncoder maps categorical string values to integer codes by their
// position in the trained class list.
type LabelEncoder struct {
	Classes []string `json:"classes"`
}

// Transform returns the code for a value, or FallbackCode if the value
// was not present at training time.
func (e *LabelEncoder) Transform(value string) int {
	for i, c := range e.Classes {
		if c == value {
			return i
		}
	}
	log.Printf("[ml] unknown categorical value %q, using fallback code", value)
	return FallbackCode
}

// Inverse returns the class string for a code.
func (e *LabelEncoder) Inverse(code int) (string, error) {
	if code < 0 || code >= len(e.Classes) {
		return "", fmt.Errorf("code %d out of range for %d classes", code, len(e.Classes))
	}
	return e.Classes[code], nil
}

// EncoderSet bundles the four categorical encoders shipped with every
// model version.
type EncoderSet struct {
	EventCategory LabelEncoder `json:"event_type"`
	Country       LabelEncoder `json:"country"`
	UsageType     LabelEncoder `json:"usage_type"`
	ActionLabel   LabelEncoder `json:"action"`
}

// Validate rejects encoder sets with an empty action label encoder;
// without it predictions cannot be decoded.
func (s *EncoderSet) Validate() error {
	if len(s.ActionLabel.Classes) == 0 {
		return fmt.Errorf("action label encoder has no classes")
	}
	return nil
}
