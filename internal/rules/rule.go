// Package rules implements the notification rule engine: a per
// destination list of rules deciding whether a finished alert warrants
// an outbound notification.
package rules

import (
	"encoding/json"
	"fmt"
)

// Rule is a single notification rule. A rule matches an alert when it
// is enabled, the alert's priority label is in Priorities
// (case-insensitive), the confidence meets MinConfidence, and the event
// filter is empty or contains the alert's event category.
type Rule struct {
	// Priorities lists the priority labels that trigger this rule.
	Priorities []string `json:"priorities"`
	// MinConfidence is the inclusive classifier confidence floor.
	MinConfidence float64 `json:"min_confidence"`
	// Events optionally restricts the rule to specific event
	// categories. Empty means match-all.
	Events []string `json:"events,omitempty"`
	// Enabled controls whether the rule is active. Nil means enabled.
	Enabled *bool `json:"enabled,omitempty"`
}

// IsEnabled returns whether the rule is active.
func (r *Rule) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// Validate rejects malformed rules at load time rather than deep in
// matching logic.
func (r *Rule) Validate() error {
	if len(r.Priorities) == 0 {
		return fmt.Errorf("at least one priority is required")
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return fmt.Errorf("min_confidence %v outside [0,1]", r.MinConfidence)
	}
	return nil
}

// ruleList accepts either a JSON array of rules or a single rule
// object. Older configurations stored one rule per destination as a
// bare object; those normalize to a single-element list.
type ruleList []*Rule

func (l *ruleList) UnmarshalJSON(data []byte) error {
	var list []*Rule
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single Rule
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("rule list is neither an array nor an object: %w", err)
	}
	*l = ruleList{&single}
	return nil
}

// Document is the whole rule configuration: destination name to its
// ordered rule list. It is loaded and saved atomically as one unit.
type Document map[string]ruleList

// Validate validates every rule in the document.
func (d Document) Validate() error {
	for dest, list := range d {
		for i, rule := range list {
			if err := rule.Validate(); err != nil {
				return fmt.Errorf("destination %q rule %d: %w", dest, i, err)
			}
		}
	}
	return nil
}
