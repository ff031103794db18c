package rules

import (
	"sort"
	"strings"

	"github.com/quiet-owl-labs/threattriage/internal/models"
)

// Engine evaluates the configured rules against finished alerts.
type Engine struct {
	store *Store
}

// NewEngine creates a rule engine over the store.
func NewEngine(store *Store) *Engine {
	return &Engine{store: store}
}

// Store exposes the underlying store for rule management.
func (e *Engine) Store() *Store {
	return e.store
}

// ShouldNotify reports whether any rule for the destination matches the
// alert. A destination with no configured rules never triggers.
func (e *Engine) ShouldNotify(a *models.Alert, destination string) bool {
	for _, rule := range e.store.Rules(destination) {
		if Matches(rule, a) {
			return true
		}
	}
	return false
}

// MatchingDestinations returns every destination whose rule list
// matches the alert, sorted for deterministic delivery order.
func (e *Engine) MatchingDestinations(a *models.Alert) []string {
	var matched []string
	for _, dest := range e.store.Destinations() {
		if e.ShouldNotify(a, dest) {
			matched = append(matched, dest)
		}
	}
	sort.Strings(matched)
	return matched
}

// Matches reports whether a single rule matches the alert.
func Matches(rule *Rule, a *models.Alert) bool {
	if !rule.IsEnabled() {
		return false
	}

	priority := strings.ToUpper(a.PriorityLabel)
	found := false
	for _, p := range rule.Priorities {
		if strings.ToUpper(p) == priority {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	if a.Confidence < rule.MinConfidence {
		return false
	}

	if len(rule.Events) == 0 {
		return true
	}
	for _, ev := range rule.Events {
		if ev == a.EventCategory {
			return true
		}
	}
	return false
}
