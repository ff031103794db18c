// Package notifier provides notification delivery for matched alerts.
// The rule engine decides WHETHER to notify; this package only carries
// the delivery, and its failures are logged, never propagated into the
// pipeline.
package notifier

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/quiet-owl-labs/threattriage/internal/metrics"
	"github.com/quiet-owl-labs/threattriage/internal/models"
)

// Notifier is a single delivery channel.
type Notifier interface {
	// Name returns the destination name this notifier serves
	// (e.g. "slack").
	Name() string
	// Send delivers an alert notification.
	Send(ctx context.Context, alert *models.Alert) error
	// Close releases any resources.
	Close() error
}

// ErrRateLimited is returned when a notification is dropped due to rate
// limiting.
var ErrRateLimited = fmt.Errorf("notification rate limited")

// Dispatcher routes matched alerts to the notifiers registered for
// their destinations.
type Dispatcher struct {
	mu          sync.RWMutex
	notifiers   map[string]Notifier
	rateLimiter *RateLimiter
}

// NewDispatcher creates a dispatcher with default rate limiting.
func NewDispatcher() *Dispatcher {
	return NewDispatcherWithRateLimit(DefaultRateLimitConfig())
}

// NewDispatcherWithRateLimit creates a dispatcher with a custom rate
// limit configuration.
func NewDispatcherWithRateLimit(config RateLimitConfig) *Dispatcher {
	return &Dispatcher{
		notifiers:   make(map[string]Notifier),
		rateLimiter: NewRateLimiter(config),
	}
}

// Register adds a notifier to the dispatcher.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Name()] = n
}

// Get returns a notifier by destination name.
func (d *Dispatcher) Get(name string) (Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.notifiers[name]
	return n, ok
}

// Dispatch delivers an alert to each matched destination once.
// Destinations without a registered notifier are skipped with a
// warning. Returns ErrRateLimited when the whole dispatch is dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.Alert, destinations []string) error {
	if len(destinations) == 0 {
		return nil
	}

	if d.rateLimiter != nil && !d.rateLimiter.Allow() {
		for _, dest := range destinations {
			metrics.NotificationsSent.WithLabelValues(dest, "rate_limited").Inc()
		}
		return ErrRateLimited
	}

	// Snapshot the notifiers up front: Send can block for the whole
	// notify timeout and must not hold the lock against Register and
	// Close.
	targets := make(map[string]Notifier, len(destinations))
	d.mu.RLock()
	for _, dest := range destinations {
		if n, ok := d.notifiers[dest]; ok {
			targets[dest] = n
		}
	}
	d.mu.RUnlock()

	var errs []error
	for _, dest := range destinations {
		n, ok := targets[dest]
		if !ok {
			log.Printf("[notify] destination %q matched but has no registered notifier", dest)
			metrics.NotificationsSent.WithLabelValues(dest, "unregistered").Inc()
			continue
		}
		if err := n.Send(ctx, alert); err != nil {
			metrics.NotificationsSent.WithLabelValues(dest, "error").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", dest, err))
			continue
		}
		metrics.NotificationsSent.WithLabelValues(dest, "ok").Inc()
		alert.NotifiedTo = append(alert.NotifiedTo, dest)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %v", errs)
	}
	return nil
}

// RateLimitStats returns the rate limiter statistics.
func (d *Dispatcher) RateLimitStats() RateLimitStats {
	if d.rateLimiter == nil {
		return RateLimitStats{}
	}
	return d.rateLimiter.Stats()
}

// Close closes all registered notifiers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, n := range d.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	d.notifiers = make(map[string]Notifier)

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
