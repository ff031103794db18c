package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quiet-owl-labs/threattriage/internal/models"
)

// fakeNotifier records sends for dispatcher tests.
type fakeNotifier struct {
	mu     sync.Mutex
	name   string
	sent   []*models.Alert
	err    error
	closed bool
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Send(ctx context.Context, alert *models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, alert)
	return nil
}

func (f *fakeNotifier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeNotifier) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestDispatcherRoutesToMatchedDestinations(t *testing.T) {
	d := NewDispatcherWithRateLimit(RateLimitConfig{Enabled: false})
	slack := &fakeNotifier{name: "slack"}
	siem := &fakeNotifier{name: "siem"}
	d.Register(slack)
	d.Register(siem)

	alert := sampleAlert()
	if err := d.Dispatch(context.Background(), alert, []string{"slack"}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if slack.sentCount() != 1 {
		t.Errorf("slack sent = %d, want 1", slack.sentCount())
	}
	if siem.sentCount() != 0 {
		t.Errorf("siem sent = %d, want 0", siem.sentCount())
	}
	if len(alert.NotifiedTo) != 1 || alert.NotifiedTo[0] != "slack" {
		t.Errorf("NotifiedTo = %v, want [slack]", alert.NotifiedTo)
	}
}

func TestDispatcherSkipsUnregisteredDestination(t *testing.T) {
	d := NewDispatcherWithRateLimit(RateLimitConfig{Enabled: false})
	slack := &fakeNotifier{name: "slack"}
	d.Register(slack)

	alert := sampleAlert()
	if err := d.Dispatch(context.Background(), alert, []string{"pagerduty", "slack"}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if slack.sentCount() != 1 {
		t.Errorf("slack sent = %d, want 1", slack.sentCount())
	}
	if len(alert.NotifiedTo) != 1 {
		t.Errorf("NotifiedTo = %v, want only registered destinations", alert.NotifiedTo)
	}
}

func TestDispatcherSendFailureDoesNotBlockOthers(t *testing.T) {
	d := NewDispatcherWithRateLimit(RateLimitConfig{Enabled: false})
	failing := &fakeNotifier{name: "slack", err: errors.New("webhook down")}
	healthy := &fakeNotifier{name: "siem"}
	d.Register(failing)
	d.Register(healthy)

	alert := sampleAlert()
	err := d.Dispatch(context.Background(), alert, []string{"slack", "siem"})
	if err == nil {
		t.Fatal("expected aggregate error from failing destination")
	}
	if healthy.sentCount() != 1 {
		t.Errorf("healthy destination sent = %d, want 1", healthy.sentCount())
	}
	if len(alert.NotifiedTo) != 1 || alert.NotifiedTo[0] != "siem" {
		t.Errorf("NotifiedTo = %v, want [siem]", alert.NotifiedTo)
	}
}

func TestDispatcherEmptyDestinations(t *testing.T) {
	d := NewDispatcher()
	if err := d.Dispatch(context.Background(), sampleAlert(), nil); err != nil {
		t.Errorf("Dispatch with no destinations should be a no-op, got %v", err)
	}
}

func TestDispatcherRateLimited(t *testing.T) {
	d := NewDispatcherWithRateLimit(RateLimitConfig{MaxPerWindow: 1, Window: time.Minute, Enabled: true})
	slack := &fakeNotifier{name: "slack"}
	d.Register(slack)

	if err := d.Dispatch(context.Background(), sampleAlert(), []string{"slack"}); err != nil {
		t.Fatalf("first dispatch failed: %v", err)
	}

	err := d.Dispatch(context.Background(), sampleAlert(), []string{"slack"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second dispatch error = %v, want ErrRateLimited", err)
	}
	if slack.sentCount() != 1 {
		t.Errorf("sent = %d, want 1 after rate limit", slack.sentCount())
	}
	if stats := d.RateLimitStats(); stats.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", stats.Dropped)
	}
}

func TestDispatcherClose(t *testing.T) {
	d := NewDispatcher()
	slack := &fakeNotifier{name: "slack"}
	d.Register(slack)

	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !slack.closed {
		t.Error("expected registered notifier to be closed")
	}
	if _, ok := d.Get("slack"); ok {
		t.Error("expected notifiers map to be cleared after Close")
	}
}

// stallingNotifier blocks inside Send until released.
type stallingNotifier struct {
	name    string
	started chan struct{}
	release chan struct{}
}

func (s *stallingNotifier) Name() string { return s.name }

func (s *stallingNotifier) Send(ctx context.Context, alert *models.Alert) error {
	close(s.started)
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stallingNotifier) Close() error { return nil }

func TestDispatcherRegisterNotBlockedBySlowSend(t *testing.T) {
	d := NewDispatcherWithRateLimit(RateLimitConfig{Enabled: false})
	slow := &stallingNotifier{
		name:    "slack",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	d.Register(slow)

	done := make(chan error, 1)
	go func() {
		done <- d.Dispatch(context.Background(), sampleAlert(), []string{"slack"})
	}()
	<-slow.started

	// A delivery in flight must not hold the dispatcher lock.
	registered := make(chan struct{})
	go func() {
		d.Register(&fakeNotifier{name: "siem"})
		close(registered)
	}()
	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("Register blocked behind an in-flight Send")
	}

	close(slow.release)
	if err := <-done; err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	r := NewRateLimiter(RateLimitConfig{MaxPerWindow: 2, Window: 50 * time.Millisecond, Enabled: true})

	if !r.Allow() || !r.Allow() {
		t.Fatal("first two sends should be allowed")
	}
	if r.Allow() {
		t.Fatal("third send should be dropped")
	}
	if r.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", r.Dropped())
	}

	time.Sleep(60 * time.Millisecond)
	if !r.Allow() {
		t.Error("send after window expiry should be allowed")
	}
}

func TestRateLimiterRelease(t *testing.T) {
	r := NewRateLimiter(RateLimitConfig{MaxPerWindow: 1, Window: time.Minute, Enabled: true})

	if !r.Allow() {
		t.Fatal("first send should be allowed")
	}
	r.Release()
	if !r.Allow() {
		t.Error("send after Release should be allowed")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	r := NewRateLimiter(RateLimitConfig{MaxPerWindow: 1, Window: time.Minute, Enabled: false})
	for i := 0; i < 10; i++ {
		if !r.Allow() {
			t.Fatal("disabled limiter should always allow")
		}
	}
}

func TestRateLimiterReset(t *testing.T) {
	r := NewRateLimiter(RateLimitConfig{MaxPerWindow: 1, Window: time.Minute, Enabled: true})
	r.Allow()
	r.Allow() // dropped
	r.Reset()

	if stats := r.Stats(); stats.Dropped != 0 || stats.CurrentCount != 0 {
		t.Errorf("Stats after Reset = %+v, want zeroed", stats)
	}
	if !r.Allow() {
		t.Error("send after Reset should be allowed")
	}
}
