package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/quiet-owl-labs/threattriage/internal/pipeline"
)

type fakeRunner struct {
	mu      sync.Mutex
	batches [][]pipeline.Row
	err     error
}

func (f *fakeRunner) Run(ctx context.Context, rows []pipeline.Row, source string) (*pipeline.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, rows)
	return &pipeline.Report{Processed: len(rows)}, nil
}

func (f *fakeRunner) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []*sarama.ConsumerMessage
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "test" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg)
}
func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) markedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.marked)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "alerts" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func msg(offset int64, value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "alerts", Partition: 0, Offset: offset, Value: []byte(value)}
}

func TestKafkaConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  KafkaConfig
		wantErr bool
	}{
		{name: "disabled needs nothing", config: KafkaConfig{}, wantErr: false},
		{name: "enabled without brokers", config: KafkaConfig{Enabled: true, Topic: "alerts"}, wantErr: true},
		{name: "enabled without topic", config: KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}}, wantErr: true},
		{name: "complete", config: KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "alerts"}, wantErr: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestClaimHandlerFlushesOnBatchSize(t *testing.T) {
	runner := &fakeRunner{}
	h := &claimHandler{runner: runner, batchSize: 2, flushInterval: time.Hour}

	session := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 4)}

	claim.messages <- msg(1, `{"timestamp":"2025-06-01T10:00:00Z","event_type":"port_scan","ioc_type":"ip","ioc_value":"1.2.3.4"}`)
	claim.messages <- msg(2, `{"timestamp":"2025-06-01T10:01:00Z","event_type":"brute_force","src_ip":"5.6.7.8"}`)
	close(claim.messages)

	if err := h.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}

	if runner.batchCount() != 1 {
		t.Fatalf("batches = %d, want 1", runner.batchCount())
	}
	if len(runner.batches[0]) != 2 {
		t.Errorf("batch size = %d, want 2", len(runner.batches[0]))
	}
	if session.markedCount() != 2 {
		t.Errorf("marked messages = %d, want 2", session.markedCount())
	}
}

func TestClaimHandlerMarksMalformedMessages(t *testing.T) {
	runner := &fakeRunner{}
	h := &claimHandler{runner: runner, batchSize: 10, flushInterval: time.Hour}

	session := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- msg(1, `not json`)
	close(claim.messages)

	if err := h.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}

	if runner.batchCount() != 0 {
		t.Errorf("batches = %d, want 0 for malformed-only input", runner.batchCount())
	}
	// Malformed messages are marked so they are not redelivered forever.
	if session.markedCount() != 1 {
		t.Errorf("marked messages = %d, want 1", session.markedCount())
	}
}

func TestClaimHandlerFlushesRemainderOnClose(t *testing.T) {
	runner := &fakeRunner{}
	h := &claimHandler{runner: runner, batchSize: 100, flushInterval: time.Hour}

	session := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- msg(1, `{"timestamp":"2025-06-01T10:00:00Z","event_type":"port_scan","src_ip":"1.2.3.4"}`)
	close(claim.messages)

	if err := h.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if runner.batchCount() != 1 {
		t.Errorf("batches = %d, want flush of remainder on channel close", runner.batchCount())
	}
}

func TestClaimHandlerKeepsOffsetsOnRunFailure(t *testing.T) {
	runner := &fakeRunner{err: context.DeadlineExceeded}
	h := &claimHandler{runner: runner, batchSize: 1, flushInterval: time.Hour}

	session := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- msg(1, `{"timestamp":"2025-06-01T10:00:00Z","event_type":"port_scan","src_ip":"1.2.3.4"}`)
	close(claim.messages)

	if err := h.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if session.markedCount() != 0 {
		t.Errorf("marked messages = %d, want 0 after failed batch", session.markedCount())
	}
}
