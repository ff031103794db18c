// Package ingest provides streaming alert ingestion from Kafka. It is
// an optional input path next to the HTTP upload: alert rows arrive as
// JSON messages on a topic and are batched into pipeline runs.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"

	"github.com/quiet-owl-labs/threattriage/internal/metrics"
	"github.com/quiet-owl-labs/threattriage/internal/pipeline"
)

// KafkaConfig configures the optional Kafka ingest.
type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	GroupID       string        `yaml:"group_id"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Validate checks the configuration when the ingest is enabled.
func (c *KafkaConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required")
	}
	if c.Topic == "" {
		return fmt.Errorf("kafka topic is required")
	}
	return nil
}

func (c *KafkaConfig) setDefaults() {
	if c.GroupID == "" {
		c.GroupID = "threattriage"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
}

// BatchRunner runs a batch of raw rows through the pipeline.
type BatchRunner interface {
	Run(ctx context.Context, rows []pipeline.Row, source string) (*pipeline.Report, error)
}

// KafkaConsumer reads alert rows from a topic and feeds them to the
// pipeline in batches.
type KafkaConsumer struct {
	group  sarama.ConsumerGroup
	runner BatchRunner
	config KafkaConfig
}

// NewKafkaConsumer connects a consumer group for the configured topic.
func NewKafkaConsumer(config KafkaConfig, runner BatchRunner) (*KafkaConsumer, error) {
	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}

	sc := sarama.NewConfig()
	version, err := sarama.ParseKafkaVersion("2.1.0")
	if err != nil {
		return nil, fmt.Errorf("parse kafka version: %w", err)
	}
	sc.Version = version
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Return.Errors = true
	sc.Consumer.Group.Session.Timeout = 20 * time.Second
	sc.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	sc.Net.DialTimeout = 30 * time.Second
	sc.Net.ReadTimeout = 30 * time.Second
	sc.Net.WriteTimeout = 30 * time.Second

	log.Printf("[ingest] connecting to kafka brokers %v", config.Brokers)
	group, err := sarama.NewConsumerGroup(config.Brokers, config.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &KafkaConsumer{
		group:  group,
		runner: runner,
		config: config,
	}, nil
}

// Start consumes until the context is cancelled. Consume errors are
// logged and retried with a fixed backoff.
func (k *KafkaConsumer) Start(ctx context.Context) error {
	topics := []string{k.config.Topic}
	log.Printf("[ingest] consuming topic %s as group %s", k.config.Topic, k.config.GroupID)

	for {
		handler := &claimHandler{
			runner:        k.runner,
			batchSize:     k.config.BatchSize,
			flushInterval: k.config.FlushInterval,
		}
		if err := k.group.Consume(ctx, topics, handler); err != nil {
			log.Printf("[ingest] consume error: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Close shuts down the consumer group.
func (k *KafkaConsumer) Close() error {
	return k.group.Close()
}

// claimHandler implements sarama.ConsumerGroupHandler, buffering rows
// and flushing them as pipeline batches.
type claimHandler struct {
	runner        BatchRunner
	batchSize     int
	flushInterval time.Duration
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	var rows []pipeline.Row
	var pending []*sarama.ConsumerMessage

	ticker := time.NewTicker(h.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(rows) == 0 {
			return
		}
		if _, err := h.runner.Run(session.Context(), rows, "kafka"); err != nil {
			// The batch is dropped; offsets stay unmarked so the rows
			// are redelivered after a rebalance.
			log.Printf("[ingest] batch of %d rows failed: %v", len(rows), err)
			metrics.KafkaMessages.WithLabelValues("failed").Add(float64(len(pending)))
			rows, pending = nil, nil
			return
		}
		for _, msg := range pending {
			session.MarkMessage(msg, "")
		}
		metrics.KafkaMessages.WithLabelValues("processed").Add(float64(len(pending)))
		rows, pending = nil, nil
	}

	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}

			var row pipeline.Row
			if err := json.Unmarshal(message.Value, &row); err != nil {
				log.Printf("[ingest] malformed message at %s/%d@%d: %v",
					message.Topic, message.Partition, message.Offset, err)
				metrics.KafkaMessages.WithLabelValues("malformed").Inc()
				session.MarkMessage(message, "")
				continue
			}

			rows = append(rows, row)
			pending = append(pending, message)
			if len(rows) >= h.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-session.Context().Done():
			flush()
			return nil
		}
	}
}
