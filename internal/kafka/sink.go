// Package kafka publishes committed tracked events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/nekzampe/surveillance-indexer/internal/config"
	"github.com/nekzampe/surveillance-indexer/internal/events"
)

// producer is the subset of *kafka.Producer the sink uses.
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// Sink publishes each event as one JSON message keyed by event id. Commit
// returns only after every message of the batch was acknowledged, so a
// failed batch can be retried whole; consumers de-duplicate on the key.
type Sink struct {
	producer producer
	topic    string
	logger   *log.Logger

	sent   atomic.Int64
	acked  atomic.Int64
	failed atomic.Int64
}

// NewSink creates an idempotent producer for cfg.
func NewSink(cfg *config.KafkaConfig, logger *log.Logger) (*Sink, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("kafka bootstrap servers not configured")
	}
	cm, err := producerConfig(cfg)
	if err != nil {
		return nil, err
	}

	p, err := kafka.NewProducer(cm)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	s := newSink(p, cfg.Topic, logger)
	s.logger.Printf("Kafka sink initialized: topic=%s servers=%s", cfg.Topic, cfg.BootstrapServers)
	return s, nil
}

// producerConfig maps cfg onto librdkafka settings for an idempotent
// producer.
func producerConfig(cfg *config.KafkaConfig) (*kafka.ConfigMap, error) {
	cm := &kafka.ConfigMap{
		"bootstrap.servers":   cfg.BootstrapServers,
		"security.protocol":   cfg.SecurityProtocol,
		"compression.type":    cfg.CompressionType,
		"acks":                cfg.Acks,
		"linger.ms":           cfg.LingerMS,
		"delivery.timeout.ms": cfg.DeliveryTimeoutMS,
		"enable.idempotence":  true,
	}
	if cfg.SASLMechanism == "" {
		return cm, nil
	}
	for key, value := range map[string]string{
		"sasl.mechanism": cfg.SASLMechanism,
		"sasl.username":  cfg.SASLUsername,
		"sasl.password":  cfg.SASLPassword,
	} {
		if err := cm.SetKey(key, value); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return cm, nil
}

func newSink(p producer, topic string, logger *log.Logger) *Sink {
	if logger == nil {
		logger = log.Default()
	}
	return &Sink{producer: p, topic: topic, logger: logger}
}

// Commit implements persist.Sink.
func (s *Sink) Commit(ctx context.Context, batch []events.TrackedEvent) error {
	if len(batch) == 0 {
		return nil
	}
	deliveries := make(chan kafka.Event, len(batch))

	produced := 0
	for _, ev := range batch {
		msg, err := s.message(ev)
		if err != nil {
			return err
		}
		if err := s.producer.Produce(msg, deliveries); err != nil {
			s.failed.Add(1)
			return fmt.Errorf("failed to produce event %s: %w", ev.EventID, err)
		}
		produced++
		s.sent.Add(1)
	}

	var firstErr error
	for i := 0; i < produced; i++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for delivery reports: %w", ctx.Err())
		case e := <-deliveries:
			m, ok := e.(*kafka.Message)
			if !ok {
				i--
				continue
			}
			if m.TopicPartition.Error != nil {
				s.failed.Add(1)
				if firstErr == nil {
					firstErr = fmt.Errorf("delivery of event %s failed: %w", string(m.Key), m.TopicPartition.Error)
				}
				continue
			}
			s.acked.Add(1)
		}
	}
	return firstErr
}

func (s *Sink) message(ev events.TrackedEvent) (*kafka.Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event %s: %w", ev.EventID, err)
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &s.topic, Partition: kafka.PartitionAny},
		Key:            []byte(ev.EventID),
		Value:          payload,
		Headers: []kafka.Header{
			{Key: "label", Value: []byte(ev.Label)},
			{Key: "video_id", Value: []byte(strconv.FormatInt(ev.VideoID, 10))},
		},
	}, nil
}

// Metrics returns message counters.
func (s *Sink) Metrics() map[string]int64 {
	return map[string]int64{
		"messages_sent":   s.sent.Load(),
		"messages_acked":  s.acked.Load(),
		"messages_failed": s.failed.Load(),
	}
}

// Close flushes outstanding messages for up to timeout and closes the
// producer.
func (s *Sink) Close(timeout time.Duration) {
	if remaining := s.producer.Flush(int(timeout.Milliseconds())); remaining > 0 {
		s.logger.Printf("Kafka sink: %d messages still queued after flush timeout", remaining)
	}
	s.producer.Close()
}
