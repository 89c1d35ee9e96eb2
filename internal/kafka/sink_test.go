package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nekzampe/surveillance-indexer/internal/config"
	"github.com/nekzampe/surveillance-indexer/internal/events"
)

// fakeProducer acknowledges every message immediately, failing those whose
// key is in failKeys.
type fakeProducer struct {
	messages   []*kafka.Message
	failKeys   map[string]bool
	produceErr error
	noReports  bool
	flushed    bool
	closed     bool
}

func (p *fakeProducer) Produce(msg *kafka.Message, deliveries chan kafka.Event) error {
	if p.produceErr != nil {
		return p.produceErr
	}
	p.messages = append(p.messages, msg)
	if p.noReports {
		return nil
	}
	report := *msg
	if p.failKeys[string(msg.Key)] {
		report.TopicPartition.Error = kafka.NewError(kafka.ErrMsgTimedOut, "timed out", false)
	}
	deliveries <- &report
	return nil
}

func (p *fakeProducer) Flush(int) int { p.flushed = true; return 0 }
func (p *fakeProducer) Close()        { p.closed = true }

func testEvents() []events.TrackedEvent {
	return []events.TrackedEvent{
		{EventID: "a", VideoID: 3, Label: "person", StartTick: 1, EndTick: 2, MaxConfidence: 0.5},
		{EventID: "b", VideoID: 3, Label: "car", StartTick: 3, EndTick: 4, MaxConfidence: 0.75},
	}
}

func newTestSink(p producer) *Sink {
	return newSink(p, "tracked-events", log.New(io.Discard, "", 0))
}

func TestSink_CommitPublishesKeyedJSON(t *testing.T) {
	t.Parallel()
	p := &fakeProducer{}
	s := newTestSink(p)

	require.NoError(t, s.Commit(context.Background(), testEvents()))
	require.Len(t, p.messages, 2)

	msg := p.messages[1]
	assert.Equal(t, "b", string(msg.Key))
	assert.Equal(t, "tracked-events", *msg.TopicPartition.Topic)

	var ev events.TrackedEvent
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, testEvents()[1], ev)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, map[string]string{"label": "car", "video_id": "3"}, headers)

	assert.Equal(t, map[string]int64{"messages_sent": 2, "messages_acked": 2, "messages_failed": 0}, s.Metrics())
}

func TestSink_DeliveryFailureFailsBatch(t *testing.T) {
	t.Parallel()
	p := &fakeProducer{failKeys: map[string]bool{"a": true}}
	s := newTestSink(p)

	err := s.Commit(context.Background(), testEvents())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event a")
	assert.Equal(t, int64(1), s.Metrics()["messages_failed"])
	assert.Equal(t, int64(1), s.Metrics()["messages_acked"])
}

func TestSink_ProduceError(t *testing.T) {
	t.Parallel()
	boom := errors.New("queue full")
	s := newTestSink(&fakeProducer{produceErr: boom})

	err := s.Commit(context.Background(), testEvents())
	assert.ErrorIs(t, err, boom)
}

func TestSink_ContextCancelledWhileWaiting(t *testing.T) {
	t.Parallel()
	s := newTestSink(&fakeProducer{noReports: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Commit(ctx, testEvents())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSink_EmptyBatch(t *testing.T) {
	t.Parallel()
	p := &fakeProducer{}
	require.NoError(t, newTestSink(p).Commit(context.Background(), nil))
	assert.Empty(t, p.messages)
}

func TestSink_Close(t *testing.T) {
	t.Parallel()
	p := &fakeProducer{}
	newTestSink(p).Close(0)
	assert.True(t, p.flushed)
	assert.True(t, p.closed)
}

func TestNewSink_RequiresBrokers(t *testing.T) {
	t.Parallel()
	_, err := NewSink(&config.KafkaConfig{}, nil)
	assert.Error(t, err)
}

func TestProducerConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.KafkaConfig{
		BootstrapServers: "broker:9092",
		SecurityProtocol: "PLAINTEXT",
		Acks:             "all",
		LingerMS:         5,
	}

	cm, err := producerConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "broker:9092", (*cm)["bootstrap.servers"])
	assert.Equal(t, true, (*cm)["enable.idempotence"])
	assert.NotContains(t, *cm, "sasl.mechanism")

	cfg.SecurityProtocol = "SASL_SSL"
	cfg.SASLMechanism = "PLAIN"
	cfg.SASLUsername = "indexer"
	cfg.SASLPassword = "secret"
	cm, err = producerConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "PLAIN", (*cm)["sasl.mechanism"])
	assert.Equal(t, "indexer", (*cm)["sasl.username"])
	assert.Equal(t, "secret", (*cm)["sasl.password"])
}
