package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"gearshare/internal/eventing"
	"gearshare/internal/observability/metrics"
)

// ConsumerName identifies the relay in the processed store.
const ConsumerName = "kafka.relay"

// Relay republishes dispatched envelopes to a Kafka topic, keyed by booking id
// so events for one booking keep their order.
type Relay struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewRelay constructs a relay.
func NewRelay(producer sarama.SyncProducer, topic string, logger *zap.Logger) (*Relay, error) {
	if producer == nil {
		return nil, errors.New("kafka relay: nil producer")
	}
	if topic == "" {
		return nil, errors.New("kafka relay: empty topic")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{producer: producer, topic: topic, logger: logger}, nil
}

// NewSyncProducer builds a producer that waits for all in-sync replicas.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return producer, nil
}

// Handle is an event bus handler; the envelope is read from ctx.
func (r *Relay) Handle(ctx context.Context, event any) error {
	env, ok := eventing.EnvelopeFromContext(ctx)
	if !ok {
		built, err := eventing.BuildEnvelope(event, eventing.MetaFromContext(ctx))
		if err != nil {
			return err
		}
		env = built
	}
	return r.Publish(ctx, env)
}

// Publish sends env to the relay topic.
func (r *Relay) Publish(ctx context.Context, env eventing.Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	carrier := headerCarrier{
		{Key: []byte("event_type"), Value: []byte(env.EventType)},
		{Key: []byte("event_id"), Value: []byte(env.EventID)},
	}
	otel.GetTextMapPropagator().Inject(ctx, &carrier)

	msg := &sarama.ProducerMessage{
		Topic:   r.topic,
		Value:   sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader(carrier),
	}
	if env.BookingID != "" {
		msg.Key = sarama.StringEncoder(env.BookingID)
	}

	partition, offset, err := r.producer.SendMessage(msg)
	if err != nil {
		metrics.IncRelay(metrics.ResultError)
		return fmt.Errorf("failed to send message: %w", err)
	}
	metrics.IncRelay(metrics.ResultSuccess)
	r.logger.Debug("event relayed",
		zap.String("topic", r.topic),
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// Close closes the underlying producer.
func (r *Relay) Close() error {
	if r == nil || r.producer == nil {
		return nil
	}
	return r.producer.Close()
}

// headerCarrier implements propagation.TextMapCarrier over Kafka headers.
type headerCarrier []sarama.RecordHeader

func (c headerCarrier) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	*c = append(*c, sarama.RecordHeader{
		Key:   []byte(key),
		Value: []byte(value),
	})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
