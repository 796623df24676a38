package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gearshare/internal/eventing"
)

func TestRelay_PublishesEnvelope(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "booking-events" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "bk-1" {
			return errors.New("unexpected key " + string(key))
		}
		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var env eventing.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return err
		}
		if env.EventID != "evt-1" {
			return errors.New("unexpected event id " + env.EventID)
		}
		if headerCarrier(msg.Headers).Get("event_type") != "events.NotificationRequested" {
			return errors.New("missing event_type header")
		}
		return nil
	})

	relay, err := NewRelay(producer, "booking-events", zaptest.NewLogger(t))
	require.NoError(t, err)

	env := eventing.Envelope{
		EventID:    "evt-1",
		EventType:  "events.NotificationRequested",
		BookingID:  "bk-1",
		OccurredAt: time.Now().UTC(),
		Payload:    json.RawMessage(`{}`),
	}
	require.NoError(t, relay.Handle(eventing.WithEnvelope(context.Background(), env), struct{}{}))
	require.NoError(t, relay.Close())
}

func TestRelay_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	relay, err := NewRelay(producer, "booking-events", nil)
	require.NoError(t, err)

	err = relay.Publish(context.Background(), eventing.Envelope{EventID: "evt-2", EventType: "x"})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, relay.Close())
}

func TestNewRelay_Validates(t *testing.T) {
	_, err := NewRelay(nil, "topic", nil)
	assert.Error(t, err)
	_, err = NewRelay(mocks.NewSyncProducer(t, nil), "", nil)
	assert.Error(t, err)
}
