package eventing

import (
	"context"
	"time"

	"gearshare/internal/eventing/eventbus"
	"gearshare/internal/observability/metrics"
)

// ProcessedStore remembers which consumer handled which event id.
type ProcessedStore interface {
	HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, consumerName string) error
}

// Subscribe registers handler for eventType under consumerName. With a store,
// an event id is handled at most once per consumer across outbox redeliveries.
func Subscribe(bus eventbus.EventBus, eventType, consumerName string, handler eventbus.EventHandler, store ProcessedStore) {
	if handler == nil {
		return
	}
	if store != nil {
		handler = WrapHandler(consumerName, handler, store)
	}
	bus.Subscribe(eventType, handler)
}

// WrapHandler skips events consumerName already handled and marks an event
// only after handler succeeds, so a redelivery after a failure runs again. Events
// published without an envelope are passed straight through.
func WrapHandler(consumerName string, handler eventbus.EventHandler, store ProcessedStore) eventbus.EventHandler {
	return func(ctx context.Context, event any) error {
		env, ok := EnvelopeFromContext(ctx)
		if !ok || env.EventID == "" {
			return handler(ctx, event)
		}
		done, err := store.HasProcessed(ctx, env.EventID, consumerName)
		if err != nil {
			return err
		}
		if done {
			metrics.IncDuplicateDelivery(consumerName)
			return nil
		}
		if at := occurredAt(env, event); !at.IsZero() {
			metrics.ObserveConsumerLag(consumerName, time.Since(at))
		}
		if err := handler(ctx, event); err != nil {
			return err
		}
		return store.MarkProcessed(ctx, env.EventID, consumerName)
	}
}

func occurredAt(env Envelope, event any) time.Time {
	if !env.OccurredAt.IsZero() {
		return env.OccurredAt
	}
	return timeField(event, "OccurredAt")
}
