package eventing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gearshare/internal/observability/metrics"
)

const defaultBatchSize = 50

// Dispatcher drains the outbox into the in-process bus.
type Dispatcher struct {
	bus      EventBus
	outbox   OutboxStore
	registry *Registry
	dlq      DLQStore
	logger   *zap.Logger
}

// EventBus is the minimal publish interface.
type EventBus interface {
	Publish(ctx context.Context, event any) error
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// DLQStore records failures.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, err error) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
}

// DispatchResult captures the outcome of a dispatch run.
type DispatchResult struct {
	Requested int
	Claimed   int
	Sent      int
	Failed    int
	DLQ       int
}

// DispatcherOption configures a dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDLQ records failed deliveries in store.
func WithDLQ(store DLQStore) DispatcherOption {
	return func(d *Dispatcher) {
		d.dlq = store
	}
}

// WithDispatcherLogger sets the dispatcher logger.
func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(bus EventBus, outbox OutboxStore, registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{bus: bus, outbox: outbox, registry: registry, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch pulls pending outbox messages and delivers them. A record whose
// delivery fails is marked failed and copied to the DLQ; it is not retried.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (DispatchResult, error) {
	start := time.Now()
	result := DispatchResult{Requested: limit}
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		metrics.ObserveOutboxDispatch(metrics.ResultError, time.Since(start), 0, 0, 0)
		return result, nil
	}
	if limit <= 0 {
		limit = defaultBatchSize
		result.Requested = limit
	}
	records, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		metrics.ObserveOutboxDispatch(metrics.ResultError, time.Since(start), 0, 0, 0)
		return result, err
	}
	result.Claimed = len(records)
	if result.Claimed == 0 {
		metrics.ObserveOutboxDispatch(metrics.ResultSuccess, time.Since(start), 0, 0, 0)
		return result, nil
	}
	var firstErr error

	for _, record := range records {
		env := record.Envelope
		deliverErr := d.deliver(ctx, env)
		if deliverErr != nil {
			d.logger.Warn("outbox delivery failed",
				zap.String("outbox_id", record.ID),
				zap.String("event_id", env.EventID),
				zap.String("event_type", env.EventType),
				zap.String("booking_id", env.BookingID),
				zap.Error(deliverErr),
			)
			if err := d.outbox.MarkFailed(ctx, record.ID); err != nil && firstErr == nil {
				firstErr = err
			}
			if d.dlq != nil {
				if err := d.dlq.RecordFailure(ctx, env, deliverErr); err == nil {
					result.DLQ++
				} else {
					d.logger.Error("dlq record failed", zap.String("event_id", env.EventID), zap.Error(err))
				}
			}
			result.Failed++
			continue
		}

		if err := d.outbox.MarkSent(ctx, record.ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			result.Failed++
			continue
		}
		result.Sent++
	}
	dispatchResult := metrics.ResultSuccess
	if firstErr != nil || result.Failed > 0 {
		dispatchResult = metrics.ResultError
	}
	metrics.ObserveOutboxDispatch(dispatchResult, time.Since(start), result.Sent, result.Failed, result.DLQ)
	return result, firstErr
}

func (d *Dispatcher) deliver(ctx context.Context, env Envelope) error {
	payload, err := d.registry.DecodePayload(env)
	if err != nil {
		return err
	}
	return d.bus.Publish(WithEnvelope(ctx, env), payload)
}
