package eventbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// EventHandler handles a published event.
type EventHandler func(ctx context.Context, event any) error

// EventBus delivers events to subscribed handlers.
type EventBus interface {
	Publish(ctx context.Context, event any) error
	Subscribe(eventType string, handler EventHandler)
}

var (
	// ErrNilEvent is returned when a nil event is published.
	ErrNilEvent = errors.New("eventbus: nil event")
	// ErrInvalidEventType is returned when the event type cannot be determined.
	ErrInvalidEventType = errors.New("eventbus: invalid event type")
	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("eventbus: handler panicked")
)

// InMemoryBus fans an event out to the handlers registered for its type,
// synchronously and in subscription order.
type InMemoryBus struct {
	mu     sync.RWMutex
	routes map[string][]EventHandler
}

// NewInMemoryBus constructs an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{routes: map[string][]EventHandler{}}
}

// Publish runs every handler for the event's type, even after one fails.
// Failures, including recovered panics, are joined into the returned error.
func (b *InMemoryBus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return ErrNilEvent
	}
	name := EventType(event)
	if name == "" {
		return ErrInvalidEventType
	}

	b.mu.RLock()
	route := b.routes[name]
	b.mu.RUnlock()

	var errs []error
	for i, handler := range route {
		if err := invoke(ctx, handler, event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler %d: %w", name, i, err))
		}
	}
	return errors.Join(errs...)
}

// Subscribe appends a handler for an event type. Empty names and nil
// handlers are ignored.
func (b *InMemoryBus) Subscribe(eventType string, handler EventHandler) {
	if eventType == "" || handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	// Copy on write so Publish can range over a snapshot without holding the lock.
	next := make([]EventHandler, 0, len(b.routes[eventType])+1)
	next = append(next, b.routes[eventType]...)
	b.routes[eventType] = append(next, handler)
}

// Handlers reports how many handlers are registered for an event type.
func (b *InMemoryBus) Handlers(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.routes[eventType])
}

func invoke(ctx context.Context, handler EventHandler, event any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return handler(ctx, event)
}

// EventType names an event by its dereferenced Go type, so a value and a
// pointer to it route to the same handlers.
func EventType(event any) string {
	if event == nil {
		return ""
	}
	t := reflect.TypeOf(event)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}

// EventTypeOf is EventType for a type parameter.
func EventTypeOf[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
