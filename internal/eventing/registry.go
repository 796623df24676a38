package eventing

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"gearshare/internal/eventing/eventbus"
)

var (
	// ErrUnknownEventType is returned when an envelope type was never registered.
	ErrUnknownEventType = errors.New("eventing: unknown event type")
	// ErrUnsupportedSchema is returned for an envelope written by a newer
	// schema than this process decodes.
	ErrUnsupportedSchema = errors.New("eventing: unsupported schema version")
)

type decoder struct {
	maxVersion int
	decode     func(json.RawMessage) (any, error)
}

// Registry maps envelope event types to payload decoders. Outbox rows outlive
// deploys, so each type also records the newest schema version it accepts.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]decoder
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: map[string]decoder{}}
}

// Register adds T at schema version 1 and returns its envelope type name.
func Register[T any](r *Registry) string {
	return RegisterVersion[T](r, 1)
}

// RegisterVersion adds T accepting schema versions up to maxVersion.
func RegisterVersion[T any](r *Registry, maxVersion int) string {
	name := eventbus.EventTypeOf[T]()
	if r == nil {
		return name
	}
	if maxVersion < 1 {
		maxVersion = 1
	}
	r.mu.Lock()
	r.decoders[name] = decoder{
		maxVersion: maxVersion,
		decode: func(raw json.RawMessage) (any, error) {
			var v T
			err := json.Unmarshal(raw, &v)
			return v, err
		},
	}
	r.mu.Unlock()
	return name
}

// DecodePayload decodes env's payload into a value of its registered type.
func (r *Registry) DecodePayload(env Envelope) (any, error) {
	if r == nil {
		return nil, errors.New("eventing: nil registry")
	}
	r.mu.RLock()
	d, ok := r.decoders[env.EventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.EventType)
	}
	if env.SchemaVersion > d.maxVersion {
		return nil, fmt.Errorf("%w: %s v%d (max v%d)", ErrUnsupportedSchema, env.EventType, env.SchemaVersion, d.maxVersion)
	}
	payload, err := d.decode(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("eventing: decode %s: %w", env.EventType, err)
	}
	return payload, nil
}
