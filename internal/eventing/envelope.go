package eventing

import (
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"gearshare/internal/eventing/eventbus"
)

// Envelope wraps an event payload with delivery metadata.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	BookingID     string          `json:"booking_id,omitempty"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Meta provides envelope overrides.
type Meta struct {
	EventID       string
	OccurredAt    time.Time
	CorrelationID string
	BookingID     string
	SchemaVersion int
}

// BuildEnvelope constructs an envelope from an event payload and metadata.
// Missing booking id and occurrence time are read from the event's
// BookingID and OccurredAt fields when present.
func BuildEnvelope(event any, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, errors.New("eventing: nil event")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}

	bookingID := meta.BookingID
	if bookingID == "" {
		bookingID = stringField(event, "BookingID")
	}
	occurredAt := meta.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = timeField(event, "OccurredAt")
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	eventID := meta.EventID
	if eventID == "" {
		eventID = NewEventID()
	}
	correlationID := meta.CorrelationID
	if correlationID == "" {
		correlationID = eventID
	}
	schemaVersion := meta.SchemaVersion
	if schemaVersion == 0 {
		schemaVersion = 1
	}

	return Envelope{
		EventID:       eventID,
		EventType:     TypeName(event),
		OccurredAt:    occurredAt.UTC(),
		CorrelationID: correlationID,
		BookingID:     bookingID,
		SchemaVersion: schemaVersion,
		Payload:       payload,
	}, nil
}

// TypeName is the envelope event type for event. It matches the bus routing
// key so a decoded payload reaches the handlers subscribed to its type.
func TypeName(event any) string {
	return eventbus.EventType(event)
}

func structValue(event any) (reflect.Value, bool) {
	value := reflect.ValueOf(event)
	for value.Kind() == reflect.Pointer {
		if value.IsNil() {
			return reflect.Value{}, false
		}
		value = value.Elem()
	}
	return value, value.Kind() == reflect.Struct
}

func stringField(event any, name string) string {
	value, ok := structValue(event)
	if !ok {
		return ""
	}
	field := value.FieldByName(name)
	if field.IsValid() && field.Kind() == reflect.String {
		return field.String()
	}
	return ""
}

func timeField(event any, name string) time.Time {
	value, ok := structValue(event)
	if !ok {
		return time.Time{}
	}
	field := value.FieldByName(name)
	if !field.IsValid() || !field.CanInterface() {
		return time.Time{}
	}
	if t, ok := field.Interface().(time.Time); ok {
		return t
	}
	return time.Time{}
}
