package notify

import (
	"context"
	"fmt"

	"gearshare/internal/booking/application/events"
	"gearshare/internal/eventing"
	"gearshare/internal/eventing/eventbus"
)

// ConsumerName identifies the email consumer in the processed-events store.
const ConsumerName = "notify.email"

// HandleNotificationRequested adapts the dispatcher to the event bus. A failed
// dispatch is returned as an error so the outbox records it as failed.
func HandleNotificationRequested(d *Dispatcher) eventbus.EventHandler {
	return func(ctx context.Context, event any) error {
		var note events.NotificationRequested
		switch e := event.(type) {
		case events.NotificationRequested:
			note = e
		case *events.NotificationRequested:
			if e == nil {
				return eventbus.ErrNilEvent
			}
			note = *e
		default:
			return fmt.Errorf("notify: unexpected event %T", event)
		}
		result := d.Dispatch(ctx, Event{
			Kind:        note.Kind,
			BookingID:   note.BookingID,
			RecipientID: note.RecipientID,
		})
		return result.Err
	}
}

// Subscribe registers the email consumer on bus. A non-nil store makes
// delivery at most once per event id.
func Subscribe(bus eventbus.EventBus, d *Dispatcher, store eventing.ProcessedStore) {
	eventing.Subscribe(bus, eventbus.EventTypeOf[events.NotificationRequested](), ConsumerName, HandleNotificationRequested(d), store)
}
