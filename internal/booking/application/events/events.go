package events

import (
	"time"

	"gearshare/internal/eventing"
)

// NotificationKind names an email notification.
type NotificationKind string

const (
	KindBookingRequested NotificationKind = "booking_requested"
	KindBookingApproved  NotificationKind = "booking_approved"
	KindBookingConfirmed NotificationKind = "booking_confirmed"
	KindBookingRejected  NotificationKind = "booking_rejected"
	KindBookingCancelled NotificationKind = "booking_cancelled"
	KindBookingCompleted NotificationKind = "booking_completed"
	KindBookingRefunded  NotificationKind = "booking_refunded"
	KindPayoutSent       NotificationKind = "payout_sent"
)

// Kinds lists every notification kind.
func Kinds() []NotificationKind {
	return []NotificationKind{
		KindBookingRequested,
		KindBookingApproved,
		KindBookingConfirmed,
		KindBookingRejected,
		KindBookingCancelled,
		KindBookingCompleted,
		KindBookingRefunded,
		KindPayoutSent,
	}
}

// NotificationRequested asks for one email to one recipient about one booking.
// Trigger identifies the transition that caused it.
type NotificationRequested struct {
	Kind        NotificationKind `json:"kind"`
	BookingID   string           `json:"booking_id"`
	RecipientID string           `json:"recipient_id"`
	Trigger     string           `json:"trigger"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

// NewNotification builds a notification request.
func NewNotification(kind NotificationKind, bookingID, recipientID, trigger string, at time.Time) NotificationRequested {
	return NotificationRequested{
		Kind:        kind,
		BookingID:   bookingID,
		RecipientID: recipientID,
		Trigger:     trigger,
		OccurredAt:  at.UTC(),
	}
}

// EventID is stable for a (kind, booking, recipient, trigger) tuple.
func (n NotificationRequested) EventID() string {
	return eventing.DeterministicEventID(string(n.Kind), n.BookingID, n.RecipientID, n.Trigger)
}

// Envelope wraps n for the outbox.
func (n NotificationRequested) Envelope(meta eventing.Meta) (eventing.Envelope, error) {
	meta.EventID = n.EventID()
	meta.BookingID = n.BookingID
	meta.OccurredAt = n.OccurredAt
	return eventing.BuildEnvelope(n, meta)
}
