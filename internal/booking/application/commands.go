package application

import (
	"strings"
	"time"

	booking "gearshare/internal/booking/domain"
)

// SystemActor is the actor id used by scheduled jobs.
const SystemActor = "system"

// CheckoutConfirmed reports a captured payment for a booking. An empty Target
// means the default checkout target of the booking's current status.
type CheckoutConfirmed struct {
	BookingID        string
	PaymentReference string
	Target           booking.Status
}

// Validate checks required fields.
func (c CheckoutConfirmed) Validate() error {
	if strings.TrimSpace(c.BookingID) == "" {
		return &booking.ValidationError{Field: "booking_id", Message: "required"}
	}
	if strings.TrimSpace(c.PaymentReference) == "" {
		return &booking.ValidationError{Field: "payment_reference", Message: "required"}
	}
	if c.Target != "" && !c.Target.IsValid() {
		return &booking.ValidationError{Field: "target", Message: "unknown status"}
	}
	return nil
}

// CheckoutCompleted is the browser callback after a hosted checkout.
type CheckoutCompleted struct {
	SessionID string
}

// Validate checks required fields.
func (c CheckoutCompleted) Validate() error {
	if strings.TrimSpace(c.SessionID) == "" {
		return &booking.ValidationError{Field: "session_id", Message: "required"}
	}
	return nil
}

// IdentityVerified reports a completed identity verification.
type IdentityVerified struct {
	UserID string
}

// Validate checks required fields.
func (c IdentityVerified) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return &booking.ValidationError{Field: "user_id", Message: "required"}
	}
	return nil
}

// PayoutRequest asks to transfer the owner's share of a booking.
type PayoutRequest struct {
	BookingID string
	ActorID   string
}

// Validate checks required fields.
func (c PayoutRequest) Validate() error {
	if strings.TrimSpace(c.BookingID) == "" {
		return &booking.ValidationError{Field: "booking_id", Message: "required"}
	}
	return nil
}

// RefundRequest asks to refund a booking's payment. A nil Amount refunds the
// full price.
type RefundRequest struct {
	BookingID string
	Amount    *int64
	Reason    RefundReason
	ActorID   string
}

// Validate checks required fields and the reason.
func (c RefundRequest) Validate() error {
	if strings.TrimSpace(c.BookingID) == "" {
		return &booking.ValidationError{Field: "booking_id", Message: "required"}
	}
	if !c.Reason.Valid() {
		return &booking.ValidationError{Field: "reason", Message: "unsupported refund reason"}
	}
	return nil
}

// CreateBooking is a renter's booking request.
type CreateBooking struct {
	ItemID     string
	OwnerID    string
	RenterID   string
	TotalPrice int64
	Currency   string
	StartDate  time.Time
	EndDate    time.Time
}

// Validate checks the request shape; domain rules are applied by booking.New.
func (c CreateBooking) Validate() error {
	if strings.TrimSpace(c.RenterID) == "" {
		return &booking.ValidationError{Field: "renter_id", Message: "required"}
	}
	if strings.TrimSpace(c.ItemID) == "" {
		return &booking.ValidationError{Field: "item_id", Message: "required"}
	}
	return nil
}

// TransitionRequest asks to move a booking to Target on behalf of ActorID.
type TransitionRequest struct {
	BookingID string
	Target    booking.Status
	ActorID   string
	Admin     bool
}

// Validate checks required fields. Pending is never a requestable target.
func (c TransitionRequest) Validate() error {
	if strings.TrimSpace(c.BookingID) == "" {
		return &booking.ValidationError{Field: "booking_id", Message: "required"}
	}
	if strings.TrimSpace(c.ActorID) == "" {
		return &booking.ValidationError{Field: "actor_id", Message: "required"}
	}
	if !c.Target.IsValid() {
		return &booking.ValidationError{Field: "target", Message: "unknown status"}
	}
	if c.Target == booking.StatusPending {
		return &booking.ValidationError{Field: "target", Message: "status " + string(c.Target) + " cannot be requested directly"}
	}
	return nil
}
