package application

import (
	"context"
	"time"

	"gearshare/internal/booking/application/events"
	booking "gearshare/internal/booking/domain"
)

// Change describes what an UpdateFunc wants persisted. Skip leaves the row
// untouched; otherwise the booking and Notifications are written atomically.
type Change struct {
	Skip          bool
	Notifications []events.NotificationRequested
}

// UpdateFunc mutates a locked copy of a booking. Returning an error aborts the
// update without writing anything.
type UpdateFunc func(ctx context.Context, b *booking.Booking) (Change, error)

// Repository persists bookings. Update holds an exclusive lock on the booking
// for the duration of fn, so reads inside fn and the write are one atomic step.
type Repository interface {
	Get(ctx context.Context, id string) (*booking.Booking, error)
	Create(ctx context.Context, b *booking.Booking, notifications []events.NotificationRequested) error
	Update(ctx context.Context, id string, fn UpdateFunc) (*booking.Booking, error)
	ListDueForCompletion(ctx context.Context, asOf time.Time, limit int) ([]string, error)
	ListPaidOut(ctx context.Context, from, to time.Time) ([]booking.Booking, error)
}

// ProfileStore is the profile side of the persistence collaborator.
type ProfileStore interface {
	// MarkIdentityVerified returns false when the profile was already verified.
	MarkIdentityVerified(ctx context.Context, userID string, at time.Time) (bool, error)
	// PayoutAccount returns the owner's connected account id, or
	// booking.ErrNoPayoutAccount.
	PayoutAccount(ctx context.Context, userID string) (string, error)
}

// TransferParams describes an owner payout transfer.
type TransferParams struct {
	Amount         int64
	Currency       string
	Destination    string
	BookingID      string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundReason is the reason passed to the payment processor.
type RefundReason string

const (
	RefundReasonNone                RefundReason = ""
	RefundReasonDuplicate           RefundReason = "duplicate"
	RefundReasonFraudulent          RefundReason = "fraudulent"
	RefundReasonRequestedByCustomer RefundReason = "requested_by_customer"
)

// Valid reports whether r is accepted by the payment processor.
func (r RefundReason) Valid() bool {
	switch r {
	case RefundReasonNone, RefundReasonDuplicate, RefundReasonFraudulent, RefundReasonRequestedByCustomer:
		return true
	}
	return false
}

// RefundParams describes a refund of a recorded payment.
type RefundParams struct {
	PaymentReference string
	Amount           int64
	Reason           RefundReason
	BookingID        string
	IdempotencyKey   string
}

// CheckoutSession is the verified state of a hosted checkout.
type CheckoutSession struct {
	ID               string
	Paid             bool
	PaymentReference string
	BookingID        string
}

// PaymentGateway is the payment processor collaborator.
type PaymentGateway interface {
	CreateTransfer(ctx context.Context, params TransferParams) (string, error)
	CreateRefund(ctx context.Context, params RefundParams) (string, error)
	VerifyCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error)
}

// Authorizer checks the caller carried by ctx.
type Authorizer interface {
	RequireAdmin(ctx context.Context) error
}

// ReconciliationAlert reports money that moved without a local record.
type ReconciliationAlert struct {
	BookingID         string
	Operation         string
	ExternalReference string
	Amount            int64
	Currency          string
	Cause             string
	OccurredAt        time.Time
}

// Alerter escalates reconciliation cases to operators.
type Alerter interface {
	Alert(ctx context.Context, alert ReconciliationAlert)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
