package booking

import (
	"strings"
	"time"
)

// Booking is a renter's reservation of an item, with its payment and settlement state.
// Amounts are integer minor currency units.
type Booking struct {
	ID       string
	ItemID   string
	OwnerID  string
	RenterID string

	Status     Status
	TotalPrice int64
	Currency   string
	StartDate  time.Time
	EndDate    time.Time

	PaymentReference string

	PaidOut         bool
	PayoutReference string
	PaidOutAt       time.Time

	Refunded        bool
	RefundAmount    int64
	RefundReference string
	RefundedAt      time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBookingParams carries the fields of a renter-initiated booking request.
type NewBookingParams struct {
	ID         string
	ItemID     string
	OwnerID    string
	RenterID   string
	TotalPrice int64
	Currency   string
	StartDate  time.Time
	EndDate    time.Time
	CreatedAt  time.Time
}

// New validates params and returns a pending booking.
func New(params NewBookingParams) (*Booking, error) {
	required := []struct {
		field string
		value string
	}{
		{"id", params.ID},
		{"item_id", params.ItemID},
		{"owner_id", params.OwnerID},
		{"renter_id", params.RenterID},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, &ValidationError{Field: r.field, Message: "required"}
		}
	}
	if params.OwnerID == params.RenterID {
		return nil, &ValidationError{Field: "renter_id", Message: "owner cannot rent their own item"}
	}
	if params.TotalPrice < 0 {
		return nil, &ValidationError{Field: "total_price", Message: "must not be negative"}
	}
	currency, err := NormalizeCurrency(params.Currency)
	if err != nil {
		return nil, err
	}
	if params.StartDate.IsZero() || params.EndDate.IsZero() {
		return nil, &ValidationError{Field: "dates", Message: "start and end dates are required"}
	}
	if params.EndDate.Before(params.StartDate) {
		return nil, &ValidationError{Field: "end_date", Message: "must not be before start_date"}
	}
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &Booking{
		ID:         params.ID,
		ItemID:     params.ItemID,
		OwnerID:    params.OwnerID,
		RenterID:   params.RenterID,
		Status:     StatusPending,
		TotalPrice: params.TotalPrice,
		Currency:   currency,
		StartDate:  params.StartDate.UTC(),
		EndDate:    params.EndDate.UTC(),
		CreatedAt:  createdAt.UTC(),
		UpdatedAt:  createdAt.UTC(),
	}, nil
}

// NormalizeCurrency upper-cases and validates a three-letter currency code.
func NormalizeCurrency(value string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(value))
	if len(code) != 3 {
		return "", &ValidationError{Field: "currency", Message: "must be a three-letter code"}
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", &ValidationError{Field: "currency", Message: "must be a three-letter code"}
		}
	}
	return code, nil
}

// HasPayment reports whether a payment reference is recorded.
func (b *Booking) HasPayment() bool {
	return b != nil && b.PaymentReference != ""
}

// TransitionTo moves the booking to next when the edge table allows it.
func (b *Booking) TransitionTo(next Status, at time.Time) error {
	if b == nil {
		return ErrNilBooking
	}
	if !CanTransition(b.Status, next) {
		return &IllegalTransitionError{From: b.Status, To: next}
	}
	b.Status = next
	b.UpdatedAt = at.UTC()
	return nil
}

// RecordPayment stores the external payment reference. Recording the same
// reference twice is a no-op; a different one is a conflict.
func (b *Booking) RecordPayment(reference string, at time.Time) error {
	if b == nil {
		return ErrNilBooking
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return &ValidationError{Field: "payment_reference", Message: "required"}
	}
	if b.PaymentReference == reference {
		return nil
	}
	if b.PaymentReference != "" {
		return ErrPaymentConflict
	}
	b.PaymentReference = reference
	b.UpdatedAt = at.UTC()
	return nil
}

// MarkPaidOut records the owner transfer. It can succeed only once.
func (b *Booking) MarkPaidOut(transferID string, at time.Time) error {
	if b == nil {
		return ErrNilBooking
	}
	if b.Status != StatusPaid && b.Status != StatusCompleted {
		return &InvalidStateError{Operation: "payout", Status: b.Status}
	}
	if b.PaidOut {
		return ErrAlreadySettled
	}
	if !b.HasPayment() {
		return ErrNoPayment
	}
	if strings.TrimSpace(transferID) == "" {
		return &ValidationError{Field: "transfer_id", Message: "required"}
	}
	b.PaidOut = true
	b.PayoutReference = transferID
	b.PaidOutAt = at.UTC()
	b.UpdatedAt = at.UTC()
	return nil
}

// RecordRefund cancels the booking and stamps the refund fields together.
func (b *Booking) RecordRefund(amount int64, reference string, at time.Time) error {
	if b == nil {
		return ErrNilBooking
	}
	if !b.HasPayment() {
		return ErrNoPayment
	}
	if b.Refunded {
		return ErrAlreadyRefunded
	}
	if b.PaidOut {
		return ErrAlreadySettled
	}
	if amount <= 0 || amount > b.TotalPrice {
		return &InvalidAmountError{Requested: amount, Max: b.TotalPrice}
	}
	if strings.TrimSpace(reference) == "" {
		return &ValidationError{Field: "refund_reference", Message: "required"}
	}
	if err := b.TransitionTo(StatusCancelled, at); err != nil {
		return err
	}
	b.Refunded = true
	b.RefundAmount = amount
	b.RefundReference = reference
	b.RefundedAt = at.UTC()
	return nil
}
