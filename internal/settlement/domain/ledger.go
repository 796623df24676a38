package settlement

import (
	booking "gearshare/internal/booking/domain"
)

const (
	// DefaultOwnerShareBasisPoints is the owner's share of a booking price: 85%,
	// leaving a 15% platform commission.
	DefaultOwnerShareBasisPoints int64 = 8500

	basisPointsScale int64 = 10000
)

// Money is an amount in minor currency units.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Ledger computes payout splits and refund amounts. It never moves money.
type Ledger struct {
	ownerShareBP int64
}

// LedgerOption configures a ledger.
type LedgerOption func(*Ledger)

// WithOwnerShareBasisPoints overrides the owner share (1..10000).
func WithOwnerShareBasisPoints(bp int64) LedgerOption {
	return func(l *Ledger) {
		l.ownerShareBP = bp
	}
}

// NewLedger constructs a ledger with the default 85% owner share.
func NewLedger(opts ...LedgerOption) (*Ledger, error) {
	l := &Ledger{ownerShareBP: DefaultOwnerShareBasisPoints}
	for _, opt := range opts {
		opt(l)
	}
	if l.ownerShareBP <= 0 || l.ownerShareBP > basisPointsScale {
		return nil, ErrInvalidShare
	}
	return l, nil
}

// DefaultLedger returns a ledger using DefaultOwnerShareBasisPoints.
func DefaultLedger() *Ledger {
	return &Ledger{ownerShareBP: DefaultOwnerShareBasisPoints}
}

// OwnerShareBasisPoints returns the configured owner share.
func (l *Ledger) OwnerShareBasisPoints() int64 {
	if l == nil {
		return DefaultOwnerShareBasisPoints
	}
	return l.ownerShareBP
}

// Split divides a non-negative total into owner payout and platform fee.
// The owner share is rounded half-up to the nearest minor unit.
func (l *Ledger) Split(total int64) (owner, platform int64) {
	if total <= 0 {
		return 0, 0
	}
	owner = (total*l.OwnerShareBasisPoints() + basisPointsScale/2) / basisPointsScale
	return owner, total - owner
}

// ComputePayout returns the amount owed to the owner of b.
func (l *Ledger) ComputePayout(b *booking.Booking) (Money, error) {
	if b == nil {
		return Money{}, booking.ErrNilBooking
	}
	if b.Status != booking.StatusPaid && b.Status != booking.StatusCompleted {
		return Money{}, &booking.InvalidStateError{Operation: "payout", Status: b.Status}
	}
	if b.PaidOut {
		return Money{}, booking.ErrAlreadySettled
	}
	if !b.HasPayment() {
		return Money{}, booking.ErrNoPayment
	}
	owner, _ := l.Split(b.TotalPrice)
	return Money{Amount: owner, Currency: b.Currency}, nil
}

// ComputeRefund returns the amount to refund for b. A nil requested amount
// refunds the full total.
func (l *Ledger) ComputeRefund(b *booking.Booking, requested *int64) (Money, error) {
	if b == nil {
		return Money{}, booking.ErrNilBooking
	}
	if !b.HasPayment() {
		return Money{}, booking.ErrNoPayment
	}
	if b.Refunded {
		return Money{}, booking.ErrAlreadyRefunded
	}
	amount := b.TotalPrice
	if requested != nil {
		amount = *requested
	}
	if amount <= 0 || amount > b.TotalPrice {
		return Money{}, &booking.InvalidAmountError{Requested: amount, Max: b.TotalPrice}
	}
	return Money{Amount: amount, Currency: b.Currency}, nil
}
