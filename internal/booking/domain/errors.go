package booking

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a booking or profile does not exist.
	ErrNotFound = errors.New("booking: not found")
	// ErrNilBooking is returned when an operation receives a nil booking.
	ErrNilBooking = errors.New("booking: nil booking")
	// ErrAlreadySettled is returned when a booking was already paid out.
	ErrAlreadySettled = errors.New("booking: already paid out")
	// ErrAlreadyRefunded is returned when a booking was already refunded.
	ErrAlreadyRefunded = errors.New("booking: already refunded")
	// ErrNoPayment is returned when a monetary operation needs a recorded payment.
	ErrNoPayment = errors.New("booking: no payment on record")
	// ErrPaymentConflict is returned when a different payment reference is already recorded.
	ErrPaymentConflict = errors.New("booking: payment reference conflict")
	// ErrStaleEvent is returned when an external event references a missing booking.
	ErrStaleEvent = errors.New("booking: stale event")
	// ErrNoPayoutAccount is returned when the owner has no connected payout account.
	ErrNoPayoutAccount = errors.New("booking: owner has no payout account")
	// ErrForbidden is returned when the actor may not perform the operation.
	ErrForbidden = errors.New("booking: forbidden")

	ErrValidation             = errors.New("booking: validation failed")
	ErrIllegalTransition      = errors.New("booking: illegal transition")
	ErrInvalidState           = errors.New("booking: invalid state")
	ErrInvalidAmount          = errors.New("booking: invalid amount")
	ErrExternalService        = errors.New("booking: external service failure")
	ErrPersistence            = errors.New("booking: persistence failure")
	ErrReconciliationRequired = errors.New("booking: reconciliation required")
)

// ValidationError reports bad or missing input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// IllegalTransitionError reports an edge the state machine rejects.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %q to %q", e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

// InvalidStateError reports an operation attempted in a status that does not allow it.
type InvalidStateError struct {
	Operation string
	Status    Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed in status %q", e.Operation, e.Status)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// InvalidAmountError reports a refund amount outside (0, Max].
type InvalidAmountError struct {
	Requested int64
	Max       int64
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("amount %d out of range (0, %d]", e.Requested, e.Max)
}

func (e *InvalidAmountError) Is(target error) bool { return target == ErrInvalidAmount }

// ExternalServiceError wraps a payment processor or email failure.
// The booking was not mutated; the call may be retried.
type ExternalServiceError struct {
	Service   string
	Operation string
	Err       error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Operation, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }

// Retryable reports whether the caller may retry.
func (e *ExternalServiceError) Retryable() bool { return true }

// PersistenceError reports a failed write of an already validated change.
type PersistenceError struct {
	Operation string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Operation, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// ReconciliationError reports money that moved, or may have moved, externally
// without a local record.
// It must be resolved by an operator and never retried automatically.
type ReconciliationError struct {
	BookingID         string
	Operation         string
	ExternalReference string
	Err               error
}

func (e *ReconciliationError) Error() string {
	if e.ExternalReference == "" {
		return fmt.Sprintf("reconciliation required: booking %s %s outcome unknown: %v", e.BookingID, e.Operation, e.Err)
	}
	return fmt.Sprintf("reconciliation required: booking %s %s %s succeeded externally but was not recorded: %v",
		e.BookingID, e.Operation, e.ExternalReference, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

func (e *ReconciliationError) Is(target error) bool { return target == ErrReconciliationRequired }
