package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"gearshare/internal/booking/application/events"
	booking "gearshare/internal/booking/domain"
	"gearshare/internal/observability/metrics"
	settlement "gearshare/internal/settlement/domain"
)

const (
	defaultExternalTimeout  = 10 * time.Second
	defaultOperationTimeout = 30 * time.Second
	completionBatchSize     = 200

	paymentService = "payment"
)

// Result describes the outcome of a processor operation.
type Result struct {
	Booking       *booking.Booking
	Previous      booking.Status
	Transitioned  bool
	Duplicate     bool
	Notifications []events.NotificationRequested
	Reference     string
	Amount        settlement.Money
}

// CompletionSummary reports a completion sweep.
type CompletionSummary struct {
	Due       int
	Completed int
	Failed    int
}

// Processor applies payment events and admin actions to bookings. All status
// changes go through the booking state machine and every monetary operation
// runs while the booking is locked.
type Processor struct {
	bookings Repository
	profiles ProfileStore
	payments PaymentGateway

	ledger           *settlement.Ledger
	authorizer       Authorizer
	alerter          Alerter
	clock            Clock
	logger           *zap.Logger
	tracer           trace.Tracer
	externalTimeout  time.Duration
	operationTimeout time.Duration
}

// Option configures the processor.
type Option func(*Processor)

// WithLedger overrides the settlement ledger.
func WithLedger(ledger *settlement.Ledger) Option {
	return func(p *Processor) {
		if ledger != nil {
			p.ledger = ledger
		}
	}
}

// WithAuthorizer enables admin checks on payout and refund.
func WithAuthorizer(authorizer Authorizer) Option {
	return func(p *Processor) {
		p.authorizer = authorizer
	}
}

// WithAlerter sets the reconciliation alerter.
func WithAlerter(alerter Alerter) Option {
	return func(p *Processor) {
		p.alerter = alerter
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(p *Processor) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTracer overrides the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Processor) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// WithExternalTimeout bounds each payment processor call.
func WithExternalTimeout(timeout time.Duration) Option {
	return func(p *Processor) {
		if timeout > 0 {
			p.externalTimeout = timeout
		}
	}
}

// WithOperationTimeout bounds a whole operation, including persistence.
func WithOperationTimeout(timeout time.Duration) Option {
	return func(p *Processor) {
		if timeout > 0 {
			p.operationTimeout = timeout
		}
	}
}

// NewProcessor constructs a processor.
func NewProcessor(bookings Repository, profiles ProfileStore, payments PaymentGateway, opts ...Option) (*Processor, error) {
	if bookings == nil {
		return nil, errors.New("booking processor: nil repository")
	}
	if profiles == nil {
		return nil, errors.New("booking processor: nil profile store")
	}
	if payments == nil {
		return nil, errors.New("booking processor: nil payment gateway")
	}
	p := &Processor{
		bookings:         bookings,
		profiles:         profiles,
		payments:         payments,
		ledger:           settlement.DefaultLedger(),
		clock:            SystemClock{},
		logger:           zap.NewNop(),
		tracer:           otel.Tracer("gearshare/booking"),
		externalTimeout:  defaultExternalTimeout,
		operationTimeout: defaultOperationTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// OnCheckoutConfirmed records a captured payment and moves the booking to its
// checkout target. Redelivery of the same payment reference is a no-op.
func (p *Processor) OnCheckoutConfirmed(ctx context.Context, cmd CheckoutConfirmed) (result Result, err error) {
	ctx, finish := p.begin(ctx, "checkout_confirmed", cmd.BookingID)
	defer func() { finish(&result, err) }()

	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}

	updated, err := p.bookings.Update(ctx, cmd.BookingID, func(ctx context.Context, b *booking.Booking) (Change, error) {
		result.Previous = b.Status
		if b.PaymentReference == cmd.PaymentReference {
			result.Duplicate = true
			return Change{Skip: true}, nil
		}
		if b.PaymentReference != "" {
			return Change{}, booking.ErrPaymentConflict
		}
		if b.Status != booking.StatusPending && b.Status != booking.StatusApproved {
			return Change{}, &booking.InvalidStateError{Operation: "checkout", Status: b.Status}
		}
		target := cmd.Target
		if target == "" {
			var ok bool
			if target, ok = booking.CheckoutTarget(b.Status); !ok {
				return Change{}, &booking.InvalidStateError{Operation: "checkout", Status: b.Status}
			}
		}
		now := p.clock.Now()
		if err := b.TransitionTo(target, now); err != nil {
			return Change{}, err
		}
		if err := b.RecordPayment(cmd.PaymentReference, now); err != nil {
			return Change{}, err
		}
		trigger := "checkout:" + cmd.PaymentReference
		notes := []events.NotificationRequested{
			events.NewNotification(events.KindBookingApproved, b.ID, b.RenterID, trigger, now),
			events.NewNotification(events.KindBookingConfirmed, b.ID, b.OwnerID, trigger, now),
		}
		result.Transitioned = true
		result.Notifications = notes
		return Change{Notifications: notes}, nil
	})
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %w", booking.ErrStaleEvent, err)
		}
		return Result{}, err
	}
	result.Booking = updated
	result.Reference = cmd.PaymentReference
	return result, nil
}

// OnCheckoutCompleted verifies a checkout session with the payment processor
// and confirms the booking it paid for.
func (p *Processor) OnCheckoutCompleted(ctx context.Context, cmd CheckoutCompleted) (Result, error) {
	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}
	ctx, cancel := p.detach(ctx)
	defer cancel()

	var session CheckoutSession
	err := p.external(ctx, "verify_checkout_session", func(ctx context.Context) error {
		var err error
		session, err = p.payments.VerifyCheckoutSession(ctx, cmd.SessionID)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	if !session.Paid {
		return Result{}, &booking.ValidationError{Field: "session_id", Message: "checkout session is not paid"}
	}
	if session.BookingID == "" || session.PaymentReference == "" {
		return Result{}, &booking.ValidationError{Field: "session_id", Message: "checkout session has no booking reference"}
	}
	return p.OnCheckoutConfirmed(ctx, CheckoutConfirmed{
		BookingID:        session.BookingID,
		PaymentReference: session.PaymentReference,
	})
}

// OnIdentityVerified marks the user's profile verified. It reports whether the
// profile changed; repeated events return false.
func (p *Processor) OnIdentityVerified(ctx context.Context, cmd IdentityVerified) (changed bool, err error) {
	ctx, finish := p.begin(ctx, "identity_verified", "")
	defer func() {
		res := Result{Duplicate: err == nil && !changed}
		finish(&res, err)
	}()

	if err := cmd.Validate(); err != nil {
		return false, err
	}
	changed, err = p.profiles.MarkIdentityVerified(ctx, cmd.UserID, p.clock.Now())
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			return false, fmt.Errorf("%w: %w", booking.ErrStaleEvent, err)
		}
		return false, err
	}
	if changed {
		p.logger.Info("identity verified", zap.String("user_id", cmd.UserID))
	}
	return changed, nil
}

// OnAdminPayoutRequest transfers the owner's share of a paid booking. The
// transfer happens while the booking is locked, so concurrent requests
// transfer at most once; the loser observes booking.ErrAlreadySettled.
func (p *Processor) OnAdminPayoutRequest(ctx context.Context, cmd PayoutRequest) (result Result, err error) {
	ctx, finish := p.begin(ctx, "payout", cmd.BookingID)
	defer func() { finish(&result, err) }()

	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}
	if err := p.requireAdmin(ctx); err != nil {
		return Result{}, err
	}

	var transferID string
	var payout settlement.Money
	var outcomeUnknown bool
	updated, err := p.bookings.Update(ctx, cmd.BookingID, func(ctx context.Context, b *booking.Booking) (Change, error) {
		amount, err := p.ledger.ComputePayout(b)
		if err != nil {
			return Change{}, err
		}
		destination, err := p.profiles.PayoutAccount(ctx, b.OwnerID)
		if err != nil {
			return Change{}, err
		}
		payout = amount
		err = p.external(ctx, "transfer", func(ctx context.Context) error {
			var err error
			transferID, err = p.payments.CreateTransfer(ctx, TransferParams{
				Amount:         amount.Amount,
				Currency:       amount.Currency,
				Destination:    destination,
				BookingID:      b.ID,
				IdempotencyKey: "payout-" + b.ID,
				Metadata: map[string]string{
					"booking_id": b.ID,
					"owner_id":   b.OwnerID,
				},
			})
			return err
		})
		if err != nil {
			outcomeUnknown = interrupted(err)
			return Change{}, err
		}
		now := p.clock.Now()
		if err := b.MarkPaidOut(transferID, now); err != nil {
			return Change{}, err
		}
		note := events.NewNotification(events.KindPayoutSent, b.ID, b.OwnerID, "payout:"+transferID, now)
		result.Notifications = []events.NotificationRequested{note}
		return Change{Notifications: result.Notifications}, nil
	})
	if err != nil {
		if transferID != "" || outcomeUnknown {
			return Result{}, p.reconcile(ctx, cmd.BookingID, "payout", transferID, payout, err)
		}
		return Result{}, err
	}
	p.logger.Info("payout sent",
		zap.String("booking_id", cmd.BookingID),
		zap.String("actor_id", cmd.ActorID),
		zap.String("transfer_id", transferID),
		zap.Int64("amount", payout.Amount),
		zap.String("currency", payout.Currency),
	)
	result.Booking = updated
	result.Reference = transferID
	result.Amount = payout
	return result, nil
}

// OnAdminRefundRequest refunds a booking's payment and cancels it. The refund
// and the cancellation are recorded together after the processor confirms.
func (p *Processor) OnAdminRefundRequest(ctx context.Context, cmd RefundRequest) (result Result, err error) {
	ctx, finish := p.begin(ctx, "refund", cmd.BookingID)
	defer func() { finish(&result, err) }()

	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}
	if err := p.requireAdmin(ctx); err != nil {
		return Result{}, err
	}

	var refundID string
	var refund settlement.Money
	var outcomeUnknown bool
	updated, err := p.bookings.Update(ctx, cmd.BookingID, func(ctx context.Context, b *booking.Booking) (Change, error) {
		result.Previous = b.Status
		amount, err := p.ledger.ComputeRefund(b, cmd.Amount)
		if err != nil {
			return Change{}, err
		}
		if b.PaidOut {
			return Change{}, fmt.Errorf("%w: owner payout %s already sent", booking.ErrAlreadySettled, b.PayoutReference)
		}
		if !booking.CanTransition(b.Status, booking.StatusCancelled) {
			return Change{}, &booking.IllegalTransitionError{From: b.Status, To: booking.StatusCancelled}
		}
		refund = amount
		err = p.external(ctx, "refund", func(ctx context.Context) error {
			var err error
			refundID, err = p.payments.CreateRefund(ctx, RefundParams{
				PaymentReference: b.PaymentReference,
				Amount:           amount.Amount,
				Reason:           cmd.Reason,
				BookingID:        b.ID,
				IdempotencyKey:   "refund-" + b.ID,
			})
			return err
		})
		if err != nil {
			outcomeUnknown = interrupted(err)
			return Change{}, err
		}
		now := p.clock.Now()
		if err := b.RecordRefund(amount.Amount, refundID, now); err != nil {
			return Change{}, err
		}
		trigger := "refund:" + refundID
		result.Transitioned = true
		result.Notifications = []events.NotificationRequested{
			events.NewNotification(events.KindBookingRefunded, b.ID, b.RenterID, trigger, now),
			events.NewNotification(events.KindBookingCancelled, b.ID, b.OwnerID, trigger, now),
		}
		return Change{Notifications: result.Notifications}, nil
	})
	if err != nil {
		if refundID != "" || outcomeUnknown {
			return Result{}, p.reconcile(ctx, cmd.BookingID, "refund", refundID, refund, err)
		}
		return Result{}, err
	}
	p.logger.Info("refund issued",
		zap.String("booking_id", cmd.BookingID),
		zap.String("actor_id", cmd.ActorID),
		zap.String("refund_id", refundID),
		zap.Int64("amount", refund.Amount),
		zap.String("reason", string(cmd.Reason)),
	)
	result.Booking = updated
	result.Reference = refundID
	result.Amount = refund
	return result, nil
}

// RequestBooking creates a pending booking and notifies the owner.
func (p *Processor) RequestBooking(ctx context.Context, cmd CreateBooking) (result Result, err error) {
	ctx, finish := p.begin(ctx, "request_booking", "")
	defer func() { finish(&result, err) }()

	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}
	now := p.clock.Now()
	b, err := booking.New(booking.NewBookingParams{
		ID:         uuid.NewString(),
		ItemID:     cmd.ItemID,
		OwnerID:    cmd.OwnerID,
		RenterID:   cmd.RenterID,
		TotalPrice: cmd.TotalPrice,
		Currency:   cmd.Currency,
		StartDate:  cmd.StartDate,
		EndDate:    cmd.EndDate,
		CreatedAt:  now,
	})
	if err != nil {
		return Result{}, err
	}
	notes := []events.NotificationRequested{
		events.NewNotification(events.KindBookingRequested, b.ID, b.OwnerID, "requested", now),
	}
	if err := p.bookings.Create(ctx, b, notes); err != nil {
		return Result{}, err
	}
	return Result{Booking: b, Notifications: notes}, nil
}

// Transition moves a booking to the requested status on behalf of an actor.
// Owners approve and reject; either party cancels or completes. An approved
// booking whose checkout was already captured moves to paid on the owner's or
// the system's request. Cancelling a booking with an unrefunded payment
// requires a refund instead.
func (p *Processor) Transition(ctx context.Context, cmd TransitionRequest) (result Result, err error) {
	ctx, finish := p.begin(ctx, "transition", cmd.BookingID)
	defer func() { finish(&result, err) }()

	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}

	updated, err := p.bookings.Update(ctx, cmd.BookingID, func(ctx context.Context, b *booking.Booking) (Change, error) {
		result.Previous = b.Status
		if err := authorizeTransition(b, cmd); err != nil {
			return Change{}, err
		}
		if cmd.Target == booking.StatusCancelled && b.HasPayment() && !b.Refunded {
			return Change{}, &booking.InvalidStateError{Operation: "cancel without refund", Status: b.Status}
		}
		if cmd.Target == booking.StatusPaid && !b.HasPayment() {
			return Change{}, &booking.InvalidStateError{Operation: "capture without payment", Status: b.Status}
		}
		now := p.clock.Now()
		if err := b.TransitionTo(cmd.Target, now); err != nil {
			return Change{}, err
		}
		result.Transitioned = true
		result.Notifications = transitionNotifications(b, cmd.Target, now)
		return Change{Notifications: result.Notifications}, nil
	})
	if err != nil {
		return Result{}, err
	}
	result.Booking = updated
	return result, nil
}

// CompleteElapsed completes paid bookings whose rental window ended before asOf.
func (p *Processor) CompleteElapsed(ctx context.Context, asOf time.Time) (CompletionSummary, error) {
	ids, err := p.bookings.ListDueForCompletion(ctx, asOf, completionBatchSize)
	if err != nil {
		return CompletionSummary{}, err
	}
	summary := CompletionSummary{Due: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		_, err := p.Transition(ctx, TransitionRequest{
			BookingID: id,
			Target:    booking.StatusCompleted,
			ActorID:   SystemActor,
		})
		if err != nil {
			summary.Failed++
			p.logger.Warn("complete booking failed", zap.String("booking_id", id), zap.Error(err))
			continue
		}
		summary.Completed++
	}
	return summary, nil
}

func authorizeTransition(b *booking.Booking, cmd TransitionRequest) error {
	if cmd.Admin {
		return nil
	}
	isOwner := cmd.ActorID == b.OwnerID
	isRenter := cmd.ActorID == b.RenterID
	switch cmd.Target {
	case booking.StatusApproved, booking.StatusRejected:
		if isOwner {
			return nil
		}
	case booking.StatusPaid:
		if isOwner || cmd.ActorID == SystemActor {
			return nil
		}
	case booking.StatusCancelled:
		if isOwner || isRenter {
			return nil
		}
	case booking.StatusCompleted:
		if isOwner || isRenter || cmd.ActorID == SystemActor {
			return nil
		}
	}
	return fmt.Errorf("%w: %s may not move booking %s to %s", booking.ErrForbidden, cmd.ActorID, b.ID, cmd.Target)
}

func transitionNotifications(b *booking.Booking, target booking.Status, at time.Time) []events.NotificationRequested {
	trigger := "transition:" + string(target)
	switch target {
	case booking.StatusApproved:
		return []events.NotificationRequested{
			events.NewNotification(events.KindBookingApproved, b.ID, b.RenterID, trigger, at),
		}
	case booking.StatusRejected:
		return []events.NotificationRequested{
			events.NewNotification(events.KindBookingRejected, b.ID, b.RenterID, trigger, at),
		}
	case booking.StatusPaid:
		return []events.NotificationRequested{
			events.NewNotification(events.KindBookingConfirmed, b.ID, b.RenterID, trigger, at),
		}
	case booking.StatusCancelled:
		return []events.NotificationRequested{
			events.NewNotification(events.KindBookingCancelled, b.ID, b.RenterID, trigger, at),
			events.NewNotification(events.KindBookingCancelled, b.ID, b.OwnerID, trigger, at),
		}
	case booking.StatusCompleted:
		return []events.NotificationRequested{
			events.NewNotification(events.KindBookingCompleted, b.ID, b.RenterID, trigger, at),
			events.NewNotification(events.KindBookingCompleted, b.ID, b.OwnerID, trigger, at),
		}
	}
	return nil
}

func (p *Processor) requireAdmin(ctx context.Context) error {
	if p.authorizer == nil {
		return nil
	}
	return p.authorizer.RequireAdmin(ctx)
}

// detach returns a context that survives caller cancellation but is bounded
// by the operation timeout.
func (p *Processor) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.operationTimeout)
}

// begin starts an operation: detached context, span and metrics.
func (p *Processor) begin(ctx context.Context, operation, bookingID string) (context.Context, func(*Result, error)) {
	start := time.Now()
	ctx, cancel := p.detach(ctx)
	ctx, span := p.tracer.Start(ctx, "booking."+operation, trace.WithAttributes(
		attribute.String("booking.id", bookingID),
	))
	return ctx, func(result *Result, err error) {
		outcome := metrics.ResultSuccess
		switch {
		case err != nil:
			outcome = metrics.ResultError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case result != nil && result.Duplicate:
			outcome = metrics.ResultSkipped
		}
		if result != nil {
			span.SetAttributes(attribute.Bool("booking.transitioned", result.Transitioned))
		}
		metrics.ObserveOperation(operation, outcome, time.Since(start))
		span.End()
		cancel()
	}
}

// external runs a payment processor call under the external timeout and wraps
// failures as ExternalServiceError.
func (p *Processor) external(ctx context.Context, operation string, call func(ctx context.Context) error) error {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, p.externalTimeout)
	defer cancel()

	err := call(callCtx)
	if err != nil {
		metrics.ObserveExternalCall(paymentService, operation, metrics.ResultError, time.Since(start))
		var extErr *booking.ExternalServiceError
		if errors.As(err, &extErr) {
			return err
		}
		return &booking.ExternalServiceError{Service: paymentService, Operation: operation, Err: err}
	}
	metrics.ObserveExternalCall(paymentService, operation, metrics.ResultSuccess, time.Since(start))
	return nil
}

// interrupted reports whether a payment call was cut off before it answered,
// in which case the processor may still have moved the money.
func interrupted(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func (p *Processor) reconcile(ctx context.Context, bookingID, operation, reference string, amount settlement.Money, cause error) error {
	recErr := &booking.ReconciliationError{
		BookingID:         bookingID,
		Operation:         operation,
		ExternalReference: reference,
		Err:               cause,
	}
	p.logger.Error("reconciliation required",
		zap.String("booking_id", bookingID),
		zap.String("operation", operation),
		zap.String("external_reference", reference),
		zap.Int64("amount", amount.Amount),
		zap.String("currency", amount.Currency),
		zap.Error(cause),
	)
	metrics.IncReconciliationRequired(operation)
	if p.alerter != nil {
		p.alerter.Alert(ctx, ReconciliationAlert{
			BookingID:         bookingID,
			Operation:         operation,
			ExternalReference: reference,
			Amount:            amount.Amount,
			Currency:          amount.Currency,
			Cause:             cause.Error(),
			OccurredAt:        p.clock.Now(),
		})
	}
	return recErr
}
