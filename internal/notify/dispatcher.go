package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gearshare/internal/booking/application/events"
	booking "gearshare/internal/booking/domain"
	"gearshare/internal/observability/metrics"
	settlement "gearshare/internal/settlement/domain"
)

const defaultSendTimeout = 10 * time.Second

var (
	// ErrInvalidEvent is returned for events missing a booking or recipient.
	ErrInvalidEvent = errors.New("notify: invalid event")
	// ErrNoAddress is returned when the recipient has no email address.
	ErrNoAddress = errors.New("notify: recipient has no email address")
)

// ContactResolver loads recipient profiles.
type ContactResolver interface {
	Profile(ctx context.Context, id string) (*booking.Profile, error)
}

// BookingReader loads bookings for template enrichment.
type BookingReader interface {
	Get(ctx context.Context, id string) (*booking.Booking, error)
}

// Event identifies one email: a kind about a booking for a recipient.
type Event struct {
	Kind        events.NotificationKind
	BookingID   string
	RecipientID string
}

func (e Event) key() string {
	return string(e.Kind) + "|" + e.BookingID + "|" + e.RecipientID
}

// Result is the outcome of one dispatch. Err is nil when the message was
// handed to the sender.
type Result struct {
	Event Event
	Sent  bool
	Err   error
}

// Dispatcher resolves recipients, renders templates and sends email. It never
// panics and never returns business errors; failures are reported in Result.
type Dispatcher struct {
	contacts  ContactResolver
	sender    Sender
	bookings  BookingReader
	templates *Templates
	ledger    *settlement.Ledger
	baseURL   string
	timeout   time.Duration
	logger    *zap.Logger
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithBookings enables booking details in templates.
func WithBookings(reader BookingReader) Option {
	return func(d *Dispatcher) {
		d.bookings = reader
	}
}

// WithTemplates overrides the built-in catalogue.
func WithTemplates(templates *Templates) Option {
	return func(d *Dispatcher) {
		if templates != nil {
			d.templates = templates
		}
	}
}

// WithLedger sets the ledger used to render payout amounts.
func WithLedger(ledger *settlement.Ledger) Option {
	return func(d *Dispatcher) {
		if ledger != nil {
			d.ledger = ledger
		}
	}
}

// WithBaseURL sets the public URL used for booking links.
func WithBaseURL(baseURL string) Option {
	return func(d *Dispatcher) {
		d.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithSendTimeout bounds each sender call.
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(contacts ContactResolver, sender Sender, opts ...Option) (*Dispatcher, error) {
	if contacts == nil {
		return nil, errors.New("notify: nil contact resolver")
	}
	if sender == nil {
		return nil, errors.New("notify: nil sender")
	}
	d := &Dispatcher{
		contacts:  contacts,
		sender:    sender,
		templates: DefaultTemplates(),
		ledger:    settlement.DefaultLedger(),
		timeout:   defaultSendTimeout,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch sends one email for event.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) Result {
	result := Result{Event: event}
	if d == nil {
		result.Err = errors.New("notify: nil dispatcher")
		return result
	}
	result.Err = d.dispatch(ctx, event)
	result.Sent = result.Err == nil

	fields := []zap.Field{
		zap.String("kind", string(event.Kind)),
		zap.String("booking_id", event.BookingID),
		zap.String("recipient_id", event.RecipientID),
	}
	if result.Err != nil {
		metrics.IncNotification(string(event.Kind), metrics.ResultError)
		d.logger.Warn("notification failed", append(fields, zap.Error(result.Err))...)
		return result
	}
	metrics.IncNotification(string(event.Kind), metrics.ResultSuccess)
	d.logger.Info("notification sent", fields...)
	return result
}

// DispatchAll sends each distinct (kind, booking, recipient) once.
func (d *Dispatcher) DispatchAll(ctx context.Context, batch []Event) []Result {
	seen := make(map[string]struct{}, len(batch))
	results := make([]Result, 0, len(batch))
	for _, event := range batch {
		key := event.key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		results = append(results, d.Dispatch(ctx, event))
	}
	return results
}

func (d *Dispatcher) dispatch(ctx context.Context, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notify: panic: %v", r)
		}
	}()

	if strings.TrimSpace(event.BookingID) == "" || strings.TrimSpace(event.RecipientID) == "" {
		return ErrInvalidEvent
	}
	if !d.templates.Has(event.Kind) {
		return fmt.Errorf("%w: %s", ErrUnknownKind, event.Kind)
	}
	profile, err := d.contacts.Profile(ctx, event.RecipientID)
	if err != nil {
		return fmt.Errorf("notify: resolve recipient: %w", err)
	}
	if profile == nil || strings.TrimSpace(profile.Email) == "" {
		return ErrNoAddress
	}

	subject, html, err := d.templates.Render(event.Kind, d.templateData(ctx, event, profile))
	if err != nil {
		return fmt.Errorf("notify: render: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.sender.Send(sendCtx, Message{To: profile.Email, Subject: subject, HTML: html}); err != nil {
		return &booking.ExternalServiceError{Service: "email", Operation: "send", Err: err}
	}
	return nil
}

func (d *Dispatcher) templateData(ctx context.Context, event Event, profile *booking.Profile) TemplateData {
	data := TemplateData{
		Kind:          string(event.Kind),
		RecipientName: profile.DisplayName(),
		BookingID:     event.BookingID,
		ItemID:        event.BookingID,
	}
	if d.baseURL != "" {
		data.BookingURL = d.baseURL + "/bookings/" + event.BookingID
	}
	if d.bookings == nil {
		return data
	}
	b, err := d.bookings.Get(ctx, event.BookingID)
	if err != nil || b == nil {
		d.logger.Debug("notification without booking details",
			zap.String("booking_id", event.BookingID), zap.Error(err))
		return data
	}
	data.ItemID = b.ItemID
	data.StartDate = b.StartDate.Format("2006-01-02")
	data.EndDate = b.EndDate.Format("2006-01-02")
	data.Status = booking.Label(b.Status)
	data.Currency = b.Currency
	amount := b.TotalPrice
	switch event.Kind {
	case events.KindBookingRefunded:
		amount = b.RefundAmount
	case events.KindPayoutSent:
		amount, _ = d.ledger.Split(b.TotalPrice)
	}
	data.Amount = settlement.FormatMinor(amount)
	return data
}
