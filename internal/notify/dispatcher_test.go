package notify_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gearshare/internal/booking/application/events"
	booking "gearshare/internal/booking/domain"
	bookingmem "gearshare/internal/booking/infrastructure/memory"
	"gearshare/internal/eventing"
	"gearshare/internal/eventing/eventbus"
	eventingmem "gearshare/internal/eventing/infrastructure/memory"
	"gearshare/internal/notify"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []notify.Message
	err      error
	panics   bool
}

func (s *recordingSender) Send(ctx context.Context, msg notify.Message) error {
	if s.panics {
		panic("provider exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSender) sent() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Message(nil), s.messages...)
}

type slowSender struct{}

func (slowSender) Send(ctx context.Context, msg notify.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func fixtures(t *testing.T) (*bookingmem.Profiles, *bookingmem.Repository) {
	t.Helper()
	profiles := bookingmem.NewProfiles(
		booking.Profile{ID: "renter-1", Email: "rita@example.com", FullName: "Rita Renter"},
		booking.Profile{ID: "owner-1", Email: "olive@example.com"},
		booking.Profile{ID: "ghost"},
	)
	repo, err := bookingmem.NewRepository(eventingmem.NewOutboxStore())
	require.NoError(t, err)
	start := time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)
	repo.Seed(booking.Booking{
		ID: "bk-1", ItemID: "tent-42", OwnerID: "owner-1", RenterID: "renter-1",
		Status: booking.StatusPaid, TotalPrice: 1000, Currency: "USD",
		StartDate: start, EndDate: start.Add(72 * time.Hour), PaymentReference: "pi_123",
	})
	return profiles, repo
}

func TestDispatch_RendersBookingDetails(t *testing.T) {
	profiles, repo := fixtures(t)
	sender := &recordingSender{}
	d, err := notify.NewDispatcher(profiles, sender,
		notify.WithBookings(repo),
		notify.WithBaseURL("https://gearshare.test/"),
		notify.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)

	result := d.Dispatch(context.Background(), notify.Event{Kind: events.KindBookingApproved, BookingID: "bk-1", RecipientID: "renter-1"})
	require.NoError(t, result.Err)
	assert.True(t, result.Sent)

	msgs := sender.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "rita@example.com", msgs[0].To)
	assert.Equal(t, "Your booking is approved", msgs[0].Subject)
	assert.Contains(t, msgs[0].HTML, "Hi Rita Renter")
	assert.Contains(t, msgs[0].HTML, "tent-42 (2026-10-01 to 2026-10-04)")
	assert.Contains(t, msgs[0].HTML, `href="https://gearshare.test/bookings/bk-1"`)

	result = d.Dispatch(context.Background(), notify.Event{Kind: events.KindPayoutSent, BookingID: "bk-1", RecipientID: "owner-1"})
	require.NoError(t, result.Err)
	msgs = sender.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Payout sent: 8.50 USD", msgs[1].Subject)
	assert.Contains(t, msgs[1].HTML, "Hi olive")
}

func TestDispatch_FailsSoftly(t *testing.T) {
	profiles, _ := fixtures(t)

	d, err := notify.NewDispatcher(profiles, &recordingSender{})
	require.NoError(t, err)
	result := d.Dispatch(context.Background(), notify.Event{Kind: events.KindBookingApproved, BookingID: "bk-1", RecipientID: "ghost"})
	assert.ErrorIs(t, result.Err, notify.ErrNoAddress)
	assert.False(t, result.Sent)

	result = d.Dispatch(context.Background(), notify.Event{Kind: events.KindBookingApproved, BookingID: "bk-1", RecipientID: "nobody"})
	assert.ErrorIs(t, result.Err, booking.ErrNotFound)

	result = d.Dispatch(context.Background(), notify.Event{Kind: "booking_exploded", BookingID: "bk-1", RecipientID: "renter-1"})
	assert.ErrorIs(t, result.Err, notify.ErrUnknownKind)

	result = d.Dispatch(context.Background(), notify.Event{Kind: events.KindBookingApproved, RecipientID: "renter-1"})
	assert.ErrorIs(t, result.Err, notify.ErrInvalidEvent)

	failing, err := notify.NewDispatcher(profiles, &recordingSender{err: errors.New("429 too many requests")})
	require.NoError(t, err)
	result = failing.Dispatch(context.Background(), notify.Event{Kind: events.KindBookingApproved, BookingID: "bk-1", RecipientID: "renter-1"})
	assert.ErrorIs(t, result.Err, booking.ErrExternalService)

	panicking, err := notify.NewDispatcher(profiles, &recordingSender{panics: true})
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		result = panicking.Dispatch(context.Background(), notify.Event{Kind: events.KindBookingApproved, BookingID: "bk-1", RecipientID: "renter-1"})
	})
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "provider exploded")
}

func TestDispatch_SenderTimeout(t *testing.T) {
	profiles, _ := fixtures(t)
	d, err := notify.NewDispatcher(profiles, slowSender{}, notify.WithSendTimeout(20*time.Millisecond))
	require.NoError(t, err)

	result := d.Dispatch(context.Background(), notify.Event{Kind: events.KindBookingCancelled, BookingID: "bk-1", RecipientID: "renter-1"})
	assert.ErrorIs(t, result.Err, context.DeadlineExceeded)
	assert.ErrorIs(t, result.Err, booking.ErrExternalService)
}

func TestDispatchAll_DedupesWithinCall(t *testing.T) {
	profiles, _ := fixtures(t)
	sender := &recordingSender{}
	d, err := notify.NewDispatcher(profiles, sender)
	require.NoError(t, err)

	approved := notify.Event{Kind: events.KindBookingApproved, BookingID: "bk-1", RecipientID: "renter-1"}
	confirmed := notify.Event{Kind: events.KindBookingConfirmed, BookingID: "bk-1", RecipientID: "owner-1"}
	results := d.DispatchAll(context.Background(), []notify.Event{approved, confirmed, approved, confirmed})
	require.Len(t, results, 2)
	assert.Len(t, sender.sent(), 2)
}

func TestNewDispatcher_RequiresDependencies(t *testing.T) {
	_, err := notify.NewDispatcher(nil, &recordingSender{})
	assert.Error(t, err)
	_, err = notify.NewDispatcher(bookingmem.NewProfiles(), nil)
	assert.Error(t, err)
}

func TestHandleNotificationRequested_DeliversOncePerEvent(t *testing.T) {
	profiles, _ := fixtures(t)
	sender := &recordingSender{}
	d, err := notify.NewDispatcher(profiles, sender)
	require.NoError(t, err)

	bus := eventbus.NewInMemoryBus()
	notify.Subscribe(bus, d, eventingmem.NewProcessedStore())

	note := events.NewNotification(events.KindBookingConfirmed, "bk-1", "owner-1", "checkout:pi_123", time.Now())
	env, err := note.Envelope(eventing.Meta{})
	require.NoError(t, err)
	ctx := eventing.WithEnvelope(context.Background(), env)

	require.NoError(t, bus.Publish(ctx, note))
	require.NoError(t, bus.Publish(ctx, note))
	assert.Len(t, sender.sent(), 1)

	ghost := events.NewNotification(events.KindBookingConfirmed, "bk-1", "ghost", "checkout:pi_123", time.Now())
	env, err = ghost.Envelope(eventing.Meta{})
	require.NoError(t, err)
	err = bus.Publish(eventing.WithEnvelope(context.Background(), env), ghost)
	assert.ErrorIs(t, err, notify.ErrNoAddress)
}

func TestHandleNotificationRequested_DrainedFromOutbox(t *testing.T) {
	profiles, repo := fixtures(t)
	sender := &recordingSender{}
	d, err := notify.NewDispatcher(profiles, sender, notify.WithBookings(repo))
	require.NoError(t, err)

	outbox := eventingmem.NewOutboxStore()
	registry := eventing.NewRegistry()
	eventing.Register[events.NotificationRequested](registry)
	bus := eventbus.NewInMemoryBus()
	notify.Subscribe(bus, d, eventingmem.NewProcessedStore())

	for _, note := range []events.NotificationRequested{
		events.NewNotification(events.KindBookingApproved, "bk-1", "renter-1", "checkout:pi_123", time.Now()),
		events.NewNotification(events.KindBookingConfirmed, "bk-1", "owner-1", "checkout:pi_123", time.Now()),
	} {
		env, err := note.Envelope(eventing.Meta{})
		require.NoError(t, err)
		_, err = outbox.Insert(context.Background(), env)
		require.NoError(t, err)
	}

	res, err := eventing.NewDispatcher(bus, outbox, registry).Dispatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)

	recipients := make([]string, 0, 2)
	for _, msg := range sender.sent() {
		recipients = append(recipients, msg.To)
	}
	assert.ElementsMatch(t, []string{"rita@example.com", "olive@example.com"}, recipients)
	assert.Empty(t, outbox.Envelopes(eventingmem.StatusPending))
}

func TestTemplates_YAMLOverlay(t *testing.T) {
	templates, err := notify.ParseTemplates([]byte(`
templates:
  booking_cancelled:
    subject: "Cancelled: {{.BookingID}}"
`))
	require.NoError(t, err)
	subject, html, err := templates.Render(events.KindBookingCancelled, notify.TemplateData{BookingID: "bk-7", RecipientName: "<b>Eve</b>"})
	require.NoError(t, err)
	assert.Equal(t, "Cancelled: bk-7", subject)
	assert.True(t, strings.Contains(html, "&lt;b&gt;Eve&lt;/b&gt;"), html)

	_, err = notify.ParseTemplates([]byte("templates:\n  booking_exploded:\n    subject: x\n"))
	assert.ErrorIs(t, err, notify.ErrUnknownKind)
	_, err = notify.ParseTemplates([]byte("templates:\n  booking_approved:\n    html: \"{{.Missing\"\n"))
	assert.Error(t, err)

	for _, kind := range events.Kinds() {
		assert.Truef(t, notify.DefaultTemplates().Has(kind), "template for %s", kind)
	}
}
