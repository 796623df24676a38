package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	bookingapp "gearshare/internal/booking/application"
	booking "gearshare/internal/booking/domain"
	eventmemory "gearshare/internal/eventing/infrastructure/memory"
	"gearshare/internal/stripeadapter"
)

type stubParser struct {
	event stripeadapter.WebhookEvent
	err   error
}

func (p stubParser) Parse(payload []byte, signature string) (stripeadapter.WebhookEvent, error) {
	return p.event, p.err
}

type stubEvents struct {
	checkoutErr error
	checkouts   int
	identities  int
}

func (s *stubEvents) OnCheckoutConfirmed(ctx context.Context, cmd bookingapp.CheckoutConfirmed) (bookingapp.Result, error) {
	s.checkouts++
	return bookingapp.Result{Transitioned: true}, s.checkoutErr
}

func (s *stubEvents) OnIdentityVerified(ctx context.Context, cmd bookingapp.IdentityVerified) (bool, error) {
	s.identities++
	return true, nil
}

func postWebhook(t *testing.T, h http.Handler) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func checkoutEvent(id string) stripeadapter.WebhookEvent {
	return stripeadapter.WebhookEvent{
		ID:       id,
		Type:     stripeadapter.EventCheckoutSessionCompleted,
		Checkout: &bookingapp.CheckoutConfirmed{BookingID: "bk-1", PaymentReference: "pi_1"},
	}
}

func TestNewWebhookHandler_RequiresDependencies(t *testing.T) {
	_, err := NewWebhookHandler(nil, &stubEvents{}, nil, nil)
	assert.Error(t, err)
	_, err = NewWebhookHandler(stubParser{}, nil, nil, nil)
	assert.Error(t, err)
}

func TestWebhook_InvalidSignature(t *testing.T) {
	events := &stubEvents{}
	h, err := NewWebhookHandler(stubParser{err: fmt.Errorf("%w: bad", stripeadapter.ErrInvalidSignature)}, events, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, postWebhook(t, h))
	assert.Zero(t, events.checkouts)
}

func TestWebhook_IgnoresUnhandledAndUnpaid(t *testing.T) {
	events := &stubEvents{}
	h, err := NewWebhookHandler(stubParser{event: stripeadapter.WebhookEvent{ID: "evt_1", Type: "customer.created"}}, events, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, postWebhook(t, h))

	h, err = NewWebhookHandler(stubParser{err: stripeadapter.ErrUnpaidSession}, events, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, postWebhook(t, h))
	assert.Zero(t, events.checkouts)
}

func TestWebhook_DeduplicatesDeliveries(t *testing.T) {
	events := &stubEvents{}
	processed := eventmemory.NewProcessedStore()
	h, err := NewWebhookHandler(stubParser{event: checkoutEvent("evt_1")}, events, processed, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, postWebhook(t, h))
	assert.Equal(t, http.StatusOK, postWebhook(t, h))
	assert.Equal(t, 1, events.checkouts)

	done, err := processed.HasProcessed(context.Background(), "evt_1", WebhookConsumer)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestWebhook_RetryableFailureIsNotMarked(t *testing.T) {
	events := &stubEvents{checkoutErr: &booking.PersistenceError{Operation: "update", Err: errors.New("db down")}}
	processed := eventmemory.NewProcessedStore()
	h, err := NewWebhookHandler(stubParser{event: checkoutEvent("evt_2")}, events, processed, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, postWebhook(t, h))
	done, err := processed.HasProcessed(context.Background(), "evt_2", WebhookConsumer)
	require.NoError(t, err)
	assert.False(t, done)

	events.checkoutErr = nil
	assert.Equal(t, http.StatusOK, postWebhook(t, h))
	assert.Equal(t, 2, events.checkouts)
}

func TestWebhook_PermanentFailureIsAcknowledged(t *testing.T) {
	events := &stubEvents{checkoutErr: fmt.Errorf("%w: %w", booking.ErrStaleEvent, booking.ErrNotFound)}
	processed := eventmemory.NewProcessedStore()
	h, err := NewWebhookHandler(stubParser{event: checkoutEvent("evt_3")}, events, processed, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, postWebhook(t, h))
	assert.Equal(t, http.StatusOK, postWebhook(t, h))
	assert.Equal(t, 1, events.checkouts)
}

func TestWebhook_IdentityVerified(t *testing.T) {
	events := &stubEvents{}
	h, err := NewWebhookHandler(stubParser{event: stripeadapter.WebhookEvent{
		ID:       "evt_4",
		Type:     stripeadapter.EventIdentityVerified,
		Identity: &bookingapp.IdentityVerified{UserID: "renter-1"},
	}}, events, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, postWebhook(t, h))
	assert.Equal(t, 1, events.identities)
}

func TestRetryable(t *testing.T) {
	assert.False(t, retryable(&booking.ReconciliationError{BookingID: "bk-1", Err: errors.New("x")}))
	assert.False(t, retryable(&booking.IllegalTransitionError{From: booking.StatusCompleted, To: booking.StatusPaid}))
	assert.False(t, retryable(booking.ErrPaymentConflict))
	assert.True(t, retryable(&booking.ExternalServiceError{Service: "payment", Err: errors.New("timeout")}))
	assert.True(t, retryable(errors.New("unknown")))
}
