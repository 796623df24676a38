package stripeadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"gearshare/internal/booking/application"
)

// Webhook event types handled by the booking core.
const (
	EventCheckoutSessionCompleted      = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventIdentityVerified              = "identity.verification_session.verified"
)

var (
	// ErrInvalidSignature is returned when the webhook signature does not verify.
	ErrInvalidSignature = errors.New("stripe webhook: invalid signature")
	// ErrUnpaidSession is returned for a completed checkout that is not paid yet.
	ErrUnpaidSession = errors.New("stripe webhook: checkout session not paid")
)

// WebhookEvent is a verified webhook with its typed command. At most one of
// Checkout and Identity is set; both are nil for ignored event types.
type WebhookEvent struct {
	ID       string
	Type     string
	Checkout *application.CheckoutConfirmed
	Identity *application.IdentityVerified
}

// WebhookVerifier checks webhook signatures with the endpoint secret.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier constructs a verifier.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("stripe webhook: empty secret")
	}
	return &WebhookVerifier{secret: secret}, nil
}

// Parse verifies the Stripe-Signature header and decodes the event payload.
func (v *WebhookVerifier) Parse(payload []byte, signature string) (WebhookEvent, error) {
	if v == nil {
		return WebhookEvent{}, errors.New("stripe webhook: nil verifier")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventCheckoutSessionCompleted, EventCheckoutAsyncPaymentSucceeded:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return out, fmt.Errorf("stripe webhook: decode checkout session: %w", err)
		}
		checkout := checkoutFromSession(&session)
		if !checkout.Paid {
			return out, ErrUnpaidSession
		}
		cmd := application.CheckoutConfirmed{BookingID: checkout.BookingID, PaymentReference: checkout.PaymentReference}
		if err := cmd.Validate(); err != nil {
			return out, err
		}
		out.Checkout = &cmd
	case EventIdentityVerified:
		var session stripe.IdentityVerificationSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return out, fmt.Errorf("stripe webhook: decode verification session: %w", err)
		}
		cmd := application.IdentityVerified{UserID: session.Metadata["user_id"]}
		if err := cmd.Validate(); err != nil {
			return out, err
		}
		out.Identity = &cmd
	}
	return out, nil
}
