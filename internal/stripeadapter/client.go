package stripeadapter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"

	"gearshare/internal/booking/application"
)

// Client implements application.PaymentGateway on top of the Stripe API.
// It holds its own API client; the package-level stripe.Key is never set.
type Client struct {
	api    *client.API
	logger *zap.Logger
}

// Option configures the client.
type Option func(*clientConfig)

type clientConfig struct {
	backends *stripe.Backends
	logger   *zap.Logger
}

// WithBackends overrides the Stripe HTTP backends.
func WithBackends(backends *stripe.Backends) Option {
	return func(c *clientConfig) {
		c.backends = backends
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *clientConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a Stripe client for secretKey.
func NewClient(secretKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, errors.New("stripe client: empty secret key")
	}
	cfg := clientConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{api: client.New(secretKey, cfg.backends), logger: cfg.logger}, nil
}

// CreateTransfer moves amount to the owner's connected account.
func (c *Client) CreateTransfer(ctx context.Context, params application.TransferParams) (string, error) {
	if c == nil || c.api == nil {
		return "", errors.New("stripe client: nil api")
	}
	p := &stripe.TransferParams{
		Amount:        stripe.Int64(params.Amount),
		Currency:      stripe.String(strings.ToLower(params.Currency)),
		Destination:   stripe.String(params.Destination),
		TransferGroup: stripe.String(params.BookingID),
	}
	p.Context = ctx
	if params.IdempotencyKey != "" {
		p.SetIdempotencyKey(params.IdempotencyKey)
	}
	p.AddMetadata("booking_id", params.BookingID)
	for k, v := range params.Metadata {
		p.AddMetadata(k, v)
	}
	transfer, err := c.api.Transfers.New(p)
	if err != nil {
		return "", fmt.Errorf("stripe: create transfer: %w", err)
	}
	c.logger.Info("stripe transfer created",
		zap.String("transfer_id", transfer.ID),
		zap.String("booking_id", params.BookingID),
		zap.Int64("amount", params.Amount),
	)
	return transfer.ID, nil
}

// CreateRefund refunds a payment intent.
func (c *Client) CreateRefund(ctx context.Context, params application.RefundParams) (string, error) {
	if c == nil || c.api == nil {
		return "", errors.New("stripe client: nil api")
	}
	p := &stripe.RefundParams{
		PaymentIntent: stripe.String(params.PaymentReference),
		Amount:        stripe.Int64(params.Amount),
	}
	if params.Reason != application.RefundReasonNone {
		p.Reason = stripe.String(string(params.Reason))
	}
	p.Context = ctx
	if params.IdempotencyKey != "" {
		p.SetIdempotencyKey(params.IdempotencyKey)
	}
	p.AddMetadata("booking_id", params.BookingID)
	refund, err := c.api.Refunds.New(p)
	if err != nil {
		return "", fmt.Errorf("stripe: create refund: %w", err)
	}
	c.logger.Info("stripe refund created",
		zap.String("refund_id", refund.ID),
		zap.String("booking_id", params.BookingID),
		zap.Int64("amount", params.Amount),
	)
	return refund.ID, nil
}

// VerifyCheckoutSession loads a checkout session and reports whether it is paid.
func (c *Client) VerifyCheckoutSession(ctx context.Context, sessionID string) (application.CheckoutSession, error) {
	if c == nil || c.api == nil {
		return application.CheckoutSession{}, errors.New("stripe client: nil api")
	}
	p := &stripe.CheckoutSessionParams{}
	p.Context = ctx
	session, err := c.api.CheckoutSessions.Get(sessionID, p)
	if err != nil {
		return application.CheckoutSession{}, fmt.Errorf("stripe: get checkout session: %w", err)
	}
	return checkoutFromSession(session), nil
}

func checkoutFromSession(session *stripe.CheckoutSession) application.CheckoutSession {
	out := application.CheckoutSession{
		ID:        session.ID,
		Paid:      session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		BookingID: session.Metadata["booking_id"],
	}
	if out.BookingID == "" {
		out.BookingID = session.ClientReferenceID
	}
	if session.PaymentIntent != nil {
		out.PaymentReference = session.PaymentIntent.ID
	}
	return out
}
