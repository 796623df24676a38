package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	bookingapp "gearshare/internal/booking/application"
	booking "gearshare/internal/booking/domain"
	"gearshare/internal/eventing"
	"gearshare/internal/observability/metrics"
	"gearshare/internal/stripeadapter"
)

// WebhookConsumer is the processed-store consumer name for payment webhooks.
const WebhookConsumer = "stripe.webhook"

const signatureHeader = "Stripe-Signature"

// WebhookParser verifies and decodes a webhook delivery.
type WebhookParser interface {
	Parse(payload []byte, signature string) (stripeadapter.WebhookEvent, error)
}

// PaymentEvents applies verified payment events.
type PaymentEvents interface {
	OnCheckoutConfirmed(ctx context.Context, cmd bookingapp.CheckoutConfirmed) (bookingapp.Result, error)
	OnIdentityVerified(ctx context.Context, cmd bookingapp.IdentityVerified) (bool, error)
}

// WebhookHandler receives payment processor webhooks. A 2xx tells the sender
// not to redeliver, so only retryable failures answer 5xx.
type WebhookHandler struct {
	parser    WebhookParser
	processor PaymentEvents
	processed eventing.ProcessedStore
	logger    *zap.Logger
}

// NewWebhookHandler constructs a webhook handler. processed may be nil.
func NewWebhookHandler(parser WebhookParser, processor PaymentEvents, processed eventing.ProcessedStore, logger *zap.Logger) (*WebhookHandler, error) {
	if parser == nil {
		return nil, errors.New("webhook handler: nil parser")
	}
	if processor == nil {
		return nil, errors.New("webhook handler: nil processor")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{parser: parser, processor: processor, processed: processed, logger: logger}, nil
}

// ServeHTTP handles POST /webhooks/stripe.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	event, err := h.parser.Parse(payload, r.Header.Get(signatureHeader))
	if err != nil {
		if errors.Is(err, stripeadapter.ErrInvalidSignature) {
			metrics.IncWebhook("unknown", metrics.ResultError)
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}
		h.logger.Warn("webhook ignored", zap.String("event_id", event.ID), zap.String("type", event.Type), zap.Error(err))
		metrics.IncWebhook(event.Type, metrics.ResultSkipped)
		w.WriteHeader(http.StatusOK)
		return
	}
	if event.Checkout == nil && event.Identity == nil {
		metrics.IncWebhook(event.Type, metrics.ResultSkipped)
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	if h.processed != nil && event.ID != "" {
		done, err := h.processed.HasProcessed(ctx, event.ID, WebhookConsumer)
		if err != nil {
			h.logger.Error("webhook dedupe lookup failed", zap.String("event_id", event.ID), zap.Error(err))
			metrics.IncWebhook(event.Type, metrics.ResultError)
			http.Error(w, "try again", http.StatusInternalServerError)
			return
		}
		if done {
			metrics.IncWebhook(event.Type, metrics.ResultSkipped)
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	if err := h.apply(ctx, event); err != nil {
		if retryable(err) {
			h.logger.Error("webhook processing failed",
				zap.String("event_id", event.ID), zap.String("type", event.Type), zap.Error(err))
			metrics.IncWebhook(event.Type, metrics.ResultError)
			http.Error(w, "processing failed", http.StatusInternalServerError)
			return
		}
		h.logger.Warn("webhook rejected",
			zap.String("event_id", event.ID), zap.String("type", event.Type), zap.Error(err))
		metrics.IncWebhook(event.Type, metrics.ResultSkipped)
	} else {
		metrics.IncWebhook(event.Type, metrics.ResultSuccess)
	}

	h.markProcessed(ctx, event)
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) apply(ctx context.Context, event stripeadapter.WebhookEvent) error {
	if event.Checkout != nil {
		result, err := h.processor.OnCheckoutConfirmed(ctx, *event.Checkout)
		if err != nil {
			return err
		}
		h.logger.Info("checkout applied",
			zap.String("event_id", event.ID),
			zap.String("booking_id", event.Checkout.BookingID),
			zap.Bool("transitioned", result.Transitioned),
			zap.Bool("duplicate", result.Duplicate))
		return nil
	}
	changed, err := h.processor.OnIdentityVerified(ctx, *event.Identity)
	if err != nil {
		return err
	}
	h.logger.Info("identity applied",
		zap.String("event_id", event.ID),
		zap.String("user_id", event.Identity.UserID),
		zap.Bool("changed", changed))
	return nil
}

func (h *WebhookHandler) markProcessed(ctx context.Context, event stripeadapter.WebhookEvent) {
	if h.processed == nil || event.ID == "" {
		return
	}
	if err := h.processed.MarkProcessed(ctx, event.ID, WebhookConsumer); err != nil {
		h.logger.Warn("webhook mark processed failed", zap.String("event_id", event.ID), zap.Error(err))
	}
}

// retryable reports whether redelivering the event could succeed.
func retryable(err error) bool {
	switch {
	case errors.Is(err, booking.ErrReconciliationRequired):
		return false
	case errors.Is(err, booking.ErrValidation),
		errors.Is(err, booking.ErrStaleEvent),
		errors.Is(err, booking.ErrNotFound),
		errors.Is(err, booking.ErrIllegalTransition),
		errors.Is(err, booking.ErrInvalidState),
		errors.Is(err, booking.ErrPaymentConflict):
		return false
	}
	return true
}
