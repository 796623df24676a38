package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"gearshare/internal/booking/application"
	settlement "gearshare/internal/settlement/domain"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookAlerter posts reconciliation alerts to a chat webhook.
type WebhookAlerter struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// WebhookOption configures the webhook alerter.
type WebhookOption func(*WebhookAlerter)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(a *WebhookAlerter) {
		if client != nil {
			a.client = client
		}
	}
}

// WithWebhookLogger sets the logger used for delivery failures.
func WithWebhookLogger(logger *zap.Logger) WebhookOption {
	return func(a *WebhookAlerter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewWebhookAlerter constructs an alerter posting to url.
func NewWebhookAlerter(url string, opts ...WebhookOption) (*WebhookAlerter, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("webhook alerter: empty url")
	}
	a := &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Alert implements application.Alerter. Delivery failures are logged.
func (a *WebhookAlerter) Alert(ctx context.Context, alert application.ReconciliationAlert) {
	if err := a.Post(ctx, alert); err != nil && a != nil {
		a.logger.Error("reconciliation alert not delivered",
			zap.String("booking_id", alert.BookingID),
			zap.String("operation", alert.Operation),
			zap.Error(err),
		)
	}
}

// Post delivers alert and returns the delivery error.
func (a *WebhookAlerter) Post(ctx context.Context, alert application.ReconciliationAlert) error {
	if a == nil || a.url == "" {
		return errors.New("webhook alerter: empty url")
	}
	body, err := json.Marshal(webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: FormatAlert(alert)},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook alerter: status %d", resp.StatusCode)
	}
	return nil
}

// FormatAlert renders alert as plain text for chat channels.
func FormatAlert(alert application.ReconciliationAlert) string {
	var b strings.Builder
	b.WriteString("[Reconciliation Required]\n")
	fmt.Fprintf(&b, "Booking: %s\n", alert.BookingID)
	fmt.Fprintf(&b, "Operation: %s\n", alert.Operation)
	if alert.ExternalReference != "" {
		fmt.Fprintf(&b, "External reference: %s\n", alert.ExternalReference)
	}
	if alert.Currency != "" {
		fmt.Fprintf(&b, "Amount: %s %s\n", settlement.FormatMinor(alert.Amount), alert.Currency)
	}
	if !alert.OccurredAt.IsZero() {
		fmt.Fprintf(&b, "At: %s\n", alert.OccurredAt.UTC().Format(time.RFC3339))
	}
	if alert.Cause != "" {
		fmt.Fprintf(&b, "Cause: %s\n", alert.Cause)
	}
	b.WriteString("Action: record the external reference on the booking manually; do not retry.")
	return b.String()
}

// LogAlerter writes alerts to the error log.
type LogAlerter struct {
	logger *zap.Logger
}

// NewLogAlerter constructs a LogAlerter.
func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogAlerter{logger: logger}
}

// Alert implements application.Alerter.
func (a *LogAlerter) Alert(ctx context.Context, alert application.ReconciliationAlert) {
	a.logger.Error("reconciliation required",
		zap.String("booking_id", alert.BookingID),
		zap.String("operation", alert.Operation),
		zap.String("external_reference", alert.ExternalReference),
		zap.Int64("amount", alert.Amount),
		zap.String("currency", alert.Currency),
		zap.String("cause", alert.Cause),
		zap.Time("occurred_at", alert.OccurredAt),
	)
}

// MultiAlerter fans alerts out to several alerters.
type MultiAlerter struct {
	alerters []application.Alerter
}

// NewMultiAlerter constructs a MultiAlerter. Nil alerters are skipped.
func NewMultiAlerter(alerters ...application.Alerter) *MultiAlerter {
	return &MultiAlerter{alerters: alerters}
}

// Alert forwards alert to all alerters.
func (m *MultiAlerter) Alert(ctx context.Context, alert application.ReconciliationAlert) {
	if m == nil {
		return
	}
	for _, alerter := range m.alerters {
		if alerter != nil {
			alerter.Alert(ctx, alert)
		}
	}
}
