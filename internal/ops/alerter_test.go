package ops

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"gearshare/internal/booking/application"
)

func sampleAlert() application.ReconciliationAlert {
	return application.ReconciliationAlert{
		BookingID:         "bk-1",
		Operation:         "refund",
		ExternalReference: "re_123",
		Amount:            1500,
		Currency:          "USD",
		Cause:             "connection reset",
		OccurredAt:        time.Date(2026, time.October, 2, 8, 30, 0, 0, time.UTC),
	}
}

func TestWebhookAlerter_Post(t *testing.T) {
	var received webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	alerter, err := NewWebhookAlerter(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	require.NoError(t, alerter.Post(context.Background(), sampleAlert()))

	assert.Equal(t, "text", received.MsgType)
	assert.Contains(t, received.Text.Content, "Booking: bk-1")
	assert.Contains(t, received.Text.Content, "External reference: re_123")
	assert.Contains(t, received.Text.Content, "Amount: 15.00 USD")
	assert.Contains(t, received.Text.Content, "At: 2026-10-02T08:30:00Z")
}

func TestWebhookAlerter_LogsDeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	core, logs := observer.New(zap.ErrorLevel)
	alerter, err := NewWebhookAlerter(srv.URL, WithWebhookLogger(zap.New(core)))
	require.NoError(t, err)

	assert.Error(t, alerter.Post(context.Background(), sampleAlert()))
	alerter.Alert(context.Background(), sampleAlert())
	assert.Equal(t, 1, logs.FilterMessage("reconciliation alert not delivered").Len())

	_, err = NewWebhookAlerter("")
	assert.Error(t, err)
}

type countingAlerter struct{ calls int }

func (c *countingAlerter) Alert(ctx context.Context, alert application.ReconciliationAlert) {
	c.calls++
}

func TestMultiAlerter_FansOut(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	counter := &countingAlerter{}
	multi := NewMultiAlerter(NewLogAlerter(zap.New(core)), nil, counter)

	multi.Alert(context.Background(), sampleAlert())
	assert.Equal(t, 1, counter.calls)
	entries := logs.FilterMessage("reconciliation required").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "re_123", entries[0].ContextMap()["external_reference"])
}
