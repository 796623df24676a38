package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gearshare/internal/audit"
	"gearshare/internal/auth"
	bookingapp "gearshare/internal/booking/application"
	booking "gearshare/internal/booking/domain"
	bookingmemory "gearshare/internal/booking/infrastructure/memory"
	eventmemory "gearshare/internal/eventing/infrastructure/memory"
)

var testNow = time.Date(2026, time.September, 10, 12, 0, 0, 0, time.UTC)

type testClock struct{}

func (testClock) Now() time.Time { return testNow }

type stubGateway struct {
	sessions    map[string]bookingapp.CheckoutSession
	transferErr error
}

func (g *stubGateway) CreateTransfer(ctx context.Context, params bookingapp.TransferParams) (string, error) {
	if g.transferErr != nil {
		return "", g.transferErr
	}
	return "tr_" + params.BookingID, nil
}

func (g *stubGateway) CreateRefund(ctx context.Context, params bookingapp.RefundParams) (string, error) {
	return "re_" + params.BookingID, nil
}

func (g *stubGateway) VerifyCheckoutSession(ctx context.Context, sessionID string) (bookingapp.CheckoutSession, error) {
	session, ok := g.sessions[sessionID]
	if !ok {
		return bookingapp.CheckoutSession{}, errors.New("no such session")
	}
	return session, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *recordingAudit) Log(ctx context.Context, entry audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	repo      *bookingmemory.Repository
	gateway   *stubGateway
	processor *bookingapp.Processor
	audit     *recordingAudit
	mux       *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := bookingmemory.NewRepository(eventmemory.NewOutboxStore())
	require.NoError(t, err)
	profiles := bookingmemory.NewProfiles(
		booking.Profile{ID: "owner-1", Email: "owner@example.com", PayoutAccountID: "acct_owner"},
		booking.Profile{ID: "renter-1", Email: "renter@example.com"},
	)
	gateway := &stubGateway{sessions: map[string]bookingapp.CheckoutSession{}}
	processor, err := bookingapp.NewProcessor(repo, profiles, gateway,
		bookingapp.WithClock(testClock{}),
		bookingapp.WithAuthorizer(auth.AdminAuthorizer{}),
		bookingapp.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	recorder := &recordingAudit{}
	handler, err := NewHandler(processor, repo, WithAuditLogger(recorder), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	mux := http.NewServeMux()
	handler.Register(mux)
	return &fixture{repo: repo, gateway: gateway, processor: processor, audit: recorder, mux: mux}
}

func seed(status booking.Status, paymentRef string) booking.Booking {
	return booking.Booking{
		ID:               "bk-1",
		ItemID:           "item-1",
		OwnerID:          "owner-1",
		RenterID:         "renter-1",
		Status:           status,
		TotalPrice:       1000,
		Currency:         "USD",
		PaymentReference: paymentRef,
		StartDate:        testNow.Add(72 * time.Hour),
		EndDate:          testNow.Add(96 * time.Hour),
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any, role auth.Role, subject string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(auth.WithIdentity(req.Context(), role, subject))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	_, err := NewHandler(nil, nil)
	assert.Error(t, err)
	f := newFixture(t)
	_, err = NewHandler(f.processor, nil)
	assert.Error(t, err)
}

func TestCreateBooking(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/bookings", map[string]any{
		"item_id":     "item-1",
		"owner_id":    "owner-1",
		"total_price": 4500,
		"currency":    "usd",
		"start_date":  "2026-09-20",
		"end_date":    "2026-09-22",
	}, auth.RoleMember, "renter-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var view ResultView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, booking.StatusPending, view.Booking.Status)
	assert.Equal(t, "Pending", view.Booking.Label)
	assert.Equal(t, "renter-1", view.Booking.RenterID)
	assert.Equal(t, "USD", view.Booking.Currency)
	assert.Equal(t, []string{"approved", "cancelled", "rejected"}, view.Booking.AllowedTransitions)
	assert.Equal(t, []string{"booking.create"}, f.audit.actions())
}

func TestCreateBooking_RejectsBadInput(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/bookings", `{"item_id":"item-1","unknown":1}`, auth.RoleMember, "renter-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Error)

	rec = f.do(t, http.MethodPost, "/api/v1/bookings", map[string]any{
		"item_id": "item-1", "owner_id": "owner-1", "total_price": 100, "currency": "USD",
		"start_date": "20/09/2026", "end_date": "2026-09-22",
	}, auth.RoleMember, "renter-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/bookings", map[string]any{
		"item_id": "item-1", "owner_id": "renter-1", "total_price": 100, "currency": "USD",
		"start_date": "2026-09-20", "end_date": "2026-09-22",
	}, auth.RoleMember, "renter-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.audit.actions())
}

func TestGetBooking_VisibleToParticipants(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(seed(booking.StatusPaid, "pi_1"))

	rec := f.do(t, http.MethodGet, "/api/v1/bookings/bk-1", nil, auth.RoleMember, "owner-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var view BookingView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.Paid)
	assert.Equal(t, booking.ToneOf(booking.StatusPaid), view.Tone)
	assert.Equal(t, []string{"completed", "cancelled"}, view.AllowedTransitions)

	rec = f.do(t, http.MethodGet, "/api/v1/bookings/bk-1", nil, auth.RoleMember, "stranger")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/bookings/bk-1", nil, auth.RoleAdmin, "admin-1")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/bookings/missing", nil, auth.RoleAdmin, "admin-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransition(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(seed(booking.StatusPending, ""))

	rec := f.do(t, http.MethodPost, "/api/v1/bookings/bk-1/transitions", map[string]string{"target": "approved"}, auth.RoleMember, "renter-1")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/bookings/bk-1/transitions", map[string]string{"target": "paid"}, auth.RoleMember, "owner-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decodeError(t, rec).Error)

	rec = f.do(t, http.MethodPost, "/api/v1/bookings/bk-1/transitions", map[string]string{"target": "pending"}, auth.RoleMember, "owner-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/bookings/bk-1/transitions", map[string]string{"target": "bogus"}, auth.RoleMember, "owner-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/bookings/bk-1/transitions", map[string]string{"target": "approved"}, auth.RoleMember, "owner-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view ResultView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.Transitioned)
	assert.Equal(t, "pending", view.Previous)
	assert.Equal(t, booking.StatusApproved, view.Booking.Status)

	rec = f.do(t, http.MethodPost, "/api/v1/bookings/bk-1/transitions", map[string]string{"target": "rejected"}, auth.RoleMember, "owner-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "illegal_transition", decodeError(t, rec).Error)
	assert.Equal(t, []string{"booking.transition"}, f.audit.actions())
}

func TestTransition_CancelPaidRequiresRefund(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(seed(booking.StatusPaid, "pi_1"))

	rec := f.do(t, http.MethodPost, "/api/v1/bookings/bk-1/transitions", map[string]string{"target": "cancelled"}, auth.RoleMember, "renter-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decodeError(t, rec).Error)
}

func TestTransition_OwnerCapturesRecordedPayment(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(seed(booking.StatusApproved, "pi_1"))

	rec := f.do(t, http.MethodPost, "/api/v1/bookings/bk-1/transitions", map[string]string{"target": "paid"}, auth.RoleMember, "renter-1")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/bookings/bk-1/transitions", map[string]string{"target": "paid"}, auth.RoleMember, "owner-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view ResultView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, booking.StatusPaid, view.Booking.Status)
	assert.Equal(t, "approved", view.Previous)
}

func TestCheckoutComplete(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(seed(booking.StatusApproved, ""))
	f.gateway.sessions["cs_1"] = bookingapp.CheckoutSession{ID: "cs_1", Paid: true, PaymentReference: "pi_1", BookingID: "bk-1"}

	rec := f.do(t, http.MethodPost, "/api/v1/checkout/complete", map[string]string{"session_id": "cs_1"}, auth.RoleMember, "renter-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view ResultView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, booking.StatusPaid, view.Booking.Status)

	rec = f.do(t, http.MethodPost, "/api/v1/checkout/complete", map[string]string{"session_id": ""}, auth.RoleMember, "renter-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminPayout(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(seed(booking.StatusCompleted, "pi_1"))

	rec := f.do(t, http.MethodPost, "/api/v1/admin/bookings/bk-1/payout", nil, auth.RoleMember, "owner-1")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/admin/bookings/bk-1/payout", nil, auth.RoleAdmin, "admin-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view ResultView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "tr_bk-1", view.Reference)
	assert.Equal(t, int64(850), view.Amount)
	assert.True(t, view.Booking.PaidOut)

	rec = f.do(t, http.MethodPost, "/api/v1/admin/bookings/bk-1/payout", nil, auth.RoleAdmin, "admin-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_paid_out", decodeError(t, rec).Error)
	assert.Equal(t, []string{"booking.payout"}, f.audit.actions())
}

func TestAdminPayout_GatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(seed(booking.StatusCompleted, "pi_1"))
	f.gateway.transferErr = errors.New("card network down")

	rec := f.do(t, http.MethodPost, "/api/v1/admin/bookings/bk-1/payout", nil, auth.RoleAdmin, "admin-1")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "external_service_error", decodeError(t, rec).Error)
}

func TestAdminRefund(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(seed(booking.StatusPaid, "pi_1"))

	rec := f.do(t, http.MethodPost, "/api/v1/admin/bookings/bk-1/refund", map[string]any{"amount": 5000}, auth.RoleAdmin, "admin-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_amount", decodeError(t, rec).Error)

	rec = f.do(t, http.MethodPost, "/api/v1/admin/bookings/bk-1/refund", map[string]any{"reason": "because"}, auth.RoleAdmin, "admin-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/admin/bookings/bk-1/refund", nil, auth.RoleAdmin, "admin-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view ResultView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, int64(1000), view.Amount)
	assert.True(t, view.Booking.Refunded)

	rec = f.do(t, http.MethodPost, "/api/v1/admin/bookings/bk-1/refund", nil, auth.RoleAdmin, "admin-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_refunded", decodeError(t, rec).Error)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&booking.ReconciliationError{Operation: "payout", BookingID: "bk-1", Err: &booking.PersistenceError{Operation: "update", Err: errors.New("db down")}}, http.StatusInternalServerError, "reconciliation_required"},
		{&booking.PersistenceError{Operation: "update", Err: errors.New("db down")}, http.StatusInternalServerError, "internal_error"},
		{booking.ErrNoPayoutAccount, http.StatusConflict, "no_payout_account"},
		{booking.ErrStaleEvent, http.StatusNotFound, "not_found"},
		{auth.ErrForbidden, http.StatusForbidden, "forbidden"},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.err)
		assert.Equalf(t, tc.status, status, "%v", tc.err)
		assert.Equalf(t, tc.code, code, "%v", tc.err)
	}
}
