package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"gearshare/internal/audit"
	"gearshare/internal/auth"
	bookingapp "gearshare/internal/booking/application"
	booking "gearshare/internal/booking/domain"
)

const dateLayout = "2006-01-02"

// Processor is the booking processor as used by the HTTP layer.
type Processor interface {
	OnCheckoutCompleted(ctx context.Context, cmd bookingapp.CheckoutCompleted) (bookingapp.Result, error)
	OnAdminPayoutRequest(ctx context.Context, cmd bookingapp.PayoutRequest) (bookingapp.Result, error)
	OnAdminRefundRequest(ctx context.Context, cmd bookingapp.RefundRequest) (bookingapp.Result, error)
	RequestBooking(ctx context.Context, cmd bookingapp.CreateBooking) (bookingapp.Result, error)
	Transition(ctx context.Context, cmd bookingapp.TransitionRequest) (bookingapp.Result, error)
}

// BookingReader loads a booking by id.
type BookingReader interface {
	Get(ctx context.Context, id string) (*booking.Booking, error)
}

// Handler provides booking HTTP endpoints.
type Handler struct {
	processor   Processor
	bookings    BookingReader
	auditLogger audit.Logger
	logger      *zap.Logger
}

// Option configures the handler.
type Option func(*Handler)

// WithAuditLogger records admin and member actions.
func WithAuditLogger(logger audit.Logger) Option {
	return func(h *Handler) {
		h.auditLogger = logger
	}
}

// WithLogger sets the handler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(processor Processor, bookings BookingReader, opts ...Option) (*Handler, error) {
	if processor == nil {
		return nil, errors.New("booking handler: nil processor")
	}
	if bookings == nil {
		return nil, errors.New("booking handler: nil bookings")
	}
	h := &Handler{processor: processor, bookings: bookings, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the booking routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/bookings", h.handleCreate)
	mux.HandleFunc("GET /api/v1/bookings/{id}", h.handleGet)
	mux.HandleFunc("POST /api/v1/bookings/{id}/transitions", h.handleTransition)
	mux.HandleFunc("POST /api/v1/checkout/complete", h.handleCheckoutComplete)
	mux.HandleFunc("POST /api/v1/admin/bookings/{id}/payout", h.handlePayout)
	mux.HandleFunc("POST /api/v1/admin/bookings/{id}/refund", h.handleRefund)
}

type createRequest struct {
	ItemID     string `json:"item_id"`
	OwnerID    string `json:"owner_id"`
	TotalPrice int64  `json:"total_price"`
	Currency   string `json:"currency"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
}

func (req createRequest) command(renterID string) (bookingapp.CreateBooking, error) {
	start, err := time.Parse(dateLayout, strings.TrimSpace(req.StartDate))
	if err != nil {
		return bookingapp.CreateBooking{}, &booking.ValidationError{Field: "start_date", Message: "must be YYYY-MM-DD"}
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(req.EndDate))
	if err != nil {
		return bookingapp.CreateBooking{}, &booking.ValidationError{Field: "end_date", Message: "must be YYYY-MM-DD"}
	}
	return bookingapp.CreateBooking{
		ItemID:     req.ItemID,
		OwnerID:    req.OwnerID,
		RenterID:   renterID,
		TotalPrice: req.TotalPrice,
		Currency:   req.Currency,
		StartDate:  start,
		EndDate:    end,
	}, nil
}

type transitionRequest struct {
	Target string `json:"target"`
}

type refundRequest struct {
	Amount *int64 `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type checkoutRequest struct {
	SessionID string `json:"session_id"`
}

// BookingView is the JSON representation of a booking.
type BookingView struct {
	ID                 string         `json:"id"`
	ItemID             string         `json:"item_id"`
	OwnerID            string         `json:"owner_id"`
	RenterID           string         `json:"renter_id"`
	Status             booking.Status `json:"status"`
	Label              string         `json:"label"`
	Tone               booking.Tone   `json:"tone"`
	AllowedTransitions []string       `json:"allowed_transitions"`
	TotalPrice         int64          `json:"total_price"`
	Currency           string         `json:"currency"`
	StartDate          string         `json:"start_date"`
	EndDate            string         `json:"end_date"`
	Paid               bool           `json:"paid"`
	PaidOut            bool           `json:"paid_out"`
	Refunded           bool           `json:"refunded"`
	RefundAmount       int64          `json:"refund_amount,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// ResultView is the JSON response of a state-changing request.
type ResultView struct {
	Booking      BookingView `json:"booking"`
	Previous     string      `json:"previous_status,omitempty"`
	Transitioned bool        `json:"transitioned"`
	Duplicate    bool        `json:"duplicate"`
	Reference    string      `json:"reference,omitempty"`
	Amount       int64       `json:"amount,omitempty"`
	Currency     string      `json:"currency,omitempty"`
}

func newBookingView(b *booking.Booking) BookingView {
	allowed := booking.AllowedTransitions(b.Status)
	names := make([]string, 0, len(allowed))
	for _, s := range allowed {
		names = append(names, string(s))
	}
	return BookingView{
		ID:                 b.ID,
		ItemID:             b.ItemID,
		OwnerID:            b.OwnerID,
		RenterID:           b.RenterID,
		Status:             b.Status,
		Label:              booking.Label(b.Status),
		Tone:               booking.ToneOf(b.Status),
		AllowedTransitions: names,
		TotalPrice:         b.TotalPrice,
		Currency:           b.Currency,
		StartDate:          b.StartDate.UTC().Format(dateLayout),
		EndDate:            b.EndDate.UTC().Format(dateLayout),
		Paid:               b.HasPayment(),
		PaidOut:            b.PaidOut,
		Refunded:           b.Refunded,
		RefundAmount:       b.RefundAmount,
		CreatedAt:          b.CreatedAt.UTC(),
		UpdatedAt:          b.UpdatedAt.UTC(),
	}
}

func newResultView(result bookingapp.Result) ResultView {
	view := ResultView{
		Transitioned: result.Transitioned,
		Duplicate:    result.Duplicate,
		Reference:    result.Reference,
		Amount:       result.Amount.Amount,
		Currency:     result.Amount.Currency,
	}
	if result.Booking != nil {
		view.Booking = newBookingView(result.Booking)
	}
	if result.Transitioned {
		view.Previous = string(result.Previous)
	}
	return view
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	cmd, err := req.command(auth.SubjectFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.processor.RequestBooking(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newResultView(result))
	h.logAudit(r, audit.ActionBookingCreate, result.Booking.ID, map[string]any{
		"item_id":     cmd.ItemID,
		"owner_id":    cmd.OwnerID,
		"total_price": cmd.TotalPrice,
		"currency":    result.Booking.Currency,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	b, err := h.bookings.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	subject := auth.SubjectFromContext(r.Context())
	if !auth.IsAdmin(r.Context()) && subject != b.OwnerID && subject != b.RenterID {
		// Hide bookings the caller is not part of.
		writeError(w, booking.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newBookingView(b))
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	target, err := booking.ParseStatus(req.Target)
	if err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	result, err := h.processor.Transition(r.Context(), bookingapp.TransitionRequest{
		BookingID: id,
		Target:    target,
		ActorID:   auth.SubjectFromContext(r.Context()),
		Admin:     auth.IsAdmin(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultView(result))
	if result.Transitioned {
		h.logAudit(r, audit.ActionBookingTransition, id, map[string]any{
			"from": string(result.Previous),
			"to":   string(target),
		})
	}
}

func (h *Handler) handleCheckoutComplete(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	result, err := h.processor.OnCheckoutCompleted(r.Context(), bookingapp.CheckoutCompleted{SessionID: req.SessionID})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultView(result))
}

func (h *Handler) handlePayout(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := h.processor.OnAdminPayoutRequest(r.Context(), bookingapp.PayoutRequest{
		BookingID: id,
		ActorID:   auth.SubjectFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Warn("payout request failed", zap.String("booking_id", id), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultView(result))
	h.logAudit(r, audit.ActionBookingPayout, id, map[string]any{
		"transfer_id": result.Reference,
		"amount":      result.Amount.Amount,
		"currency":    result.Amount.Currency,
	})
}

func (h *Handler) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	result, err := h.processor.OnAdminRefundRequest(r.Context(), bookingapp.RefundRequest{
		BookingID: id,
		Amount:    req.Amount,
		Reason:    bookingapp.RefundReason(req.Reason),
		ActorID:   auth.SubjectFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Warn("refund request failed", zap.String("booking_id", id), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultView(result))
	h.logAudit(r, audit.ActionBookingRefund, id, map[string]any{
		"refund_id": result.Reference,
		"amount":    result.Amount.Amount,
		"currency":  result.Amount.Currency,
		"reason":    req.Reason,
	})
}

func (h *Handler) logAudit(r *http.Request, action, bookingID string, metadata map[string]any) {
	if h.auditLogger == nil {
		return
	}
	entry, err := audit.FromRequest(r, action, audit.ResourceBooking, bookingID, metadata)
	if err == nil {
		err = h.auditLogger.Log(r.Context(), entry)
	}
	if err != nil {
		h.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
