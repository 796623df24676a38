package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"gearshare/internal/auth"
	booking "gearshare/internal/booking/domain"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps booking errors to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, booking.ErrReconciliationRequired):
		return http.StatusInternalServerError, "reconciliation_required"
	case errors.Is(err, booking.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, booking.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, booking.ErrForbidden), errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, booking.ErrStaleEvent), errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, booking.ErrIllegalTransition):
		return http.StatusConflict, "illegal_transition"
	case errors.Is(err, booking.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, booking.ErrAlreadySettled):
		return http.StatusConflict, "already_paid_out"
	case errors.Is(err, booking.ErrAlreadyRefunded):
		return http.StatusConflict, "already_refunded"
	case errors.Is(err, booking.ErrNoPayment):
		return http.StatusConflict, "no_payment"
	case errors.Is(err, booking.ErrPaymentConflict):
		return http.StatusConflict, "payment_conflict"
	case errors.Is(err, booking.ErrNoPayoutAccount):
		return http.StatusConflict, "no_payout_account"
	case errors.Is(err, booking.ErrExternalService):
		return http.StatusBadGateway, "external_service_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError && code == "internal_error" {
		message = "internal error"
	}
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
