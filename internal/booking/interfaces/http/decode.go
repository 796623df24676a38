package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	booking "gearshare/internal/booking/domain"
)

const maxBodyBytes = 1 << 20

// decodeJSON decodes exactly one JSON object into dst, rejecting unknown
// fields and oversized bodies. An empty body is accepted when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &booking.ValidationError{Field: "body", Message: "too large"}
		}
		return &booking.ValidationError{Field: "body", Message: fmt.Sprintf("invalid json: %v", err)}
	}
	if dec.More() {
		return &booking.ValidationError{Field: "body", Message: "unexpected data after json object"}
	}
	return nil
}
