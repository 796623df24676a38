package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Booking actions recorded by the HTTP surface.
const (
	ActionBookingCreate     = "booking.create"
	ActionBookingTransition = "booking.transition"
	ActionBookingPayout     = "booking.payout"
	ActionBookingRefund     = "booking.refund"

	ResourceBooking = "booking"
)

// ErrIncompleteEntry is returned for an entry without an action or resource.
var ErrIncompleteEntry = errors.New("audit: action and resource are required")

// Entry is one audited request. Metadata holds the request parameters that
// moved money or state, and PayloadDigest fingerprints it.
type Entry struct {
	ID            string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// normalize fills generated fields and rejects incomplete entries.
func (e Entry) normalize(now time.Time) (Entry, error) {
	if e.Action == "" || e.ResourceType == "" || e.ResourceID == "" {
		return Entry{}, ErrIncompleteEntry
	}
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.CreatedAt = e.CreatedAt.UTC()
	if e.PayloadDigest == "" {
		e.PayloadDigest = DigestJSON(e.Metadata)
	}
	return e, nil
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON is the hex SHA-256 of a metadata payload, empty for none.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
