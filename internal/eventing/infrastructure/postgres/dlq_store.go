package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"gearshare/internal/eventing"
)

const (
	dlqUpsertSQL = `INSERT INTO dead_letter_events (
	event_id, event_type, booking_id, payload, error, first_seen_at, last_seen_at, attempts
) VALUES ($1, $2, $3, $4, $5, $6, $6, 1)
ON CONFLICT (event_id) DO UPDATE SET
	event_type = EXCLUDED.event_type,
	payload = EXCLUDED.payload,
	error = EXCLUDED.error,
	last_seen_at = EXCLUDED.last_seen_at,
	attempts = dead_letter_events.attempts + 1`
	dlqListSQL = `SELECT event_id, event_type, booking_id, error, attempts, first_seen_at, last_seen_at
FROM dead_letter_events
ORDER BY last_seen_at DESC
LIMIT $1`

	defaultDLQLimit = 100
	// Provider errors can echo whole SMTP or HTTP responses.
	maxDLQErrorLen = 2048
)

// DLQStore keeps notification envelopes whose delivery failed. A redelivered
// failure bumps attempts on the existing row.
type DLQStore struct {
	db  *sql.DB
	now func() time.Time
}

// DLQEntry is a stored dead letter.
type DLQEntry struct {
	EventID     string
	EventType   string
	BookingID   string
	Error       string
	Attempts    int
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// NewDLQStore constructs a DLQ store.
func NewDLQStore(db *sql.DB) *DLQStore {
	return &DLQStore{db: db, now: time.Now}
}

// RecordFailure upserts the dead letter for env with the delivery error.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if s == nil || s.db == nil {
		return errors.New("dlq store: nil db")
	}
	if env.EventID == "" {
		return errors.New("dlq store: empty event id")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	var bookingID any
	if env.BookingID != "" {
		bookingID = env.BookingID
	}
	_, err = s.db.ExecContext(ctx, dlqUpsertSQL,
		env.EventID, env.EventType, bookingID, payload, failureMessage(cause), s.now().UTC())
	return err
}

func failureMessage(err error) string {
	if err == nil {
		return "unknown failure"
	}
	msg := err.Error()
	if len(msg) <= maxDLQErrorLen {
		return msg
	}
	cut := maxDLQErrorLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + "..."
}

// List returns up to limit dead letters, most recently failed first.
func (s *DLQStore) List(ctx context.Context, limit int) ([]DLQEntry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("dlq store: nil db")
	}
	if limit <= 0 {
		limit = defaultDLQLimit
	}
	rows, err := s.db.QueryContext(ctx, dlqListSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []DLQEntry
	for rows.Next() {
		var (
			e         DLQEntry
			bookingID sql.NullString
		)
		if err := rows.Scan(&e.EventID, &e.EventType, &bookingID, &e.Error, &e.Attempts, &e.FirstSeenAt, &e.LastSeenAt); err != nil {
			return nil, err
		}
		e.BookingID = bookingID.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
