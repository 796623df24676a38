package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const (
	processedExistsSQL = `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1 AND consumer_name = $2)`
	processedInsertSQL = `INSERT INTO processed_events (event_id, consumer_name, processed_at)
VALUES ($1, $2, $3)
ON CONFLICT (event_id, consumer_name) DO NOTHING`
	processedPurgeSQL = `DELETE FROM processed_events WHERE processed_at < $1`
)

var errProcessedArgs = errors.New("processed store: event id and consumer are required")

// ProcessedStore records which consumer has handled which event, keyed by
// (event_id, consumer_name). Webhook deliveries and notification consumers
// share the table under different consumer names.
type ProcessedStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewProcessedStore constructs a processed store.
func NewProcessedStore(db *sql.DB) *ProcessedStore {
	return &ProcessedStore{db: db, now: time.Now}
}

func (s *ProcessedStore) check(eventID, consumerName string) error {
	if s == nil || s.db == nil {
		return errors.New("processed store: nil db")
	}
	if eventID == "" || consumerName == "" {
		return errProcessedArgs
	}
	return nil
}

// HasProcessed reports whether consumerName already handled eventID.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	if err := s.check(eventID, consumerName); err != nil {
		return false, err
	}
	var seen bool
	err := s.db.QueryRowContext(ctx, processedExistsSQL, eventID, consumerName).Scan(&seen)
	return seen, err
}

// MarkProcessed records eventID for consumerName. Marking twice is a no-op.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	if err := s.check(eventID, consumerName); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, processedInsertSQL, eventID, consumerName, s.now().UTC())
	return err
}

// PurgeBefore deletes markers older than cutoff and returns how many went.
// A redelivery older than the retention window is handled again.
func (s *ProcessedStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("processed store: nil db")
	}
	res, err := s.db.ExecContext(ctx, processedPurgeSQL, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
