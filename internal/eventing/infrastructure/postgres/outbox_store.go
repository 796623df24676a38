package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gearshare/internal/eventing"
)

const (
	outboxInsertSQL = `INSERT INTO event_outbox (id, event_id, event_type, booking_id, payload, status, attempts)
VALUES ($1, $2, $3, $4, $5, 'pending', 0)
ON CONFLICT (event_id) DO NOTHING`
	outboxPendingSQL = `SELECT id, payload FROM event_outbox
WHERE status = 'pending'
ORDER BY created_at ASC, id ASC
LIMIT $1`
	outboxSentSQL   = `UPDATE event_outbox SET status = 'sent', sent_at = $1, attempts = attempts + 1 WHERE id = $2`
	outboxFailedSQL = `UPDATE event_outbox SET status = 'failed', attempts = attempts + 1 WHERE id = $1`

	defaultPendingLimit = 50
)

// ErrOutboxRecordNotFound is returned when a status update matches no row.
var ErrOutboxRecordNotFound = errors.New("outbox store: record not found")

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// OutboxStore keeps notification envelopes in event_outbox until the
// dispatcher hands them to the bus. Booking updates insert through InsertTx
// so an envelope exists only if its booking change committed.
type OutboxStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db, now: time.Now}
}

func (s *OutboxStore) ready() error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	return nil
}

// Insert writes an envelope outside any transaction.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	return insertEnvelope(ctx, s.db, env)
}

// InsertTx writes an envelope as part of tx. An event id already in the
// outbox is ignored.
func (s *OutboxStore) InsertTx(ctx context.Context, tx *sql.Tx, env eventing.Envelope) (string, error) {
	if s == nil {
		return "", errors.New("outbox store: nil store")
	}
	if tx == nil {
		return "", errors.New("outbox store: nil tx")
	}
	return insertEnvelope(ctx, tx, env)
}

func insertEnvelope(ctx context.Context, exec Execer, env eventing.Envelope) (string, error) {
	if env.EventID == "" {
		return "", errors.New("outbox store: empty event id")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("outbox store: encode %s: %w", env.EventID, err)
	}
	id := uuid.NewString()
	if _, err := exec.ExecContext(ctx, outboxInsertSQL, id, env.EventID, env.EventType, env.BookingID, payload); err != nil {
		return "", err
	}
	return id, nil
}

// ListPending returns up to limit pending envelopes, oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	rows, err := s.db.QueryContext(ctx, outboxPendingSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []eventing.OutboxRecord
	for rows.Next() {
		var (
			record  eventing.OutboxRecord
			payload []byte
		)
		if err := rows.Scan(&record.ID, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &record.Envelope); err != nil {
			return nil, fmt.Errorf("outbox store: decode %s: %w", record.ID, err)
		}
		pending = append(pending, record)
	}
	return pending, rows.Err()
}

// MarkSent records a delivered envelope.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return expectOneRow(s.db.ExecContext(ctx, outboxSentSQL, s.now().UTC(), id))
}

// MarkFailed takes an envelope out of the pending set after a failed
// delivery. The dispatcher copies it to the dead letter table.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return expectOneRow(s.db.ExecContext(ctx, outboxFailedSQL, id))
}

func expectOneRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOutboxRecordNotFound
	}
	return nil
}
