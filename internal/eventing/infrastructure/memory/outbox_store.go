package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"gearshare/internal/eventing"
)

// Outbox statuses.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

type outboxEntry struct {
	record   eventing.OutboxRecord
	status   string
	attempts int
}

// OutboxStore is an in-memory outbox. Envelopes are deduplicated by event id.
type OutboxStore struct {
	mu      sync.Mutex
	entries []*outboxEntry
	byEvent map[string]*outboxEntry
}

// NewOutboxStore constructs an in-memory outbox.
func NewOutboxStore() *OutboxStore {
	return &OutboxStore{byEvent: make(map[string]*outboxEntry)}
}

// Insert appends env unless its event id is already stored.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil {
		return "", errors.New("outbox store: nil store")
	}
	if env.EventID == "" {
		return "", errors.New("outbox store: empty event id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byEvent[env.EventID]; ok {
		return existing.record.ID, nil
	}
	entry := &outboxEntry{
		record: eventing.OutboxRecord{ID: uuid.NewString(), Envelope: env},
		status: StatusPending,
	}
	s.entries = append(s.entries, entry)
	s.byEvent[env.EventID] = entry
	return entry.record.ID, nil
}

// ListPending returns pending records in insertion order.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil {
		return nil, errors.New("outbox store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []eventing.OutboxRecord
	for _, entry := range s.entries {
		if entry.status != StatusPending {
			continue
		}
		out = append(out, entry.record)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkSent marks a record as sent.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	return s.mark(id, StatusSent)
}

// MarkFailed marks a record as failed.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	return s.mark(id, StatusFailed)
}

func (s *OutboxStore) mark(id, status string) error {
	if s == nil {
		return errors.New("outbox store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if entry.record.ID == id {
			entry.status = status
			entry.attempts++
			return nil
		}
	}
	return errors.New("outbox store: record not found")
}

// Envelopes returns every stored envelope with the given status; empty status
// returns all.
func (s *OutboxStore) Envelopes(status string) []eventing.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []eventing.Envelope
	for _, entry := range s.entries {
		if status == "" || entry.status == status {
			out = append(out, entry.record.Envelope)
		}
	}
	return out
}
