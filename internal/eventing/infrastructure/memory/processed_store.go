package memory

import (
	"context"
	"errors"
	"sync"

	"gearshare/internal/eventing"
)

// ProcessedStore is an in-memory idempotency store.
type ProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewProcessedStore constructs an in-memory processed store.
func NewProcessedStore() *ProcessedStore {
	return &ProcessedStore{seen: make(map[string]struct{})}
}

// HasProcessed reports whether consumerName already handled eventID.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	if eventID == "" || consumerName == "" {
		return false, errors.New("processed store: invalid arguments")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[consumerName+"|"+eventID]
	return ok, nil
}

// MarkProcessed records eventID as handled by consumerName.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	if eventID == "" || consumerName == "" {
		return errors.New("processed store: invalid arguments")
	}
	s.mu.Lock()
	s.seen[consumerName+"|"+eventID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// DLQStore keeps dead letters in memory.
type DLQStore struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewDLQStore constructs an in-memory DLQ.
func NewDLQStore() *DLQStore {
	return &DLQStore{entries: make(map[string]string)}
}

// RecordFailure stores the last error for env.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, err error) error {
	if env.EventID == "" {
		return errors.New("dlq store: empty event id")
	}
	message := ""
	if err != nil {
		message = err.Error()
	}
	s.mu.Lock()
	s.entries[env.EventID] = message
	s.mu.Unlock()
	return nil
}

// Failures returns a copy of event id to error message.
func (s *DLQStore) Failures() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}
