package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "gearshare:processed"
	defaultTTL       = 7 * 24 * time.Hour
)

// ProcessedStore keeps consumer idempotency markers in Redis with a TTL.
type ProcessedStore struct {
	client goredis.Cmdable
	prefix string
	ttl    time.Duration
}

// ProcessedOption configures the store.
type ProcessedOption func(*ProcessedStore)

// WithKeyPrefix overrides the key prefix.
func WithKeyPrefix(prefix string) ProcessedOption {
	return func(s *ProcessedStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL overrides how long markers are kept.
func WithTTL(ttl time.Duration) ProcessedOption {
	return func(s *ProcessedStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewProcessedStore constructs a Redis-backed processed store.
func NewProcessedStore(client goredis.Cmdable, opts ...ProcessedOption) *ProcessedStore {
	store := &ProcessedStore{client: client, prefix: defaultKeyPrefix, ttl: defaultTTL}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// HasProcessed checks if the event was already processed by consumerName.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	if s == nil || s.client == nil {
		return false, errors.New("processed store: nil redis client")
	}
	if eventID == "" || consumerName == "" {
		return false, errors.New("processed store: invalid arguments")
	}
	n, err := s.client.Exists(ctx, s.key(eventID, consumerName)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkProcessed records the event as processed.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	if s == nil || s.client == nil {
		return errors.New("processed store: nil redis client")
	}
	if eventID == "" || consumerName == "" {
		return errors.New("processed store: invalid arguments")
	}
	return s.client.SetNX(ctx, s.key(eventID, consumerName), time.Now().UTC().Format(time.RFC3339), s.ttl).Err()
}

func (s *ProcessedStore) key(eventID, consumerName string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, consumerName, eventID)
}

// Connect opens a client from a redis:// URL and pings it.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
