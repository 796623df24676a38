package memory

import (
	"context"
	"sync"
	"time"

	booking "gearshare/internal/booking/domain"
)

// Profiles is an in-memory profile store.
type Profiles struct {
	mu    sync.Mutex
	items map[string]booking.Profile
}

// NewProfiles constructs a store seeded with profiles.
func NewProfiles(profiles ...booking.Profile) *Profiles {
	store := &Profiles{items: make(map[string]booking.Profile)}
	for _, p := range profiles {
		store.items[p.ID] = p
	}
	return store
}

// Put stores or replaces a profile.
func (s *Profiles) Put(profile booking.Profile) {
	s.mu.Lock()
	s.items[profile.ID] = profile
	s.mu.Unlock()
}

// Profile returns a copy of the profile.
func (s *Profiles) Profile(ctx context.Context, id string) (*booking.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return nil, booking.ErrNotFound
	}
	return &p, nil
}

// MarkIdentityVerified sets the verification flag once.
func (s *Profiles) MarkIdentityVerified(ctx context.Context, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[userID]
	if !ok {
		return false, booking.ErrNotFound
	}
	changed := p.MarkVerified(at)
	s.items[userID] = p
	return changed, nil
}

// PayoutAccount returns the connected payout account of userID.
func (s *Profiles) PayoutAccount(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[userID]
	if !ok {
		return "", booking.ErrNotFound
	}
	if p.PayoutAccountID == "" {
		return "", booking.ErrNoPayoutAccount
	}
	return p.PayoutAccountID, nil
}
