package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"gearshare/internal/booking/application"
	"gearshare/internal/booking/application/events"
	booking "gearshare/internal/booking/domain"
	"gearshare/internal/eventing"
)

// Outbox receives envelopes written alongside booking changes.
type Outbox interface {
	Insert(ctx context.Context, env eventing.Envelope) (string, error)
}

// Repository is an in-memory booking repository. Update serialises callers per
// booking id.
type Repository struct {
	mu     sync.RWMutex
	items  map[string]booking.Booking
	locks  map[string]*sync.Mutex
	outbox Outbox
}

// NewRepository constructs a repository that writes notifications to outbox.
func NewRepository(outbox Outbox) (*Repository, error) {
	if outbox == nil {
		return nil, errors.New("booking memory repo: nil outbox")
	}
	return &Repository{
		items:  make(map[string]booking.Booking),
		locks:  make(map[string]*sync.Mutex),
		outbox: outbox,
	}, nil
}

// Seed stores bookings as-is, bypassing the outbox.
func (r *Repository) Seed(bookings ...booking.Booking) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range bookings {
		r.items[b.ID] = b
	}
}

// Get returns a copy of the booking.
func (r *Repository) Get(ctx context.Context, id string) (*booking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.items[id]
	if !ok {
		return nil, booking.ErrNotFound
	}
	return &b, nil
}

// Create stores a new booking and its notifications.
func (r *Repository) Create(ctx context.Context, b *booking.Booking, notifications []events.NotificationRequested) error {
	if b == nil {
		return booking.ErrNilBooking
	}
	envelopes, err := application.NotificationEnvelopes(ctx, notifications)
	if err != nil {
		return &booking.PersistenceError{Operation: "create booking", Err: err}
	}
	lock := r.lockFor(b.ID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	_, exists := r.items[b.ID]
	r.mu.RUnlock()
	if exists {
		return &booking.ValidationError{Field: "id", Message: "already exists"}
	}
	if err := r.enqueue(ctx, envelopes); err != nil {
		return err
	}
	r.mu.Lock()
	r.items[b.ID] = *b
	r.mu.Unlock()
	return nil
}

// Update runs fn on a copy of the booking while holding the booking's lock and
// stores the copy unless fn fails or asks to skip. Notifications are enqueued
// first; the booking is left unchanged when the enqueue fails.
func (r *Repository) Update(ctx context.Context, id string, fn application.UpdateFunc) (*booking.Booking, error) {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	working := *current
	change, err := fn(ctx, &working)
	if err != nil {
		return nil, err
	}
	if change.Skip {
		return current, nil
	}
	envelopes, err := application.NotificationEnvelopes(ctx, change.Notifications)
	if err != nil {
		return nil, &booking.PersistenceError{Operation: "update booking", Err: err}
	}
	if err := r.enqueue(ctx, envelopes); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.items[id] = working
	r.mu.Unlock()
	return &working, nil
}

// ListDueForCompletion returns paid bookings whose end date is before asOf.
func (r *Repository) ListDueForCompletion(ctx context.Context, asOf time.Time, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var due []booking.Booking
	for _, b := range r.items {
		if b.Status == booking.StatusPaid && b.EndDate.Before(asOf) {
			due = append(due, b)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].EndDate.Before(due[j].EndDate) })
	ids := make([]string, 0, len(due))
	for _, b := range due {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, b.ID)
	}
	return ids, nil
}

// ListPaidOut returns bookings paid out within [from, to).
func (r *Repository) ListPaidOut(ctx context.Context, from, to time.Time) ([]booking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []booking.Booking
	for _, b := range r.items {
		if b.PaidOut && !b.PaidOutAt.Before(from) && b.PaidOutAt.Before(to) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaidOutAt.Before(out[j].PaidOutAt) })
	return out, nil
}

func (r *Repository) enqueue(ctx context.Context, envelopes []eventing.Envelope) error {
	for _, env := range envelopes {
		if _, err := r.outbox.Insert(ctx, env); err != nil {
			return &booking.PersistenceError{Operation: "enqueue notification", Err: err}
		}
	}
	return nil
}

func (r *Repository) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[id] = lock
	}
	return lock
}
