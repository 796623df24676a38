package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	eventingrepo "gearshare/internal/eventing/infrastructure/postgres"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

// DeadLetterLister lists dead-lettered outbox events.
type DeadLetterLister interface {
	List(ctx context.Context, limit int) ([]eventingrepo.DLQEntry, error)
}

// DeadLetterView is the JSON form of a dead letter.
type DeadLetterView struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	BookingID   string    `json:"booking_id,omitempty"`
	Error       string    `json:"error"`
	Attempts    int       `json:"attempts"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// DeadLetterHandler serves GET /api/v1/admin/dead-letters.
type DeadLetterHandler struct {
	lister DeadLetterLister
	logger *zap.Logger
}

// NewDeadLetterHandler constructs a handler.
func NewDeadLetterHandler(lister DeadLetterLister, logger *zap.Logger) (*DeadLetterHandler, error) {
	if lister == nil {
		return nil, errors.New("dead letter handler: nil lister")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeadLetterHandler{lister: lister, logger: logger}, nil
}

// ServeHTTP lists the most recent dead letters; ?limit caps the count.
func (h *DeadLetterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := defaultDeadLetterLimit
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxDeadLetterLimit)
	}
	entries, err := h.lister.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list dead letters failed", zap.Error(err))
		http.Error(w, "list dead letters failed", http.StatusInternalServerError)
		return
	}
	views := make([]DeadLetterView, 0, len(entries))
	for _, e := range entries {
		views = append(views, DeadLetterView{
			EventID:     e.EventID,
			EventType:   e.EventType,
			BookingID:   e.BookingID,
			Error:       e.Error,
			Attempts:    e.Attempts,
			FirstSeenAt: e.FirstSeenAt.UTC(),
			LastSeenAt:  e.LastSeenAt.UTC(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

// ProcessedPurger removes old consumer idempotency markers.
type ProcessedPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunProcessedPurge deletes markers older than retention every interval until
// ctx ends.
func RunProcessedPurge(ctx context.Context, purger ProcessedPurger, retention, interval time.Duration, logger *zap.Logger) {
	if purger == nil || retention <= 0 || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			removed, err := purger.PurgeBefore(ctx, tick.Add(-retention))
			if err != nil {
				logger.Warn("purge processed events failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("purged processed events", zap.Int64("removed", removed))
			}
		}
	}
}
