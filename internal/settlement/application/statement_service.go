package application

import (
	"context"
	"errors"
	"time"

	booking "gearshare/internal/booking/domain"
	"gearshare/internal/observability/metrics"
	settlement "gearshare/internal/settlement/domain"
)

// PaidOutReader lists bookings paid out within [from, to).
type PaidOutReader interface {
	ListPaidOut(ctx context.Context, from, to time.Time) ([]booking.Booking, error)
}

// StatementService builds monthly payout statements.
type StatementService struct {
	bookings PaidOutReader
	ledger   *settlement.Ledger
	now      func() time.Time
}

// StatementOption configures the service.
type StatementOption func(*StatementService)

// WithNow overrides the generation timestamp source.
func WithNow(now func() time.Time) StatementOption {
	return func(s *StatementService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStatementService constructs a statement service.
func NewStatementService(bookings PaidOutReader, ledger *settlement.Ledger, opts ...StatementOption) (*StatementService, error) {
	if bookings == nil {
		return nil, errors.New("statement service: nil booking reader")
	}
	if ledger == nil {
		ledger = settlement.DefaultLedger()
	}
	s := &StatementService{bookings: bookings, ledger: ledger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Build returns the payout statement of the month starting at month.
func (s *StatementService) Build(ctx context.Context, month time.Time) (*settlement.PayoutStatement, error) {
	start := time.Now()
	from := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	list, err := s.bookings.ListPaidOut(ctx, from, to)
	if err != nil {
		metrics.ObserveOperation("statement_build", metrics.ResultError, time.Since(start))
		return nil, err
	}
	metrics.ObserveOperation("statement_build", metrics.ResultSuccess, time.Since(start))
	return s.ledger.BuildPayoutStatement(from, s.now(), list), nil
}
