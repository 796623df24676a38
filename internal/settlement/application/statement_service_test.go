package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	booking "gearshare/internal/booking/domain"
	settlement "gearshare/internal/settlement/domain"
)

type stubReader struct {
	from, to time.Time
	list     []booking.Booking
	err      error
}

func (s *stubReader) ListPaidOut(ctx context.Context, from, to time.Time) ([]booking.Booking, error) {
	s.from, s.to = from, to
	return s.list, s.err
}

func TestStatementService_Build(t *testing.T) {
	month := time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)
	generated := time.Date(2026, time.October, 1, 6, 0, 0, 0, time.UTC)
	reader := &stubReader{list: []booking.Booking{{
		ID: "bk-1", OwnerID: "owner-1", ItemID: "tent-42", TotalPrice: 1000, Currency: "USD",
		PaidOut: true, PayoutReference: "tr_1", PaidOutAt: month.Add(36 * time.Hour),
	}}}
	svc, err := NewStatementService(reader, nil, WithNow(func() time.Time { return generated }))
	require.NoError(t, err)

	stmt, err := svc.Build(context.Background(), month.Add(10*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, month, reader.from)
	assert.Equal(t, month.AddDate(0, 1, 0), reader.to)
	assert.Equal(t, generated, stmt.GeneratedAt)
	require.Len(t, stmt.Lines, 1)
	assert.Equal(t, int64(850), stmt.Lines[0].OwnerPayout)
	assert.Equal(t, []settlement.PayoutTotals{{Currency: "USD", Bookings: 1, Gross: 1000, OwnerPayout: 850, PlatformFee: 150}}, stmt.Totals)
}

func TestStatementService_Errors(t *testing.T) {
	_, err := NewStatementService(nil, nil)
	assert.Error(t, err)

	svc, err := NewStatementService(&stubReader{err: errors.New("db down")}, settlement.DefaultLedger())
	require.NoError(t, err)
	_, err = svc.Build(context.Background(), time.Now())
	assert.EqualError(t, err, "db down")
}
