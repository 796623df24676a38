package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gearshare/internal/booking/application"
	"gearshare/internal/booking/application/events"
	booking "gearshare/internal/booking/domain"
	eventingpg "gearshare/internal/eventing/infrastructure/postgres"
)

var (
	testNow     = time.Date(2026, time.September, 10, 12, 0, 0, 0, time.UTC)
	bookingCols = []string{
		"id", "item_id", "owner_id", "renter_id", "status", "total_price", "currency",
		"start_date", "end_date", "payment_reference", "paid_out", "payout_reference", "paid_out_at",
		"refunded", "refund_amount", "refund_reference", "refunded_at", "created_at", "updated_at",
	}
)

func bookingRow(status string, paymentRef driver.Value, paidOut bool) []driver.Value {
	return []driver.Value{
		"bk-1", "item-1", "owner-1", "renter-1", status, int64(1000), "USD",
		testNow.Add(-72 * time.Hour), testNow.Add(-24 * time.Hour), paymentRef, paidOut, nil, nil,
		false, nil, nil, nil, testNow.Add(-96 * time.Hour), testNow.Add(-96 * time.Hour),
	}
}

func newRepo(t *testing.T) (*BookingRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewBookingRepository(db, eventingpg.NewOutboxStore(db)), mock
}

func TestBookingRepository_Get(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings")).
		WithArgs("bk-1").
		WillReturnRows(sqlmock.NewRows(bookingCols).AddRow(bookingRow("paid", "pi_123", false)...))
	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(bookingCols))

	b, err := repo.Get(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPaid, b.Status)
	assert.Equal(t, "pi_123", b.PaymentReference)
	assert.True(t, b.PaidOutAt.IsZero())

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, booking.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_UpdateWritesBookingAndOutboxAtomically(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("bk-1").
		WillReturnRows(sqlmock.NewRows(bookingCols).AddRow(bookingRow("paid", "pi_123", false)...))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bookings")).
		WithArgs("bk-1", "paid", sqlmock.AnyArg(), true, sqlmock.AnyArg(), sqlmock.AnyArg(),
			false, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_outbox")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "bk-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := repo.Update(context.Background(), "bk-1", func(ctx context.Context, b *booking.Booking) (application.Change, error) {
		if err := b.MarkPaidOut("tr_1", testNow); err != nil {
			return application.Change{}, err
		}
		return application.Change{Notifications: []events.NotificationRequested{
			events.NewNotification(events.KindPayoutSent, b.ID, b.OwnerID, "payout:tr_1", testNow),
		}}, nil
	})
	require.NoError(t, err)
	assert.True(t, updated.PaidOut)
	assert.Equal(t, "tr_1", updated.PayoutReference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_UpdateRollsBackOnFnError(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("bk-1").
		WillReturnRows(sqlmock.NewRows(bookingCols).AddRow(bookingRow("paid", "pi_123", true)...))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), "bk-1", func(ctx context.Context, b *booking.Booking) (application.Change, error) {
		return application.Change{}, b.MarkPaidOut("tr_2", testNow)
	})
	assert.ErrorIs(t, err, booking.ErrAlreadySettled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_UpdateSkip(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("bk-1").
		WillReturnRows(sqlmock.NewRows(bookingCols).AddRow(bookingRow("approved", "pi_123", false)...))
	mock.ExpectRollback()

	b, err := repo.Update(context.Background(), "bk-1", func(ctx context.Context, b *booking.Booking) (application.Change, error) {
		return application.Change{Skip: true}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, booking.StatusApproved, b.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_UpdateNotFound(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(bookingCols))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), "missing", func(ctx context.Context, b *booking.Booking) (application.Change, error) {
		t.Fatal("fn must not run")
		return application.Change{}, nil
	})
	assert.ErrorIs(t, err, booking.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_CommitFailureIsPersistenceError(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("bk-1").
		WillReturnRows(sqlmock.NewRows(bookingCols).AddRow(bookingRow("paid", "pi_123", false)...))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bookings")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	_, err := repo.Update(context.Background(), "bk-1", func(ctx context.Context, b *booking.Booking) (application.Change, error) {
		return application.Change{}, b.TransitionTo(booking.StatusCompleted, testNow)
	})
	assert.ErrorIs(t, err, booking.ErrPersistence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_Create(t *testing.T) {
	repo, mock := newRepo(t)
	b, err := booking.New(booking.NewBookingParams{
		ID: "bk-9", ItemID: "item-1", OwnerID: "owner-1", RenterID: "renter-1",
		TotalPrice: 2500, Currency: "eur",
		StartDate: testNow, EndDate: testNow.Add(48 * time.Hour), CreatedAt: testNow,
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bookings")).
		WithArgs("bk-9", "item-1", "owner-1", "renter-1", "pending", int64(2500), "EUR",
			testNow, testNow.Add(48*time.Hour), testNow, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_outbox")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = repo.Create(context.Background(), b, []events.NotificationRequested{
		events.NewNotification(events.KindBookingRequested, b.ID, b.OwnerID, "requested", testNow),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_Lists(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'paid' AND end_date < $1")).
		WithArgs(testNow, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("bk-1").AddRow("bk-2"))

	paidOut := bookingRow("completed", "pi_123", true)
	paidOut[11] = "tr_1"
	paidOut[12] = testNow
	mock.ExpectQuery(regexp.QuoteMeta("WHERE paid_out AND paid_out_at >= $1")).
		WithArgs(testNow.AddDate(0, -1, 0), testNow).
		WillReturnRows(sqlmock.NewRows(bookingCols).AddRow(paidOut...))

	ids, err := repo.ListDueForCompletion(context.Background(), testNow, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"bk-1", "bk-2"}, ids)

	list, err := repo.ListPaidOut(context.Background(), testNow.AddDate(0, -1, 0), testNow)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "tr_1", list[0].PayoutReference)
	assert.Equal(t, testNow, list[0].PaidOutAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewProfileRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE profiles")).
		WithArgs("renter-1", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE profiles")).
		WithArgs("renter-1", testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("renter-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE profiles")).
		WithArgs("ghost", testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT payout_account_id")).
		WithArgs("owner-1").
		WillReturnRows(sqlmock.NewRows([]string{"payout_account_id"}).AddRow(nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email")).
		WithArgs("owner-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name", "identity_verified", "identity_verified_at", "payout_account_id"}).
			AddRow("owner-1", "owner@example.com", "Olive Owner", true, testNow, "acct_1"))

	changed, err := repo.MarkIdentityVerified(context.Background(), "renter-1", testNow)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = repo.MarkIdentityVerified(context.Background(), "renter-1", testNow)
	require.NoError(t, err)
	assert.False(t, changed)
	_, err = repo.MarkIdentityVerified(context.Background(), "ghost", testNow)
	assert.ErrorIs(t, err, booking.ErrNotFound)

	_, err = repo.PayoutAccount(context.Background(), "owner-1")
	assert.ErrorIs(t, err, booking.ErrNoPayoutAccount)

	profile, err := repo.Profile(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", profile.PayoutAccountID)
	assert.Equal(t, "Olive Owner", profile.DisplayName())
	assert.NoError(t, mock.ExpectationsWereMet())
}
