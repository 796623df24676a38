package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gearshare/internal/booking/application"
	"gearshare/internal/booking/application/events"
	booking "gearshare/internal/booking/domain"
	"gearshare/internal/eventing"
)

const bookingColumns = `id, item_id, owner_id, renter_id, status, total_price, currency,
	start_date, end_date, payment_reference, paid_out, payout_reference, paid_out_at,
	refunded, refund_amount, refund_reference, refunded_at, created_at, updated_at`

// TxOutbox writes envelopes inside a caller-owned transaction.
type TxOutbox interface {
	InsertTx(ctx context.Context, tx *sql.Tx, env eventing.Envelope) (string, error)
}

// BookingRepository persists bookings in Postgres. Notifications are written
// to the outbox in the same transaction as the booking row.
type BookingRepository struct {
	db     *sql.DB
	outbox TxOutbox
}

// NewBookingRepository constructs a repository.
func NewBookingRepository(db *sql.DB, outbox TxOutbox) *BookingRepository {
	return &BookingRepository{db: db, outbox: outbox}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Get returns a booking by id.
func (r *BookingRepository) Get(ctx context.Context, id string) (*booking.Booking, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("booking repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+bookingColumns+`
FROM bookings
WHERE id = $1`, id)
	return scanBooking(row)
}

// Create inserts a new booking and its notifications.
func (r *BookingRepository) Create(ctx context.Context, b *booking.Booking, notifications []events.NotificationRequested) error {
	if r == nil || r.db == nil {
		return errors.New("booking repo: nil db")
	}
	if b == nil {
		return booking.ErrNilBooking
	}
	envelopes, err := application.NotificationEnvelopes(ctx, notifications)
	if err != nil {
		return &booking.PersistenceError{Operation: "create booking", Err: err}
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &booking.PersistenceError{Operation: "create booking", Err: err}
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO bookings (
	id, item_id, owner_id, renter_id, status, total_price, currency,
	start_date, end_date, created_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`,
		b.ID, b.ItemID, b.OwnerID, b.RenterID, string(b.Status), b.TotalPrice, b.Currency,
		b.StartDate, b.EndDate, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		return &booking.PersistenceError{Operation: "create booking", Err: err}
	}
	if err := r.insertEnvelopes(ctx, tx, envelopes); err != nil {
		_ = tx.Rollback()
		return &booking.PersistenceError{Operation: "create booking", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &booking.PersistenceError{Operation: "create booking", Err: err}
	}
	return nil
}

// Update locks the booking row with SELECT ... FOR UPDATE, applies fn to a
// copy and writes the result with its notifications in one transaction.
// Errors from fn are returned unchanged after rolling back.
func (r *BookingRepository) Update(ctx context.Context, id string, fn application.UpdateFunc) (*booking.Booking, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("booking repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &booking.PersistenceError{Operation: "begin update", Err: err}
	}
	row := tx.QueryRowContext(ctx, `
SELECT `+bookingColumns+`
FROM bookings
WHERE id = $1
FOR UPDATE`, id)
	current, err := scanBooking(row)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	working := *current
	change, err := fn(ctx, &working)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if change.Skip {
		_ = tx.Rollback()
		return current, nil
	}

	envelopes, err := application.NotificationEnvelopes(ctx, change.Notifications)
	if err != nil {
		_ = tx.Rollback()
		return nil, &booking.PersistenceError{Operation: "update booking", Err: err}
	}
	_, err = tx.ExecContext(ctx, `
UPDATE bookings
SET status = $2,
	payment_reference = $3,
	paid_out = $4,
	payout_reference = $5,
	paid_out_at = $6,
	refunded = $7,
	refund_amount = $8,
	refund_reference = $9,
	refunded_at = $10,
	updated_at = $11
WHERE id = $1`,
		working.ID,
		string(working.Status),
		nullString(working.PaymentReference),
		working.PaidOut,
		nullString(working.PayoutReference),
		nullTime(working.PaidOutAt),
		working.Refunded,
		sql.NullInt64{Int64: working.RefundAmount, Valid: working.Refunded},
		nullString(working.RefundReference),
		nullTime(working.RefundedAt),
		working.UpdatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		return nil, &booking.PersistenceError{Operation: "update booking", Err: err}
	}
	if err := r.insertEnvelopes(ctx, tx, envelopes); err != nil {
		_ = tx.Rollback()
		return nil, &booking.PersistenceError{Operation: "enqueue notification", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, &booking.PersistenceError{Operation: "commit update", Err: err}
	}
	return &working, nil
}

// ListDueForCompletion returns ids of paid bookings whose end date is before asOf.
func (r *BookingRepository) ListDueForCompletion(ctx context.Context, asOf time.Time, limit int) ([]string, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("booking repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id
FROM bookings
WHERE status = 'paid' AND end_date < $1
ORDER BY end_date ASC
LIMIT $2`, asOf.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListPaidOut returns bookings paid out within [from, to).
func (r *BookingRepository) ListPaidOut(ctx context.Context, from, to time.Time) ([]booking.Booking, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("booking repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+bookingColumns+`
FROM bookings
WHERE paid_out AND paid_out_at >= $1 AND paid_out_at < $2
ORDER BY paid_out_at ASC`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *BookingRepository) insertEnvelopes(ctx context.Context, tx *sql.Tx, envelopes []eventing.Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}
	if r.outbox == nil {
		return errors.New("booking repo: nil outbox")
	}
	for _, env := range envelopes {
		if _, err := r.outbox.InsertTx(ctx, tx, env); err != nil {
			return err
		}
	}
	return nil
}

func scanBooking(row rowScanner) (*booking.Booking, error) {
	var (
		b               booking.Booking
		status          string
		paymentRef      sql.NullString
		payoutRef       sql.NullString
		paidOutAt       sql.NullTime
		refundAmount    sql.NullInt64
		refundReference sql.NullString
		refundedAt      sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.ItemID, &b.OwnerID, &b.RenterID, &status, &b.TotalPrice, &b.Currency,
		&b.StartDate, &b.EndDate, &paymentRef, &b.PaidOut, &payoutRef, &paidOutAt,
		&b.Refunded, &refundAmount, &refundReference, &refundedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Status = booking.Status(status)
	b.PaymentReference = paymentRef.String
	b.PayoutReference = payoutRef.String
	b.RefundAmount = refundAmount.Int64
	b.RefundReference = refundReference.String
	if paidOutAt.Valid {
		b.PaidOutAt = paidOutAt.Time.UTC()
	}
	if refundedAt.Valid {
		b.RefundedAt = refundedAt.Time.UTC()
	}
	b.StartDate = b.StartDate.UTC()
	b.EndDate = b.EndDate.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullTime(value time.Time) sql.NullTime {
	return sql.NullTime{Time: value, Valid: !value.IsZero()}
}
