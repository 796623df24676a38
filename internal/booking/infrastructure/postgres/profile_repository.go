package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	booking "gearshare/internal/booking/domain"
)

// ProfileRepository reads and verifies member profiles.
type ProfileRepository struct {
	db *sql.DB
}

// NewProfileRepository constructs a repository.
func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Profile returns a profile by id.
func (r *ProfileRepository) Profile(ctx context.Context, id string) (*booking.Profile, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("profile repo: nil db")
	}
	var (
		p          booking.Profile
		fullName   sql.NullString
		verifiedAt sql.NullTime
		account    sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
SELECT id, email, full_name, identity_verified, identity_verified_at, payout_account_id
FROM profiles
WHERE id = $1`, id).Scan(&p.ID, &p.Email, &fullName, &p.IdentityVerified, &verifiedAt, &account)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.FullName = fullName.String
	p.PayoutAccountID = account.String
	if verifiedAt.Valid {
		p.IdentityVerifiedAt = verifiedAt.Time.UTC()
	}
	return &p, nil
}

// MarkIdentityVerified sets the verification flag with a conditional update so
// concurrent deliveries change the row once.
func (r *ProfileRepository) MarkIdentityVerified(ctx context.Context, userID string, at time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("profile repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE profiles
SET identity_verified = TRUE, identity_verified_at = $2
WHERE id = $1 AND NOT identity_verified`, userID, at.UTC())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, booking.ErrNotFound
	}
	return false, nil
}

// PayoutAccount returns the connected payout account of userID.
func (r *ProfileRepository) PayoutAccount(ctx context.Context, userID string) (string, error) {
	if r == nil || r.db == nil {
		return "", errors.New("profile repo: nil db")
	}
	var account sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT payout_account_id FROM profiles WHERE id = $1`, userID).Scan(&account)
	if errors.Is(err, sql.ErrNoRows) {
		return "", booking.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if account.String == "" {
		return "", booking.ErrNoPayoutAccount
	}
	return account.String, nil
}
