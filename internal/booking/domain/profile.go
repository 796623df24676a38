package booking

import (
	"strings"
	"time"
)

// Profile is a marketplace member as seen by bookings: contact details,
// identity verification and payout destination.
type Profile struct {
	ID                 string
	Email              string
	FullName           string
	IdentityVerified   bool
	IdentityVerifiedAt time.Time
	PayoutAccountID    string
}

// DisplayName returns the full name, falling back to the email local part.
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	if name := strings.TrimSpace(p.FullName); name != "" {
		return name
	}
	if at := strings.IndexByte(p.Email, '@'); at > 0 {
		return p.Email[:at]
	}
	return p.Email
}

// MarkVerified sets the verification flag once. It reports whether the
// profile changed.
func (p *Profile) MarkVerified(at time.Time) bool {
	if p == nil || p.IdentityVerified {
		return false
	}
	p.IdentityVerified = true
	p.IdentityVerifiedAt = at.UTC()
	return true
}
