package auth

import "context"

// Identity is the authenticated caller. Subject is the user id that the
// booking core compares against renter and owner ids.
type Identity struct {
	Subject string
	Role    Role
}

type identityKey struct{}

// WithIdentity attaches the caller's identity to ctx.
func WithIdentity(ctx context.Context, role Role, subject string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{Subject: subject, Role: role})
}

// IdentityFromContext returns the identity set by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// RoleFromContext is the caller's role, empty when unauthenticated.
func RoleFromContext(ctx context.Context) Role {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}

// SubjectFromContext is the caller's user id, empty when unauthenticated.
func SubjectFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Subject
}

// IsAdmin reports whether ctx carries the admin role.
func IsAdmin(ctx context.Context) bool {
	return RoleFromContext(ctx) == RoleAdmin
}
