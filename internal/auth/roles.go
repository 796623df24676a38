package auth

// Role is the platform role in a token. Renter and owner are not roles; they
// are relations between a member and a booking.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// NormalizeRole accepts only known roles.
func NormalizeRole(value string) (Role, bool) {
	switch r := Role(value); r {
	case RoleMember, RoleAdmin:
		return r, true
	}
	return "", false
}

// Satisfies reports whether r may call routes that require required. Admins
// may call member routes.
func (r Role) Satisfies(required Role) bool {
	switch required {
	case RoleMember:
		return r == RoleMember || r == RoleAdmin
	case RoleAdmin:
		return r == RoleAdmin
	}
	return false
}
