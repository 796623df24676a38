package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	booking "gearshare/internal/booking/domain"
)

// Middleware authenticates bearer tokens and enforces the route's role.
type Middleware struct {
	Secret []byte
	Policy Policy
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{Secret: secret, Policy: policy}
}

// Wrap rejects requests without a valid token for the route's role with 401,
// and callers whose role is too low with 403. Rejections use the same JSON
// error body as the booking API.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, ok := m.Policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		id, err := m.authenticate(r)
		if err != nil {
			reject(w, http.StatusUnauthorized, "unauthorized", err)
			return
		}
		if !id.Role.Satisfies(required) {
			reject(w, http.StatusForbidden, "forbidden", ErrForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id.Role, id.Subject)))
	})
}

func (m *Middleware) authenticate(r *http.Request) (Identity, error) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return Identity{}, ErrUnauthorized
	}
	claims, err := ParseJWT(token, m.Secret)
	if err != nil {
		return Identity{}, err
	}
	role, ok := NormalizeRole(claims.Role)
	if !ok || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{Subject: claims.Subject, Role: role}, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func reject(w http.ResponseWriter, status int, code string, err error) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="gearshare"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": err.Error()})
}

// ErrForbidden is returned when the caller lacks the admin role. It matches
// booking.ErrForbidden so the processor and the HTTP layer treat both alike.
var ErrForbidden = fmt.Errorf("auth: admin role required: %w", booking.ErrForbidden)

// AdminAuthorizer checks the admin role carried by the request context.
type AdminAuthorizer struct{}

// RequireAdmin returns an error matching booking.ErrForbidden unless ctx
// carries the admin role.
func (AdminAuthorizer) RequireAdmin(ctx context.Context) error {
	if IsAdmin(ctx) {
		return nil
	}
	return ErrForbidden
}
