package audit

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"gearshare/internal/auth"
)

// FromRequest builds an entry for an action taken through r. The actor and
// role come from the authenticated identity; the client address prefers the
// first X-Forwarded-For hop.
func FromRequest(r *http.Request, action, resourceType, resourceID string, metadata any) (Entry, error) {
	entry := Entry{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		CreatedAt:    time.Now().UTC(),
	}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return Entry{}, err
		}
		entry.Metadata = raw
	}
	if r == nil {
		return entry, nil
	}
	entry.Actor = auth.SubjectFromContext(r.Context())
	entry.Role = string(auth.RoleFromContext(r.Context()))
	entry.IP = remoteAddr(r)
	entry.UserAgent = r.UserAgent()
	return entry, nil
}

func remoteAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
