package eventing

import (
	"strings"

	"github.com/google/uuid"
)

// eventNamespace scopes deterministic event ids.
var eventNamespace = uuid.MustParse("5b0f7c1e-8a43-4c59-9d4b-2f1e6f0b7a21")

// NewEventID generates a random event identifier.
func NewEventID() string {
	return uuid.NewString()
}

// DeterministicEventID derives a stable id from parts, so re-emitting the same
// logical event yields the same id.
func DeterministicEventID(parts ...string) string {
	return uuid.NewSHA1(eventNamespace, []byte(strings.Join(parts, "|"))).String()
}
