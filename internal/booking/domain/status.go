package booking

import (
	"strconv"
	"strings"
)

// Status is the lifecycle state of a rental booking.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusPaid      Status = "paid"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// transitions is the allowed-edge table. Terminal states map to an empty slice.
var transitions = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusCancelled, StatusRejected},
	StatusApproved:  {StatusPaid, StatusCancelled},
	StatusPaid:      {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
	StatusRejected:  {},
}

// Statuses returns every known status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusPending,
		StatusApproved,
		StatusPaid,
		StatusCompleted,
		StatusCancelled,
		StatusRejected,
	}
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether s has no outgoing edges.
func (s Status) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether current -> next is a listed edge.
// Unknown states, self-loops and terminal sources always yield false.
func CanTransition(current, next Status) bool {
	for _, candidate := range transitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the statuses reachable from s in one step.
func AllowedTransitions(s Status) []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// CheckoutTarget returns the status a confirmed checkout moves a booking to.
func CheckoutTarget(s Status) (Status, bool) {
	switch s {
	case StatusPending:
		return StatusApproved, true
	case StatusApproved:
		return StatusPaid, true
	default:
		return "", false
	}
}

// ParseStatus normalizes and validates a status string.
func ParseStatus(value string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	if !s.IsValid() {
		return "", &ValidationError{Field: "status", Message: "unknown status " + strconv.Quote(value)}
	}
	return s, nil
}

// Label returns a display label: the status with its first letter upper-cased.
func Label(s Status) string {
	if s == "" {
		return ""
	}
	raw := string(s)
	first := raw[0]
	if first >= 'a' && first <= 'z' {
		first -= 'a' - 'A'
	}
	return string(first) + raw[1:]
}

// Tone is the semantic display category of a status.
type Tone string

const (
	ToneWarning Tone = "warning"
	ToneInfo    Tone = "info"
	ToneSuccess Tone = "success"
	ToneNeutral Tone = "neutral"
	ToneDanger  Tone = "danger"
)

// ToneOf maps a status to its display category. Unknown statuses are neutral.
func ToneOf(s Status) Tone {
	switch s {
	case StatusPending:
		return ToneWarning
	case StatusApproved:
		return ToneInfo
	case StatusPaid:
		return ToneSuccess
	case StatusCancelled, StatusRejected:
		return ToneDanger
	default:
		return ToneNeutral
	}
}
