package settlement

import "errors"

var (
	// ErrInvalidShare is returned when the owner share is outside (0, 100%].
	ErrInvalidShare = errors.New("settlement: invalid owner share")
	// ErrInvalidMonth is returned when a statement month cannot be parsed.
	ErrInvalidMonth = errors.New("settlement: invalid month")
)
