package registry

import "github.com/pkg/errors"

var (
	ErrStreamNotFound  = errors.New("stream not found")
	ErrSessionNotFound = errors.New("session not found")
	// ErrConflict rejects a second publisher, or a second recorder, for one path.
	ErrConflict = errors.New("conflict")
	// ErrDelivery marks a subscriber write that failed during fan-out.
	ErrDelivery = errors.New("delivery failed")
	// ErrInvalidStreamPath rejects paths that are not /app/name or that contain
	// empty, "." or ".." segments.
	ErrInvalidStreamPath = errors.New("invalid stream path")
)
