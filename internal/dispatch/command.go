package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// DefaultDeadline applies to commands submitted without one.
const DefaultDeadline = 10 * time.Second

// Command asks for an output channel to be driven to a value.
type Command struct {
	ID    uuid.UUID
	Role  string
	Value float64

	// Reason is a free-form description recorded with the result.
	Reason string

	// Origin groups commands for CancelPending, e.g. "alarm" or "lighting".
	Origin string

	Issued   time.Time
	Deadline time.Time
}

// NewCommand creates a command issued at now with the default deadline.
func NewCommand(role string, value float64, origin, reason string, now time.Time) Command {
	return Command{
		ID:       uuid.New(),
		Role:     role,
		Value:    value,
		Reason:   reason,
		Origin:   origin,
		Issued:   now,
		Deadline: now.Add(DefaultDeadline),
	}
}
