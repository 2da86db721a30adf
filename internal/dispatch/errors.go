package dispatch

import (
	"errors"
	"fmt"
)

// Domain errors for the dispatch package.
var (
	// ErrDeviceUnavailable is returned for writes to a device that is not
	// Healthy. The command is not attempted on the bus.
	ErrDeviceUnavailable = errors.New("dispatch: device unavailable")

	// ErrDeadlineExceeded is returned when a command's deadline passed
	// before it reached the bus.
	ErrDeadlineExceeded = errors.New("dispatch: command deadline exceeded")

	// ErrNotOutput is returned when the target role is not an output channel.
	ErrNotOutput = errors.New("dispatch: role is not an output")

	// ErrQueueFull is returned when a device's command queue is full.
	ErrQueueFull = errors.New("dispatch: queue full")

	// ErrClosed is returned by Submit after Shutdown has begun.
	ErrClosed = errors.New("dispatch: dispatcher closed")

	// ErrWriteRejected and ErrVerifyMismatch are matched by ActuationError.
	ErrWriteRejected  = errors.New("dispatch: write rejected")
	ErrVerifyMismatch = errors.New("dispatch: verify mismatch")
)

// ActuationErrorKind classifies a failed actuation.
type ActuationErrorKind uint8

// Actuation failure kinds.
const (
	WriteRejected ActuationErrorKind = iota + 1
	VerifyMismatch
)

func (k ActuationErrorKind) String() string {
	switch k {
	case WriteRejected:
		return "write_rejected"
	case VerifyMismatch:
		return "verify_mismatch"
	default:
		return "unknown"
	}
}

// ActuationError reports a command that reached the bus but did not take
// effect.
type ActuationError struct {
	Kind     ActuationErrorKind
	Role     string
	Want     float64
	Got      float64
	Attempts int
	Err      error
}

func (e *ActuationError) Error() string {
	switch e.Kind {
	case VerifyMismatch:
		if e.Err != nil {
			return fmt.Sprintf("dispatch: %s: verify failed after %d attempts: %v", e.Role, e.Attempts, e.Err)
		}
		return fmt.Sprintf("dispatch: %s: read back %v, want %v after %d attempts", e.Role, e.Got, e.Want, e.Attempts)
	default:
		return fmt.Sprintf("dispatch: %s: write rejected: %v", e.Role, e.Err)
	}
}

func (e *ActuationError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels.
func (e *ActuationError) Is(target error) bool {
	switch target {
	case ErrWriteRejected:
		return e.Kind == WriteRejected
	case ErrVerifyMismatch:
		return e.Kind == VerifyMismatch
	}
	return false
}
