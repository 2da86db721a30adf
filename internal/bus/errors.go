package bus

import (
	"errors"
	"fmt"
)

// Domain errors for the bus package.
//
// BusError values match these with errors.Is:
//
//	if errors.Is(err, bus.ErrIntegrityMismatch) {
//	    // frame checksum failed on every attempt
//	}
var (
	// ErrTimeout is returned when a transaction does not complete in time.
	ErrTimeout = errors.New("bus: transaction timed out")

	// ErrIntegrityMismatch is returned when a frame fails its integrity check.
	ErrIntegrityMismatch = errors.New("bus: integrity mismatch")

	// ErrDeviceAbsent is returned when the addressed device is not on the bus.
	ErrDeviceAbsent = errors.New("bus: device absent")

	// ErrInvalidAddress is returned when an address string cannot be parsed.
	ErrInvalidAddress = errors.New("bus: invalid address")

	// ErrUnsupportedBoard is returned for family codes outside the supported set.
	ErrUnsupportedBoard = errors.New("bus: unsupported board")

	// ErrInvalidChannel is returned when a channel index is out of range.
	ErrInvalidChannel = errors.New("bus: invalid channel")

	// ErrNotWritable is returned when writing to a board without outputs.
	ErrNotWritable = errors.New("bus: board not writable")
)

// ErrorKind classifies a failed transaction.
type ErrorKind uint8

// Transaction failure kinds.
const (
	KindTimeout ErrorKind = iota + 1
	KindIntegrityMismatch
	KindDeviceAbsent
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindIntegrityMismatch:
		return "integrity_mismatch"
	case KindDeviceAbsent:
		return "device_absent"
	default:
		return "unknown"
	}
}

// BusError is returned by Driver when a transaction fails after all attempts.
type BusError struct {
	Kind     ErrorKind
	Addr     Address
	Op       Op
	Attempts int
	Err      error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("bus: %s %s on %s after %d attempt(s): %v", e.Op, e.Kind, e.Addr, e.Attempts, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *BusError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrIntegrityMismatch:
		return e.Kind == KindIntegrityMismatch
	case ErrDeviceAbsent:
		return e.Kind == KindDeviceAbsent
	}
	return false
}

// classify maps a transport error onto an ErrorKind. Anything that is not an
// integrity failure or a missing device counts as no response.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrDeviceAbsent):
		return KindDeviceAbsent
	case errors.Is(err, ErrIntegrityMismatch):
		return KindIntegrityMismatch
	default:
		return KindTimeout
	}
}
