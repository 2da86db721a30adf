package device

import (
	"errors"
	"fmt"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDuplicateRole) {
//	    // configuration names the same role twice
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrRoleNotFound is returned when no channel carries a role.
	ErrRoleNotFound = errors.New("device: role not found")

	// ErrChannelNotFound is returned when no channel is registered at an
	// address and index.
	ErrChannelNotFound = errors.New("device: channel not found")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrDuplicateRole is matched by ConfigError values of kind DuplicateRole.
	ErrDuplicateRole = errors.New("device: duplicate role")

	// ErrDuplicateAddress is matched by ConfigError values of kind DuplicateAddress.
	ErrDuplicateAddress = errors.New("device: duplicate address")

	// ErrDuplicateDevice is returned when registering an existing device ID.
	ErrDuplicateDevice = errors.New("device: duplicate id")
)

// ConfigErrorKind classifies a registration conflict.
type ConfigErrorKind uint8

// Registration conflicts.
const (
	DuplicateRole ConfigErrorKind = iota + 1
	DuplicateAddress
)

// ConfigError reports a registration that would break role or address
// uniqueness.
type ConfigError struct {
	Kind     ConfigErrorKind
	DeviceID string
	Role     string
	Address  string
	Channel  int

	// Existing is the device that already holds the role or address.
	Existing string
}

func (e *ConfigError) Error() string {
	switch e.Kind {
	case DuplicateRole:
		return fmt.Sprintf("device: duplicate role %q on %s (already on %s)", e.Role, e.DeviceID, e.Existing)
	case DuplicateAddress:
		return fmt.Sprintf("device: duplicate address %s channel %d on %s (already on %s)",
			e.Address, e.Channel, e.DeviceID, e.Existing)
	default:
		return "device: configuration error"
	}
}

// Is matches the kind sentinels.
func (e *ConfigError) Is(target error) bool {
	switch target {
	case ErrDuplicateRole:
		return e.Kind == DuplicateRole
	case ErrDuplicateAddress:
		return e.Kind == DuplicateAddress
	}
	return false
}
