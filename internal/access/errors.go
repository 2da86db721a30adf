package access

import "errors"

var (
	// ErrNotFound is returned when a credential ID does not exist.
	ErrNotFound = errors.New("access: credential not found")

	// ErrInvalidKind is returned for kinds other than rfid and pin.
	ErrInvalidKind = errors.New("access: kind must be rfid or pin")

	// ErrEmptySecret is returned when adding a blank tag or PIN.
	ErrEmptySecret = errors.New("access: secret is empty")

	// ErrInvalidHash is returned when a stored hash cannot be decoded.
	ErrInvalidHash = errors.New("access: invalid hash")
)
