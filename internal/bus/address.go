package bus

import (
	"fmt"
	"strconv"
	"strings"
)

// Family is a one-wire family code, the first byte of a device ROM.
type Family uint8

// Supported family codes.
const (
	FamilyDS18S20 Family = 0x10
	FamilyDS2438  Family = 0x26
	FamilyDS18B20 Family = 0x28
	FamilyDS2408  Family = 0x29
	FamilyDS2413  Family = 0x3a
)

// serialMask limits a serial number to the 48 bits of a one-wire ROM.
const serialMask = 0xffff_ffff_ffff

// Address identifies a device on a one-wire bus.
//
// The string form matches the kernel's w1 device directory names:
// two hex digits of family code, a dash and twelve hex digits of serial
// (e.g. "3a-00000012ab34").
type Address struct {
	Family Family
	Serial uint64
}

// ParseAddress parses the "ff-xxxxxxxxxxxx" form.
//
// Parameters:
//   - s: Address string as it appears under /sys/bus/w1/devices
//
// Returns:
//   - Address: Parsed address
//   - error: ErrInvalidAddress if parsing fails
func ParseAddress(s string) (Address, error) {
	famStr, serStr, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok || len(famStr) != 2 || len(serStr) != 12 {
		return Address{}, fmt.Errorf("%w: expected ff-xxxxxxxxxxxx, got %q", ErrInvalidAddress, s)
	}

	fam, err := strconv.ParseUint(famStr, 16, 8)
	if err != nil {
		return Address{}, fmt.Errorf("%w: family %q: %w", ErrInvalidAddress, famStr, err)
	}

	serial, err := strconv.ParseUint(serStr, 16, 64)
	if err != nil {
		return Address{}, fmt.Errorf("%w: serial %q: %w", ErrInvalidAddress, serStr, err)
	}

	return Address{Family: Family(fam), Serial: serial & serialMask}, nil
}

// String returns the kernel directory name for the address.
func (a Address) String() string {
	return fmt.Sprintf("%02x-%012x", uint8(a.Family), a.Serial&serialMask)
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a.Family == 0 && a.Serial == 0
}
