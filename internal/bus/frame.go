package bus

import "fmt"

// Op is the direction of a bus transaction.
type Op uint8

// Transaction directions.
const (
	OpRead Op = iota
	OpWrite
)

// String returns the op name.
func (o Op) String() string {
	if o == OpWrite {
		return "write"
	}
	return "read"
}

// Check selects how a frame's integrity is verified.
type Check uint8

// Integrity checks.
const (
	// CheckDevice means the kernel driver verified the CRC itself and
	// reported failures as EIO on transfer.
	CheckDevice Check = iota

	// CheckCRC8 means the last payload byte is the Dallas CRC-8 of the
	// preceding bytes (DS18x20 scratchpad).
	CheckCRC8

	// CheckComplement means the payload is a single PIO status byte whose
	// high nibble is the bitwise complement of its low nibble (DS2413).
	CheckComplement
)

// scratchpadSize is the length of a DS18x20 scratchpad including its CRC.
const scratchpadSize = 9

// Request is a single raw transaction sent to a Transport.
type Request struct {
	Addr    Address
	Op      Op
	Payload []byte
}

// Frame is the raw response of a transaction.
type Frame struct {
	Addr    Address
	Op      Op
	Check   Check
	Payload []byte
}

// Verify checks the frame's integrity.
// Returns an error wrapping ErrIntegrityMismatch on failure.
func (f Frame) Verify() error {
	switch f.Check {
	case CheckCRC8:
		if len(f.Payload) != scratchpadSize {
			return fmt.Errorf("%w: scratchpad length %d", ErrIntegrityMismatch, len(f.Payload))
		}
		if allZero(f.Payload) {
			// A shorted or floating bus reads as zeros, whose CRC is also zero.
			return fmt.Errorf("%w: all-zero scratchpad", ErrIntegrityMismatch)
		}
		if got, want := f.Payload[scratchpadSize-1], CRC8(f.Payload[:scratchpadSize-1]); got != want {
			return fmt.Errorf("%w: crc %#02x, computed %#02x", ErrIntegrityMismatch, got, want)
		}
	case CheckComplement:
		if len(f.Payload) != 1 {
			return fmt.Errorf("%w: status length %d", ErrIntegrityMismatch, len(f.Payload))
		}
		b := f.Payload[0]
		if b>>4 != ^b&0x0f {
			return fmt.Errorf("%w: status byte %#02x", ErrIntegrityMismatch, b)
		}
	case CheckDevice:
		if len(f.Payload) == 0 {
			return fmt.Errorf("%w: empty frame", ErrIntegrityMismatch)
		}
	}
	return nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
