package bus

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Value is a channel reading or an output setpoint.
// Digital channels use On and Off; analog channels carry their unit value
// (degrees Celsius, percent relative humidity).
type Value float64

// Digital values.
const (
	Off Value = 0
	On  Value = 1
)

// BoolValue converts a digital level to a Value.
func BoolValue(b bool) Value {
	if b {
		return On
	}
	return Off
}

// Bool reports whether a digital value is on.
func (v Value) Bool() bool {
	return v != 0
}

// BoardType enumerates the supported board variants.
type BoardType uint8

// Board variants.
const (
	BoardUnknown BoardType = iota
	BoardDigitalIO
	BoardRelay
	BoardTemperature
	BoardHumidity
)

var boardTypeNames = map[BoardType]string{
	BoardDigitalIO:   "digital-io",
	BoardRelay:       "relay",
	BoardTemperature: "temperature",
	BoardHumidity:    "humidity",
}

// String returns the configuration name of the board type.
func (t BoardType) String() string {
	if s, ok := boardTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// ParseBoardType parses a configuration board name.
func ParseBoardType(s string) (BoardType, error) {
	for t, name := range boardTypeNames {
		if name == s {
			return t, nil
		}
	}
	return BoardUnknown, fmt.Errorf("%w: %q", ErrUnsupportedBoard, s)
}

// BoardTypeOf returns the board variant for a family code.
func BoardTypeOf(f Family) BoardType {
	switch f {
	case FamilyDS2413:
		return BoardDigitalIO
	case FamilyDS2408:
		return BoardRelay
	case FamilyDS18B20, FamilyDS18S20:
		return BoardTemperature
	case FamilyDS2438:
		return BoardHumidity
	default:
		return BoardUnknown
	}
}

// Board is implemented by every board variant.
type Board interface {
	Type() BoardType
	Channels() int
}

// Readable boards decode channel values from a read frame.
type Readable interface {
	Board
	Decode(channel int, f Frame) (Value, error)
}

// Writable boards encode an output frame from the current state.
type Writable interface {
	Readable
	Encode(channel int, current Frame, v Value) ([]byte, error)
}

// BoardFor returns the board variant handling a family code.
func BoardFor(f Family) (Board, error) {
	switch BoardTypeOf(f) {
	case BoardDigitalIO:
		return DigitalIOPair{}, nil
	case BoardRelay:
		return RelayBank{}, nil
	case BoardTemperature:
		return TemperatureProbe{Family: f}, nil
	case BoardHumidity:
		return HumidityProbe{}, nil
	default:
		return nil, fmt.Errorf("%w: family %#02x", ErrUnsupportedBoard, uint8(f))
	}
}

func checkChannel(b Board, channel int) error {
	if channel < 0 || channel >= b.Channels() {
		return fmt.Errorf("%w: %d on %s board", ErrInvalidChannel, channel, b.Type())
	}
	return nil
}

// DigitalIOPair is a DS2413 dual input board.
type DigitalIOPair struct{}

// pioBits maps channel index to the PIO pin-state bit of the status byte.
var pioBits = [2]uint{0, 2} // PIOA, PIOB

// Type implements Board.
func (DigitalIOPair) Type() BoardType { return BoardDigitalIO }

// Channels implements Board.
func (DigitalIOPair) Channels() int { return len(pioBits) }

// Decode returns the pin level of PIOA (channel 0) or PIOB (channel 1).
func (b DigitalIOPair) Decode(channel int, f Frame) (Value, error) {
	if err := checkChannel(b, channel); err != nil {
		return Off, err
	}
	if len(f.Payload) != 1 {
		return Off, fmt.Errorf("%w: status length %d", ErrIntegrityMismatch, len(f.Payload))
	}
	return BoolValue(f.Payload[0]&(1<<pioBits[channel]) != 0), nil
}

// RelayBank is a DS2408 eight channel relay board. Outputs are active-low:
// a cleared bit energises the relay.
type RelayBank struct{}

// RelayBankInitialState is the all-off output byte.
const RelayBankInitialState byte = 0xff

// Type implements Board.
func (RelayBank) Type() BoardType { return BoardRelay }

// Channels implements Board.
func (RelayBank) Channels() int { return 8 }

// Decode reports whether a relay is energised.
func (b RelayBank) Decode(channel int, f Frame) (Value, error) {
	if err := checkChannel(b, channel); err != nil {
		return Off, err
	}
	if len(f.Payload) != 1 {
		return Off, fmt.Errorf("%w: state length %d", ErrIntegrityMismatch, len(f.Payload))
	}
	return BoolValue(f.Payload[0]&(1<<uint(channel)) == 0), nil
}

// Encode sets one relay in the current output byte, leaving the others.
func (b RelayBank) Encode(channel int, current Frame, v Value) ([]byte, error) {
	if err := checkChannel(b, channel); err != nil {
		return nil, err
	}
	out := RelayBankInitialState
	if len(current.Payload) == 1 {
		out = current.Payload[0]
	}
	if v.Bool() {
		out &^= 1 << uint(channel)
	} else {
		out |= 1 << uint(channel)
	}
	return []byte{out}, nil
}

// TemperatureProbe is a DS18B20 or DS18S20 probe.
type TemperatureProbe struct {
	Family Family
}

// Type implements Board.
func (TemperatureProbe) Type() BoardType { return BoardTemperature }

// Channels implements Board.
func (TemperatureProbe) Channels() int { return 1 }

// Decode converts the scratchpad temperature register to degrees Celsius.
func (b TemperatureProbe) Decode(channel int, f Frame) (Value, error) {
	if err := checkChannel(b, channel); err != nil {
		return 0, err
	}
	if len(f.Payload) < 2 {
		return 0, fmt.Errorf("%w: scratchpad length %d", ErrIntegrityMismatch, len(f.Payload))
	}
	raw := int16(binary.LittleEndian.Uint16(f.Payload[0:2]))
	if b.Family == FamilyDS18S20 {
		return Value(float64(raw) / 2), nil
	}
	return Value(float64(raw) / 16), nil
}

// HumidityProbe is a DS2438 battery monitor wired to an HIH-4000 humidity
// sensor. Channel 0 is relative humidity, channel 1 is temperature.
//
// Its frame payload is three big-endian 16-bit registers: temperature
// (1/256 °C), VDD and VAD (both 10 mV units).
type HumidityProbe struct{}

// Humidity probe channels.
const (
	HumidityChannel     = 0
	HumidityTempChannel = 1

	humidityPayloadSize = 6
)

// Type implements Board.
func (HumidityProbe) Type() BoardType { return BoardHumidity }

// Channels implements Board.
func (HumidityProbe) Channels() int { return 2 }

// Decode computes relative humidity or temperature from the registers.
func (b HumidityProbe) Decode(channel int, f Frame) (Value, error) {
	if err := checkChannel(b, channel); err != nil {
		return 0, err
	}
	if len(f.Payload) != humidityPayloadSize {
		return 0, fmt.Errorf("%w: register length %d", ErrIntegrityMismatch, len(f.Payload))
	}
	temp := float64(int16(binary.BigEndian.Uint16(f.Payload[0:2]))) / 256
	if channel == HumidityTempChannel {
		return Value(temp), nil
	}

	vdd := float64(binary.BigEndian.Uint16(f.Payload[2:4])) / 100
	vad := float64(binary.BigEndian.Uint16(f.Payload[4:6])) / 100
	if vdd == 0 {
		return 0, fmt.Errorf("%w: zero supply voltage", ErrIntegrityMismatch)
	}
	return Value(RelativeHumidity(vad, vdd, temp)), nil
}

// RelativeHumidity applies the HIH-4000 transfer function with temperature
// compensation. The result is clamped to 0..100.
func RelativeHumidity(vad, vdd, tempC float64) float64 {
	rh := (vad/vdd - 0.16) / 0.0062 / (1.0546 - 0.00216*tempC)
	return math.Max(0, math.Min(100, rh))
}
