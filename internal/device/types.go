package device

import (
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/wirehome/internal/bus"
)

// HealthStatus represents the bus health of a device.
type HealthStatus string

// HealthStatus constants.
const (
	HealthHealthy     HealthStatus = "healthy"
	HealthDegraded    HealthStatus = "degraded"
	HealthUnavailable HealthStatus = "unavailable"
)

// Usable reports whether the device may be polled and written normally.
func (h HealthStatus) Usable() bool {
	return h == HealthHealthy
}

// Direction is the data direction of a channel.
type Direction string

// Direction constants.
const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Class groups channels for debounce defaults.
type Class string

// Class constants.
const (
	// ClassDigital covers PIR, reed and wall-switch inputs.
	ClassDigital Class = "digital"

	// ClassAnalog covers temperature and humidity lines.
	ClassAnalog Class = "analog"
)

// Capability is what a device's board can do.
type Capability string

// Capability constants.
const (
	CapabilityReadable Capability = "readable"
	CapabilityWritable Capability = "writable"
)

// Channel is one input or output of a device, bound to a logical role.
type Channel struct {
	Index     int       `json:"index"`
	Role      string    `json:"role"`
	Direction Direction `json:"direction"`
	Class     Class     `json:"class"`

	// Debounce is the number of identical consecutive reads required
	// before a change is accepted. Zero selects the class default.
	Debounce int `json:"debounce,omitempty"`

	Tags []string `json:"tags,omitempty"`
}

// HasTag reports whether the channel carries tag.
func (c Channel) HasTag(tag string) bool {
	return slices.Contains(c.Tags, tag)
}

// Device is a physical board on a bus segment.
type Device struct {
	ID       string        `json:"id"`
	Segment  string        `json:"segment"`
	Address  bus.Address   `json:"-"`
	Board    bus.BoardType `json:"-"`
	Channels []Channel     `json:"channels"`
	Tags     []string      `json:"tags,omitempty"`

	Health        HealthStatus `json:"health"`
	HealthChanged time.Time    `json:"health_changed"`
}

// AddressString returns the bus address in its directory form.
func (d *Device) AddressString() string {
	return d.Address.String()
}

// DeepCopy creates an independent copy of the device.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	cpy.Tags = slices.Clone(d.Tags)
	if d.Channels != nil {
		cpy.Channels = make([]Channel, len(d.Channels))
		for i, ch := range d.Channels {
			ch.Tags = slices.Clone(ch.Tags)
			cpy.Channels[i] = ch
		}
	}
	return &cpy
}

// Channel returns the channel with the given index.
func (d *Device) Channel(index int) (Channel, bool) {
	for _, ch := range d.Channels {
		if ch.Index == index {
			return ch, true
		}
	}
	return Channel{}, false
}

// Capabilities derives the capability set from the board variant.
func (d *Device) Capabilities() []Capability {
	board, err := bus.BoardFor(d.Address.Family)
	if err != nil {
		return nil
	}
	var caps []Capability
	if _, ok := board.(bus.Readable); ok {
		caps = append(caps, CapabilityReadable)
	}
	if _, ok := board.(bus.Writable); ok {
		caps = append(caps, CapabilityWritable)
	}
	return caps
}

// Validate checks that the device is internally consistent: the board type
// matches the address family, every channel exists on the board and output
// channels are only declared on writable boards.
func (d *Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidDevice)
	}
	if d.Segment == "" {
		return fmt.Errorf("%w: %s: empty segment", ErrInvalidDevice, d.ID)
	}

	board, err := bus.BoardFor(d.Address.Family)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidDevice, d.ID, err)
	}
	if d.Board != board.Type() {
		return fmt.Errorf("%w: %s: board %s does not match address family of %s",
			ErrInvalidDevice, d.ID, d.Board, d.Address)
	}
	_, writable := board.(bus.Writable)

	seen := make(map[int]bool, len(d.Channels))
	for _, ch := range d.Channels {
		if ch.Role == "" {
			return fmt.Errorf("%w: %s: channel %d has no role", ErrInvalidDevice, d.ID, ch.Index)
		}
		if ch.Index < 0 || ch.Index >= board.Channels() {
			return fmt.Errorf("%w: %s: channel %d out of range 0-%d",
				ErrInvalidDevice, d.ID, ch.Index, board.Channels()-1)
		}
		if seen[ch.Index] {
			return fmt.Errorf("%w: %s: channel %d declared twice", ErrInvalidDevice, d.ID, ch.Index)
		}
		seen[ch.Index] = true

		switch ch.Direction {
		case DirectionInput:
		case DirectionOutput:
			if !writable {
				return fmt.Errorf("%w: %s: output channel %d on %s board",
					ErrInvalidDevice, d.ID, ch.Index, d.Board)
			}
		default:
			return fmt.Errorf("%w: %s: channel %d direction %q", ErrInvalidDevice, d.ID, ch.Index, ch.Direction)
		}

		if ch.Class != ClassDigital && ch.Class != ClassAnalog {
			return fmt.Errorf("%w: %s: channel %d class %q", ErrInvalidDevice, d.ID, ch.Index, ch.Class)
		}
		if ch.Debounce < 0 {
			return fmt.Errorf("%w: %s: channel %d negative debounce", ErrInvalidDevice, d.ID, ch.Index)
		}
	}
	return nil
}

// ChannelRef locates a channel on the bus.
type ChannelRef struct {
	DeviceID string
	Segment  string
	Address  bus.Address
	Channel  Channel
}
