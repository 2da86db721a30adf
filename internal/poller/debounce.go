package poller

import (
	"math"
	"time"

	"github.com/nerrad567/wirehome/internal/device"
)

// Default debounce settings per channel class.
const (
	DefaultDigitalDebounce = 2
	DefaultAnalogDebounce  = 3

	// DefaultAnalogResolution quantizes analog readings before comparison
	// so that sub-resolution noise does not reset the debounce count.
	DefaultAnalogResolution = 0.1
)

// ClassDebounce holds the debounce defaults of one channel class.
type ClassDebounce struct {
	// K is the number of identical consecutive reads required.
	K int

	// Resolution is the quantization step applied before comparing
	// values. Zero disables quantization.
	Resolution float64
}

// DefaultDebounce returns the class defaults.
func DefaultDebounce() map[device.Class]ClassDebounce {
	return map[device.Class]ClassDebounce{
		device.ClassDigital: {K: DefaultDigitalDebounce},
		device.ClassAnalog:  {K: DefaultAnalogDebounce, Resolution: DefaultAnalogResolution},
	}
}

// Reading is one raw sample of a channel.
type Reading struct {
	Raw       float64
	Value     float64
	Timestamp time.Time
}

// debouncer tracks the candidate and accepted value of one channel.
//
// A raw value becomes the accepted state only after k identical consecutive
// observations. Fewer never change the accepted state.
type debouncer struct {
	k          int
	resolution float64

	candidate float64
	count     int

	accepted    float64
	hasAccepted bool

	last time.Time
}

func newDebouncer(k int, resolution float64) *debouncer {
	if k < 1 {
		k = 1
	}
	return &debouncer{k: k, resolution: resolution}
}

func (d *debouncer) quantize(v float64) float64 {
	if d.resolution <= 0 {
		return v
	}
	inv := 1 / d.resolution
	return math.Round(v*inv) / inv
}

// stamp returns ts adjusted so that timestamps of this channel strictly
// increase.
func (d *debouncer) stamp(ts time.Time) time.Time {
	if !d.last.IsZero() && !ts.After(d.last) {
		ts = d.last.Add(time.Nanosecond)
	}
	d.last = ts
	return ts
}

// miss records a poll that produced no value. The next sample starts a new
// run, so a failed read between two equal values does not count as a
// consecutive observation.
func (d *debouncer) miss() {
	d.count = 0
}

// observe feeds one raw value. It reports whether a new state was accepted,
// the previous accepted value, and whether this is the first acceptance.
func (d *debouncer) observe(r *Reading) (accepted bool, old float64, initial bool) {
	r.Timestamp = d.stamp(r.Timestamp)
	r.Value = d.quantize(r.Raw)

	if d.count > 0 && r.Value == d.candidate {
		d.count++
	} else {
		d.candidate = r.Value
		d.count = 1
	}

	if d.count < d.k {
		return false, 0, false
	}
	if d.hasAccepted && d.accepted == d.candidate {
		return false, 0, false
	}

	old, initial = d.accepted, !d.hasAccepted
	d.accepted = d.candidate
	d.hasAccepted = true
	return true, old, initial
}
