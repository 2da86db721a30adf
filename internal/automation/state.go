package automation

import (
	"time"
)

// Mode is the day/night automation phase.
type Mode string

// Mode constants.
const (
	ModeDay   Mode = "day"
	ModeNight Mode = "night"
)

// AlarmState is the state of the intruder alarm.
type AlarmState string

// AlarmState constants.
const (
	AlarmDisarmed  AlarmState = "disarmed"
	AlarmArmed     AlarmState = "armed"
	AlarmTriggered AlarmState = "triggered"
)

// output tracks what the engine last asked of one output role.
type output struct {
	value float64
	known bool

	lastChange time.Time

	// deferred holds a change suppressed by the minimum toggle interval.
	deferred    float64
	hasDeferred bool
	origin      string

	// holdUntil is when an automatic light-on expires.
	holdUntil time.Time

	// overrideUntil suspends automation after a manual override.
	overrideUntil time.Time

	// allNight marks outputs held on for the whole night.
	allNight bool
}

func (o *output) overridden(now time.Time) bool {
	return now.Before(o.overrideUntil)
}

// fan tracks one climate rule.
type fan struct {
	on bool
}

// level tracks one level rule. readings holds the last active state of
// each sensor seen so far.
type level struct {
	readings  map[string]bool
	percent   float64
	published bool
}

// State is the automation state. It is owned by the engine goroutine and
// only mutated by its processing step.
type State struct {
	Mode Mode

	Alarm         AlarmState
	ArmedAt       time.Time
	EntryDeadline time.Time

	// BedroomLatched suppresses bedroom PIR turn-ons until released.
	BedroomLatched bool

	// GateCloseAt is when an open wicket-gate strike is released.
	GateCloseAt time.Time

	// GateWindowUntil is when a tag-opened gate window expires unused.
	GateWindowUntil time.Time

	outputs map[string]*output
	fans    map[string]*fan
	levels  map[string]*level
}

func newState() *State {
	return &State{
		Alarm:   AlarmDisarmed,
		outputs: make(map[string]*output),
		fans:    make(map[string]*fan),
		levels:  make(map[string]*level),
	}
}

func (s *State) output(role string) *output {
	o, ok := s.outputs[role]
	if !ok {
		o = &output{}
		s.outputs[role] = o
	}
	return o
}

// InEntryDelay reports whether the alarm is armed and motion is still
// being ignored.
func (s *State) InEntryDelay(now time.Time) bool {
	return s.Alarm == AlarmArmed && now.Before(s.EntryDeadline)
}

// Snapshot is a read-only copy of the state for other goroutines.
type Snapshot struct {
	Mode          Mode       `json:"mode"`
	Alarm         AlarmState `json:"alarm"`
	ArmedAt       time.Time  `json:"armed_at,omitzero"`
	EntryDeadline time.Time  `json:"entry_deadline,omitzero"`
	Overrides     []string   `json:"overrides,omitempty"`
}

func (s *State) snapshot(now time.Time) Snapshot {
	snap := Snapshot{Mode: s.Mode, Alarm: s.Alarm}
	if s.Alarm != AlarmDisarmed {
		snap.ArmedAt = s.ArmedAt
		snap.EntryDeadline = s.EntryDeadline
	}
	for role, o := range s.outputs {
		if o.overridden(now) {
			snap.Overrides = append(snap.Overrides, role)
		}
	}
	return snap
}
