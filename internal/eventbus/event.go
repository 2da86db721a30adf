package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the type of an event.
type Kind string

// Outbound event kinds, published by the core for collaborators.
const (
	KindStateChanged        Kind = "state_changed"
	KindDeviceHealthChanged Kind = "device_health_changed"
	KindAlarmStateChanged   Kind = "alarm_state_changed"
	KindActuationFailed     Kind = "actuation_failed"
	KindActuationCompleted  Kind = "actuation_completed"
	KindModeChanged         Kind = "mode_changed"
	KindLevelChanged        Kind = "level_changed"
	KindOverflow            Kind = "event_bus_overflow"
)

// Inbound event kinds, injected by the remote-control surface and the
// RFID reader.
const (
	KindArmAlarm       Kind = "arm_alarm"
	KindDisarmAlarm    Kind = "disarm_alarm"
	KindManualOverride Kind = "manual_override"
	KindTagScanned     Kind = "tag_scanned"
)

// Channel roles used by events that do not originate from a channel.
const (
	RoleAlarm = "alarm"
	RoleMode  = "mode"
)

// Event is the envelope for everything carried by the bus. The JSON form
// is the stable external schema {channel_role, timestamp, payload}.
type Event struct {
	ID          uuid.UUID `json:"id"`
	Kind        Kind      `json:"kind"`
	ChannelRole string    `json:"channel_role"`
	Timestamp   time.Time `json:"timestamp"`
	Payload     any       `json:"payload"`
}

// NewEvent creates an event stamped with a fresh ID and the current time.
func NewEvent(kind Kind, role string, payload any) Event {
	return NewEventAt(kind, role, payload, time.Now())
}

// NewEventAt creates an event with an explicit timestamp.
func NewEventAt(kind Kind, role string, payload any, ts time.Time) Event {
	return Event{
		ID:          uuid.New(),
		Kind:        kind,
		ChannelRole: role,
		Timestamp:   ts,
		Payload:     payload,
	}
}

// Cause records why a channel changed state.
type Cause string

// State change causes.
const (
	CausePoll           Cause = "poll"
	CauseManualOverride Cause = "manual_override"
)

// StateChange is the payload of KindStateChanged.
type StateChange struct {
	DeviceID string  `json:"device_id"`
	Channel  int     `json:"channel"`
	Old      float64 `json:"old"`
	New      float64 `json:"new"`
	Initial  bool    `json:"initial,omitempty"`
	Cause    Cause   `json:"cause"`
}

// HealthChange is the payload of KindDeviceHealthChanged. The event's
// ChannelRole carries the device ID.
type HealthChange struct {
	DeviceID string `json:"device_id"`
	Address  string `json:"address"`
	Old      string `json:"old"`
	New      string `json:"new"`
	Reason   string `json:"reason,omitempty"`
}

// AlarmChange is the payload of KindAlarmStateChanged.
type AlarmChange struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// ModeChange is the payload of KindModeChanged.
type ModeChange struct {
	From     string  `json:"from"`
	To       string  `json:"to"`
	Altitude float64 `json:"altitude"`
}

// LevelChange is the payload of KindLevelChanged. The event's ChannelRole
// carries the level name.
type LevelChange struct {
	Name    string  `json:"name"`
	Percent float64 `json:"percent"`
	Active  int     `json:"active"`
	Total   int     `json:"total"`
}

// ActuationResult is the payload of KindActuationFailed and
// KindActuationCompleted.
type ActuationResult struct {
	CommandID string  `json:"command_id"`
	DeviceID  string  `json:"device_id"`
	Value     float64 `json:"value"`
	Origin    string  `json:"origin"`
	Reason    string  `json:"reason"`
	Attempts  int     `json:"attempts"`
	Error     string  `json:"error,omitempty"`
	ErrorKind string  `json:"error_kind,omitempty"`
}

// Overflow is the payload of KindOverflow.
type Overflow struct {
	Subscriber  string `json:"subscriber"`
	DroppedKind Kind   `json:"dropped_kind"`
	Dropped     uint64 `json:"dropped_total"`
}

// ArmCommand is the payload of KindArmAlarm.
type ArmCommand struct {
	Source string `json:"source"`
}

// DisarmCommand is the payload of KindDisarmAlarm.
type DisarmCommand struct {
	Credential string `json:"credential"`
	Source     string `json:"source"`
}

// OverrideCommand is the payload of KindManualOverride. The event's
// ChannelRole names the target output.
type OverrideCommand struct {
	Value  float64 `json:"value"`
	Source string  `json:"source"`
}

// TagScan is the payload of KindTagScanned.
type TagScan struct {
	TagID    string `json:"tag_id"`
	ReaderID string `json:"reader_id"`
}
