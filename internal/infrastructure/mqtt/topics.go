package mqtt

import "strings"

// DefaultTopicPrefix is the root of every wirehome topic.
const DefaultTopicPrefix = "wirehome"

// Topics builds wirehome MQTT topic names under a configurable root.
//
// Outbound (published by the daemon):
//
//	{prefix}/status                      online/offline, retained, LWT
//	{prefix}/event/{kind}/{role}         every core event, JSON envelope
//	{prefix}/state/{role}                last accepted channel value, retained
//	{prefix}/alarm                       alarm state, retained
//	{prefix}/mode                        day/night, retained
//	{prefix}/health/{device}             device bus health, retained
//	{prefix}/level/{name}                level percentage, retained
//
// Inbound (remote control and RFID readers):
//
//	{prefix}/command/arm
//	{prefix}/command/disarm
//	{prefix}/command/override/{role}
//	{prefix}/rfid/{reader}
//
// The zero value uses DefaultTopicPrefix.
type Topics struct {
	Prefix string
}

func (t Topics) join(parts ...string) string {
	p := t.Prefix
	if p == "" {
		p = DefaultTopicPrefix
	}
	return strings.Join(append([]string{strings.TrimSuffix(p, "/")}, parts...), "/")
}

// Status returns the daemon status topic (LWT target).
func (t Topics) Status() string { return t.join("status") }

// Event returns the topic for one event of a kind on a role.
//
// Example: wirehome/event/state_changed/hallway-pir
func (t Topics) Event(kind, role string) string { return t.join("event", kind, role) }

// State returns the retained channel state topic.
func (t Topics) State(role string) string { return t.join("state", role) }

// Alarm returns the retained alarm state topic.
func (t Topics) Alarm() string { return t.join("alarm") }

// Mode returns the retained lighting mode topic.
func (t Topics) Mode() string { return t.join("mode") }

// Health returns the retained device health topic.
func (t Topics) Health(deviceID string) string { return t.join("health", deviceID) }

// Level returns the retained level percentage topic.
func (t Topics) Level(name string) string { return t.join("level", name) }

// Arm returns the arm command topic.
func (t Topics) Arm() string { return t.join("command", "arm") }

// Disarm returns the disarm command topic.
func (t Topics) Disarm() string { return t.join("command", "disarm") }

// Override returns the manual override topic for an output role.
func (t Topics) Override(role string) string { return t.join("command", "override", role) }

// TagScan returns the topic an RFID reader publishes scans on.
func (t Topics) TagScan(readerID string) string { return t.join("rfid", readerID) }

// AllCommands matches every inbound command topic.
//
// Pattern: wirehome/command/#
func (t Topics) AllCommands() string { return t.join("command", "#") }

// AllTagScans matches every RFID reader.
//
// Pattern: wirehome/rfid/+
func (t Topics) AllTagScans() string { return t.join("rfid", "+") }

// AllEvents matches every outbound event.
//
// Pattern: wirehome/event/#
func (t Topics) AllEvents() string { return t.join("event", "#") }

// Tail returns the topic levels after the prefix, or nil when topic is
// not under it.
//
// Example: Tail("wirehome/command/override/porch") = [command override porch]
func (t Topics) Tail(topic string) []string {
	root := t.join() + "/"
	rest, ok := strings.CutPrefix(topic, root)
	if !ok || rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
