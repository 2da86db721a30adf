// Package exporter mirrors core events into the InfluxDB time-series store.
//
// Readings are exported only for channels tagged "monitor"; output
// switching, actuation outcomes, levels and device health are always
// exported.
package exporter

import (
	"context"
	"time"

	"github.com/nerrad567/wirehome/internal/device"
	"github.com/nerrad567/wirehome/internal/eventbus"
)

// TagMonitor marks an input channel whose readings are exported.
const TagMonitor = "monitor"

// Kinds are the event kinds the exporter consumes.
var Kinds = []eventbus.Kind{
	eventbus.KindStateChanged,
	eventbus.KindDeviceHealthChanged,
	eventbus.KindActuationCompleted,
	eventbus.KindActuationFailed,
	eventbus.KindLevelChanged,
}

// Writer receives points. *influxdb.Client implements it.
type Writer interface {
	WriteReading(deviceID, role string, value float64, ts time.Time)
	WriteOutput(deviceID, role string, on bool, origin string, ts time.Time)
	WriteHealth(deviceID, status string, ts time.Time)
	WriteActuation(deviceID, role, outcome string, attempts int, ts time.Time)
	WriteLevel(name string, percent float64, ts time.Time)
}

// Roles resolves channel roles to their configuration.
type Roles interface {
	LookupByRole(role string) (device.ChannelRef, error)
}

// Exporter converts events into points.
type Exporter struct {
	w     Writer
	roles Roles
}

// New creates an exporter.
func New(w Writer, roles Roles) *Exporter {
	return &Exporter{w: w, roles: roles}
}

// Run exports events from sub until ctx ends.
func (e *Exporter) Run(ctx context.Context, sub *eventbus.Subscription) {
	defer sub.Close()
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		e.Export(ev)
	}
}

// Export writes the points for one event.
func (e *Exporter) Export(ev eventbus.Event) {
	switch p := ev.Payload.(type) {
	case eventbus.StateChange:
		// Override state changes are echoed by ActuationCompleted.
		if p.Cause != eventbus.CausePoll || !e.monitored(ev.ChannelRole) {
			return
		}
		e.w.WriteReading(p.DeviceID, ev.ChannelRole, p.New, ev.Timestamp)

	case eventbus.HealthChange:
		e.w.WriteHealth(p.DeviceID, p.New, ev.Timestamp)

	case eventbus.ActuationResult:
		outcome := "ok"
		if ev.Kind == eventbus.KindActuationFailed {
			outcome = p.ErrorKind
			if outcome == "" {
				outcome = "error"
			}
		} else {
			e.w.WriteOutput(p.DeviceID, ev.ChannelRole, p.Value != 0, p.Origin, ev.Timestamp)
		}
		e.w.WriteActuation(p.DeviceID, ev.ChannelRole, outcome, p.Attempts, ev.Timestamp)

	case eventbus.LevelChange:
		e.w.WriteLevel(p.Name, p.Percent, ev.Timestamp)
	}
}

func (e *Exporter) monitored(role string) bool {
	ref, err := e.roles.LookupByRole(role)
	return err == nil && ref.Channel.HasTag(TagMonitor)
}
