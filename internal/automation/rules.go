package automation

import (
	"context"
	"slices"
	"time"

	"github.com/nerrad567/wirehome/internal/device"
	"github.com/nerrad567/wirehome/internal/eventbus"
)

func (e *Engine) isProtected(role string) bool {
	return slices.Contains(e.cfg.Alarm.Protected, role)
}

// onAlarmMotion feeds motion on a protected role to the alarm, unless the
// entry delay is still running.
func (e *Engine) onAlarmMotion(role string, now time.Time) {
	if e.state.InEntryDelay(now) {
		e.logger.Debug("motion ignored during entry delay", "role", role,
			"remaining", e.state.EntryDeadline.Sub(now).String())
		return
	}
	e.alarmInput(InputMotion, "motion on "+role, now)
}

// alarmInput applies one alarm transition and its actions.
func (e *Engine) alarmInput(in AlarmInput, reason string, now time.Time) {
	st := e.state
	from := st.Alarm
	t := alarmStep(from, in)

	switch t.action {
	case actionStartEntry:
		st.ArmedAt = now
		st.EntryDeadline = now.Add(e.cfg.Alarm.EntryDelay)
	case actionSound:
		for _, role := range e.cfg.Alarm.outputs() {
			e.forceOutput(role, 1, OriginAlarm, reason, now)
		}
	case actionSilence:
		if n := e.dispatcher.CancelPending(OriginAlarm); n > 0 {
			e.logger.Info("pending alarm commands cancelled", "count", n)
		}
		if from == AlarmTriggered {
			for _, role := range e.cfg.Alarm.outputs() {
				e.forceOutput(role, 0, OriginAlarm, reason, now)
			}
		}
		st.ArmedAt, st.EntryDeadline = time.Time{}, time.Time{}
	}

	if in == InputInvalidCredential {
		e.logger.Warn("invalid disarm credential", "alarm", string(from), "reason", reason)
	}
	if t.next == from {
		return
	}
	st.Alarm = t.next

	e.logger.Info("alarm state changed", "from", string(from), "to", string(t.next), "reason", reason)
	e.bus.Publish(eventbus.NewEventAt(eventbus.KindAlarmStateChanged, eventbus.RoleAlarm, eventbus.AlarmChange{
		From:   string(from),
		To:     string(t.next),
		Reason: reason,
	}, now))
}

// onTag handles an RFID scan: disarm when armed. Otherwise a linked tag
// switches its outputs and any other tag opens the gate.
func (e *Engine) onTag(ctx context.Context, scan eventbus.TagScan, now time.Time) {
	valid, err := e.creds.Verify(ctx, scan.TagID)
	if err != nil {
		e.logger.Error("tag check failed", "reader_id", scan.ReaderID, "error", err)
		return
	}
	if !valid {
		e.alarmInput(InputInvalidCredential, "unknown tag at "+sourceOr(scan.ReaderID), now)
		return
	}
	if e.state.Alarm != AlarmDisarmed {
		e.alarmInput(InputDisarm, "tag at "+sourceOr(scan.ReaderID), now)
		return
	}
	if e.onTagLinks(scan, now) {
		return
	}

	g := e.cfg.Gate
	switch {
	case g.Strike == "":
		e.logger.Debug("valid tag with no gate configured", "reader_id", scan.ReaderID)
	case g.Sensor == "":
		e.openGate("tag at "+sourceOr(scan.ReaderID), now)
	default:
		e.state.GateWindowUntil = now.Add(g.Window)
		e.logger.Info("gate window opened", "reader_id", scan.ReaderID, "window", g.Window.String())
		e.entryLights(now)
	}
}

// onTagLinks applies the links naming the scanned tag and reports whether
// any matched.
func (e *Engine) onTagLinks(scan eventbus.TagScan, now time.Time) bool {
	matched := false
	for _, l := range e.cfg.TagLinks {
		if !slices.Contains(l.Tags, scan.TagID) {
			continue
		}
		matched = true
		until := now.Add(l.Hold)
		for _, role := range l.Outputs {
			e.lightOn(role, until, OriginGate, l.Name+": tag at "+sourceOr(scan.ReaderID), now)
		}
	}
	return matched
}

// onGateSensor opens the strike when the gate sensor becomes active inside
// a tag window. It reports whether the edge was consumed.
func (e *Engine) onGateSensor(role string, now time.Time) bool {
	st := e.state
	if role != e.cfg.Gate.Sensor || st.GateWindowUntil.IsZero() {
		return false
	}
	open := now.Before(st.GateWindowUntil)
	st.GateWindowUntil = time.Time{}
	if !open {
		return false
	}
	e.openGate("gate sensor "+role, now)
	return true
}

func (e *Engine) openGate(reason string, now time.Time) {
	e.forceOutput(e.cfg.Gate.Strike, 1, OriginGate, reason, now)
	e.state.GateCloseAt = now.Add(e.cfg.Gate.OpenFor)
	e.entryLights(now)
}

// entryLights switches the gate entry lights on at night.
func (e *Engine) entryLights(now time.Time) {
	if e.state.Mode != ModeNight {
		return
	}
	g := e.cfg.Gate
	for _, role := range g.EntryLights {
		e.lightOn(role, now.Add(g.LightHold), OriginGate, "gate entry", now)
	}
}

// onLevel records a sensor of the level rules and publishes the level
// when it changes and every sensor of the rule is known.
func (e *Engine) onLevel(role string, active bool, now time.Time) {
	for _, rule := range e.cfg.Levels {
		if !slices.Contains(rule.Sensors, role) {
			continue
		}
		l, ok := e.state.levels[rule.Name]
		if !ok {
			l = &level{readings: make(map[string]bool, len(rule.Sensors))}
			e.state.levels[rule.Name] = l
		}
		l.readings[role] = active
		if len(l.readings) < len(rule.Sensors) {
			continue
		}

		n := 0
		for _, on := range l.readings {
			if on {
				n++
			}
		}
		pct := float64(n) * 100 / float64(len(rule.Sensors))
		if l.published && pct == l.percent {
			continue
		}
		l.percent, l.published = pct, true

		e.logger.Info("level changed", "level", rule.Name, "percent", pct)
		e.bus.Publish(eventbus.NewEventAt(eventbus.KindLevelChanged, rule.Name, eventbus.LevelChange{
			Name:    rule.Name,
			Percent: pct,
			Active:  n,
			Total:   len(rule.Sensors),
		}, now))
	}
}

// onMotion applies the lighting rules triggered by an input channel.
func (e *Engine) onMotion(ch device.Channel, now time.Time) {
	st := e.state
	if ch.HasTag(TagBedroomDisable) {
		st.BedroomLatched = false
	}
	night := st.Mode == ModeNight

	for _, rule := range e.cfg.Lighting {
		if rule.AllNight || !slices.Contains(rule.Triggers, ch.Role) {
			continue
		}
		if rule.Source == SourcePIR && !ch.HasTag(TagPIR) {
			continue
		}
		if !rule.ModeIndependent && !night {
			continue
		}
		if night && ch.HasTag(TagNightExclude) {
			continue
		}
		bedroom := night && ch.HasTag(TagBedroomEnable)
		if bedroom && st.BedroomLatched {
			e.logger.Debug("bedroom lighting latched", "role", ch.Role)
			continue
		}

		until := now.Add(rule.Hold)
		for _, out := range rule.Outputs {
			e.lightOn(out, until, OriginLighting, rule.Name+": "+ch.Role, now)
		}
		if bedroom {
			st.BedroomLatched = true
		}
	}
}

// lightOn switches an output on and extends its hold to until.
func (e *Engine) lightOn(role string, until time.Time, origin, reason string, now time.Time) {
	o := e.state.output(role)
	if o.overridden(now) {
		return
	}
	e.setOutput(role, 1, origin, reason, now)
	if until.After(o.holdUntil) {
		o.holdUntil = until
	}
}

// applyAllNight switches all_night outputs for the current mode.
func (e *Engine) applyAllNight(now time.Time) {
	night := e.state.Mode == ModeNight
	for _, rule := range e.cfg.Lighting {
		if !rule.AllNight {
			continue
		}
		for _, role := range rule.Outputs {
			o := e.state.output(role)
			o.allNight = night
			if o.overridden(now) {
				continue
			}
			if night {
				e.setOutput(role, 1, OriginLighting, rule.Name+": night", now)
			} else if o.holdUntil.IsZero() {
				e.setOutput(role, 0, OriginLighting, rule.Name+": day", now)
			}
		}
	}
}

// onReading applies climate hysteresis to sensor readings.
func (e *Engine) onReading(role string, v float64, now time.Time) {
	for _, rule := range e.cfg.Climate {
		if rule.Sensor != role {
			continue
		}
		f, ok := e.state.fans[rule.Name]
		if !ok {
			f = &fan{}
			e.state.fans[rule.Name] = f
		}

		var want bool
		switch {
		case !f.on && v > rule.OnAbove:
			want = true
		case f.on && v < rule.OffBelow:
			want = false
		default:
			continue
		}
		if e.state.output(rule.Fan).overridden(now) {
			continue
		}
		f.on = want
		e.logger.Info("climate rule switched fan", "rule", rule.Name, "fan", rule.Fan, "on", want, "reading", v)
		e.setOutput(rule.Fan, boolValue(want), OriginClimate, rule.Name, now)
	}
}

// override applies a manual override and suspends automation on the
// output for the override hold.
func (e *Engine) override(ref device.ChannelRef, cmd eventbus.OverrideCommand, now time.Time) {
	role := ref.Channel.Role
	if ref.Channel.Direction != device.DirectionOutput {
		e.logger.Warn("override ignored for input", "role", role)
		return
	}
	o := e.state.output(role)
	old := o.value

	e.forceOutput(role, cmd.Value, OriginOverride, "manual override by "+sourceOr(cmd.Source), now)
	o.overrideUntil = now.Add(e.cfg.OverrideHold)
	o.holdUntil = time.Time{}
	if cmd.Value != 0 && !o.allNight {
		o.holdUntil = o.overrideUntil
	}

	e.bus.Publish(eventbus.NewEventAt(eventbus.KindStateChanged, role, eventbus.StateChange{
		DeviceID: ref.DeviceID,
		Channel:  ref.Channel.Index,
		Old:      old,
		New:      cmd.Value,
		Cause:    eventbus.CauseManualOverride,
	}, now))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
