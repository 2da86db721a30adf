package automation

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/wirehome/internal/device"
	"github.com/nerrad567/wirehome/internal/solar"
)

// Default rule settings.
const (
	DefaultNightThreshold = solar.AltitudeCivil
	DefaultSolarInterval  = time.Minute
	DefaultTickInterval   = time.Second
	DefaultEntryDelay     = 30 * time.Second
	DefaultPIRHold        = 120 * time.Second
	DefaultSwitchHold     = time.Hour
	DefaultOverrideHold   = 15 * time.Minute
	DefaultMinToggle      = time.Second
	DefaultGateOpen       = 5 * time.Second
	DefaultGateWindow     = 10 * time.Second
	DefaultEntryLightHold = 10 * time.Minute
)

// Channel tags interpreted by the rules.
const (
	TagPIR            = "pir"
	TagNightExclude   = "night_exclude"
	TagBedroomEnable  = "bedroom_enable"
	TagBedroomDisable = "bedroom_disable"

	// TagInvertState marks a digital input that reads 0 when active.
	TagInvertState = "invert_state"

	// TagAllChanges makes both edges of a digital input count as activity.
	TagAllChanges = "all_changes"
)

// Command origins, used to cancel queued commands per concern.
const (
	OriginAlarm    = "alarm"
	OriginLighting = "lighting"
	OriginClimate  = "climate"
	OriginGate     = "gate"
	OriginOverride = "override"
)

// Lighting rule sources.
const (
	SourcePIR    = "pir"
	SourceSwitch = "switch"
)

// AlarmConfig configures the alarm state machine.
type AlarmConfig struct {
	EntryDelay time.Duration

	// Protected are the input roles whose motion triggers the alarm.
	Protected []string

	// Sirens are the output roles switched on when triggered.
	Sirens []string

	// Strike is an optional output held on with the sirens, such as a
	// strobe or an external bell strike.
	Strike string
}

// outputs returns every role driven by the alarm.
func (a AlarmConfig) outputs() []string {
	if a.Strike == "" {
		return a.Sirens
	}
	return append(slices.Clip(a.Sirens), a.Strike)
}

// LightingRule switches outputs on motion or switch presses.
type LightingRule struct {
	Name     string
	Triggers []string
	Outputs  []string

	// Source is SourcePIR (default) or SourceSwitch.
	Source string

	// Hold is the no-motion time before lights go off. Zero selects the
	// source default.
	Hold time.Duration

	// ModeIndependent rules fire by day as well as by night.
	ModeIndependent bool

	// AllNight outputs are switched on at night and off at day.
	AllNight bool
}

// ClimateRule drives a fan from a humidity or temperature reading.
type ClimateRule struct {
	Name     string
	Sensor   string
	Fan      string
	OnAbove  float64
	OffBelow float64
}

// GateConfig configures the RFID wicket gate.
//
// Without a Sensor a valid tag opens the strike at once. With a Sensor the
// tag only opens a window of length Window; the strike opens when the
// sensor (typically a handle or push switch) becomes active inside it.
type GateConfig struct {
	Strike      string
	OpenFor     time.Duration
	EntryLights []string
	LightHold   time.Duration

	Sensor string
	Window time.Duration
}

// TagLink switches outputs on when one of its tags is scanned while the
// alarm is disarmed. A linked tag does not open the gate.
type TagLink struct {
	Name    string
	Tags    []string
	Outputs []string

	// Hold is how long the outputs stay on. Zero selects DefaultPIRHold.
	Hold time.Duration
}

// LevelRule derives a fill percentage from a ladder of digital sensors,
// such as float switches in a tank. The level is published once every
// sensor has been read.
type LevelRule struct {
	Name    string
	Sensors []string
}

// Config holds the rule engine settings.
type Config struct {
	Location       solar.Location
	NightThreshold float64
	SolarInterval  time.Duration
	TickInterval   time.Duration

	Alarm    AlarmConfig
	Lighting []LightingRule
	Climate  []ClimateRule
	Gate     GateConfig
	TagLinks []TagLink
	Levels   []LevelRule

	OverrideHold time.Duration
	MinToggle    time.Duration
}

func (c Config) withDefaults() Config {
	if c.SolarInterval <= 0 {
		c.SolarInterval = DefaultSolarInterval
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.Alarm.EntryDelay < 0 {
		c.Alarm.EntryDelay = 0
	}
	if c.OverrideHold <= 0 {
		c.OverrideHold = DefaultOverrideHold
	}
	if c.MinToggle < 0 {
		c.MinToggle = 0
	}
	if c.Gate.OpenFor <= 0 {
		c.Gate.OpenFor = DefaultGateOpen
	}
	if c.Gate.LightHold <= 0 {
		c.Gate.LightHold = DefaultEntryLightHold
	}
	if c.Gate.Window <= 0 {
		c.Gate.Window = DefaultGateWindow
	}
	links := make([]TagLink, len(c.TagLinks))
	for i, l := range c.TagLinks {
		if l.Hold <= 0 {
			l.Hold = DefaultPIRHold
		}
		links[i] = l
	}
	c.TagLinks = links
	rules := make([]LightingRule, len(c.Lighting))
	for i, r := range c.Lighting {
		if r.Source == "" {
			r.Source = SourcePIR
		}
		if r.Hold <= 0 {
			r.Hold = DefaultPIRHold
			if r.Source == SourceSwitch {
				r.Hold = DefaultSwitchHold
			}
		}
		rules[i] = r
	}
	c.Lighting = rules
	return c
}

// RoleLookup resolves roles. *device.Registry implements it.
type RoleLookup interface {
	LookupByRole(role string) (device.ChannelRef, error)
}

// Validate checks that every role named by the rules exists with the
// right direction.
func (c Config) Validate(roles RoleLookup) error {
	var errs []error
	check := func(ctx, role string, dir device.Direction) {
		ref, err := roles.LookupByRole(role)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ctx, err))
			return
		}
		if ref.Channel.Direction != dir {
			errs = append(errs, fmt.Errorf("%s: role %q is not an %s", ctx, role, dir))
		}
	}

	for _, r := range c.Alarm.Protected {
		check("alarm.protected", r, device.DirectionInput)
	}
	for _, r := range c.Alarm.Sirens {
		check("alarm.sirens", r, device.DirectionOutput)
	}
	if c.Alarm.Strike != "" {
		check("alarm.strike", c.Alarm.Strike, device.DirectionOutput)
	}
	for _, rule := range c.Lighting {
		ctx := "lighting " + rule.Name
		if rule.Source != "" && rule.Source != SourcePIR && rule.Source != SourceSwitch {
			errs = append(errs, fmt.Errorf("%s: unknown source %q", ctx, rule.Source))
		}
		if len(rule.Outputs) == 0 {
			errs = append(errs, fmt.Errorf("%s: no outputs", ctx))
		}
		for _, r := range rule.Triggers {
			check(ctx, r, device.DirectionInput)
		}
		for _, r := range rule.Outputs {
			check(ctx, r, device.DirectionOutput)
		}
	}
	for _, rule := range c.Climate {
		ctx := "climate " + rule.Name
		if rule.OffBelow >= rule.OnAbove {
			errs = append(errs, fmt.Errorf("%s: off_below %v must be below on_above %v", ctx, rule.OffBelow, rule.OnAbove))
		}
		check(ctx, rule.Sensor, device.DirectionInput)
		check(ctx, rule.Fan, device.DirectionOutput)
	}
	if c.Gate.Strike != "" {
		check("gate", c.Gate.Strike, device.DirectionOutput)
		for _, r := range c.Gate.EntryLights {
			check("gate", r, device.DirectionOutput)
		}
	}
	if c.Gate.Sensor != "" {
		if c.Gate.Strike == "" {
			errs = append(errs, errors.New("gate: sensor set without a strike"))
		}
		check("gate", c.Gate.Sensor, device.DirectionInput)
	}
	for _, l := range c.TagLinks {
		ctx := "tag link " + l.Name
		if len(l.Tags) == 0 || len(l.Outputs) == 0 {
			errs = append(errs, fmt.Errorf("%s: needs tags and outputs", ctx))
		}
		for _, r := range l.Outputs {
			check(ctx, r, device.DirectionOutput)
		}
	}
	levels := make(map[string]bool, len(c.Levels))
	for _, l := range c.Levels {
		ctx := "level " + l.Name
		if l.Name == "" || levels[l.Name] {
			errs = append(errs, fmt.Errorf("%s: name missing or duplicated", ctx))
		}
		levels[l.Name] = true
		if len(l.Sensors) == 0 {
			errs = append(errs, fmt.Errorf("%s: no sensors", ctx))
		}
		for _, r := range l.Sensors {
			check(ctx, r, device.DirectionInput)
		}
	}
	if !c.Location.Valid() {
		errs = append(errs, fmt.Errorf("location %+v out of range", c.Location))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
