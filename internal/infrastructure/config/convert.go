package config

import (
	"fmt"

	"github.com/nerrad567/wirehome/internal/automation"
	"github.com/nerrad567/wirehome/internal/bus"
	"github.com/nerrad567/wirehome/internal/device"
	"github.com/nerrad567/wirehome/internal/dispatch"
	"github.com/nerrad567/wirehome/internal/poller"
	"github.com/nerrad567/wirehome/internal/solar"
)

// DeviceList converts the device section into registry devices.
func (c *Config) DeviceList() ([]device.Device, error) {
	out := make([]device.Device, 0, len(c.Devices))
	for i, d := range c.Devices {
		dev, err := d.toDevice()
		if err != nil {
			return nil, fmt.Errorf("devices[%d]: %w", i, err)
		}
		out = append(out, dev)
	}
	return out, nil
}

func (d DeviceConfig) toDevice() (device.Device, error) {
	addr, err := bus.ParseAddress(d.Address)
	if err != nil {
		return device.Device{}, fmt.Errorf("%s: %w", d.ID, err)
	}

	// The board may be omitted; the family code implies it.
	board := bus.BoardTypeOf(addr.Family)
	if d.Board != "" {
		if board, err = bus.ParseBoardType(d.Board); err != nil {
			return device.Device{}, fmt.Errorf("%s: %w", d.ID, err)
		}
	}

	defaultClass := device.ClassDigital
	if board == bus.BoardTemperature || board == bus.BoardHumidity {
		defaultClass = device.ClassAnalog
	}

	dev := device.Device{
		ID:      d.ID,
		Segment: d.Segment,
		Address: addr,
		Board:   board,
		Tags:    d.Tags,
		Health:  device.HealthHealthy,
	}
	for _, ch := range d.Channels {
		c := device.Channel{
			Index:     ch.Index,
			Role:      ch.Role,
			Direction: device.Direction(ch.Direction),
			Class:     device.Class(ch.Class),
			Debounce:  ch.Debounce,
			Tags:      ch.Tags,
		}
		if c.Direction == "" {
			c.Direction = device.DirectionInput
		}
		if c.Class == "" {
			c.Class = defaultClass
		}
		dev.Channels = append(dev.Channels, c)
	}

	if err := dev.Validate(); err != nil {
		return device.Device{}, err
	}
	return dev, nil
}

// BusSettings returns the driver retry settings.
func (c *Config) BusSettings() bus.Config {
	return bus.Config{
		MaxAttempts:        c.Bus.MaxAttempts,
		InitialBackoff:     c.Bus.InitialBackoff,
		MaxBackoff:         c.Bus.MaxBackoff,
		TransactionTimeout: c.Bus.TransactionTimeout,
	}
}

// PollerSettings returns the poller schedule and debounce defaults.
func (c *Config) PollerSettings() poller.Config {
	cfg := poller.Config{
		Debounce: map[device.Class]poller.ClassDebounce{
			device.ClassDigital: {K: c.Debounce.Digital.K, Resolution: c.Debounce.Digital.Resolution},
			device.ClassAnalog:  {K: c.Debounce.Analog.K, Resolution: c.Debounce.Analog.Resolution},
		},
		DegradedProbeStart: c.Poller.DegradedProbeInitial,
		DegradedProbeMax:   c.Poller.DegradedProbeMax,
	}
	for _, s := range c.Segments {
		cfg.Segments = append(cfg.Segments, poller.Segment{Name: s.Name, Interval: s.Interval})
	}
	return cfg
}

// EngineSettings returns the rule engine configuration.
func (c *Config) EngineSettings() automation.Config {
	a := c.Automation
	cfg := automation.Config{
		Location: solar.Location{
			Latitude:  c.Site.Location.Latitude,
			Longitude: c.Site.Location.Longitude,
		},
		NightThreshold: a.NightThreshold,
		SolarInterval:  a.SolarInterval,
		TickInterval:   a.TickInterval,
		Alarm: automation.AlarmConfig{
			EntryDelay: a.Alarm.EntryDelay,
			Protected:  a.Alarm.Protected,
			Sirens:     a.Alarm.Sirens,
			Strike:     a.Alarm.Strike,
		},
		Gate: automation.GateConfig{
			Strike:      a.Gate.Strike,
			OpenFor:     a.Gate.OpenFor,
			EntryLights: a.Gate.EntryLights,
			LightHold:   a.Gate.LightHold,
			Sensor:      a.Gate.Sensor,
			Window:      a.Gate.Window,
		},
		OverrideHold: a.OverrideHold,
		MinToggle:    a.MinToggle,
	}
	for _, r := range a.Lighting {
		cfg.Lighting = append(cfg.Lighting, automation.LightingRule{
			Name:            r.Name,
			Triggers:        r.Triggers,
			Outputs:         r.Outputs,
			Source:          r.Source,
			Hold:            r.Hold,
			ModeIndependent: r.ModeIndependent,
			AllNight:        r.AllNight,
		})
	}
	for _, r := range a.Climate {
		cfg.Climate = append(cfg.Climate, automation.ClimateRule(r))
	}
	for _, l := range a.TagLinks {
		cfg.TagLinks = append(cfg.TagLinks, automation.TagLink(l))
	}
	for _, l := range a.Levels {
		cfg.Levels = append(cfg.Levels, automation.LevelRule(l))
	}
	return cfg
}

// DispatchSettings returns the dispatcher configuration.
func (c *Config) DispatchSettings() dispatch.Config {
	return dispatch.Config{
		QueueSize:       c.Dispatch.QueueSize,
		VerifyRetries:   c.Dispatch.VerifyRetries,
		BreakerFailures: c.Dispatch.Breaker.Failures,
		BreakerTimeout:  c.Dispatch.Breaker.Timeout,
	}
}
