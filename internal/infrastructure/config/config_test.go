package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/wirehome/internal/bus"
	"github.com/nerrad567/wirehome/internal/device"
)

const validConfig = `
site:
  id: "test-home"
  location:
    latitude: 51.5072
    longitude: -0.1275
bus:
  backend: memory
segments:
  - name: fast
    interval: 500ms
  - name: climate
    interval: 60s
devices:
  - id: hall-io
    segment: fast
    address: 3a-000000000001
    channels:
      - {index: 0, role: hallway-pir, tags: [pir]}
      - {index: 1, role: front-door, debounce: 3}
  - id: relays
    segment: fast
    address: 29-000000000002
    board: relay
    channels:
      - {index: 0, role: hallway-light, direction: output}
      - {index: 7, role: siren, direction: output}
  - id: bath
    segment: climate
    address: 26-000000000003
    channels:
      - {index: 0, role: bathroom-humidity}
automation:
  alarm:
    entry_delay: 45s
    protected: [hallway-pir, front-door]
    sirens: [siren]
    strike: strobe
  lighting:
    - name: hall
      triggers: [hallway-pir]
      outputs: [hallway-light]
  climate:
    - {name: bath, sensor: bathroom-humidity, fan: hallway-light, on_above: 70, off_below: 65}
  gate:
    strike: gate-strike
    sensor: gate-handle
    window: 8s
  tag_links:
    - {name: shed, tags: [tag-shed], outputs: [shed-light], hold: 5m}
  levels:
    - {name: cesspool, sensors: [cess-1, cess-2, cess-3]}
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "localhost"
    port: 1883
  qos: 1
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-home" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-home")
	}
	if cfg.Bus.Backend != BackendMemory {
		t.Errorf("Bus.Backend = %q, want memory", cfg.Bus.Backend)
	}
	if cfg.Segments[0].Interval != 500*time.Millisecond {
		t.Errorf("Segments[0].Interval = %v, want 500ms", cfg.Segments[0].Interval)
	}
	if cfg.Automation.Alarm.EntryDelay != 45*time.Second {
		t.Errorf("Alarm.EntryDelay = %v, want 45s", cfg.Automation.Alarm.EntryDelay)
	}
	// Unset values keep their defaults.
	if cfg.Bus.MaxAttempts != 3 {
		t.Errorf("Bus.MaxAttempts = %d, want default 3", cfg.Bus.MaxAttempts)
	}
	if cfg.Automation.NightThreshold != -6 {
		t.Errorf("NightThreshold = %v, want -6", cfg.Automation.NightThreshold)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_SegmentIntervalDefaults(t *testing.T) {
	const content = `
site: {id: home}
bus: {backend: memory}
segments:
  - {name: temperature}
  - {name: humidity}
  - {name: fast, interval: 250ms}
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []time.Duration{300 * time.Second, 60 * time.Second, 250 * time.Millisecond}
	for i, w := range want {
		if got := cfg.Segments[i].Interval; got != w {
			t.Errorf("Segments[%d].Interval = %v, want %v", i, got, w)
		}
	}

	if _, err := Load(writeConfig(t, "site: {id: home}\nsegments:\n  - {name: fast}\n")); err == nil {
		t.Error("Load() expected error for segment without interval")
	}
}

func TestConfig_DeviceList(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	devs, err := cfg.DeviceList()
	if err != nil {
		t.Fatalf("DeviceList() error = %v", err)
	}
	if len(devs) != 3 {
		t.Fatalf("DeviceList() = %d devices, want 3", len(devs))
	}

	hall := devs[0]
	if hall.Board != bus.BoardDigitalIO {
		t.Errorf("hall-io board = %v, want digital-io from family", hall.Board)
	}
	if hall.Channels[0].Direction != device.DirectionInput || hall.Channels[0].Class != device.ClassDigital {
		t.Errorf("hall-io channel 0 = %+v, want digital input defaults", hall.Channels[0])
	}
	if hall.Channels[1].Debounce != 3 {
		t.Errorf("front-door debounce = %d, want 3", hall.Channels[1].Debounce)
	}
	if got := devs[2].Channels[0].Class; got != device.ClassAnalog {
		t.Errorf("humidity channel class = %v, want analog", got)
	}
	if devs[1].Address.Family != bus.FamilyDS2408 || devs[1].Address.Serial != 2 {
		t.Errorf("relays address = %v", devs[1].Address)
	}
}

func TestConfig_Settings(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	pc := cfg.PollerSettings()
	if len(pc.Segments) != 2 || pc.Segments[1].Interval != time.Minute {
		t.Errorf("PollerSettings().Segments = %+v", pc.Segments)
	}
	if pc.Debounce[device.ClassAnalog].K != 3 {
		t.Errorf("analog K = %d, want 3", pc.Debounce[device.ClassAnalog].K)
	}

	ec := cfg.EngineSettings()
	if ec.Location.Latitude != 51.5072 || len(ec.Lighting) != 1 || ec.Climate[0].OnAbove != 70 {
		t.Errorf("EngineSettings() = %+v", ec)
	}
	if ec.Alarm.Strike != "strobe" {
		t.Errorf("Alarm.Strike = %q, want strobe", ec.Alarm.Strike)
	}
	if ec.Gate.Sensor != "gate-handle" || ec.Gate.Window != 8*time.Second {
		t.Errorf("Gate = %+v, want sensor gate-handle with 8s window", ec.Gate)
	}
	if len(ec.TagLinks) != 1 || ec.TagLinks[0].Hold != 5*time.Minute || ec.TagLinks[0].Outputs[0] != "shed-light" {
		t.Errorf("TagLinks = %+v", ec.TagLinks)
	}
	if len(ec.Levels) != 1 || len(ec.Levels[0].Sensors) != 3 {
		t.Errorf("Levels = %+v", ec.Levels)
	}

	if bc := cfg.BusSettings(); bc.TransactionTimeout != 2*time.Second {
		t.Errorf("BusSettings().TransactionTimeout = %v, want 2s", bc.TransactionTimeout)
	}
	if dc := cfg.DispatchSettings(); dc.VerifyRetries != 1 || dc.QueueSize != 32 {
		t.Errorf("DispatchSettings() = %+v", dc)
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "jwt secret", mutate: func(c *Config) { c.API.JWTSecret = validJWTSecret }},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: "site.id"},
		{name: "bad latitude", mutate: func(c *Config) { c.Site.Location.Latitude = 91 }, wantErr: "latitude"},
		{name: "bad backend", mutate: func(c *Config) { c.Bus.Backend = "serial" }, wantErr: "bus.backend"},
		{name: "zero attempts", mutate: func(c *Config) { c.Bus.MaxAttempts = 0 }, wantErr: "max_attempts"},
		{name: "duplicate segment", mutate: func(c *Config) {
			c.Segments = []SegmentConfig{{Name: "a", Interval: time.Second}, {Name: "a", Interval: time.Second}}
		}, wantErr: "duplicated"},
		{name: "zero interval", mutate: func(c *Config) {
			c.Segments = []SegmentConfig{{Name: "a"}}
		}, wantErr: "interval"},
		{name: "unknown segment", mutate: func(c *Config) {
			c.Devices = []DeviceConfig{{ID: "x", Segment: "nowhere", Address: "28-000000000001",
				Channels: []ChannelConfig{{Role: "t"}}}}
		}, wantErr: "unknown segment"},
		{name: "bad address", mutate: func(c *Config) {
			c.Segments = []SegmentConfig{{Name: "a", Interval: time.Second}}
			c.Devices = []DeviceConfig{{ID: "x", Segment: "a", Address: "zz"}}
		}, wantErr: "devices[0]"},
		{name: "output on sensor", mutate: func(c *Config) {
			c.Segments = []SegmentConfig{{Name: "a", Interval: time.Second}}
			c.Devices = []DeviceConfig{{ID: "x", Segment: "a", Address: "28-000000000001",
				Channels: []ChannelConfig{{Role: "t", Direction: "output"}}}}
		}, wantErr: "output channel"},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "invalid port", mutate: func(c *Config) { c.API.Enabled = true; c.API.Port = 70000 }, wantErr: "api.port"},
		{name: "JWT secret too short", mutate: func(c *Config) { c.API.JWTSecret = "short" }, wantErr: "jwt_secret"},
		{name: "influx without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: "influxdb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestAPITimeoutConfig_Durations(t *testing.T) {
	tc := APITimeoutConfig{Read: 30, Write: 45, Idle: 60}

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"ReadTimeout", tc.ReadTimeout(), 30 * time.Second},
		{"WriteTimeout", tc.WriteTimeout(), 45 * time.Second},
		{"IdleTimeout", tc.IdleTimeout(), time.Minute},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s() = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("WIREHOME_BUS_BACKEND", "memory")
	t.Setenv("WIREHOME_DATABASE_PATH", "/custom/path.db")
	t.Setenv("WIREHOME_MQTT_HOST", "mqtt.example.com")
	t.Setenv("WIREHOME_MQTT_USERNAME", "testuser")
	t.Setenv("WIREHOME_MQTT_PASSWORD", "testpass")
	t.Setenv("WIREHOME_API_HOST", "192.168.1.1")
	t.Setenv("WIREHOME_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("WIREHOME_JWT_SECRET", "jwt-secret")
	t.Setenv("WIREHOME_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	tests := []struct {
		field, got, want string
	}{
		{"Bus.Backend", cfg.Bus.Backend, "memory"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"API.JWTSecret", cfg.API.JWTSecret, "jwt-secret"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.field, tt.got, tt.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}
	if cfg.Dispatch.ShutdownGrace != 5*time.Second {
		t.Errorf("defaultConfig Dispatch.ShutdownGrace = %v, want 5s", cfg.Dispatch.ShutdownGrace)
	}
	if cfg.Debounce.Digital.K != 2 || cfg.Debounce.Analog.K != 3 {
		t.Errorf("defaultConfig debounce = %+v, want digital 2 analog 3", cfg.Debounce)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig Validate() error = %v", err)
	}
}
