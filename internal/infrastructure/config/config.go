package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for wirehome.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Bus        BusConfig        `yaml:"bus"`
	Segments   []SegmentConfig  `yaml:"segments"`
	Debounce   DebounceConfig   `yaml:"debounce"`
	Poller     PollerConfig     `yaml:"poller"`
	Devices    []DeviceConfig   `yaml:"devices"`
	Automation AutomationConfig `yaml:"automation"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	EventBus   EventBusConfig   `yaml:"eventbus"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Timezone string         `yaml:"timezone"`
	Location LocationConfig `yaml:"location"`
}

// LocationConfig contains geographic coordinates for the solar calculation.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// Bus backends.
const (
	BackendSysfs  = "sysfs"
	BackendMemory = "memory"
)

// BusConfig contains one-wire transport and retry settings.
type BusConfig struct {
	// Backend is "sysfs" (Linux w1 driver) or "memory" (simulated bus).
	Backend            string        `yaml:"backend"`
	W1Root             string        `yaml:"w1_root"`
	MaxAttempts        int           `yaml:"max_attempts"`
	InitialBackoff     time.Duration `yaml:"initial_backoff"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
	TransactionTimeout time.Duration `yaml:"transaction_timeout"`
}

// SegmentConfig names a bus segment and its poll interval.
type SegmentConfig struct {
	Name     string        `yaml:"name"`
	Interval time.Duration `yaml:"interval"`
}

// DebounceConfig holds per-class debounce defaults.
type DebounceConfig struct {
	Digital ClassDebounceConfig `yaml:"digital"`
	Analog  ClassDebounceConfig `yaml:"analog"`
}

// ClassDebounceConfig holds the debounce settings of one channel class.
type ClassDebounceConfig struct {
	K          int     `yaml:"k"`
	Resolution float64 `yaml:"resolution"`
}

// PollerConfig contains the degraded-device probe schedule.
type PollerConfig struct {
	DegradedProbeInitial time.Duration `yaml:"degraded_probe_initial"`
	DegradedProbeMax     time.Duration `yaml:"degraded_probe_max"`
}

// DeviceConfig describes one board on the bus.
type DeviceConfig struct {
	ID       string          `yaml:"id"`
	Segment  string          `yaml:"segment"`
	Address  string          `yaml:"address"`
	Board    string          `yaml:"board"`
	Tags     []string        `yaml:"tags"`
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig describes one channel of a board.
type ChannelConfig struct {
	Index     int      `yaml:"index"`
	Role      string   `yaml:"role"`
	Direction string   `yaml:"direction"`
	Class     string   `yaml:"class"`
	Debounce  int      `yaml:"debounce"`
	Tags      []string `yaml:"tags"`
}

// AutomationConfig contains the rule engine settings.
type AutomationConfig struct {
	NightThreshold float64       `yaml:"night_threshold"`
	SolarInterval  time.Duration `yaml:"solar_interval"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	OverrideHold   time.Duration `yaml:"override_hold"`
	MinToggle      time.Duration `yaml:"min_toggle"`

	// Credentials are static RFID tags and PINs accepted for disarm, in
	// addition to those in the access database.
	Credentials []string `yaml:"credentials"`

	Alarm    AlarmConfig    `yaml:"alarm"`
	Lighting []LightingRule `yaml:"lighting"`
	Climate  []ClimateRule  `yaml:"climate"`
	Gate     GateConfig     `yaml:"gate"`
	TagLinks []TagLink      `yaml:"tag_links"`
	Levels   []LevelRule    `yaml:"levels"`
}

// AlarmConfig configures the alarm state machine.
type AlarmConfig struct {
	EntryDelay time.Duration `yaml:"entry_delay"`
	Protected  []string      `yaml:"protected"`
	Sirens     []string      `yaml:"sirens"`
	Strike     string        `yaml:"strike"`
}

// LightingRule maps trigger inputs to light outputs.
type LightingRule struct {
	Name            string        `yaml:"name"`
	Triggers        []string      `yaml:"triggers"`
	Outputs         []string      `yaml:"outputs"`
	Source          string        `yaml:"source"`
	Hold            time.Duration `yaml:"hold"`
	ModeIndependent bool          `yaml:"mode_independent"`
	AllNight        bool          `yaml:"all_night"`
}

// ClimateRule maps a sensor to a fan with hysteresis.
type ClimateRule struct {
	Name     string  `yaml:"name"`
	Sensor   string  `yaml:"sensor"`
	Fan      string  `yaml:"fan"`
	OnAbove  float64 `yaml:"on_above"`
	OffBelow float64 `yaml:"off_below"`
}

// GateConfig configures the RFID wicket gate.
type GateConfig struct {
	Strike      string        `yaml:"strike"`
	OpenFor     time.Duration `yaml:"open_for"`
	EntryLights []string      `yaml:"entry_lights"`
	LightHold   time.Duration `yaml:"light_hold"`
	Sensor      string        `yaml:"sensor"`
	Window      time.Duration `yaml:"window"`
}

// TagLink switches outputs when one of its RFID tags is scanned.
type TagLink struct {
	Name    string        `yaml:"name"`
	Tags    []string      `yaml:"tags"`
	Outputs []string      `yaml:"outputs"`
	Hold    time.Duration `yaml:"hold"`
}

// LevelRule derives a fill percentage from a ladder of level switches.
type LevelRule struct {
	Name    string   `yaml:"name"`
	Sensors []string `yaml:"sensors"`
}

// DispatchConfig contains actuator dispatcher settings.
type DispatchConfig struct {
	QueueSize     int           `yaml:"queue_size"`
	VerifyRetries int           `yaml:"verify_retries"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	Breaker       BreakerConfig `yaml:"breaker"`
}

// BreakerConfig contains the per-device actuation breaker settings.
type BreakerConfig struct {
	Failures int           `yaml:"failures"`
	Timeout  time.Duration `yaml:"timeout"`
}

// EventBusConfig contains event bus settings.
type EventBusConfig struct {
	Capacity int `yaml:"capacity"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`

	// JWTSecret enables HS256 bearer-token checks on command endpoints.
	JWTSecret string `yaml:"jwt_secret"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: WIREHOME_SECTION_KEY
// For example: WIREHOME_DATABASE_PATH, WIREHOME_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	applySegmentDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "home",
			Name:     "wirehome",
			Timezone: "UTC",
		},
		Bus: BusConfig{
			Backend:            BackendSysfs,
			W1Root:             "/sys/bus/w1/devices",
			MaxAttempts:        3,
			InitialBackoff:     50 * time.Millisecond,
			MaxBackoff:         time.Second,
			TransactionTimeout: 2 * time.Second,
		},
		Debounce: DebounceConfig{
			Digital: ClassDebounceConfig{K: 2},
			Analog:  ClassDebounceConfig{K: 3, Resolution: 0.1},
		},
		Poller: PollerConfig{
			DegradedProbeInitial: 10 * time.Second,
			DegradedProbeMax:     5 * time.Minute,
		},
		Automation: AutomationConfig{
			NightThreshold: -6,
			SolarInterval:  time.Minute,
			TickInterval:   time.Second,
			OverrideHold:   15 * time.Minute,
			MinToggle:      time.Second,
			Alarm: AlarmConfig{
				EntryDelay: 30 * time.Second,
			},
			Gate: GateConfig{
				OpenFor:   5 * time.Second,
				LightHold: 10 * time.Minute,
				Window:    10 * time.Second,
			},
		},
		Dispatch: DispatchConfig{
			QueueSize:     32,
			VerifyRetries: 1,
			ShutdownGrace: 5 * time.Second,
			Breaker: BreakerConfig{
				Failures: 3,
				Timeout:  time.Minute,
			},
		},
		EventBus: EventBusConfig{
			Capacity: 256,
		},
		Database: DatabaseConfig{
			Path:        "./data/wirehome.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "wirehome",
			},
			QoS:         1,
			TopicPrefix: "wirehome",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: WIREHOME_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Bus
	if v := os.Getenv("WIREHOME_BUS_BACKEND"); v != "" {
		cfg.Bus.Backend = v
	}
	if v := os.Getenv("WIREHOME_BUS_W1_ROOT"); v != "" {
		cfg.Bus.W1Root = v
	}

	// Database
	if v := os.Getenv("WIREHOME_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("WIREHOME_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("WIREHOME_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("WIREHOME_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("WIREHOME_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("WIREHOME_JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}

	// InfluxDB
	if v := os.Getenv("WIREHOME_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("WIREHOME_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Default poll intervals for segments named after the slow sensor classes.
// Any other segment must set its interval explicitly.
var defaultSegmentIntervals = map[string]time.Duration{
	"temperature": 300 * time.Second,
	"humidity":    60 * time.Second,
}

func applySegmentDefaults(cfg *Config) {
	for i := range cfg.Segments {
		if cfg.Segments[i].Interval != 0 {
			continue
		}
		if d, ok := defaultSegmentIntervals[cfg.Segments[i].Name]; ok {
			cfg.Segments[i].Interval = d
		}
	}
}

// Validate checks the configuration for errors and security issues.
//
// Device entries are checked for syntax and cross references here; role
// and address uniqueness are enforced by the device registry.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if lat := c.Site.Location.Latitude; lat < -90 || lat > 90 {
		errs = append(errs, "site.location.latitude must be between -90 and 90")
	}
	if lon := c.Site.Location.Longitude; lon < -180 || lon > 180 {
		errs = append(errs, "site.location.longitude must be between -180 and 180")
	}

	switch c.Bus.Backend {
	case BackendSysfs, BackendMemory:
	default:
		errs = append(errs, fmt.Sprintf("bus.backend %q must be sysfs or memory", c.Bus.Backend))
	}
	if c.Bus.MaxAttempts < 1 {
		errs = append(errs, "bus.max_attempts must be at least 1")
	}

	segments := make(map[string]bool, len(c.Segments))
	for i, s := range c.Segments {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Sprintf("segments[%d].name is required", i))
		case segments[s.Name]:
			errs = append(errs, fmt.Sprintf("segments[%d].name %q is duplicated", i, s.Name))
		}
		if s.Interval <= 0 {
			errs = append(errs, fmt.Sprintf("segments[%d].interval must be positive", i))
		}
		segments[s.Name] = true
	}

	if c.Debounce.Digital.K < 1 || c.Debounce.Analog.K < 1 {
		errs = append(errs, "debounce.*.k must be at least 1")
	}

	for i, d := range c.Devices {
		if d.Segment != "" && !segments[d.Segment] {
			errs = append(errs, fmt.Sprintf("devices[%d] (%s): unknown segment %q", i, d.ID, d.Segment))
		}
		if _, err := d.toDevice(); err != nil {
			errs = append(errs, fmt.Sprintf("devices[%d]: %v", i, err))
		}
	}

	if c.Dispatch.VerifyRetries < 0 {
		errs = append(errs, "dispatch.verify_retries must not be negative")
	}
	if c.EventBus.Capacity < 1 {
		errs = append(errs, "eventbus.capacity must be at least 1")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Command endpoints arm and disarm the alarm; a short secret would let
	// tokens be forged.
	const minJWTSecretLength = 32
	if c.API.JWTSecret != "" && len(c.API.JWTSecret) < minJWTSecretLength {
		errs = append(errs, "api.jwt_secret must be at least 32 characters for adequate security")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReadTimeout returns the read timeout as a Duration.
func (t APITimeoutConfig) ReadTimeout() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// WriteTimeout returns the write timeout as a Duration.
func (t APITimeoutConfig) WriteTimeout() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// IdleTimeout returns the keep-alive idle timeout as a Duration.
func (t APITimeoutConfig) IdleTimeout() time.Duration {
	return time.Duration(t.Idle) * time.Second
}
