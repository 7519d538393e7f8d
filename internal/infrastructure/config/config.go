package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport types accepted in sources[].transport.type.
const (
	TransportTCP = "tcp"
	TransportSim = "sim"
)

// ErrUnknownSource is returned when a requested source is not configured.
var ErrUnknownSource = errors.New("config: unknown source")

// Display modes accepted in display.mode.
const (
	DisplayConsole   = "console"
	DisplayDashboard = "dashboard"
	DisplayNone      = "none"
)

// Config is the root configuration structure for the Lake Shore logger.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Poll      PollConfig      `yaml:"poll"`
	Sources   []SourceConfig  `yaml:"sources"`
	Display   DisplayConfig   `yaml:"display"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// PollConfig controls the sampling cadence.
type PollConfig struct {
	// Interval is the time between the starts of consecutive cycles.
	Interval time.Duration `yaml:"interval"`

	// LogInterval throttles persistence. Cycles closer than LogInterval to the
	// last persisted cycle are displayed but not written. Zero persists every cycle.
	LogInterval time.Duration `yaml:"log_interval"`

	// MaxParallel bounds concurrent source polls within a cycle. Zero means one per source.
	MaxParallel int `yaml:"max_parallel"`

	// PollTimeout bounds one source's poll. Zero leaves it to the transport timeouts.
	PollTimeout time.Duration `yaml:"poll_timeout"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig controls the store write retry policy on contention.
type RetryConfig struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
}

// SourceConfig describes one instrument and the channels it exposes.
type SourceConfig struct {
	ID        string          `yaml:"id"`
	Enabled   bool            `yaml:"enabled"`
	Transport TransportConfig `yaml:"transport"`
	Channels  []ChannelConfig `yaml:"channels"`
}

// TransportConfig describes how to reach an instrument.
type TransportConfig struct {
	// Type is "tcp" or "sim".
	Type string `yaml:"type"`

	// Address is host:port. Lake Shore 336 listens on 7777; GPIB bridges usually on 1234.
	Address string `yaml:"address"`

	// GPIBAddress selects the bus address on a Prologix-style bridge. Zero means a direct connection.
	GPIBAddress int `yaml:"gpib_address"`

	Timeout    time.Duration `yaml:"timeout"`
	Terminator string        `yaml:"terminator"`
}

// ChannelConfig maps a channel id (unit encoded, e.g. "temperature[K]") to its query.
type ChannelConfig struct {
	Name  string `yaml:"name"`
	Query string `yaml:"query"`
}

// DisplayConfig selects the presentation sink.
type DisplayConfig struct {
	Mode       string `yaml:"mode"`
	TrendWidth int    `yaml:"trend_width"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled       bool                `yaml:"enabled"`
	Broker        MQTTBrokerConfig    `yaml:"broker"`
	Auth          MQTTAuthConfig      `yaml:"auth"`
	QoS           int                 `yaml:"qos"`
	Reconnect     MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix   string              `yaml:"topic_prefix"`
	PayloadFormat string              `yaml:"payload_format"`
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
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

	// Measurement names the series samples are mirrored to.
	Measurement string `yaml:"measurement"`
	// Tags are added to every mirrored point, e.g. the cryostat name.
	Tags map[string]string `yaml:"tags"`
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
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LAKESHORE_SECTION_KEY, plus the
// short forms LAKESHORE_DB and LAKESHORE_INTERVAL.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// A sources list in the file replaces the default bench entirely.
		cfg.Sources = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if cfg.Sources == nil {
			cfg.Sources = defaultSources()
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading a file or the environment.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/lakeshore.sqlite3",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Poll: PollConfig{
			Interval: 10 * time.Second,
			Retry: RetryConfig{
				Attempts:  5,
				BaseDelay: 200 * time.Millisecond,
			},
		},
		Sources: defaultSources(),
		Display: DisplayConfig{
			Mode:       DisplayConsole,
			TrendWidth: 40,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lakeshore-logger",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix:   "lakeshore",
			PayloadFormat: "json",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "lakeshore",
			BatchSize:     100,
			FlushInterval: 10,
			Measurement:   "lakeshore_samples",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// defaultSources is the bench the logger was built for: two Lake Shore 330
// controllers behind a GPIB bridge and a Lake Shore 336 on its own port.
func defaultSources() []SourceConfig {
	ls330 := func(id string, gpib int) SourceConfig {
		return SourceConfig{
			ID:      id,
			Enabled: true,
			Transport: TransportConfig{
				Type:        TransportTCP,
				Address:     "localhost:1234",
				GPIBAddress: gpib,
				Timeout:     time.Second,
			},
			Channels: []ChannelConfig{
				{Name: "setpoint[K]", Query: "SETP?"},
				{Name: "temperature[K]", Query: "TEMP?"},
				{Name: "heater[%]", Query: "HEAT?"},
			},
		}
	}

	return []SourceConfig{
		ls330("LS330BB", 13),
		ls330("LS330SP", 12),
		{
			ID:      "LS336",
			Enabled: true,
			Transport: TransportConfig{
				Type:    TransportTCP,
				Address: "localhost:7777",
				Timeout: time.Second,
			},
			Channels: []ChannelConfig{
				{Name: "A.setpoint[K]", Query: "SETP? 1"},
				{Name: "A.temperature[K]", Query: "TEMP? 1"},
				{Name: "B.setpoint[K]", Query: "SETP? 2"},
				{Name: "B.temperature[K]", Query: "TEMP? 2"},
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	// Database
	if v := os.Getenv("LAKESHORE_DB"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("LAKESHORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Poll
	if v := os.Getenv("LAKESHORE_INTERVAL"); v != "" {
		d, err := ParseInterval(v)
		if err != nil {
			return fmt.Errorf("LAKESHORE_INTERVAL: %w", err)
		}
		cfg.Poll.Interval = d
	}
	if v := os.Getenv("LAKESHORE_LOG_INTERVAL"); v != "" {
		d, err := ParseInterval(v)
		if err != nil {
			return fmt.Errorf("LAKESHORE_LOG_INTERVAL: %w", err)
		}
		cfg.Poll.LogInterval = d
	}

	// Sources
	if v := os.Getenv("LAKESHORE_SOURCES"); v != "" {
		if err := cfg.SelectSources(SplitList(v)); err != nil {
			return fmt.Errorf("LAKESHORE_SOURCES: %w", err)
		}
	}

	// MQTT
	if v := os.Getenv("LAKESHORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LAKESHORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LAKESHORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("LAKESHORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("LAKESHORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	return nil
}

// ParseInterval accepts whole seconds ("10") or a Go duration ("1500ms").
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative interval %q", s)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative interval %q", s)
	}
	return d, nil
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EnableOnly marks exactly the named sources enabled. Unknown names are ignored.
func (c *Config) EnableOnly(ids []string) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i := range c.Sources {
		c.Sources[i].Enabled = want[c.Sources[i].ID]
	}
}

// UseSimulation switches every source to the simulated transport.
func (c *Config) UseSimulation() {
	for i := range c.Sources {
		c.Sources[i].Transport.Type = TransportSim
	}
}

// ActiveSources returns the enabled sources in declaration order.
func (c *Config) ActiveSources() []SourceConfig {
	var out []SourceConfig
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.BusyTimeout < 0 {
		errs = append(errs, "database.busy_timeout must not be negative")
	}

	if c.Poll.Interval <= 0 {
		errs = append(errs, "poll.interval must be positive")
	}
	if c.Poll.LogInterval < 0 {
		errs = append(errs, "poll.log_interval must not be negative")
	}
	if c.Poll.MaxParallel < 0 {
		errs = append(errs, "poll.max_parallel must not be negative")
	}
	if c.Poll.PollTimeout < 0 {
		errs = append(errs, "poll.poll_timeout must not be negative")
	}
	if c.Poll.Retry.Attempts < 1 {
		errs = append(errs, "poll.retry.attempts must be at least 1")
	}
	if c.Poll.Retry.BaseDelay < 0 {
		errs = append(errs, "poll.retry.base_delay must not be negative")
	}

	errs = append(errs, c.validateSources()...)

	switch c.Display.Mode {
	case DisplayConsole, DisplayDashboard, DisplayNone:
	default:
		errs = append(errs, fmt.Sprintf("display.mode %q must be console, dashboard, or none", c.Display.Mode))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.PayloadFormat != "json" && c.MQTT.PayloadFormat != "msgpack" {
		errs = append(errs, "mqtt.payload_format must be json or msgpack")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	for k := range c.InfluxDB.Tags {
		if k == "source" || k == "channel" {
			errs = append(errs, fmt.Sprintf("influxdb.tags must not override %q", k))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateSources() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Sources))
	active := 0

	for i, s := range c.Sources {
		if s.ID == "" {
			errs = append(errs, fmt.Sprintf("sources[%d].id is required", i))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Sprintf("sources[%d].id %q is duplicated", i, s.ID))
		}
		seen[s.ID] = true
		if !s.Enabled {
			continue
		}
		active++

		switch s.Transport.Type {
		case TransportTCP:
			if s.Transport.Address == "" {
				errs = append(errs, fmt.Sprintf("sources[%s].transport.address is required for tcp", s.ID))
			}
		case TransportSim:
		default:
			errs = append(errs, fmt.Sprintf("sources[%s].transport.type %q must be tcp or sim", s.ID, s.Transport.Type))
		}
		if len(s.Channels) == 0 {
			errs = append(errs, fmt.Sprintf("sources[%s] has no channels", s.ID))
		}
		names := make(map[string]bool, len(s.Channels))
		for _, ch := range s.Channels {
			if ch.Name == "" || ch.Query == "" {
				errs = append(errs, fmt.Sprintf("sources[%s] channel requires name and query", s.ID))
				continue
			}
			if names[ch.Name] {
				errs = append(errs, fmt.Sprintf("sources[%s] channel %q is duplicated", s.ID, ch.Name))
			}
			names[ch.Name] = true
		}
	}

	if active == 0 {
		errs = append(errs, "at least one source must be enabled")
	}
	return errs
}

// UnknownSources returns the requested ids not present in the configuration.
func (c *Config) UnknownSources(ids []string) []string {
	known := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		known[s.ID] = true
	}
	var out []string
	for _, id := range ids {
		if !known[id] {
			out = append(out, id)
		}
	}
	return out
}

// SelectSources enables exactly the requested sources, failing on unknown ids.
// An empty request leaves the configured enabled flags untouched.
func (c *Config) SelectSources(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if unknown := c.UnknownSources(ids); len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSource, strings.Join(unknown, ", "))
	}
	c.EnableOnly(ids)
	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
