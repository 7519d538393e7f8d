package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
database:
  path: "/tmp/test.sqlite3"
  wal_mode: true
  busy_timeout: 5
poll:
  interval: 2s
  log_interval: 1m
  retry:
    attempts: 3
    base_delay: 50ms
sources:
  - id: "A"
    enabled: true
    transport:
      type: sim
    channels:
      - {name: "setpoint", query: "SETP?"}
      - {name: "temperature", query: "TEMP?"}
  - id: "B"
    enabled: false
    transport:
      type: tcp
      address: "10.0.0.5:7777"
    channels:
      - {name: "setpoint", query: "SETP? 1"}
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.sqlite3" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.sqlite3")
	}
	if cfg.Poll.Interval != 2*time.Second {
		t.Errorf("Poll.Interval = %v, want 2s", cfg.Poll.Interval)
	}
	if cfg.Poll.LogInterval != time.Minute {
		t.Errorf("Poll.LogInterval = %v, want 1m", cfg.Poll.LogInterval)
	}
	if cfg.Poll.Retry.Attempts != 3 || cfg.Poll.Retry.BaseDelay != 50*time.Millisecond {
		t.Errorf("Poll.Retry = %+v, want 3 attempts / 50ms", cfg.Poll.Retry)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("len(Sources) = %d, want 2", len(cfg.Sources))
	}

	active := cfg.ActiveSources()
	if len(active) != 1 || active[0].ID != "A" {
		t.Errorf("ActiveSources() = %+v, want only A", active)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := len(cfg.ActiveSources()); got != 3 {
		t.Errorf("len(ActiveSources()) = %d, want 3", got)
	}
	if cfg.Poll.Interval != 10*time.Second {
		t.Errorf("Poll.Interval = %v, want 10s", cfg.Poll.Interval)
	}
}

func TestLoad_FileWithoutSourcesKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := len(cfg.Sources); got != 3 {
		t.Errorf("len(Sources) = %d, want 3", got)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
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

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
poll:
  interval: 0s
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for zero interval, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	source := func(id string) SourceConfig {
		return SourceConfig{
			ID:        id,
			Enabled:   true,
			Transport: TransportConfig{Type: TransportSim},
			Channels:  []ChannelConfig{{Name: "temperature[K]", Query: "TEMP?"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "negative log interval", mutate: func(c *Config) { c.Poll.LogInterval = -time.Second }, wantErr: true},
		{name: "negative poll timeout", mutate: func(c *Config) { c.Poll.PollTimeout = -time.Second }, wantErr: true},
		{
			name: "influx tag shadows channel",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.Tags = map[string]string{"channel": "x"}
			},
			wantErr: true,
		},
		{name: "zero retry attempts", mutate: func(c *Config) { c.Poll.Retry.Attempts = 0 }, wantErr: true},
		{name: "no enabled sources", mutate: func(c *Config) { c.EnableOnly(nil) }, wantErr: true},
		{name: "duplicate source", mutate: func(c *Config) { c.Sources = []SourceConfig{source("A"), source("A")} }, wantErr: true},
		{
			name: "duplicate channel",
			mutate: func(c *Config) {
				s := source("A")
				s.Channels = append(s.Channels, s.Channels[0])
				c.Sources = []SourceConfig{s}
			},
			wantErr: true,
		},
		{
			name: "tcp without address",
			mutate: func(c *Config) {
				s := source("A")
				s.Transport.Type = TransportTCP
				c.Sources = []SourceConfig{s}
			},
			wantErr: true,
		},
		{
			name: "disabled source is not checked",
			mutate: func(c *Config) {
				broken := source("B")
				broken.Enabled = false
				broken.Transport.Type = "serial"
				c.Sources = []SourceConfig{source("A"), broken}
			},
			wantErr: false,
		},
		{name: "bad display mode", mutate: func(c *Config) { c.Display.Mode = "tui" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "bad payload format", mutate: func(c *Config) { c.MQTT.PayloadFormat = "xml" }, wantErr: true},
		{
			name:    "invalid port when API enabled",
			mutate:  func(c *Config) { c.API.Enabled = true; c.API.Port = 70000 },
			wantErr: true,
		},
		{name: "invalid port ignored when API disabled", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "10", want: 10 * time.Second},
		{in: " 5 ", want: 5 * time.Second},
		{in: "1500ms", want: 1500 * time.Millisecond},
		{in: "2m", want: 2 * time.Minute},
		{in: "-1", wantErr: true},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInterval(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseInterval(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseInterval(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSelectSources(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.SelectSources([]string{"LS336"}); err != nil {
		t.Fatalf("SelectSources() error = %v", err)
	}
	active := cfg.ActiveSources()
	if len(active) != 1 || active[0].ID != "LS336" {
		t.Errorf("ActiveSources() = %+v, want only LS336", active)
	}

	err := cfg.SelectSources([]string{"LS340"})
	if !errors.Is(err, ErrUnknownSource) {
		t.Errorf("SelectSources(unknown) error = %v, want ErrUnknownSource", err)
	}

	if err := cfg.SelectSources(nil); err != nil {
		t.Errorf("SelectSources(nil) error = %v", err)
	}
	if got := len(cfg.ActiveSources()); got != 1 {
		t.Errorf("SelectSources(nil) changed selection, active = %d", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("LAKESHORE_DB", "/custom/lakeshore.sqlite3")
	t.Setenv("LAKESHORE_INTERVAL", "3")
	t.Setenv("LAKESHORE_LOG_INTERVAL", "90s")
	t.Setenv("LAKESHORE_SOURCES", "LS330BB, LS336")
	t.Setenv("LAKESHORE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("LAKESHORE_MQTT_USERNAME", "testuser")
	t.Setenv("LAKESHORE_MQTT_PASSWORD", "testpass")
	t.Setenv("LAKESHORE_INFLUXDB_TOKEN", "secret-token")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	if cfg.Database.Path != "/custom/lakeshore.sqlite3" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/lakeshore.sqlite3")
	}
	if cfg.Poll.Interval != 3*time.Second {
		t.Errorf("Poll.Interval = %v, want 3s", cfg.Poll.Interval)
	}
	if cfg.Poll.LogInterval != 90*time.Second {
		t.Errorf("Poll.LogInterval = %v, want 90s", cfg.Poll.LogInterval)
	}
	if got := len(cfg.ActiveSources()); got != 2 {
		t.Errorf("len(ActiveSources()) = %d, want 2", got)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v, want testuser/testpass", cfg.MQTT.Auth)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestApplyEnvOverrides_BadInterval(t *testing.T) {
	t.Setenv("LAKESHORE_INTERVAL", "often")
	if err := applyEnvOverrides(defaultConfig()); err == nil {
		t.Error("applyEnvOverrides() expected error for bad interval, got nil")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.Poll.Retry.Attempts != 5 {
		t.Errorf("defaultConfig Poll.Retry.Attempts = %d, want 5", cfg.Poll.Retry.Attempts)
	}
	if cfg.Poll.Retry.BaseDelay != 200*time.Millisecond {
		t.Errorf("defaultConfig Poll.Retry.BaseDelay = %v, want 200ms", cfg.Poll.Retry.BaseDelay)
	}

	wantChannels := map[string]int{"LS330BB": 3, "LS330SP": 3, "LS336": 4}
	for _, s := range cfg.Sources {
		if got := len(s.Channels); got != wantChannels[s.ID] {
			t.Errorf("source %s has %d channels, want %d", s.ID, got, wantChannels[s.ID])
		}
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}
