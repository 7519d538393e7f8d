package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/lakeshore-logger/internal/infrastructure/config"
	"github.com/nerrad567/lakeshore-logger/internal/infrastructure/database"
	"github.com/nerrad567/lakeshore-logger/internal/infrastructure/logging"
	"github.com/nerrad567/lakeshore-logger/internal/store"
)

// execute runs the CLI with args and returns its combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(configEnv, "")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "lakeshore dev\n") || !strings.Contains(out, "commit: unknown") {
		t.Errorf("version output = %q", out)
	}
}

func TestValidate_Defaults(t *testing.T) {
	out, err := execute(t, "validate")
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.Contains(out, "Config is valid!") || !strings.Contains(out, "3 enabled of 3") {
		t.Errorf("validate output = %q", out)
	}
	if !strings.Contains(out, "Channels:      10") {
		t.Errorf("validate output missing channel count: %q", out)
	}
}

func TestValidate_InvalidFile(t *testing.T) {
	path := writeConfig(t, "display:\n  mode: fancy\n")

	_, err := execute(t, "validate", "-c", path)
	if err == nil {
		t.Fatal("validate should fail for an unknown display mode")
	}
	if !strings.Contains(err.Error(), "display.mode") {
		t.Errorf("error = %v, want display.mode message", err)
	}
}

func TestValidate_MissingFile(t *testing.T) {
	if _, err := execute(t, "validate", "-c", "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("validate should fail with a missing config file")
	}
}

// parsedRunCmd returns a run command with args parsed but not executed.
func parsedRunCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := newRunCmd()
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	return cmd
}

func TestApplyRunFlags(t *testing.T) {
	cfg := config.Default()
	cmd := parsedRunCmd(t,
		"--db", "/tmp/cryo.sqlite3",
		"--interval", "5",
		"--log-interval", "1m",
		"--sources", "LS336",
		"--simulate",
		"--display", "none",
		"--api",
	)

	if err := applyRunFlags(cmd, cfg); err != nil {
		t.Fatalf("applyRunFlags() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/cryo.sqlite3" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Poll.Interval != 5*time.Second || cfg.Poll.LogInterval != time.Minute {
		t.Errorf("Interval = %v, LogInterval = %v", cfg.Poll.Interval, cfg.Poll.LogInterval)
	}
	active := cfg.ActiveSources()
	if len(active) != 1 || active[0].ID != "LS336" {
		t.Fatalf("ActiveSources() = %+v, want only LS336", active)
	}
	if active[0].Transport.Type != config.TransportSim {
		t.Errorf("Transport.Type = %q, want sim", active[0].Transport.Type)
	}
	if cfg.Display.Mode != config.DisplayNone || !cfg.API.Enabled {
		t.Errorf("Display.Mode = %q, API.Enabled = %v", cfg.Display.Mode, cfg.API.Enabled)
	}
}

func TestApplyRunFlags_Unchanged(t *testing.T) {
	cfg := config.Default()
	want := cfg.Poll.Interval

	if err := applyRunFlags(parsedRunCmd(t), cfg); err != nil {
		t.Fatalf("applyRunFlags() error = %v", err)
	}
	if cfg.Poll.Interval != want || cfg.API.Enabled {
		t.Errorf("flags not given changed config: interval %v, api %v", cfg.Poll.Interval, cfg.API.Enabled)
	}
}

func TestApplyRunFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad interval", []string{"--interval", "soon"}, "--interval"},
		{"negative log interval", []string{"--log-interval", "-5"}, "--log-interval"},
		{"unknown source", []string{"--sources", "LS999"}, "LS999"},
		{"bad display", []string{"--display", "fancy"}, "display.mode"},
		{"zero interval", []string{"--interval", "0"}, "poll.interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := applyRunFlags(parsedRunCmd(t, tt.args...), config.Default())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("applyRunFlags() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestQuietForDashboard(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		level  string
		output string
		want   string
	}{
		{"dashboard silences stderr", config.DisplayDashboard, "info", "stderr", "discard"},
		{"dashboard debug keeps logs", config.DisplayDashboard, "debug", "stderr", "stderr"},
		{"console untouched", config.DisplayConsole, "info", "stderr", "stderr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Display.Mode = tt.mode
			cfg.Logging.Level = tt.level
			cfg.Logging.Output = tt.output

			quietForDashboard(cfg)
			if cfg.Logging.Output != tt.want {
				t.Errorf("Logging.Output = %q, want %q", cfg.Logging.Output, tt.want)
			}
		})
	}
}

func TestBuildRegistry(t *testing.T) {
	cfg := config.Default()
	if err := cfg.SelectSources([]string{"LS330SP", "LS336"}); err != nil {
		t.Fatalf("SelectSources() error = %v", err)
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		t.Fatalf("buildRegistry() error = %v", err)
	}
	if got := strings.Join(registry.Sources(), ","); got != "LS330SP,LS336" {
		t.Errorf("Sources() = %q", got)
	}
	if registry.Len() != 7 {
		t.Errorf("Len() = %d, want 7", registry.Len())
	}
}

func TestRunLogger_Simulated(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "run.sqlite3")
	cfg.Poll.Interval = 20 * time.Millisecond
	cfg.UseSimulation()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	log := logging.NewWithWriter(cfg.Logging, "test", io.Discard)
	if err := runLogger(ctx, cfg, &out, log); err != nil {
		t.Fatalf("runLogger() error = %v", err)
	}

	if !strings.Contains(out.String(), "LS336  B.temperature[K] = ") {
		t.Errorf("console output missing LS336 rows: %q", out.String())
	}

	reader, err := store.OpenReader(database.Config{Path: cfg.Database.Path})
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer reader.Close() //nolint:errcheck // Test cleanup

	n, err := reader.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n == 0 || n%10 != 0 {
		t.Errorf("Count() = %d, want a positive multiple of 10 channels", n)
	}
}

func TestSeedAndExport(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "demo.sqlite3")

	out, err := execute(t, "seed", db, "--points", "3", "--interval", "1h", "--start", "2026-03-01T00:00:00Z")
	if err != nil {
		t.Fatalf("seed error = %v", err)
	}
	if !strings.Contains(out, "3 timestamps and 30 sample rows") {
		t.Errorf("seed output = %q", out)
	}

	if _, err := execute(t, "seed", db); err == nil {
		t.Error("seed over an existing file without --force should fail")
	}

	csvPath := filepath.Join(dir, "all.csv")
	out, err = execute(t, "export", "--db", db, "--output", csvPath)
	if err != nil {
		t.Fatalf("export error = %v", err)
	}
	if !strings.Contains(out, "Exported 30 rows") {
		t.Errorf("export output = %q", out)
	}

	f, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close() //nolint:errcheck // Test cleanup
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(records) != 31 {
		t.Fatalf("CSV has %d records, want header + 30", len(records))
	}
	first := records[1]
	if first[0] != "2026-03-01T00:00:00.000000+00:00" || first[1] != "LS330BB" || first[2] != "setpoint[K]" || first[3] != "80" {
		t.Errorf("first record = %v", first)
	}

	if _, err := execute(t, "export", "--db", db, "--output", csvPath); err == nil {
		t.Error("export over an existing file without --force should fail")
	}
	if _, err := execute(t, "export", "--db", db, "--output", csvPath, "--force", "--source", "LS336"); err != nil {
		t.Errorf("export --force error = %v", err)
	}

	emptyPath := filepath.Join(dir, "empty.csv")
	out, err = execute(t, "export", "--db", db, "--output", emptyPath, "--start", "2030-01-01")
	if err != nil {
		t.Fatalf("export error = %v", err)
	}
	if !strings.Contains(out, "Nothing exported") {
		t.Errorf("empty export output = %q", out)
	}
	if _, err := os.Stat(emptyPath); !os.IsNotExist(err) {
		t.Errorf("empty export created %s", emptyPath)
	}
}

func TestExport_BadRange(t *testing.T) {
	db := filepath.Join(t.TempDir(), "demo.sqlite3")
	if _, err := execute(t, "seed", db, "--points", "1"); err != nil {
		t.Fatalf("seed error = %v", err)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"unparseable start", []string{"--start", "yesterday"}},
		{"reversed range", []string{"--start", "2026-03-02", "--end", "2026-03-01"}},
		{"missing database", []string{"--db", filepath.Join(t.TempDir(), "nope.sqlite3")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"export", "--db", db}, tt.args...)
			if _, err := execute(t, args...); err == nil {
				t.Errorf("export %v should fail", tt.args)
			}
		})
	}
}
