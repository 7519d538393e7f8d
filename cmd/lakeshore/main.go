// Lake Shore Logger - cryostat temperature logging
//
// This is the main entry point for the lakeshore binary. It samples Lake
// Shore temperature controllers on a fixed interval, persists every cycle to
// SQLite and presents it on the console, a terminal dashboard, an HTTP API,
// MQTT, InfluxDB and Prometheus.
//
// Usage:
//
//	lakeshore run -c config.yaml                # Start logging
//	lakeshore run --simulate --display dashboard
//	lakeshore export --start 2026-03-01         # Export samples to CSV
//	lakeshore seed dummy-logger.sqlite3         # Create a dummy database
//	lakeshore validate -c config.yaml           # Validate configuration
//	lakeshore version                           # Show version info
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/lakeshore-logger/internal/infrastructure/config"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// configEnv names the config file when --config is not given.
const configEnv = "LAKESHORE_CONFIG"

func main() {
	// SIGINT/SIGTERM cancel the context; the logger finishes its cycle and stops.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		// Cobra already printed the error.
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The root only shows help.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lakeshore",
		Short: "Lake Shore temperature controller logger",
		Long: `lakeshore polls Lake Shore temperature controllers on a fixed interval
and records every channel reading to a SQLite database.

Without a config file the built-in bench is used: two LS330 controllers
behind a GPIB bridge on localhost:1234 and an LS336 on localhost:7777.

Quick start:
  lakeshore run --simulate --interval 2s --display dashboard`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file (default $"+configEnv+")")

	root.AddCommand(
		newRunCmd(),
		newExportCmd(),
		newSeedCmd(),
		newValidateCmd(),
		newVersionCmd(),
	)
	return root
}

// newVersionCmd prints version information.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "lakeshore %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}

// configPath returns --config, else $LAKESHORE_CONFIG. Empty means built-in defaults.
func configPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	return os.Getenv(configEnv)
}

// loadConfig loads the configuration named by configPath.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configPath(cmd)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
