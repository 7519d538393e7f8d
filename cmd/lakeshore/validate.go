package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newValidateCmd validates a config file without touching any instrument.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		Long: `Validate the configuration without opening instruments or the database.

The file is parsed, environment overrides are applied and every field is
checked. Useful before deploying a new bench layout.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  lakeshore validate -c config.yaml`,
		Args: cobra.NoArgs,
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	channels := 0
	active := cfg.ActiveSources()
	for _, s := range active {
		channels += len(s.Channels)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Database:      %s\n", cfg.Database.Path)
	fmt.Fprintf(out, "  Interval:      %s\n", cfg.Poll.Interval)
	fmt.Fprintf(out, "  Log interval:  %s\n", cfg.Poll.LogInterval)
	fmt.Fprintf(out, "  Sources:       %d enabled of %d\n", len(active), len(cfg.Sources))
	fmt.Fprintf(out, "  Channels:      %d\n", channels)
	fmt.Fprintf(out, "  Display:       %s\n", cfg.Display.Mode)

	return nil
}
