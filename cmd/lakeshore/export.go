package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/lakeshore-logger/internal/export"
	"github.com/nerrad567/lakeshore-logger/internal/infrastructure/database"
	"github.com/nerrad567/lakeshore-logger/internal/store"
)

// newExportCmd writes a time range of samples to CSV.
func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export samples to CSV",
		Long: `Export logged samples to a CSV file with the columns
timestamp,source,channel,value,extra.

Dates accept ISO 8601 (recommended), YYYY-MM-DD, YYYY/MM/DD, MM/DD/YYYY or
YYYY-MM-DD HH:MM[:SS]. Values without an offset are local time. A date
without a time covers the whole day. Omit --start or --end to export from
the first or through the latest record.

The database is opened read-only, so exporting while the logger runs is safe.

Example:
  lakeshore export --start 2026-03-01 --end 2026-03-07
  lakeshore export --db cryo.sqlite3 --source LS336 --output ls336.csv`,
		Args: cobra.NoArgs,
		RunE: runExport,
	}

	flags := cmd.Flags()
	flags.String("db", "", "SQLite database path (default: database.path from config)")
	flags.String("start", "", "first timestamp to include")
	flags.String("end", "", "last timestamp to include")
	flags.String("source", "", "only export this source")
	flags.StringP("output", "o", "", "CSV path (default: next to the database)")
	flags.Bool("force", false, "overwrite an existing output file")

	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()

	dbPath, _ := flags.GetString("db")
	if dbPath == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		dbPath = cfg.Database.Path
	}
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	startArg, _ := flags.GetString("start")
	start, err := parseOptionalBound(startArg, true)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	endArg, _ := flags.GetString("end")
	end, err := parseOptionalBound(endArg, false)
	if err != nil {
		return fmt.Errorf("--end: %w", err)
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return errors.New("start must be before end")
	}

	output, _ := flags.GetString("output")
	if output == "" {
		output = export.DefaultOutputPath(dbPath, start, end)
	}
	force, _ := flags.GetBool("force")
	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("refusing to overwrite existing file %s; use --force to replace it", output)
	}

	reader, err := store.OpenReader(database.Config{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer reader.Close() //nolint:errcheck // read-only handle

	source, _ := flags.GetString("source")
	samples, err := reader.Query(cmd.Context(), store.Range{Start: start, End: end, Source: source})
	if err != nil {
		return fmt.Errorf("querying samples: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(samples) == 0 {
		fmt.Fprintln(out, "No rows matched the specified range. Nothing exported.")
		return nil
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating CSV: %w", err)
	}
	n, err := export.WriteCSV(f, samples)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("writing CSV: %w", err)
	}

	fmt.Fprintf(out, "Exported %d rows to %s\n", n, output)
	return nil
}

// parseOptionalBound returns the zero time for a blank value.
func parseOptionalBound(value string, isStart bool) (time.Time, error) {
	t, err := export.ParseBound(value, isStart, time.Local)
	if errors.Is(err, export.ErrEmptyBound) {
		return time.Time{}, nil
	}
	return t, err
}
