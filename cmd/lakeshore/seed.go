package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/lakeshore-logger/internal/export"
	"github.com/nerrad567/lakeshore-logger/internal/infrastructure/database"
	"github.com/nerrad567/lakeshore-logger/internal/instrument"
	"github.com/nerrad567/lakeshore-logger/internal/store"
)

const defaultSeedPath = "dummy-logger.sqlite3"

// newSeedCmd creates a dummy database for trying export and the API.
func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed [path]",
		Short: "Create a dummy database with sample data",
		Long: `Create a SQLite database in the logger's schema and fill it with
synthetic readings for the ten default bench channels. Each channel follows
a linear ramp, so exports and trends are easy to check by eye.

Example:
  lakeshore seed
  lakeshore seed demo.sqlite3 --points 48 --interval 30m --start 2026-03-01`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSeed,
	}

	flags := cmd.Flags()
	flags.String("start", "", "first timestamp (default: two days ago)")
	flags.Int("points", 8, "number of timestamps to generate")
	flags.Duration("interval", 6*time.Hour, "time between timestamps")
	flags.Bool("force", false, "overwrite an existing file")

	return cmd
}

func runSeed(cmd *cobra.Command, args []string) error {
	path := defaultSeedPath
	if len(args) == 1 {
		path = args[0]
	}

	flags := cmd.Flags()
	points, _ := flags.GetInt("points")
	if points < 1 {
		return errors.New("--points must be at least 1")
	}
	interval, _ := flags.GetDuration("interval")

	start := time.Now().Add(-48 * time.Hour)
	if v, _ := flags.GetString("start"); v != "" {
		t, err := export.ParseBound(v, true, time.Local)
		if err != nil {
			return fmt.Errorf("--start: %w", err)
		}
		start = t
	}

	if _, err := os.Stat(path); err == nil {
		if force, _ := flags.GetBool("force"); !force {
			return fmt.Errorf("refusing to overwrite existing file %s; use --force to replace it", path)
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}

	st, err := store.Open(cmd.Context(), database.Config{Path: path, BusyTimeout: 5})
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer st.Close() //nolint:errcheck // closed after the last write

	for i := range points {
		if err := st.WriteBatch(cmd.Context(), seedBatch(start.Add(time.Duration(i)*interval), i)); err != nil {
			return fmt.Errorf("writing point %d: %w", i, err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s with %d timestamps and %d sample rows.\n",
		path, points, points*len(instrument.DefaultProfiles))
	return nil
}

// seedBatch is one timestamp's readings: each profile at step idx.
func seedBatch(ts time.Time, idx int) []store.Sample {
	stamp := store.FormatTimestamp(ts)
	batch := make([]store.Sample, 0, len(instrument.DefaultProfiles))
	for _, pc := range instrument.DefaultProfiles {
		v := pc.Profile.At(idx)
		batch = append(batch, store.Sample{
			Timestamp: stamp,
			Source:    pc.Key.Source,
			Channel:   pc.Key.Channel,
			Value:     &v,
		})
	}
	return batch
}
