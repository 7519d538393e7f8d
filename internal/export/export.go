// Package export writes stored samples to CSV.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/lakeshore-logger/internal/store"
)

// ErrEmptyBound is returned by ParseBound for a blank value.
var ErrEmptyBound = errors.New("export: empty date")

// Header is the first CSV record.
var Header = []string{"timestamp", "source", "channel", "value", "extra"}

// dateOnly layouts expand to a whole day.
var dateOnly = []string{"2006-01-02", "2006/01/02", "01/02/2006"}

// naive layouts carry no offset and take the caller's location.
var naive = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
}

// ParseBound parses one end of an export range.
//
// Values with an offset (RFC 3339) keep it. Values without one are read in
// loc. A date without a time covers the whole day: a start becomes 00:00:00
// and an end becomes 23:59:59.999999.
func ParseBound(value string, isStart bool, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrEmptyBound
	}
	if loc == nil {
		loc = time.Local
	}

	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}

	for _, layout := range dateOnly {
		t, err := time.ParseInLocation(layout, value, loc)
		if err != nil {
			continue
		}
		if isStart {
			return t, nil
		}
		return t.Add(24*time.Hour - time.Microsecond), nil
	}

	for _, layout := range naive {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("export: unrecognised date %q (use ISO 8601, YYYY-MM-DD, or YYYY-MM-DD HH:MM[:SS])", value)
}

// DefaultOutputPath names the CSV after the database, next to it. A bounded
// range adds a _<start>-<end> suffix with dates as YYYYMMDD; an open end
// reads "start" or "end".
func DefaultOutputPath(dbPath string, start, end time.Time) string {
	base := filepath.Base(dbPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	suffix := ""
	if !start.IsZero() || !end.IsZero() {
		suffix = "_" + label(start, "start") + "-" + label(end, "end")
	}

	return filepath.Join(filepath.Dir(dbPath), stem+suffix+".csv")
}

func label(t time.Time, fallback string) string {
	if t.IsZero() {
		return fallback
	}
	return t.Format("20060102")
}

// WriteCSV writes the header and one record per sample, returning the
// number of samples written. Nulls are empty fields.
func WriteCSV(w io.Writer, samples []store.Sample) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return 0, fmt.Errorf("writing header: %w", err)
	}

	for i, s := range samples {
		if err := cw.Write(record(s)); err != nil {
			return i, fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return len(samples), fmt.Errorf("flushing csv: %w", err)
	}
	return len(samples), nil
}

func record(s store.Sample) []string {
	value := ""
	if s.Value != nil {
		value = strconv.FormatFloat(*s.Value, 'g', 9, 64)
	}
	extra := ""
	if s.Extra != nil {
		extra = *s.Extra
	}
	return []string{s.Timestamp, s.Source, s.Channel, value, extra}
}
