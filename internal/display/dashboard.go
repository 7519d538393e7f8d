package display

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"

	"github.com/nerrad567/lakeshore-logger/internal/scheduler"
	"github.com/nerrad567/lakeshore-logger/internal/series"
	"github.com/nerrad567/lakeshore-logger/internal/store"
)

// DefaultTrendWidth is the trend column width when none is configured.
const DefaultTrendWidth = 40

// Placeholder shown for a null value or an unknown time.
const dash = "—"

// ANSI sequence: cursor home, clear screen.
const clearScreen = "\x1b[H\x1b[2J"

var headers = [4]string{"Metric", "Value", "Trend", "Time (UTC)"}

// DashboardOptions configure a Dashboard.
type DashboardOptions struct {
	// TrendWidth is the number of trend glyphs per row. Zero uses DefaultTrendWidth.
	TrendWidth int

	// Clear forces (true) or suppresses (false) clearing the screen before
	// each redraw. Nil clears only when the writer is a terminal.
	Clear *bool
}

// Dashboard redraws a full table on every cycle.
//
// The table reads trends from the rolling cache, which the scheduler has
// already updated for the cycle being presented.
type Dashboard struct {
	mu    sync.Mutex
	w     io.Writer
	cache *series.Cache
	width int
	clear bool

	lastLog time.Time
	now     func() time.Time
}

// NewDashboard creates a dashboard sink writing to w.
func NewDashboard(w io.Writer, cache *series.Cache, opts DashboardOptions) *Dashboard {
	width := opts.TrendWidth
	if width <= 0 {
		width = DefaultTrendWidth
	}

	redraw := isTerminal(w)
	if opts.Clear != nil {
		redraw = *opts.Clear
	}

	return &Dashboard{
		w:     w,
		cache: cache,
		width: width,
		clear: redraw,
		now:   time.Now,
	}
}

// Present redraws the table for cycle.
func (d *Dashboard) Present(_ context.Context, cycle scheduler.Cycle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cycle.Persisted {
		d.lastLog = cycle.Started
	}

	clock := dash
	if t, err := store.ParseTimestamp(cycle.Timestamp); err == nil {
		clock = t.UTC().Format("15:04:05")
	}

	rows := make([][4]string, 0, len(cycle.Rows))
	for _, row := range cycle.Rows {
		rows = append(rows, [4]string{
			row.Source + "." + row.Channel,
			formatValue(row.Value, dash),
			d.cache.RenderTrend(row.Key(), d.width),
			clock,
		})
	}

	var buf bytes.Buffer
	if d.clear {
		buf.WriteString(clearScreen)
	}
	writeTable(&buf, rows)
	buf.WriteString(d.status(cycle))
	buf.WriteByte('\n')
	for _, w := range cycle.Warnings {
		fmt.Fprintf(&buf, "  ! %s\n", w)
	}

	if _, err := d.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing dashboard: %w", err)
	}
	return nil
}

func (d *Dashboard) status(cycle scheduler.Cycle) string {
	logged := dash
	if !d.lastLog.IsZero() {
		logged = fmt.Sprintf("%ds ago", int(d.now().Sub(d.lastLog).Seconds()))
	}

	parts := []string{
		fmt.Sprintf("cycle %d", cycle.Index),
		"last log " + logged,
		fmt.Sprintf("%d warnings", len(cycle.Warnings)),
	}
	if len(cycle.FailedSources) > 0 {
		parts = append(parts, "offline: "+strings.Join(cycle.FailedSources, ","))
	}
	return strings.Join(parts, " | ")
}

// writeTable pads columns by display width, not bytes.
func writeTable(buf *bytes.Buffer, rows [][4]string) {
	var widths [4]int
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	line := func(cells [4]string) {
		for i, cell := range cells {
			if i > 0 {
				buf.WriteString(" │ ")
			}
			if i == len(cells)-1 {
				buf.WriteString(cell)
				continue
			}
			buf.WriteString(runewidth.FillRight(cell, widths[i]))
		}
		buf.WriteByte('\n')
	}

	line(headers)
	for i, w := range widths {
		if i > 0 {
			buf.WriteString("─┼─")
		}
		buf.WriteString(strings.Repeat("─", w))
	}
	buf.WriteByte('\n')
	for _, row := range rows {
		line(row)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
