package display

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/nerrad567/lakeshore-logger/internal/scheduler"
)

// NA is printed for null readings on the console.
const NA = "NA"

// Console writes each cycle as plain text lines.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a console sink writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Present writes one line per row, then one line per warning.
func (c *Console) Present(_ context.Context, cycle scheduler.Cycle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bw := bufio.NewWriter(c.w)
	for _, row := range cycle.Rows {
		fmt.Fprintf(bw, "%s  %s  %s = %s\n", cycle.Timestamp, row.Source, row.Channel, formatValue(row.Value, NA))
	}
	for _, w := range cycle.Warnings {
		fmt.Fprintf(bw, "warning: %s\n", w)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing console block: %w", err)
	}
	return nil
}

func formatValue(v *float64, null string) string {
	if v == nil {
		return null
	}
	return fmt.Sprintf("%.6g", *v)
}
