package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/lakeshore-logger/internal/scheduler"
)

func f(v float64) *float64 { return &v }

func TestCollector_Present(t *testing.T) {
	c := New()

	cycle := scheduler.Cycle{
		Index:   1,
		Started: time.Unix(1767225600, 0),
		Rows: []scheduler.Row{
			{Source: "LS336", Channel: "A.temperature[K]", Value: f(79.2)},
			{Source: "LS330BB", Channel: "setpoint[K]"},
		},
		Warnings:        []string{"LS330BB poll failed: timeout"},
		FailedSources:   []string{"LS330BB"},
		Persisted:       true,
		PersistAttempts: 2,
		Duration:        150 * time.Millisecond,
	}
	if err := c.Present(context.Background(), cycle); err != nil {
		t.Fatalf("Present() error = %v", err)
	}

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"cycles", testutil.ToFloat64(c.cycles), 1},
		{"samples", testutil.ToFloat64(c.samples), 2},
		{"null samples", testutil.ToFloat64(c.nullSamples), 1},
		{"warnings", testutil.ToFloat64(c.warnings), 1},
		{"persist attempts", testutil.ToFloat64(c.persistAttempts), 2},
		{"persisted", testutil.ToFloat64(c.persisted), 1},
		{"dropped", testutil.ToFloat64(c.dropped), 0},
		{"source failures", testutil.ToFloat64(c.sourceFailures.WithLabelValues("LS330BB")), 1},
		{"value", testutil.ToFloat64(c.value.WithLabelValues("LS336", "A.temperature[K]")), 79.2},
		{"valid", testutil.ToFloat64(c.valid.WithLabelValues("LS336", "A.temperature[K]")), 1},
		{"invalid", testutil.ToFloat64(c.valid.WithLabelValues("LS330BB", "setpoint[K]")), 0},
		{"last cycle", testutil.ToFloat64(c.lastCycle), 1767225600},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(c.cycleDuration); n != 1 {
		t.Errorf("cycle duration series = %d, want 1", n)
	}
}

func TestCollector_DroppedAndFailures(t *testing.T) {
	c := New()
	for i := 1; i <= 3; i++ {
		//nolint:errcheck // Present never fails
		c.Present(context.Background(), scheduler.Cycle{Dropped: true, PersistFailures: i, PersistAttempts: 5})
	}

	if got := testutil.ToFloat64(c.dropped); got != 3 {
		t.Errorf("dropped = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.persistFailures); got != 3 {
		t.Errorf("consecutive failures = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.persistAttempts); got != 15 {
		t.Errorf("persist attempts = %v, want 15", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	//nolint:errcheck // Present never fails
	c.Present(context.Background(), scheduler.Cycle{Rows: []scheduler.Row{{Source: "LS336", Channel: "A.setpoint[K]", Value: f(80)}}})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"lakeshore_cycles_total 1",
		`lakeshore_channel_value{channel="A.setpoint[K]",source="LS336"} 80`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
