// Package metrics exposes poll-cycle counters and gauges to Prometheus.
//
// Collector is a scheduler.Sink: every presented cycle updates the metrics.
// It registers on its own registry, not the process-wide default.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/lakeshore-logger/internal/scheduler"
)

const namespace = "lakeshore"

// Collector holds the logger's metrics.
type Collector struct {
	registry *prometheus.Registry

	cycles          prometheus.Counter
	samples         prometheus.Counter
	nullSamples     prometheus.Counter
	warnings        prometheus.Counter
	sourceFailures  *prometheus.CounterVec
	persistAttempts prometheus.Counter
	persisted       prometheus.Counter
	dropped         prometheus.Counter
	persistFailures prometheus.Gauge
	cycleDuration   prometheus.Histogram
	lastCycle       prometheus.Gauge
	value           *prometheus.GaugeVec
	valid           *prometheus.GaugeVec
}

// New creates a collector on a fresh registry, with Go runtime and process
// collectors included.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Poll cycles completed.",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Channel samples produced, null or not.",
		}),
		nullSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "null_samples_total",
			Help:      "Channel samples without a numeric value.",
		}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Cycle warnings surfaced to operators.",
		}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Cycles in which a source could not be polled.",
		}, []string{"source"}),
		persistAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_attempts_total",
			Help:      "Store write attempts, retries included.",
		}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persisted_cycles_total",
			Help:      "Cycles committed to the store.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_cycles_total",
			Help:      "Cycles dropped after exhausting contention retries.",
		}),
		persistFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_persist_failures",
			Help:      "Consecutive cycles whose store write failed.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time from cycle start to presentation.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time of the last cycle start.",
		}),
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_value",
			Help:      "Last numeric value per channel.",
		}, []string{"source", "channel"}),
		valid: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_valid",
			Help:      "1 when the channel's last reading was numeric, else 0.",
		}, []string{"source", "channel"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.cycles, c.samples, c.nullSamples, c.warnings, c.sourceFailures,
		c.persistAttempts, c.persisted, c.dropped, c.persistFailures,
		c.cycleDuration, c.lastCycle, c.value, c.valid,
	)
	return c
}

// Present records one cycle.
func (c *Collector) Present(_ context.Context, cycle scheduler.Cycle) error {
	c.cycles.Inc()
	c.samples.Add(float64(len(cycle.Rows)))
	c.warnings.Add(float64(len(cycle.Warnings)))
	c.persistAttempts.Add(float64(cycle.PersistAttempts))
	c.persistFailures.Set(float64(cycle.PersistFailures))
	c.cycleDuration.Observe(cycle.Duration.Seconds())
	if !cycle.Started.IsZero() {
		c.lastCycle.Set(float64(cycle.Started.UnixNano()) / 1e9)
	}

	if cycle.Persisted {
		c.persisted.Inc()
	}
	if cycle.Dropped {
		c.dropped.Inc()
	}
	for _, src := range cycle.FailedSources {
		c.sourceFailures.WithLabelValues(src).Inc()
	}

	for _, row := range cycle.Rows {
		if row.Value == nil {
			c.nullSamples.Inc()
			c.valid.WithLabelValues(row.Source, row.Channel).Set(0)
			continue
		}
		// A null keeps the last numeric value; channel_valid tells them apart.
		c.value.WithLabelValues(row.Source, row.Channel).Set(*row.Value)
		c.valid.WithLabelValues(row.Source, row.Channel).Set(1)
	}
	return nil
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
