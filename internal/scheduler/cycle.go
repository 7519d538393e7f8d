package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/lakeshore-logger/internal/channel"
)

// State is a scheduler lifecycle state.
type State int32

// Scheduler states. A run loops Idle → Polling → Persisting → Presenting →
// Waiting → Idle until cancelled, then ends in Stopped.
const (
	StateIdle State = iota
	StatePolling
	StatePersisting
	StatePresenting
	StateWaiting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StatePersisting:
		return "persisting"
	case StatePresenting:
		return "presenting"
	case StateWaiting:
		return "waiting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Row is one channel's result in a cycle. Value is nil for a null reading;
// Warning explains why.
type Row struct {
	Source  string   `json:"source" msgpack:"source"`
	Channel string   `json:"channel" msgpack:"channel"`
	Value   *float64 `json:"value" msgpack:"value"`
	Warning string   `json:"warning,omitempty" msgpack:"warning,omitempty"`
}

// Key returns the row's channel identity.
func (r Row) Key() channel.Key {
	return channel.Key{Source: r.Source, Channel: r.Channel}
}

// Cycle is everything one scheduler iteration produced. Rows hold exactly one
// entry per configured channel, in registry order.
type Cycle struct {
	Index     uint64    `json:"index" msgpack:"index"`
	Started   time.Time `json:"started" msgpack:"started"`
	Timestamp string    `json:"timestamp" msgpack:"timestamp"`
	Rows      []Row     `json:"rows" msgpack:"rows"`
	Warnings  []string  `json:"warnings" msgpack:"warnings"`

	// Persisted is true when the rows were committed this cycle.
	Persisted bool `json:"persisted" msgpack:"persisted"`
	// Throttled is true when persistence was skipped by the log interval.
	Throttled bool `json:"throttled,omitempty" msgpack:"throttled,omitempty"`
	// Dropped is true when contention outlasted every retry.
	Dropped         bool `json:"dropped,omitempty" msgpack:"dropped,omitempty"`
	PersistAttempts int  `json:"persist_attempts" msgpack:"persist_attempts"`
	// PersistFailures counts consecutive cycles whose write failed, this one included.
	PersistFailures int `json:"persist_failures,omitempty" msgpack:"persist_failures,omitempty"`

	FailedSources []string      `json:"failed_sources,omitempty" msgpack:"failed_sources,omitempty"`
	Duration      time.Duration `json:"duration_ns" msgpack:"duration_ns"`
}

// NullCount returns the number of rows without a value.
func (c Cycle) NullCount() int {
	n := 0
	for _, r := range c.Rows {
		if r.Value == nil {
			n++
		}
	}
	return n
}

// Sink receives every completed cycle.
type Sink interface {
	Present(ctx context.Context, c Cycle) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, c Cycle) error

// Present calls f.
func (f SinkFunc) Present(ctx context.Context, c Cycle) error {
	return f(ctx, c)
}

// Sinks presents to each sink in order. Every sink is called even if an
// earlier one fails; the errors are joined.
type Sinks []Sink

// Present fans the cycle out.
func (s Sinks) Present(ctx context.Context, c Cycle) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Present(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
