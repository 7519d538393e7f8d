// Package scheduler drives the fixed-cadence sampling loop.
//
// Each cycle polls every source (concurrently, one task per source), builds
// exactly one row per configured channel in registry order, writes the rows
// in one transaction with bounded retry on contention, records them in the
// rolling cache, and hands the cycle to the sink. Cycles never overlap.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/lakeshore-logger/internal/channel"
	"github.com/nerrad567/lakeshore-logger/internal/instrument"
	"github.com/nerrad567/lakeshore-logger/internal/series"
	"github.com/nerrad567/lakeshore-logger/internal/store"
)

// Default retry policy for contended writes.
const (
	DefaultRetryAttempts  = 5
	DefaultRetryBaseDelay = 200 * time.Millisecond
)

// Gateway polls one source's channels.
type Gateway interface {
	Poll(ctx context.Context, source string, channels []channel.Channel) (map[string]instrument.Reading, error)
	Close() error
}

// Store writes one cycle's samples atomically.
type Store interface {
	WriteBatch(ctx context.Context, samples []store.Sample) error
	Close() error
}

// Logger defines the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds the run parameters. They are resolved by the caller;
// the scheduler reads no environment or files.
type Config struct {
	// Interval is the time between cycle starts.
	Interval time.Duration

	// LogInterval throttles persistence. Zero persists every cycle.
	LogInterval time.Duration

	// Sources restricts polling to these registry sources. Empty means all.
	Sources []string

	// MaxParallel bounds concurrent source polls. Zero means one per source.
	MaxParallel int

	// PollTimeout bounds one source poll. Zero leaves it to the transport.
	PollTimeout time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// Deps are the collaborators a scheduler owns or feeds.
// Gateway and Store are closed by the scheduler when its run ends.
type Deps struct {
	Registry *channel.Registry
	Gateway  Gateway
	Store    Store
	Cache    *series.Cache
	Sink     Sink
	Logger   Logger
}

// sourcePlan is one source and its channels for the run.
type sourcePlan struct {
	id       string
	channels []channel.Channel
}

// Scheduler runs the sampling loop. Create with New; call Run once.
type Scheduler struct {
	cfg      Config
	plan     []sourcePlan
	channels []channel.Channel

	gateway Gateway
	store   Store
	cache   *series.Cache
	sink    Sink
	logger  Logger

	state       atomic.Int32
	cycles      atomic.Uint64
	running     atomic.Bool
	releaseOnce sync.Once

	lastPersist     time.Time
	persistFailures int

	// Replaceable in tests.
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	onTransition func(from, to State, cycle uint64)
}

// New validates cfg and resolves the channel set once for the whole run.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if cfg.LogInterval < 0 {
		return nil, fmt.Errorf("%w: log interval must not be negative", ErrInvalidConfig)
	}
	if deps.Registry == nil || deps.Gateway == nil || deps.Store == nil {
		return nil, fmt.Errorf("%w: registry, gateway, and store are required", ErrInvalidConfig)
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}

	s := &Scheduler{
		cfg:     cfg,
		gateway: deps.Gateway,
		store:   deps.Store,
		cache:   deps.Cache,
		sink:    deps.Sink,
		logger:  deps.Logger,
		now:     time.Now,
		sleep:   sleepContext,
	}
	if s.cache == nil {
		s.cache = series.NewCache()
	}
	if s.sink == nil {
		s.sink = Sinks{}
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}

	known := make(map[string]bool)
	for _, id := range deps.Registry.Sources() {
		known[id] = true
	}
	for _, id := range cfg.Sources {
		if !known[id] {
			return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidConfig, id)
		}
	}

	s.channels = deps.Registry.Channels(cfg.Sources...)
	if len(s.channels) == 0 {
		return nil, fmt.Errorf("%w: no channels to poll", ErrInvalidConfig)
	}
	for _, ch := range s.channels {
		if n := len(s.plan); n > 0 && s.plan[n-1].id == ch.Source {
			s.plan[n-1].channels = append(s.plan[n-1].channels, ch)
			continue
		}
		s.plan = append(s.plan, sourcePlan{id: ch.Source, channels: []channel.Channel{ch}})
	}

	return s, nil
}

// State returns the current state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Cycles returns the number of cycles started.
func (s *Scheduler) Cycles() uint64 {
	return s.cycles.Load()
}

// Channels returns the channels polled every cycle, in row order.
func (s *Scheduler) Channels() []channel.Channel {
	return append([]channel.Channel(nil), s.channels...)
}

// Cache returns the rolling cache fed by the scheduler.
func (s *Scheduler) Cache() *series.Cache {
	return s.cache
}

// Run loops until ctx is cancelled, then releases the gateway and the store.
//
// Cancellation is checked before each cycle starts and during the wait.
// A cycle that has started polling runs to completion (persist and present)
// so the gateway is never abandoned mid-read and polled data is not lost.
// Run returns nil on cancellation; the loop itself never fails.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.release()

	s.logger.Info("scheduler started",
		"interval", s.cfg.Interval,
		"log_interval", s.cfg.LogInterval,
		"channels", len(s.channels),
		"sources", len(s.plan),
	)

	for {
		if ctx.Err() != nil {
			s.transition(StateStopped)
			return nil
		}

		c := s.runCycle(ctx)

		s.transition(StateWaiting)
		remaining := s.cfg.Interval - s.now().Sub(c.Started)
		if remaining < 0 {
			remaining = 0
		}
		if err := s.sleep(ctx, remaining); err != nil {
			s.transition(StateStopped)
			return nil
		}
		if ctx.Err() != nil {
			s.transition(StateStopped)
			return nil
		}
		s.transition(StateIdle)
	}
}

// runCycle performs Polling, Persisting, and Presenting for one cycle.
func (s *Scheduler) runCycle(ctx context.Context) Cycle {
	index := s.cycles.Add(1)
	started := s.now()
	// The cycle finishes even if a stop arrives while it runs.
	work := context.WithoutCancel(ctx)

	c := Cycle{
		Index:     index,
		Started:   started,
		Timestamp: store.FormatTimestamp(started),
	}

	s.transition(StatePolling)
	results := s.pollAll(work)
	s.buildRows(&c, results)

	s.transition(StatePersisting)
	s.persistCycle(work, &c)

	s.transition(StatePresenting)
	for _, row := range c.Rows {
		s.cache.Record(row.Key(), row.Value)
	}
	c.Duration = s.now().Sub(started)
	if err := s.sink.Present(work, c); err != nil {
		s.logger.Warn("presenting cycle failed", "cycle", c.Index, "error", err)
	}

	s.logger.Debug("cycle complete",
		"cycle", c.Index,
		"persisted", c.Persisted,
		"warnings", len(c.Warnings),
		"duration", c.Duration,
	)
	return c
}

// sourceResult is one source's poll outcome.
type sourceResult struct {
	readings map[string]instrument.Reading
	err      error
}

// pollAll polls every source and waits for all of them. A failure or panic
// in one source is recorded for that source only.
func (s *Scheduler) pollAll(ctx context.Context) []sourceResult {
	results := make([]sourceResult, len(s.plan))

	var g errgroup.Group
	if s.cfg.MaxParallel > 0 {
		g.SetLimit(s.cfg.MaxParallel)
	}

	for i, src := range s.plan {
		g.Go(func() error {
			results[i] = s.pollSource(ctx, src)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // Tasks record failures in results and never return errors

	return results
}

func (s *Scheduler) pollSource(ctx context.Context, src sourcePlan) (res sourceResult) {
	defer func() {
		if r := recover(); r != nil {
			res = sourceResult{err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if s.cfg.PollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PollTimeout)
		defer cancel()
	}

	readings, err := s.gateway.Poll(ctx, src.id, src.channels)
	return sourceResult{readings: readings, err: err}
}

// buildRows emits one row per configured channel in registry order.
func (s *Scheduler) buildRows(c *Cycle, results []sourceResult) {
	c.Rows = make([]Row, 0, len(s.channels))

	for i, src := range s.plan {
		res := results[i]
		if res.err != nil {
			warning := fmt.Sprintf("%s poll failed: %v", src.id, res.err)
			c.Warnings = append(c.Warnings, warning)
			c.FailedSources = append(c.FailedSources, src.id)
			s.logger.Warn("source poll failed", "cycle", c.Index, "source", src.id, "error", res.err)

			for _, ch := range src.channels {
				c.Rows = append(c.Rows, Row{Source: src.id, Channel: ch.Name, Warning: warning})
			}
			continue
		}

		for _, ch := range src.channels {
			row := Row{Source: src.id, Channel: ch.Name}
			reading, ok := res.readings[ch.Name]
			switch {
			case !ok:
				row.Warning = fmt.Sprintf("%s returned no value for %s", src.id, ch.Name)
			default:
				row.Value = reading.Value
				row.Warning = reading.Warning
			}
			if row.Warning != "" {
				c.Warnings = append(c.Warnings, row.Warning)
			}
			c.Rows = append(c.Rows, row)
		}
	}
}

// persistCycle writes the rows unless throttled, recording the outcome on c.
func (s *Scheduler) persistCycle(ctx context.Context, c *Cycle) {
	if s.cfg.LogInterval > 0 && !s.lastPersist.IsZero() && c.Started.Sub(s.lastPersist) < s.cfg.LogInterval {
		c.Throttled = true
		return
	}

	samples := make([]store.Sample, len(c.Rows))
	for i, row := range c.Rows {
		samples[i] = store.Sample{
			Timestamp: c.Timestamp,
			Source:    row.Source,
			Channel:   row.Channel,
			Value:     row.Value,
		}
	}

	attempts, err := s.writeWithRetry(ctx, samples)
	c.PersistAttempts = attempts

	switch {
	case err == nil:
		c.Persisted = true
		s.lastPersist = c.Started
		s.persistFailures = 0
	case store.IsContention(err):
		s.persistFailures++
		c.Dropped = true
		c.PersistFailures = s.persistFailures
		c.Warnings = append(c.Warnings, warnStoreBusy)
		s.logger.Error("cycle dropped", "cycle", c.Index, "attempts", attempts, "rows", len(samples), "error", err)
	default:
		s.persistFailures++
		c.PersistFailures = s.persistFailures
		c.Warnings = append(c.Warnings, fmt.Sprintf("store write failed: %v", err))
		s.logger.Error("store write failed",
			"cycle", c.Index,
			"consecutive_failures", s.persistFailures,
			"error", err,
		)
	}
}

// writeWithRetry attempts the batch up to RetryAttempts times, doubling the
// delay after each contended attempt. Other errors are returned at once.
func (s *Scheduler) writeWithRetry(ctx context.Context, samples []store.Sample) (int, error) {
	delay := s.cfg.RetryBaseDelay
	var err error

	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		err = s.store.WriteBatch(ctx, samples)
		if err == nil {
			return attempt, nil
		}
		if !store.IsContention(err) {
			return attempt, err
		}
		if attempt == s.cfg.RetryAttempts {
			break
		}

		s.logger.Debug("store busy, retrying", "attempt", attempt, "delay", delay)
		if serr := s.sleep(ctx, delay); serr != nil {
			return attempt, fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		}
		delay *= 2
	}

	return s.cfg.RetryAttempts, fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
}

// release closes the gateway, then the store, exactly once. Failures are logged.
func (s *Scheduler) release() {
	s.releaseOnce.Do(func() {
		if err := s.gateway.Close(); err != nil {
			s.logger.Error("closing gateway failed", "error", err)
		}
		if err := s.store.Close(); err != nil {
			s.logger.Error("closing store failed", "error", err)
		}
		s.logger.Info("scheduler stopped", "cycles", s.cycles.Load())
	})
}

func (s *Scheduler) transition(to State) {
	from := State(s.state.Swap(int32(to)))
	if s.onTransition != nil {
		s.onTransition(from, to, s.cycles.Load())
	}
}

// sleepContext waits d or until ctx is done, whichever is first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
