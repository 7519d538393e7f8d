package instrument

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/lakeshore-logger/internal/channel"
)

// Logger defines the logging interface used by the gateway.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// source is one attached instrument. mu serialises queries on its transport.
type source struct {
	id        string
	transport Transport

	mu   sync.Mutex
	open bool
}

// Gateway owns one transport per source and answers polls for them.
//
// Thread Safety:
//   - Poll may be called concurrently for different sources.
//   - Polls for the same source are serialised.
type Gateway struct {
	mu      sync.RWMutex
	sources map[string]*source
	order   []string
	closed  bool

	logger Logger
}

// NewGateway creates a gateway with no sources attached.
func NewGateway() *Gateway {
	return &Gateway{
		sources: make(map[string]*source),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the gateway.
func (g *Gateway) SetLogger(logger Logger) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	g.logger = logger
}

func (g *Gateway) log() Logger {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.logger
}

// Attach registers a transport for a source. The transport is not opened.
func (g *Gateway) Attach(id string, t Transport) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.sources[id]; ok {
		return fmt.Errorf("instrument: source %s already attached", id)
	}
	g.sources[id] = &source{id: id, transport: t}
	g.order = append(g.order, id)
	return nil
}

// Connect opens every attached source. A source that fails to open is logged
// and retried on its next Poll; the returned error joins all open failures
// so callers can report them, but the gateway stays usable.
func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.RLock()
	order := append([]string(nil), g.order...)
	g.mu.RUnlock()

	var errs []error
	for _, id := range order {
		src, err := g.source(id)
		if err != nil {
			return err
		}

		src.mu.Lock()
		err = g.openLocked(ctx, src)
		src.mu.Unlock()

		if err != nil {
			g.log().Warn("opening instrument failed", "source", id, "error", err)
			errs = append(errs, err)
			continue
		}
		g.log().Info("instrument opened", "source", id)
	}
	return errors.Join(errs...)
}

// Poll queries each channel of one source.
//
// A reply that is not a number degrades that channel to a null Reading with a
// warning. An unreachable source, or a transport failure on any query, fails
// the whole source with ErrSourceUnavailable; the connection is dropped and
// reopened on the next Poll.
func (g *Gateway) Poll(ctx context.Context, sourceID string, channels []channel.Channel) (map[string]Reading, error) {
	src, err := g.source(sourceID)
	if err != nil {
		return nil, err
	}

	src.mu.Lock()
	defer src.mu.Unlock()

	if !src.open {
		if err := g.openLocked(ctx, src); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, sourceID, err)
		}
		g.log().Info("instrument reopened", "source", sourceID)
	}

	readings := make(map[string]Reading, len(channels))
	for _, ch := range channels {
		raw, err := src.transport.Query(ctx, ch.Query)
		if err != nil {
			g.dropLocked(src)
			return nil, fmt.Errorf("%w: %s: %s: %w", ErrSourceUnavailable, sourceID, ch.Name, err)
		}
		readings[ch.Name] = NewReading(sourceID, ch.Name, raw)
	}
	return readings, nil
}

// Close closes every transport exactly once. Later Polls fail with ErrGatewayClosed.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	order := append([]string(nil), g.order...)
	g.mu.Unlock()

	var errs []error
	for _, id := range order {
		src := g.sources[id]
		src.mu.Lock()
		if err := src.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", id, err))
		}
		src.open = false
		src.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Sources returns attached source ids in attach order.
func (g *Gateway) Sources() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

func (g *Gateway) source(id string) (*source, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return nil, ErrGatewayClosed
	}
	src, ok := g.sources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return src, nil
}

func (g *Gateway) openLocked(ctx context.Context, src *source) error {
	if err := src.transport.Open(ctx); err != nil {
		return err
	}
	src.open = true
	return nil
}

func (g *Gateway) dropLocked(src *source) {
	src.open = false
	if err := src.transport.Close(); err != nil {
		g.log().Debug("closing failed transport", "source", src.id, "error", err)
	}
}
