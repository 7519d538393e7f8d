// Package channel describes every pollable instrument channel.
//
// The registry is built once at startup from configuration and never changes
// during a run. Its ordering (sources in declaration order, channels in
// declaration order within each source) is the row order used for display,
// persistence, and tests.
package channel

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicate is returned when a source or channel is registered twice.
var ErrDuplicate = errors.New("channel: duplicate registration")

// Key identifies a channel across sources.
type Key struct {
	Source  string
	Channel string
}

// String renders the key as "source/channel".
func (k Key) String() string {
	return k.Source + "/" + k.Channel
}

// Channel is one named measurement or setpoint on one instrument.
type Channel struct {
	Source string
	Name   string // unit encoded, e.g. "temperature[K]"
	Query  string // command sent to the instrument
}

// Key returns the channel's identity.
func (c Channel) Key() Key {
	return Key{Source: c.Source, Channel: c.Name}
}

// Unit extracts the unit from a bracketed suffix, e.g. "K" from "temperature[K]".
func (c Channel) Unit() string {
	open := strings.LastIndexByte(c.Name, '[')
	if open < 0 || !strings.HasSuffix(c.Name, "]") {
		return ""
	}
	return c.Name[open+1 : len(c.Name)-1]
}

// Registry is an ordered, immutable-after-build set of channels.
type Registry struct {
	sources  []string
	channels map[string][]Channel
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string][]Channel)}
}

// Add registers a source and its channels. Sources keep their registration order.
func (r *Registry) Add(source string, channels ...Channel) error {
	if _, ok := r.channels[source]; ok {
		return fmt.Errorf("%w: source %s", ErrDuplicate, source)
	}

	seen := make(map[string]bool, len(channels))
	list := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if seen[ch.Name] {
			return fmt.Errorf("%w: channel %s/%s", ErrDuplicate, source, ch.Name)
		}
		seen[ch.Name] = true
		ch.Source = source
		list = append(list, ch)
	}

	r.sources = append(r.sources, source)
	r.channels[source] = list
	return nil
}

// Sources returns the registered source ids in registration order.
func (r *Registry) Sources() []string {
	out := make([]string, len(r.sources))
	copy(out, r.sources)
	return out
}

// Source returns the channels of one source in registration order.
func (r *Registry) Source(source string) []Channel {
	list := r.channels[source]
	out := make([]Channel, len(list))
	copy(out, list)
	return out
}

// Channels returns every channel in registry order, optionally restricted to
// the given sources. The filter does not reorder: registration order wins.
func (r *Registry) Channels(sources ...string) []Channel {
	var want map[string]bool
	if len(sources) > 0 {
		want = make(map[string]bool, len(sources))
		for _, s := range sources {
			want[s] = true
		}
	}

	var out []Channel
	for _, s := range r.sources {
		if want != nil && !want[s] {
			continue
		}
		out = append(out, r.channels[s]...)
	}
	return out
}

// Len returns the total number of channels.
func (r *Registry) Len() int {
	n := 0
	for _, list := range r.channels {
		n += len(list)
	}
	return n
}
