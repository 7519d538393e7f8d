package instrument

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/nerrad567/lakeshore-logger/internal/channel"
)

// Profile is a linear synthetic signal: Base + n*Delta for the n-th reading.
type Profile struct {
	Base  float64
	Delta float64
}

// At returns the profile value for step n.
func (p Profile) At(n int) float64 {
	return p.Base + float64(n)*p.Delta
}

// ProfiledChannel binds a profile to a channel.
type ProfiledChannel struct {
	Key     channel.Key
	Profile Profile
}

// DefaultProfiles is the bench used for simulation and dummy databases,
// in registry order.
var DefaultProfiles = []ProfiledChannel{
	{channel.Key{Source: "LS330BB", Channel: "setpoint[K]"}, Profile{80.0, 0.05}},
	{channel.Key{Source: "LS330BB", Channel: "temperature[K]"}, Profile{79.2, 0.04}},
	{channel.Key{Source: "LS330BB", Channel: "heater[%]"}, Profile{42.0, -0.6}},
	{channel.Key{Source: "LS330SP", Channel: "setpoint[K]"}, Profile{85.0, 0.03}},
	{channel.Key{Source: "LS330SP", Channel: "temperature[K]"}, Profile{84.1, 0.05}},
	{channel.Key{Source: "LS330SP", Channel: "heater[%]"}, Profile{48.0, -0.4}},
	{channel.Key{Source: "LS336", Channel: "A.setpoint[K]"}, Profile{110.0, 0.02}},
	{channel.Key{Source: "LS336", Channel: "A.temperature[K]"}, Profile{108.7, 0.03}},
	{channel.Key{Source: "LS336", Channel: "B.setpoint[K]"}, Profile{112.5, -0.01}},
	{channel.Key{Source: "LS336", Channel: "B.temperature[K]"}, Profile{111.9, -0.02}},
}

// fallbackProfile drives channels missing from DefaultProfiles.
var fallbackProfile = Profile{Base: 100.0, Delta: 0.01}

// LookupProfile returns the default profile for key, or a gentle ramp.
func LookupProfile(key channel.Key) Profile {
	for _, pc := range DefaultProfiles {
		if pc.Key == key {
			return pc.Profile
		}
	}
	return fallbackProfile
}

// SimTransport answers queries from profiles instead of hardware.
type SimTransport struct {
	mu       sync.Mutex
	open     bool
	profiles map[string]Profile // by query
	steps    map[string]int
	replies  map[string]string
	openErr  error
}

// NewSimTransport builds a simulated instrument answering the given channels' queries.
func NewSimTransport(channels []channel.Channel) *SimTransport {
	s := &SimTransport{
		profiles: make(map[string]Profile, len(channels)),
		steps:    make(map[string]int, len(channels)),
		replies:  make(map[string]string),
	}
	for _, ch := range channels {
		s.profiles[ch.Query] = LookupProfile(ch.Key())
	}
	return s
}

// SetReply pins the raw reply for a query, e.g. "OL" to exercise degradation.
// An empty raw clears the override.
func (s *SimTransport) SetReply(query, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if raw == "" {
		delete(s.replies, query)
		return
	}
	s.replies[query] = raw
}

// SetOpenError makes subsequent Open calls fail with err. Nil clears it.
func (s *SimTransport) SetOpenError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErr = err
}

// Open marks the simulated instrument reachable.
func (s *SimTransport) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return s.openErr
	}
	s.open = true
	return nil
}

// Query returns the next profile value formatted the way the controllers do.
func (s *SimTransport) Query(ctx context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return "", ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("query %q: %w", cmd, err)
	}
	if raw, ok := s.replies[cmd]; ok {
		return raw, nil
	}

	p, ok := s.profiles[cmd]
	if !ok {
		return "", fmt.Errorf("query %q: no such command", cmd)
	}
	n := s.steps[cmd]
	s.steps[cmd] = n + 1
	return strconv.FormatFloat(p.At(n), 'f', 3, 64), nil
}

// Close marks the simulated instrument unreachable.
func (s *SimTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}
