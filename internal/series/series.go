// Package series keeps a bounded rolling history per channel and renders
// it as a one-line trend.
package series

import (
	"strings"
	"sync"

	"github.com/nerrad567/lakeshore-logger/internal/channel"
)

// Capacity is the number of most recent entries kept per channel.
const Capacity = 120

// Trend glyphs.
const (
	levels      = "▁▂▃▄▅▆▇█"
	nullGlyph   = "·"
	flatGlyph   = "▆"
	padGlyph    = " "
	levelsCount = 8
)

var levelGlyphs = strings.Split(levels, "")

// Point is one recorded entry. Valid is false for a null reading.
type Point struct {
	Value float64
	Valid bool
}

// ring is a fixed-capacity buffer. start indexes the oldest entry.
type ring struct {
	mu     sync.RWMutex
	buf    []Point
	start  int
	length int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Point, capacity)}
}

func (r *ring) push(p Point) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.length < len(r.buf) {
		r.buf[(r.start+r.length)%len(r.buf)] = p
		r.length++
		return
	}
	r.buf[r.start] = p
	r.start = (r.start + 1) % len(r.buf)
}

// snapshot copies the entries oldest first.
func (r *ring) snapshot() []Point {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Point, r.length)
	for i := range out {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Cache holds one ring per channel, created on first Record.
//
// Thread Safety:
//   - Record and the read methods may run concurrently. Each channel has its
//     own lock; there is no ordering across channels.
type Cache struct {
	mu       sync.RWMutex
	series   map[channel.Key]*ring
	capacity int
}

// NewCache creates an empty cache holding Capacity entries per channel.
func NewCache() *Cache {
	return NewCacheWithCapacity(Capacity)
}

// NewCacheWithCapacity creates a cache with a custom per-channel capacity.
// Capacities below 1 are raised to 1.
func NewCacheWithCapacity(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		series:   make(map[channel.Key]*ring),
		capacity: capacity,
	}
}

// Record appends a reading; a nil value is stored as a null entry so that
// every channel advances by one entry per cycle.
func (c *Cache) Record(key channel.Key, value *float64) {
	p := Point{}
	if value != nil {
		p = Point{Value: *value, Valid: true}
	}
	c.ring(key).push(p)
}

func (c *Cache) ring(key channel.Key) *ring {
	c.mu.RLock()
	r, ok := c.series[key]
	c.mu.RUnlock()
	if ok {
		return r
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.series[key]; ok {
		return r
	}
	r = newRing(c.capacity)
	c.series[key] = r
	return r
}

// Snapshot returns a copy of the channel's entries, oldest first.
// Unknown channels return an empty slice.
func (c *Cache) Snapshot(key channel.Key) []Point {
	c.mu.RLock()
	r, ok := c.series[key]
	c.mu.RUnlock()
	if !ok {
		return []Point{}
	}
	return r.snapshot()
}

// Latest returns the newest entry and whether the channel has any.
func (c *Cache) Latest(key channel.Key) (Point, bool) {
	snap := c.Snapshot(key)
	if len(snap) == 0 {
		return Point{}, false
	}
	return snap[len(snap)-1], true
}

// Keys returns the channels seen so far, in no particular order.
func (c *Cache) Keys() []channel.Key {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]channel.Key, 0, len(c.series))
	for k := range c.series {
		out = append(out, k)
	}
	return out
}

// RenderTrend renders the channel's most recent width entries.
func (c *Cache) RenderTrend(key channel.Key, width int) string {
	return RenderTrend(c.Snapshot(key), width)
}

// RenderTrend maps the last width points onto eight block glyphs scaled to
// the window's min and max. Null points render as "·". A window without any
// numeric point is a placeholder of width "·" glyphs; a window with no spread
// renders every numeric point as "▆". The result is always exactly width
// glyphs, right-padded with spaces when there are fewer points than width.
func RenderTrend(points []Point, width int) string {
	if width <= 0 {
		return ""
	}
	if len(points) > width {
		points = points[len(points)-width:]
	}

	lo, hi, ok := bounds(points)
	if !ok {
		return strings.Repeat(nullGlyph, width)
	}

	var b strings.Builder
	for _, p := range points {
		switch {
		case !p.Valid:
			b.WriteString(nullGlyph)
		case hi == lo:
			b.WriteString(flatGlyph)
		default:
			idx := int((p.Value - lo) / (hi - lo) * (levelsCount - 1))
			b.WriteString(levelGlyphs[clamp(idx, 0, levelsCount-1)])
		}
	}
	b.WriteString(strings.Repeat(padGlyph, width-len(points)))
	return b.String()
}

func bounds(points []Point) (lo, hi float64, ok bool) {
	for _, p := range points {
		if !p.Valid {
			continue
		}
		if !ok {
			lo, hi, ok = p.Value, p.Value, true
			continue
		}
		if p.Value < lo {
			lo = p.Value
		}
		if p.Value > hi {
			hi = p.Value
		}
	}
	return lo, hi, ok
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
