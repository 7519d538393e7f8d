package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lakeshore-logger/internal/channel"
	"github.com/nerrad567/lakeshore-logger/internal/export"
	"github.com/nerrad567/lakeshore-logger/internal/series"
	"github.com/nerrad567/lakeshore-logger/internal/store"
)

const (
	defaultTrendWidth = 40

	defaultSampleLimit = 1000
	maxSampleLimit     = 10000
)

// Reading is one channel's latest state with its trend.
type Reading struct {
	Source  string   `json:"source"`
	Channel string   `json:"channel"`
	Unit    string   `json:"unit,omitempty"`
	Value   *float64 `json:"value"`
	Warning string   `json:"warning,omitempty"`
	Trend   string   `json:"trend"`
}

// ReadingsResponse is returned by GET /api/v1/readings.
type ReadingsResponse struct {
	Cycle     uint64    `json:"cycle"`
	Timestamp string    `json:"timestamp,omitempty"`
	Persisted bool      `json:"persisted"`
	Warnings  []string  `json:"warnings"`
	Readings  []Reading `json:"readings"`
}

// SeriesPoint is one rolling-cache entry. Value is null for a missing reading.
type SeriesPoint struct {
	Value *float64 `json:"value"`
}

// SeriesResponse is returned by GET /api/v1/series/{source}/{channel}.
type SeriesResponse struct {
	Source   string        `json:"source"`
	Channel  string        `json:"channel"`
	Capacity int           `json:"capacity"`
	Points   []SeriesPoint `json:"points"`
	Trend    string        `json:"trend"`
}

// Sample is one persisted row in API form.
type Sample struct {
	Timestamp string   `json:"timestamp"`
	Source    string   `json:"source"`
	Channel   string   `json:"channel"`
	Value     *float64 `json:"value"`
	Extra     *string  `json:"extra,omitempty"`
}

// SamplesResponse is returned by GET /api/v1/samples.
type SamplesResponse struct {
	Count   int      `json:"count"`
	Samples []Sample `json:"samples"`
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Version          string           `json:"version"`
	UptimeSeconds    int64            `json:"uptime_seconds"`
	State            string           `json:"state,omitempty"`
	Cycles           uint64           `json:"cycles"`
	Channels         int              `json:"channels"`
	WebSocketClients int              `json:"websocket_clients"`
	LastCycle        *LastCycleStatus `json:"last_cycle,omitempty"`
	Database         *DatabaseStatus  `json:"database,omitempty"`
}

// LastCycleStatus summarises the most recent cycle.
type LastCycleStatus struct {
	Index         uint64   `json:"index"`
	Timestamp     string   `json:"timestamp"`
	Persisted     bool     `json:"persisted"`
	Dropped       bool     `json:"dropped,omitempty"`
	NullCount     int      `json:"null_count"`
	Warnings      []string `json:"warnings"`
	FailedSources []string `json:"failed_sources,omitempty"`
	DurationMS    int64    `json:"duration_ms"`
}

// DatabaseStatus contains connection pool statistics.
type DatabaseStatus struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleReadings returns the latest value, warning, and trend for every channel.
// Before the first cycle every value is null.
func (s *Server) handleReadings(w http.ResponseWriter, _ *http.Request) {
	resp := ReadingsResponse{Warnings: []string{}, Readings: []Reading{}}

	latest, ok := s.Latest()
	rows := make(map[channel.Key]Reading)
	if ok {
		resp.Cycle = latest.Index
		resp.Timestamp = latest.Timestamp
		resp.Persisted = latest.Persisted
		if latest.Warnings != nil {
			resp.Warnings = latest.Warnings
		}
		for _, row := range latest.Rows {
			rows[row.Key()] = Reading{Value: row.Value, Warning: row.Warning}
		}
	}

	for _, ch := range s.channels {
		rd := rows[ch.Key()]
		rd.Source = ch.Source
		rd.Channel = ch.Name
		rd.Unit = ch.Unit()
		rd.Trend = s.cache.RenderTrend(ch.Key(), s.trendWidth)
		resp.Readings = append(resp.Readings, rd)
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSeries returns the rolling snapshot for one channel.
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	source, err := url.PathUnescape(chi.URLParam(r, "source"))
	if err != nil {
		writeBadRequest(w, "invalid source")
		return
	}
	name, err := url.PathUnescape(chi.URLParam(r, "channel"))
	if err != nil {
		writeBadRequest(w, "invalid channel")
		return
	}

	key := channel.Key{Source: source, Channel: name}
	if !s.knownChannel(key) {
		writeNotFound(w, "unknown channel "+key.String())
		return
	}

	width := s.trendWidth
	if v := r.URL.Query().Get("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > series.Capacity {
			writeBadRequest(w, "width must be between 1 and "+strconv.Itoa(series.Capacity))
			return
		}
		width = n
	}

	snapshot := s.cache.Snapshot(key)
	points := make([]SeriesPoint, len(snapshot))
	for i, p := range snapshot {
		if p.Valid {
			v := p.Value
			points[i].Value = &v
		}
	}

	writeJSON(w, http.StatusOK, SeriesResponse{
		Source:   source,
		Channel:  name,
		Capacity: series.Capacity,
		Points:   points,
		Trend:    series.RenderTrend(snapshot, width),
	})
}

// handleSamples returns persisted history ordered by timestamp.
func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history is not available")
		return
	}

	q := r.URL.Query()
	rng := store.Range{Source: q.Get("source"), Limit: defaultSampleLimit}

	var err error
	if v := q.Get("start"); v != "" {
		if rng.Start, err = export.ParseBound(v, true, time.UTC); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
	}
	if v := q.Get("end"); v != "" {
		if rng.End, err = export.ParseBound(v, false, time.UTC); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
	}
	if !rng.Start.IsZero() && !rng.End.IsZero() && rng.End.Before(rng.Start) {
		writeBadRequest(w, "end is before start")
		return
	}
	if v := q.Get("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 || n > maxSampleLimit {
			writeBadRequest(w, "limit must be between 1 and "+strconv.Itoa(maxSampleLimit))
			return
		}
		rng.Limit = n
	}

	samples, err := s.history.Query(r.Context(), rng)
	if err != nil {
		if errors.Is(err, store.ErrContention) {
			writeUnavailable(w, "database busy, retry shortly")
			return
		}
		s.logger.Error("querying samples failed", "error", err)
		writeInternalError(w, "failed to query samples")
		return
	}

	out := make([]Sample, len(samples))
	for i, smp := range samples {
		out[i] = Sample{
			Timestamp: smp.Timestamp,
			Source:    smp.Source,
			Channel:   smp.Channel,
			Value:     smp.Value,
			Extra:     smp.Extra,
		}
	}

	writeJSON(w, http.StatusOK, SamplesResponse{Count: len(out), Samples: out})
}

// handleStatus reports scheduler progress and the last cycle.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Version:          s.version,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
		Channels:         len(s.channels),
		WebSocketClients: s.hub.ClientCount(),
	}

	if s.status != nil {
		resp.State = s.status.State().String()
		resp.Cycles = s.status.Cycles()
	}

	if c, ok := s.Latest(); ok {
		warnings := c.Warnings
		if warnings == nil {
			warnings = []string{}
		}
		resp.LastCycle = &LastCycleStatus{
			Index:         c.Index,
			Timestamp:     c.Timestamp,
			Persisted:     c.Persisted,
			Dropped:       c.Dropped,
			NullCount:     c.NullCount(),
			Warnings:      warnings,
			FailedSources: c.FailedSources,
			DurationMS:    c.Duration.Milliseconds(),
		}
	}

	if s.dbStats != nil {
		st := s.dbStats.Stats()
		resp.Database = &DatabaseStatus{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			Idle:            st.Idle,
			WaitCount:       st.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) knownChannel(key channel.Key) bool {
	for _, ch := range s.channels {
		if ch.Key() == key {
			return true
		}
	}
	return false
}
