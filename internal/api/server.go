package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/lakeshore-logger/internal/channel"
	"github.com/nerrad567/lakeshore-logger/internal/infrastructure/config"
	"github.com/nerrad567/lakeshore-logger/internal/infrastructure/logging"
	"github.com/nerrad567/lakeshore-logger/internal/scheduler"
	"github.com/nerrad567/lakeshore-logger/internal/series"
	"github.com/nerrad567/lakeshore-logger/internal/store"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// WSChannelCycle is the WebSocket channel every completed cycle is broadcast on.
const WSChannelCycle = "cycle"

// HistoryReader reads persisted samples. Implemented by *store.SQLiteStore.
type HistoryReader interface {
	Query(ctx context.Context, r store.Range) ([]store.Sample, error)
	HealthCheck(ctx context.Context) error
}

// StatusProvider reports scheduler progress. Implemented by *scheduler.Scheduler.
type StatusProvider interface {
	State() scheduler.State
	Cycles() uint64
}

// DBStatsProvider exposes connection pool statistics.
type DBStatsProvider interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Channels   []channel.Channel
	Cache      *series.Cache
	History    HistoryReader   // optional; /samples returns 503 without it
	Status     StatusProvider  // optional
	DBStats    DBStatsProvider // optional
	Metrics    http.Handler    // optional; mounted at /metrics
	TrendWidth int
	Version    string
}

// Server is the HTTP API server. It is also a scheduler.Sink.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	channels   []channel.Channel
	cache      *series.Cache
	history    HistoryReader
	status     StatusProvider
	dbStats    DBStatsProvider
	metrics    http.Handler
	trendWidth int
	version    string
	startTime  time.Time

	server   *http.Server
	listener net.Listener
	hub      *Hub
	cancel   context.CancelFunc // cancels background goroutines on Close()

	mu     sync.RWMutex
	latest *scheduler.Cycle
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("series cache is required")
	}

	width := deps.TrendWidth
	if width <= 0 {
		width = defaultTrendWidth
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      wsDefaults(deps.WS),
		logger:     deps.Logger,
		channels:   deps.Channels,
		cache:      deps.Cache,
		history:    deps.History,
		status:     deps.Status,
		dbStats:    deps.DBStats,
		metrics:    deps.Metrics,
		trendWidth: width,
		version:    deps.Version,
		startTime:  time.Now(),
	}
	s.hub = NewHub(deps.Logger, s.replay)

	return s, nil
}

// wsDefaults fills unset WebSocket settings.
func wsDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 8192
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10
	}
	return cfg
}

// replay serves the latest cycle to new "cycle" subscribers.
func (s *Server) replay(ch string) (any, bool) {
	if ch != WSChannelCycle {
		return nil, false
	}
	c, ok := s.Latest()
	if !ok {
		return nil, false
	}
	return c, true
}

// Start begins listening for HTTP connections.
//
// The listener is bound before Start returns so a port conflict is reported
// to the caller. Requests are served in a background goroutine until Close().
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.listener = ln

	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// Present records the cycle as the latest and broadcasts it to WebSocket
// subscribers. It never blocks on slow clients.
func (s *Server) Present(_ context.Context, c scheduler.Cycle) error {
	s.mu.Lock()
	s.latest = &c
	s.mu.Unlock()

	s.hub.Broadcast(WSChannelCycle, c)
	return nil
}

// Latest returns the most recent cycle, if any.
func (s *Server) Latest() (scheduler.Cycle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return scheduler.Cycle{}, false
	}
	return *s.latest, true
}
