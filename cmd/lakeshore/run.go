package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nerrad567/lakeshore-logger/internal/api"
	"github.com/nerrad567/lakeshore-logger/internal/channel"
	"github.com/nerrad567/lakeshore-logger/internal/display"
	"github.com/nerrad567/lakeshore-logger/internal/infrastructure/config"
	"github.com/nerrad567/lakeshore-logger/internal/infrastructure/database"
	"github.com/nerrad567/lakeshore-logger/internal/infrastructure/influxdb"
	"github.com/nerrad567/lakeshore-logger/internal/infrastructure/logging"
	"github.com/nerrad567/lakeshore-logger/internal/infrastructure/metrics"
	"github.com/nerrad567/lakeshore-logger/internal/infrastructure/mqtt"
	"github.com/nerrad567/lakeshore-logger/internal/instrument"
	"github.com/nerrad567/lakeshore-logger/internal/scheduler"
	"github.com/nerrad567/lakeshore-logger/internal/series"
	"github.com/nerrad567/lakeshore-logger/internal/store"
)

// newRunCmd starts the logger.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start logging",
		Long: `Poll every enabled source on the configured interval, persist each cycle
to SQLite and present it.

Flags override the config file and environment.

The logger runs until interrupted (Ctrl+C) or it receives SIGTERM. A cycle
in progress is finished before shutdown.

Example:
  lakeshore run -c config.yaml
  lakeshore run --db /data/cryo.sqlite3 --interval 5 --sources LS336
  lakeshore run --simulate --display dashboard --api`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}
			quietForDashboard(cfg)

			log := logging.New(cfg.Logging, version)
			return runLogger(cmd.Context(), cfg, cmd.OutOrStdout(), log)
		},
	}

	flags := cmd.Flags()
	flags.String("db", "", "SQLite database path")
	flags.String("interval", "", "poll interval: seconds or a duration such as 1500ms")
	flags.String("log-interval", "", "minimum time between persisted cycles (0 persists every cycle)")
	flags.String("sources", "", "comma-separated source ids to poll")
	flags.Bool("simulate", false, "answer every source from simulated instruments")
	flags.String("display", "", "presentation: console, dashboard, or none")
	flags.Bool("api", false, "serve the HTTP API")

	return cmd
}

// applyRunFlags overlays flags the user set onto cfg and revalidates.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	if flags.Changed("db") {
		cfg.Database.Path, _ = flags.GetString("db")
	}
	if flags.Changed("interval") {
		v, _ := flags.GetString("interval")
		d, err := config.ParseInterval(v)
		if err != nil {
			return fmt.Errorf("--interval: %w", err)
		}
		cfg.Poll.Interval = d
	}
	if flags.Changed("log-interval") {
		v, _ := flags.GetString("log-interval")
		d, err := config.ParseInterval(v)
		if err != nil {
			return fmt.Errorf("--log-interval: %w", err)
		}
		cfg.Poll.LogInterval = d
	}
	if flags.Changed("sources") {
		v, _ := flags.GetString("sources")
		if err := cfg.SelectSources(config.SplitList(v)); err != nil {
			return fmt.Errorf("--sources: %w", err)
		}
	}
	if simulate, _ := flags.GetBool("simulate"); simulate {
		cfg.UseSimulation()
	}
	if flags.Changed("display") {
		cfg.Display.Mode, _ = flags.GetString("display")
	}
	if enabled, _ := flags.GetBool("api"); enabled {
		cfg.API.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// quietForDashboard keeps log lines from tearing the dashboard unless
// debugging was asked for.
func quietForDashboard(cfg *config.Config) {
	if cfg.Display.Mode != config.DisplayDashboard || strings.EqualFold(cfg.Logging.Level, "debug") {
		return
	}
	switch strings.ToLower(cfg.Logging.Output) {
	case "stdout", "stderr", "":
		cfg.Logging.Output = "discard"
	}
}

// buildRegistry registers every enabled source's channels in config order.
func buildRegistry(cfg *config.Config) (*channel.Registry, error) {
	registry := channel.NewRegistry()
	for _, src := range cfg.ActiveSources() {
		channels := make([]channel.Channel, 0, len(src.Channels))
		for _, ch := range src.Channels {
			channels = append(channels, channel.Channel{Name: ch.Name, Query: ch.Query})
		}
		if err := registry.Add(src.ID, channels...); err != nil {
			return nil, fmt.Errorf("registering %s: %w", src.ID, err)
		}
	}
	return registry, nil
}

// buildGateway attaches one transport per enabled source.
func buildGateway(cfg *config.Config, registry *channel.Registry, log *logging.Logger) (*instrument.Gateway, error) {
	gateway := instrument.NewGateway()
	gateway.SetLogger(log)

	for _, src := range cfg.ActiveSources() {
		var t instrument.Transport
		switch src.Transport.Type {
		case config.TransportSim:
			t = instrument.NewSimTransport(registry.Source(src.ID))
		default:
			t = instrument.NewTCPTransport(instrument.TCPConfig{
				Address:     src.Transport.Address,
				GPIBAddress: src.Transport.GPIBAddress,
				Timeout:     src.Transport.Timeout,
				Terminator:  src.Transport.Terminator,
			})
		}
		if err := gateway.Attach(src.ID, t); err != nil {
			return nil, err
		}
	}
	return gateway, nil
}

// buildDisplay returns the presentation sink for the configured mode, or nil.
func buildDisplay(cfg *config.Config, out io.Writer, cache *series.Cache) scheduler.Sink {
	switch cfg.Display.Mode {
	case config.DisplayDashboard:
		return display.NewDashboard(out, cache, display.DashboardOptions{TrendWidth: cfg.Display.TrendWidth})
	case config.DisplayNone:
		return nil
	default:
		return display.NewConsole(out)
	}
}

// runLogger wires the collaborators and blocks until ctx is cancelled.
//
// Shutdown order: the scheduler releases the gateway and then the store;
// the deferred closes then stop the API, MQTT and InfluxDB in that order.
func runLogger(ctx context.Context, cfg *config.Config, out io.Writer, log *logging.Logger) error {
	log = log.With("run_id", uuid.NewString())
	log.Info("starting lakeshore logger",
		"version", version,
		"commit", commit,
		"build_date", date,
		"database", cfg.Database.Path,
		"interval", cfg.Poll.Interval.String(),
	)

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	gateway, err := buildGateway(cfg, registry, log)
	if err != nil {
		return err
	}
	if err := gateway.Connect(ctx); err != nil {
		// Unopened sources report null rows and are retried every cycle.
		log.Warn("some instruments are unavailable", "error", err)
	}

	dbCfg := database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	}
	st, err := store.Open(ctx, dbCfg)
	if err != nil {
		gateway.Close() //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("opening store: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// The scheduler owns gateway and store from here; until it exists,
	// closing them is ours.
	owned := true
	defer func() {
		if owned {
			gateway.Close() //nolint:errcheck // Best effort cleanup on error path
			st.Close()      //nolint:errcheck // Best effort cleanup on error path
		}
	}()

	cache := series.NewCache()
	collector := metrics.New()

	var sinks scheduler.Sinks
	if d := buildDisplay(cfg, out, cache); d != nil {
		sinks = append(sinks, d)
	}
	sinks = append(sinks, collector)

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		sinks = append(sinks, influxdb.NewMirror(influxClient))
	}

	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		publisher, err := mqtt.NewCyclePublisher(mqttClient, cfg.MQTT)
		if err != nil {
			return err
		}
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", mqttClient.ClientID(),
		)
		sinks = append(sinks, publisher)
	}

	sched, err := scheduler.New(scheduler.Config{
		Interval:       cfg.Poll.Interval,
		LogInterval:    cfg.Poll.LogInterval,
		MaxParallel:    cfg.Poll.MaxParallel,
		PollTimeout:    cfg.Poll.PollTimeout,
		RetryAttempts:  cfg.Poll.Retry.Attempts,
		RetryBaseDelay: cfg.Poll.Retry.BaseDelay,
	}, scheduler.Deps{
		Registry: registry,
		Gateway:  gateway,
		Store:    st,
		Cache:    cache,
		// sinks is complete before Run starts.
		Sink: scheduler.SinkFunc(func(ctx context.Context, c scheduler.Cycle) error {
			return sinks.Present(ctx, c)
		}),
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	owned = false

	if cfg.API.Enabled {
		server, closeServer, err := startAPI(ctx, cfg, log, sched, collector, dbCfg)
		if err != nil {
			return err
		}
		defer closeServer()
		sinks = append(sinks, server)
	}

	log.Info("logger running",
		"sources", strings.Join(registry.Sources(), ","),
		"channels", registry.Len(),
	)

	if err := sched.Run(ctx); err != nil {
		return fmt.Errorf("running scheduler: %w", err)
	}

	log.Info("lakeshore logger stopped", "cycles", sched.Cycles())
	return nil
}

// startAPI serves the HTTP API with its own read-only database handle so
// history queries never hold the logger's write connection.
func startAPI(
	ctx context.Context,
	cfg *config.Config,
	log *logging.Logger,
	sched *scheduler.Scheduler,
	collector *metrics.Collector,
	dbCfg database.Config,
) (*api.Server, func(), error) {
	reader, err := store.OpenReader(dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening API reader: %w", err)
	}

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Channels:   sched.Channels(),
		Cache:      sched.Cache(),
		History:    reader,
		Status:     sched,
		DBStats:    reader,
		Metrics:    collector.Handler(),
		TrendWidth: cfg.Display.TrendWidth,
		Version:    version,
	})
	if err != nil {
		reader.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, nil, fmt.Errorf("creating API server: %w", err)
	}

	if err := server.Start(ctx); err != nil {
		reader.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, nil, fmt.Errorf("starting API server: %w", err)
	}
	log.Info("API server listening", "address", server.Addr())

	return server, func() {
		log.Info("stopping API server")
		if err := server.Close(); err != nil {
			log.Error("error stopping API server", "error", err)
		}
		if err := reader.Close(); err != nil {
			log.Error("error closing API reader", "error", err)
		}
	}, nil
}
