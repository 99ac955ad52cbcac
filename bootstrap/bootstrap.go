// Package bootstrap wires all dependencies and starts the application.
// Configuration comes from a YAML file overlaid with ACTIONKIT_* environment
// variables; actions come from the modules passed in Options.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/artpar/actionkit/adapters/metrics"
	"github.com/artpar/actionkit/adapters/redis"
	"github.com/artpar/actionkit/config"
	"github.com/artpar/actionkit/core/action"
	"github.com/artpar/actionkit/core/audit"
	"github.com/artpar/actionkit/core/channel"
	"github.com/artpar/actionkit/core/channel/cron"
	eventch "github.com/artpar/actionkit/core/channel/event"
	httpch "github.com/artpar/actionkit/core/channel/http"
	mcpch "github.com/artpar/actionkit/core/channel/mcp"
	"github.com/artpar/actionkit/core/events"
	"github.com/artpar/actionkit/core/registry"
	"github.com/artpar/actionkit/core/reload"
	"github.com/artpar/actionkit/core/runtime"
)

// DeadLetterEvent is published for every cron run that ends in DeadLetter.
const DeadLetterEvent = "cron.dead_letter"

// RunReader queries recorded run entries.
type RunReader interface {
	Recent(ctx context.Context, limit int) ([]audit.RunEntry, error)
}

// Options configures application initialization.
type Options struct {
	// ConfigPath is a YAML file. When empty or missing, configuration is
	// read from the environment alone.
	ConfigPath string
	// Config is used as is when set, ConfigPath is then ignored.
	Config *config.Config
	// Modules are registered on start and on every reload.
	Modules []action.Module
	// Load registers additional actions. It runs after Modules on start and
	// on every reload.
	Load reload.Loader
	// Version is reported by system.health and the MCP server.
	Version string
	// Prometheus receives the metrics. A private registry is used when nil.
	Prometheus *prometheus.Registry
}

// App represents the running application.
type App struct {
	Logger   zerolog.Logger
	Config   *config.Config
	Holder   *config.Holder
	Registry *registry.Registry
	Executor *runtime.Executor
	Bus      *events.Bus
	Sink     audit.Sink
	Runs     RunReader
	Metrics  *metrics.Collector

	HTTP   *httpch.Channel
	MCP    *mcpch.Channel
	Events *eventch.Channel
	Cron   *cron.Dispatcher

	HTTPServer *http.Server
	Reloader   *reload.Reloader

	opts       Options
	started    time.Time
	prometheus *prometheus.Registry
	guards     []action.Guard
	channels   []channel.Channel
	redis      *goredis.Client
	db         *sql.DB
}

// New creates and initializes the application.
func New(opts Options) (*App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().Str("version", opts.Version).Msg("initializing actionkit")

	a := &App{
		Logger:     logger,
		Config:     cfg,
		opts:       opts,
		started:    time.Now(),
		prometheus: opts.Prometheus,
	}

	if cfg.Dev.HotReload && opts.Config == nil && fileExists(opts.ConfigPath) {
		holder, err := config.NewHolder(opts.ConfigPath, logger.With().Str("component", "config").Logger())
		if err != nil {
			return nil, err
		}
		a.Holder = holder
		a.Config = holder.Get()
		cfg = a.Config
	}

	if cfg.Redis.Enabled() {
		a.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	if err := a.initAudit(); err != nil {
		a.close()
		return nil, fmt.Errorf("init audit: %w", err)
	}
	a.initMetrics()

	a.Bus = events.NewBus(logger)
	a.Registry = registry.New(registry.WithLogger(logger))

	execOpts := []runtime.Option{
		runtime.WithBus(a.Bus),
		runtime.WithSink(a.Sink),
		runtime.WithLogger(logger),
		runtime.WithDefaultRetry(cfg.Retry.Policy()),
	}
	if a.Metrics != nil {
		execOpts = append(execOpts, runtime.WithMetrics(a.Metrics))
	}
	if !cfg.Audit.CapturePayloads {
		execOpts = append(execOpts, runtime.WithoutAuditPayloads())
	}
	a.Executor = runtime.New(a.Registry, execOpts...)

	guards, err := GlobalGuards(cfg, a.redis, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init guards: %w", err)
	}
	a.guards = guards

	if err := a.load(a.Registry); err != nil {
		a.close()
		return nil, fmt.Errorf("register actions: %w", err)
	}
	if !cfg.Dev.HotReload {
		if err := a.Registry.Lock(); err != nil {
			a.close()
			return nil, fmt.Errorf("lock registry: %w", err)
		}
	}

	a.initChannels()
	if err := channel.Mount(a.Registry, a.channels...); err != nil {
		a.close()
		return nil, fmt.Errorf("mount channels: %w", err)
	}
	a.initHTTPServer()

	if cfg.Dev.HotReload {
		if err := a.initReload(); err != nil {
			a.close()
			return nil, fmt.Errorf("init reload: %w", err)
		}
	}

	logger.Info().
		Int("actions", a.Registry.Len()).
		Int("routes", len(a.HTTP.Routes())).
		Int("jobs", len(a.Cron.Jobs())).
		Str("registry", a.Registry.State().String()).
		Msg("actionkit initialized")

	return a, nil
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.Config != nil {
		return opts.Config, nil
	}
	cfg, err := config.LoadWithFallback(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// load registers the system module, the configured modules and the
// Load callback into reg. It is the reload loader too.
func (a *App) load(reg *registry.Registry) error {
	sys := SystemModule(SystemInfo{
		Version: a.opts.Version,
		Started: a.started,
		Runs:    a.Runs,
		Guards:  a.guards,
	})
	if err := reg.RegisterModule(sys); err != nil {
		return err
	}
	for _, mod := range a.opts.Modules {
		if err := reg.RegisterModule(WithGuards(mod, a.guards...)); err != nil {
			return err
		}
	}
	if a.opts.Load != nil {
		return a.opts.Load(reg)
	}
	return nil
}

func (a *App) initAudit() error {
	cfg := a.Config.Audit
	buf := audit.BufferConfig{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		BufferSize:    cfg.BufferSize,
	}

	switch cfg.Driver {
	case "none":
		a.Sink = audit.Nop{}
	case "memory":
		m := audit.NewMemory()
		a.Sink, a.Runs = m, m
	case "sqlite":
		db, err := sql.Open("sqlite3", cfg.DSN)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		a.db = db
		sink, store, err := audit.NewSQLiteSink(db, buf, a.Logger)
		if err != nil {
			return err
		}
		a.Sink, a.Runs = sink, store
	case "redis":
		store := redis.NewFromClient(a.redis,
			redis.WithPrefix(a.Config.Redis.Prefix),
			redis.WithMaxRuns(a.Config.Redis.MaxRuns),
			redis.WithTraceTTL(a.Config.Redis.TraceTTL),
		)
		a.Sink, a.Runs = redis.NewSink(store, buf, a.Logger), store
	default:
		return fmt.Errorf("unknown audit driver %q", cfg.Driver)
	}

	a.Logger.Info().Str("driver", cfg.Driver).Msg("audit sink ready")
	return nil
}

func (a *App) initMetrics() {
	if !a.Config.Metrics.Enabled {
		return
	}
	if a.prometheus == nil {
		a.prometheus = prometheus.NewRegistry()
	}
	a.Metrics = metrics.NewWithRegistry(a.prometheus)
	if b, ok := a.Sink.(*audit.Buffered); ok {
		a.Metrics.WatchAuditDrops(b)
	}
	a.Logger.Info().Str("path", a.Config.Metrics.Path).Msg("prometheus metrics enabled")
}

func (a *App) initChannels() {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/openapi.json", a.serveOpenAPI)
	if a.Metrics != nil {
		router.Handle(a.Config.Metrics.Path, promhttp.HandlerFor(a.prometheus, promhttp.HandlerOpts{}))
	}

	a.HTTP = httpch.New(a.Executor,
		httpch.WithRouter(router),
		httpch.WithLogger(a.Logger.With().Str("channel", "http").Logger()),
		httpch.WithMaxBody(a.Config.Server.MaxBodyBytes),
	)
	a.Events = eventch.New(a.Executor, a.Bus, a.Logger.With().Str("channel", "event").Logger())
	a.Cron = cron.New(a.Executor,
		cron.WithLogger(a.Logger.With().Str("channel", "cron").Logger()),
		cron.WithDeadLetter(a.deadLetter),
	)
	a.channels = []channel.Channel{a.HTTP, a.Events, a.Cron}

	if a.Config.MCP.Enabled {
		a.MCP = mcpch.New(a.Executor, a.Config.MCP.Name, a.opts.Version,
			mcpch.WithLogger(a.Logger.With().Str("channel", "mcp").Logger()),
		)
		a.channels = append(a.channels, a.MCP)
	}
}

func (a *App) deadLetter(job cron.Job, o cron.Outcome) {
	a.Logger.Error().
		Str("action", job.Action).
		Str("schedule", job.Schedule).
		Str("trace_id", o.TraceID).
		Str("error", o.Error).
		Msg("cron job dead-lettered")
	a.Bus.PublishAsync(context.Background(), events.Event{
		Name:    DeadLetterEvent,
		Source:  job.Action,
		TraceID: o.TraceID,
		Payload: map[string]any{
			"action":   job.Action,
			"schedule": job.Schedule,
			"error":    o.Error,
			"attempts": o.Attempts,
		},
	})
}

func (a *App) initHTTPServer() {
	a.HTTPServer = &http.Server{
		Addr:         a.Config.Server.Addr(),
		Handler:      a.HTTP.Handler(),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

// Run starts the servers and blocks until ctx is done, a signal arrives or
// a server fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.MCP != nil {
		go func() {
			var err error
			switch a.Config.MCP.Transport {
			case "sse":
				a.Logger.Info().Str("addr", a.Config.MCP.Address).Msg("starting mcp sse server")
				err = a.MCP.ServeSSE(ctx, a.Config.MCP.Address, a.Config.MCP.BaseURL)
			default:
				a.Logger.Info().Msg("serving mcp over stdio")
				err = a.MCP.ServeStdio()
			}
			if err != nil {
				errCh <- fmt.Errorf("mcp server: %w", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case err := <-errCh:
		runErr = err
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
		a.Logger.Info().Msg("context cancelled, shutting down")
	}

	if err := a.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	if a.Reloader != nil {
		a.Reloader.Stop()
	}
	if a.Holder != nil {
		a.Holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}
	if a.Events != nil {
		a.Events.Close()
	}
	if a.Bus != nil {
		if err := a.Bus.Drain(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("event bus drain error")
		}
	}

	var err error
	if a.Sink != nil {
		if err = a.Sink.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("audit sink shutdown error")
		}
	}
	a.close()

	a.Logger.Info().Msg("shutdown complete")
	return err
}

func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("redis close error")
		}
		a.redis = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
		a.db = nil
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
