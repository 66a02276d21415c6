// Package bootstrap wires all dependencies and starts the application.
// Configuration comes from an optional YAML or TOML file with APIMECH_*
// environment overrides.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	apihttp "github.com/artpar/apimech/adapters/http"
	"github.com/artpar/apimech/adapters/metrics"
	"github.com/artpar/apimech/adapters/socket"
	"github.com/artpar/apimech/adapters/web"
	"github.com/artpar/apimech/app"
	"github.com/artpar/apimech/config"
	"github.com/artpar/apimech/core/events"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Holder
	Events     *events.Bus
	Metrics    *metrics.Collector
	Registry   *prometheus.Registry
	API        *app.API
	Web        *web.Mechanics
	Socket     *socket.Server
	HTTPServer *http.Server

	unsubscribe func()
}

// Config provides optional configuration for application initialization.
type Config struct {
	// ConfigPath is the configuration file. Empty means built-in defaults
	// with environment overrides.
	ConfigPath string

	// HotReload watches ConfigPath and SIGHUP for configuration changes.
	HotReload bool

	// LogOutput receives log output. Defaults to stdout.
	LogOutput io.Writer
}

// New creates and initializes the application from defaults and environment.
func New() (*App, error) {
	return NewWithConfig(Config{})
}

// NewWithConfig creates and initializes the application with custom configuration.
func NewWithConfig(cfg Config) (*App, error) {
	if cfg.LogOutput == nil {
		cfg.LogOutput = os.Stdout
	}

	holder, err := loadConfig(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	current := holder.Get()

	logger := setupLogger(current.Logging, cfg.LogOutput)
	holder.SetLogger(logger)
	logger.Info().Msg("initializing apimech")

	a := &App{
		Logger: logger,
		Config: holder,
		Events: events.NewBus(logger),
	}

	if current.Metrics.Enabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = metrics.NewWithRegistry(a.Registry)
		logger.Info().Str("path", current.Metrics.Path).Msg("prometheus metrics enabled")
	}

	if a.API, err = app.NewAPI(); err != nil {
		return nil, fmt.Errorf("build api: %w", err)
	}

	if a.Web, err = web.New(web.Options{
		Handler:  a.API.Handler(),
		Settings: holder.Get,
		Logger:   logger,
		Metrics:  a.Metrics,
	}); err != nil {
		return nil, fmt.Errorf("init web mechanics: %w", err)
	}

	if current.Socket.Enabled {
		if err := a.initSocket(current); err != nil {
			return nil, fmt.Errorf("init socket: %w", err)
		}
	}

	a.watchConfig()
	if cfg.HotReload {
		if err := holder.WatchFile(); err != nil {
			return nil, fmt.Errorf("watch config: %w", err)
		}
		holder.WatchSignals()
	}

	routerCfg := apihttp.RouterConfig{
		Web:      a.Web,
		Socket:   a.Socket,
		Metrics:  a.Metrics,
		Settings: holder.Get,
		Logger:   logger,
	}
	if a.Registry != nil {
		routerCfg.Gatherer = a.Registry
	}
	router := apihttp.NewRouter(routerCfg)

	a.HTTPServer = &http.Server{
		Addr:         current.Server.Addr(),
		Handler:      router,
		ReadTimeout:  current.Server.ReadTimeout,
		WriteTimeout: current.Server.WriteTimeout,
	}

	return a, nil
}

func (a *App) initSocket(cfg *config.Config) error {
	codec, err := socket.CodecByName(cfg.Socket.BodyEncoding)
	if err != nil {
		return err
	}

	a.Socket, err = socket.NewServer(socket.ServerOptions{
		Handler:   a.API.Handler(),
		Transport: socket.NewTransport(codec, a.Events, a.Logger),
		Settings:  a.Config.Get,
		Logger:    a.Logger,
		Metrics:   a.Metrics,
	})
	if err != nil {
		return err
	}
	a.API.SetBroadcaster(a.Socket)

	a.unsubscribe = a.Events.Subscribe(socket.EventMessageSent, func(_ context.Context, e events.Event) error {
		msg, _ := e.Data["message"].([]byte)
		a.Logger.Trace().Int("bytes", len(msg)).Msg("socket message sent")
		return nil
	})

	a.Logger.Info().
		Str("path", cfg.Socket.Path).
		Str("body_encoding", codec.Name()).
		Msg("socket transport enabled")
	return nil
}

// watchConfig applies reloadable logging settings and records reload metrics.
func (a *App) watchConfig() {
	a.Config.OnChange(func(cfg *config.Config) {
		zerolog.SetGlobalLevel(parseLevel(cfg.Logging.Level))
		if a.Metrics != nil {
			a.Metrics.ConfigReloads.Inc()
			a.Metrics.ConfigLastReload.SetToCurrentTime()
		}
	})
	a.Config.OnReloadError(func(error) {
		if a.Metrics != nil {
			a.Metrics.ConfigReloadErrors.Inc()
		}
	})
}

// Handler returns the HTTP handler serving the application.
func (a *App) Handler() http.Handler {
	return a.HTTPServer.Handler
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	a.Config.Stop()

	if a.unsubscribe != nil {
		a.unsubscribe()
	}

	// Hijacked socket connections are not tracked by http.Server.Shutdown
	if a.Socket != nil {
		if err := a.Socket.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("socket close error")
		}
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
			return fmt.Errorf("shutdown http server: %w", err)
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}

func parseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return level
}

// loadConfig reads path when it exists, otherwise the built-in defaults.
func loadConfig(path string) (*config.Holder, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return config.NewHolder(path, zerolog.Nop())
		}
	}
	cfg, err := config.Default()
	if err != nil {
		return nil, err
	}
	return config.NewStaticHolder(cfg, zerolog.Nop()), nil
}
