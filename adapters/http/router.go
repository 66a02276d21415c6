// Package http mounts the web and socket mechanics on a chi router
// together with health and metrics endpoints.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/apimech/adapters/metrics"
	"github.com/artpar/apimech/adapters/socket"
	"github.com/artpar/apimech/adapters/web"
	"github.com/artpar/apimech/config"
)

// Version is reported by the /version endpoint. Set at build time.
var Version = "dev"

// VersionResponse is the body of the /version endpoint.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// RouterConfig holds the components mounted by NewRouter.
type RouterConfig struct {
	Web      *web.Mechanics
	Socket   *socket.Server      // Optional, mounted at socket.path when socket.enabled
	Metrics  *metrics.Collector  // Optional request metrics
	Gatherer prometheus.Gatherer // Optional registry for /metrics (default: prometheus.DefaultGatherer)
	Settings func() *config.Config
	Logger   zerolog.Logger
}

// NewRouter creates the main HTTP router. Requests not answered by the
// health, metrics or socket routes are delivered to the web mechanics.
func NewRouter(cfg RouterConfig) chi.Router {
	settings := cfg.Settings
	if settings == nil {
		static := &config.Config{}
		settings = func() *config.Config { return static }
	}
	current := settings()

	r := chi.NewRouter()

	// Middleware. No Timeout: socket connections are long lived.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics, current.Metrics.Path))
	}

	r.Get("/health", Health)
	r.Get("/version", VersionHandler)

	if current.Metrics.Enabled {
		gatherer := cfg.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		r.Handle(metricsPath(current), promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	if cfg.Socket != nil && current.Socket.Enabled {
		r.Handle(current.Socket.Path, cfg.Socket)
	}

	if cfg.Web != nil {
		r.NotFound(cfg.Web.ServeHTTP)
		r.MethodNotAllowed(cfg.Web.ServeHTTP)
	}

	return r
}

func metricsPath(cfg *config.Config) string {
	if cfg.Metrics.Path == "" {
		return "/metrics"
	}
	return cfg.Metrics.Path
}

// Health returns a simple liveness check.
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// VersionHandler returns the service version.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(VersionResponse{
		Version: Version,
		Service: "apimech",
	})
}
