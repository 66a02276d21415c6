package web

import (
	"net/http"
	"slices"
	"sync/atomic"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/artpar/apimech/config"
)

// corsPolicy is the rs/cors handler built for one configuration snapshot.
type corsPolicy struct {
	cfg  *config.Config
	cors *cors.Cors
}

// corsCache rebuilds the policy when the configuration is reloaded.
type corsCache struct {
	current atomic.Pointer[corsPolicy]
	logger  zerolog.Logger
}

func (c *corsCache) get(cfg *config.Config) *cors.Cors {
	if p := c.current.Load(); p != nil && p.cfg == cfg {
		return p.cors
	}
	p := &corsPolicy{cfg: cfg, cors: newCORS(cfg, c.logger)}
	c.current.Store(p)
	return p.cors
}

func newCORS(cfg *config.Config, logger zerolog.Logger) *cors.Cors {
	cc := cfg.Web.CORS
	opts := cors.Options{
		AllowedOrigins:       cc.Origins,
		AllowedMethods:       cc.Methods,
		AllowedHeaders:       cc.Headers,
		ExposedHeaders:       cc.ExposeHeaders,
		AllowCredentials:     cc.Credentials,
		MaxAge:               cc.MaxAge,
		OptionsSuccessStatus: http.StatusNoContent,
	}
	// No configured headers means any requested header is echoed back.
	if len(opts.AllowedHeaders) == 0 {
		opts.AllowedHeaders = []string{"*"}
	}
	// A wildcard with credentials must reflect the origin, never "*".
	if cc.Credentials && slices.Contains(cc.Origins, "*") {
		opts.AllowedOrigins = nil
		opts.AllowOriginFunc = func(string) bool { return true }
	}
	if cfg.Debug {
		l := logger.With().Str("component", "cors").Logger()
		opts.Logger = &l
	}
	return cors.New(opts)
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}
