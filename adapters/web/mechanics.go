// Package web delivers HTTP requests under the configured prefix to the
// handler chain. It negotiates CORS and JSONP, collects request bodies
// under a size limit and writes JSON responses.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/artpar/apimech/adapters/metrics"
	"github.com/artpar/apimech/config"
	"github.com/artpar/apimech/core/handler"
	"github.com/artpar/apimech/core/request"
)

// ErrNoHandler is returned when mechanics are created without a handler.
var ErrNoHandler = errors.New("no handler set for web mechanics")

// Options configures web mechanics.
type Options struct {
	Handler  handler.Handler
	Settings func() *config.Config
	Logger   zerolog.Logger
	Metrics  *metrics.Collector

	// DestroyConn tears down a connection whose body is too large.
	// Defaults to hijacking and closing it.
	DestroyConn func(http.ResponseWriter)
}

// Mechanics is the HTTP delivery of the handler chain.
type Mechanics struct {
	handler  handler.Handler
	settings func() *config.Config
	logger   zerolog.Logger
	metrics  *metrics.Collector
	destroy  func(http.ResponseWriter)
	cors     *corsCache
}

// exchange is the per-request state kept on the request context.
type exchange struct {
	w           http.ResponseWriter
	r           *http.Request
	callback    string
	bodyMaxSize *int64

	bodyConsumed bool
	destroyed    bool
	destroyOnce  sync.Once
}

// New creates web mechanics.
func New(opts Options) (*Mechanics, error) {
	if opts.Handler == nil {
		return nil, ErrNoHandler
	}
	if opts.Settings == nil {
		cfg, err := config.Default()
		if err != nil {
			return nil, err
		}
		opts.Settings = func() *config.Config { return cfg }
	}
	if opts.DestroyConn == nil {
		opts.DestroyConn = destroyConnection
	}
	m := &Mechanics{
		handler:  opts.Handler,
		settings: opts.Settings,
		logger:   opts.Logger.With().Str("component", "web").Logger(),
		metrics:  opts.Metrics,
		destroy:  opts.DestroyConn,
	}
	m.cors = &corsCache{logger: m.logger}
	m.cors.get(opts.Settings())
	return m, nil
}

// Name identifies the mechanics.
func (m *Mechanics) Name() string {
	return "web"
}

// Middleware serves requests under the prefix and passes everything the
// chain does not answer to next.
func (m *Mechanics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.serve(w, r, next)
	})
}

// ServeHTTP serves requests with a 404 fall-through.
func (m *Mechanics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.serve(w, r, http.NotFoundHandler())
}

func (m *Mechanics) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	cfg := m.settings()

	c := request.New(request.Options{
		Mechanics: m,
		Path:      r.URL.Path,
		Method:    r.Method,
		RequestID: middleware.GetReqID(r.Context()),
		Headers:   headerMap(r.Header),
		Query:     r.URL.Query(),
		Settings:  m.settings,
		Logger:    m.logger,
		Context:   r.Context(),
	})

	if !c.SubPath(cfg.Prefix) {
		next.ServeHTTP(w, r)
		return
	}

	ex := &exchange{
		w:           w,
		r:           r,
		bodyMaxSize: cfg.Web.BodyMaxSize,
	}
	c.MechanicsData = ex

	// Preflights are answered 204 by the CORS handler itself.
	m.cors.get(cfg).HandlerFunc(w, r)
	if isPreflight(r) {
		c.MarkResponseSent()
		return
	}

	c.OnDone(func(err error) {
		if ex.destroyed || c.ResponseSent() {
			return
		}
		if err != nil {
			if sendErr := c.SendError(err); sendErr != nil {
				c.Logger().Error().Err(sendErr).Msg("failed to send error response")
			}
			return
		}
		next.ServeHTTP(w, r)
	})

	// Any callback selects JSONP input. A callback that sanitizes to
	// nothing is answered as plain JSON.
	if !cfg.Web.JSONP.Disable {
		if raw := c.Query.Get(callbackParam); raw != "" {
			ex.callback = sanitizeCallback(raw)
			m.serveJSONP(c)
			return
		}
	}

	c.Done(m.handler.Handle(c))
}

// SendResult writes result as the HTTP response.
func (m *Mechanics) SendResult(c *request.Ctx, result any) error {
	ex, ok := c.MechanicsData.(*exchange)
	if !ok {
		return errors.New("web: request has no exchange state")
	}
	if ex.destroyed {
		return nil
	}

	h := ex.w.Header()
	for k, v := range c.ResponseHeaders() {
		h.Set(k, v)
	}

	status := c.Status()
	if status == 0 {
		status = http.StatusOK
	}
	m.countResponse(status)

	if ex.callback != "" {
		return writeJSONP(ex.w, ex.callback, result)
	}

	if status == http.StatusNoContent {
		ex.w.WriteHeader(status)
		return nil
	}

	body, err := json.Marshal(result)
	if err != nil {
		return err
	}
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	ex.w.WriteHeader(status)
	_, err = ex.w.Write(body)
	return err
}

func (m *Mechanics) countResponse(status int) {
	if m.metrics == nil {
		return
	}
	m.metrics.ResponsesTotal.WithLabelValues(m.Name(), metrics.StatusClass(status)).Inc()
}

// headerMap flattens request headers into lower-cased keys.
func headerMap(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, vs := range h {
		out[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return out
}
