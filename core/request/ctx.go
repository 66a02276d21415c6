// Package request provides the per-request context shared by the handler
// chain and the mechanics (web, socket) that deliver requests to it.
package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artpar/apimech/config"
)

var (
	// ErrNoMechanics is returned when a context has nothing to deliver results through.
	ErrNoMechanics = errors.New("request: no mechanics bound to context")

	// ErrResponseSent is returned when a second response is attempted.
	ErrResponseSent = errors.New("request: response already sent")

	// ErrInvalidJSON wraps body decoding failures.
	ErrInvalidJSON = errors.New("request: invalid json")
)

// Mechanics delivers results for a request over a concrete transport.
type Mechanics interface {
	Name() string
	SendResult(c *Ctx, result any) error
}

// BodyCollector is implemented by mechanics that read a request body on demand.
// stop reports that the request was handled locally and processing must end.
type BodyCollector interface {
	CollectBody(c *Ctx) (body []byte, stop bool, err error)
}

// Options configures a new request context.
type Options struct {
	Mechanics Mechanics
	Path      string
	Method    string
	RequestID string
	Headers   map[string]any
	Query     url.Values
	Settings  func() *config.Config
	Logger    zerolog.Logger
	Context   context.Context
}

// Ctx carries one request through the handler chain.
type Ctx struct {
	// Path is the request path relative to the configured prefix.
	Path string
	// OrigPath is the request path as received.
	OrigPath  string
	Method    string
	RequestID string
	Query     url.Values

	// MechanicsData holds exchange state owned by the delivering mechanics.
	MechanicsData any

	headers     map[string]any
	data        any
	hasData     bool
	status      int
	respHeaders map[string]string

	mechanics Mechanics
	settings  func() *config.Config
	debug     bool
	logger    zerolog.Logger
	ctx       context.Context

	mu           sync.Mutex
	done         bool
	onDone       func(error)
	responseSent bool
}

// New creates a request context.
func New(opts Options) *Ctx {
	if opts.RequestID == "" {
		opts.RequestID = uuid.NewString()
	}
	if opts.Headers == nil {
		opts.Headers = map[string]any{}
	}
	if opts.Query == nil {
		opts.Query = url.Values{}
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Settings == nil {
		static := &config.Config{}
		opts.Settings = func() *config.Config { return static }
	}

	mechanicsName := ""
	if opts.Mechanics != nil {
		mechanicsName = opts.Mechanics.Name()
	}

	cfg := opts.Settings()
	return &Ctx{
		Path:        opts.Path,
		OrigPath:    opts.Path,
		Method:      strings.ToUpper(opts.Method),
		RequestID:   opts.RequestID,
		Query:       opts.Query,
		headers:     opts.Headers,
		respHeaders: map[string]string{},
		mechanics:   opts.Mechanics,
		settings:    opts.Settings,
		debug:       cfg != nil && cfg.Debug,
		logger: opts.Logger.With().
			Str("request_id", opts.RequestID).
			Str("mechanics", mechanicsName).
			Str("path", opts.Path).
			Logger(),
		ctx: opts.Context,
	}
}

// Header returns a request header value. HTTP headers are stored lower case,
// so a lookup falls back to the lower-cased name.
func (c *Ctx) Header(name string) any {
	if v, ok := c.headers[name]; ok {
		return v
	}
	return c.headers[strings.ToLower(name)]
}

// HeaderString returns a request header value when it is a string.
func (c *Ctx) HeaderString(name string) string {
	s, _ := c.Header(name).(string)
	return s
}

// Headers returns all request headers.
func (c *Ctx) Headers() map[string]any {
	return c.headers
}

// Data returns the request's input data, if set.
func (c *Ctx) Data() any {
	return c.data
}

// SetData stores the request's input data.
func (c *Ctx) SetData(v any) {
	c.data = v
	c.hasData = true
}

// HasData reports whether input data was set.
func (c *Ctx) HasData() bool {
	return c.hasData
}

// InputData returns the request's input data. When none was set and the
// mechanics can collect a body, the body is read and decoded as JSON.
// An empty body yields the query parameters.
func (c *Ctx) InputData() (data any, stop bool, err error) {
	if c.hasData {
		return c.data, false, nil
	}

	collector, ok := c.mechanics.(BodyCollector)
	if !ok {
		return QueryData(c.Query, nil), false, nil
	}

	body, stop, err := collector.CollectBody(c)
	if err != nil || stop {
		return nil, stop, err
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return QueryData(c.Query, nil), false, nil
	}

	if err := json.Unmarshal(body, &data); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return data, false, nil
}

// QueryData converts query parameters into input data.
// Single values become strings, repeated values become lists.
func QueryData(q url.Values, skip map[string]bool) map[string]any {
	out := make(map[string]any, len(q))
	for k, vs := range q {
		if skip[k] || len(vs) == 0 {
			continue
		}
		if len(vs) == 1 {
			out[k] = vs[0]
			continue
		}
		list := make([]any, len(vs))
		for i, v := range vs {
			list[i] = v
		}
		out[k] = list
	}
	return out
}

// Status returns the response status, 0 when unset.
func (c *Ctx) Status() int {
	return c.status
}

// SetStatus sets the response status.
func (c *Ctx) SetStatus(status int) {
	c.status = status
}

// SetHeader sets a response header.
func (c *Ctx) SetHeader(name, value string) {
	c.respHeaders[name] = value
}

// ResponseHeaders returns the response headers set so far.
func (c *Ctx) ResponseHeaders() map[string]string {
	return c.respHeaders
}

// IsDebug reports whether debug output is enabled for this request.
func (c *Ctx) IsDebug() bool {
	return c.debug
}

// Settings returns the current application configuration.
func (c *Ctx) Settings() *config.Config {
	if cfg := c.settings(); cfg != nil {
		return cfg
	}
	return &config.Config{}
}

// Logger returns the request-scoped logger.
func (c *Ctx) Logger() *zerolog.Logger {
	return &c.logger
}

// Context returns the request's context.Context.
func (c *Ctx) Context() context.Context {
	return c.ctx
}

// Mechanics returns the mechanics delivering this request.
func (c *Ctx) Mechanics() Mechanics {
	return c.mechanics
}

// SubPath strips prefix from the original path into Path.
// It reports false when the request is outside the prefix.
func (c *Ctx) SubPath(prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		c.Path = c.OrigPath
		return true
	}
	if c.OrigPath != prefix && !strings.HasPrefix(c.OrigPath, prefix+"/") {
		return false
	}
	c.Path = strings.TrimPrefix(c.OrigPath, prefix)
	if c.Path == "" {
		c.Path = "/"
	}
	return true
}

// OnDone registers the completion callback. It replaces any earlier one.
func (c *Ctx) OnDone(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDone = fn
}

// Done marks the request complete. Only the first call has an effect.
func (c *Ctx) Done(err error) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	fn := c.onDone
	c.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}

// IsDone reports whether Done was called.
func (c *Ctx) IsDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// ResponseSent reports whether a response was delivered.
func (c *Ctx) ResponseSent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responseSent
}

// MarkResponseSent records that the mechanics answered the request
// outside SendResult.
func (c *Ctx) MarkResponseSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responseSent = true
}

// SendResult delivers result through the mechanics.
func (c *Ctx) SendResult(result any) error {
	if c.mechanics == nil {
		return ErrNoMechanics
	}
	if c.ResponseSent() {
		return ErrResponseSent
	}
	if err := c.mechanics.SendResult(c, result); err != nil {
		return fmt.Errorf("send result: %w", err)
	}
	c.MarkResponseSent()
	return nil
}

// SendError renders err as an error response.
func (c *Ctx) SendError(err error) error {
	status, body := ErrorResponse(err, c.debug)
	if status >= 500 {
		c.logger.Error().Err(err).Int("status", status).Msg("request failed")
	}
	c.SetStatus(status)
	return c.SendResult(body)
}
