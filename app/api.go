// Package app contains the demo API served by apimech. Every route is a
// handler chain built from the core units.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/artpar/apimech/core/handler"
	"github.com/artpar/apimech/core/request"
)

// CodeBroadcastUnavailable is answered by /broadcast when no socket server is attached.
const CodeBroadcastUnavailable = "broadcast_unavailable"

// Broadcaster multicasts data to connected socket clients.
type Broadcaster interface {
	Broadcast(ctx context.Context, data any, excludeIDs ...string) error
}

// Route schemas.
const (
	greetSchema = `{
		"type": "object",
		"properties": {
			"name":  {"type": "string", "minLength": 1},
			"title": {"type": "string", "deprecated": true}
		},
		"required": ["name"]
	}`

	greetResultSchema = `{
		"type": "object",
		"properties": {"greeting": {"type": "string"}},
		"required": ["greeting"]
	}`

	sumSchema = `{
		"type": "object",
		"properties": {
			"numbers": {"type": "array", "items": {"type": "number"}, "minItems": 1}
		},
		"required": ["numbers"]
	}`

	sumResultSchema = `{
		"type": "object",
		"properties": {"sum": {"type": "number"}},
		"required": ["sum"]
	}`

	broadcastSchema = `{
		"type": "object",
		"properties": {"message": {"type": "string", "minLength": 1}},
		"required": ["message"]
	}`
)

// API is the demo route table.
type API struct {
	chain *handler.Chain

	mu          sync.RWMutex
	broadcaster Broadcaster
}

// NewAPI builds the demo chains.
func NewAPI() (*API, error) {
	a := &API{}

	echo, err := handler.Build(
		handler.Data(nil),
		handler.Impl(a.echo),
		handler.Ret(nil),
	)
	if err != nil {
		return nil, fmt.Errorf("build /echo: %w", err)
	}

	greet, err := handler.Build(
		handler.Method(http.MethodGet, http.MethodPost),
		handler.Data(greetSchema),
		handler.Impl(a.greet),
		handler.Ret(greetResultSchema),
	)
	if err != nil {
		return nil, fmt.Errorf("build /greet: %w", err)
	}

	sum, err := handler.Build(
		handler.Method(http.MethodPost),
		handler.Data(sumSchema),
		handler.Impl(a.sum),
		handler.Ret(sumResultSchema),
	)
	if err != nil {
		return nil, fmt.Errorf("build /sum: %w", err)
	}

	ping, err := handler.Build(
		handler.Method(http.MethodGet),
		handler.Impl(a.ping),
		handler.Ret(nil),
	)
	if err != nil {
		return nil, fmt.Errorf("build /ping: %w", err)
	}

	broadcast, err := handler.Build(
		handler.Method(http.MethodPost),
		handler.Data(broadcastSchema),
		handler.Impl(a.broadcast),
		handler.Ret(nil),
	)
	if err != nil {
		return nil, fmt.Errorf("build /broadcast: %w", err)
	}

	a.chain, err = handler.Build(handler.Dispatcher(map[string]handler.Handler{
		"/echo":      echo,
		"/greet":     greet,
		"/sum":       sum,
		"/ping":      ping,
		"/broadcast": broadcast,
	}))
	if err != nil {
		return nil, fmt.Errorf("build routes: %w", err)
	}
	return a, nil
}

// Handler returns the root chain.
func (a *API) Handler() handler.Handler {
	return a.chain
}

// SetBroadcaster attaches the socket server used by /broadcast.
func (a *API) SetBroadcaster(b Broadcaster) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.broadcaster = b
}

func (a *API) echo(ctx *request.Ctx) (any, error) {
	return ctx.Data(), nil
}

func (a *API) greet(ctx *request.Ctx) (any, error) {
	data, _ := ctx.Data().(map[string]any)
	name, _ := data["name"].(string)

	parts := []string{"Hello,"}
	if title, _ := data["title"].(string); title != "" {
		parts = append(parts, title)
	}
	parts = append(parts, name)
	return map[string]any{"greeting": strings.Join(parts, " ")}, nil
}

func (a *API) sum(ctx *request.Ctx) (any, error) {
	data, _ := ctx.Data().(map[string]any)
	numbers, _ := data["numbers"].([]any)

	var total float64
	for _, n := range numbers {
		// CBOR bodies decode integers as int64 or uint64.
		switch v := n.(type) {
		case float64:
			total += v
		case int64:
			total += float64(v)
		case uint64:
			total += float64(v)
		default:
			return nil, fmt.Errorf("sum: unexpected number %T", n)
		}
	}
	return map[string]any{"sum": total}, nil
}

func (a *API) ping(ctx *request.Ctx) (any, error) {
	ctx.SetStatus(http.StatusNoContent)
	return nil, nil
}

func (a *API) broadcast(ctx *request.Ctx) (any, error) {
	a.mu.RLock()
	b := a.broadcaster
	a.mu.RUnlock()

	if b == nil {
		return nil, request.NewStatusError(http.StatusServiceUnavailable, CodeBroadcastUnavailable, "")
	}

	data, _ := ctx.Data().(map[string]any)
	if err := b.Broadcast(ctx.Context(), map[string]any{"message": data["message"]}); err != nil {
		return nil, fmt.Errorf("broadcast: %w", err)
	}
	return map[string]any{"sent": true}, nil
}
