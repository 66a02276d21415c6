package handler

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/artpar/apimech/core/request"
)

// ErrNoRoutes is returned when Dispatcher is given no routes.
var ErrNoRoutes = errors.New("handler: dispatcher has no routes")

// DispatchHandler routes a request by its sub path to a nested handler.
type DispatchHandler struct {
	Base
	routes map[string]Handler
}

// Dispatcher creates a routing unit. Route handlers are normally built chains.
func Dispatcher(routes map[string]Handler) *DispatchHandler {
	h := &DispatchHandler{
		Base:   NewBase("dispatch"),
		routes: make(map[string]Handler, len(routes)),
	}
	for path, route := range routes {
		h.routes[routeKey(path)] = route
	}
	return h
}

// Setup checks the route table.
func (h *DispatchHandler) Setup(*Container) (bool, error) {
	if len(h.routes) == 0 {
		return false, ErrNoRoutes
	}
	for path, route := range h.routes {
		if route == nil {
			return false, fmt.Errorf("%w for route %s", ErrNilHandler, path)
		}
	}
	return true, nil
}

// Handle dispatches to the matching route. Unknown paths go to the next
// unit when there is one, otherwise they are answered 404.
func (h *DispatchHandler) Handle(ctx *request.Ctx) error {
	if route, ok := h.routes[routeKey(ctx.Path)]; ok {
		return route.Handle(ctx)
	}
	if h.NextHandler() != nil {
		return h.Next(ctx)
	}
	return ctx.SendError(request.NewStatusError(http.StatusNotFound, request.CodeNotFound, ""))
}

// Paths returns the routed paths in sorted order.
func (h *DispatchHandler) Paths() []string {
	return slices.Sorted(maps.Keys(h.routes))
}

func routeKey(path string) string {
	path = strings.TrimRight(path, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
