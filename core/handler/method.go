package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/artpar/apimech/core/request"
)

// ErrNoMethods is returned when Method is given no allowed methods.
var ErrNoMethods = errors.New("handler: no allowed methods")

// MethodHandler rejects requests whose method is not allowed.
type MethodHandler struct {
	Base
	allowed map[string]bool
	allow   string
}

// Method creates a unit allowing the given methods.
func Method(methods ...string) *MethodHandler {
	h := &MethodHandler{
		Base:    NewBase("method"),
		allowed: make(map[string]bool, len(methods)),
	}
	names := make([]string, 0, len(methods))
	for _, m := range methods {
		m = strings.ToUpper(m)
		if !h.allowed[m] {
			h.allowed[m] = true
			names = append(names, m)
		}
	}
	h.allow = strings.Join(names, ", ")
	return h
}

// Setup fails for an empty method set.
func (h *MethodHandler) Setup(*Container) (bool, error) {
	if len(h.allowed) == 0 {
		return false, ErrNoMethods
	}
	return true, nil
}

// Handle answers 405 for disallowed methods.
func (h *MethodHandler) Handle(ctx *request.Ctx) error {
	if !h.allowed[ctx.Method] {
		ctx.SetHeader("Allow", h.allow)
		return ctx.SendError(request.NewStatusError(http.StatusMethodNotAllowed, request.CodeMethodNotAllowed, ""))
	}
	return h.Next(ctx)
}
