package handler

import (
	"errors"
	"net/http"

	"github.com/artpar/apimech/core/request"
)

// ErrNilImpl is returned when Impl is given no function.
var ErrNilImpl = errors.New("handler: nil implementation function")

// ImplFunc is the business function behind a chain.
type ImplFunc func(ctx *request.Ctx) (any, error)

// ImplHandler binds an ImplFunc into the chain's Ret unit.
type ImplHandler struct {
	Base
	fn ImplFunc
}

// Impl creates a configuration-only unit binding fn.
func Impl(fn ImplFunc) *ImplHandler {
	return &ImplHandler{Base: NewBase("impl"), fn: fn}
}

// Setup binds the function into Ret and removes the unit from the chain.
func (h *ImplHandler) Setup(c *Container) (bool, error) {
	if h.fn == nil {
		return false, ErrNilImpl
	}
	ret, ok := c.Ret()
	if !ok {
		return false, ErrImplRequiresRet
	}
	ret.SetImpl(h.fn)
	return false, nil
}

// Handle is never reached in a built chain.
func (h *ImplHandler) Handle(ctx *request.Ctx) error {
	return h.Next(ctx)
}

// RetHandler runs the bound implementation and sends its result.
// When a result schema is set the result is validated first.
type RetHandler struct {
	ValidatingHandler
	impl ImplFunc
}

// Ret creates the terminal unit. resultSpec may be nil.
func Ret(resultSpec any) *RetHandler {
	return &RetHandler{ValidatingHandler: NewValidatingHandler("ret", resultSpec)}
}

// SetImpl binds the implementation.
func (h *RetHandler) SetImpl(fn ImplFunc) {
	h.impl = fn
}

// HasImpl reports whether an implementation is bound.
func (h *RetHandler) HasImpl() bool {
	return h.impl != nil
}

// Handle calls the implementation and responds with its result.
func (h *RetHandler) Handle(ctx *request.Ctx) error {
	result, err := h.impl(ctx)
	if err != nil {
		return ctx.SendError(err)
	}

	if verr := h.Validate(ctx, result); verr != nil {
		ctx.Logger().Error().
			Str("scope", h.ValidationScope()).
			Str("path", ctx.OrigPath).
			Str("error_path", verr.Path).
			Str("code", verr.Code).
			Msg("implementation returned an invalid result")

		message := ""
		if ctx.IsDebug() {
			message = verr.Error()
		}
		return ctx.SendError(request.NewStatusError(http.StatusInternalServerError, request.CodeInvalidResult, message))
	}

	return ctx.SendResult(result)
}
