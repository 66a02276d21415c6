package handler

import (
	"errors"

	"github.com/artpar/apimech/core/request"
	"github.com/artpar/apimech/core/validation"
)

// DataHandler obtains the request's input data, validates it and stores
// it on the context before delegating.
type DataHandler struct {
	ValidatingHandler
}

// Data creates an input validation unit. dataSpec may be nil.
func Data(dataSpec any) *DataHandler {
	return &DataHandler{ValidatingHandler: NewValidatingHandler("data", dataSpec)}
}

// Handle collects and validates input.
func (h *DataHandler) Handle(ctx *request.Ctx) error {
	data, stop, err := ctx.InputData()
	if stop {
		return nil
	}
	if err != nil {
		if errors.Is(err, request.ErrInvalidJSON) {
			message := ""
			if ctx.IsDebug() {
				message = err.Error()
			}
			return ctx.SendError(validation.NewError("", request.CodeInvalidJSON, nil, message))
		}
		return err
	}

	if verr := h.Validate(ctx, data); verr != nil {
		return ctx.SendError(verr)
	}

	ctx.SetData(data)
	return h.Next(ctx)
}
