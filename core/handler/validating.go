package handler

import (
	"encoding/json"
	"fmt"

	"github.com/artpar/apimech/core/request"
	"github.com/artpar/apimech/core/validation"
)

// ValidatingHandler is a unit that checks data against a compiled schema.
// Embed it in units that validate payloads.
type ValidatingHandler struct {
	Base
	spec    *validation.Spec
	specErr error
	scope   string
}

// NewValidatingHandler compiles dataSpec for a unit named name.
// A nil dataSpec disables validation. Compile errors are reported by Setup.
func NewValidatingHandler(name string, dataSpec any) ValidatingHandler {
	h := ValidatingHandler{Base: NewBase(name)}
	if dataSpec != nil {
		h.spec, h.specErr = validation.Compile(dataSpec)
	}
	return h
}

// Setup fails when the schema did not compile.
func (h *ValidatingHandler) Setup(*Container) (bool, error) {
	if h.specErr != nil {
		return false, fmt.Errorf("compile %s schema: %w", h.ValidationScope(), h.specErr)
	}
	return true, nil
}

// ValidationScope is the namespace used in validation logs.
// It defaults to the unit name.
func (h *ValidatingHandler) ValidationScope() string {
	if h.scope != "" {
		return h.scope
	}
	return h.Name()
}

// SetValidationScope overrides the validation scope.
func (h *ValidatingHandler) SetValidationScope(scope string) {
	h.scope = scope
}

// Spec returns the compiled schema, nil when validation is disabled.
func (h *ValidatingHandler) Spec() *validation.Spec {
	return h.spec
}

// Validate checks data with options derived from the request.
// It returns nil when data is valid.
func (h *ValidatingHandler) Validate(ctx *request.Ctx, data any) *validation.Error {
	debug := ctx.IsDebug()
	opts := validation.Options{
		Debug: debug,
		Errors: validation.IssueOptions{
			NeedMessage:       debug,
			NeedValidatorInfo: ctx.Settings().Handlers.Data.NeedValidatorInfo,
		},
		Warnings: validation.IssueOptions{
			NeedMessage: true,
		},
	}
	return h.ValidateWith(ctx, data, opts)
}

// ValidateWith checks data with explicit options. Warnings are logged as
// one line; only the first error is returned.
func (h *ValidatingHandler) ValidateWith(ctx *request.Ctx, data any, opts validation.Options) *validation.Error {
	if h.spec == nil {
		return nil
	}

	vctx := validation.Validate(data, h.spec, opts)

	if vctx.HasWarnings() {
		h.logWarnings(ctx, vctx.Warnings, data)
	}

	first, ok := vctx.FirstError()
	if !ok {
		return nil
	}
	return validation.ErrorFromIssue(first)
}

func (h *ValidatingHandler) logWarnings(ctx *request.Ctx, warnings []validation.Issue, data any) {
	encoded, err := json.Marshal(warnings)
	if err != nil {
		encoded = []byte(fmt.Sprint(warnings))
	}

	msg := fmt.Sprintf("%s validation warnings for path %q: %s", h.ValidationScope(), ctx.OrigPath, encoded)

	if ctx.Settings().Handlers.Data.LogWithData {
		dump, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			dump = []byte(fmt.Sprintf("%+v", data))
		}
		msg += "\nData: " + string(dump)
	}

	ctx.Logger().Warn().Msg(msg)
}
