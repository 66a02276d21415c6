package request

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/artpar/apimech/core/validation"
)

// Error codes used by the built-in status errors.
const (
	CodeInternal         = "internal_error"
	CodeNotFound         = "not_found"
	CodeMethodNotAllowed = "method_not_allowed"
	CodeInvalidResult    = "invalid_result"
	CodeInvalidJSON      = "invalid_json"
)

// StatusError is an error answered with a specific status code.
type StatusError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// NewStatusError creates a status error.
func NewStatusError(status int, code, message string) *StatusError {
	return &StatusError{Status: status, Code: code, Message: message}
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Code)
}

// ErrorResponse maps err to a status code and an `{"error": ...}` body.
// Unexpected errors only expose their message in debug mode.
func ErrorResponse(err error, debug bool) (int, map[string]any) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		return http.StatusBadRequest, map[string]any{"error": verr}
	}

	var serr *StatusError
	if errors.As(err, &serr) {
		status := serr.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return status, map[string]any{"error": serr}
	}

	body := &StatusError{Code: CodeInternal}
	if debug && err != nil {
		body.Message = err.Error()
	}
	return http.StatusInternalServerError, map[string]any{"error": body}
}
