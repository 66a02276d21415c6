package validation

import "fmt"

// Error is the failure surfaced to a caller when data does not match a schema.
// It is built from the first error of a Context and is not modified afterwards.
type Error struct {
	Path          string         `json:"path"`
	Code          string         `json:"code"`
	ValidatorInfo map[string]any `json:"validatorInfo,omitempty"`
	Message       string         `json:"message,omitempty"`
}

// NewError creates a validation error.
func NewError(path, code string, validatorInfo map[string]any, message string) *Error {
	return &Error{
		Path:          path,
		Code:          code,
		ValidatorInfo: validatorInfo,
		Message:       message,
	}
}

// ErrorFromIssue converts an issue into a validation error.
func ErrorFromIssue(issue Issue) *Error {
	return NewError(issue.Path, issue.Code, issue.ValidatorInfo, issue.Message)
}

func (e *Error) Error() string {
	path := e.Path
	if path == "" {
		path = "(root)"
	}
	if e.Message != "" {
		return fmt.Sprintf("validation failed at %s: %s: %s", path, e.Code, e.Message)
	}
	return fmt.Sprintf("validation failed at %s: %s", path, e.Code)
}
