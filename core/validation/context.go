// Package validation validates structured data against compiled JSON schemas.
// A validation run produces a Context holding ordered errors and warnings;
// callers surface at most the first error.
package validation

import "fmt"

// Issue is a single error or warning produced by a validation run.
type Issue struct {
	Path          string         `json:"path"`
	Code          string         `json:"code"`
	ValidatorInfo map[string]any `json:"validatorInfo,omitempty"`
	Message       string         `json:"message,omitempty"`
}

// String renders the issue for logs.
func (i Issue) String() string {
	path := i.Path
	if path == "" {
		path = "(root)"
	}
	if i.Message != "" {
		return fmt.Sprintf("%s: %s (%s)", path, i.Code, i.Message)
	}
	return fmt.Sprintf("%s: %s", path, i.Code)
}

// IssueOptions controls which optional fields are attached to issues.
type IssueOptions struct {
	NeedMessage       bool
	NeedValidatorInfo bool
}

// Options configures a validation run.
type Options struct {
	Debug    bool
	Errors   IssueOptions
	Warnings IssueOptions
}

// Context is the outcome of one validation run.
// It is created per call and never shared.
type Context struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// HasErrors reports whether the run produced any error.
func (c *Context) HasErrors() bool {
	return len(c.Errors) > 0
}

// HasWarnings reports whether the run produced any warning.
func (c *Context) HasWarnings() bool {
	return len(c.Warnings) > 0
}

// FirstError returns the first error of the run, if any.
func (c *Context) FirstError() (Issue, bool) {
	if len(c.Errors) == 0 {
		return Issue{}, false
	}
	return c.Errors[0], true
}

func (c *Context) addError(issue Issue) {
	c.Errors = append(c.Errors, issue)
}

func (c *Context) addWarning(issue Issue) {
	c.Warnings = append(c.Warnings, issue)
}
