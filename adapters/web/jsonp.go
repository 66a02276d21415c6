package web

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/artpar/apimech/core/request"
	"github.com/artpar/apimech/core/validation"
)

// Query parameters with JSONP meaning.
const (
	callbackParam = "callback"
	dataParam     = "data"
	cacheParam    = "_"
)

var unsafeCallbackChars = regexp.MustCompile(`[^\[\]\w$.]`)

// sanitizeCallback strips characters that could break out of the
// script invocation.
func sanitizeCallback(name string) string {
	return unsafeCallbackChars.ReplaceAllString(name, "")
}

// serveJSONP runs the chain with input taken from the query string.
// The data parameter carries JSON; without it the remaining parameters
// are the input.
func (m *Mechanics) serveJSONP(c *request.Ctx) {
	if raw, ok := c.Query[dataParam]; ok && len(raw) > 0 {
		var data any
		if err := json.Unmarshal([]byte(raw[0]), &data); err != nil {
			message := ""
			if c.IsDebug() {
				message = err.Error()
			}
			c.Done(validation.NewError(dataParam, request.CodeInvalidJSON, nil, message))
			return
		}
		c.SetData(data)
	} else {
		c.SetData(request.QueryData(c.Query, map[string]bool{callbackParam: true, cacheParam: true}))
	}

	c.Done(m.handler.Handle(c))
}

// writeJSONP writes result as a guarded callback invocation. Script tags
// cannot observe status codes, so the reply is always 200.
func writeJSONP(w http.ResponseWriter, callback string, result any) error {
	body, err := json.Marshal(result)
	if err != nil {
		return err
	}

	h := w.Header()
	h.Set("Content-Type", "text/javascript; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")

	out := make([]byte, 0, len(body)+2*len(callback)+40)
	out = append(out, "/**/ typeof "...)
	out = append(out, callback...)
	out = append(out, " === 'function' && "...)
	out = append(out, callback...)
	out = append(out, '(')
	out = append(out, body...)
	out = append(out, ");"...)

	w.WriteHeader(http.StatusOK)
	_, err = w.Write(out)
	return err
}
