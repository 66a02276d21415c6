package handler_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/artpar/apimech/config"
	"github.com/artpar/apimech/core/request"
)

// recorder is a mechanics that keeps the last result and can serve a body.
type recorder struct {
	status  int
	result  any
	sent    int
	body    []byte
	stop    bool
	bodyErr error
}

func (r *recorder) Name() string { return "test" }

func (r *recorder) SendResult(c *request.Ctx, result any) error {
	r.status = c.Status()
	if r.status == 0 {
		r.status = 200
	}
	r.result = result
	r.sent++
	return nil
}

func (r *recorder) CollectBody(*request.Ctx) ([]byte, bool, error) {
	return r.body, r.stop, r.bodyErr
}

// errorCode extracts the code from an {"error": ...} body.
func (r *recorder) errorCode(t *testing.T) string {
	t.Helper()
	b, err := json.Marshal(r.result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
			Path string `json:"path"`
		} `json:"error"`
	}
	if err := json.Unmarshal(b, &body); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return body.Error.Code
}

type ctxOpts struct {
	method string
	path   string
	cfg    *config.Config
	logs   *bytes.Buffer
}

func newCtx(m request.Mechanics, o ctxOpts) *request.Ctx {
	if o.cfg == nil {
		o.cfg = &config.Config{}
	}
	if o.method == "" {
		o.method = "POST"
	}
	logger := zerolog.Nop()
	if o.logs != nil {
		logger = zerolog.New(o.logs)
	}
	cfg := o.cfg
	return request.New(request.Options{
		Mechanics: m,
		Path:      o.path,
		Method:    o.method,
		Settings:  func() *config.Config { return cfg },
		Logger:    logger,
	})
}

// logMessages returns the message field of every JSON log line.
func logMessages(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		msg, _ := entry["message"].(string)
		out = append(out, msg)
	}
	return out
}
