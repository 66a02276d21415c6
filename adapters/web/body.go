package web

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/artpar/apimech/adapters/metrics"
	"github.com/artpar/apimech/core/request"
)

// ErrBodyNotReadable is returned when the request body is missing or
// was already consumed.
var ErrBodyNotReadable = errors.New("web: body is not readable")

const chunkSize = 32 << 10

type bodyState int

const (
	bodyCollecting bodyState = iota
	bodyAborted
	bodyComplete
)

func (s bodyState) String() string {
	switch s {
	case bodyCollecting:
		return "collecting"
	case bodyAborted:
		return "aborted"
	case bodyComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// bodyCollector accumulates chunks under an optional byte limit.
// Once aborted it keeps no further chunk.
type bodyCollector struct {
	limit  *int64
	state  bodyState
	read   int64
	chunks [][]byte
}

// feed adds a chunk and reports whether collecting may continue.
func (b *bodyCollector) feed(chunk []byte) bool {
	if b.state != bodyCollecting {
		return false
	}
	b.read += int64(len(chunk))
	if b.limit != nil && b.read > *b.limit {
		b.state = bodyAborted
		b.chunks = nil
		return false
	}
	b.chunks = append(b.chunks, bytes.Clone(chunk))
	return true
}

func (b *bodyCollector) end() []byte {
	if b.state != bodyCollecting {
		return nil
	}
	b.state = bodyComplete
	return bytes.Join(b.chunks, nil)
}

// collect reads r chunk by chunk until EOF or until the limit is exceeded.
func collect(r io.Reader, limit *int64) (*bodyCollector, []byte, error) {
	bc := &bodyCollector{limit: limit}
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 && !bc.feed(buf[:n]) {
			return bc, nil, nil
		}
		if errors.Is(err, io.EOF) {
			return bc, bc.end(), nil
		}
		if err != nil {
			return bc, nil, fmt.Errorf("read body: %w", err)
		}
	}
}

// declaredLength returns the length announced by the client, -1 if unknown.
func declaredLength(r *http.Request) int64 {
	if r.ContentLength >= 0 {
		return r.ContentLength
	}
	if v := r.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return -1
}

// CollectBody reads the request body under the configured limit.
// stop is true when the body was too large; the connection is then
// destroyed and the request finished.
func (m *Mechanics) CollectBody(c *request.Ctx) ([]byte, bool, error) {
	ex, ok := c.MechanicsData.(*exchange)
	if !ok || ex.r.Body == nil || ex.bodyConsumed {
		return nil, false, ErrBodyNotReadable
	}
	ex.bodyConsumed = true

	limit := ex.bodyMaxSize
	if limit != nil {
		if n := declaredLength(ex.r); n > *limit {
			m.onBodyTooLarge(c, ex, n, true, 0)
			return nil, true, nil
		}
	}

	if ex.r.Body == http.NoBody {
		return nil, false, nil
	}

	bc, body, err := collect(ex.r.Body, limit)
	if err != nil {
		return nil, false, err
	}
	if bc.state == bodyAborted {
		m.onBodyTooLarge(c, ex, *limit, false, bc.read)
		return nil, true, nil
	}
	return body, false, nil
}

func (m *Mechanics) onBodyTooLarge(c *request.Ctx, ex *exchange, length int64, fromHeader bool, read int64) {
	ex.destroyOnce.Do(func() {
		ex.destroyed = true
		m.destroy(ex.w)
	})

	source := metrics.SourceMeasured
	if fromHeader {
		source = metrics.SourceDeclared
	}

	ev := c.Logger().Warn().Str("source", source)
	if !fromHeader {
		ev = ev.Int64("read", read)
	}
	ev.Msg(bodyTooLargeMessage(c, ex.r, length, fromHeader))

	if m.metrics != nil {
		m.metrics.BodyTooLarge.WithLabelValues(source).Inc()
	}

	c.Done(nil)
}

func bodyTooLargeMessage(c *request.Ctx, r *http.Request, length int64, fromHeader bool) string {
	var b strings.Builder
	b.WriteString("Request body is too large: ")
	if !fromHeader {
		b.WriteString("> ")
	}
	fmt.Fprintf(&b, "%d bytes", length)
	fmt.Fprintf(&b, "\n  path: %s", c.OrigPath)
	if c.Method != "" {
		fmt.Fprintf(&b, "\n  method: %s", c.Method)
	}
	if referer := r.Referer(); referer != "" {
		fmt.Fprintf(&b, "\n  referer: %s", referer)
	}
	return b.String()
}

// destroyConnection drops the client connection without a response.
// Writers that cannot be hijacked get a bodiless 413 and Connection: close.
func destroyConnection(w http.ResponseWriter) {
	conn, _, err := http.NewResponseController(w).Hijack()
	if err == nil {
		conn.Close()
		return
	}
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusRequestEntityTooLarge)
}
