package socket_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/apimech/adapters/socket"
	"github.com/artpar/apimech/core/events"
)

type bufConn struct {
	writes [][]byte
	err    error
}

func (c *bufConn) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func newTransport(t *testing.T) (*socket.Transport, *int) {
	t.Helper()
	bus := events.NewBus(zerolog.Nop())
	sent := 0
	bus.Subscribe(socket.EventMessageSent, func(context.Context, events.Event) error {
		sent++
		return nil
	})
	return socket.NewTransport(nil, bus, zerolog.Nop()), &sent
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tr, _ := newTransport(t)

	headers := map[string]any{
		"path":      "/echo",
		"requestId": "r-1",
		"nested":    map[string]any{"a": []any{1.0, "two"}},
		"multiline": "line one\n\nline two",
	}
	data := map[string]any{"name": "Ada", "note": "a\n\nb"}

	frame, err := tr.Encode(headers, data)
	require.NoError(t, err)

	head, _, found := bytes.Cut(frame, []byte(socket.HeadersSeparator))
	require.True(t, found)
	assert.NotContains(t, string(head), "\n", "headers block must not contain raw newlines")

	msg, err := tr.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, headers, msg.Headers)
	assert.JSONEq(t, `{"name":"Ada","note":"a\n\nb"}`, msg.Body)
}

func TestEncode_AbsentDataAndHeaders(t *testing.T) {
	tr, _ := newTransport(t)

	frame, err := tr.Encode(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "{}\n\n", string(frame))

	msg, err := tr.Decode(frame)
	require.NoError(t, err)
	assert.Empty(t, msg.Headers)
	assert.Equal(t, "", msg.Body)
}

func TestEncode_Unencodable(t *testing.T) {
	tr, _ := newTransport(t)

	_, err := tr.Encode(map[string]any{"f": func() {}}, nil)
	assert.Error(t, err)

	_, err = tr.Encode(nil, make(chan int))
	assert.Error(t, err)
}

func TestDecode_BodyIsVerbatim(t *testing.T) {
	tr, _ := newTransport(t)

	msg, err := tr.Decode([]byte("{\"a\":1}\n\nnot json\n\nstill body"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, msg.Headers)
	assert.Equal(t, "not json\n\nstill body", msg.Body)
}

func TestDecode_Errors(t *testing.T) {
	tr, _ := newTransport(t)

	_, err := tr.Decode([]byte(`{"a":1}`))
	assert.ErrorIs(t, err, socket.ErrNoSeparator)

	_, err = tr.Decode([]byte("{broken\n\nbody"))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "decode headers:"))
}

func TestSendSingleMessage_PublishesEvent(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	var got events.Event
	bus.Subscribe(socket.EventMessageSent, func(_ context.Context, e events.Event) error {
		got = e
		return nil
	})
	tr := socket.NewTransport(nil, bus, zerolog.Nop())
	conn := &bufConn{}

	require.NoError(t, tr.SendSingleMessage(context.Background(), conn, []byte("x")))

	require.Len(t, conn.writes, 1)
	assert.Equal(t, socket.EventMessageSent, got.Name)
	assert.Equal(t, conn, got.Data["connection"])
	assert.Equal(t, []byte("x"), got.Data["message"])
}

func TestSendSingleMessage_WriteErrorNoEvent(t *testing.T) {
	tr, sent := newTransport(t)

	err := tr.SendSingleMessage(context.Background(), &bufConn{err: errors.New("closed")}, []byte("x"))
	assert.Error(t, err)
	assert.Equal(t, 0, *sent)
}

func TestSend_EmptyRecipients(t *testing.T) {
	tr, sent := newTransport(t)

	assert.NoError(t, tr.Send(context.Background(), nil, map[string]any{"a": 1}, nil))
	assert.NoError(t, tr.Send(context.Background(), map[string]socket.Connection{}, make(chan int), nil))
	assert.Equal(t, 0, *sent)
}

func TestSend_ExcludesAndSharesBytes(t *testing.T) {
	tr, sent := newTransport(t)

	a, b, c := &bufConn{}, &bufConn{}, &bufConn{}
	recipients := map[string]socket.Connection{"a": a, "b": b, "c": c}

	err := tr.Send(context.Background(), recipients, map[string]any{"k": "v"}, map[string]struct{}{"b": {}})
	require.NoError(t, err)

	assert.Empty(t, b.writes)
	require.Len(t, a.writes, 1)
	require.Len(t, c.writes, 1)
	assert.Equal(t, a.writes[0], c.writes[0])
	assert.Equal(t, "{}\n\n{\"k\":\"v\"}", string(a.writes[0]))
	assert.Equal(t, 2, *sent)
}

func TestSend_ContinuesPastFailures(t *testing.T) {
	tr, sent := newTransport(t)

	good := &bufConn{}
	recipients := map[string]socket.Connection{
		"bad":  &bufConn{err: errors.New("broken pipe")},
		"good": good,
	}

	err := tr.Send(context.Background(), recipients, "hello", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send to bad")
	assert.Len(t, good.writes, 1)
	assert.Equal(t, 1, *sent)
}

func TestSendResult_Headers(t *testing.T) {
	tr, _ := newTransport(t)
	conn := &bufConn{}

	req := &socket.Request{Headers: map[string]any{"requestId": "abc", "path": "/x"}, Connection: conn}
	res := &socket.Response{Headers: map[string]any{"x-app": "1"}}

	require.NoError(t, tr.SendResult(context.Background(), req, res, map[string]any{"ok": true}))

	require.Len(t, conn.writes, 1)
	msg, err := tr.Decode(conn.writes[0])
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x-app": "1", "status": 200.0, "requestId": "abc"}, msg.Headers)
	assert.JSONEq(t, `{"ok":true}`, msg.Body)
	assert.NotContains(t, res.Headers, "status", "response headers must not be modified")
}

func TestSendResult_NoRequestID(t *testing.T) {
	tr, _ := newTransport(t)
	conn := &bufConn{}

	req := &socket.Request{Headers: map[string]any{}, Connection: conn}
	require.NoError(t, tr.SendResult(context.Background(), req, &socket.Response{StatusCode: 404}, nil))

	msg, err := tr.Decode(conn.writes[0])
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": 404.0}, msg.Headers)
	assert.Equal(t, "", msg.Body)
}

func TestSendResult_NoContent(t *testing.T) {
	tr, _ := newTransport(t)
	conn := &bufConn{}

	req := &socket.Request{Connection: conn}
	require.NoError(t, tr.SendResult(context.Background(), req, &socket.Response{StatusCode: 204}, "ignored"))

	msg, err := tr.Decode(conn.writes[0])
	require.NoError(t, err)
	assert.Equal(t, 204.0, msg.Headers["status"])
	assert.Equal(t, "", msg.Body)
}

func TestCodecByName(t *testing.T) {
	c, err := socket.CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())
	assert.False(t, c.Binary())

	c, err = socket.CodecByName("cbor")
	require.NoError(t, err)
	assert.Equal(t, "cbor", c.Name())
	assert.True(t, c.Binary())

	_, err = socket.CodecByName("xml")
	assert.ErrorIs(t, err, socket.ErrUnknownCodec)
}

func TestCBORCodec_RoundTrip(t *testing.T) {
	codec, err := socket.NewCBORCodec()
	require.NoError(t, err)
	tr := socket.NewTransport(codec, nil, zerolog.Nop())

	frame, err := tr.Encode(map[string]any{"path": "/echo"}, map[string]any{"name": "Ada", "tags": []any{"x"}})
	require.NoError(t, err)

	msg, err := tr.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, "/echo", msg.Headers["path"])

	body, err := codec.Unmarshal([]byte(msg.Body))
	require.NoError(t, err)
	m, ok := body.(map[string]any)
	require.True(t, ok, "cbor maps decode as map[string]any, got %T", body)
	assert.Equal(t, "Ada", m["name"])
	assert.Equal(t, []any{"x"}, m["tags"])
}
