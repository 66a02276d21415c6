// Package socket implements the message framing protocol used on
// persistent connections and a websocket server that feeds framed
// messages into a handler chain.
//
// A frame is a JSON headers block, the separator "\n\n" and a body:
//
//	{"path":"/echo","requestId":"r1"}\n\n{"name":"Ada"}
//
// JSON escapes control characters, so the separator never occurs inside
// the headers block and the first occurrence always ends it.
package socket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/artpar/apimech/core/events"
)

// HeadersSeparator delimits the headers block from the body.
const HeadersSeparator = "\n\n"

// EventMessageSent is published after every message written to a connection.
const EventMessageSent = "socket.message_sent"

// Header names with protocol meaning.
const (
	HeaderStatus    = "status"
	HeaderRequestID = "requestId"
	HeaderPath      = "path"
	HeaderMethod    = "method"
)

// ErrNoSeparator is returned by Decode when a frame has no headers separator.
var ErrNoSeparator = errors.New("socket: message has no headers separator")

var separator = []byte(HeadersSeparator)

// Connection is a writable endpoint. Each Write carries one whole frame.
type Connection interface {
	Write(p []byte) (int, error)
}

// Message is a decoded frame.
type Message struct {
	Headers map[string]any
	// Body is the raw body block, left for the caller to interpret.
	Body string
}

// Request is an inbound message and the connection it arrived on.
type Request struct {
	Headers    map[string]any
	Connection Connection
}

// Response carries the headers and status for a reply.
type Response struct {
	Headers    map[string]any
	StatusCode int
}

// Transport encodes, decodes and delivers frames.
type Transport struct {
	codec  BodyCodec
	bus    *events.Bus
	logger zerolog.Logger
}

// NewTransport creates a transport. A nil codec selects JSON bodies;
// a nil bus disables delivery notifications.
func NewTransport(codec BodyCodec, bus *events.Bus, logger zerolog.Logger) *Transport {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Transport{codec: codec, bus: bus, logger: logger}
}

// Codec returns the body codec.
func (t *Transport) Codec() BodyCodec {
	return t.codec
}

// Encode serializes headers and data into one frame.
// Absent data produces an empty body.
func (t *Transport) Encode(headers map[string]any, data any) ([]byte, error) {
	if headers == nil {
		headers = map[string]any{}
	}
	head, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("encode headers: %w", err)
	}

	var body []byte
	if data != nil {
		body, err = t.codec.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
	}

	frame := make([]byte, 0, len(head)+len(separator)+len(body))
	frame = append(frame, head...)
	frame = append(frame, separator...)
	frame = append(frame, body...)
	return frame, nil
}

// Decode splits a frame at the first separator and parses the headers.
func (t *Transport) Decode(message []byte) (Message, error) {
	head, body, found := bytes.Cut(message, separator)
	if !found {
		return Message{}, ErrNoSeparator
	}

	var headers map[string]any
	if err := json.Unmarshal(head, &headers); err != nil {
		return Message{}, fmt.Errorf("decode headers: %w", err)
	}
	if headers == nil {
		headers = map[string]any{}
	}

	return Message{Headers: headers, Body: string(body)}, nil
}

// SendSingleMessage writes one encoded frame and publishes EventMessageSent.
func (t *Transport) SendSingleMessage(ctx context.Context, conn Connection, message []byte) error {
	if _, err := conn.Write(message); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	t.bus.Publish(ctx, events.Event{
		Name:   EventMessageSent,
		Source: "socket",
		Data: map[string]any{
			"connection": conn,
			"message":    message,
		},
	})
	return nil
}

// Send encodes data once with empty headers and writes the same bytes to
// every recipient whose key is not excluded. An empty recipient set is a
// no-op. A failed write does not stop delivery to the others.
func (t *Transport) Send(ctx context.Context, recipients map[string]Connection, data any, exclude map[string]struct{}) error {
	if len(recipients) == 0 {
		return nil
	}

	message, err := t.Encode(nil, data)
	if err != nil {
		return err
	}

	var errs []error
	for id, conn := range recipients {
		if _, skip := exclude[id]; skip {
			continue
		}
		if err := t.SendSingleMessage(ctx, conn, message); err != nil {
			t.logger.Warn().Err(err).Str("connection_id", id).Msg("multicast write failed")
			errs = append(errs, fmt.Errorf("send to %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// SendResult replies on the request's connection. The reply headers are a
// copy of the response headers plus status and the echoed requestId.
func (t *Transport) SendResult(ctx context.Context, req *Request, res *Response, result any) error {
	status := http.StatusOK
	var appHeaders map[string]any
	if res != nil {
		appHeaders = res.Headers
		if res.StatusCode != 0 {
			status = res.StatusCode
		}
	}

	headers := make(map[string]any, len(appHeaders)+2)
	for k, v := range appHeaders {
		headers[k] = v
	}
	headers[HeaderStatus] = status
	if id, ok := req.Headers[HeaderRequestID]; ok && id != nil {
		headers[HeaderRequestID] = id
	}

	if status == http.StatusNoContent {
		result = nil
	}

	message, err := t.Encode(headers, result)
	if err != nil {
		return err
	}
	return t.SendSingleMessage(ctx, req.Connection, message)
}
