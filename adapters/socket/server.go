package socket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/artpar/apimech/adapters/idgen"
	"github.com/artpar/apimech/adapters/metrics"
	"github.com/artpar/apimech/config"
	"github.com/artpar/apimech/core/handler"
	"github.com/artpar/apimech/core/request"
	"github.com/artpar/apimech/core/validation"
)

// Error codes answered by the socket server.
const (
	CodeBadMessage  = "bad_message"
	CodeInvalidBody = "invalid_body"
)

// closeGrace bounds how long a connection closed for a too large message
// is drained.
const closeGrace = time.Second

var (
	// ErrNoHandler is returned when a server is created without a handler.
	ErrNoHandler = errors.New("no handler set for socket mechanics")

	// ErrMessageTooLarge ends a connection whose message exceeds
	// web.body_max_size.
	ErrMessageTooLarge = errors.New("socket: message too large")
)

// ServerOptions configures a socket server.
type ServerOptions struct {
	Handler   handler.Handler
	Transport *Transport
	Settings  func() *config.Config
	Logger    zerolog.Logger
	Metrics   *metrics.Collector
	IDs       idgen.Generator // Connection IDs (default: idgen.UUID)
}

// Server accepts websocket connections and runs every received frame
// through the handler chain. Frames of one connection are handled in
// arrival order.
type Server struct {
	handler   handler.Handler
	transport *Transport
	settings  func() *config.Config
	logger    zerolog.Logger
	metrics   *metrics.Collector
	ids       idgen.Generator

	mu    sync.RWMutex
	conns map[string]*conn
}

// exchange is the per-message state kept on the request context.
type exchange struct {
	req *Request
}

// conn serializes frame writes on one websocket connection.
type conn struct {
	id     string
	nc     net.Conn
	binary bool
	mu     sync.Mutex
}

// Write sends p as one websocket message.
func (c *conn) Write(p []byte) (int, error) {
	op := ws.OpText
	if c.binary {
		op = ws.OpBinary
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := wsutil.WriteServerMessage(c.nc, op, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// controlRW lets the frame reader answer control frames through the
// connection's write lock.
type controlRW struct {
	c *conn
}

func (rw controlRW) Read(p []byte) (int, error) {
	return rw.c.nc.Read(p)
}

func (rw controlRW) Write(p []byte) (int, error) {
	rw.c.mu.Lock()
	defer rw.c.mu.Unlock()
	return rw.c.nc.Write(p)
}

// NewServer creates a socket server.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Handler == nil {
		return nil, ErrNoHandler
	}
	if opts.Transport == nil {
		opts.Transport = NewTransport(nil, nil, opts.Logger)
	}
	if opts.Settings == nil {
		cfg, err := config.Default()
		if err != nil {
			return nil, fmt.Errorf("default config: %w", err)
		}
		opts.Settings = func() *config.Config { return cfg }
	}
	if opts.IDs == nil {
		opts.IDs = idgen.UUID{}
	}
	return &Server{
		handler:   opts.Handler,
		transport: opts.Transport,
		settings:  opts.Settings,
		logger:    opts.Logger.With().Str("component", "socket").Logger(),
		metrics:   opts.Metrics,
		ids:       opts.IDs,
		conns:     make(map[string]*conn),
	}, nil
}

// Name identifies the mechanics.
func (s *Server) Name() string {
	return "socket"
}

// Transport returns the frame transport.
func (s *Server) Transport() *Transport {
	return s.transport
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	nc, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	// Hijacked connections keep the http.Server read/write deadlines.
	if err := nc.SetDeadline(time.Time{}); err != nil {
		s.logger.Warn().Err(err).Msg("clear connection deadline")
	}

	c := &conn{
		id:     s.ids.New(),
		nc:     nc,
		binary: s.transport.Codec().Binary(),
	}
	s.register(c)
	defer s.unregister(c)

	s.logger.Debug().Str("connection_id", c.id).Str("remote", r.RemoteAddr).Msg("socket connected")

	ctx := r.Context()
	rw := controlRW{c: c}
	for {
		data, err := readMessage(rw, s.settings().Web.BodyMaxSize)
		if errors.Is(err, ErrMessageTooLarge) {
			s.closeTooLarge(c, err)
			return
		}
		if err != nil {
			var closed wsutil.ClosedError
			if !errors.As(err, &closed) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug().Err(err).Str("connection_id", c.id).Msg("socket read ended")
			}
			return
		}
		if s.metrics != nil {
			s.metrics.MessagesReceived.Inc()
		}
		s.handleMessage(ctx, c, data)
	}
}

// readMessage reads the next text or binary message, answering control
// frames on the way. A nil limit reads messages of any size.
func readMessage(rw io.ReadWriter, limit *int64) ([]byte, error) {
	control := wsutil.ControlFrameHandler(rw, ws.StateServerSide)
	rd := wsutil.Reader{
		Source:         rw,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}
	if limit != nil {
		rd.MaxFrameSize = *limit
	}

	for {
		hdr, err := rd.NextFrame()
		if errors.Is(err, wsutil.ErrFrameTooLarge) {
			return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrMessageTooLarge, *limit)
		}
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, &rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode != ws.OpText && hdr.OpCode != ws.OpBinary {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}

		if limit == nil {
			return io.ReadAll(&rd)
		}
		// Fragments are checked one by one; the sum is checked here.
		data, err := io.ReadAll(io.LimitReader(&rd, *limit+1))
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > *limit {
			return nil, fmt.Errorf("%w: message exceeds %d bytes", ErrMessageTooLarge, *limit)
		}
		return data, nil
	}
}

// closeTooLarge sends a 1009 close frame. The connection is closed on return.
func (s *Server) closeTooLarge(c *conn, err error) {
	s.logger.Warn().Err(err).Str("connection_id", c.id).Msg("socket message too large")
	if s.metrics != nil {
		s.metrics.BodyTooLarge.WithLabelValues(metrics.SourceMeasured).Inc()
	}

	body := ws.NewCloseFrameBody(ws.StatusMessageTooBig, "message too large")
	c.mu.Lock()
	err = wsutil.WriteServerMessage(c.nc, ws.OpClose, body)
	c.mu.Unlock()
	if err != nil {
		s.logger.Debug().Err(err).Str("connection_id", c.id).Msg("write close frame")
		return
	}

	// Unread input would turn the close into a reset that can drop the
	// close frame before the client reads it.
	if err := c.nc.SetReadDeadline(time.Now().Add(closeGrace)); err == nil {
		_, _ = io.Copy(io.Discard, c.nc)
	}
}

func (s *Server) handleMessage(ctx context.Context, c *conn, raw []byte) {
	msg, err := s.transport.Decode(raw)
	if err != nil {
		s.logger.Warn().Err(err).Str("connection_id", c.id).Msg("undecodable socket message")
		s.reply(ctx, &Request{Headers: map[string]any{}, Connection: c}, http.StatusBadRequest,
			request.NewStatusError(http.StatusBadRequest, CodeBadMessage, ""))
		return
	}

	req := &Request{Headers: msg.Headers, Connection: c}

	path, _ := msg.Headers[HeaderPath].(string)
	method, _ := msg.Headers[HeaderMethod].(string)
	if method == "" {
		method = http.MethodPost
	}
	requestID, _ := msg.Headers[HeaderRequestID].(string)

	rc := request.New(request.Options{
		Mechanics: s,
		Path:      path,
		Method:    method,
		RequestID: requestID,
		Headers:   msg.Headers,
		Settings:  s.settings,
		Logger:    s.logger.With().Str("connection_id", c.id).Logger(),
		Context:   ctx,
	})
	rc.MechanicsData = &exchange{req: req}

	// Whitespace is a valid CBOR body (e.g. -1 encodes as 0x20).
	hasBody := len(msg.Body) > 0
	if !s.transport.Codec().Binary() {
		hasBody = strings.TrimSpace(msg.Body) != ""
	}
	if hasBody {
		data, err := s.transport.Codec().Unmarshal([]byte(msg.Body))
		if err != nil {
			message := ""
			if rc.IsDebug() {
				message = err.Error()
			}
			if err := rc.SendError(validation.NewError("", CodeInvalidBody, nil, message)); err != nil {
				rc.Logger().Error().Err(err).Msg("failed to send socket error")
			}
			return
		}
		rc.SetData(data)
	}

	rc.OnDone(func(err error) {
		if rc.ResponseSent() {
			return
		}
		if err == nil {
			err = request.NewStatusError(http.StatusNotFound, request.CodeNotFound, "")
		}
		if sendErr := rc.SendError(err); sendErr != nil {
			rc.Logger().Error().Err(sendErr).Msg("failed to send socket error")
		}
	})

	rc.Done(s.handler.Handle(rc))
}

func (s *Server) reply(ctx context.Context, req *Request, status int, serr *request.StatusError) {
	body := map[string]any{"error": serr}
	if err := s.transport.SendResult(ctx, req, &Response{StatusCode: status}, body); err != nil {
		s.logger.Error().Err(err).Msg("failed to send socket reply")
		return
	}
	s.countSent(status)
}

// SendResult answers the request on its originating connection.
func (s *Server) SendResult(c *request.Ctx, result any) error {
	ex, ok := c.MechanicsData.(*exchange)
	if !ok {
		return fmt.Errorf("socket: request has no exchange state")
	}

	headers := make(map[string]any, len(c.ResponseHeaders()))
	for k, v := range c.ResponseHeaders() {
		headers[k] = v
	}

	res := &Response{Headers: headers, StatusCode: c.Status()}
	if err := s.transport.SendResult(c.Context(), ex.req, res, result); err != nil {
		return err
	}
	status := c.Status()
	if status == 0 {
		status = http.StatusOK
	}
	s.countSent(status)
	return nil
}

// Broadcast sends data to every open connection except the excluded ids.
func (s *Server) Broadcast(ctx context.Context, data any, excludeIDs ...string) error {
	s.mu.RLock()
	recipients := make(map[string]Connection, len(s.conns))
	for id, c := range s.conns {
		recipients[id] = c
	}
	s.mu.RUnlock()

	exclude := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		exclude[id] = struct{}{}
	}

	if err := s.transport.Send(ctx, recipients, data, exclude); err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	return nil
}

// ConnectionIDs returns the ids of open connections.
func (s *Server) ConnectionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	return ids
}

// Close closes every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.nc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) register(c *conn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SocketConnections.Inc()
	}
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	c.nc.Close()
	if s.metrics != nil {
		s.metrics.SocketConnections.Dec()
	}
	s.logger.Debug().Str("connection_id", c.id).Msg("socket disconnected")
}

func (s *Server) countSent(status int) {
	if s.metrics == nil {
		return
	}
	s.metrics.MessagesSent.Inc()
	s.metrics.ResponsesTotal.WithLabelValues(s.Name(), metrics.StatusClass(status)).Inc()
}
