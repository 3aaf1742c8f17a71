package osrf

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"opensrf.io/client/bus"
)

type clientConfig struct {
	logger         *zap.Logger
	connectTimeout time.Duration
	tracing        bool
}

// ClientOption configures a Client at construction, in the functional-options
// shape.
type ClientOption interface {
	apply(*clientConfig)
}

type clientOptionFunc func(*clientConfig)

func (f clientOptionFunc) apply(cfg *clientConfig) { f(cfg) }

// WithLogger attaches a zap logger. The default is zap.NewNop().
func WithLogger(l *zap.Logger) ClientOption {
	return clientOptionFunc(func(cfg *clientConfig) { cfg.logger = l })
}

// WithConnectTimeout overrides the default 10-second budget Connect allows
// for a worker's OK acknowledgment.
func WithConnectTimeout(d time.Duration) ClientOption {
	return clientOptionFunc(func(cfg *clientConfig) { cfg.connectTimeout = d })
}

// WithTracing stamps every outbound envelope with a fresh osrf_xid.
func WithTracing(enabled bool) ClientOption {
	return clientOptionFunc(func(cfg *clientConfig) { cfg.tracing = enabled })
}

// Client is the dispatcher driving one bus connection: it multiplexes many
// Sessions and their Requests over a single Adapter, demultiplexing inbound
// envelopes first by thread (the transport backlog) and then, within a
// session, by thread trace (the session's reply backlog).
type Client struct {
	adapter        bus.Adapter
	log            *zap.Logger
	connectTimeout time.Duration
	tracing        bool

	reg              *registry
	transportBacklog []TransportMessage
}

// NewClient wraps adapter with a session multiplexer. adapter is assumed
// already connected to the broker (see bus.Dial).
func NewClient(adapter bus.Adapter, opts ...ClientOption) *Client {
	cfg := clientConfig{
		logger:         zap.NewNop(),
		connectTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	return &Client{
		adapter:        adapter,
		log:            cfg.logger,
		connectTimeout: cfg.connectTimeout,
		tracing:        cfg.tracing,
		reg:            newRegistry(),
	}
}

// OpenSession starts a new logical conversation addressed at service.
func (c *Client) OpenSession(service string) SessionHandle {
	return c.reg.open(service).id
}

// Sessions lists every session handle currently tracked by this Client.
func (c *Client) Sessions() []SessionHandle {
	return c.reg.handles()
}

// Cleanup drops a session's bookkeeping. It does not notify the peer; call
// Disconnect first if the session was ever connected.
func (c *Client) Cleanup(handle SessionHandle) {
	c.reg.drop(handle)
}

// Close releases the Client's own inbound queue on the broker. It does not
// disconnect any open session.
func (c *Client) Close() error {
	return c.adapter.Clear(c.adapter.BusID())
}

func (c *Client) session(handle SessionHandle) (*session, error) {
	s, ok := c.reg.lookup(handle)
	if !ok {
		return nil, &NoSuchThreadError{Handle: handle}
	}
	return s, nil
}

// Connect pins a session to a specific worker, blocking until that worker's
// OK status arrives or the connect budget is exhausted.
func (c *Client) Connect(handle SessionHandle) error {
	s, err := c.session(handle)
	if err != nil {
		return err
	}

	s.lastTrace++
	trace := s.lastTrace
	if err := c.sendMessage(s, NewMessage(MsgConnect, trace, noPayload())); err != nil {
		return err
	}

	timedOut := func() error {
		c.log.Debug("session reset: connect timed out", zap.String("thread", s.thread))
		s.reset()
		return &ConnectTimeoutError{Thread: s.thread}
	}

	d := newDeadline(int(c.connectTimeout.Seconds()))
	for {
		if msg, found := s.popBacklog(trace); found {
			if msg.Payload.Kind == PayloadStatus && msg.Payload.Status.StatusCode == StatusOK {
				s.connected = true
				return nil
			}
			if d.exhausted() {
				return timedOut()
			}
			continue
		}

		env, ok, err := c.recvThread(s, d)
		if err != nil {
			return err
		}
		if !ok {
			return timedOut()
		}
		if len(env.Body) == 0 {
			if d.exhausted() {
				return timedOut()
			}
			continue
		}

		head := env.Body[0]
		rest := env.Body[1:]

		if head.ThreadTrace == trace {
			s.replyBacklog = append(s.replyBacklog, rest...)
			if head.Payload.Kind == PayloadStatus && head.Payload.Status.StatusCode == StatusOK {
				s.connected = true
				return nil
			}
		} else {
			s.replyBacklog = append(s.replyBacklog, head)
			s.replyBacklog = append(s.replyBacklog, rest...)
		}
		if d.exhausted() {
			return timedOut()
		}
	}
}

// Disconnect sends DISCONNECT and immediately resets the session's
// connected state and pin, regardless of whether the peer acknowledges.
func (c *Client) Disconnect(handle SessionHandle) error {
	s, err := c.session(handle)
	if err != nil {
		return err
	}
	s.lastTrace++
	if err := c.sendMessage(s, NewMessage(MsgDisconnect, s.lastTrace, noPayload())); err != nil {
		return err
	}
	c.log.Debug("session reset: disconnect requested", zap.String("thread", s.thread))
	s.reset()
	return nil
}

// SendRequest issues a REQUEST against method with params, returning a
// handle for subsequent Recv/Complete calls.
func (c *Client) SendRequest(handle SessionHandle, method string, params []Value) (RequestHandle, error) {
	s, err := c.session(handle)
	if err != nil {
		return RequestHandle{}, err
	}

	s.lastTrace++
	trace := s.lastTrace
	s.requests[trace] = &request{threadTrace: trace}

	if err := c.sendMessage(s, NewMessage(MsgRequest, trace, NewMethodPayload(method, params))); err != nil {
		delete(s.requests, trace)
		return RequestHandle{}, err
	}
	return RequestHandle{Session: handle, ThreadTrace: trace}, nil
}

// Recv waits up to timeoutSeconds for the next reply to req, per the
// bus-wide 0/negative/positive convention. It returns (nil, nil) when the
// request is already complete, when nothing arrived within the budget, or
// when the server's COMPLETE status ends the request with no further
// content.
func (c *Client) Recv(req RequestHandle, timeoutSeconds int) (*Value, error) {
	s, err := c.session(req.Session)
	if err != nil {
		return nil, err
	}
	r, ok := s.requests[req.ThreadTrace]
	if !ok {
		return nil, &NoSuchThreadError{Handle: req.Session}
	}
	if r.complete {
		return nil, nil
	}

	d := newDeadline(timeoutSeconds)
	for {
		if msg, found := s.popBacklog(req.ThreadTrace); found {
			val, terminal, herr := c.handleReply(s, r, msg)
			if terminal {
				return val, herr
			}
			if d.exhausted() {
				return nil, nil
			}
			continue
		}

		env, ok, err := c.recvThread(s, d)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		if len(env.Body) == 0 {
			if d.exhausted() {
				return nil, nil
			}
			continue
		}

		head := env.Body[0]
		rest := env.Body[1:]
		if head.ThreadTrace == req.ThreadTrace {
			s.replyBacklog = append(s.replyBacklog, rest...)
			val, terminal, herr := c.handleReply(s, r, head)
			if terminal {
				return val, herr
			}
		} else {
			s.replyBacklog = append(s.replyBacklog, head)
			s.replyBacklog = append(s.replyBacklog, rest...)
		}
		if d.exhausted() {
			return nil, nil
		}
	}
}

// Complete reports whether req has seen a terminal COMPLETE status. A
// handle naming an already cleaned-up session or request reports true,
// since there is nothing left to wait for.
func (c *Client) Complete(req RequestHandle) bool {
	s, ok := c.reg.lookup(req.Session)
	if !ok {
		return true
	}
	r, ok := s.requests[req.ThreadTrace]
	if !ok {
		return true
	}
	return r.complete
}

// handleReply interprets one reply Message addressed to r. terminal reports
// whether the caller's Recv call should return now; a non-terminal reply
// (CONTINUE, or OK outside of Connect) means keep waiting for more.
func (c *Client) handleReply(s *session, r *request, m Message) (val *Value, terminal bool, err error) {
	switch m.Payload.Kind {
	case PayloadResult:
		v := m.Payload.Result.Content
		return &v, true, nil

	case PayloadStatus:
		switch m.Payload.Status.StatusCode {
		case StatusContinue:
			return nil, false, nil
		case StatusOK:
			s.connected = true
			return nil, false, nil
		case StatusComplete:
			r.complete = true
			return nil, true, nil
		case StatusTimeout:
			c.log.Warn("session reset: server reported request timeout", zap.String("thread", s.thread))
			s.reset()
			return nil, true, &RequestTimeoutError{Thread: s.thread}
		default:
			c.log.Warn("session reset: unexpected status",
				zap.String("thread", s.thread), zap.Int("statusCode", int(m.Payload.Status.StatusCode)))
			s.reset()
			return nil, true, &BadResponseError{
				Thread: s.thread,
				Reason: fmt.Sprintf("unexpected status %d", m.Payload.Status.StatusCode),
			}
		}

	default:
		c.log.Warn("session reset: unexpected payload", zap.String("thread", s.thread))
		s.reset()
		return nil, true, &BadResponseError{
			Thread: s.thread,
			Reason: fmt.Sprintf("unexpected payload for reply on thread %s", s.thread),
		}
	}
}

// recvThread implements the transport-level (thread) demultiplexing layer:
// a backlog of envelopes already pulled off the bus but addressed to a
// different session is checked first, then the bus itself is read,
// stashing every envelope that doesn't belong to s until one does or the
// deadline is exhausted.
func (c *Client) recvThread(s *session, d *deadline) (TransportMessage, bool, error) {
	if idx := c.indexOfThread(s.thread); idx >= 0 {
		tm := c.transportBacklog[idx]
		c.transportBacklog = append(c.transportBacklog[:idx], c.transportBacklog[idx+1:]...)
		s.pin(tm.From)
		return tm, true, nil
	}

	for {
		raw, ok, err := c.adapter.Recv(d.recvTimeout())
		if err != nil {
			return TransportMessage{}, false, err
		}
		if !ok {
			if d.retryOnEmpty() {
				continue
			}
			return TransportMessage{}, false, nil
		}

		var tm TransportMessage
		if jerr := json.Unmarshal([]byte(raw), &tm); jerr != nil {
			return TransportMessage{}, false, &JSONError{Err: jerr}
		}
		for _, derr := range tm.DroppedBody() {
			c.log.Warn("dropped malformed body element", zap.String("thread", tm.Thread), zap.Error(derr))
		}
		if c.tracing && tm.OsrfXid != "" {
			c.log.Debug("inbound osrf_xid", zap.String("thread", tm.Thread), zap.String("osrf_xid", tm.OsrfXid))
		}

		if tm.Thread == s.thread {
			s.pin(tm.From)
			return tm, true, nil
		}
		c.log.Debug("transport backlog: buffering envelope for foreign thread",
			zap.String("thread", tm.Thread), zap.String("awaiting", s.thread))
		c.transportBacklog = append(c.transportBacklog, tm)
		if d.exhausted() {
			return TransportMessage{}, false, nil
		}
	}
}

func (c *Client) indexOfThread(thread string) int {
	for i, tm := range c.transportBacklog {
		if tm.Thread == thread {
			return i
		}
	}
	return -1
}

func (c *Client) sendMessage(s *session, m Message) error {
	env := NewTransportMessage(s.target(), c.adapter.BusID(), s.thread, m)
	if c.tracing {
		env.OsrfXid = uuid.NewString()
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return &JSONError{Err: err}
	}
	return c.adapter.Send(env.To, string(raw))
}
