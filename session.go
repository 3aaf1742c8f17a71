package osrf

import (
	"fmt"
	"math/rand/v2"
)

// SessionHandle is the opaque local handle a caller holds for a Session.
// Lookup inside the Client is by this numeric handle; the registry also keeps
// thread as a secondary index (lookupByThread). Inbound envelopes are routed
// by comparing their thread with the awaited session's, not through that
// index.
type SessionHandle uint64

// RequestHandle addresses one Request within a Session.
type RequestHandle struct {
	Session     SessionHandle
	ThreadTrace uint64
}

func (h RequestHandle) String() string {
	return fmt.Sprintf("session:%d/trace:%d", h.Session, h.ThreadTrace)
}

// request tracks one REQUEST's completion state, keyed into a session's
// request table by thread trace.
type request struct {
	threadTrace uint64
	complete    bool
}

// session holds the protocol state for one logical conversation: the
// connected flag, pinned worker address, last issued sequence number,
// reply backlog, and request table.
type session struct {
	id         SessionHandle
	thread     string
	service    string
	remoteAddr string // empty means unpinned; outbound targets service instead
	connected  bool
	lastTrace  uint64

	requests     map[uint64]*request
	replyBacklog []Message
}

// target is the outbound `to` address: the pinned worker if connected and
// pinned, otherwise the service name.
func (s *session) target() string {
	if s.connected && s.remoteAddr != "" {
		return s.remoteAddr
	}
	return s.service
}

// pin applies the reply-addressing rule: the first inbound envelope for a
// stateless request pins remoteAddr to its `from`; later envelopes update
// it if the peer reassigns within a connection.
func (s *session) pin(from string) {
	if from != "" && from != s.remoteAddr {
		s.remoteAddr = from
	}
}

// reset clears connected state and the pin on disconnect or a CONNECT/
// request timeout. The request table and its completion flags are left
// alone; only the reply backlog, tied to the now-stale connection, is
// dropped.
func (s *session) reset() {
	s.connected = false
	s.remoteAddr = ""
	s.replyBacklog = s.replyBacklog[:0]
}

// popBacklog removes and returns the first reply_backlog entry matching
// trace, if any. Non-matching entries are left in place: a backlog may
// legitimately hold replies for other live requests on the same session.
func (s *session) popBacklog(trace uint64) (Message, bool) {
	for i, m := range s.replyBacklog {
		if m.ThreadTrace == trace {
			s.replyBacklog = append(s.replyBacklog[:i], s.replyBacklog[i+1:]...)
			return m, true
		}
	}
	return Message{}, false
}

// registry is the session table owned by a Client. It is not itself
// concurrency-safe; the Client serializes access to it.
type registry struct {
	next     SessionHandle
	byHandle map[SessionHandle]*session
	byThread map[string]SessionHandle
}

func newRegistry() *registry {
	return &registry{
		byHandle: make(map[SessionHandle]*session),
		byThread: make(map[string]SessionHandle),
	}
}

func (r *registry) open(service string) *session {
	r.next++
	s := &session{
		id:       r.next,
		thread:   newThread(),
		service:  service,
		requests: make(map[uint64]*request),
	}
	r.byHandle[s.id] = s
	r.byThread[s.thread] = s.id
	return s
}

func (r *registry) lookup(handle SessionHandle) (*session, bool) {
	s, ok := r.byHandle[handle]
	return s, ok
}

func (r *registry) lookupByThread(thread string) (*session, bool) {
	handle, ok := r.byThread[thread]
	if !ok {
		return nil, false
	}
	return r.byHandle[handle], true
}

func (r *registry) drop(handle SessionHandle) {
	s, ok := r.byHandle[handle]
	if !ok {
		return
	}
	delete(r.byThread, s.thread)
	delete(r.byHandle, handle)
}

func (r *registry) handles() []SessionHandle {
	out := make([]SessionHandle, 0, len(r.byHandle))
	for h := range r.byHandle {
		out = append(out, h)
	}
	return out
}

// newThread generates a 16-digit decimal session identifier, unique within
// the process with overwhelming probability.
func newThread() string {
	return randomDigits(16)
}

func randomDigits(n int) string {
	max := int64(1)
	for i := 0; i < n; i++ {
		max *= 10
	}
	return fmt.Sprintf("%0*d", n, rand.Int64N(max))
}
