package osrf_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	osrf "opensrf.io/client"
	"opensrf.io/client/bus"
)

func resultEnvelope(to, from, thread string, msgs ...osrf.Message) string {
	tm := osrf.NewTransportMessage(to, from, thread, msgs...)
	raw, err := tm.MarshalJSON()
	if err != nil {
		panic(err)
	}
	return string(raw)
}

func mustValue(t *testing.T, v any) osrf.Value {
	t.Helper()
	val, err := osrf.NewValue(v)
	require.NoError(t, err)
	return val
}

// threadOf reads back the thread a Client assigned a session, by decoding
// the first envelope it sent toward service. Tests need the server-side
// thread to construct inbound envelopes that route to the right session.
func threadOf(t *testing.T, mem *bus.Memory, service string) string {
	t.Helper()
	sent := mem.Sent(service)
	require.NotEmpty(t, sent, "no outbound envelope sent toward %q yet", service)
	var tm osrf.TransportMessage
	require.NoError(t, tm.UnmarshalJSON([]byte(sent[0])))
	return tm.Thread
}

// connectOverMemory drives Connect to success against a Memory adapter,
// which never blocks. A first Connect attempt with a poll (0) budget fails
// fast, surfacing the thread the session was assigned; an OK status carrying
// the thread trace of the second attempt's CONNECT (one past the first's) is
// then queued and a second Connect attempt (still poll) picks it up
// immediately, pinning remoteAddr to workerAddr. Memory adapters never block,
// so this needs no goroutine or wall-clock race.
func connectOverMemory(t *testing.T, c *osrf.Client, mem *bus.Memory, handle osrf.SessionHandle, service, workerAddr string) string {
	t.Helper()

	err := c.Connect(handle)
	var timeoutErr *osrf.ConnectTimeoutError
	require.ErrorAs(t, err, &timeoutErr)

	thread := threadOf(t, mem, service)
	var firstConnect osrf.TransportMessage
	require.NoError(t, firstConnect.UnmarshalJSON([]byte(mem.Sent(service)[0])))
	retryTrace := firstConnect.Body[0].ThreadTrace + 1
	mem.Send("client1", resultEnvelope("client1", workerAddr, thread,
		osrf.NewMessage(osrf.MsgStatus, retryTrace, osrf.NewStatusPayload(osrf.StatusOK, "")),
	))

	require.NoError(t, c.Connect(handle))
	return thread
}

// TestClient_EchoStateless implements scenario 1: a stateless request whose
// two results and terminal COMPLETE status arrive across two envelopes.
func TestClient_EchoStateless(t *testing.T) {
	mem := bus.NewMemory("client1")
	c := osrf.NewClient(mem)

	handle := c.OpenSession("opensrf.settings")
	req, err := c.SendRequest(handle, "opensrf.system.echo", []osrf.Value{
		mustValue(t, "Hello"), mustValue(t, "World"),
	})
	require.NoError(t, err)

	thread := threadOf(t, mem, "opensrf.settings")

	mem.Send("client1", resultEnvelope("client1", "opensrf.settings.worker1", thread,
		osrf.NewMessage(osrf.MsgResult, req.ThreadTrace, osrf.NewResultPayload(osrf.StatusOK, "", mustValue(t, "Hello"))),
	))
	mem.Send("client1", resultEnvelope("client1", "opensrf.settings.worker1", thread,
		osrf.NewMessage(osrf.MsgResult, req.ThreadTrace, osrf.NewResultPayload(osrf.StatusOK, "", mustValue(t, "World"))),
		osrf.NewMessage(osrf.MsgStatus, req.ThreadTrace, osrf.NewStatusPayload(osrf.StatusComplete, "")),
	))

	v1, err := c.Recv(req, 0)
	require.NoError(t, err)
	require.Equal(t, "Hello", v1.Result().String())

	v2, err := c.Recv(req, 0)
	require.NoError(t, err)
	require.Equal(t, "World", v2.Result().String())

	v3, err := c.Recv(req, 0)
	require.NoError(t, err)
	require.Nil(t, v3)
	require.True(t, c.Complete(req))
}

// TestClient_InterleavedRequestsSameSession implements scenario 2: two
// requests on one session whose replies arrive out of order within a single
// envelope.
func TestClient_InterleavedRequestsSameSession(t *testing.T) {
	mem := bus.NewMemory("client1")
	c := osrf.NewClient(mem, osrf.WithConnectTimeout(0))

	handle := c.OpenSession("opensrf.actor")
	connectOverMemory(t, c, mem, handle, "opensrf.actor", "opensrf.actor.worker1")

	req1, err := c.SendRequest(handle, "opensrf.actor.one", nil)
	require.NoError(t, err)
	req2, err := c.SendRequest(handle, "opensrf.actor.two", nil)
	require.NoError(t, err)

	mem.Send("client1", resultEnvelope("client1", "opensrf.actor.worker1", threadOf(t, mem, "opensrf.actor"),
		osrf.NewMessage(osrf.MsgResult, req2.ThreadTrace, osrf.NewResultPayload(osrf.StatusOK, "", mustValue(t, "two"))),
		osrf.NewMessage(osrf.MsgResult, req1.ThreadTrace, osrf.NewResultPayload(osrf.StatusOK, "", mustValue(t, "one"))),
		osrf.NewMessage(osrf.MsgStatus, req1.ThreadTrace, osrf.NewStatusPayload(osrf.StatusComplete, "")),
		osrf.NewMessage(osrf.MsgStatus, req2.ThreadTrace, osrf.NewStatusPayload(osrf.StatusComplete, "")),
	))

	v1, err := c.Recv(req1, 0)
	require.NoError(t, err)
	require.Equal(t, "one", v1.Result().String())

	v2, err := c.Recv(req2, 0)
	require.NoError(t, err)
	require.Equal(t, "two", v2.Result().String())

	done1, err := c.Recv(req1, 0)
	require.NoError(t, err)
	require.Nil(t, done1)
	require.True(t, c.Complete(req1))

	done2, err := c.Recv(req2, 0)
	require.NoError(t, err)
	require.Nil(t, done2)
	require.True(t, c.Complete(req2))
}

// TestClient_ForeignThreadBuffering implements scenario 3: an envelope for
// an unrelated session sits ahead of the target session's envelope on the
// wire and must be set aside without being read twice.
func TestClient_ForeignThreadBuffering(t *testing.T) {
	mem := bus.NewMemory("client1")
	c := osrf.NewClient(mem)

	s1 := c.OpenSession("opensrf.one")
	s2 := c.OpenSession("opensrf.two")

	req1, err := c.SendRequest(s1, "echo", nil)
	require.NoError(t, err)
	req2, err := c.SendRequest(s2, "echo", nil)
	require.NoError(t, err)

	thread1 := threadOf(t, mem, "opensrf.one")
	thread2 := threadOf(t, mem, "opensrf.two")

	mem.Send("client1", resultEnvelope("client1", "opensrf.two.worker1", thread2,
		osrf.NewMessage(osrf.MsgResult, req2.ThreadTrace, osrf.NewResultPayload(osrf.StatusOK, "", mustValue(t, "two"))),
	))
	mem.Send("client1", resultEnvelope("client1", "opensrf.one.worker1", thread1,
		osrf.NewMessage(osrf.MsgResult, req1.ThreadTrace, osrf.NewResultPayload(osrf.StatusOK, "", mustValue(t, "one"))),
	))

	v1, err := c.Recv(req1, 0)
	require.NoError(t, err)
	require.Equal(t, "one", v1.Result().String())

	v2, err := c.Recv(req2, 0)
	require.NoError(t, err)
	require.Equal(t, "two", v2.Result().String())
}

// TestClient_Sessions exercises the diagnostic session-listing introspection
// method: every OpenSession adds a handle, and Cleanup removes it.
func TestClient_Sessions(t *testing.T) {
	mem := bus.NewMemory("client1")
	c := osrf.NewClient(mem)

	require.Empty(t, c.Sessions())

	h1 := c.OpenSession("opensrf.one")
	h2 := c.OpenSession("opensrf.two")
	require.ElementsMatch(t, []osrf.SessionHandle{h1, h2}, c.Sessions())

	c.Cleanup(h1)
	require.Equal(t, []osrf.SessionHandle{h2}, c.Sessions())
}

// TestClient_ConnectTimeout implements scenario 4: no OK status ever
// arrives, so Connect must fail with ConnectTimeoutError having sent
// exactly one CONNECT.
func TestClient_ConnectTimeout(t *testing.T) {
	mem := bus.NewMemory("client1")
	c := osrf.NewClient(mem, osrf.WithConnectTimeout(0))

	handle := c.OpenSession("opensrf.actor")
	err := c.Connect(handle)

	var timeoutErr *osrf.ConnectTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Len(t, mem.Sent("opensrf.actor"), 1)
}

// TestClient_ServerKeepaliveTimeout implements scenario 5: after a
// successful Connect, a STATUS 408 on the next Recv tears the session down.
func TestClient_ServerKeepaliveTimeout(t *testing.T) {
	mem := bus.NewMemory("client1")
	c := osrf.NewClient(mem, osrf.WithConnectTimeout(0))

	handle := c.OpenSession("opensrf.actor")
	thread := connectOverMemory(t, c, mem, handle, "opensrf.actor", "opensrf.actor.worker1")

	req, err := c.SendRequest(handle, "echo", nil)
	require.NoError(t, err)

	mem.Send("client1", resultEnvelope("client1", "opensrf.actor.worker1", thread,
		osrf.NewMessage(osrf.MsgStatus, req.ThreadTrace, osrf.NewStatusPayload(osrf.StatusTimeout, "")),
	))

	_, err = c.Recv(req, 0)
	var timeoutErr *osrf.RequestTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

// TestClient_DisconnectAddressing implements scenario 6: after Connect,
// Disconnect addresses the pinned worker (not the service name) and resets
// the session before returning.
func TestClient_DisconnectAddressing(t *testing.T) {
	mem := bus.NewMemory("client1")
	c := osrf.NewClient(mem, osrf.WithConnectTimeout(0))

	handle := c.OpenSession("opensrf.actor")
	connectOverMemory(t, c, mem, handle, "opensrf.actor", "opensrf.actor.worker7")

	require.NoError(t, c.Disconnect(handle))

	sentToWorker := mem.Sent("opensrf.actor.worker7")
	require.Len(t, sentToWorker, 1)

	var disconnectEnv osrf.TransportMessage
	require.NoError(t, disconnectEnv.UnmarshalJSON([]byte(sentToWorker[0])))
	require.Len(t, disconnectEnv.Body, 1)
	require.Equal(t, osrf.MsgDisconnect, disconnectEnv.Body[0].Type)
}
