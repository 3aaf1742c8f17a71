package osrf

import (
	"fmt"

	"opensrf.io/client/bus"
)

// ConfigError and BusError are the bus-layer error kinds (§7), defined in
// package bus since that's where they originate; aliased here so callers
// can errors.As against osrf.ConfigError/osrf.BusError without importing
// the bus package directly.
type ConfigError = bus.ConfigError
type BusError = bus.Error

// JSONError is returned when an inbound envelope string fails to parse as
// JSON. The envelope is dropped; this error is surfaced to the caller that
// was waiting on it.
type JSONError struct {
	Err error
}

func (e *JSONError) Error() string {
	return fmt.Sprintf("osrf: malformed envelope: %s", e.Err)
}

func (e *JSONError) Unwrap() error { return e.Err }

// InternalAPIError is the error kind for programmer misuse of the API. No
// Client method returns it: a session handle that was never opened, or has
// been cleaned up, yields NoSuchThreadError.
type InternalAPIError struct {
	Reason string
}

func (e *InternalAPIError) Error() string {
	return fmt.Sprintf("osrf: internal API misuse: %s", e.Reason)
}

// NoSuchThreadError is returned when an operation names a session handle
// that has already been cleaned up.
type NoSuchThreadError struct {
	Handle SessionHandle
}

func (e *NoSuchThreadError) Error() string {
	return fmt.Sprintf("osrf: no such session: %v", e.Handle)
}

// ConnectTimeoutError is returned by Connect when no OK status is observed
// within the connect budget.
type ConnectTimeoutError struct {
	Thread string
}

func (e *ConnectTimeoutError) Error() string {
	return fmt.Sprintf("osrf: connect timed out waiting for thread %s", e.Thread)
}

// RequestTimeoutError is returned when the server emits a TIMEOUT status,
// tearing down a stateful session on keepalive.
type RequestTimeoutError struct {
	Thread string
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("osrf: server closed session %s on keepalive timeout", e.Thread)
}

// BadResponseError is returned when the server emits an unexpected status
// code or a payload type that doesn't fit the message type in flight.
type BadResponseError struct {
	Thread string
	Reason string
}

func (e *BadResponseError) Error() string {
	return fmt.Sprintf("osrf: bad response on thread %s: %s", e.Thread, e.Reason)
}
