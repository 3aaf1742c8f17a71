package osrf

import (
	"encoding/json"
	"fmt"
)

// MessageType is the inner Message's discriminant.
type MessageType string

const (
	MsgConnect    MessageType = "CONNECT"
	MsgRequest    MessageType = "REQUEST"
	MsgResult     MessageType = "RESULT"
	MsgStatus     MessageType = "STATUS"
	MsgDisconnect MessageType = "DISCONNECT"
)

func (t MessageType) valid() bool {
	switch t {
	case MsgConnect, MsgRequest, MsgResult, MsgStatus, MsgDisconnect:
		return true
	default:
		return false
	}
}

// Protocol metadata defaults, applied whenever a Message is constructed
// without an explicit override.
const (
	DefaultLocale   = "en-US"
	DefaultTimezone = "America/New_York"
	DefaultAPILevel = 1
	DefaultIngress  = "opensrf"
)

// Message is one CONNECT/REQUEST/RESULT/STATUS/DISCONNECT protocol unit
// carried in a TransportMessage's body.
type Message struct {
	ThreadTrace uint64
	Type        MessageType
	Locale      string
	Timezone    string
	APILevel    int
	Ingress     string
	Payload     Payload
}

// NewMessage builds a Message with the standard protocol-metadata defaults.
// A threadTrace of 0 is reserved for messages that carry no request
// correlation; callers building REQUESTs must supply a nonzero trace.
func NewMessage(mtype MessageType, threadTrace uint64, payload Payload) Message {
	return Message{
		ThreadTrace: threadTrace,
		Type:        mtype,
		Locale:      DefaultLocale,
		Timezone:    DefaultTimezone,
		APILevel:    DefaultAPILevel,
		Ingress:     DefaultIngress,
		Payload:     payload,
	}
}

type wireMessage struct {
	ThreadTrace uint64          `json:"threadTrace"`
	Type        MessageType     `json:"type"`
	Locale      string          `json:"locale"`
	Timezone    string          `json:"timezone"`
	APILevel    int             `json:"api_level"`
	Ingress     string          `json:"ingress"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON wraps the inner message in the osrfMessage class tag, so a
// []Message embedded in a TransportMessage's body serializes as an array of
// wrapped objects automatically.
func (m Message) MarshalJSON() ([]byte, error) {
	payloadRaw, err := marshalPayload(m.Payload)
	if err != nil {
		return nil, err
	}

	locale, timezone, ingress := m.Locale, m.Timezone, m.Ingress
	apiLevel := m.APILevel
	if locale == "" {
		locale = DefaultLocale
	}
	if timezone == "" {
		timezone = DefaultTimezone
	}
	if ingress == "" {
		ingress = DefaultIngress
	}
	if apiLevel == 0 {
		apiLevel = DefaultAPILevel
	}

	inner := wireMessage{
		ThreadTrace: m.ThreadTrace,
		Type:        m.Type,
		Locale:      locale,
		Timezone:    timezone,
		APILevel:    apiLevel,
		Ingress:     ingress,
		Payload:     payloadRaw,
	}

	return wrapClass(classMessage, inner)
}

// UnmarshalJSON unwraps the osrfMessage class tag and decodes the payload as
// a pure function of the message's type.
func (m *Message) UnmarshalJSON(data []byte) error {
	var inner wireMessage
	if err := unwrapClass(data, classMessage, &inner); err != nil {
		return err
	}

	if !inner.Type.valid() {
		return fmt.Errorf("osrf: unknown message type %q", inner.Type)
	}

	payload, err := decodePayloadFor(inner.Type, inner.Payload)
	if err != nil {
		return err
	}

	m.ThreadTrace = inner.ThreadTrace
	m.Type = inner.Type
	m.Locale = inner.Locale
	m.Timezone = inner.Timezone
	m.APILevel = inner.APILevel
	m.Ingress = inner.Ingress
	m.Payload = payload
	return nil
}

// TransportMessage is the outer wire envelope. Immutable after
// construction by convention; callers build a fresh value per send.
type TransportMessage struct {
	To      string
	From    string
	Thread  string
	OsrfXid string
	Body    []Message

	// droppedBody records decode errors for inner elements silently
	// dropped during UnmarshalJSON, so a caller that wants to log them
	// can. Not part of the wire shape; always nil for envelopes built
	// in-process rather than decoded off the bus.
	droppedBody []error
}

// DroppedBody returns decode errors for body elements that were silently
// dropped while decoding this envelope.
func (tm TransportMessage) DroppedBody() []error {
	return tm.droppedBody
}

// NewTransportMessage builds an envelope carrying the given inner Messages,
// in order. Every Client-issued send passes exactly one.
func NewTransportMessage(to, from, thread string, body ...Message) TransportMessage {
	return TransportMessage{To: to, From: from, Thread: thread, Body: body}
}

type wireTransportMessage struct {
	To      string    `json:"to"`
	From    string    `json:"from"`
	Thread  string    `json:"thread"`
	OsrfXid string    `json:"osrf_xid,omitempty"`
	Body    []Message `json:"body"`
}

// MarshalJSON serializes the envelope. Each inner Message wraps itself via
// its own MarshalJSON, so no extra work is needed here.
func (tm TransportMessage) MarshalJSON() ([]byte, error) {
	body := tm.Body
	if body == nil {
		body = []Message{}
	}
	return json.Marshal(wireTransportMessage{
		To:      tm.To,
		From:    tm.From,
		Thread:  tm.Thread,
		OsrfXid: tm.OsrfXid,
		Body:    body,
	})
}

// UnmarshalJSON decodes the envelope. Per the wire codec's leniency policy,
// an inner body element that fails to decode (unknown type, missing
// required field, wrong class tag) is dropped silently rather than failing
// the whole envelope; the caller logs drops, this method doesn't.
func (tm *TransportMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		To      string            `json:"to"`
		From    string            `json:"from"`
		Thread  string            `json:"thread"`
		OsrfXid string            `json:"osrf_xid"`
		Body    []json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("osrf: malformed envelope: %w", err)
	}

	tm.To = raw.To
	tm.From = raw.From
	tm.Thread = raw.Thread
	tm.OsrfXid = raw.OsrfXid
	tm.Body = make([]Message, 0, len(raw.Body))
	for _, elem := range raw.Body {
		var m Message
		if err := json.Unmarshal(elem, &m); err != nil {
			tm.droppedBody = append(tm.droppedBody, err)
			continue
		}
		tm.Body = append(tm.Body, m)
	}
	return nil
}
