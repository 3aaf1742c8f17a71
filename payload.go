package osrf

import (
	"encoding/json"
	"fmt"
)

// Class tags used by the wire's "__c"/"__p" wrapping convention.
const (
	classMessage = "osrfMessage"
	classResult  = "osrfResult"
	classStatus  = "osrfStatus"
	classMethod  = "osrfMethod"
)

type classWrapper struct {
	Class   string          `json:"__c"`
	Payload json.RawMessage `json:"__p"`
}

func wrapClass(class string, v any) (json.RawMessage, error) {
	inner, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("osrf: marshal %s payload: %w", class, err)
	}
	wrapped, err := json.Marshal(classWrapper{Class: class, Payload: inner})
	if err != nil {
		return nil, fmt.Errorf("osrf: marshal %s wrapper: %w", class, err)
	}
	return wrapped, nil
}

func unwrapClass(raw json.RawMessage, wantClass string, v any) error {
	var w classWrapper
	if err := json.Unmarshal(raw, &w); err != nil {
		return fmt.Errorf("osrf: malformed class wrapper: %w", err)
	}
	if w.Class != wantClass {
		return fmt.Errorf("osrf: expected class %q, got %q", wantClass, w.Class)
	}
	if err := json.Unmarshal(w.Payload, v); err != nil {
		return fmt.Errorf("osrf: unmarshal %s payload: %w", wantClass, err)
	}
	return nil
}

// PayloadKind discriminates the tagged Payload variant. Kept as a plain enum
// rather than an interface hierarchy: decoding is a pure function of
// (MessageType, json value), not a method dispatch.
type PayloadKind int

const (
	PayloadNone PayloadKind = iota
	PayloadMethod
	PayloadResult
	PayloadStatus
)

// MethodPayload carries a REQUEST's method name and ordered parameters.
type MethodPayload struct {
	Method string
	Params []Value
}

type wireMethod struct {
	Method string  `json:"method"`
	Params []Value `json:"params"`
}

// ResultPayload carries one RESULT's status and content.
type ResultPayload struct {
	StatusCode  StatusCode
	StatusLabel string
	Content     Value
}

type wireResult struct {
	Status     string     `json:"status,omitempty"`
	StatusCode StatusCode `json:"statusCode"`
	Content    Value      `json:"content"`
}

// StatusPayload carries one STATUS message's status code and label.
type StatusPayload struct {
	StatusCode  StatusCode
	StatusLabel string
}

type wireStatus struct {
	Status     string     `json:"status,omitempty"`
	StatusCode StatusCode `json:"statusCode"`
}

// Payload is the tagged variant {Method, Result, Status, None} carried by a
// Message. Only the field matching Kind is meaningful.
type Payload struct {
	Kind   PayloadKind
	Method MethodPayload
	Result ResultPayload
	Status StatusPayload
}

func noPayload() Payload { return Payload{Kind: PayloadNone} }

// NewMethodPayload builds a Method payload.
func NewMethodPayload(method string, params []Value) Payload {
	return Payload{Kind: PayloadMethod, Method: MethodPayload{Method: method, Params: params}}
}

// NewResultPayload builds a Result payload, deriving the label from the
// status code's default when label is empty.
func NewResultPayload(code StatusCode, label string, content Value) Payload {
	if label == "" {
		label = code.DefaultLabel()
	}
	return Payload{Kind: PayloadResult, Result: ResultPayload{StatusCode: code, StatusLabel: label, Content: content}}
}

// NewStatusPayload builds a Status payload, deriving the label from the
// status code's default when label is empty.
func NewStatusPayload(code StatusCode, label string) Payload {
	if label == "" {
		label = code.DefaultLabel()
	}
	return Payload{Kind: PayloadStatus, Status: StatusPayload{StatusCode: code, StatusLabel: label}}
}

// marshalPayload wraps the active variant in its class tag, or returns nil
// (no "payload" key at all) for PayloadNone.
func marshalPayload(p Payload) (json.RawMessage, error) {
	switch p.Kind {
	case PayloadNone:
		return nil, nil
	case PayloadMethod:
		return wrapClass(classMethod, wireMethod{Method: p.Method.Method, Params: p.Method.Params})
	case PayloadResult:
		return wrapClass(classResult, wireResult{
			Status:     p.Result.StatusLabel,
			StatusCode: p.Result.StatusCode,
			Content:    p.Result.Content,
		})
	case PayloadStatus:
		return wrapClass(classStatus, wireStatus{
			Status:     p.Status.StatusLabel,
			StatusCode: p.Status.StatusCode,
		})
	default:
		return nil, fmt.Errorf("osrf: unknown payload kind %d", p.Kind)
	}
}

// decodePayloadFor is a pure function of (message type, raw payload json)
// per the design note: no type switch on a class hierarchy, just a table
// lookup by MessageType.
func decodePayloadFor(mtype MessageType, raw json.RawMessage) (Payload, error) {
	switch mtype {
	case MsgConnect, MsgDisconnect:
		return noPayload(), nil

	case MsgRequest:
		if raw == nil {
			return Payload{}, fmt.Errorf("osrf: REQUEST missing payload")
		}
		var wm wireMethod
		if err := unwrapClass(raw, classMethod, &wm); err != nil {
			return Payload{}, err
		}
		return NewMethodPayload(wm.Method, wm.Params), nil

	case MsgResult:
		if raw == nil {
			return Payload{}, fmt.Errorf("osrf: RESULT missing payload")
		}
		var wr wireResult
		if err := unwrapClass(raw, classResult, &wr); err != nil {
			return Payload{}, err
		}
		label := wr.Status
		if label == "" {
			label = wr.StatusCode.DefaultLabel()
		}
		return NewResultPayload(wr.StatusCode, label, wr.Content), nil

	case MsgStatus:
		if raw == nil {
			return Payload{}, fmt.Errorf("osrf: STATUS missing payload")
		}
		var ws wireStatus
		if err := unwrapClass(raw, classStatus, &ws); err != nil {
			return Payload{}, err
		}
		label := ws.Status
		if label == "" {
			label = ws.StatusCode.DefaultLabel()
		}
		return NewStatusPayload(ws.StatusCode, label), nil

	default:
		return Payload{}, fmt.Errorf("osrf: unknown message type %q", mtype)
	}
}
