package osrf

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Value is a JSON value tree: a parsed-but-not-decoded-into-Go-structs node,
// queryable by path without a second marshal/unmarshal pass. Method params
// and Result content carry Values rather than `any` or json.RawMessage so
// callers can do v.Result().Get("rows.0.id") directly against whatever a
// service happened to send back.
type Value gjson.Result

// NewValue marshals v to JSON and parses the result into a Value. Passing
// nil produces the JSON null value.
func NewValue(v any) (Value, error) {
	if v == nil {
		return Value(gjson.Parse("null")), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Value{}, err
	}
	return Value(gjson.ParseBytes(raw)), nil
}

// RawValue wraps an already-serialized JSON document as a Value without
// re-marshaling it.
func RawValue(raw string) Value {
	return Value(gjson.Parse(raw))
}

// Result exposes the underlying gjson.Result for path queries.
func (v Value) Result() gjson.Result {
	return gjson.Result(v)
}

// Decode unmarshals the value into dst via encoding/json.
func (v Value) Decode(dst any) error {
	return json.Unmarshal([]byte(v.raw()), dst)
}

func (v Value) raw() string {
	if r := gjson.Result(v).Raw; r != "" {
		return r
	}
	return "null"
}

func (v Value) MarshalJSON() ([]byte, error) {
	return []byte(v.raw()), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	*v = Value(gjson.ParseBytes(data))
	return nil
}
