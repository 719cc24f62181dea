package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/rotisserie/eris"
)

// ValueKind tags the variant held by a Value.
type ValueKind string

const (
	ValueBool   ValueKind = "bool"
	ValueString ValueKind = "string"
	ValuePatch  ValueKind = "patch"
)

// Value is a configuration value: a boolean flag, an enum string, or a
// structured patch. It is stored opaquely by the config store.
//
// JSON form: {"value": true}, {"value": "VERBOSE"} or {"patch": {...}}.
type Value struct {
	Kind  ValueKind
	Bool  bool
	Text  string
	Patch map[string]any
}

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value { return Value{Kind: ValueBool, Bool: b} }

// StringValue returns an enum/string Value.
func StringValue(s string) Value { return Value{Kind: ValueString, Text: s} }

// PatchValue returns a structured patch Value.
func PatchValue(p map[string]any) Value { return Value{Kind: ValuePatch, Patch: p} }

// ValueFromAny converts a decoded YAML/JSON scalar or map into a Value.
func ValueFromAny(v any) (Value, error) {
	switch t := v.(type) {
	case bool:
		return BoolValue(t), nil
	case string:
		return StringValue(t), nil
	case map[string]any:
		return PatchValue(t), nil
	default:
		return Value{}, eris.Errorf("model: unsupported value type %T", v)
	}
}

// Equal reports whether two values hold the same variant and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case ValueBool:
		return v.Bool == o.Bool
	case ValueString:
		return v.Text == o.Text
	default:
		return reflect.DeepEqual(v.Patch, o.Patch)
	}
}

// Any returns the payload as a plain Go value.
func (v Value) Any() any {
	switch v.Kind {
	case ValueBool:
		return v.Bool
	case ValueString:
		return v.Text
	default:
		return v.Patch
	}
}

func (v Value) String() string {
	switch v.Kind {
	case ValueBool:
		return fmt.Sprintf("%t", v.Bool)
	case ValueString:
		return v.Text
	case ValuePatch:
		b, err := json.Marshal(v.Patch)
		if err != nil {
			return "<patch>"
		}
		return string(b)
	default:
		return "<empty>"
	}
}

type valueJSON struct {
	Value json.RawMessage `json:"value,omitempty"`
	Patch map[string]any  `json:"patch,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueBool:
		return json.Marshal(map[string]bool{"value": v.Bool})
	case ValueString:
		return json.Marshal(map[string]string{"value": v.Text})
	case ValuePatch:
		patch := v.Patch
		if patch == nil {
			patch = map[string]any{}
		}
		return json.Marshal(map[string]any{"patch": patch})
	default:
		return nil, eris.Errorf("model: marshal value with unknown kind %q", v.Kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw valueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: unmarshal value")
	}

	if raw.Patch != nil {
		*v = PatchValue(raw.Patch)
		return nil
	}
	if len(raw.Value) == 0 {
		return eris.New("model: value must carry \"value\" or \"patch\"")
	}

	trimmed := bytes.TrimSpace(raw.Value)
	if bytes.Equal(trimmed, []byte("null")) {
		return eris.New("model: value must not be null")
	}
	var b bool
	if err := json.Unmarshal(trimmed, &b); err == nil {
		*v = BoolValue(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		*v = StringValue(s)
		return nil
	}
	return eris.Errorf("model: value must be a boolean or string, got %s", string(trimmed))
}
