package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies the JSON type of a Value node.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is a single node of a JSON-Schema-like document. Schemas arrive from
// ability registrations as arbitrary JSON; modeling them as a tagged variant
// keeps depth and $ref checks type-safe and lets empty objects serialize as
// {} instead of [].
type Value struct {
	Kind   Kind
	Bool   bool
	Number float64
	Str    string
	Items  []Value
	Fields map[string]Value
}

// Null returns a null Value.
func Null() Value {
	return Value{Kind: KindNull}
}

// String returns a string Value.
func String(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// Number returns a numeric Value.
func Number(n float64) Value {
	return Value{Kind: KindNumber, Number: n}
}

// Boolean returns a boolean Value.
func Boolean(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// Array returns an array Value with the given items.
func Array(items ...Value) Value {
	return Value{Kind: KindArray, Items: items}
}

// Object returns an object Value with the given fields.
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = make(map[string]Value)
	}
	return Value{Kind: KindObject, Fields: fields}
}

// IsZero reports whether the Value is the null node.
func (v Value) IsZero() bool {
	return v.Kind == KindNull
}

// Field returns the named field of an object Value.
func (v Value) Field(name string) (Value, bool) {
	if v.Kind != KindObject {
		return Value{}, false
	}
	f, ok := v.Fields[name]
	return f, ok
}

// MarshalJSON serializes the Value. Object keys are emitted in sorted order
// so the same schema always produces the same bytes, which the bridge relies
// on for ETag computation. Empty objects serialize as {}.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindNumber:
		return json.Marshal(v.Number)
	case KindString:
		return json.Marshal(v.Str)
	case KindArray:
		if len(v.Items) == 0 {
			return []byte("[]"), nil
		}
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindObject:
		if len(v.Fields) == 0 {
			return []byte("{}"), nil
		}
		keys := make([]string, 0, len(v.Fields))
		for k := range v.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := v.Fields[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown value kind: %d", v.Kind)
	}
}

// UnmarshalJSON parses arbitrary JSON into the Value model.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts a decoded JSON value (as produced by encoding/json into
// interface{}) into the Value model.
func FromAny(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Boolean(t), nil
	case float64:
		return Number(t), nil
	case int:
		return Number(float64(t)), nil
	case string:
		return String(t), nil
	case []interface{}:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			parsed, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, parsed)
		}
		return Value{Kind: KindArray, Items: items}, nil
	case map[string]interface{}:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			parsed, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			fields[k] = parsed
		}
		return Value{Kind: KindObject, Fields: fields}, nil
	default:
		return Value{}, fmt.Errorf("unsupported JSON value type: %T", raw)
	}
}

// Parse decodes raw JSON bytes into a Value.
func Parse(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}

// MustParse is Parse for statically known JSON; it panics on invalid input.
func MustParse(data string) Value {
	v, err := Parse([]byte(data))
	if err != nil {
		panic(fmt.Sprintf("schema: invalid JSON literal: %v", err))
	}
	return v
}
