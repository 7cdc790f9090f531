// Package models defines the core data structures for chocoflow.
//
// It includes the typed field value representation, the declarative catalog
// types, and the flow pointer/history types shared across modules.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind identifies which variant a Value holds.
type ValueKind int

const (
	// KindNull represents an absent or explicitly null value.
	KindNull ValueKind = iota
	// KindString represents a string value.
	KindString
	// KindNumber represents a numeric value (stored as float64).
	KindNumber
	// KindBool represents a boolean value.
	KindBool
	// KindArray represents an ordered list of values.
	KindArray
)

// String returns a human-readable name for the value kind.
func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a tagged union holding one collected-data field value.
// The zero Value is null.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Arr  []Value
}

// NullValue returns the null Value.
func NullValue() Value { return Value{Kind: KindNull} }

// StringValue wraps s as a Value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// NumberValue wraps n as a Value.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// BoolValue wraps b as a Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// ArrayValue wraps elems as a Value.
func ArrayValue(elems ...Value) Value { return Value{Kind: KindArray, Arr: elems} }

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsPresent reports whether the value counts as "present" for question-selection
// and expression purposes: non-null, non-empty after trimming, not the literal
// strings "null"/"undefined", and (for arrays) non-empty.
func (v Value) IsPresent() bool {
	switch v.Kind {
	case KindNull:
		return false
	case KindString:
		s := strings.TrimSpace(v.Str)
		return s != "" && s != "null" && s != "undefined"
	case KindArray:
		return len(v.Arr) > 0
	default:
		return true
	}
}

// AsString renders the value for display and for substring matching.
func (v Value) AsString() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindArray:
		parts := make([]string, len(v.Arr))
		for i, e := range v.Arr {
			parts[i] = e.AsString()
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

// AsNumber attempts to interpret the value as a number.
func (v Value) AsNumber() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	if v.Kind != KindArray {
		return v
	}
	out := Value{Kind: KindArray, Arr: make([]Value, len(v.Arr))}
	for i, e := range v.Arr {
		out.Arr[i] = e.Clone()
	}
	return out
}

// Equal reports strict equality of two values (kind and content).
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindString:
		return v.Str == o.Str
	case KindNumber:
		return v.Num == o.Num
	case KindBool:
		return v.Bool == o.Bool
	case KindArray:
		if len(v.Arr) != len(o.Arr) {
			return false
		}
		for i := range v.Arr {
			if !v.Arr[i].Equal(o.Arr[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ToAny converts the value to its plain Go representation for JSON documents.
func (v Value) ToAny() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindArray:
		out := make([]any, len(v.Arr))
		for i, e := range v.Arr {
			out[i] = e.ToAny()
		}
		return out
	default:
		return nil
	}
}

// ValueFromAny converts a plain Go value (as produced by encoding/json or
// yaml.v3 decoding) into a Value. Unsupported types become their string form.
func ValueFromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return NullValue()
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case float64:
		return NumberValue(t)
	case float32:
		return NumberValue(float64(t))
	case int:
		return NumberValue(float64(t))
	case int64:
		return NumberValue(float64(t))
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return StringValue(t.String())
		}
		return NumberValue(n)
	case []any:
		elems := make([]Value, len(t))
		for i, e := range t {
			elems[i] = ValueFromAny(e)
		}
		return ArrayValue(elems...)
	default:
		return StringValue(fmt.Sprintf("%v", t))
	}
}

// MarshalJSON encodes the value as its plain JSON representation.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

// UnmarshalJSON decodes a plain JSON value into the tagged union.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = ValueFromAny(raw)
	return nil
}
