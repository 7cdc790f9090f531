package models

import (
	"encoding/json"
	"testing"
)

func TestIsPresent(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want bool
	}{
		{"null", NullValue(), false},
		{"empty string", StringValue(""), false},
		{"whitespace", StringValue("  \t"), false},
		{"literal null", StringValue("null"), false},
		{"literal undefined", StringValue("undefined"), false},
		{"real string", StringValue("x"), true},
		{"zero number", NumberValue(0), true},
		{"false bool", BoolValue(false), true},
		{"empty array", ArrayValue(), false},
		{"array", ArrayValue(StringValue("a")), true},
	}
	for _, c := range cases {
		if got := c.v.IsPresent(); got != c.want {
			t.Errorf("%s: IsPresent = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestAsNumberCoercion(t *testing.T) {
	if n, ok := StringValue(" 42.5 ").AsNumber(); !ok || n != 42.5 {
		t.Errorf("string coercion = (%v, %v)", n, ok)
	}
	if _, ok := StringValue("abc").AsNumber(); ok {
		t.Error("non-numeric string should not coerce")
	}
	if n, ok := BoolValue(true).AsNumber(); !ok || n != 1 {
		t.Errorf("bool coercion = (%v, %v)", n, ok)
	}
	if _, ok := NullValue().AsNumber(); ok {
		t.Error("null should not coerce")
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	orig := ArrayValue(StringValue("fire"), NumberValue(3), BoolValue(true))
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var back Value
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if !orig.Equal(back) {
		t.Errorf("round trip mismatch: %v vs %v", orig, back)
	}
}

func TestCloneIsolatesArrays(t *testing.T) {
	orig := ArrayValue(StringValue("a"))
	cp := orig.Clone()
	cp.Arr[0] = StringValue("b")
	if orig.Arr[0].Str != "a" {
		t.Error("Clone must deep-copy array elements")
	}
}

func TestValueFromAny(t *testing.T) {
	v := ValueFromAny(map[string]any{"k": 1})
	if v.Kind != KindString {
		t.Errorf("unsupported type should fall back to string, got %v", v.Kind)
	}
	if v := ValueFromAny(int64(7)); v.Kind != KindNumber || v.Num != 7 {
		t.Errorf("int64 = %v", v)
	}
	if v := ValueFromAny(nil); !v.IsNull() {
		t.Error("nil should be null")
	}
}
