package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		val  string
		def  bool
		want bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"Yes", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"No", true, false},
		{"off", true, false},
		{"", true, true},
		{"", false, false},
		{"garbage", true, true},
		{"garbage", false, false},
	}
	for _, c := range cases {
		t.Setenv("CHOCOFLOW_TEST_BOOL", c.val)
		if got := ParseBoolEnv("CHOCOFLOW_TEST_BOOL", c.def); got != c.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", c.val, c.def, got, c.want)
		}
	}
}

func TestParseStringEnv(t *testing.T) {
	t.Setenv("CHOCOFLOW_TEST_STR", "  value  ")
	if got := ParseStringEnv("CHOCOFLOW_TEST_STR", "def"); got != "value" {
		t.Errorf("got %q, want value", got)
	}
	t.Setenv("CHOCOFLOW_TEST_STR", "   ")
	if got := ParseStringEnv("CHOCOFLOW_TEST_STR", "def"); got != "def" {
		t.Errorf("blank value should fall back, got %q", got)
	}
}
