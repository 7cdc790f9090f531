package expr

import (
	"testing"

	"github.com/haroov/chocoflow/internal/models"
)

func TestCompileEmptyConditionIsTrue(t *testing.T) {
	for _, src := range []string{"", "   ", "\t\n"} {
		e, err := Compile(src)
		if err != nil {
			t.Fatalf("Compile(%q) error: %v", src, err)
		}
		if !e.Eval(nil) {
			t.Errorf("Compile(%q) should evaluate true", src)
		}
	}
}

func TestCompileSyntaxErrors(t *testing.T) {
	cases := []string{
		"field =",
		"= 5",
		"(a = 1",
		"a ! b",
		"'unterminated",
		"a = 1 extra",
	}
	for _, src := range cases {
		if _, err := Compile(src); err == nil {
			t.Errorf("Compile(%q) expected error, got nil", src)
		}
	}
}

func TestSyntaxErrorReportsPosition(t *testing.T) {
	_, err := Compile("a == 'x")
	se, ok := err.(*SyntaxError)
	if !ok {
		t.Fatalf("expected *SyntaxError, got %T", err)
	}
	if se.Pos != 5 {
		t.Errorf("Pos = %d, want 5", se.Pos)
	}
}

func TestEqualityLooseMatching(t *testing.T) {
	vars := map[string]models.Value{
		"business_type": models.StringValue("restaurant"),
		"is_new":        models.StringValue("yes"),
		"count":         models.StringValue("5"),
		"flag":          models.BoolValue(true),
	}
	cases := []struct {
		src  string
		want bool
	}{
		{"business_type = 'restaurant'", true},
		{"business_type == 'restaurant'", true},
		{"business_type = 'Restaurant'", true},
		{"business_type = 'bakery'", false},
		{"business_type != 'bakery'", true},
		{"is_new = true", true},
		{"is_new = false", false},
		{"flag = true", true},
		{"flag != true", false},
		{"count = 5", true},
		{"count = 5.0", true},
	}
	for _, c := range cases {
		if got := Evaluate(c.src, vars); got != c.want {
			t.Errorf("Evaluate(%q) = %v, want %v", c.src, got, c.want)
		}
	}
}

func TestNumericComparisons(t *testing.T) {
	vars := map[string]models.Value{
		"seniority": models.NumberValue(5),
		"revenue":   models.StringValue("120000"),
	}
	cases := []struct {
		src  string
		want bool
	}{
		{"seniority > 3", true},
		{"seniority >= 5", true},
		{"seniority < 5", false},
		{"seniority <= 5", true},
		{"revenue > 100000", true},
		{"revenue < 100000", false},
	}
	for _, c := range cases {
		if got := Evaluate(c.src, vars); got != c.want {
			t.Errorf("Evaluate(%q) = %v, want %v", c.src, got, c.want)
		}
	}
}

func TestComparisonAgainstMissingFieldIsFalse(t *testing.T) {
	vars := map[string]models.Value{}
	for _, src := range []string{"missing > 3", "missing < 3", "missing >= 0"} {
		if Evaluate(src, vars) {
			t.Errorf("Evaluate(%q) against missing field should be false", src)
		}
	}
}

func TestAndOrPrecedence(t *testing.T) {
	vars := map[string]models.Value{
		"a": models.BoolValue(true),
		"b": models.BoolValue(false),
		"c": models.BoolValue(true),
	}
	// AND binds tighter than OR.
	if !Evaluate("b AND b OR c", vars) {
		t.Error("b AND b OR c should be true (parsed as (b AND b) OR c)")
	}
	if Evaluate("b AND (b OR c)", vars) {
		t.Error("b AND (b OR c) should be false")
	}
	if !Evaluate("a and c", vars) {
		t.Error("lowercase connectors should work")
	}
}

func TestIncludes(t *testing.T) {
	vars := map[string]models.Value{
		"coverages": models.ArrayValue(models.StringValue("fire"), models.StringValue("theft")),
		"notes":     models.StringValue("urgent handling required"),
	}
	cases := []struct {
		src  string
		want bool
	}{
		{"coverages INCLUDES 'fire'", true},
		{"coverages includes 'flood'", false},
		{"notes INCLUDES 'urgent'", true},
		{"notes INCLUDES 'calm'", false},
	}
	for _, c := range cases {
		if got := Evaluate(c.src, vars); got != c.want {
			t.Errorf("Evaluate(%q) = %v, want %v", c.src, got, c.want)
		}
	}
}

func TestPresentHelper(t *testing.T) {
	vars := map[string]models.Value{
		"filled":  models.StringValue("value"),
		"blank":   models.StringValue("   "),
		"literal": models.StringValue("null"),
		"empty":   models.ArrayValue(),
	}
	cases := []struct {
		src  string
		want bool
	}{
		{"present(filled)", true},
		{"present(blank)", false},
		{"present(literal)", false},
		{"present(empty)", false},
		{"present(missing)", false},
	}
	for _, c := range cases {
		if got := Evaluate(c.src, vars); got != c.want {
			t.Errorf("Evaluate(%q) = %v, want %v", c.src, got, c.want)
		}
	}
}

func TestBareIdentifierTruthiness(t *testing.T) {
	vars := map[string]models.Value{
		"yes_str": models.StringValue("yes"),
		"no_str":  models.StringValue("no"),
		"zero":    models.NumberValue(0),
		"text":    models.StringValue("anything"),
	}
	cases := []struct {
		src  string
		want bool
	}{
		{"yes_str", true},
		{"no_str", false},
		{"zero", false},
		{"text", true},
		{"missing", false},
	}
	for _, c := range cases {
		if got := Evaluate(c.src, vars); got != c.want {
			t.Errorf("Evaluate(%q) = %v, want %v", c.src, got, c.want)
		}
	}
}

func TestHebrewFieldsAndSynonyms(t *testing.T) {
	vars := map[string]models.Value{
		"סוג-עסק":  models.StringValue("מסעדה"),
		"has_kids": models.StringValue("כן"),
	}
	if !Evaluate("סוג-עסק = 'מסעדה'", vars) {
		t.Error("Hebrew field reference and literal should match")
	}
	if !Evaluate("has_kids = true", vars) {
		t.Error("Hebrew affirmative should match boolean true")
	}
}

func TestEvaluateFailsClosedOnBadSyntax(t *testing.T) {
	vars := map[string]models.Value{"a": models.BoolValue(true)}
	if Evaluate("a ==", vars) {
		t.Error("malformed condition must evaluate false")
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	vars := map[string]models.Value{
		"x": models.NumberValue(10),
		"y": models.StringValue("yes"),
	}
	src := "x >= 10 AND y = true"
	first := Evaluate(src, vars)
	for i := 0; i < 100; i++ {
		if Evaluate(src, vars) != first {
			t.Fatal("identical inputs must produce identical output")
		}
	}
}
