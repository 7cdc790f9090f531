package expr

import (
	"log/slog"
	"strings"

	"github.com/haroov/chocoflow/internal/models"
)

// Affirmative and negative synonyms recognized when comparing a persisted
// value against a boolean literal. Catalogs historically store boolean-ish
// answers as strings, so "true", "1", "yes" and a few domain synonyms all
// match `field = true`.
var (
	truthySynonyms = map[string]bool{
		"true": true, "1": true, "yes": true, "y": true, "on": true,
		"new": true, "כן": true,
	}
	falsySynonyms = map[string]bool{
		"false": true, "0": true, "no": true, "n": true, "off": true,
		"existing": true, "לא": true,
	}
)

// Evaluate compiles and evaluates a condition against the variable map.
// An empty condition is unconditionally true. On any parse or evaluation
// failure it fails closed: the failure is logged and false is returned.
// Evaluate never panics into the caller.
func Evaluate(src string, vars map[string]models.Value) bool {
	e, err := Compile(src)
	if err != nil {
		slog.Error("expr.Evaluate: condition failed to compile, evaluating as false", "condition", src, "error", err)
		return false
	}
	return e.Eval(vars)
}

// Eval evaluates the compiled expression against the variable map.
// Identical inputs always yield identical output.
func (e *Expr) Eval(vars map[string]models.Value) bool {
	return evalBool(e.root, vars)
}

func evalBool(n node, vars map[string]models.Value) bool {
	switch t := n.(type) {
	case boolNode:
		return t.val
	case presentNode:
		return vars[t.name].IsPresent()
	case identNode:
		return truthy(vars[t.name])
	case binaryNode:
		switch t.op {
		case tokenAnd:
			return evalBool(t.left, vars) && evalBool(t.right, vars)
		case tokenOr:
			return evalBool(t.left, vars) || evalBool(t.right, vars)
		case tokenEq:
			return looseEquals(evalValue(t.left, vars), evalValue(t.right, vars))
		case tokenNeq:
			return !looseEquals(evalValue(t.left, vars), evalValue(t.right, vars))
		case tokenLt, tokenGt, tokenLte, tokenGte:
			return compareNumeric(t.op, evalValue(t.left, vars), evalValue(t.right, vars))
		case tokenIncludes:
			return includes(evalValue(t.left, vars), evalValue(t.right, vars))
		}
	case stringNode:
		return strings.TrimSpace(t.val) != ""
	case numberNode:
		return t.val != 0
	}
	return false
}

// evalValue resolves an operand to a Value: identifiers read the variable
// map, literals produce themselves.
func evalValue(n node, vars map[string]models.Value) models.Value {
	switch t := n.(type) {
	case identNode:
		return vars[t.name]
	case presentNode:
		return models.BoolValue(vars[t.name].IsPresent())
	case stringNode:
		return models.StringValue(t.val)
	case numberNode:
		return models.NumberValue(t.val)
	case boolNode:
		return models.BoolValue(t.val)
	default:
		return models.NullValue()
	}
}

// truthy is the bare-identifier interpretation of a field: present and not an
// explicit negative.
func truthy(v models.Value) bool {
	if !v.IsPresent() {
		return false
	}
	switch v.Kind {
	case models.KindBool:
		return v.Bool
	case models.KindNumber:
		return v.Num != 0
	case models.KindString:
		return !falsySynonyms[strings.ToLower(strings.TrimSpace(v.Str))]
	default:
		return true
	}
}

// looseEquals compares two values tolerating boolean-ish persisted
// representations and numeric strings.
func looseEquals(a, b models.Value) bool {
	// Boolean on either side: match through the synonym sets.
	if a.Kind == models.KindBool {
		return matchesBool(b, a.Bool)
	}
	if b.Kind == models.KindBool {
		return matchesBool(a, b.Bool)
	}
	if an, aok := a.AsNumber(); aok {
		if bn, bok := b.AsNumber(); bok {
			return an == bn
		}
	}
	as := strings.TrimSpace(a.AsString())
	bs := strings.TrimSpace(b.AsString())
	if as == bs {
		return true
	}
	return strings.EqualFold(as, bs)
}

// matchesBool reports whether a stored value represents the boolean want.
func matchesBool(v models.Value, want bool) bool {
	switch v.Kind {
	case models.KindBool:
		return v.Bool == want
	case models.KindNumber:
		return (v.Num != 0) == want
	case models.KindString:
		s := strings.ToLower(strings.TrimSpace(v.Str))
		if want {
			return truthySynonyms[s]
		}
		return falsySynonyms[s]
	default:
		return false
	}
}

func compareNumeric(op tokenKind, a, b models.Value) bool {
	an, aok := a.AsNumber()
	bn, bok := b.AsNumber()
	if !aok || !bok {
		return false
	}
	switch op {
	case tokenLt:
		return an < bn
	case tokenGt:
		return an > bn
	case tokenLte:
		return an <= bn
	case tokenGte:
		return an >= bn
	default:
		return false
	}
}

// includes implements the membership test: arrays match when any element
// loosely equals the needle, strings match on substring.
func includes(haystack, needle models.Value) bool {
	switch haystack.Kind {
	case models.KindArray:
		for _, e := range haystack.Arr {
			if looseEquals(e, needle) {
				return true
			}
		}
		return false
	case models.KindString:
		return strings.Contains(haystack.Str, needle.AsString())
	default:
		return false
	}
}
