// Package expr compiles and evaluates the condition DSL used by question
// catalogs: AND/OR connectors, equality and ordering comparisons, an
// "includes" membership test, and bare field references into the collected
// variable map. Conditions compile to a small AST; there is no dynamic code
// execution.
package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// tokenKind identifies a lexical token.
type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenNumber
	tokenAnd
	tokenOr
	tokenIncludes
	tokenEq       // = or ==
	tokenNeq      // !=
	tokenLt       // <
	tokenGt       // >
	tokenLte      // <=
	tokenGte      // >=
	tokenLParen   // (
	tokenRParen   // )
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// SyntaxError reports where a condition string failed to parse.
type SyntaxError struct {
	Source string
	Pos    int
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("condition syntax error at %d in %q: %s", e.Pos, e.Source, e.Reason)
}

// identRune reports whether r may appear inside a field reference. Field keys
// may contain unicode letters (catalogs are authored in multiple languages),
// digits, underscores, dots and hyphens.
func identRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '-'
}

func lex(src string) ([]token, error) {
	var toks []token
	runes := []rune(src)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tokenLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tokenRParen, ")", i})
			i++
		case r == '=':
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, token{tokenEq, "==", i})
				i += 2
			} else {
				toks = append(toks, token{tokenEq, "=", i})
				i++
			}
		case r == '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, token{tokenNeq, "!=", i})
				i += 2
			} else {
				return nil, &SyntaxError{src, i, "unexpected '!'"}
			}
		case r == '<':
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, token{tokenLte, "<=", i})
				i += 2
			} else {
				toks = append(toks, token{tokenLt, "<", i})
				i++
			}
		case r == '>':
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, token{tokenGte, ">=", i})
				i += 2
			} else {
				toks = append(toks, token{tokenGt, ">", i})
				i++
			}
		case r == '\'' || r == '"':
			quote := r
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}
			if j >= len(runes) {
				return nil, &SyntaxError{src, i, "unterminated string literal"}
			}
			toks = append(toks, token{tokenString, string(runes[i+1 : j]), i})
			i = j + 1
		case unicode.IsDigit(r):
			j := i
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			toks = append(toks, token{tokenNumber, string(runes[i:j]), i})
			i = j
		case identRune(r):
			j := i
			for j < len(runes) && identRune(runes[j]) {
				j++
			}
			word := string(runes[i:j])
			switch strings.ToUpper(word) {
			case "AND":
				toks = append(toks, token{tokenAnd, word, i})
			case "OR":
				toks = append(toks, token{tokenOr, word, i})
			case "INCLUDES":
				toks = append(toks, token{tokenIncludes, word, i})
			default:
				toks = append(toks, token{tokenIdent, word, i})
			}
			i = j
		default:
			return nil, &SyntaxError{src, i, fmt.Sprintf("unexpected character %q", r)}
		}
	}
	toks = append(toks, token{tokenEOF, "", len(runes)})
	return toks, nil
}

// AST node kinds.
type node interface{}

type binaryNode struct {
	op          tokenKind
	left, right node
}

type identNode struct{ name string }

type presentNode struct{ name string }

type stringNode struct{ val string }

type numberNode struct{ val float64 }

type boolNode struct{ val bool }

// Expr is a compiled condition ready for repeated evaluation.
type Expr struct {
	src  string
	root node
}

// Source returns the original condition string.
func (e *Expr) Source() string { return e.src }

type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorAt(t token, reason string) error {
	return &SyntaxError{p.src, t.pos, reason}
}

// Compile parses a condition string into an evaluable expression.
// An empty or whitespace-only condition compiles to the constant true.
func Compile(src string) (*Expr, error) {
	if strings.TrimSpace(src) == "" {
		return &Expr{src: src, root: boolNode{true}}, nil
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokenEOF {
		return nil, p.errorAt(t, fmt.Sprintf("unexpected trailing %q", t.text))
	}
	return &Expr{src: src, root: root}, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binaryNode{tokenOr, left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenAnd {
		p.next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = binaryNode{tokenAnd, left, right}
	}
	return left, nil
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	switch op := p.peek().kind; op {
	case tokenEq, tokenNeq, tokenLt, tokenGt, tokenLte, tokenGte, tokenIncludes:
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return binaryNode{op, left, right}, nil
	default:
		return left, nil
	}
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokenLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokenRParen {
			return nil, p.errorAt(closing, "expected ')'")
		}
		return inner, nil
	case tokenString:
		return stringNode{t.text}, nil
	case tokenNumber:
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorAt(t, "malformed number")
		}
		return numberNode{n}, nil
	case tokenIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return boolNode{true}, nil
		case "false":
			return boolNode{false}, nil
		case "present":
			// present(field) is the explicit presence helper, distinct from
			// bare-identifier truthiness.
			if p.peek().kind == tokenLParen {
				p.next()
				arg := p.next()
				if arg.kind != tokenIdent {
					return nil, p.errorAt(arg, "present() expects a field name")
				}
				if closing := p.next(); closing.kind != tokenRParen {
					return nil, p.errorAt(closing, "expected ')'")
				}
				return presentNode{arg.text}, nil
			}
			return identNode{t.text}, nil
		default:
			return identNode{t.text}, nil
		}
	default:
		return nil, p.errorAt(t, fmt.Sprintf("unexpected %q", t.text))
	}
}
