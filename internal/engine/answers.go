package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/haroov/chocoflow/internal/models"
)

// Leading-token synonym lists for boolean answers. Answers arrive in the
// catalog's language; the lists cover English and Hebrew forms so trailing
// free text ("כן, ותק 5 שנים") still parses.
var (
	affirmativeTokens = map[string]bool{
		"yes": true, "y": true, "yeah": true, "yep": true, "sure": true,
		"ok": true, "okay": true, "true": true, "1": true,
		"כן": true, "בטח": true, "נכון": true, "חיובי": true,
	}
	negativeTokens = map[string]bool{
		"no": true, "n": true, "nope": true, "false": true, "0": true,
		"לא": true, "שלילי": true, "אין": true,
	}
)

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// currencyStripper removes thousands separators and currency symbols before
// numeric extraction.
var currencyStripper = strings.NewReplacer(",", "", "₪", "", "$", "", "€", "", "%", "")

// ParseAnswer parses a raw answer against the question's declared type and
// constraints. It performs no writes; on failure the returned *ParseError
// carries a user-facing message for the re-prompt.
func ParseAnswer(q *models.Question, raw string) (models.Value, *models.ParseError) {
	switch q.DataType {
	case models.DataTypeBoolean:
		return parseBoolean(q, raw)
	case models.DataTypeNumber:
		return parseNumber(q, raw)
	case models.DataTypeEnum:
		return parseEnum(q, raw)
	case models.DataTypeArray:
		return parseArray(q, raw)
	case models.DataTypeString, models.DataTypeDate:
		return models.StringValue(strings.TrimSpace(raw)), nil
	default:
		return models.NullValue(), &models.ParseError{
			QID: q.QID, FieldKey: q.FieldKey,
			Message: fmt.Sprintf("unsupported answer type %q", q.DataType),
		}
	}
}

// trimToken strips surrounding punctuation from one answer token.
func trimToken(tok string) string {
	return strings.Trim(tok, ".,!?;:()[]\"'־-")
}

// parseBoolean recognizes a leading affirmative or negative token, tolerating
// trailing punctuation and extra text. An answer with no recognizable leading
// token is ambiguous and rejected.
func parseBoolean(q *models.Question, raw string) (models.Value, *models.ParseError) {
	fields := strings.FieldsFunc(strings.ToLower(strings.TrimSpace(raw)), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == ','
	})
	if len(fields) > 0 {
		tok := trimToken(fields[0])
		if affirmativeTokens[tok] {
			return models.BoolValue(true), nil
		}
		if negativeTokens[tok] {
			return models.BoolValue(false), nil
		}
	}
	return models.NullValue(), &models.ParseError{
		QID: q.QID, FieldKey: q.FieldKey,
		Message: "please answer yes or no",
	}
}

// parseNumber strips separators and currency symbols, extracts the first
// numeric token, and validates declared constraints.
func parseNumber(q *models.Question, raw string) (models.Value, *models.ParseError) {
	cleaned := currencyStripper.Replace(raw)
	match := numberPattern.FindString(cleaned)
	if match == "" {
		return models.NullValue(), &models.ParseError{
			QID: q.QID, FieldKey: q.FieldKey,
			Message: "please answer with a number",
		}
	}
	n, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return models.NullValue(), &models.ParseError{
			QID: q.QID, FieldKey: q.FieldKey,
			Message: "please answer with a number",
		}
	}
	if c := q.Constraint; c != nil {
		if c.Min != nil && n < *c.Min {
			return models.NullValue(), &models.ParseError{
				QID: q.QID, FieldKey: q.FieldKey,
				Message: fmt.Sprintf("the value must be at least %s", formatNumber(*c.Min)),
			}
		}
		if c.Max != nil && n > *c.Max {
			return models.NullValue(), &models.ParseError{
				QID: q.QID, FieldKey: q.FieldKey,
				Message: fmt.Sprintf("the value must be at most %s", formatNumber(*c.Max)),
			}
		}
		if c.Step != nil && *c.Step > 0 && !isMultipleOf(n, *c.Step) {
			return models.NullValue(), &models.ParseError{
				QID: q.QID, FieldKey: q.FieldKey,
				Message: fmt.Sprintf("the value must be in increments of %s", formatNumber(*c.Step)),
			}
		}
	}
	return models.NumberValue(n), nil
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// isMultipleOf checks divisibility with a small tolerance for float error.
func isMultipleOf(n, step float64) bool {
	ratio := n / step
	rounded := float64(int64(ratio + 0.5))
	if ratio < 0 {
		rounded = float64(int64(ratio - 0.5))
	}
	diff := ratio - rounded
	return diff < 1e-9 && diff > -1e-9
}

// parseEnum resolves the answer against the option list: exact match on value
// or label first, then a unique case-insensitive substring match in either
// direction. Ambiguous or unmatched answers are rejected with the option list.
func parseEnum(q *models.Question, raw string) (models.Value, *models.ParseError) {
	opt, perr := resolveOption(q, strings.TrimSpace(raw))
	if perr != nil {
		return models.NullValue(), perr
	}
	return models.StringValue(opt.Value), nil
}

// parseArray splits a multi-select answer on common delimiters and resolves
// every token through the enum rule; any unresolvable token fails the answer.
func parseArray(q *models.Question, raw string) (models.Value, *models.ParseError) {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
	var elems []models.Value
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		opt, perr := resolveOption(q, tok)
		if perr != nil {
			return models.NullValue(), perr
		}
		elems = append(elems, models.StringValue(opt.Value))
	}
	if len(elems) == 0 {
		return models.NullValue(), &models.ParseError{
			QID: q.QID, FieldKey: q.FieldKey,
			Message: fmt.Sprintf("please choose one or more of: %s", optionList(q)),
		}
	}
	return models.ArrayValue(elems...), nil
}

func resolveOption(q *models.Question, tok string) (models.Option, *models.ParseError) {
	// Exact match on value or label.
	for _, opt := range q.Options {
		if tok == opt.Value || tok == opt.Label {
			return opt, nil
		}
	}
	lower := strings.ToLower(tok)
	var matches []models.Option
	for _, opt := range q.Options {
		for _, cand := range []string{opt.Value, opt.Label} {
			if cand == "" {
				continue
			}
			lc := strings.ToLower(cand)
			if lc == lower || strings.Contains(lc, lower) || strings.Contains(lower, lc) {
				matches = append(matches, opt)
				break
			}
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	reason := "is not one of the choices"
	if len(matches) > 1 {
		reason = "matches more than one choice"
	}
	return models.Option{}, &models.ParseError{
		QID: q.QID, FieldKey: q.FieldKey,
		Message: fmt.Sprintf("%q %s; please choose from: %s", tok, reason, optionList(q)),
	}
}

func optionList(q *models.Question) string {
	parts := make([]string, len(q.Options))
	for i, opt := range q.Options {
		parts[i] = opt.Display()
	}
	return strings.Join(parts, ", ")
}
