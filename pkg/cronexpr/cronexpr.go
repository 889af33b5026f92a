package cronexpr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformed reports a syntactically or semantically invalid expression
	// (wrong field count, out-of-range numbers, bad step, ...).
	ErrMalformed = errors.New("cronexpr: malformed expression")

	// ErrUnschedulable reports a valid expression with no matching instant
	// within the one-year search horizon.
	ErrUnschedulable = errors.New("cronexpr: no matching instant within one year")
)

// Field is a single expression field bound to its numeric domain.
type Field struct {
	raw string
	min int
	max int
}

// Raw returns the field token as written.
func (f Field) Raw() string { return f.raw }

// Valid reports whether the token conforms to the field grammar and domain.
func (f Field) Valid() bool { return validToken(f.raw, f.min, f.max) }

// Match reports whether v satisfies the field.
//
// Match on an invalid field returns false; callers that need a diagnostic
// should check Valid (or Expression.Validate) first.
func (f Field) Match(v int) bool { return matchToken(f.raw, v, f.min, f.max) }

// Expression is a parsed 5-field recurrence expression.
type Expression struct {
	Minute Field
	Hour   Field
	Dom    Field
	Month  Field
	Dow    Field

	raw string
}

// String returns the original expression text.
func (e *Expression) String() string { return e.raw }

// Parse splits an expression into its 5 typed fields.
//
// Only the field count is checked here; per-field grammar is checked by
// Validate so callers can report which field is broken.
func Parse(expr string) (*Expression, error) {
	tokens := strings.Fields(expr)
	if len(tokens) != 5 {
		return nil, fmt.Errorf("%w: want 5 fields, got %d", ErrMalformed, len(tokens))
	}
	return &Expression{
		Minute: Field{raw: tokens[0], min: 0, max: 59},
		Hour:   Field{raw: tokens[1], min: 0, max: 23},
		Dom:    Field{raw: tokens[2], min: 1, max: 31},
		Month:  Field{raw: tokens[3], min: 1, max: 12},
		Dow:    Field{raw: tokens[4], min: 0, max: 6},
		raw:    expr,
	}, nil
}

// Validate checks every field against its grammar and numeric domain.
func (e *Expression) Validate() error {
	checks := []struct {
		name  string
		field Field
	}{
		{"minute", e.Minute},
		{"hour", e.Hour},
		{"day-of-month", e.Dom},
		{"month", e.Month},
		{"day-of-week", e.Dow},
	}
	for _, c := range checks {
		if !c.field.Valid() {
			return fmt.Errorf("%w: bad %s field %q", ErrMalformed, c.name, c.field.Raw())
		}
	}
	return nil
}

// Validate reports whether expr is a well-formed 5-field expression.
func Validate(expr string) bool {
	e, err := Parse(expr)
	if err != nil {
		return false
	}
	return e.Validate() == nil
}

func validToken(tok string, min, max int) bool {
	if tok == "" {
		return false
	}
	if strings.Contains(tok, ",") {
		for _, part := range strings.Split(tok, ",") {
			if !validToken(part, min, max) {
				return false
			}
		}
		return true
	}
	if tok == "*" {
		return true
	}
	if base, step, ok := splitStep(tok); ok {
		n, err := strconv.Atoi(step)
		if err != nil || n < 1 {
			return false
		}
		if base == "*" {
			return true
		}
		_, _, ok := parseRange(base, min, max)
		return ok
	}
	if strings.Contains(tok, "-") {
		_, _, ok := parseRange(tok, min, max)
		return ok
	}
	v, err := strconv.Atoi(tok)
	return err == nil && v >= min && v <= max
}

func matchToken(tok string, v, min, max int) bool {
	if strings.Contains(tok, ",") {
		// Exact-value comparison per member, no grammar recursion.
		for _, part := range strings.Split(tok, ",") {
			if n, err := strconv.Atoi(part); err == nil && n == v {
				return true
			}
		}
		return false
	}
	if tok == "*" {
		return true
	}
	if base, step, ok := splitStep(tok); ok {
		n, err := strconv.Atoi(step)
		if err != nil || n < 1 {
			return false
		}
		lo, hi := min, max
		if base != "*" {
			var rok bool
			lo, hi, rok = parseRange(base, min, max)
			if !rok {
				return false
			}
		}
		return v >= lo && v <= hi && (v-lo)%n == 0
	}
	if strings.Contains(tok, "-") {
		lo, hi, ok := parseRange(tok, min, max)
		return ok && v >= lo && v <= hi
	}
	n, err := strconv.Atoi(tok)
	return err == nil && n == v
}

// splitStep splits "A/N" into base and step. A token without "/" is not a step.
func splitStep(tok string) (base, step string, ok bool) {
	i := strings.Index(tok, "/")
	if i < 0 {
		return "", "", false
	}
	return tok[:i], tok[i+1:], true
}

// parseRange parses "a-b" with both bounds inside [min,max] and a <= b.
func parseRange(tok string, min, max int) (lo, hi int, ok bool) {
	i := strings.Index(tok, "-")
	if i < 0 {
		return 0, 0, false
	}
	lo, err := strconv.Atoi(tok[:i])
	if err != nil {
		return 0, 0, false
	}
	hi, err = strconv.Atoi(tok[i+1:])
	if err != nil {
		return 0, 0, false
	}
	if lo < min || hi > max || lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}
