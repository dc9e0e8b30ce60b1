package rules

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"auditgate/internal/errs"
)

// Op is a comparison operator in a rule condition.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpIn  Op = "in"
)

// Condition is one predicate of a rule: field <op> value. A rule's
// conditions are a conjunction.
type Condition struct {
	Field string          `json:"field"`
	Op    Op              `json:"op"`
	Value json.RawMessage `json:"value"`
}

// Kind tags the variants of an attribute value.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
)

// Value is a tagged attribute value. Rule literals and package attributes
// both normalize into this shape before comparison.
type Value struct {
	Kind Kind
	Str  string
	Num  decimal.Decimal
	Bool bool
}

func String(s string) Value { return Value{Kind: KindString, Str: s} }

func Number(d decimal.Decimal) Value { return Value{Kind: KindNumber, Num: d} }

func NumberFromFloat(f float64) Value {
	return Value{Kind: KindNumber, Num: decimal.NewFromFloat(f)}
}

func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Attributes is the bag a rule set is evaluated against. Fields absent
// from the bag make any condition referencing them not match.
type Attributes map[string]Value

// Validate checks the condition is well-formed: non-empty field, a known
// operator and a parseable JSON literal.
func (c Condition) Validate() error {
	if c.Field == "" {
		return errs.Validation("conditions", "condition field is required")
	}
	switch c.Op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn:
	default:
		return errs.Validation("conditions", "unknown operator "+string(c.Op))
	}
	if len(c.Value) == 0 {
		return errs.Validation("conditions", "condition value is required")
	}
	var v any
	if err := json.Unmarshal(c.Value, &v); err != nil {
		return errs.Validation("conditions", "condition value is not valid JSON")
	}
	if c.Op == OpIn {
		if _, ok := v.([]any); !ok {
			return errs.Validation("conditions", "in operator requires an array value")
		}
	}
	return nil
}

// Match evaluates the condition against the bag. Unknown fields and
// type-mismatched comparisons never match; they do not error.
func (c Condition) Match(attrs Attributes) bool {
	field := strings.TrimSpace(c.Field)
	if field == "" {
		return false
	}
	have, ok := attrs[field]
	if !ok {
		return false
	}
	if c.Op == OpIn {
		return matchIn(have, c.Value)
	}
	want, ok := decodeLiteral(c.Value, have.Kind)
	if !ok {
		return false
	}
	switch have.Kind {
	case KindString:
		return compareStrings(c.Op, have.Str, want.Str)
	case KindNumber:
		return compareNumbers(c.Op, have.Num, want.Num)
	case KindBool:
		switch c.Op {
		case OpEq:
			return have.Bool == want.Bool
		case OpNe:
			return have.Bool != want.Bool
		}
	}
	return false
}

func decodeLiteral(raw json.RawMessage, kind Kind) (Value, bool) {
	if len(raw) == 0 {
		return Value{}, false
	}
	switch kind {
	case KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, false
		}
		return String(s), true
	case KindNumber:
		// Numbers may arrive as JSON numbers or numeric strings.
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			d, err := decimal.NewFromString(strings.TrimSpace(s))
			if err != nil {
				return Value{}, false
			}
			return Number(d), true
		}
		var f json.Number
		if err := json.Unmarshal(raw, &f); err != nil {
			return Value{}, false
		}
		d, err := decimal.NewFromString(f.String())
		if err != nil {
			return Value{}, false
		}
		return Number(d), true
	case KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Value{}, false
		}
		return Bool(b), true
	}
	return Value{}, false
}

func matchIn(have Value, raw json.RawMessage) bool {
	if have.Kind != KindString {
		return false
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), have.Str) {
			return true
		}
	}
	return false
}

func compareStrings(op Op, have, want string) bool {
	switch op {
	case OpEq:
		return strings.EqualFold(strings.TrimSpace(have), strings.TrimSpace(want))
	case OpNe:
		return !strings.EqualFold(strings.TrimSpace(have), strings.TrimSpace(want))
	}
	return false
}

func compareNumbers(op Op, have, want decimal.Decimal) bool {
	cmp := have.Cmp(want)
	switch op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}
