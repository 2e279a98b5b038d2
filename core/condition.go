package core

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Operator is the key of a condition in a where clause.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "notEquals"
	OpGreaterThan        Operator = "greaterThan"
	OpLessThan           Operator = "lessThan"
	OpGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OpLessThanOrEqual    Operator = "lessThanOrEqual"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "notContains"
	OpStartsWith         Operator = "startsWith"
	OpNotStartsWith      Operator = "notStartsWith"
	OpEndsWith           Operator = "endsWith"
	OpNotEndsWith        Operator = "notEndsWith"
	OpIsEmpty            Operator = "isEmpty"
	OpIsNotEmpty         Operator = "isNotEmpty"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "notIn"
)

// operatorOrder is the order conditions are emitted in when parsed from a map.
var operatorOrder = []Operator{
	OpEquals, OpNotEquals,
	OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual,
	OpContains, OpNotContains, OpStartsWith, OpNotStartsWith, OpEndsWith, OpNotEndsWith,
	OpIsEmpty, OpIsNotEmpty,
	OpIn, OpNotIn,
}

// Opcodes maps operators to the QuickBase query opcode they compile to.
var Opcodes = map[Operator]string{
	OpEquals:             "EX",
	OpNotEquals:          "XEX",
	OpGreaterThan:        "GT",
	OpLessThan:           "LT",
	OpGreaterThanOrEqual: "GTE",
	OpLessThanOrEqual:    "LTE",
	OpContains:           "CT",
	OpNotContains:        "XCT",
	OpStartsWith:         "SW",
	OpNotStartsWith:      "XSW",
	OpEndsWith:           "EW",
	OpNotEndsWith:        "XEW",
}

// Condition is one predicate on a single field. The set of implementations
// is closed: Equals, NotEquals, Compare, TextMatch, SetMembership, Emptiness.
type Condition interface {
	Operator() Operator
	atom(fieldID int) string
}

// Equals matches records whose field equals Value.
type Equals struct{ Value any }

// NotEquals matches records whose field differs from Value.
type NotEquals struct{ Value any }

// Compare is an ordering comparison; Op is one of greaterThan, lessThan,
// greaterThanOrEqual or lessThanOrEqual.
type Compare struct {
	Op    Operator
	Value any
}

// TextMode selects the kind of text match.
type TextMode int

const (
	TextContains TextMode = iota
	TextStartsWith
	TextEndsWith
)

// TextMatch is a contains/startsWith/endsWith test against one or more
// values. Positive matches succeed if any value matches; negated matches
// succeed only if no value matches.
type TextMatch struct {
	Mode    TextMode
	Negated bool
	Values  []any
}

// SetMembership matches records whose field is (or, if Negated, is not) one of Values.
type SetMembership struct {
	Negated bool
	Values  []any
}

// Emptiness matches empty (or non-empty) fields.
type Emptiness struct{ Empty bool }

func Eq(v any) Equals                    { return Equals{Value: v} }
func Ne(v any) NotEquals                 { return NotEquals{Value: v} }
func GreaterThan(v any) Compare          { return Compare{Op: OpGreaterThan, Value: v} }
func LessThan(v any) Compare             { return Compare{Op: OpLessThan, Value: v} }
func GreaterThanOrEqual(v any) Compare   { return Compare{Op: OpGreaterThanOrEqual, Value: v} }
func LessThanOrEqual(v any) Compare      { return Compare{Op: OpLessThanOrEqual, Value: v} }
func Contains(vs ...any) TextMatch       { return TextMatch{Mode: TextContains, Values: vs} }
func NotContains(vs ...any) TextMatch    { return TextMatch{Mode: TextContains, Negated: true, Values: vs} }
func StartsWith(vs ...any) TextMatch     { return TextMatch{Mode: TextStartsWith, Values: vs} }
func NotStartsWith(vs ...any) TextMatch  { return TextMatch{Mode: TextStartsWith, Negated: true, Values: vs} }
func EndsWith(vs ...any) TextMatch       { return TextMatch{Mode: TextEndsWith, Values: vs} }
func NotEndsWith(vs ...any) TextMatch    { return TextMatch{Mode: TextEndsWith, Negated: true, Values: vs} }
func In(vs ...any) SetMembership         { return SetMembership{Values: vs} }
func NotIn(vs ...any) SetMembership      { return SetMembership{Negated: true, Values: vs} }
func IsEmpty() Emptiness                 { return Emptiness{Empty: true} }
func IsNotEmpty() Emptiness              { return Emptiness{Empty: false} }

func (Equals) Operator() Operator    { return OpEquals }
func (NotEquals) Operator() Operator { return OpNotEquals }
func (c Compare) Operator() Operator { return c.Op }

func (c TextMatch) Operator() Operator {
	switch {
	case c.Mode == TextStartsWith && c.Negated:
		return OpNotStartsWith
	case c.Mode == TextStartsWith:
		return OpStartsWith
	case c.Mode == TextEndsWith && c.Negated:
		return OpNotEndsWith
	case c.Mode == TextEndsWith:
		return OpEndsWith
	case c.Negated:
		return OpNotContains
	default:
		return OpContains
	}
}

func (c SetMembership) Operator() Operator {
	if c.Negated {
		return OpNotIn
	}
	return OpIn
}

func (c Emptiness) Operator() Operator {
	if c.Empty {
		return OpIsEmpty
	}
	return OpIsNotEmpty
}

func (c Equals) atom(fieldID int) string    { return quotedAtom(fieldID, "EX", c.Value) }
func (c NotEquals) atom(fieldID int) string { return quotedAtom(fieldID, "XEX", c.Value) }

func (c Compare) atom(fieldID int) string {
	opcode, ok := Opcodes[c.Op]
	if !ok {
		return ""
	}
	return quotedAtom(fieldID, opcode, c.Value)
}

func (c TextMatch) atom(fieldID int) string {
	opcode := Opcodes[c.Operator()]
	atoms := make([]string, 0, len(c.Values))
	for _, v := range c.Values {
		atoms = append(atoms, quotedAtom(fieldID, opcode, v))
	}
	joiner := " OR "
	if c.Negated {
		joiner = " AND "
	}
	combined := strings.Join(atoms, joiner)
	if len(atoms) > 1 {
		return "(" + combined + ")"
	}
	return combined
}

func (c SetMembership) atom(fieldID int) string {
	opcode := "EX"
	if c.Negated {
		opcode = "XEX"
	}
	values := make([]string, 0, len(c.Values))
	for _, v := range c.Values {
		values = append(values, FormatValue(v))
	}
	return fmt.Sprintf("{%d.%s.%s}", fieldID, opcode, strings.Join(values, ";"))
}

func (c Emptiness) atom(fieldID int) string {
	if c.Empty {
		return fmt.Sprintf("{%d.EX.''}", fieldID)
	}
	return fmt.Sprintf("{%d.XEX.''}", fieldID)
}

func quotedAtom(fieldID int, opcode string, v any) string {
	value := strings.ReplaceAll(FormatValue(v), "'", `\'`)
	return fmt.Sprintf("{%d.%s.'%s'}", fieldID, opcode, value)
}

// CompileCondition compiles the conditions on one field, joining their
// atoms with " AND ". Conditions that produce no atom are skipped.
//
// Quoted values have each ' escaped as \', so a value containing a quote
// renders as {6.EX.'O\'Brien'} rather than being interpolated raw. in and
// notIn values are not quoted and are not escaped.
func CompileCondition(fieldID int, conds ...Condition) string {
	return strings.Join(conditionAtoms(fieldID, conds), " AND ")
}

func conditionAtoms(fieldID int, conds []Condition) []string {
	atoms := make([]string, 0, len(conds))
	for _, c := range conds {
		if c == nil {
			continue
		}
		if a := c.atom(fieldID); a != "" {
			atoms = append(atoms, a)
		}
	}
	return atoms
}

// FormatValue renders an operand the way it appears inside a query atom.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case json.Number:
		return x.String()
	case time.Time:
		return FormatQueryDate(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// ParseConditions converts a dynamic condition object such as
// {"greaterThan": 5, "lessThan": 10} into typed conditions. Keys are
// emitted in a fixed operator order; unknown keys are an error.
func ParseConditions(field string, obj map[string]any) ([]Condition, error) {
	for key := range obj {
		if !isKnownOperator(Operator(key)) {
			return nil, &ConditionError{Field: field, Operator: key, Reason: "unknown operator"}
		}
	}

	conds := make([]Condition, 0, len(obj))
	for _, op := range operatorOrder {
		v, ok := obj[string(op)]
		if !ok {
			continue
		}
		c, err := parseCondition(field, op, v)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	return conds, nil
}

func parseCondition(field string, op Operator, v any) (Condition, error) {
	switch op {
	case OpEquals:
		return Equals{Value: v}, nil
	case OpNotEquals:
		return NotEquals{Value: v}, nil
	case OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual:
		if _, isList := asList(v); isList {
			return nil, &ConditionError{Field: field, Operator: string(op), Reason: "operand must be a scalar"}
		}
		return Compare{Op: op, Value: v}, nil
	case OpContains, OpNotContains, OpStartsWith, OpNotStartsWith, OpEndsWith, OpNotEndsWith:
		values, isList := asList(v)
		if !isList {
			values = []any{v}
		}
		m := TextMatch{Negated: strings.HasPrefix(string(op), "not")}
		switch op {
		case OpStartsWith, OpNotStartsWith:
			m.Mode = TextStartsWith
		case OpEndsWith, OpNotEndsWith:
			m.Mode = TextEndsWith
		}
		m.Values = values
		return m, nil
	case OpIn, OpNotIn:
		values, isList := asList(v)
		if !isList {
			values = []any{v}
		}
		if len(values) == 0 {
			return nil, &ConditionError{Field: field, Operator: string(op), Reason: "value list is empty"}
		}
		return SetMembership{Negated: op == OpNotIn, Values: values}, nil
	case OpIsEmpty, OpIsNotEmpty:
		b, ok := v.(bool)
		if !ok {
			return nil, &ConditionError{Field: field, Operator: string(op), Reason: "operand must be a boolean"}
		}
		return Emptiness{Empty: b == (op == OpIsEmpty)}, nil
	}
	return nil, &ConditionError{Field: field, Operator: string(op), Reason: "unknown operator"}
}

func isKnownOperator(op Operator) bool {
	for _, known := range operatorOrder {
		if op == known {
			return true
		}
	}
	return false
}

// asList converts any slice or array (except []byte) to []any.
func asList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
