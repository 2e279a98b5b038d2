package core

import (
	"fmt"
	"sort"
)

// Where is one level of a filter tree. Field filters at a level are ANDed
// together; the And and Or groups each add one parenthesized term.
//
// Example:
//
//	w := core.Filter(
//	    core.Field("status", core.Eq("Active")),
//	    core.Field("age", core.GreaterThan(18), core.LessThan(65)),
//	).WithOr(
//	    core.Filter(core.Field("city", core.Eq("Austin"))),
//	    core.Filter(core.Field("city", core.Eq("Dallas"))),
//	)
type Where struct {
	Fields []FieldFilter
	And    []Where
	Or     []Where
}

// FieldFilter is a leaf of the tree: all Conditions apply to Field.
type FieldFilter struct {
	Field      string
	Conditions []Condition
}

// Field builds a leaf. A leaf without conditions compiles to nothing.
func Field(name string, conds ...Condition) FieldFilter {
	return FieldFilter{Field: name, Conditions: conds}
}

// Filter builds a level from leaves.
func Filter(fields ...FieldFilter) Where {
	return Where{Fields: fields}
}

// AllOf returns a level containing a single And group.
func AllOf(subs ...Where) Where {
	return Where{And: subs}
}

// AnyOf returns a level containing a single Or group.
func AnyOf(subs ...Where) Where {
	return Where{Or: subs}
}

// WithAnd returns a copy of w with subs appended to its And group.
func (w Where) WithAnd(subs ...Where) Where {
	w.And = append(append([]Where(nil), w.And...), subs...)
	return w
}

// WithOr returns a copy of w with subs appended to its Or group.
func (w Where) WithOr(subs ...Where) Where {
	w.Or = append(append([]Where(nil), w.Or...), subs...)
	return w
}

// IsZero reports whether the level has nothing to compile.
func (w Where) IsZero() bool {
	return len(w.Fields) == 0 && len(w.And) == 0 && len(w.Or) == 0
}

// ParseWhere converts a dynamic where object into a Where tree.
//
// Keys "and" and "or" must hold lists of where objects. Every other key is a
// field name whose value is either a condition object or a scalar meaning
// equality. Field keys are processed in sorted order so the compiled query is
// deterministic.
//
//	core.ParseWhere(map[string]any{
//	    "status": "Active",
//	    "age":    map[string]any{"greaterThan": 18},
//	    "or": []any{
//	        map[string]any{"city": "Austin"},
//	        map[string]any{"city": "Dallas"},
//	    },
//	})
func ParseWhere(obj map[string]any) (Where, error) {
	var w Where
	if len(obj) == 0 {
		return w, nil
	}

	names := make([]string, 0, len(obj))
	for key := range obj {
		if key != "and" && key != "or" {
			names = append(names, key)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		value := obj[name]
		if condObj, ok := value.(map[string]any); ok {
			conds, err := ParseConditions(name, condObj)
			if err != nil {
				return Where{}, err
			}
			w.Fields = append(w.Fields, FieldFilter{Field: name, Conditions: conds})
			continue
		}
		w.Fields = append(w.Fields, FieldFilter{Field: name, Conditions: []Condition{Equals{Value: value}}})
	}

	var err error
	if w.And, err = parseGroup(obj, "and"); err != nil {
		return Where{}, err
	}
	if w.Or, err = parseGroup(obj, "or"); err != nil {
		return Where{}, err
	}
	return w, nil
}

func parseGroup(obj map[string]any, key string) ([]Where, error) {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return nil, nil
	}

	var items []map[string]any
	switch v := raw.(type) {
	case []map[string]any:
		items = v
	case []any:
		items = make([]map[string]any, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, &ConditionError{Field: key, Reason: fmt.Sprintf("element %d is %T, want an object", i, item)}
			}
			items = append(items, m)
		}
	default:
		return nil, &ConditionError{Field: key, Reason: fmt.Sprintf("got %T, want a list of objects", raw)}
	}

	subs := make([]Where, 0, len(items))
	for _, item := range items {
		sub, err := ParseWhere(item)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
