package core

import "strings"

// SortOrder is the direction of a sort key.
type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// DescendingPrefix marks a sort token as descending, e.g. "-createdAt".
const DescendingPrefix = "-"

// SortField is one compiled sort key, in the shape QuickBase expects in sortBy.
type SortField struct {
	FieldID int       `json:"fieldId"`
	Order   SortOrder `json:"order"`
}

// Sort compiles sort tokens into sortBy entries, preserving their order.
// Returns nil when no tokens are given.
func (c *Compiler) Sort(app, table string, tokens ...string) ([]SortField, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	fields := make([]SortField, 0, len(tokens))
	for _, token := range tokens {
		order := SortAsc
		name := token
		if rest, ok := strings.CutPrefix(token, DescendingPrefix); ok {
			order = SortDesc
			name = rest
		}

		id, err := c.FieldID(app, table, name)
		if err != nil {
			return nil, err
		}
		// Unreachable with the catalog's fallback; kept for hand-built catalogs.
		if id <= 0 {
			continue
		}
		fields = append(fields, SortField{FieldID: id, Order: order})
	}
	return fields, nil
}

// Select compiles field names into a select list, preserving their order.
// A nil result means no projection: every field is returned.
func (c *Compiler) Select(app, table string, names ...string) ([]int, error) {
	if len(names) == 0 {
		return nil, nil
	}

	ids := make([]int, 0, len(names))
	for _, name := range names {
		id, err := c.FieldID(app, table, name)
		if err != nil {
			return nil, err
		}
		if id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
