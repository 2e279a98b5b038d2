package core

import "strings"

// Compiler turns name-based where, sort and select specs into their
// id-based QuickBase forms for one catalog.
//
// In lenient mode (the default) unknown names fall back the way Catalog's
// total lookups do: fields to the primary key, tables to their own name. In
// strict mode they fail with *MappingMissError.
type Compiler struct {
	catalog *Catalog
	strict  bool
}

// NewCompiler creates a lenient compiler.
func NewCompiler(catalog *Catalog) *Compiler {
	return &Compiler{catalog: catalog}
}

// Strict returns a compiler over the same catalog that rejects unknown names.
func (c *Compiler) Strict() *Compiler {
	return &Compiler{catalog: c.catalog, strict: true}
}

// Lenient returns a compiler over the same catalog that falls back on unknown names.
func (c *Compiler) Lenient() *Compiler {
	return &Compiler{catalog: c.catalog}
}

// IsStrict reports whether unknown names are rejected.
func (c *Compiler) IsStrict() bool {
	return c.strict
}

// Catalog returns the catalog the compiler resolves names against.
func (c *Compiler) Catalog() *Catalog {
	return c.catalog
}

// FieldID resolves a field name according to the compiler's mode.
func (c *Compiler) FieldID(app, table, name string) (int, error) {
	if c.strict {
		return c.catalog.LookupField(app, table, name)
	}
	return c.catalog.FieldID(app, table, name), nil
}

// TableID resolves a table name according to the compiler's mode.
func (c *Compiler) TableID(app, table string) (string, error) {
	if c.strict {
		return c.catalog.LookupTable(app, table)
	}
	return c.catalog.TableID(app, table), nil
}

// term is one element of a level: a field's atoms or a parenthesized group.
// compound is set when the text contains a top-level " AND ".
type term struct {
	text     string
	compound bool
}

// Where compiles a filter tree into a QuickBase query string.
// A zero Where compiles to "". OR groups parenthesize multi-atom sub-levels,
// which the package doc describes.
func (c *Compiler) Where(app, table string, w Where) (string, error) {
	terms, err := c.level(app, table, w)
	if err != nil {
		return "", err
	}
	return joinTerms(terms, " AND "), nil
}

func (c *Compiler) level(app, table string, w Where) ([]term, error) {
	terms := make([]term, 0, len(w.Fields)+2)

	for _, f := range w.Fields {
		id, err := c.FieldID(app, table, f.Field)
		if err != nil {
			return nil, err
		}
		atoms := conditionAtoms(id, f.Conditions)
		if len(atoms) == 0 {
			continue
		}
		terms = append(terms, term{text: strings.Join(atoms, " AND "), compound: len(atoms) > 1})
	}

	and, err := c.group(app, table, w.And, " AND ")
	if err != nil {
		return nil, err
	}
	if and != "" {
		terms = append(terms, term{text: "(" + and + ")"})
	}

	or, err := c.group(app, table, w.Or, " OR ")
	if err != nil {
		return nil, err
	}
	if or != "" {
		terms = append(terms, term{text: "(" + or + ")"})
	}

	return terms, nil
}

// group compiles each sub-level and joins the non-empty results. Under OR,
// a sub-level with more than one atom keeps its own parentheses so its
// implicit AND is not split.
func (c *Compiler) group(app, table string, subs []Where, joiner string) (string, error) {
	parts := make([]term, 0, len(subs))
	for _, sub := range subs {
		terms, err := c.level(app, table, sub)
		if err != nil {
			return "", err
		}
		if len(terms) == 0 {
			continue
		}
		parts = append(parts, term{
			text:     joinTerms(terms, " AND "),
			compound: len(terms) > 1 || terms[0].compound,
		})
	}

	if joiner == " OR " && len(parts) > 1 {
		for i, p := range parts {
			if p.compound {
				parts[i].text = "(" + p.text + ")"
			}
		}
	}
	return joinTerms(parts, joiner), nil
}

func joinTerms(terms []term, joiner string) string {
	texts := make([]string, len(terms))
	for i, t := range terms {
		texts[i] = t.text
	}
	return strings.Join(texts, joiner)
}
