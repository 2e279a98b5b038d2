// Field catalog: name <-> id lookups for apps, tables and fields.
//
// The catalog is built once from a Mappings snapshot (usually generated by
// cmd/qbmappings) and is read-only afterwards, so it can be shared between
// goroutines without locking.
//
// Example usage:
//
//	catalog := core.NewCatalog(core.Mappings{
//	    FieldMappings: map[string]map[string]map[string]int{
//	        "crm": {"contacts": {"id": 3, "name": 6, "email": 7}},
//	    },
//	    TableMappings: map[string]map[string]string{
//	        "crm": {"contacts": "bqw3ryzab"},
//	    },
//	})
//	catalog.FieldID("crm", "contacts", "email") // 7
package core

import (
	"sort"
	"strconv"
	"strings"
)

// PrimaryKeyFieldID is the id of the record id field in every QuickBase table.
const PrimaryKeyFieldID = 3

// System field ids present in every QuickBase table.
const (
	DateCreatedFieldID    = 1
	DateModifiedFieldID   = 2
	RecordOwnerFieldID    = 4
	LastModifiedByFieldID = 5
)

var systemFieldNames = map[int]string{
	DateCreatedFieldID:    "dateCreated",
	DateModifiedFieldID:   "dateModified",
	PrimaryKeyFieldID:     "id",
	RecordOwnerFieldID:    "recordOwner",
	LastModifiedByFieldID: "lastModifiedBy",
}

var systemFieldIDs = map[string]int{
	"dateCreated":    DateCreatedFieldID,
	"dateModified":   DateModifiedFieldID,
	"id":             PrimaryKeyFieldID,
	"recordOwner":    RecordOwnerFieldID,
	"lastModifiedBy": LastModifiedByFieldID,
}

// SystemFieldName returns the fixed name of a system field id (1..5).
func SystemFieldName(id int) (string, bool) {
	name, ok := systemFieldNames[id]
	return name, ok
}

// syntheticFieldPrefix names unmapped fields in decoded documents.
const syntheticFieldPrefix = "field_"

// Mappings is the snapshot the catalog is built from.
//
// FieldMappings is app -> table -> field name -> field id.
// TableMappings is app -> table -> table id.
type Mappings struct {
	FieldMappings map[string]map[string]map[string]int `json:"fieldMappings" yaml:"fieldMappings" toml:"fieldMappings"`
	TableMappings map[string]map[string]string         `json:"tableMappings" yaml:"tableMappings" toml:"tableMappings"`
}

// Catalog resolves human names to QuickBase ids and back.
type Catalog struct {
	fields  map[string]map[string]map[string]int
	tables  map[string]map[string]string
	reverse map[string]map[string]map[int]string
}

// NewCatalog copies the snapshot and precomputes the reverse field maps.
func NewCatalog(m Mappings) *Catalog {
	c := &Catalog{
		fields:  make(map[string]map[string]map[string]int, len(m.FieldMappings)),
		tables:  make(map[string]map[string]string, len(m.TableMappings)),
		reverse: make(map[string]map[string]map[int]string, len(m.FieldMappings)),
	}

	for app, tables := range m.FieldMappings {
		c.fields[app] = make(map[string]map[string]int, len(tables))
		c.reverse[app] = make(map[string]map[int]string, len(tables))
		for table, fields := range tables {
			nameToID := make(map[string]int, len(fields))
			idToName := make(map[int]string, len(fields))
			for name, id := range fields {
				if id <= 0 {
					continue
				}
				nameToID[name] = id
				idToName[id] = name
			}
			c.fields[app][table] = nameToID
			c.reverse[app][table] = idToName
		}
	}

	for app, tables := range m.TableMappings {
		c.tables[app] = make(map[string]string, len(tables))
		for table, id := range tables {
			c.tables[app][table] = id
		}
	}

	return c
}

// FieldID returns the id of a field, never failing.
//
// Unknown names resolve to a system field id when the name is one of the
// fixed system names, to N for synthesized "field_N" names, and otherwise to
// the primary key field (3).
func (c *Catalog) FieldID(app, table, name string) int {
	if id, err := c.LookupField(app, table, name); err == nil {
		return id
	}
	return PrimaryKeyFieldID
}

// LookupField returns the id of a field or a *MappingMissError.
func (c *Catalog) LookupField(app, table, name string) (int, error) {
	if c != nil {
		if id, ok := c.fields[app][table][name]; ok {
			return id, nil
		}
	}
	if id, ok := systemFieldIDs[name]; ok {
		return id, nil
	}
	if id, ok := parseSyntheticName(name); ok {
		return id, nil
	}

	miss := &MappingMissError{App: app, Table: table, Field: name}
	if c != nil {
		miss.Suggestion = findSimilar(name, sortedKeys(c.fields[app][table]))
	}
	return 0, miss
}

// TableID returns the QuickBase table id, or the table name itself when it is unmapped.
func (c *Catalog) TableID(app, table string) string {
	if id, err := c.LookupTable(app, table); err == nil {
		return id
	}
	return table
}

// LookupTable returns the QuickBase table id or a *MappingMissError.
func (c *Catalog) LookupTable(app, table string) (string, error) {
	if c != nil {
		if id, ok := c.tables[app][table]; ok && id != "" {
			return id, nil
		}
	}
	miss := &MappingMissError{App: app, Table: table}
	if c != nil {
		miss.Suggestion = findSimilar(table, sortedKeys(c.tables[app]))
	}
	return "", miss
}

// FieldName returns the name a field id decodes to.
func (c *Catalog) FieldName(app, table string, id int) string {
	if c != nil {
		if name, ok := c.reverse[app][table][id]; ok {
			return name
		}
	}
	if name, ok := systemFieldNames[id]; ok {
		return name
	}
	return syntheticFieldPrefix + strconv.Itoa(id)
}

// Apps returns the app names known to the catalog, sorted.
func (c *Catalog) Apps() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for app := range c.fields {
		seen[app] = struct{}{}
	}
	for app := range c.tables {
		seen[app] = struct{}{}
	}
	return sortedKeys(seen)
}

// Tables returns the table names of an app, sorted.
func (c *Catalog) Tables(app string) []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for table := range c.fields[app] {
		seen[table] = struct{}{}
	}
	for table := range c.tables[app] {
		seen[table] = struct{}{}
	}
	return sortedKeys(seen)
}

// Fields returns a copy of the name -> id map of one table.
func (c *Catalog) Fields(app, table string) map[string]int {
	if c == nil {
		return map[string]int{}
	}
	out := make(map[string]int, len(c.fields[app][table]))
	for name, id := range c.fields[app][table] {
		out[name] = id
	}
	return out
}

func parseSyntheticName(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, syntheticFieldPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// findSimilar finds a similar string from a list (for "did you mean" suggestions).
// Uses Levenshtein distance.
func findSimilar(input string, candidates []string) string {
	const maxDistance = 3
	inputLower := strings.ToLower(input)

	var bestMatch string
	bestDistance := maxDistance + 1

	for _, candidate := range candidates {
		distance := levenshteinDistance(inputLower, strings.ToLower(candidate))
		if distance < bestDistance {
			bestDistance = distance
			bestMatch = candidate
		}
	}

	if bestDistance <= maxDistance {
		return bestMatch
	}
	return ""
}

// levenshteinDistance calculates the Levenshtein distance between two strings.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(a)+1)
	curr := make([]int, len(a)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(b); i++ {
		curr[0] = i
		for j := 1; j <= len(a); j++ {
			if b[i-1] == a[j-1] {
				curr[j] = prev[j-1]
			} else {
				curr[j] = min(prev[j-1], curr[j-1], prev[j]) + 1
			}
		}
		prev, curr = curr, prev
	}

	return prev[len(a)]
}
