package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/DrewBradfordXYZ/quickbase-local/core"
)

var titleCaser = cases.Title(language.Und)

// labelToName converts a QuickBase label to a camelCase name:
// "First Name" -> "firstName", "Créé le" -> "creeLe".
func labelToName(label string) string {
	words := strings.FieldsFunc(slug.Make(label), func(r rune) bool {
		return r == '-' || r == '_'
	})
	if len(words) == 0 {
		return "field"
	}

	var b strings.Builder
	b.WriteString(words[0])
	for _, w := range words[1:] {
		b.WriteString(titleCaser.String(w))
	}
	return b.String()
}

// makeUnique appends a number suffix if name is already taken.
func makeUnique(name string, used map[string]bool) string {
	if !used[name] {
		used[name] = true
		return name
	}

	n := 2
	for used[fmt.Sprintf("%s%d", name, n)] {
		n++
	}
	unique := fmt.Sprintf("%s%d", name, n)
	used[unique] = true
	return unique
}

// fieldNames names every field of one table. System fields keep their fixed
// names (field 3 is always "id") and other labels are named in id order, so
// the result is stable across runs.
func fieldNames(fields []fieldInfo) map[string]int {
	sorted := append([]fieldInfo(nil), fields...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	out := map[string]int{"id": core.PrimaryKeyFieldID}
	used := map[string]bool{"id": true}
	for _, f := range sorted {
		if name, ok := core.SystemFieldName(f.ID); ok {
			out[name] = f.ID
			used[name] = true
		}
	}
	for _, f := range sorted {
		if _, ok := core.SystemFieldName(f.ID); ok || f.ID <= 0 {
			continue
		}
		out[makeUnique(labelToName(f.Label), used)] = f.ID
	}
	return out
}
