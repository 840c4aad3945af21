package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Equal reports whether a and b describe the same structure. Rename
// directives, enum names, column order and the history table are ignored.
func Equal(a, b *Schema) bool {
	return len(Differences(a, b)) == 0
}

// Differences lists human-readable structural differences between a and b.
// It exists for test diagnostics and for Equal.
func Differences(a, b *Schema) []string {
	a = a.Without(MigrationTable)
	b = b.Without(MigrationTable)

	var diffs []string
	at := tableMap(a)
	bt := tableMap(b)

	for _, name := range unionKeys(at, bt) {
		ta, okA := at[name]
		tb, okB := bt[name]
		switch {
		case !okA:
			diffs = append(diffs, fmt.Sprintf("table %s only on the right", name))
		case !okB:
			diffs = append(diffs, fmt.Sprintf("table %s only on the left", name))
		default:
			diffs = append(diffs, tableDifferences(ta, tb)...)
		}
	}
	return diffs
}

func tableDifferences(a, b Table) []string {
	var diffs []string

	if strings.Join(a.PrimaryKey, ",") != strings.Join(b.PrimaryKey, ",") {
		diffs = append(diffs, fmt.Sprintf("table %s primary key %v != %v", a.Name, a.PrimaryKey, b.PrimaryKey))
	}

	ac := make(map[string]Column, len(a.Columns))
	for _, c := range a.Columns {
		ac[c.Name] = c
	}
	bc := make(map[string]Column, len(b.Columns))
	for _, c := range b.Columns {
		bc[c.Name] = c
	}
	for _, name := range unionKeys(ac, bc) {
		ca, okA := ac[name]
		cb, okB := bc[name]
		switch {
		case !okA:
			diffs = append(diffs, fmt.Sprintf("column %s.%s only on the right", a.Name, name))
		case !okB:
			diffs = append(diffs, fmt.Sprintf("column %s.%s only on the left", a.Name, name))
		case !ColumnsEqual(ca, cb):
			diffs = append(diffs, fmt.Sprintf("column %s.%s differs: %s != %s", a.Name, name, describeColumn(ca), describeColumn(cb)))
		}
	}

	ai := make(map[string]Index, len(a.Indexes))
	for _, idx := range a.Indexes {
		ai[idx.Name] = idx
	}
	bi := make(map[string]Index, len(b.Indexes))
	for _, idx := range b.Indexes {
		bi[idx.Name] = idx
	}
	for _, name := range unionKeys(ai, bi) {
		ia, okA := ai[name]
		ib, okB := bi[name]
		if !okA || !okB || !IndexesEqual(ia, ib) {
			diffs = append(diffs, fmt.Sprintf("index %s.%s differs", a.Name, name))
		}
	}

	af := make(map[string]ForeignKey, len(a.ForeignKeys))
	for _, fk := range a.ForeignKeys {
		af[fk.Name] = fk
	}
	bf := make(map[string]ForeignKey, len(b.ForeignKeys))
	for _, fk := range b.ForeignKeys {
		bf[fk.Name] = fk
	}
	for _, name := range unionKeys(af, bf) {
		fa, okA := af[name]
		fb, okB := bf[name]
		if !okA || !okB || !ForeignKeysEqual(fa, fb) {
			diffs = append(diffs, fmt.Sprintf("foreign key %s.%s differs", a.Name, name))
		}
	}

	return diffs
}

// ColumnsEqual compares the physical attributes of two columns. Names are
// compared too; callers matching renamed columns compare a copy.
func ColumnsEqual(a, b Column) bool {
	if a.Name != b.Name || a.Type != b.Type || a.Nullable != b.Nullable ||
		a.Unique != b.Unique || a.AutoIncrement != b.AutoIncrement {
		return false
	}
	if (a.Default == nil) != (b.Default == nil) {
		return false
	}
	if a.Default != nil && *a.Default != *b.Default {
		return false
	}
	if a.Type == TypeEnum && strings.Join(a.EnumValues, ",") != strings.Join(b.EnumValues, ",") {
		return false
	}
	return true
}

// IndexesEqual compares two indexes, including their names.
func IndexesEqual(a, b Index) bool {
	return a.Name == b.Name && a.Unique == b.Unique &&
		strings.Join(a.Columns, ",") == strings.Join(b.Columns, ",")
}

// ForeignKeysEqual compares two foreign keys. Missing actions count as
// NO ACTION.
func ForeignKeysEqual(a, b ForeignKey) bool {
	return a.Name == b.Name &&
		a.ReferencedTable == b.ReferencedTable &&
		strings.Join(a.Columns, ",") == strings.Join(b.Columns, ",") &&
		strings.Join(a.ReferencedColumns, ",") == strings.Join(b.ReferencedColumns, ",") &&
		actionOrDefault(a.OnDelete) == actionOrDefault(b.OnDelete) &&
		actionOrDefault(a.OnUpdate) == actionOrDefault(b.OnUpdate)
}

func actionOrDefault(a ReferentialAction) ReferentialAction {
	if a == "" {
		return NoAction
	}
	return a
}

func describeColumn(c Column) string {
	parts := []string{string(c.Type)}
	if c.Nullable {
		parts = append(parts, "NULL")
	} else {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != nil {
		parts = append(parts, "DEFAULT "+*c.Default)
	}
	if c.Unique {
		parts = append(parts, "UNIQUE")
	}
	if c.AutoIncrement {
		parts = append(parts, "AUTOINCREMENT")
	}
	return strings.Join(parts, " ")
}

func tableMap(s *Schema) map[string]Table {
	m := make(map[string]Table, len(s.Tables))
	for _, t := range s.Tables {
		m[t.Name] = t
	}
	return m
}

func unionKeys[V any](a, b map[string]V) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var keys []string
	for k := range a {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range b {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
