// Package schema holds the backend-agnostic Schema Model shared by the
// inspector, the step inferrer and the per-backend DDL renderers.
package schema

import (
	"sort"
	"strings"
)

// MigrationTable is the reserved history table. It is never part of a
// Schema returned to callers.
const MigrationTable = "_Migration"

// Schema represents a complete database schema
type Schema struct {
	Tables []Table `json:"tables"`
}

// Table represents a database table
type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primaryKey,omitempty"`
	Indexes     []Index      `json:"indexes,omitempty"`
	ForeignKeys []ForeignKey `json:"foreignKeys,omitempty"`

	// RenamedFrom is an explicit directive from the data model naming the
	// physical table this one used to be. Introspection never sets it.
	RenamedFrom string `json:"renamedFrom,omitempty"`
}

// Column represents a table column
type Column struct {
	Name          string     `json:"name"`
	Type          ColumnType `json:"type"`
	Nullable      bool       `json:"nullable"`
	Default       *string    `json:"default,omitempty"`
	Unique        bool       `json:"unique,omitempty"`
	AutoIncrement bool       `json:"autoIncrement,omitempty"`
	EnumValues    []string   `json:"enumValues,omitempty"`

	// EnumName is the data-model name of the enum, kept for rendering only.
	EnumName string `json:"enumName,omitempty"`

	// RenamedFrom is the explicit rename directive, see Table.RenamedFrom.
	RenamedFrom string `json:"renamedFrom,omitempty"`
}

// ColumnType is the logical, backend-independent column type.
type ColumnType string

const (
	TypeInt      ColumnType = "Int"
	TypeBigInt   ColumnType = "BigInt"
	TypeFloat    ColumnType = "Float"
	TypeDecimal  ColumnType = "Decimal"
	TypeBoolean  ColumnType = "Boolean"
	TypeString   ColumnType = "String"
	TypeDateTime ColumnType = "DateTime"
	TypeJSON     ColumnType = "Json"
	TypeBytes    ColumnType = "Bytes"
	TypeEnum     ColumnType = "Enum"
)

// ColumnTypes lists every logical type in a stable order.
var ColumnTypes = []ColumnType{
	TypeInt, TypeBigInt, TypeFloat, TypeDecimal, TypeBoolean,
	TypeString, TypeDateTime, TypeJSON, TypeBytes, TypeEnum,
}

// Valid reports whether t is one of the logical types.
func (t ColumnType) Valid() bool {
	for _, ct := range ColumnTypes {
		if ct == t {
			return true
		}
	}
	return false
}

// Index represents a database index
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
}

// ReferentialAction is the ON DELETE / ON UPDATE behavior of a foreign key.
type ReferentialAction string

const (
	NoAction   ReferentialAction = "NO ACTION"
	Restrict   ReferentialAction = "RESTRICT"
	Cascade    ReferentialAction = "CASCADE"
	SetNull    ReferentialAction = "SET NULL"
	SetDefault ReferentialAction = "SET DEFAULT"
)

// NormalizeAction maps catalog spellings (e.g. "a", "NO_ACTION", "") onto the
// canonical actions. Unknown values fall back to NoAction.
func NormalizeAction(s string) ReferentialAction {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "_", " ")) {
	case "RESTRICT", "R":
		return Restrict
	case "CASCADE", "C":
		return Cascade
	case "SET NULL", "SETNULL", "N":
		return SetNull
	case "SET DEFAULT", "SETDEFAULT", "D":
		return SetDefault
	default:
		return NoAction
	}
}

// ForeignKey represents a foreign key constraint
type ForeignKey struct {
	Name              string            `json:"name"`
	Columns           []string          `json:"columns"`
	ReferencedTable   string            `json:"referencedTable"`
	ReferencedColumns []string          `json:"referencedColumns"`
	OnDelete          ReferentialAction `json:"onDelete,omitempty"`
	OnUpdate          ReferentialAction `json:"onUpdate,omitempty"`
}

// Table returns the table with the given name, or nil.
func (s *Schema) Table(name string) *Table {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// HasTable reports whether a table with the given name exists.
func (s *Schema) HasTable(name string) bool {
	return s.Table(name) != nil
}

// Column returns the column with the given name, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// Index returns the index with the given name, or nil.
func (t *Table) Index(name string) *Index {
	for i := range t.Indexes {
		if t.Indexes[i].Name == name {
			return &t.Indexes[i]
		}
	}
	return nil
}

// ForeignKey returns the foreign key with the given name, or nil.
func (t *Table) ForeignKey(name string) *ForeignKey {
	for i := range t.ForeignKeys {
		if t.ForeignKeys[i].Name == name {
			return &t.ForeignKeys[i]
		}
	}
	return nil
}

// IsPrimaryKey reports whether column is part of the table's primary key.
func (t *Table) IsPrimaryKey(column string) bool {
	for _, pk := range t.PrimaryKey {
		if pk == column {
			return true
		}
	}
	return false
}

// UniqueIndexName is the conventional name of the index backing a unique
// column.
func UniqueIndexName(table, column string) string {
	return UniqueName(table, []string{column})
}

// UniqueName is the conventional name of a unique index.
func UniqueName(table string, columns []string) string {
	return table + "_" + strings.Join(columns, "_") + "_key"
}

// IndexName is the conventional name of a non-unique index.
func IndexName(table string, columns []string) string {
	return table + "_" + strings.Join(columns, "_") + "_idx"
}

// ForeignKeyName is the conventional name of a foreign key constraint.
func ForeignKeyName(table string, columns []string) string {
	return table + "_" + strings.Join(columns, "_") + "_fkey"
}

// Without returns a copy of s with the named tables removed.
func (s *Schema) Without(names ...string) *Schema {
	exclude := make(map[string]bool, len(names))
	for _, n := range names {
		exclude[n] = true
	}

	out := &Schema{Tables: make([]Table, 0, len(s.Tables))}
	for _, t := range s.Tables {
		if !exclude[t.Name] {
			out.Tables = append(out.Tables, t.Clone())
		}
	}
	return out
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return &Schema{}
	}
	out := &Schema{Tables: make([]Table, len(s.Tables))}
	for i, t := range s.Tables {
		out.Tables[i] = t.Clone()
	}
	return out
}

// Clone returns a deep copy of the table.
func (t Table) Clone() Table {
	out := t
	out.Columns = make([]Column, len(t.Columns))
	for i, c := range t.Columns {
		out.Columns[i] = c.Clone()
	}
	out.PrimaryKey = cloneStrings(t.PrimaryKey)
	out.Indexes = make([]Index, len(t.Indexes))
	for i, idx := range t.Indexes {
		out.Indexes[i] = Index{Name: idx.Name, Columns: cloneStrings(idx.Columns), Unique: idx.Unique}
	}
	out.ForeignKeys = make([]ForeignKey, len(t.ForeignKeys))
	for i, fk := range t.ForeignKeys {
		out.ForeignKeys[i] = fk.Clone()
	}
	return out
}

// Clone returns a deep copy of the column.
func (c Column) Clone() Column {
	out := c
	if c.Default != nil {
		d := *c.Default
		out.Default = &d
	}
	out.EnumValues = cloneStrings(c.EnumValues)
	return out
}

// Clone returns a deep copy of the foreign key.
func (fk ForeignKey) Clone() ForeignKey {
	out := fk
	out.Columns = cloneStrings(fk.Columns)
	out.ReferencedColumns = cloneStrings(fk.ReferencedColumns)
	return out
}

// Sort orders tables by name and each table's indexes and foreign keys by
// name. Column order is physical and is preserved.
func (s *Schema) Sort() {
	sort.SliceStable(s.Tables, func(i, j int) bool { return s.Tables[i].Name < s.Tables[j].Name })
	for i := range s.Tables {
		t := &s.Tables[i]
		sort.SliceStable(t.Indexes, func(a, b int) bool { return t.Indexes[a].Name < t.Indexes[b].Name })
		sort.SliceStable(t.ForeignKeys, func(a, b int) bool { return t.ForeignKeys[a].Name < t.ForeignKeys[b].Name })
	}
}

// TableNames returns the table names in schema order.
func (s *Schema) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
