package schema

import (
	"errors"
	"fmt"
)

// StepKind discriminates the Migration Step variant.
type StepKind string

const (
	CreateTable      StepKind = "CreateTable"
	DropTable        StepKind = "DropTable"
	RenameTable      StepKind = "RenameTable"
	AddColumn        StepKind = "AddColumn"
	DropColumn       StepKind = "DropColumn"
	AlterColumn      StepKind = "AlterColumn"
	CreateIndex      StepKind = "CreateIndex"
	DropIndex        StepKind = "DropIndex"
	CreateForeignKey StepKind = "CreateForeignKey"
	DropForeignKey   StepKind = "DropForeignKey"
)

// Step is one atomic structural change. Which fields are set depends on Kind:
//
//	CreateTable       Definition
//	DropTable         Table
//	RenameTable       Table (old name), NewName
//	AddColumn         Table, Column
//	DropColumn        Table, Column (only the name is required)
//	AlterColumn       Table, Previous, Column
//	CreateIndex       Table, Index
//	DropIndex         Table, Index (only the name is required)
//	CreateForeignKey  Table, ForeignKey
//	DropForeignKey    Table, ForeignKey (only the name is required)
type Step struct {
	Kind       StepKind    `json:"stepType"`
	Table      string      `json:"table"`
	NewName    string      `json:"newName,omitempty"`
	Definition *Table      `json:"definition,omitempty"`
	Column     *Column     `json:"column,omitempty"`
	Previous   *Column     `json:"previous,omitempty"`
	Index      *Index      `json:"index,omitempty"`
	ForeignKey *ForeignKey `json:"foreignKey,omitempty"`
}

// ErrInvalidStep is wrapped by every Validate failure.
var ErrInvalidStep = errors.New("invalid migration step")

// Validate checks that the fields required by the step kind are present.
func (s Step) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidStep, s.Kind, fmt.Sprintf(format, args...))
	}

	if s.Kind != CreateTable && s.Table == "" {
		if s.Kind == "" {
			return fmt.Errorf("%w: missing stepType", ErrInvalidStep)
		}
		return fail("table is required")
	}

	switch s.Kind {
	case CreateTable:
		if s.Definition == nil || s.Definition.Name == "" {
			return fail("definition with a table name is required")
		}
		if len(s.Definition.Columns) == 0 {
			return fail("table %s has no columns", s.Definition.Name)
		}
		for _, c := range s.Definition.Columns {
			if err := validateColumn(c); err != nil {
				return fail("%v", err)
			}
		}
	case DropTable:
	case RenameTable:
		if s.NewName == "" {
			return fail("newName is required")
		}
	case AddColumn:
		if s.Column == nil {
			return fail("column is required")
		}
		if err := validateColumn(*s.Column); err != nil {
			return fail("%v", err)
		}
	case DropColumn:
		if s.Column == nil || s.Column.Name == "" {
			return fail("column name is required")
		}
	case AlterColumn:
		if s.Column == nil || s.Previous == nil {
			return fail("previous and column are required")
		}
		if err := validateColumn(*s.Column); err != nil {
			return fail("%v", err)
		}
	case CreateIndex:
		if s.Index == nil || s.Index.Name == "" || len(s.Index.Columns) == 0 {
			return fail("index with a name and columns is required")
		}
	case DropIndex:
		if s.Index == nil || s.Index.Name == "" {
			return fail("index name is required")
		}
	case CreateForeignKey:
		fk := s.ForeignKey
		if fk == nil || fk.Name == "" || len(fk.Columns) == 0 || fk.ReferencedTable == "" {
			return fail("foreign key with a name, columns and referenced table is required")
		}
		if len(fk.Columns) != len(fk.ReferencedColumns) {
			return fail("foreign key %s references %d columns with %d columns", fk.Name, len(fk.ReferencedColumns), len(fk.Columns))
		}
	case DropForeignKey:
		if s.ForeignKey == nil || s.ForeignKey.Name == "" {
			return fail("foreign key name is required")
		}
	default:
		return fmt.Errorf("%w: unknown stepType %q", ErrInvalidStep, s.Kind)
	}
	return nil
}

func validateColumn(c Column) error {
	if c.Name == "" {
		return errors.New("column name is required")
	}
	if !c.Type.Valid() {
		return fmt.Errorf("column %s has unknown type %q", c.Name, c.Type)
	}
	if c.Type == TypeEnum && len(c.EnumValues) == 0 {
		return fmt.Errorf("enum column %s has no values", c.Name)
	}
	return nil
}

// TableName returns the name of the table the step operates on after it is
// applied. For CreateTable it is the definition's name, for RenameTable the
// new name.
func (s Step) TableName() string {
	switch s.Kind {
	case CreateTable:
		if s.Definition != nil {
			return s.Definition.Name
		}
	case RenameTable:
		return s.NewName
	}
	return s.Table
}

// ObjectName returns the name of the column, index or foreign key the step
// targets, or "" for table-level steps.
func (s Step) ObjectName() string {
	switch {
	case s.Column != nil:
		return s.Column.Name
	case s.Index != nil:
		return s.Index.Name
	case s.ForeignKey != nil:
		return s.ForeignKey.Name
	}
	return ""
}

// String renders a short human-readable description, used in logs and
// warnings.
func (s Step) String() string {
	switch s.Kind {
	case CreateTable:
		return fmt.Sprintf("CreateTable(%s)", s.TableName())
	case RenameTable:
		return fmt.Sprintf("RenameTable(%s -> %s)", s.Table, s.NewName)
	case DropTable:
		return fmt.Sprintf("DropTable(%s)", s.Table)
	case AlterColumn:
		if s.Previous != nil && s.Column != nil && s.Previous.Name != s.Column.Name {
			return fmt.Sprintf("AlterColumn(%s.%s -> %s)", s.Table, s.Previous.Name, s.Column.Name)
		}
	}
	return fmt.Sprintf("%s(%s.%s)", s.Kind, s.Table, s.ObjectName())
}
