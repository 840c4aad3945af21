package schema

import (
	"encoding/json"
	"errors"
	"testing"
)

func strPtr(s string) *string { return &s }

func testSchema() *Schema {
	return &Schema{Tables: []Table{
		{
			Name: "User",
			Columns: []Column{
				{Name: "id", Type: TypeInt, AutoIncrement: true},
				{Name: "email", Type: TypeString, Unique: true},
			},
			PrimaryKey: []string{"id"},
		},
		{
			Name: "Post",
			Columns: []Column{
				{Name: "id", Type: TypeInt},
				{Name: "authorId", Type: TypeInt},
				{Name: "title", Type: TypeString, Default: strPtr("'untitled'")},
			},
			PrimaryKey: []string{"id"},
			Indexes:    []Index{{Name: "Post_authorId_idx", Columns: []string{"authorId"}}},
			ForeignKeys: []ForeignKey{{
				Name:              "Post_authorId_fkey",
				Columns:           []string{"authorId"},
				ReferencedTable:   "User",
				ReferencedColumns: []string{"id"},
			}},
		},
	}}
}

func TestApplyDoesNotModifyInput(t *testing.T) {
	s := testSchema()
	_, err := Apply(s, []Step{{Kind: DropTable, Table: "Post"}})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if !s.HasTable("Post") {
		t.Error("Apply() modified its input")
	}
}

func TestApplyStep(t *testing.T) {
	tests := []struct {
		name  string
		step  Step
		check func(t *testing.T, s *Schema)
	}{
		{
			name: "create table sorts tables",
			step: Step{Kind: CreateTable, Definition: &Table{
				Name:        "Comment",
				Columns:     []Column{{Name: "id", Type: TypeInt, RenamedFrom: "x"}},
				RenamedFrom: "Comments",
			}},
			check: func(t *testing.T, s *Schema) {
				if got := s.TableNames(); got[0] != "Comment" {
					t.Errorf("tables = %v, want Comment first", got)
				}
				c := s.Table("Comment")
				if c.RenamedFrom != "" || c.Columns[0].RenamedFrom != "" {
					t.Error("rename directives should not survive application")
				}
			},
		},
		{
			name: "rename table updates references",
			step: Step{Kind: RenameTable, Table: "User", NewName: "Account"},
			check: func(t *testing.T, s *Schema) {
				if s.HasTable("User") || !s.HasTable("Account") {
					t.Errorf("tables = %v", s.TableNames())
				}
				if fk := s.Table("Post").ForeignKey("Post_authorId_fkey"); fk.ReferencedTable != "Account" {
					t.Errorf("ReferencedTable = %s, want Account", fk.ReferencedTable)
				}
			},
		},
		{
			name: "drop column removes covering index and foreign key",
			step: Step{Kind: DropColumn, Table: "Post", Column: &Column{Name: "authorId"}},
			check: func(t *testing.T, s *Schema) {
				post := s.Table("Post")
				if post.Column("authorId") != nil {
					t.Error("column not dropped")
				}
				if len(post.Indexes) != 0 || len(post.ForeignKeys) != 0 {
					t.Errorf("indexes = %v, foreign keys = %v", post.Indexes, post.ForeignKeys)
				}
			},
		},
		{
			name: "alter column renames references",
			step: Step{
				Kind:     AlterColumn,
				Table:    "User",
				Previous: &Column{Name: "id", Type: TypeInt, AutoIncrement: true},
				Column:   &Column{Name: "userId", Type: TypeInt, AutoIncrement: true},
			},
			check: func(t *testing.T, s *Schema) {
				if pk := s.Table("User").PrimaryKey; pk[0] != "userId" {
					t.Errorf("PrimaryKey = %v", pk)
				}
				if fk := s.Table("Post").ForeignKey("Post_authorId_fkey"); fk.ReferencedColumns[0] != "userId" {
					t.Errorf("ReferencedColumns = %v", fk.ReferencedColumns)
				}
			},
		},
		{
			name: "drop foreign key",
			step: Step{Kind: DropForeignKey, Table: "Post", ForeignKey: &ForeignKey{Name: "Post_authorId_fkey"}},
			check: func(t *testing.T, s *Schema) {
				if len(s.Table("Post").ForeignKeys) != 0 {
					t.Error("foreign key not dropped")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSchema()
			if err := ApplyStep(s, tt.step); err != nil {
				t.Fatalf("ApplyStep() error: %v", err)
			}
			tt.check(t, s)
		})
	}
}

func TestApplyStepErrors(t *testing.T) {
	tests := []struct {
		name string
		step Step
		want error
	}{
		{"unknown table", Step{Kind: DropTable, Table: "Nope"}, ErrUnknownObject},
		{"duplicate table", Step{Kind: CreateTable, Definition: &Table{Name: "User", Columns: []Column{{Name: "id", Type: TypeInt}}}}, ErrDuplicateObject},
		{"duplicate column", Step{Kind: AddColumn, Table: "User", Column: &Column{Name: "email", Type: TypeString}}, ErrDuplicateObject},
		{"index on missing column", Step{Kind: CreateIndex, Table: "User", Index: &Index{Name: "i", Columns: []string{"nope"}}}, ErrUnknownObject},
		{"foreign key to missing table", Step{Kind: CreateForeignKey, Table: "Post", ForeignKey: &ForeignKey{
			Name: "f", Columns: []string{"authorId"}, ReferencedTable: "Nope", ReferencedColumns: []string{"id"},
		}}, ErrUnknownObject},
		{"invalid step", Step{Kind: "Explode", Table: "User"}, ErrInvalidStep},
		{"enum without values", Step{Kind: AddColumn, Table: "User", Column: &Column{Name: "role", Type: TypeEnum}}, ErrInvalidStep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ApplyStep(testSchema(), tt.step)
			if !errors.Is(err, tt.want) {
				t.Errorf("ApplyStep() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStepJSON(t *testing.T) {
	raw := `{"stepType":"AddColumn","table":"User","column":{"name":"age","type":"Int","nullable":true}}`

	var step Step
	if err := json.Unmarshal([]byte(raw), &step); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if step.Kind != AddColumn || step.Column == nil || step.Column.Type != TypeInt {
		t.Errorf("decoded %+v", step)
	}
	if err := step.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
	if got := step.String(); got != "AddColumn(User.age)" {
		t.Errorf("String() = %q", got)
	}
}

func TestNormalizeAction(t *testing.T) {
	tests := map[string]ReferentialAction{
		"":            NoAction,
		"a":           NoAction,
		"NO_ACTION":   NoAction,
		"c":           Cascade,
		"cascade":     Cascade,
		"SET NULL":    SetNull,
		"n":           SetNull,
		"SET_DEFAULT": SetDefault,
		"r":           Restrict,
	}
	for in, want := range tests {
		if got := NormalizeAction(in); got != want {
			t.Errorf("NormalizeAction(%q) = %q, want %q", in, got, want)
		}
	}
}
