package schema

import "testing"

func TestEqual(t *testing.T) {
	tests := []struct {
		name   string
		modify func(s *Schema)
		equal  bool
	}{
		{"identical", func(*Schema) {}, true},
		{"column order", func(s *Schema) {
			c := s.Tables[1].Columns
			c[0], c[2] = c[2], c[0]
		}, true},
		{"rename directive", func(s *Schema) { s.Tables[0].Columns[1].RenamedFrom = "mail" }, true},
		{"history table", func(s *Schema) {
			s.Tables = append(s.Tables, Table{Name: MigrationTable, Columns: []Column{{Name: "id", Type: TypeString}}})
		}, true},
		{"explicit no action", func(s *Schema) { s.Tables[1].ForeignKeys[0].OnDelete = NoAction }, true},
		{"nullability", func(s *Schema) { s.Tables[0].Columns[1].Nullable = true }, false},
		{"default", func(s *Schema) { s.Tables[1].Columns[2].Default = nil }, false},
		{"type", func(s *Schema) { s.Tables[1].Columns[1].Type = TypeBigInt }, false},
		{"index columns", func(s *Schema) { s.Tables[1].Indexes[0].Columns = []string{"id"} }, false},
		{"foreign key action", func(s *Schema) { s.Tables[1].ForeignKeys[0].OnDelete = Cascade }, false},
		{"extra table", func(s *Schema) { s.Tables = append(s.Tables, Table{Name: "Tag"}) }, false},
		{"primary key", func(s *Schema) { s.Tables[0].PrimaryKey = nil }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testSchema()
			tt.modify(b)
			if got := Equal(testSchema(), b); got != tt.equal {
				t.Errorf("Equal() = %v, want %v (differences: %v)", got, tt.equal, Differences(testSchema(), b))
			}
		})
	}
}

func TestColumnsEqualEnum(t *testing.T) {
	a := Column{Name: "role", Type: TypeEnum, EnumValues: []string{"USER", "ADMIN"}, EnumName: "Role"}
	b := a.Clone()
	b.EnumName = "UserRole"
	if !ColumnsEqual(a, b) {
		t.Error("enum names should be ignored")
	}
	b.EnumValues = append(b.EnumValues, "GUEST")
	if ColumnsEqual(a, b) {
		t.Error("enum values should be compared")
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := testSchema()
	c := s.Clone()
	c.Tables[1].Columns[2].Default = strPtr("'x'")
	c.Tables[1].Indexes[0].Columns[0] = "x"
	c.Tables[1].ForeignKeys[0].Columns[0] = "x"

	if !Equal(s, testSchema()) {
		t.Errorf("Clone() shares state: %v", Differences(s, testSchema()))
	}
}
