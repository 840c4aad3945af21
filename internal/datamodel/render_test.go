package datamodel

import (
	"strings"
	"testing"

	"github.com/tordrt/migrationengine/internal/schema"
)

func TestRenderRoundTrip(t *testing.T) {
	want, err := Parse(blogModel)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	text := Render(want)
	got, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(Render()) error: %v\n%s", err, text)
	}
	if diffs := schema.Differences(got, want); len(diffs) > 0 {
		t.Errorf("round trip differs: %v\n%s", diffs, text)
	}
	if got.Table("Blog").RenamedFrom != "Blogs" || got.Table("Blog").Column("body").RenamedFrom != "content" {
		t.Errorf("rename directives lost:\n%s", text)
	}
	if Render(got) != text {
		t.Errorf("Render() is not stable:\n%s\n---\n%s", text, Render(got))
	}
}

func TestRenderIntrospectedSchema(t *testing.T) {
	s := &schema.Schema{Tables: []schema.Table{
		{
			Name: "Order",
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeBigInt, AutoIncrement: true},
				{Name: "status", Type: schema.TypeEnum, EnumValues: []string{"NEW", "PAID"}, Default: strPtr("'NEW'")},
				{Name: "note", Type: schema.TypeString, Nullable: true, Default: strPtr("'it''s \"fine\"'")},
				{Name: "total", Type: schema.TypeDecimal, Default: strPtr("0.00")},
				{Name: "placedAt", Type: schema.TypeDateTime, Default: strPtr("CURRENT_TIMESTAMP")},
				{Name: "code", Type: schema.TypeString, Default: strPtr("(lower('X'))")},
				{Name: "customerId", Type: schema.TypeInt},
				{Name: "regionId", Type: schema.TypeInt},
			},
			PrimaryKey: []string{"id"},
			Indexes: []schema.Index{
				{Name: "Order_customerId_regionId_idx", Columns: []string{"customerId", "regionId"}},
				{Name: "custom_name", Columns: []string{"placedAt"}},
			},
			ForeignKeys: []schema.ForeignKey{
				{Name: "Order_customerId_regionId_fkey", Columns: []string{"customerId", "regionId"}, ReferencedTable: "Customer", ReferencedColumns: []string{"id", "regionId"}, OnUpdate: schema.Cascade},
			},
		},
		{
			Name: "Customer",
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInt},
				{Name: "regionId", Type: schema.TypeInt},
			},
			PrimaryKey: []string{"id", "regionId"},
		},
		{
			Name:    schema.MigrationTable,
			Columns: []schema.Column{{Name: "id", Type: schema.TypeString}},
		},
	}}

	text := Render(s)
	for _, fragment := range []string{
		"enum Order_status {",
		`@default(NEW)`,
		`@default("it's \"fine\"")`,
		`@default(dbgenerated("(lower('X'))"))`,
		`@default(now())`,
		`@@id([id, regionId])`,
		`@@index([placedAt], name: "custom_name")`,
		`@@relation([customerId, regionId], Customer(id, regionId), onUpdate: Cascade)`,
	} {
		if !strings.Contains(text, fragment) {
			t.Errorf("Render() missing %q:\n%s", fragment, text)
		}
	}
	if strings.Contains(text, schema.MigrationTable) {
		t.Errorf("Render() includes the history table:\n%s", text)
	}

	got, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(Render()) error: %v\n%s", err, text)
	}
	if diffs := schema.Differences(got, s); len(diffs) > 0 {
		t.Errorf("round trip differs: %v\n%s", diffs, text)
	}
}

func strPtr(s string) *string { return &s }
