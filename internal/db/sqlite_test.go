package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tordrt/migrationengine/internal/schema"
)

func openTestSQLite(t *testing.T) *SQLiteConnector {
	t.Helper()

	target, err := ParseURL("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("ParseURL() error: %v", err)
	}
	c, err := NewSQLiteConnector(context.Background(), target)
	if err != nil {
		t.Fatalf("NewSQLiteConnector() error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// applySteps renders and executes steps one by one, threading the schema.
func applySteps(t *testing.T, c Connector, steps ...schema.Step) *schema.Schema {
	t.Helper()
	ctx := context.Background()

	current, err := c.Inspect(ctx)
	if err != nil {
		t.Fatalf("Inspect() error: %v", err)
	}
	for _, step := range steps {
		stmts, err := c.RenderStep(current, step)
		if err != nil {
			t.Fatalf("RenderStep(%s) error: %v", step, err)
		}
		for _, stmt := range stmts {
			if err := c.Exec(ctx, stmt); err != nil {
				t.Fatalf("Exec(%q) error: %v", stmt, err)
			}
		}
		if err := schema.ApplyStep(current, step); err != nil {
			t.Fatalf("ApplyStep(%s) error: %v", step, err)
		}
	}
	return current
}

func blogAndPost() []schema.Step {
	post := &schema.Table{
		Name: "Post",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInt, AutoIncrement: true},
			{Name: "blogId", Type: schema.TypeInt},
			{Name: "body", Type: schema.TypeString, Nullable: true},
			{Name: "rating", Type: schema.TypeFloat, Nullable: true},
			{Name: "price", Type: schema.TypeDecimal, Nullable: true},
			{Name: "big", Type: schema.TypeBigInt, Nullable: true},
			{Name: "published", Type: schema.TypeBoolean, Default: strPtr("false")},
			{Name: "createdAt", Type: schema.TypeDateTime, Default: strPtr("CURRENT_TIMESTAMP")},
			{Name: "payload", Type: schema.TypeBytes, Nullable: true},
		},
		PrimaryKey: []string{"id"},
		Indexes:    []schema.Index{{Name: "Post_blogId_createdAt_idx", Columns: []string{"blogId", "createdAt"}}},
	}
	return []schema.Step{
		{Kind: schema.CreateTable, Definition: blogTable()},
		{Kind: schema.CreateTable, Definition: post},
		{Kind: schema.CreateForeignKey, Table: "Post", ForeignKey: &schema.ForeignKey{
			Name:              "Post_blogId_fkey",
			Columns:           []string{"blogId"},
			ReferencedTable:   "Blog",
			ReferencedColumns: []string{"id"},
			OnDelete:          schema.Cascade,
		}},
	}
}

func TestSQLiteInspectAfterApply(t *testing.T) {
	c := openTestSQLite(t)
	want := applySteps(t, c, blogAndPost()...)

	got, err := c.Inspect(context.Background())
	if err != nil {
		t.Fatalf("Inspect() error: %v", err)
	}
	if diffs := schema.Differences(got, want); len(diffs) > 0 {
		t.Errorf("Inspect() differs from applied schema:\n%v", diffs)
	}

	blog := got.Table("Blog")
	if blog == nil {
		t.Fatal("Blog table not found")
	}
	if col := blog.Column("id"); col == nil || !col.AutoIncrement {
		t.Errorf("Blog.id should be autoincrement, got %+v", col)
	}
	if col := blog.Column("title"); col == nil || !col.Unique {
		t.Errorf("Blog.title should be unique, got %+v", col)
	}
	if len(blog.Indexes) != 0 {
		t.Errorf("unique column index should fold into the column, got %v", blog.Indexes)
	}
}

func TestSQLiteInspectExcludesHistoryTable(t *testing.T) {
	c := openTestSQLite(t)
	ctx := context.Background()

	if err := c.Exec(ctx, `CREATE TABLE "_Migration" (id TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	s, err := c.Inspect(ctx)
	if err != nil {
		t.Fatalf("Inspect() error: %v", err)
	}
	if len(s.Tables) != 0 {
		t.Errorf("Inspect() returned %v, want no tables", s.TableNames())
	}
}

func TestSQLiteRebuildKeepsData(t *testing.T) {
	c := openTestSQLite(t)
	ctx := context.Background()
	applySteps(t, c, blogAndPost()...)

	for _, stmt := range []string{
		`INSERT INTO "Blog" ("title") VALUES ('first')`,
		`INSERT INTO "Post" ("blogId", "body") VALUES (1, 'hello')`,
	} {
		if err := c.Exec(ctx, stmt); err != nil {
			t.Fatalf("Exec(%q) error: %v", stmt, err)
		}
	}

	prev := schema.Column{Name: "body", Type: schema.TypeString, Nullable: true}
	next := schema.Column{Name: "content", Type: schema.TypeString, Nullable: true}
	want := applySteps(t, c,
		schema.Step{Kind: schema.DropColumn, Table: "Post", Column: &schema.Column{Name: "rating"}},
		schema.Step{Kind: schema.AlterColumn, Table: "Post", Previous: &prev, Column: &next},
	)

	rows, err := c.Query(ctx, `SELECT "content", "blogId" FROM "Post"`)
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if rows.Len() != 1 || rows.String(0, "content") != "hello" {
		t.Errorf("rebuild lost data: %+v", rows.Rows)
	}

	got, err := c.Inspect(ctx)
	if err != nil {
		t.Fatalf("Inspect() error: %v", err)
	}
	if diffs := schema.Differences(got, want); len(diffs) > 0 {
		t.Errorf("Inspect() after rebuild differs:\n%v", diffs)
	}
	if fk := got.Table("Post").ForeignKey("Post_blogId_fkey"); fk == nil || fk.OnDelete != schema.Cascade {
		t.Errorf("foreign key lost in rebuild: %+v", got.Table("Post").ForeignKeys)
	}

	// Foreign keys are enforced again after the rebuild.
	if err := c.Exec(ctx, `INSERT INTO "Post" ("blogId") VALUES (99)`); err == nil {
		t.Error("expected foreign key violation after rebuild")
	}
}

func TestSQLiteReset(t *testing.T) {
	c := openTestSQLite(t)
	ctx := context.Background()
	applySteps(t, c, blogAndPost()...)

	if err := c.Reset(ctx); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	s, err := c.Inspect(ctx)
	if err != nil {
		t.Fatalf("Inspect() error: %v", err)
	}
	if len(s.Tables) != 0 {
		t.Errorf("Reset() left tables %v", s.TableNames())
	}
}
