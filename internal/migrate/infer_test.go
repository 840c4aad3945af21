package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/migrationengine/internal/schema"
)

func strPtr(s string) *string { return &s }

func blogSchema() *schema.Schema {
	return &schema.Schema{Tables: []schema.Table{
		{
			Name: "Blog",
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInt, AutoIncrement: true},
				{Name: "title", Type: schema.TypeString, Unique: true},
				{Name: "views", Type: schema.TypeInt, Default: strPtr("0")},
			},
			PrimaryKey: []string{"id"},
		},
		{
			Name: "Post",
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInt, AutoIncrement: true},
				{Name: "blogId", Type: schema.TypeInt},
				{Name: "body", Type: schema.TypeString, Nullable: true},
			},
			PrimaryKey: []string{"id"},
			Indexes:    []schema.Index{{Name: "Post_blogId_idx", Columns: []string{"blogId"}}},
			ForeignKeys: []schema.ForeignKey{{
				Name:              "Post_blogId_fkey",
				Columns:           []string{"blogId"},
				ReferencedTable:   "Blog",
				ReferencedColumns: []string{"id"},
				OnDelete:          schema.Cascade,
			}},
		},
	}}
}

func kinds(steps []schema.Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.String()
	}
	return out
}

func TestInferIdenticalSchemasYieldNoSteps(t *testing.T) {
	s := blogSchema()
	result := Infer(s, s.Clone())
	assert.Empty(t, result.Steps)
	assert.Empty(t, result.Warnings)

	empty := Infer(&schema.Schema{}, &schema.Schema{})
	assert.Empty(t, empty.Steps)
}

func TestInferIgnoresHistoryTable(t *testing.T) {
	current := blogSchema()
	current.Tables = append(current.Tables, schema.Table{
		Name:    schema.MigrationTable,
		Columns: []schema.Column{{Name: "id", Type: schema.TypeString}},
	})
	assert.Empty(t, Infer(current, blogSchema()).Steps)
}

func TestInferFromEmpty(t *testing.T) {
	result := Infer(&schema.Schema{}, blogSchema())

	assert.Equal(t, []string{
		"CreateTable(Blog)",
		"CreateTable(Post)",
		"CreateForeignKey(Post.Post_blogId_fkey)",
	}, kinds(result.Steps))

	post := result.Steps[1].Definition
	require.NotNil(t, post)
	assert.Empty(t, post.ForeignKeys, "foreign keys are emitted as separate steps")
	assert.Len(t, post.Indexes, 1)
}

func TestInferToEmpty(t *testing.T) {
	result := Infer(blogSchema(), &schema.Schema{})

	assert.Equal(t, []string{
		"DropForeignKey(Post.Post_blogId_fkey)",
		"DropTable(Blog)",
		"DropTable(Post)",
	}, kinds(result.Steps))
	assert.Len(t, result.Warnings, 2)
}

func TestInferColumnChanges(t *testing.T) {
	desired := blogSchema()
	blog := desired.Table("Blog")
	blog.Columns = []schema.Column{
		{Name: "id", Type: schema.TypeInt, AutoIncrement: true},
		{Name: "title", Type: schema.TypeString, Nullable: true},
		{Name: "subtitle", Type: schema.TypeString, Nullable: true},
	}
	blog.Indexes = []schema.Index{{Name: "Blog_subtitle_idx", Columns: []string{"subtitle"}}}

	result := Infer(blogSchema(), desired)

	assert.Equal(t, []string{
		"DropColumn(Blog.views)",
		"AddColumn(Blog.subtitle)",
		"AlterColumn(Blog.title)",
		"CreateIndex(Blog.Blog_subtitle_idx)",
	}, kinds(result.Steps))

	alter := result.Steps[2]
	require.NotNil(t, alter.Previous)
	assert.False(t, alter.Previous.Nullable)
	assert.True(t, alter.Previous.Unique)
	assert.True(t, alter.Column.Nullable)
	assert.False(t, alter.Column.Unique)
}

func TestInferNameChangeWithoutDirectiveIsDropAndAdd(t *testing.T) {
	desired := blogSchema()
	post := desired.Table("Post")
	post.Columns[2].Name = "content"

	result := Infer(blogSchema(), desired)
	assert.Equal(t, []string{"DropColumn(Post.body)", "AddColumn(Post.content)"}, kinds(result.Steps))
}

func TestInferColumnRenameDirective(t *testing.T) {
	desired := blogSchema()
	post := desired.Table("Post")
	post.Columns[1].Name = "parentId"
	post.Columns[1].RenamedFrom = "blogId"
	post.Indexes[0].Columns = []string{"parentId"}
	post.ForeignKeys[0].Columns = []string{"parentId"}

	result := Infer(blogSchema(), desired)

	// The index and foreign key follow the renamed column and are kept.
	require.Equal(t, []string{"AlterColumn(Post.blogId -> parentId)"}, kinds(result.Steps))
	rename := result.Steps[0]
	assert.Equal(t, "blogId", rename.Previous.Name)
	assert.Equal(t, "parentId", rename.Column.Name)
	assert.Empty(t, rename.Column.RenamedFrom)
}

func TestInferTableRenameDirective(t *testing.T) {
	desired := blogSchema()
	blog := desired.Table("Blog")
	blog.Name = "Weblog"
	blog.RenamedFrom = "Blog"
	desired.Table("Post").ForeignKeys[0].ReferencedTable = "Weblog"

	result := Infer(blogSchema(), desired)

	assert.Equal(t, []string{"RenameTable(Blog -> Weblog)"}, kinds(result.Steps))
}

func TestInferOrdering(t *testing.T) {
	current := blogSchema()
	desired := &schema.Schema{Tables: []schema.Table{
		current.Tables[0].Clone(),
		{
			Name: "Comment",
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInt},
				{Name: "blogId", Type: schema.TypeInt},
			},
			PrimaryKey: []string{"id"},
			ForeignKeys: []schema.ForeignKey{{
				Name:              "Comment_blogId_fkey",
				Columns:           []string{"blogId"},
				ReferencedTable:   "Blog",
				ReferencedColumns: []string{"id"},
			}},
		},
	}}
	desired.Table("Blog").Columns = append(desired.Table("Blog").Columns,
		schema.Column{Name: "ownerId", Type: schema.TypeInt, Nullable: true})
	desired.Table("Blog").Indexes = []schema.Index{{Name: "Blog_ownerId_idx", Columns: []string{"ownerId"}}}

	result := Infer(current, desired)
	assert.Equal(t, []string{
		"DropForeignKey(Post.Post_blogId_fkey)",
		"DropTable(Post)",
		"CreateTable(Comment)",
		"AddColumn(Blog.ownerId)",
		"CreateIndex(Blog.Blog_ownerId_idx)",
		"CreateForeignKey(Comment.Comment_blogId_fkey)",
	}, kinds(result.Steps))

	// Every step applies cleanly in order and reaches the desired schema.
	got, err := schema.Apply(current, result.Steps)
	require.NoError(t, err)
	assert.Empty(t, schema.Differences(got, desired))
}

func TestInferIsDeterministic(t *testing.T) {
	desired := blogSchema()
	for _, name := range []string{"Zeta", "Alpha", "Mid"} {
		desired.Tables = append(desired.Tables, schema.Table{
			Name:       name,
			Columns:    []schema.Column{{Name: "id", Type: schema.TypeInt}},
			PrimaryKey: []string{"id"},
		})
	}

	first := kinds(Infer(&schema.Schema{}, desired).Steps)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, kinds(Infer(&schema.Schema{}, desired).Steps))
	}
	assert.Equal(t, "CreateTable(Alpha)", first[0])
}

func TestInferPrimaryKeyChangeIsWarning(t *testing.T) {
	desired := blogSchema()
	desired.Table("Blog").PrimaryKey = []string{"id", "title"}

	result := Infer(blogSchema(), desired)
	assert.Empty(t, result.Steps)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "primary key of table Blog")
}

func TestWarnings(t *testing.T) {
	prev := schema.Column{Name: "views", Type: schema.TypeInt, Nullable: true}
	next := schema.Column{Name: "views", Type: schema.TypeString}

	tests := []struct {
		name string
		step schema.Step
		want int
	}{
		{"drop table", schema.Step{Kind: schema.DropTable, Table: "Blog"}, 1},
		{"drop column", schema.Step{Kind: schema.DropColumn, Table: "Blog", Column: &schema.Column{Name: "views"}}, 1},
		{"type change and required", schema.Step{Kind: schema.AlterColumn, Table: "Blog", Previous: &prev, Column: &next}, 2},
		{"required without default", schema.Step{Kind: schema.AddColumn, Table: "Blog", Column: &schema.Column{Name: "x", Type: schema.TypeInt}}, 1},
		{"required with default", schema.Step{Kind: schema.AddColumn, Table: "Blog", Column: &schema.Column{Name: "x", Type: schema.TypeInt, Default: strPtr("1")}}, 0},
		{"create index", schema.Step{Kind: schema.CreateIndex, Table: "Blog", Index: &schema.Index{Name: "i", Columns: []string{"x"}}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, Warnings([]schema.Step{tt.step}), tt.want)
		})
	}
}
