package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/migrationengine/internal/db"
	"github.com/tordrt/migrationengine/internal/schema"
)

func newTestApplier(t *testing.T) (*Applier, db.Connector) {
	t.Helper()
	conn := openSQLite(t)
	return NewApplier(conn, NewHistoryStore(conn), nil), conn
}

func inspect(t *testing.T, conn db.Connector) *schema.Schema {
	t.Helper()
	s, err := conn.Inspect(context.Background())
	require.NoError(t, err)
	return s
}

func TestApplyReachesDesiredSchema(t *testing.T) {
	ctx := context.Background()
	a, conn := newTestApplier(t)

	steps := Infer(inspect(t, conn), blogSchema()).Steps
	rec, err := a.Apply(ctx, "init", steps, false)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.NotNil(t, rec.FinishedAt)
	require.NotNil(t, rec.SchemaAfter)
	assert.Empty(t, schema.Differences(rec.SchemaAfter, blogSchema()))

	got := inspect(t, conn)
	assert.Empty(t, schema.Differences(got, blogSchema()))
	assert.Empty(t, Infer(got, blogSchema()).Steps)

	recs, err := a.history.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "init", recs[0].ID)
	assert.Empty(t, recs[0].SchemaBefore.Tables)
}

func TestApplyAddColumnThroughRebuild(t *testing.T) {
	ctx := context.Background()
	a, conn := newTestApplier(t)

	_, err := a.Apply(ctx, "init", Infer(inspect(t, conn), blogSchema()).Steps, false)
	require.NoError(t, err)
	require.NoError(t, conn.Exec(ctx, `INSERT INTO "Blog" ("title") VALUES ('hello')`))

	desired := blogSchema()
	blog := desired.Table("Blog")
	blog.Columns = append(blog.Columns, schema.Column{Name: "subtitle", Type: schema.TypeString, Unique: true, Nullable: true})
	blog.Columns[2].Type = schema.TypeBigInt

	rec, err := a.Apply(ctx, "widen", Infer(inspect(t, conn), desired).Steps, false)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.Empty(t, schema.Differences(inspect(t, conn), desired))

	rows, err := conn.Query(ctx, `SELECT "title" FROM "Blog"`)
	require.NoError(t, err)
	require.Equal(t, 1, rows.Len())
	assert.Equal(t, "hello", rows.String(0, "title"))
}

func TestApplyValidation(t *testing.T) {
	ctx := context.Background()
	a, conn := newTestApplier(t)

	tests := []struct {
		name  string
		id    string
		steps []schema.Step
		code  int
	}{
		{"empty id", "", nil, CodeInvalidSteps},
		{"unknown step", "x", []schema.Step{{Kind: "Frobnicate", Table: "Blog"}}, CodeInvalidSteps},
		{"missing field", "x", []schema.Step{{Kind: schema.AddColumn, Table: "Blog"}}, CodeInvalidSteps},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Apply(ctx, tt.id, tt.steps, false)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.code, verr.Code)
		})
	}

	exists, err := a.history.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists, "rejected requests write nothing")
	assert.Empty(t, inspect(t, conn).Tables)
}

func TestApplyDuplicateID(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApplier(t)

	_, err := a.Apply(ctx, "same", nil, false)
	require.NoError(t, err)

	_, err = a.Apply(ctx, "same", nil, false)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeDuplicateMigration, verr.Code)

	recs, err := a.history.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestApplyRollsBackTransactionalFailure(t *testing.T) {
	ctx := context.Background()
	a, conn := newTestApplier(t)

	_, err := a.Apply(ctx, "init", Infer(inspect(t, conn), blogSchema()).Steps, false)
	require.NoError(t, err)
	require.NoError(t, conn.Exec(ctx, `INSERT INTO "Blog" ("title") VALUES ('a')`))
	require.NoError(t, conn.Exec(ctx, `INSERT INTO "Blog" ("title") VALUES ('b')`))
	require.NoError(t, conn.Exec(ctx, `UPDATE "Blog" SET "views" = 1`))

	steps := []schema.Step{
		{Kind: schema.CreateIndex, Table: "Blog", Index: &schema.Index{Name: "Blog_title_idx", Columns: []string{"title"}}},
		{Kind: schema.CreateIndex, Table: "Blog", Index: &schema.Index{Name: "Blog_views_key", Columns: []string{"views"}, Unique: true}},
	}
	rec, err := a.Apply(ctx, "bad-unique", steps, false)

	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
	var partial *PartialApplyError
	assert.False(t, errors.As(err, &partial))
	assert.Equal(t, 1, applyErr.StepIndex)

	require.NotNil(t, rec)
	assert.Equal(t, StatusFailed, rec.Status)
	require.NotNil(t, rec.FailedStep)
	assert.Equal(t, 1, *rec.FailedStep)
	assert.False(t, rec.Partial)

	assert.Nil(t, inspect(t, conn).Table("Blog").Index("Blog_title_idx"), "first step rolled back")

	stored, err := a.history.Get(ctx, "bad-unique")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
}

func TestApplyPartialFailure(t *testing.T) {
	ctx := context.Background()
	a, conn := newTestApplier(t)

	_, err := a.Apply(ctx, "init", Infer(inspect(t, conn), blogSchema()).Steps, false)
	require.NoError(t, err)

	require.NoError(t, conn.Exec(ctx, `INSERT INTO "Blog" ("title") VALUES ('a')`))
	require.NoError(t, conn.Exec(ctx, `INSERT INTO "Post" ("blogId") VALUES (1)`))

	// The required column cannot be filled while copying the existing row.
	steps := []schema.Step{
		{Kind: schema.DropColumn, Table: "Blog", Column: &schema.Column{Name: "views"}},
		{Kind: schema.AddColumn, Table: "Post", Column: &schema.Column{Name: "rank", Type: schema.TypeInt}},
	}
	rec, err := a.Apply(ctx, "half", steps, false)

	var partial *PartialApplyError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 1, partial.StepIndex)
	require.NotNil(t, rec)
	assert.True(t, rec.Partial)
	assert.Equal(t, StatusFailed, rec.Status)

	assert.Nil(t, inspect(t, conn).Table("Blog").Column("views"), "first step stays applied")
}

func TestApplyInProgressAndForce(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApplier(t)

	require.NoError(t, a.history.Init(ctx))
	require.NoError(t, a.history.Create(ctx, &Record{ID: "stuck", Kind: KindApply, Status: StatusInProgress, StartedAt: a.now()}))

	_, err := a.Apply(ctx, "next", nil, false)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeMigrationInProgress, verr.Code)

	rec, err := a.Apply(ctx, "next", nil, true)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rec.Status)

	stuck, err := a.history.Get(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stuck.Status)
	require.NotNil(t, stuck.Error)
	assert.Equal(t, "superseded by forced migration next", *stuck.Error)
}

func TestUnapply(t *testing.T) {
	ctx := context.Background()
	a, conn := newTestApplier(t)

	rec, err := a.Unapply(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec, "nothing to unapply without history")

	_, err = a.Apply(ctx, "one", Infer(inspect(t, conn), blogSchema()).Steps, false)
	require.NoError(t, err)

	desired := blogSchema()
	desired.Tables = append(desired.Tables, schema.Table{
		Name:       "Tag",
		Columns:    []schema.Column{{Name: "id", Type: schema.TypeInt}},
		PrimaryKey: []string{"id"},
	})
	_, err = a.Apply(ctx, "two", Infer(inspect(t, conn), desired).Steps, false)
	require.NoError(t, err)

	rec, err = a.Unapply(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, KindUnapply, rec.Kind)
	assert.Equal(t, "two", rec.Reverts)
	assert.Equal(t, StatusRolledBack, rec.Status)
	assert.Regexp(t, `^two-unapply-[0-9a-f]{8}$`, rec.ID)
	assert.Empty(t, schema.Differences(inspect(t, conn), blogSchema()))

	rec, err = a.Unapply(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "one", rec.Reverts)
	assert.Empty(t, inspect(t, conn).Tables)

	rec, err = a.Unapply(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)

	recs, err := a.history.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 4)
}
