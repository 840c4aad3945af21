package migrate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/migrationengine/internal/db"
	"github.com/tordrt/migrationengine/internal/schema"
)

func openSQLite(t *testing.T) db.Connector {
	t.Helper()
	conn, err := db.Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHistoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	h := NewHistoryStore(openSQLite(t))

	exists, err := h.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	recs, err := h.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs, "missing table lists no records")

	require.NoError(t, h.Init(ctx))
	require.NoError(t, h.Init(ctx), "Init is idempotent")

	started := time.Date(2024, 3, 1, 12, 30, 45, 123_000_000, time.UTC)
	rec := &Record{
		ID:           "20240301_init",
		Kind:         KindApply,
		Status:       StatusPending,
		Steps:        []schema.Step{{Kind: schema.DropTable, Table: "Old"}},
		SchemaBefore: blogSchema(),
		StartedAt:    started,
	}
	require.NoError(t, h.Create(ctx, rec))

	got, err := h.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, started, got.StartedAt)
	assert.Nil(t, got.FinishedAt)
	assert.Nil(t, got.SchemaAfter)
	assert.Nil(t, got.Error)
	assert.Nil(t, got.FailedStep)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, schema.DropTable, got.Steps[0].Kind)
	assert.Empty(t, schema.Differences(got.SchemaBefore, blogSchema()))

	unfinished, err := h.Unfinished(ctx)
	require.NoError(t, err)
	assert.Len(t, unfinished, 1)

	finished := started.Add(time.Second)
	step := 0
	msg := "boom"
	got.Status = StatusFailed
	got.FailedStep = &step
	got.Error = &msg
	got.Partial = true
	got.FinishedAt = &finished
	require.NoError(t, h.Update(ctx, got))

	got, err = h.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.FailedStep)
	assert.Equal(t, 0, *got.FailedStep)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", *got.Error)
	assert.True(t, got.Partial)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, finished, *got.FinishedAt)

	unfinished, err = h.Unfinished(ctx)
	require.NoError(t, err)
	assert.Empty(t, unfinished)

	_, err = h.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, h.Reset(ctx))
	recs, err = h.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestHistoryStoreOrderAndLastSuccessful(t *testing.T) {
	ctx := context.Background()
	h := NewHistoryStore(openSQLite(t))
	require.NoError(t, h.Init(ctx))

	// Identical timestamps keep insertion order.
	now := time.Now().UTC().Truncate(time.Millisecond)
	for _, r := range []Record{
		{ID: "b", Kind: KindApply, Status: StatusSuccess},
		{ID: "a", Kind: KindApply, Status: StatusSuccess},
		{ID: "c", Kind: KindApply, Status: StatusFailed},
	} {
		r.StartedAt = now
		require.NoError(t, h.Create(ctx, &r))
	}

	recs, err := h.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{recs[0].ID, recs[1].ID, recs[2].ID})

	last, err := h.LastSuccessful(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "a", last.ID)

	require.NoError(t, h.Create(ctx, &Record{
		ID: "a-unapply-1", Kind: KindUnapply, Reverts: "a", Status: StatusRolledBack, StartedAt: now,
	}))
	last, err = h.LastSuccessful(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "b", last.ID)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusRolledBack.Terminal())
}
