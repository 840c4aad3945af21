package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/tordrt/migrationengine/internal/db"
	"github.com/tordrt/migrationengine/internal/schema"
)

// Status is the lifecycle state of a Record.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusSuccess    Status = "Success"
	StatusFailed     Status = "Failed"
	StatusRolledBack Status = "RolledBack"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusRolledBack
}

// Kind distinguishes forward migrations from their reversals.
type Kind string

const (
	KindApply   Kind = "apply"
	KindUnapply Kind = "unapply"
)

// Record is one row of the history table.
type Record struct {
	ID      string
	Kind    Kind
	Reverts string
	Status  Status
	Steps   []schema.Step
	// SchemaBefore is the introspected schema the migration started from.
	SchemaBefore *schema.Schema
	// SchemaAfter is the schema once every step is applied. It is nil until
	// the migration succeeds.
	SchemaAfter *schema.Schema
	FailedStep  *int
	Error       *string
	Partial     bool
	StartedAt   time.Time
	FinishedAt  *time.Time

	// seq orders records by insertion; timestamps can tie.
	seq int64
}

const timestampLayout = "2006-01-02T15:04:05.000Z"

// HistoryStore persists Records in the reserved history table of the target
// database.
type HistoryStore struct {
	conn db.Connector
}

// NewHistoryStore creates a store on conn.
func NewHistoryStore(conn db.Connector) *HistoryStore {
	return &HistoryStore{conn: conn}
}

type historyColumn struct {
	name                    string
	sqlite, postgres, mysql string
}

var historyColumns = []historyColumn{
	{"id", "TEXT NOT NULL PRIMARY KEY", "varchar(191) NOT NULL PRIMARY KEY", "varchar(191) NOT NULL PRIMARY KEY"},
	{"seq", "INTEGER NOT NULL", "bigint NOT NULL", "bigint NOT NULL"},
	{"kind", "TEXT NOT NULL", "varchar(16) NOT NULL", "varchar(16) NOT NULL"},
	{"reverts", "TEXT NOT NULL", "varchar(191) NOT NULL", "varchar(191) NOT NULL"},
	{"status", "TEXT NOT NULL", "varchar(16) NOT NULL", "varchar(16) NOT NULL"},
	{"steps", "TEXT NOT NULL", "text NOT NULL", "longtext NOT NULL"},
	{"schema_before", "TEXT NOT NULL", "text NOT NULL", "longtext NOT NULL"},
	{"schema_after", "TEXT", "text", "longtext"},
	{"failed_step", "INTEGER", "integer", "int"},
	{"error_message", "TEXT", "text", "text"},
	{"partial", "INTEGER NOT NULL", "integer NOT NULL", "int NOT NULL"},
	{"started_at", "TEXT NOT NULL", "varchar(32) NOT NULL", "varchar(32) NOT NULL"},
	{"finished_at", "TEXT", "varchar(32)", "varchar(32)"},
}

func (h *HistoryStore) table() string {
	return h.conn.QuoteTable(schema.MigrationTable)
}

func (h *HistoryStore) createStatement() string {
	defs := make([]string, len(historyColumns))
	for i, c := range historyColumns {
		typ := c.sqlite
		switch h.conn.Type() {
		case db.Postgres:
			typ = c.postgres
		case db.MySQL:
			typ = c.mysql
		}
		defs[i] = c.name + " " + typ
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", h.table(), strings.Join(defs, ",\n    "))
}

// Init creates the history table if it does not exist.
func (h *HistoryStore) Init(ctx context.Context) error {
	if h.conn.Type() == db.Postgres {
		if err := h.conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(h.conn.SchemaName())); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	if err := h.conn.Exec(ctx, h.createStatement()); err != nil {
		return fmt.Errorf("failed to create history table: %w", err)
	}
	return nil
}

// Exists reports whether the history table exists.
func (h *HistoryStore) Exists(ctx context.Context) (bool, error) {
	var rows *db.RowSet
	var err error
	switch h.conn.Type() {
	case db.SQLite:
		rows, err = h.conn.Query(ctx, `SELECT count(*) AS n FROM sqlite_master WHERE type = 'table' AND name = ?`, schema.MigrationTable)
	case db.Postgres:
		rows, err = h.conn.Query(ctx, `SELECT count(*) AS n FROM information_schema.tables WHERE table_schema::text = $1 AND table_name::text = $2`,
			h.conn.SchemaName(), schema.MigrationTable)
	default:
		rows, err = h.conn.Query(ctx, `SELECT count(*) AS n FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
			h.conn.SchemaName(), schema.MigrationTable)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check history table: %w", err)
	}
	n, _ := rows.Int64(0, "n")
	return n > 0, nil
}

// Reset drops and recreates the history table, removing every record.
func (h *HistoryStore) Reset(ctx context.Context) error {
	if err := h.conn.Exec(ctx, "DROP TABLE IF EXISTS "+h.table()); err != nil {
		return fmt.Errorf("failed to drop history table: %w", err)
	}
	return h.Init(ctx)
}

func (h *HistoryStore) placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = h.conn.Placeholder(i + 1)
	}
	return strings.Join(ps, ", ")
}

// Create inserts a new record.
func (h *HistoryStore) Create(ctx context.Context, rec *Record) error {
	rows, err := h.conn.Query(ctx, "SELECT COALESCE(MAX(seq), 0) AS n FROM "+h.table())
	if err != nil {
		return fmt.Errorf("failed to read migration history: %w", err)
	}
	last, _ := rows.Int64(0, "n")
	rec.seq = last + 1

	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	names := make([]string, len(historyColumns))
	for i, c := range historyColumns {
		names[i] = c.name
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", h.table(), strings.Join(names, ", "), h.placeholders(len(names)))
	if err := h.conn.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to insert migration %s: %w", rec.ID, err)
	}
	return nil
}

// Update writes every mutable field of rec.
func (h *HistoryStore) Update(ctx context.Context, rec *Record) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	sets := make([]string, 0, len(historyColumns)-1)
	for i, c := range historyColumns[1:] {
		sets = append(sets, fmt.Sprintf("%s = %s", c.name, h.conn.Placeholder(i+1)))
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s", h.table(), strings.Join(sets, ", "), h.conn.Placeholder(len(historyColumns)))
	if err := h.conn.Exec(ctx, stmt, append(args[1:], args[0])...); err != nil {
		return fmt.Errorf("failed to update migration %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the record with the given id, or ErrNotFound. A missing
// history table holds no records.
func (h *HistoryStore) Get(ctx context.Context, id string) (*Record, error) {
	exists, err := h.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	recs, err := h.query(ctx, "WHERE id = "+h.conn.Placeholder(1), id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &recs[0], nil
}

// List returns every record in insertion order. A missing history table
// yields no records.
func (h *HistoryStore) List(ctx context.Context) ([]Record, error) {
	exists, err := h.Exists(ctx)
	if err != nil || !exists {
		return nil, err
	}
	return h.query(ctx, "")
}

// Unfinished returns the records still Pending or InProgress.
func (h *HistoryStore) Unfinished(ctx context.Context) ([]Record, error) {
	return h.query(ctx, fmt.Sprintf("WHERE status IN (%s)", h.placeholders(2)), string(StatusPending), string(StatusInProgress))
}

// LastSuccessful returns the latest successful apply record that no
// unapply record has rolled back, or nil.
func (h *HistoryStore) LastSuccessful(ctx context.Context) (*Record, error) {
	recs, err := h.List(ctx)
	if err != nil {
		return nil, err
	}
	reverted := map[string]bool{}
	for _, r := range recs {
		if r.Kind == KindUnapply && r.Status == StatusRolledBack {
			reverted[r.Reverts] = true
		}
	}
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		if r.Kind == KindApply && r.Status == StatusSuccess && !reverted[r.ID] {
			return &r, nil
		}
	}
	return nil, nil
}

func (h *HistoryStore) query(ctx context.Context, where string, args ...any) ([]Record, error) {
	names := make([]string, len(historyColumns))
	for i, c := range historyColumns {
		names[i] = c.name
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s %s ORDER BY seq", strings.Join(names, ", "), h.table(), where)
	rows, err := h.conn.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration history: %w", err)
	}

	recs := make([]Record, 0, rows.Len())
	for i := 0; i < rows.Len(); i++ {
		rec, err := scanRecord(rows, i)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, nil
}

func recordArgs(rec *Record) ([]any, error) {
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode steps: %w", err)
	}
	before, err := json.Marshal(rec.SchemaBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}
	var after any
	if rec.SchemaAfter != nil {
		b, err := json.Marshal(rec.SchemaAfter)
		if err != nil {
			return nil, fmt.Errorf("failed to encode schema: %w", err)
		}
		after = string(b)
	}
	var failedStep any
	if rec.FailedStep != nil {
		failedStep = int64(*rec.FailedStep)
	}
	var errText any
	if rec.Error != nil {
		errText = *rec.Error
	}
	var finished any
	if rec.FinishedAt != nil {
		finished = rec.FinishedAt.UTC().Format(timestampLayout)
	}
	partial := int64(0)
	if rec.Partial {
		partial = 1
	}

	return []any{
		rec.ID,
		rec.seq,
		string(rec.Kind),
		rec.Reverts,
		string(rec.Status),
		string(steps),
		string(before),
		after,
		failedStep,
		errText,
		partial,
		rec.StartedAt.UTC().Format(timestampLayout),
		finished,
	}, nil
}

func scanRecord(rows *db.RowSet, i int) (*Record, error) {
	rec := &Record{
		ID:      rows.String(i, "id"),
		Kind:    Kind(rows.String(i, "kind")),
		Reverts: rows.String(i, "reverts"),
		Status:  Status(rows.String(i, "status")),
		Partial: rows.Bool(i, "partial"),
	}
	rec.seq, _ = rows.Int64(i, "seq")

	if err := json.Unmarshal([]byte(rows.String(i, "steps")), &rec.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps of migration %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(rows.String(i, "schema_before")), &rec.SchemaBefore); err != nil {
		return nil, fmt.Errorf("failed to decode schema of migration %s: %w", rec.ID, err)
	}
	if after, ok := rows.NullString(i, "schema_after"); ok {
		if err := json.Unmarshal([]byte(after), &rec.SchemaAfter); err != nil {
			return nil, fmt.Errorf("failed to decode schema of migration %s: %w", rec.ID, err)
		}
	}
	if n, ok := rows.Int64(i, "failed_step"); ok {
		step := int(n)
		rec.FailedStep = &step
	}
	if e, ok := rows.NullString(i, "error_message"); ok {
		rec.Error = &e
	}

	started, err := time.Parse(timestampLayout, rows.String(i, "started_at"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse start time of migration %s: %w", rec.ID, err)
	}
	rec.StartedAt = started
	if f, ok := rows.NullString(i, "finished_at"); ok {
		finished, err := time.Parse(timestampLayout, f)
		if err != nil {
			return nil, fmt.Errorf("failed to parse finish time of migration %s: %w", rec.ID, err)
		}
		rec.FinishedAt = &finished
	}
	return rec, nil
}
