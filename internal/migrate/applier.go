package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tordrt/migrationengine/internal/db"
	"github.com/tordrt/migrationengine/internal/schema"
)

// Applier executes migration steps against a connector and records every
// attempt in the history store. Callers serialize Apply, Unapply and Reset
// per connector.
type Applier struct {
	conn    db.Connector
	history *HistoryStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewApplier creates a new Applier.
func NewApplier(conn db.Connector, history *HistoryStore, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		conn:    conn,
		history: history,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Apply runs steps as migration id. Validation failures return a
// *ValidationError and write nothing. Execution failures return the record,
// marked Failed, together with an *ApplyError or *PartialApplyError.
func (a *Applier) Apply(ctx context.Context, id string, steps []schema.Step, force bool) (*Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, newValidationError(CodeInvalidSteps, "migrationId must not be empty")
	}
	if err := ValidateSteps(steps); err != nil {
		return nil, err
	}

	if err := a.history.Init(ctx); err != nil {
		return nil, err
	}
	if _, err := a.history.Get(ctx, id); err == nil {
		return nil, newValidationError(CodeDuplicateMigration, "migration %s already exists", id)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err := a.checkUnfinished(ctx, id, force); err != nil {
		return nil, err
	}

	before, err := a.conn.Inspect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect database: %w", err)
	}

	return a.run(ctx, &Record{
		ID:           id,
		Kind:         KindApply,
		Steps:        steps,
		SchemaBefore: before,
	})
}

// Unapply reverts the latest successful migration that has not been
// reverted yet, restoring the schema it started from. It returns a nil
// record when there is nothing to revert.
func (a *Applier) Unapply(ctx context.Context) (*Record, error) {
	exists, err := a.history.Exists(ctx)
	if err != nil || !exists {
		return nil, err
	}
	target, err := a.history.LastSuccessful(ctx)
	if err != nil || target == nil {
		return nil, err
	}
	if err := a.checkUnfinished(ctx, "", false); err != nil {
		return nil, err
	}

	current, err := a.conn.Inspect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect database: %w", err)
	}
	desired := target.SchemaBefore
	if desired == nil {
		desired = &schema.Schema{}
	}

	return a.run(ctx, &Record{
		ID:           fmt.Sprintf("%s-unapply-%s", target.ID, uuid.NewString()[:8]),
		Kind:         KindUnapply,
		Reverts:      target.ID,
		Steps:        Infer(current, desired).Steps,
		SchemaBefore: current,
	})
}

// ValidateSteps checks every step and collects the failures.
func ValidateSteps(steps []schema.Step) error {
	var msgs []string
	for i, s := range steps {
		if err := s.Validate(); err != nil {
			msgs = append(msgs, fmt.Sprintf("step %d: %v", i, err))
		}
	}
	if len(msgs) > 0 {
		return &ValidationError{Code: CodeInvalidSteps, Errors: msgs}
	}
	return nil
}

func (a *Applier) checkUnfinished(ctx context.Context, id string, force bool) error {
	unfinished, err := a.history.Unfinished(ctx)
	if err != nil || len(unfinished) == 0 {
		return err
	}
	if !force {
		ids := make([]string, len(unfinished))
		for i, r := range unfinished {
			ids[i] = r.ID
		}
		return newValidationError(CodeMigrationInProgress, "migration %s is still in progress", strings.Join(ids, ", "))
	}

	for i := range unfinished {
		rec := &unfinished[i]
		msg := "superseded by forced migration " + id
		finished := a.now()
		rec.Status = StatusFailed
		rec.Error = &msg
		rec.FinishedAt = &finished
		if err := a.history.Update(ctx, rec); err != nil {
			return err
		}
		a.logger.Warn("superseded unfinished migration", "migration_id", rec.ID, "forced_by", id)
	}
	return nil
}

func (a *Applier) run(ctx context.Context, rec *Record) (*Record, error) {
	logger := a.logger.With("migration_id", rec.ID, "kind", string(rec.Kind))

	rec.Status = StatusPending
	rec.StartedAt = a.now()
	if err := a.history.Create(ctx, rec); err != nil {
		return nil, err
	}

	// Render everything before executing anything.
	current := rec.SchemaBefore.Clone()
	plan := make([][]string, len(rec.Steps))
	transactional := true
	for i, step := range rec.Steps {
		stmts, err := a.conn.RenderStep(current, step)
		if err == nil {
			err = schema.ApplyStep(current, step)
		}
		if err != nil {
			return a.fail(ctx, logger, rec, &ApplyError{MigrationID: rec.ID, StepIndex: i, Err: err})
		}
		plan[i] = stmts
		transactional = transactional && a.conn.TransactionalDDL(step)
	}

	rec.Status = StatusInProgress
	if err := a.history.Update(ctx, rec); err != nil {
		return nil, err
	}
	logger.Info("applying migration", "steps", len(rec.Steps), "transactional", transactional)

	var err error
	if transactional {
		err = a.execTx(ctx, rec.ID, plan)
	} else {
		err = a.execEach(ctx, rec.ID, plan)
	}
	if err != nil {
		return a.fail(ctx, logger, rec, err)
	}

	finished := a.now()
	rec.Status = StatusSuccess
	if rec.Kind == KindUnapply {
		rec.Status = StatusRolledBack
	}
	current.Sort()
	rec.SchemaAfter = current
	rec.FinishedAt = &finished
	if err := a.history.Update(ctx, rec); err != nil {
		return nil, err
	}
	logger.Info("migration finished", "status", string(rec.Status))
	return rec, nil
}

func (a *Applier) execTx(ctx context.Context, id string, plan [][]string) error {
	tx, err := a.conn.Begin(ctx)
	if err != nil {
		return &ApplyError{MigrationID: id, Err: err}
	}
	for i, stmts := range plan {
		for _, stmt := range stmts {
			if err := tx.Exec(ctx, stmt); err != nil {
				_ = tx.Rollback(ctx)
				return &ApplyError{MigrationID: id, StepIndex: i, Statement: stmt, Err: err}
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return &ApplyError{MigrationID: id, StepIndex: max(len(plan)-1, 0), Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

func (a *Applier) execEach(ctx context.Context, id string, plan [][]string) error {
	executed := 0
	for i, stmts := range plan {
		for _, stmt := range stmts {
			if err := a.conn.Exec(ctx, stmt); err != nil {
				applyErr := ApplyError{MigrationID: id, StepIndex: i, Statement: stmt, Err: err}
				if executed > 0 {
					return &PartialApplyError{ApplyError: applyErr}
				}
				return &applyErr
			}
			executed++
		}
	}
	return nil
}

func (a *Applier) fail(ctx context.Context, logger *slog.Logger, rec *Record, err error) (*Record, error) {
	var applyErr *ApplyError
	if errors.As(err, &applyErr) {
		step := applyErr.StepIndex
		rec.FailedStep = &step
	}
	var partial *PartialApplyError
	rec.Partial = errors.As(err, &partial)

	msg := err.Error()
	finished := a.now()
	rec.Status = StatusFailed
	rec.Error = &msg
	rec.FinishedAt = &finished
	if uerr := a.history.Update(ctx, rec); uerr != nil {
		logger.Error("failed to record migration failure", "error", uerr)
	}
	logger.Error("migration failed", "error", err, "partial", rec.Partial)
	return rec, err
}
