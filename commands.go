package migrationengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tordrt/migrationengine/internal/datamodel"
	"github.com/tordrt/migrationengine/internal/formatter"
	"github.com/tordrt/migrationengine/internal/migrate"
	"github.com/tordrt/migrationengine/internal/rpc"
	"github.com/tordrt/migrationengine/internal/schema"
)

// Step is one migration step as exchanged with callers.
type Step = schema.Step

// InferMigrationStepsInput is the input of InferMigrationSteps.
type InferMigrationStepsInput struct {
	MigrationID string `json:"migrationId"`
	Datamodel   string `json:"datamodel"`
	// AssumeToBeApplied are steps inferred earlier but not applied yet.
	AssumeToBeApplied []Step `json:"assumeToBeApplied"`
}

// InferMigrationStepsOutput is the result of InferMigrationSteps.
type InferMigrationStepsOutput struct {
	DatamodelSteps []Step   `json:"datamodelSteps"`
	Warnings       []string `json:"warnings"`
	GeneralErrors  []string `json:"generalErrors"`
}

// MigrationSummary describes one history record.
type MigrationSummary struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	StepCount  int        `json:"stepCount"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt"`
	Errors     []string   `json:"errors"`
}

// MigrationProgressInput is the input of MigrationProgress.
type MigrationProgressInput struct {
	MigrationID string `json:"migrationId"`
}

// MigrationProgressOutput is the state of one migration.
type MigrationProgressOutput struct {
	Status       string     `json:"status"`
	Steps        int        `json:"steps"`
	AppliedSteps int        `json:"appliedSteps"`
	FailedStep   *int       `json:"failedStep"`
	Errors       []string   `json:"errors"`
	Partial      bool       `json:"partial"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt"`
}

// ApplyMigrationInput is the input of ApplyMigration.
type ApplyMigrationInput struct {
	MigrationID string `json:"migrationId"`
	Steps       []Step `json:"steps"`
	// Force supersedes unfinished migrations instead of refusing to run.
	Force bool `json:"force"`
}

// ApplyMigrationOutput is the result of ApplyMigration.
type ApplyMigrationOutput struct {
	Datamodel      string   `json:"datamodel"`
	DatamodelSteps []Step   `json:"datamodelSteps"`
	Summary        string   `json:"summary"`
	Warnings       []string `json:"warnings"`
	GeneralErrors  []string `json:"generalErrors"`
}

// UnapplyMigrationOutput is the result of UnapplyMigration.
type UnapplyMigrationOutput struct {
	// RolledBack is the id of the migration reverted, "" when there was none.
	RolledBack string `json:"rolledBack"`
	// Active is the id of the latest migration still in effect.
	Active        string   `json:"active"`
	Datamodel     string   `json:"datamodel"`
	Summary       string   `json:"summary"`
	GeneralErrors []string `json:"generalErrors"`
}

// ResetOutput acknowledges a reset.
type ResetOutput struct{}

// CalculateDatamodelInput is the input of CalculateDatamodel.
type CalculateDatamodelInput struct {
	Steps []Step `json:"steps"`
}

// CalculateDatamodelOutput holds the rendered data model.
type CalculateDatamodelOutput struct {
	Datamodel string `json:"datamodel"`
}

// CalculateDatabaseStepsInput is the input of CalculateDatabaseSteps. The
// steps previewed are StepsToApply when set, else those inferred from
// Datamodel, else those of the recorded migration MigrationID.
type CalculateDatabaseStepsInput struct {
	MigrationID       string  `json:"migrationId"`
	Datamodel         *string `json:"datamodel,omitempty"`
	AssumeToBeApplied []Step  `json:"assumeToBeApplied"`
	StepsToApply      []Step  `json:"stepsToApply,omitempty"`
}

// DatabaseStep is one step with the statements it renders to.
type DatabaseStep struct {
	Step          Step     `json:"step"`
	Statements    []string `json:"statements"`
	Transactional bool     `json:"transactional"`
}

// CalculateDatabaseStepsOutput is the DDL preview.
type CalculateDatabaseStepsOutput struct {
	DatabaseSteps []DatabaseStep `json:"databaseSteps"`
}

// Handlers returns the JSON-RPC method table of the engine.
func (e *Engine) Handlers() rpc.Handlers {
	return rpc.Handlers{
		"inferMigrationSteps":    rpc.Method(e.InferMigrationSteps),
		"listMigrations":         rpc.Method(func(ctx context.Context, _ struct{}) ([]MigrationSummary, error) { return e.ListMigrations(ctx) }),
		"migrationProgress":      rpc.Method(e.MigrationProgress),
		"applyMigration":         rpc.Method(e.ApplyMigration),
		"unapplyMigration":       rpc.Method(func(ctx context.Context, _ struct{}) (*UnapplyMigrationOutput, error) { return e.UnapplyMigration(ctx) }),
		"reset":                  rpc.Method(func(ctx context.Context, _ struct{}) (*ResetOutput, error) { return e.Reset(ctx) }),
		"calculateDatamodel":     rpc.Method(e.CalculateDatamodel),
		"calculateDatabaseSteps": rpc.Method(e.CalculateDatabaseSteps),
	}
}

// InferMigrationSteps computes the steps that take the database, with
// AssumeToBeApplied applied on top, to the desired data model.
func (e *Engine) InferMigrationSteps(ctx context.Context, in InferMigrationStepsInput) (*InferMigrationStepsOutput, error) {
	desired, err := e.parseDatamodel(in.Datamodel)
	if err != nil {
		return nil, err
	}
	sess, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	current, err := inspect(ctx, sess.conn)
	if err != nil {
		return nil, err
	}
	current, err = assume(current, in.AssumeToBeApplied)
	if err != nil {
		return nil, err
	}

	inferred := migrate.Infer(current, desired)
	out := &InferMigrationStepsOutput{
		DatamodelSteps: nonNil(inferred.Steps),
		Warnings:       nonNil(inferred.Warnings),
		GeneralErrors:  []string{},
	}
	if in.MigrationID != "" {
		rec, err := sess.history.Get(ctx, in.MigrationID)
		switch {
		case err == nil:
			out.GeneralErrors = append(out.GeneralErrors,
				fmt.Sprintf("migration %s already exists with status %s", rec.ID, rec.Status))
		case !errors.Is(err, migrate.ErrNotFound):
			return nil, err
		}
	}
	return out, nil
}

// ListMigrations returns every history record in the order they started.
func (e *Engine) ListMigrations(ctx context.Context) ([]MigrationSummary, error) {
	sess, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	recs, err := sess.history.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationSummary, len(recs))
	for i, r := range recs {
		out[i] = MigrationSummary{
			ID:         r.ID,
			Kind:       string(r.Kind),
			Status:     string(r.Status),
			StepCount:  len(r.Steps),
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			Errors:     recordErrors(&r),
		}
	}
	return out, nil
}

// MigrationProgress reports the state of one migration.
func (e *Engine) MigrationProgress(ctx context.Context, in MigrationProgressInput) (*MigrationProgressOutput, error) {
	sess, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	rec, err := e.record(ctx, sess, in.MigrationID)
	if err != nil {
		return nil, err
	}
	return &MigrationProgressOutput{
		Status:       string(rec.Status),
		Steps:        len(rec.Steps),
		AppliedSteps: appliedSteps(rec),
		FailedStep:   rec.FailedStep,
		Errors:       recordErrors(rec),
		Partial:      rec.Partial,
		StartedAt:    rec.StartedAt,
		FinishedAt:   rec.FinishedAt,
	}, nil
}

// ApplyMigration applies steps as migration MigrationID.
func (e *Engine) ApplyMigration(ctx context.Context, in ApplyMigrationInput) (*ApplyMigrationOutput, error) {
	sess, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := sess.applier.Apply(ctx, in.MigrationID, in.Steps, in.Force)
	if err != nil {
		return nil, err
	}
	return &ApplyMigrationOutput{
		Datamodel:      datamodel.Render(rec.SchemaAfter),
		DatamodelSteps: nonNil(rec.Steps),
		Summary:        formatter.Summary(rec.SchemaAfter),
		Warnings:       nonNil(migrate.Warnings(rec.Steps)),
		GeneralErrors:  []string{},
	}, nil
}

// UnapplyMigration reverts the latest migration still in effect. With
// nothing to revert it succeeds and changes nothing.
func (e *Engine) UnapplyMigration(ctx context.Context) (*UnapplyMigrationOutput, error) {
	sess, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := sess.applier.Unapply(ctx)
	if err != nil {
		return nil, err
	}

	out := &UnapplyMigrationOutput{GeneralErrors: []string{}}
	current := &schema.Schema{}
	if rec != nil {
		out.RolledBack = rec.Reverts
		current = rec.SchemaAfter
	} else if current, err = inspect(ctx, sess.conn); err != nil {
		return nil, err
	}

	active, err := sess.history.LastSuccessful(ctx)
	if err != nil {
		return nil, err
	}
	if active != nil {
		out.Active = active.ID
	}
	out.Datamodel = datamodel.Render(current)
	out.Summary = formatter.Summary(current)
	return out, nil
}

// Reset drops every table in the target schema, history included, and
// recreates an empty history table.
func (e *Engine) Reset(ctx context.Context) (*ResetOutput, error) {
	sess, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := sess.conn.Reset(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset database: %w", err)
	}
	if err := sess.history.Reset(ctx); err != nil {
		return nil, err
	}
	e.logger.Warn("database reset")
	return &ResetOutput{}, nil
}

// CalculateDatamodel renders the data model obtained by applying steps to
// an empty schema. It does not touch the database.
func (e *Engine) CalculateDatamodel(_ context.Context, in CalculateDatamodelInput) (*CalculateDatamodelOutput, error) {
	if err := migrate.ValidateSteps(in.Steps); err != nil {
		return nil, err
	}
	s, err := schema.Apply(&schema.Schema{}, in.Steps)
	if err != nil {
		return nil, &migrate.ValidationError{Code: migrate.CodeInvalidSteps, Errors: []string{err.Error()}}
	}
	return &CalculateDatamodelOutput{Datamodel: datamodel.Render(s)}, nil
}

// CalculateDatabaseSteps renders the DDL of a migration without executing
// it.
func (e *Engine) CalculateDatabaseSteps(ctx context.Context, in CalculateDatabaseStepsInput) (*CalculateDatabaseStepsOutput, error) {
	var desired *schema.Schema
	if in.StepsToApply == nil && in.Datamodel != nil {
		var err error
		if desired, err = e.parseDatamodel(*in.Datamodel); err != nil {
			return nil, err
		}
	}
	if in.StepsToApply == nil && desired == nil && in.MigrationID == "" {
		return nil, &migrate.ValidationError{
			Code:   migrate.CodeInvalidSteps,
			Errors: []string{"one of stepsToApply, datamodel or migrationId is required"},
		}
	}

	sess, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	var base *schema.Schema
	steps := in.StepsToApply
	if steps == nil && desired == nil {
		rec, err := e.record(ctx, sess, in.MigrationID)
		if err != nil {
			return nil, err
		}
		steps, base = rec.Steps, rec.SchemaBefore
	}
	if base == nil {
		if base, err = inspect(ctx, sess.conn); err != nil {
			return nil, err
		}
		if base, err = assume(base, in.AssumeToBeApplied); err != nil {
			return nil, err
		}
	}
	if desired != nil {
		steps = migrate.Infer(base, desired).Steps
	}
	if err := migrate.ValidateSteps(steps); err != nil {
		return nil, err
	}

	current := base.Clone()
	out := &CalculateDatabaseStepsOutput{DatabaseSteps: make([]DatabaseStep, 0, len(steps))}
	for i, step := range steps {
		stmts, err := sess.conn.RenderStep(current, step)
		if err == nil {
			err = schema.ApplyStep(current, step)
		}
		if err != nil {
			return nil, &migrate.ValidationError{
				Code:   migrate.CodeInvalidSteps,
				Errors: []string{fmt.Sprintf("step %d (%s): %v", i, step, err)},
			}
		}
		out.DatabaseSteps = append(out.DatabaseSteps, DatabaseStep{
			Step:          step,
			Statements:    nonNil(stmts),
			Transactional: sess.conn.TransactionalDDL(step),
		})
	}
	return out, nil
}

// record looks up a migration, mapping an unknown id to a validation error.
func (e *Engine) record(ctx context.Context, sess *session, id string) (*migrate.Record, error) {
	rec, err := sess.history.Get(ctx, id)
	if errors.Is(err, migrate.ErrNotFound) {
		return nil, &migrate.ValidationError{
			Code:   migrate.CodeUnknownMigration,
			Errors: []string{fmt.Sprintf("migration %s does not exist", id)},
		}
	}
	return rec, err
}

// appliedSteps is the number of steps whose effects remain in the database.
func appliedSteps(rec *migrate.Record) int {
	switch rec.Status {
	case migrate.StatusSuccess, migrate.StatusRolledBack:
		return len(rec.Steps)
	case migrate.StatusFailed:
		if rec.Partial && rec.FailedStep != nil {
			return *rec.FailedStep
		}
	}
	return 0
}

func recordErrors(rec *migrate.Record) []string {
	if rec.Error == nil {
		return []string{}
	}
	return []string{*rec.Error}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
