package migrate

import (
	"errors"
	"fmt"
	"strings"
)

// Validation error codes, stable across releases.
const (
	CodeInvalidDatamodel    = 1000
	CodeInvalidSteps        = 1001
	CodeUnknownMigration    = 1002
	CodeDuplicateMigration  = 1003
	CodeMigrationInProgress = 1004
)

// ErrNotFound is returned by the history store for unknown migration ids.
var ErrNotFound = errors.New("migration not found")

// ValidationError rejects a request before anything is written.
type ValidationError struct {
	Code   int
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%d): %s", e.Code, strings.Join(e.Errors, "; "))
}

func newValidationError(code int, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Errors: []string{fmt.Sprintf(format, args...)}}
}

// ApplyError reports the step that failed. Nothing it changed remains in the
// database: either no statement ran or the transaction was rolled back.
type ApplyError struct {
	MigrationID string
	StepIndex   int
	Statement   string
	Err         error
}

func (e *ApplyError) Error() string {
	if e.Statement == "" {
		return fmt.Sprintf("migration %s failed at step %d: %v", e.MigrationID, e.StepIndex, e.Err)
	}
	return fmt.Sprintf("migration %s failed at step %d (%s): %v", e.MigrationID, e.StepIndex, e.Statement, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// PartialApplyError is an ApplyError after which some statements of the
// migration remain applied. The database needs manual remediation.
type PartialApplyError struct {
	ApplyError
}

func (e *PartialApplyError) Error() string {
	return "partially applied: " + e.ApplyError.Error()
}

func (e *PartialApplyError) Unwrap() error {
	return &e.ApplyError
}
