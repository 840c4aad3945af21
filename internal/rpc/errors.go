package rpc

import (
	"errors"

	"github.com/tordrt/migrationengine/internal/datamodel"
	"github.com/tordrt/migrationengine/internal/db"
	"github.com/tordrt/migrationengine/internal/migrate"
)

// Envelope code and message of every command-level error.
const (
	EnvelopeCode    = 4466
	EnvelopeMessage = "An error happened. Check the data field for details."
)

// Data codes for errors that are not validation errors.
const (
	CodeConnection   = 2000
	CodeApply        = 3000
	CodePartialApply = 3001
	CodeInternal     = 9000
)

// ErrorData is the structured detail carried in the envelope's data field.
type ErrorData struct {
	Type        string   `json:"type"`
	Code        int      `json:"code"`
	Errors      []string `json:"errors"`
	MigrationID string   `json:"migrationId,omitempty"`
	StepIndex   *int     `json:"stepIndex,omitempty"`
	Partial     bool     `json:"partial,omitempty"`
}

// toError converts a command error into the response error. Protocol errors
// pass through; everything else is wrapped in the envelope.
func toError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &Error{Code: EnvelopeCode, Message: EnvelopeMessage, Data: classify(err)}
}

func classify(err error) ErrorData {
	var (
		validation *migrate.ValidationError
		parse      *datamodel.ParseError
		conn       *db.ConnectionError
		partial    *migrate.PartialApplyError
		apply      *migrate.ApplyError
	)

	switch {
	case errors.As(err, &validation):
		return ErrorData{Type: "ValidationError", Code: validation.Code, Errors: validation.Errors}
	case errors.As(err, &parse):
		return ErrorData{Type: "ValidationError", Code: migrate.CodeInvalidDatamodel, Errors: parse.Messages()}
	case errors.As(err, &conn):
		return ErrorData{Type: "ConnectionError", Code: CodeConnection, Errors: []string{conn.Error()}}
	case errors.As(err, &partial):
		step := partial.StepIndex
		return ErrorData{
			Type: "PartialApplyError", Code: CodePartialApply, Errors: []string{partial.Err.Error()},
			MigrationID: partial.MigrationID, StepIndex: &step, Partial: true,
		}
	case errors.As(err, &apply):
		step := apply.StepIndex
		return ErrorData{
			Type: "ApplyError", Code: CodeApply, Errors: []string{apply.Err.Error()},
			MigrationID: apply.MigrationID, StepIndex: &step,
		}
	}
	return ErrorData{Type: "InternalError", Code: CodeInternal, Errors: []string{err.Error()}}
}
