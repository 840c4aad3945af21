package config

import (
	"errors"
	"fmt"
	"io"
)

// Exit codes of the migration-engine process.
const (
	ExitSuccess = 0
	ExitGeneral = 1
	ExitConfig  = 2
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ConfigError creates an ExitError with ExitConfig code.
func ConfigError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitConfig, Message: msg, Err: err}
}

// ExitCode prints err to w and returns the process exit code for it.
func ExitCode(w io.Writer, err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		_, _ = fmt.Fprintln(w, "Error:", exitErr.Error())
		return exitErr.Code
	}
	_, _ = fmt.Fprintln(w, "Error:", err)
	return ExitGeneral
}
