package cli

import (
	stderrors "errors"
	"fmt"

	"github.com/davidthor/catalogctl/pkg/engine"
	"github.com/davidthor/catalogctl/pkg/errors"
)

// Process exit codes.
const (
	ExitOK             = 0
	ExitError          = 1
	ExitValidation     = 2
	ExitPartialFailure = 3
	ExitBackend        = 4
)

// invalidUsage marks errors caused by how the command was invoked.
type invalidUsage struct {
	err error
}

func (e *invalidUsage) Error() string { return e.err.Error() }
func (e *invalidUsage) Unwrap() error { return e.err }

func usageError(err error) error {
	return &invalidUsage{err: err}
}

// runFailed is returned when a run finished with failed or blocked
// products.
type runFailed struct {
	report *engine.Report
}

func (e *runFailed) Error() string {
	failed := e.report.Count(engine.StatusFailed)
	blocked := e.report.Count(engine.StatusBlocked)
	return fmt.Sprintf("%s finished with %d failed and %d blocked products", e.report.Operation, failed, blocked)
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var failed *runFailed
	if stderrors.As(err, &failed) {
		return ExitPartialFailure
	}
	var usage *invalidUsage
	if stderrors.As(err, &usage) {
		return ExitValidation
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeValidation, errors.ErrCodeCycle, errors.ErrCodeParse, errors.ErrCodeNotFound:
		return ExitValidation
	case errors.ErrCodeBackend, errors.ErrCodeLocked, errors.ErrCodeConflict, errors.ErrCodeTimeout:
		return ExitBackend
	}
	return ExitError
}
