package bridge

import (
	"errors"
	"fmt"
)

var (
	ErrOperationFailed = errors.New("operation failed")
	ErrInvalidRequest  = errors.New("invalid operation request")
	ErrEntryPoint      = errors.New("invalid entry point")
)

// Error is a failed invocation. ExitCode is -1 when the dispatcher never
// produced an exit status (it could not be started or was canceled); Err
// then carries the cause.
type Error struct {
	Operation     string
	ExitCode      int
	StderrExcerpt string
	InvocationID  string
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("operation %s (invocation %s) failed: %v", e.Operation, e.InvocationID, e.Err)
	}
	if e.StderrExcerpt == "" {
		return fmt.Sprintf("operation %s (invocation %s) exited with code %d",
			e.Operation, e.InvocationID, e.ExitCode)
	}
	return fmt.Sprintf("operation %s (invocation %s) exited with code %d: %s",
		e.Operation, e.InvocationID, e.ExitCode, lastLine(e.StderrExcerpt))
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrOperationFailed, e.Err}
	}
	return []error{ErrOperationFailed}
}
