package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrInvalidRequest  = errors.New("invalid sandbox request")
	ErrExecutorFailure = errors.New("process could not be started")
	ErrWorkspace       = errors.New("workspace preparation failed")
	ErrDockerDown      = errors.New("docker unavailable")
)

// ExecutionError wraps internal sandbox failures with the attempt context.
// Student-caused failures (compile errors, crashes, timeouts) are never
// ExecutionErrors; they are Findings on the ExecutionResult.
type ExecutionError struct {
	ExecID string
	Op     string // The operation that failed
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.ExecID != "" {
		return fmt.Sprintf("sandbox %s: %s: %s", e.ExecID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsWorkspaceError returns true if the error came from staging the workspace.
func IsWorkspaceError(err error) bool {
	return errors.Is(err, ErrWorkspace)
}
