package main

import (
	"errors"

	"mucsmake/internal/assignment"
	"mucsmake/internal/pipeline"
	"mucsmake/internal/placement"
	"mucsmake/internal/sandbox"
)

const (
	exitOK         = 0
	exitInternal   = 1
	exitUsage      = 2
	exitConfig     = 3
	exitValidation = 4
	exitPlacement  = 5
	exitRecorder   = 6
	exitSandbox    = 7
)

// usageError is a malformed invocation; cobra's usage text follows it.
type usageError struct {
	Err error
}

func (e *usageError) Error() string { return e.Err.Error() }
func (e *usageError) Unwrap() error { return e.Err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var uerr *usageError
	var execErr *sandbox.ExecutionError
	switch {
	case errors.As(err, &uerr):
		return exitUsage
	case errors.Is(err, pipeline.ErrConfiguration):
		return exitConfig
	case errors.Is(err, pipeline.ErrRecorder):
		return exitRecorder
	case errors.Is(err, placement.ErrPlacement):
		return exitPlacement
	case errors.As(err, &execErr), errors.Is(err, sandbox.ErrDockerDown):
		return exitSandbox
	case errors.Is(err, assignment.ErrAssignmentNotFound),
		errors.Is(err, assignment.ErrSubmissionMissing),
		errors.Is(err, placement.ErrInvalidIdentity):
		return exitValidation
	default:
		return exitInternal
	}
}
