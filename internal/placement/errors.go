package placement

import (
	"errors"
	"fmt"
)

// ErrPlacement is wrapped by every filesystem failure the engine reports.
var ErrPlacement = errors.New("placement failed")

// ErrInvalidIdentity means the identity cannot be used as a path component.
var ErrInvalidIdentity = errors.New("identity is not a valid path component")

// Error records which filesystem operation failed and on which path.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("placement %s %s: %s", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrPlacement, e.Err}
}

func wrap(op, path string, err error) error {
	return &Error{Op: op, Path: path, Err: err}
}
