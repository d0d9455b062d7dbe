package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks operator-side failures: a missing roster entry,
	// an unreachable store.
	ErrConfiguration = errors.New("configuration error")
	// ErrRecorder marks a failure to persist the submission record after the
	// file was already placed.
	ErrRecorder = errors.New("submission not recorded")
)

type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() []error {
	return []error{ErrConfiguration, e.Err}
}

// RecorderError keeps the artifact path so the operator can reconcile the
// grading tree with the store by hand.
type RecorderError struct {
	Op           string
	ArtifactPath string
	Err          error
}

func (e *RecorderError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.ArtifactPath, e.Err)
}

func (e *RecorderError) Unwrap() []error {
	return []error{ErrRecorder, e.Err}
}
