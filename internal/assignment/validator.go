// Package assignment holds the checks a submission must pass before it is
// built: the assignment exists, the file exists, the header is included
// and the attempt falls inside the submission window.
package assignment

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"mucsmake/internal/storage"
)

var (
	// ErrAssignmentNotFound means the store has no assignment by that name.
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrSubmissionMissing means the submitted path is absent, unreadable or
	// not a regular file.
	ErrSubmissionMissing = errors.New("submission file missing")
	// ErrStore wraps store transport failures. These are operator problems,
	// not student ones.
	ErrStore = errors.New("assignment store unavailable")
)

// Lookup is the store capability the validator needs.
type Lookup interface {
	LookupAssignment(ctx context.Context, name string) (storage.Assignment, error)
}

type Validator struct {
	store       Lookup
	checkHeader bool
}

// NewValidator returns a validator. checkHeader mirrors
// general.check_lab_header; when false the header check always passes.
func NewValidator(store Lookup, checkHeader bool) *Validator {
	return &Validator{store: store, checkHeader: checkHeader}
}

// Resolve loads the named assignment.
func (v *Validator) Resolve(ctx context.Context, name string) (storage.Assignment, error) {
	a, err := v.store.LookupAssignment(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Assignment{}, fmt.Errorf("%w: %s", ErrAssignmentNotFound, name)
	}
	if err != nil {
		return storage.Assignment{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	log.Debug().Str("assignment", a.Name).Time("opens_at", a.OpensAt).Time("due_at", a.DueAt).Msg("assignment resolved")
	return a, nil
}

// CheckFileExists requires path to be a readable regular file.
func CheckFileExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubmissionMissing, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrSubmissionMissing, path)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrSubmissionMissing, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubmissionMissing, path, err)
	}
	return f.Close()
}

// HeaderIncluded reports whether some line of content starts with
// #include "<assignment>.h". Whitespace between the directive and the
// quoted name is optional; anything after the name is ignored.
func HeaderIncluded(content io.Reader, assignment string) (bool, error) {
	re, err := regexp.Compile(`^#include\s*"` + regexp.QuoteMeta(assignment+".h") + `"`)
	if err != nil {
		return false, err
	}
	sc := bufio.NewScanner(content)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if re.MatchString(sc.Text()) {
			return true, nil
		}
	}
	return false, sc.Err()
}

// CheckHeaderIncluded is the soft header check. It is skipped, reporting
// true, when the assignment does not require a header or header checks are
// disabled.
func (v *Validator) CheckHeaderIncluded(path string, a storage.Assignment) (bool, error) {
	if !v.checkHeader || !a.RequiresHeader {
		return true, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrSubmissionMissing, err)
	}
	defer f.Close()
	return HeaderIncluded(f, a.Name)
}

// CheckWindow reports whether now falls strictly inside the submission
// window.
func CheckWindow(a storage.Assignment, now time.Time) bool {
	return a.OpensAt.Before(now) && now.Before(a.DueAt)
}
