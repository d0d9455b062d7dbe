// Package placement files a processed submission into the grading tree.
//
// Layout under the submissions root:
//
//	<assignment>/<group>/.valid/<identity>_<timestamp>/<file>
//	<assignment>/<group>/.invalid/<identity>_<timestamp>/<file>
//	<assignment>/<group>/<identity> -> .valid/<identity>_<timestamp>
//
// Only valid attempts move the per-student symlink.
package placement

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"mucsmake/internal/fsutil"
)

// TimestampLayout is the attempt directory suffix, local time with
// microseconds.
const TimestampLayout = "2006-01-02_15:04:05.000000"

const (
	validDirMode  os.FileMode = 0o2770
	validFileMode os.FileMode = 0o450
	copyFileMode  os.FileMode = 0o640
)

type Engine struct {
	SubmissionsRoot string
	ValidDir        string
	InvalidDir      string
}

func NewEngine(submissionsRoot, validDir, invalidDir string) *Engine {
	if validDir == "" {
		validDir = ".valid"
	}
	if invalidDir == "" {
		invalidDir = ".invalid"
	}
	return &Engine{SubmissionsRoot: submissionsRoot, ValidDir: validDir, InvalidDir: invalidDir}
}

// Request is everything the engine needs to file one attempt.
type Request struct {
	Identity       string
	Assignment     string
	Group          string
	SubmissionPath string
	OnTime         bool
	Compiled       bool
	At             time.Time
}

// Decision is the derived plan for a request.
type Decision struct {
	GroupRoot     string
	Root          string
	DirName       string
	UpdateSymlink bool
	Valid         bool
	Late          bool
}

// Result describes what was written.
type Result struct {
	ArtifactPath string
	AttemptDir   string
	SymlinkPath  string
	IsValid      bool
	IsLate       bool
}

// Decide computes where the attempt goes without touching the filesystem.
func (e *Engine) Decide(req Request) Decision {
	valid := req.OnTime && req.Compiled
	groupRoot := filepath.Join(e.SubmissionsRoot, req.Assignment, req.Group)
	root := filepath.Join(groupRoot, e.InvalidDir)
	if valid {
		root = filepath.Join(groupRoot, e.ValidDir)
	}
	return Decision{
		GroupRoot:     groupRoot,
		Root:          root,
		DirName:       AttemptDirName(req.Identity, req.At),
		UpdateSymlink: valid,
		Valid:         valid,
		Late:          !req.OnTime,
	}
}

func AttemptDirName(identity string, at time.Time) string {
	return identity + "_" + at.Local().Format(TimestampLayout)
}

// ValidateComponent rejects names that could escape or alias another
// student's paths.
func ValidateComponent(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, name)
	case strings.ContainsRune(name, filepath.Separator), strings.ContainsRune(name, '/'):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidIdentity, name)
	case strings.Contains(name, ".."):
		return fmt.Errorf("%w: %q contains ..", ErrInvalidIdentity, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidIdentity, name)
	}
	return nil
}

// Place writes the attempt into the grading tree. Any failure is an *Error.
func (e *Engine) Place(ctx context.Context, req Request) (*Result, error) {
	for _, c := range []string{req.Identity, req.Assignment, req.Group} {
		if err := ValidateComponent(c); err != nil {
			return nil, wrap("validate", c, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, wrap("place", e.SubmissionsRoot, err)
	}

	d := e.Decide(req)
	logger := log.With().
		Str("identity", req.Identity).
		Str("assignment", req.Assignment).
		Str("group", req.Group).
		Bool("valid", d.Valid).
		Logger()

	for _, dir := range []string{filepath.Join(d.GroupRoot, e.ValidDir), filepath.Join(d.GroupRoot, e.InvalidDir)} {
		if err := os.MkdirAll(dir, 0o770); err != nil {
			return nil, wrap("mkdir", dir, err)
		}
	}

	attemptDir := filepath.Join(d.Root, d.DirName)
	// Mkdir, not MkdirAll: an existing attempt directory is a collision.
	if err := os.Mkdir(attemptDir, 0o770); err != nil {
		return nil, wrap("mkdir", attemptDir, err)
	}
	placed := false
	defer func() {
		if placed {
			return
		}
		// Graders must never see a half-written attempt.
		if err := os.RemoveAll(attemptDir); err != nil {
			logger.Warn().Err(err).Str("dir", attemptDir).Msg("failed to remove partial attempt directory")
		}
	}()

	if d.Valid {
		if err := os.Chmod(attemptDir, validDirMode); err != nil {
			return nil, wrap("chmod", attemptDir, err)
		}
	}

	artifact := filepath.Join(attemptDir, filepath.Base(req.SubmissionPath))
	if err := fsutil.CopyFile(artifact, req.SubmissionPath, copyFileMode, true); err != nil {
		return nil, wrap("copy", artifact, err)
	}
	if d.Valid {
		if err := os.Chmod(artifact, validFileMode); err != nil {
			return nil, wrap("chmod", artifact, err)
		}
	}

	res := &Result{ArtifactPath: artifact, AttemptDir: attemptDir, IsValid: d.Valid, IsLate: d.Late}
	if d.UpdateSymlink {
		link := filepath.Join(d.GroupRoot, req.Identity)
		if err := ReplaceSymlink(attemptDir, link); err != nil {
			return nil, err
		}
		res.SymlinkPath = link
	}

	placed = true
	logger.Info().Str("artifact", artifact).Msg("submission placed")
	return res, nil
}

// ReplaceSymlink points link at target. A temporary link is renamed over the
// old entry, which is atomic on POSIX. If the old entry cannot be replaced by
// rename (an empty directory, for instance) it is removed first and the link
// is created again; between those two steps readers see no link.
func ReplaceSymlink(target, link string) error {
	tmp := filepath.Join(filepath.Dir(link), ".tmp-"+filepath.Base(link)+"-"+uuid.NewString())
	if err := os.Symlink(target, tmp); err != nil {
		return wrap("symlink", tmp, err)
	}
	err := os.Rename(tmp, link)
	if err == nil {
		return nil
	}

	log.Warn().Err(err).Str("link", link).Msg("atomic symlink replace failed, falling back to remove and create")
	if rmErr := os.Remove(tmp); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		log.Warn().Err(rmErr).Str("path", tmp).Msg("failed to remove temporary symlink")
	}
	if err := os.Remove(link); err != nil && !errors.Is(err, os.ErrNotExist) {
		return wrap("remove", link, err)
	}
	if err := os.Symlink(target, link); err != nil {
		return wrap("symlink", link, err)
	}
	return nil
}
