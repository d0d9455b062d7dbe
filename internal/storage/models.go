package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Assignment is a lab or homework with a submission window.
type Assignment struct {
	Name           string    `json:"name" db:"name"`
	OpensAt        time.Time `json:"opens_at" db:"opens_at"`
	DueAt          time.Time `json:"due_at" db:"due_at"`
	RequiresHeader bool      `json:"requires_header" db:"requires_header"`
}

// GradingGroup is the TA section a student belongs to.
type GradingGroup struct {
	Name string `json:"name" db:"name"`
}

// Submission is one attempt, recorded once and never updated.
type Submission struct {
	ID           string    `json:"id" db:"id"`
	Identity     string    `json:"identity" db:"pawprint"`
	Assignment   string    `json:"assignment" db:"assignment"`
	ArtifactPath string    `json:"artifact_path" db:"artifact_path"`
	IsValid      bool      `json:"is_valid" db:"is_valid"`
	IsLate       bool      `json:"is_late" db:"is_late"`
	SubmittedAt  time.Time `json:"submitted_at" db:"submitted_at"`
}

// Store is the persistence surface the pipeline needs.
type Store interface {
	LookupAssignment(ctx context.Context, name string) (Assignment, error)
	LookupGradingGroup(ctx context.Context, identity string) (GradingGroup, error)
	InsertSubmission(ctx context.Context, sub Submission) error
	ListSubmissions(ctx context.Context, identity, assignment string) ([]Submission, error)
	Close() error
}

// Admin seeds the reference tables. Only the CLI's roster and assignment
// commands use it.
type Admin interface {
	PutAssignment(ctx context.Context, a Assignment) error
	PutMember(ctx context.Context, identity, group string) error
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
