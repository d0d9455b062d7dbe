// Package pipeline runs one submission attempt end to end: validate,
// resolve the grading group, build and run, place, record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"

	"mucsmake/internal/assignment"
	"mucsmake/internal/monitor"
	"mucsmake/internal/placement"
	"mucsmake/internal/report"
	"mucsmake/internal/roster"
	"mucsmake/internal/sandbox"
	"mucsmake/internal/storage"
)

// Store is the subset of storage.Store one attempt touches.
type Store interface {
	assignment.Lookup
	roster.Lookup
	InsertSubmission(ctx context.Context, sub storage.Submission) error
}

// Runner builds and runs a staged submission.
type Runner interface {
	Run(ctx context.Context, req sandbox.Request) (*sandbox.ExecutionResult, error)
}

type Options struct {
	Store       Store
	Sandbox     Runner
	Placement   *placement.Engine
	CheckHeader bool
	// FixturesDir maps an assignment name to its fixture directory.
	FixturesDir func(assignment string) string
	Now         func() time.Time
	Tracer      *monitor.Tracer
	Metrics     *monitor.Metrics
}

type Pipeline struct {
	store     Store
	validator *assignment.Validator
	resolver  *roster.Resolver
	sandbox   Runner
	placement *placement.Engine
	fixtures  func(string) string
	now       func() time.Time
	tracer    *monitor.Tracer
	metrics   *monitor.Metrics
}

func New(opts Options) *Pipeline {
	p := &Pipeline{
		store:     opts.Store,
		validator: assignment.NewValidator(opts.Store, opts.CheckHeader),
		resolver:  roster.NewResolver(opts.Store),
		sandbox:   opts.Sandbox,
		placement: opts.Placement,
		fixtures:  opts.FixturesDir,
		now:       opts.Now,
		tracer:    opts.Tracer,
		metrics:   opts.Metrics,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.fixtures == nil {
		p.fixtures = func(string) string { return "" }
	}
	if p.tracer == nil {
		p.tracer = monitor.NewTracer()
	}
	return p
}

// Attempt identifies one invocation.
type Attempt struct {
	Identity       string
	Assignment     string
	SubmissionPath string
}

// Outcome is the result of a completed attempt.
type Outcome struct {
	ID         string
	Assignment storage.Assignment
	Group      storage.GradingGroup
	Status     report.Status
	OnTime     bool
	Valid      bool
	Execution  *sandbox.ExecutionResult
	Placement  *placement.Result
	Warnings   []string
}

// Summary adapts the outcome for the report renderer.
func (o *Outcome) Summary(course, identity, submission string) report.Summary {
	return report.Summary{
		Course:     course,
		Group:      o.Group.Name,
		Assignment: o.Assignment.Name,
		User:       identity,
		Submission: submission,
		Status:     o.Status,
		Findings:   o.Execution.Findings.List(),
		Warnings:   o.Warnings,
	}
}

// Process runs one attempt. Hard validation failures return before the
// sandbox or the filesystem is touched. Errors are one of
// assignment.ErrAssignmentNotFound, assignment.ErrSubmissionMissing,
// placement.ErrInvalidIdentity, *ConfigError, *sandbox.ExecutionError,
// *placement.Error or *RecorderError.
func (p *Pipeline) Process(ctx context.Context, a Attempt) (_ *Outcome, err error) {
	now := p.now()
	id := uuid.New().String()
	logger := log.With().
		Str("attempt_id", id).
		Str("identity", a.Identity).
		Str("assignment", a.Assignment).
		Logger()

	ctx, span := p.tracer.StartSpan(ctx, "attempt",
		monitor.AttrAttemptID.String(id),
		monitor.AttrAssignment.String(a.Assignment),
		monitor.AttrIdentity.String(a.Identity),
	)
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, errorKind(err))
			if p.metrics != nil {
				p.metrics.RecordError(errorKind(err))
			}
		}
	}()

	if err := placement.ValidateComponent(a.Identity); err != nil {
		return nil, err
	}

	asg, err := p.validator.Resolve(ctx, a.Assignment)
	if errors.Is(err, assignment.ErrStore) {
		return nil, &ConfigError{Op: "resolve assignment", Err: err}
	}
	if err != nil {
		logger.Warn().Err(err).Msg("assignment lookup failed")
		return nil, err
	}
	if err := assignment.CheckFileExists(a.SubmissionPath); err != nil {
		logger.Warn().Err(err).Msg("submission file rejected")
		return nil, err
	}

	out := &Outcome{ID: id, Assignment: asg}

	included, err := p.validator.CheckHeaderIncluded(a.SubmissionPath, asg)
	if err != nil {
		logger.Warn().Err(err).Msg("header check could not read the submission")
	}
	if !included {
		out.Warnings = append(out.Warnings, fmt.Sprintf(`submission does not #include "%s.h"`, asg.Name))
		logger.Warn().Msg("required header not included")
	}

	out.OnTime = assignment.CheckWindow(asg, now)
	if !out.OnTime {
		out.Warnings = append(out.Warnings, fmt.Sprintf("submitted %s, outside the window %s to %s",
			now.Local().Format(time.DateTime), asg.OpensAt.Local().Format(time.DateTime), asg.DueAt.Local().Format(time.DateTime)))
		logger.Warn().Time("opens_at", asg.OpensAt).Time("due_at", asg.DueAt).Msg("submission outside window")
	}

	group, err := p.resolver.Resolve(ctx, a.Identity)
	if err != nil {
		return nil, &ConfigError{Op: "resolve grading group", Err: err}
	}
	out.Group = group

	res, err := p.sandbox.Run(ctx, sandbox.Request{
		AttemptID:      id,
		Assignment:     asg.Name,
		SubmissionPath: a.SubmissionPath,
		FixturesDir:    p.fixtures(asg.Name),
	})
	if err != nil {
		return nil, err
	}
	out.Execution = res

	placed, err := p.placement.Place(ctx, placement.Request{
		Identity:       a.Identity,
		Assignment:     asg.Name,
		Group:          group.Name,
		SubmissionPath: a.SubmissionPath,
		OnTime:         out.OnTime,
		Compiled:       res.Compiled(),
		At:             now,
	})
	if err != nil {
		return nil, err
	}
	out.Placement = placed
	out.Valid = placed.IsValid

	// Recorded once. The placed file stays even if this fails.
	sub := storage.Submission{
		ID:           id,
		Identity:     a.Identity,
		Assignment:   asg.Name,
		ArtifactPath: placed.ArtifactPath,
		IsValid:      placed.IsValid,
		IsLate:       placed.IsLate,
		SubmittedAt:  now,
	}
	if err := p.store.InsertSubmission(ctx, sub); err != nil {
		logger.Error().Err(err).Str("artifact", placed.ArtifactPath).Msg("submission placed but not recorded")
		return nil, &RecorderError{Op: "insert submission", ArtifactPath: placed.ArtifactPath, Err: err}
	}

	out.Status = report.Classify(out.OnTime, res.Findings)
	span.SetAttributes(monitor.AttrValid.Bool(out.Valid))
	if p.metrics != nil {
		p.metrics.RecordAttempt(asg.Name, string(out.Status))
		for _, f := range res.Findings.List() {
			p.metrics.RecordFinding(string(f.Kind))
		}
	}

	logger.Info().
		Str("group", group.Name).
		Str("status", string(out.Status)).
		Bool("valid", out.Valid).
		Bool("late", placed.IsLate).
		Int("findings", res.Findings.Len()).
		Msg("attempt complete")
	return out, nil
}

// errorKind is the metrics label for a failed attempt.
func errorKind(err error) string {
	var execErr *sandbox.ExecutionError
	switch {
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrRecorder):
		return "recorder"
	case errors.Is(err, placement.ErrPlacement):
		return "placement"
	case sandbox.IsWorkspaceError(err):
		return "workspace"
	case errors.As(err, &execErr):
		return "sandbox"
	case errors.Is(err, assignment.ErrAssignmentNotFound),
		errors.Is(err, assignment.ErrSubmissionMissing),
		errors.Is(err, placement.ErrInvalidIdentity):
		return "validation"
	default:
		return "internal"
	}
}
