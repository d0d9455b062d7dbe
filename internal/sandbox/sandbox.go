package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"mucsmake/internal/fsutil"
	"mucsmake/internal/monitor"
	"mucsmake/internal/toolchain"
)

// Options tune a Sandbox. Zero timeouts fall back to the defaults.
type Options struct {
	WorkRoot     string // parent of ephemeral workspaces; "" means os.TempDir
	BinaryName   string
	BuildTimeout time.Duration
	RunTimeout   time.Duration

	MemoryChecker *MemoryChecker       // nil disables the memory check
	Scanner       *monitor.CodeScanner // nil disables source scanning
	Tracer        *monitor.Tracer
	Metrics       *monitor.Metrics
}

const (
	defaultBuildTimeout = 60 * time.Second
	defaultRunTimeout   = 5 * time.Second
	defaultBinaryName   = "a.out"
)

// Request is one attempt's input to the sandbox.
type Request struct {
	AttemptID      string
	Assignment     string
	SubmissionPath string
	FixturesDir    string
}

// ExecutionResult is what the sandbox observed building and running one
// submission. Student-caused problems are Findings, never errors.
type ExecutionResult struct {
	ID          string
	Recipe      string
	ExitStatus  int
	Stdout      string
	BuildStderr string
	Signal      string
	TimedOut    bool
	Findings    FindingSet
	Duration    time.Duration
}

// Compiled reports whether the build succeeded, meaning no finding
// invalidates the submission.
func (r *ExecutionResult) Compiled() bool {
	for _, f := range r.Findings.List() {
		if f.Kind.Invalidates() {
			return false
		}
	}
	return true
}

// Sandbox builds and runs submissions in throwaway workspaces.
type Sandbox struct {
	executor Executor
	recipes  *toolchain.Registry
	opts     Options
}

func New(executor Executor, recipes *toolchain.Registry, opts Options) *Sandbox {
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = defaultBuildTimeout
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}
	if opts.BinaryName == "" {
		opts.BinaryName = defaultBinaryName
	}
	if opts.Tracer == nil {
		opts.Tracer = monitor.NewTracer()
	}
	return &Sandbox{executor: executor, recipes: recipes, opts: opts}
}

// Run stages the submission with its fixtures, builds it, runs it and
// optionally memory-checks it. The workspace is removed before Run
// returns on every path.
func (s *Sandbox) Run(ctx context.Context, req Request) (*ExecutionResult, error) {
	execID := req.AttemptID
	if execID == "" {
		execID = uuid.New().String()
	}
	logger := log.With().
		Str("exec_id", execID).
		Str("assignment", req.Assignment).
		Logger()

	if err := validateRequest(req); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "validate", Err: err}
	}

	ctx, span := s.opts.Tracer.StartSpan(ctx, "sandbox",
		monitor.AttrAttemptID.String(execID),
		monitor.AttrAssignment.String(req.Assignment),
	)
	defer span.End()

	start := time.Now()
	workspace, err := os.MkdirTemp(s.opts.WorkRoot, "mucs-"+req.Assignment+"-"+execID+"-*")
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "create_workspace", Err: fmt.Errorf("%w: %w", ErrWorkspace, err)}
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			logger.Error().Err(err).Str("workspace", workspace).Msg("workspace cleanup failed")
		}
	}()

	result := &ExecutionResult{ID: execID}

	source, err := s.stage(logger, workspace, req)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "stage", Err: fmt.Errorf("%w: %w", ErrWorkspace, err)}
	}

	if s.opts.Scanner != nil {
		s.scanSource(logger, req.SubmissionPath, &result.Findings)
	}

	names, err := workspaceFiles(workspace)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "list_workspace", Err: fmt.Errorf("%w: %w", ErrWorkspace, err)}
	}
	recipe := s.recipes.Detect(names)
	result.Recipe = recipe.Name()
	span.SetAttributes(monitor.AttrRecipe.String(recipe.Name()))

	if err := s.build(ctx, logger, workspace, recipe, source, result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build")
		return nil, &ExecutionError{ExecID: execID, Op: "build", Err: err}
	}
	if !result.Compiled() {
		result.Duration = time.Since(start)
		logger.Info().Str("recipe", recipe.Name()).Msg("build failed, skipping execution")
		return result, nil
	}

	if err := s.execute(ctx, logger, workspace, result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run")
		return nil, &ExecutionError{ExecID: execID, Op: "run", Err: err}
	}

	if s.opts.MemoryChecker != nil {
		s.memcheck(ctx, logger, workspace, result)
	}

	result.Duration = time.Since(start)
	span.SetAttributes(
		monitor.AttrExitCode.Int(result.ExitStatus),
		monitor.AttrFindings.Int(result.Findings.Len()),
	)
	logger.Info().
		Int("exit_status", result.ExitStatus).
		Int("findings", result.Findings.Len()).
		Dur("duration", result.Duration).
		Msg("sandbox run completed")
	return result, nil
}

func validateRequest(req Request) error {
	if req.SubmissionPath == "" {
		return fmt.Errorf("%w: submission path is empty", ErrInvalidRequest)
	}
	if req.Assignment == "" || strings.ContainsRune(req.Assignment, os.PathSeparator) {
		return fmt.Errorf("%w: assignment name %q is not a plain name", ErrInvalidRequest, req.Assignment)
	}
	return nil
}

// stage copies fixtures and then the submission into the workspace and
// returns the submission's name inside it.
func (s *Sandbox) stage(logger zerolog.Logger, workspace string, req Request) (string, error) {
	if req.FixturesDir != "" {
		copied, found, err := fsutil.CopyDirFiles(workspace, req.FixturesDir)
		if err != nil {
			return "", fmt.Errorf("copy fixtures: %w", err)
		}
		if !found {
			logger.Warn().Str("fixtures", req.FixturesDir).Msg("fixture directory missing, staging submission only")
		} else {
			logger.Debug().Strs("fixtures", copied).Msg("fixtures staged")
		}
	}

	source := filepath.Base(req.SubmissionPath)
	if err := fsutil.CopyFile(filepath.Join(workspace, source), req.SubmissionPath, 0o644, false); err != nil {
		return "", fmt.Errorf("copy submission: %w", err)
	}
	return source, nil
}

func (s *Sandbox) scanSource(logger zerolog.Logger, path string, findings *FindingSet) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Err(err).Msg("source scan skipped")
		return
	}
	for _, d := range s.opts.Scanner.ScanSource(data) {
		findings.Add(KindSuspiciousCode, fmt.Sprintf("%s on line %d: %s", d.Pattern, d.Line, d.Detail))
	}
}

func workspaceFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (s *Sandbox) build(ctx context.Context, logger zerolog.Logger, workspace string, recipe toolchain.Recipe, source string, result *ExecutionResult) error {
	ctx, span := s.opts.Tracer.StartSpan(ctx, "build", monitor.AttrRecipe.String(recipe.Name()))
	defer span.End()

	argv := recipe.BuildCommand(source, s.opts.BinaryName)
	logger.Debug().Strs("argv", argv).Msg("building")

	res, err := s.executor.Run(ctx, Command{
		Path:    argv[0],
		Args:    argv[1:],
		Dir:     workspace,
		Timeout: s.opts.BuildTimeout,
	})
	if err != nil {
		return err
	}
	s.observe("build", res.Duration)
	result.BuildStderr = strings.ToValidUTF8(string(res.Stderr), "\uFFFD")

	switch {
	case res.TimedOut:
		result.Findings.Add(KindCompileFailure, fmt.Sprintf("build timed out after %s", s.opts.BuildTimeout))
	case res.ExitStatus != 0:
		result.Findings.Add(KindCompileFailure, fmt.Sprintf("%s exited with status %d", recipe.Name(), res.ExitStatus))
	default:
		info, err := os.Stat(filepath.Join(workspace, s.opts.BinaryName))
		if err != nil || !info.Mode().IsRegular() {
			result.Findings.Add(KindCompileFailure, fmt.Sprintf("build did not produce %s", s.opts.BinaryName))
		}
	}
	return nil
}

func (s *Sandbox) execute(ctx context.Context, logger zerolog.Logger, workspace string, result *ExecutionResult) error {
	ctx, span := s.opts.Tracer.StartSpan(ctx, "run")
	defer span.End()

	res, err := s.executor.Run(ctx, Command{
		Path:    "./" + s.opts.BinaryName,
		Dir:     workspace,
		Timeout: s.opts.RunTimeout,
	})
	if err != nil {
		return err
	}
	s.observe("run", res.Duration)

	result.ExitStatus = res.ExitStatus
	result.TimedOut = res.TimedOut
	result.Signal = res.Signal

	switch {
	case res.TimedOut:
		result.Findings.Add(KindRuntimeTimeout, fmt.Sprintf("program exceeded the %s time limit", s.opts.RunTimeout))
	case res.Signal != "":
		result.Findings.Add(KindRuntimeCrash, fmt.Sprintf("program killed by %s", res.Signal))
	}

	if utf8.Valid(res.Stdout) {
		result.Stdout = string(res.Stdout)
	} else {
		result.Findings.Add(KindOutputCorrupt, "program output is not valid UTF-8")
		result.Stdout = strings.ToValidUTF8(string(res.Stdout), "\uFFFD")
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.OutputBytes.Observe(float64(len(res.Stdout)))
	}

	if s.opts.Scanner != nil {
		for _, d := range s.opts.Scanner.ScanOutput(result.Stdout) {
			result.Findings.Add(KindSuspiciousCode, d.Detail)
		}
	}

	logger.Debug().
		Int("exit_status", res.ExitStatus).
		Str("signal", res.Signal).
		Bool("timed_out", res.TimedOut).
		Msg("program finished")
	return nil
}

// memcheck never fails the attempt. A checker that cannot start or times
// out is logged and contributes no findings.
func (s *Sandbox) memcheck(ctx context.Context, logger zerolog.Logger, workspace string, result *ExecutionResult) {
	ctx, span := s.opts.Tracer.StartSpan(ctx, "memcheck")
	defer span.End()

	path, args := s.opts.MemoryChecker.command(s.opts.BinaryName)
	res, err := s.executor.Run(ctx, Command{
		Path:    path,
		Args:    args,
		Dir:     workspace,
		Timeout: s.opts.RunTimeout,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		span.RecordError(err)
		logger.Error().Err(err).Str("checker", path).Msg("memory checker could not be run")
		return
	}
	s.observe("memcheck", res.Duration)
	if res.TimedOut {
		logger.Warn().Dur("timeout", s.opts.RunTimeout).Msg("memory checker timed out, no memory findings recorded")
		return
	}

	report := append(append([]byte{}, res.Stderr...), res.Stdout...)
	result.Findings.Merge(ParseMemcheckReport(report))
	span.SetAttributes(attribute.Bool("mucs.memcheck.clean", !result.Findings.Has(KindMemoryLeak) && !result.Findings.Has(KindMemoryError)))
}

func (s *Sandbox) observe(stage string, d time.Duration) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordStage(stage, d.Seconds())
	}
}
