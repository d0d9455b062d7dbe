package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mucsmake/internal/monitor"
	"mucsmake/internal/toolchain"
)

// fakeExecutor answers each command with a canned result chosen by the
// command path. Build commands create the binary unless skipBinary is set.
type fakeExecutor struct {
	mu         sync.Mutex
	calls      []Command
	dirs       []string
	build      ProcessResult
	run        ProcessResult
	check      ProcessResult
	buildErr   error
	runErr     error
	checkErr   error
	skipBinary bool
	staged     []string // workspace contents seen by the first call
}

func (f *fakeExecutor) Run(_ context.Context, cmd Command) (*ProcessResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	f.dirs = append(f.dirs, cmd.Dir)

	if len(f.calls) == 1 {
		entries, _ := os.ReadDir(cmd.Dir)
		for _, e := range entries {
			f.staged = append(f.staged, e.Name())
		}
	}

	switch {
	case cmd.Path == "./a.out":
		if f.runErr != nil {
			return nil, f.runErr
		}
		r := f.run
		return &r, nil
	case cmd.Path == "valgrind":
		if f.checkErr != nil {
			return nil, f.checkErr
		}
		r := f.check
		return &r, nil
	default:
		if f.buildErr != nil {
			return nil, f.buildErr
		}
		if f.build.ExitStatus == 0 && !f.build.TimedOut && !f.skipBinary {
			_ = os.WriteFile(filepath.Join(cmd.Dir, "a.out"), []byte("\x7fELF"), 0o755)
		}
		r := f.build
		return &r, nil
	}
}

func (f *fakeExecutor) paths() []string {
	var out []string
	for _, c := range f.calls {
		out = append(out, c.Path)
	}
	return out
}

type sandboxFixture struct {
	workRoot   string
	submission string
	fixtures   string
}

func newSandboxFixture(t *testing.T, source string) sandboxFixture {
	t.Helper()
	dir := t.TempDir()
	f := sandboxFixture{
		workRoot:   filepath.Join(dir, "work"),
		submission: filepath.Join(dir, "lab1.c"),
		fixtures:   filepath.Join(dir, "fixtures"),
	}
	if err := os.Mkdir(f.workRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f.submission, []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f sandboxFixture) request() Request {
	return Request{
		AttemptID:      "attempt-1",
		Assignment:     "lab1",
		SubmissionPath: f.submission,
		FixturesDir:    f.fixtures,
	}
}

func newTestSandbox(ex Executor, workRoot string, withChecker bool) *Sandbox {
	opts := Options{
		WorkRoot:     workRoot,
		BuildTimeout: time.Minute,
		RunTimeout:   5 * time.Second,
		Scanner:      monitor.NewCodeScanner(),
	}
	if withChecker {
		opts.MemoryChecker = &MemoryChecker{Command: "valgrind", Args: []string{"--leak-check=full"}}
	}
	return New(ex, toolchain.NewRegistry("make", "gcc", []string{"-Wall"}), opts)
}

func assertWorkspaceGone(t *testing.T, workRoot string) {
	t.Helper()
	entries, err := os.ReadDir(workRoot)
	if err != nil {
		t.Fatalf("read work root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("workspace left behind: %v", entries)
	}
}

const helloSource = "#include \"lab1.h\"\nint main(void) { return 0; }\n"

func TestRun_CleanSubmission(t *testing.T) {
	fx := newSandboxFixture(t, helloSource)
	ex := &fakeExecutor{
		run:   ProcessResult{Stdout: []byte("hello\n")},
		check: ProcessResult{Stderr: []byte(cleanReport)},
	}
	sb := newTestSandbox(ex, fx.workRoot, true)

	res, err := sb.Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Findings.Len() != 0 {
		t.Errorf("findings = %v, want none", res.Findings.List())
	}
	if res.Stdout != "hello\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if res.Recipe != "cc" {
		t.Errorf("Recipe = %q, want cc", res.Recipe)
	}
	want := []string{"gcc", "./a.out", "valgrind"}
	if got := ex.paths(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("commands = %v, want %v", got, want)
	}
	if ex.calls[0].Timeout != time.Minute || ex.calls[1].Timeout != 5*time.Second {
		t.Errorf("timeouts = %v / %v", ex.calls[0].Timeout, ex.calls[1].Timeout)
	}
	for _, dir := range ex.dirs {
		if filepath.Dir(dir) != fx.workRoot || !strings.HasPrefix(filepath.Base(dir), "mucs-lab1-attempt-1-") {
			t.Errorf("command ran in %q, want a mucs-lab1-attempt-1-* dir under the work root", dir)
		}
	}
	assertWorkspaceGone(t, fx.workRoot)
}

func TestRun_CompileFailureSkipsExecution(t *testing.T) {
	fx := newSandboxFixture(t, "int main( {")
	ex := &fakeExecutor{
		build: ProcessResult{ExitStatus: 1, Stderr: []byte("lab1.c:1: error: expected declaration")},
	}
	sb := newTestSandbox(ex, fx.workRoot, true)

	res, err := sb.Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Findings.Has(KindCompileFailure) {
		t.Error("expected CompileFailure finding")
	}
	if res.Compiled() {
		t.Error("Compiled() = true after failed build")
	}
	if len(ex.calls) != 1 {
		t.Errorf("commands = %v, want only the build", ex.paths())
	}
	if !strings.Contains(res.BuildStderr, "expected declaration") {
		t.Errorf("BuildStderr = %q", res.BuildStderr)
	}
	assertWorkspaceGone(t, fx.workRoot)
}

func TestRun_BuildTimeoutIsCompileFailure(t *testing.T) {
	fx := newSandboxFixture(t, helloSource)
	ex := &fakeExecutor{build: ProcessResult{TimedOut: true, ExitStatus: -1}}
	sb := newTestSandbox(ex, fx.workRoot, false)

	res, err := sb.Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Findings.Has(KindCompileFailure) {
		t.Error("expected CompileFailure for build timeout")
	}
	assertWorkspaceGone(t, fx.workRoot)
}

func TestRun_MissingBinaryIsCompileFailure(t *testing.T) {
	fx := newSandboxFixture(t, helloSource)
	ex := &fakeExecutor{skipBinary: true}
	sb := newTestSandbox(ex, fx.workRoot, false)

	res, err := sb.Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Findings.Has(KindCompileFailure) {
		t.Error("expected CompileFailure when no binary was produced")
	}
	assertWorkspaceGone(t, fx.workRoot)
}

func TestRun_CrashNamesSignal(t *testing.T) {
	fx := newSandboxFixture(t, helloSource)
	ex := &fakeExecutor{
		run:   ProcessResult{ExitStatus: 139, Signal: "SIGSEGV"},
		check: ProcessResult{Stderr: []byte(cleanReport)},
	}
	sb := newTestSandbox(ex, fx.workRoot, false)

	res, err := sb.Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Findings.Has(KindRuntimeCrash) {
		t.Fatal("expected RuntimeCrash finding")
	}
	found := false
	for _, f := range res.Findings.List() {
		if f.Kind == KindRuntimeCrash && strings.Contains(f.Message, "SIGSEGV") {
			found = true
		}
	}
	if !found {
		t.Errorf("crash finding does not name SIGSEGV: %v", res.Findings.List())
	}
	if res.Signal != "SIGSEGV" {
		t.Errorf("Signal = %q", res.Signal)
	}
	assertWorkspaceGone(t, fx.workRoot)
}

func TestRun_TimeoutIsNeverCrash(t *testing.T) {
	fx := newSandboxFixture(t, helloSource)
	ex := &fakeExecutor{run: ProcessResult{TimedOut: true, ExitStatus: -1}}
	sb := newTestSandbox(ex, fx.workRoot, false)

	res, err := sb.Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Findings.Has(KindRuntimeTimeout) {
		t.Error("expected RuntimeTimeout finding")
	}
	if res.Findings.Has(KindRuntimeCrash) {
		t.Error("timeout must not be reported as a crash")
	}
	if !res.TimedOut {
		t.Error("TimedOut = false")
	}
	assertWorkspaceGone(t, fx.workRoot)
}

func TestRun_InvalidUTF8Output(t *testing.T) {
	fx := newSandboxFixture(t, helloSource)
	ex := &fakeExecutor{run: ProcessResult{Stdout: []byte("ok \xff\xfe done")}}
	sb := newTestSandbox(ex, fx.workRoot, false)

	res, err := sb.Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Findings.Has(KindOutputCorrupt) {
		t.Error("expected OutputCorrupt finding")
	}
	if res.Stdout != "ok \uFFFD done" {
		t.Errorf("Stdout = %q, want sanitised output", res.Stdout)
	}
	assertWorkspaceGone(t, fx.workRoot)
}

func TestRun_MemoryFindings(t *testing.T) {
	fx := newSandboxFixture(t, helloSource)
	ex := &fakeExecutor{check: ProcessResult{Stderr: []byte(leakyReport)}}
	sb := newTestSandbox(ex, fx.workRoot, true)

	res, err := sb.Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Findings.Has(KindMemoryLeak) || !res.Findings.Has(KindMemoryError) {
		t.Errorf("findings = %v, want leak and error", res.Findings.List())
	}
	if res.ExitStatus != 0 {
		t.Errorf("ExitStatus = %d, memory findings must not alter it", res.ExitStatus)
	}
	assertWorkspaceGone(t, fx.workRoot)
}

func TestRun_MemoryCheckerTimeoutRecordsNothing(t *testing.T) {
	fx := newSandboxFixture(t, helloSource)
	ex := &fakeExecutor{check: ProcessResult{TimedOut: true, ExitStatus: -1}}
	sb := newTestSandbox(ex, fx.workRoot, true)

	res, err := sb.Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Findings.Has(KindMemoryLeak) || res.Findings.Has(KindMemoryError) {
		t.Errorf("findings = %v, want no memory findings", res.Findings.List())
	}
}

func TestRun_MemoryCheckerUnavailable(t *testing.T) {
	fx := newSandboxFixture(t, helloSource)
	ex := &fakeExecutor{checkErr: ErrExecutorFailure}
	sb := newTestSandbox(ex, fx.workRoot, true)

	res, err := sb.Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("Run: %v, a missing checker must not fail the attempt", err)
	}
	if res.Findings.Len() != 0 {
		t.Errorf("findings = %v", res.Findings.List())
	}
}

func TestRun_FixturesStagedAndSubmissionWins(t *testing.T) {
	fx := newSandboxFixture(t, helloSource)
	if err := os.Mkdir(fx.fixtures, 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(fx.fixtures, "input.txt"), []byte("1 2 3\n"), 0o644)
	os.WriteFile(filepath.Join(fx.fixtures, "lab1.c"), []byte("stale fixture copy"), 0o644)
	os.WriteFile(filepath.Join(fx.fixtures, "Makefile"), []byte("all:\n\tgcc -o $(TARGET) lab1.c\n"), 0o644)
	os.Mkdir(filepath.Join(fx.fixtures, "subdir"), 0o755)

	var seen string
	ex := &inspectingExecutor{fakeExecutor: &fakeExecutor{}, inspect: func(dir string) {
		data, _ := os.ReadFile(filepath.Join(dir, "lab1.c"))
		seen = string(data)
	}}
	sb := newTestSandbox(ex, fx.workRoot, false)

	res, err := sb.Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Recipe != "make" {
		t.Errorf("Recipe = %q, want make", res.Recipe)
	}
	if seen != helloSource {
		t.Errorf("lab1.c in workspace = %q, submission must overwrite the fixture", seen)
	}
	staged := strings.Join(ex.staged, ",")
	for _, want := range []string{"input.txt", "Makefile", "lab1.c"} {
		if !strings.Contains(staged, want) {
			t.Errorf("staged = %v, missing %s", ex.staged, want)
		}
	}
	if strings.Contains(staged, "subdir") {
		t.Errorf("staged = %v, directories must not be copied", ex.staged)
	}
	assertWorkspaceGone(t, fx.workRoot)
}

func TestRun_ReadOnlyFixtureDoesNotBlockSubmission(t *testing.T) {
	fx := newSandboxFixture(t, helloSource)
	if err := os.Mkdir(fx.fixtures, 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(fx.fixtures, "lab1.c"), []byte("read-only skeleton"), 0o444)
	os.WriteFile(filepath.Join(fx.fixtures, "expected.txt"), []byte("hi\n"), 0o444)

	var seen string
	ex := &inspectingExecutor{fakeExecutor: &fakeExecutor{}, inspect: func(dir string) {
		data, _ := os.ReadFile(filepath.Join(dir, "lab1.c"))
		seen = string(data)
	}}
	sb := newTestSandbox(ex, fx.workRoot, false)

	if _, err := sb.Run(context.Background(), fx.request()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seen != helloSource {
		t.Errorf("lab1.c in workspace = %q, submission must replace a read-only fixture", seen)
	}
	assertWorkspaceGone(t, fx.workRoot)
}

type inspectingExecutor struct {
	*fakeExecutor
	inspect func(dir string)
	once    sync.Once
}

func (e *inspectingExecutor) Run(ctx context.Context, cmd Command) (*ProcessResult, error) {
	e.once.Do(func() { e.inspect(cmd.Dir) })
	return e.fakeExecutor.Run(ctx, cmd)
}

func TestRun_MissingFixtureDirIsEmpty(t *testing.T) {
	fx := newSandboxFixture(t, helloSource)
	ex := &fakeExecutor{}
	sb := newTestSandbox(ex, fx.workRoot, false)

	if _, err := sb.Run(context.Background(), fx.request()); err != nil {
		t.Fatalf("Run with missing fixtures: %v", err)
	}
	if len(ex.staged) != 1 || ex.staged[0] != "lab1.c" {
		t.Errorf("staged = %v, want [lab1.c]", ex.staged)
	}
}

func TestRun_SuspiciousCodeFinding(t *testing.T) {
	fx := newSandboxFixture(t, "int main(void) { system(\"cat /etc/passwd\"); }\n")
	ex := &fakeExecutor{}
	sb := newTestSandbox(ex, fx.workRoot, false)

	res, err := sb.Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Findings.Has(KindSuspiciousCode) {
		t.Error("expected SuspiciousCode finding")
	}
	if !res.Compiled() {
		t.Error("suspicious code must not count as a compile failure")
	}
}

func TestRun_ExecutorFailureIsError(t *testing.T) {
	tests := []struct {
		name   string
		ex     *fakeExecutor
		wantOp string
	}{
		{"build", &fakeExecutor{buildErr: ErrExecutorFailure}, "build"},
		{"run", &fakeExecutor{runErr: ErrExecutorFailure}, "run"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newSandboxFixture(t, helloSource)
			sb := newTestSandbox(tt.ex, fx.workRoot, false)

			_, err := sb.Run(context.Background(), fx.request())
			var execErr *ExecutionError
			if !errors.As(err, &execErr) {
				t.Fatalf("err = %v, want *ExecutionError", err)
			}
			if execErr.Op != tt.wantOp {
				t.Errorf("Op = %q, want %q", execErr.Op, tt.wantOp)
			}
			if !errors.Is(err, ErrExecutorFailure) {
				t.Error("error should wrap ErrExecutorFailure")
			}
			assertWorkspaceGone(t, fx.workRoot)
		})
	}
}

func TestRun_WorkspaceCreationFailure(t *testing.T) {
	fx := newSandboxFixture(t, helloSource)
	sb := newTestSandbox(&fakeExecutor{}, filepath.Join(fx.workRoot, "missing"), false)

	_, err := sb.Run(context.Background(), fx.request())
	if !IsWorkspaceError(err) {
		t.Errorf("err = %v, want workspace error", err)
	}
}

func TestRun_InvalidRequest(t *testing.T) {
	fx := newSandboxFixture(t, helloSource)
	sb := newTestSandbox(&fakeExecutor{}, fx.workRoot, false)

	req := fx.request()
	req.Assignment = "../lab1"
	if _, err := sb.Run(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest", err)
	}
}
