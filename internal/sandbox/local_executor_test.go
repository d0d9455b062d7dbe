package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestLocalExecutor_ExitStatusAndOutput(t *testing.T) {
	requireShell(t)
	ex := NewLocalExecutor()

	res, err := ex.Run(context.Background(), Command{
		Path:    "sh",
		Args:    []string{"-c", "echo out; echo err >&2; exit 3"},
		Dir:     t.TempDir(),
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitStatus != 3 {
		t.Errorf("ExitStatus = %d, want 3", res.ExitStatus)
	}
	if string(res.Stdout) != "out\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if string(res.Stderr) != "err\n" {
		t.Errorf("Stderr = %q", res.Stderr)
	}
	if res.Signal != "" || res.TimedOut {
		t.Errorf("Signal=%q TimedOut=%v, want neither", res.Signal, res.TimedOut)
	}
}

func TestLocalExecutor_Signal(t *testing.T) {
	requireShell(t)
	ex := NewLocalExecutor()

	res, err := ex.Run(context.Background(), Command{
		Path:    "sh",
		Args:    []string{"-c", "kill -SEGV $$"},
		Dir:     t.TempDir(),
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Signal != "SIGSEGV" {
		t.Errorf("Signal = %q, want SIGSEGV", res.Signal)
	}
	if res.ExitStatus != 139 {
		t.Errorf("ExitStatus = %d, want 139", res.ExitStatus)
	}
}

func TestLocalExecutor_TimeoutKillsGroup(t *testing.T) {
	requireShell(t)
	ex := NewLocalExecutor()

	start := time.Now()
	res, err := ex.Run(context.Background(), Command{
		Path:    "sh",
		Args:    []string{"-c", "sleep 30 & sleep 30; wait"},
		Dir:     t.TempDir(),
		Timeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut {
		t.Error("TimedOut = false")
	}
	if res.Signal != "" {
		t.Errorf("Signal = %q, a timeout must not look like a crash", res.Signal)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Run took %s, background child kept it alive", elapsed)
	}
}

func TestLocalExecutor_MissingBinary(t *testing.T) {
	ex := NewLocalExecutor()
	_, err := ex.Run(context.Background(), Command{
		Path: "./does-not-exist",
		Dir:  t.TempDir(),
	})
	if !errors.Is(err, ErrExecutorFailure) {
		t.Errorf("err = %v, want ErrExecutorFailure", err)
	}
}

func TestLocalExecutor_OutputCapped(t *testing.T) {
	requireShell(t)
	ex := NewLocalExecutor()

	res, err := ex.Run(context.Background(), Command{
		Path:    "sh",
		Args:    []string{"-c", "yes | head -c 2000000"},
		Dir:     t.TempDir(),
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Stdout) > maxStdoutBytes+64 {
		t.Errorf("len(Stdout) = %d, want capped near %d", len(res.Stdout), maxStdoutBytes)
	}
	if !strings.HasSuffix(string(res.Stdout), "[output truncated]") {
		t.Error("truncated output should be marked")
	}
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(5)
	n, err := b.Write([]byte("abc"))
	if n != 3 || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}
	n, _ = b.Write([]byte("defgh"))
	if n != 5 {
		t.Errorf("Write reported %d, must report full length", n)
	}
	if got := string(b.Bytes()); got != "abcde\n... [output truncated]" {
		t.Errorf("Bytes() = %q", got)
	}
}

func TestCappedBuffer_KeepsRuneBoundary(t *testing.T) {
	tests := []struct {
		name   string
		max    int
		writes []string
		want   string
	}{
		{"cut inside two-byte rune", 4, []string{"abcé"}, "abc"},
		{"cut inside four-byte rune", 5, []string{"ab", "😀x"}, "ab"},
		{"cut after full rune", 5, []string{"abcé!"}, "abcé"},
		{"invalid byte kept", 4, []string{"ab\xffcd"}, "ab\xffc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newCappedBuffer(tt.max)
			for _, w := range tt.writes {
				b.Write([]byte(w))
			}
			got := string(b.Bytes())
			want := tt.want + "\n... [output truncated]"
			if got != want {
				t.Errorf("Bytes() = %q, want %q", got, want)
			}
		})
	}

	b := newCappedBuffer(4)
	b.Write([]byte("abcé"))
	if !utf8.Valid(b.Bytes()) {
		t.Error("truncating valid UTF-8 must keep it valid")
	}
}

// processGone reports whether pid has exited. A killed orphan may linger as a
// zombie until init reaps it; that counts as gone.
func processGone(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	stat := string(data)
	i := strings.LastIndexByte(stat, ')')
	return i >= 0 && i+2 < len(stat) && stat[i+2] == 'Z'
}

func TestLocalExecutor_BackgroundChildDoesNotFailRun(t *testing.T) {
	requireShell(t)
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("no /proc")
	}
	dir := t.TempDir()
	ex := NewLocalExecutor()

	res, err := ex.Run(context.Background(), Command{
		Path:    "sh",
		Args:    []string{"-c", "sleep 30 & echo $! > bg.pid; echo hi; exit 0"},
		Dir:     dir,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run with a background child: %v", err)
	}
	if res.ExitStatus != 0 || res.TimedOut || res.Signal != "" {
		t.Errorf("result = %+v, want clean exit", res)
	}
	if !strings.Contains(string(res.Stdout), "hi") {
		t.Errorf("Stdout = %q, want hi", res.Stdout)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "bg.pid"))
	if err != nil {
		t.Fatal(err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !processGone(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("background child %d survived the run", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
