package sandbox

import (
	"context"
	"time"
	"unicode/utf8"
)

// Command is one child process invocation.
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// ProcessResult is what an Executor observed about a finished child.
type ProcessResult struct {
	ExitStatus int
	Stdout     []byte
	Stderr     []byte
	Signal     string // e.g. "SIGSEGV"; empty unless killed by a signal
	TimedOut   bool
	Duration   time.Duration
}

// Executor runs child processes. Run blocks until the child exits or
// cmd.Timeout expires, in which case the child is killed and TimedOut is
// set. A non-nil error means the process could not be run at all.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*ProcessResult, error)
}

const (
	maxStdoutBytes = 1 << 20   // 1MB
	maxStderrBytes = 256 << 10 // 256KB
)

// cappedBuffer keeps the first max bytes written to it and silently drops
// the rest so a runaway child cannot exhaust memory.
type cappedBuffer struct {
	buf       []byte
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.max - len(b.buf)
	if room <= 0 {
		b.truncated = len(p) > 0 || b.truncated
		return len(p), nil
	}
	if len(p) > room {
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	if !b.truncated {
		return b.buf
	}
	kept := trimPartialRune(b.buf)
	return append(kept[:len(kept):len(kept)], "\n... [output truncated]"...)
}

// trimPartialRune drops a trailing multi-byte rune that the cap cut short.
// Bytes that were already invalid are left for the UTF-8 check to report.
func trimPartialRune(p []byte) []byte {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if !utf8.FullRune(p[i:]) {
				return p[:i]
			}
			return p
		}
	}
	return p
}
