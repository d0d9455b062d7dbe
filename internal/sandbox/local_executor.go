package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// LocalExecutor runs commands directly on the host. Each child gets its own
// process group so a timeout kills everything it forked.
type LocalExecutor struct {
	// Env, when non-nil, replaces the inherited environment.
	Env []string
}

func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{}
}

func (l *LocalExecutor) Run(ctx context.Context, cmd Command) (*ProcessResult, error) {
	execCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(execCtx, cmd.Path, cmd.Args...) // #nosec G204 -- argv built by toolchain recipes, not a shell
	c.Dir = cmd.Dir
	c.Env = l.Env
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		// Negative pid targets the whole process group.
		return unix.Kill(-c.Process.Pid, unix.SIGKILL)
	}
	// Grandchildren that inherited stdout must not hold Wait open forever.
	c.WaitDelay = 2 * time.Second

	stdout := newCappedBuffer(maxStdoutBytes)
	stderr := newCappedBuffer(maxStderrBytes)
	c.Stdout = stdout
	c.Stderr = stderr

	start := time.Now()
	err := c.Run()
	result := &ProcessResult{
		Duration: time.Since(start),
	}
	if c.Process != nil {
		killGroup(c.Process.Pid)
	}

	// A background child still holding stdout past WaitDelay is not a
	// failure of the command itself.
	if errors.Is(err, exec.ErrWaitDelay) {
		log.Debug().Str("cmd", cmd.Path).Msg("child left descendants holding its output, process group killed")
		err = nil
	}

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			log.Debug().Str("cmd", cmd.Path).Dur("timeout", cmd.Timeout).Msg("child timed out, process group killed")
			result.TimedOut = true
			result.ExitStatus = -1
			result.Stdout = stdout.Bytes()
			result.Stderr = stderr.Bytes()
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrExecutorFailure, cmd.Path, ctx.Err())
		}

		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s: %w", ErrExecutorFailure, cmd.Path, err)
		}
	}
	if c.ProcessState != nil {
		result.ExitStatus = c.ProcessState.ExitCode()
		if ws, ok := c.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			result.Signal = unix.SignalName(ws.Signal())
			result.ExitStatus = 128 + int(ws.Signal())
		}
	}

	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()
	return result, nil
}

// killGroup reaps whatever the child left running in its process group.
func killGroup(pgid int) {
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		log.Warn().Err(err).Int("pgid", pgid).Msg("failed to kill process group")
	}
}

// signalFromExitStatus maps the shell convention 128+N back to a signal
// name. Container runtimes report signalled children this way.
func signalFromExitStatus(status int) string {
	if status <= 128 || status > 128+64 {
		return ""
	}
	return unix.SignalName(syscall.Signal(status - 128))
}
