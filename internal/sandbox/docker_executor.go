package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"mucsmake/pkg/seccomp"
)

const containerWorkdir = "/workspace"

// DockerExecutor runs every command in a throwaway container with the
// workspace bind-mounted, no network, no capabilities and the submission
// seccomp profile.
type DockerExecutor struct {
	Image      string
	Limits     ResourceLimits
	dockerHost string
	user       string
}

func NewDockerExecutor(image string, limits ResourceLimits) (*DockerExecutor, error) {
	if image == "" {
		return nil, fmt.Errorf("%w: docker image is empty", ErrInvalidRequest)
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDockerDown, err)
	}
	return &DockerExecutor{
		Image:      image,
		Limits:     limits,
		dockerHost: os.Getenv("DOCKER_HOST"),
		user:       fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
	}, nil
}

func (d *DockerExecutor) Run(ctx context.Context, cmd Command) (*ProcessResult, error) {
	if cmd.Dir == "" {
		return nil, fmt.Errorf("%w: docker commands need a host directory to mount", ErrInvalidRequest)
	}

	profile, err := seccomp.SubmissionProfileJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutorFailure, err)
	}
	// The profile lives outside the mounted workspace so the child cannot
	// rewrite it.
	profileFile, err := os.CreateTemp("", "mucs-seccomp-*.json")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutorFailure, err)
	}
	defer os.Remove(profileFile.Name())
	if _, err := profileFile.Write(profile); err != nil {
		profileFile.Close()
		return nil, fmt.Errorf("%w: write seccomp profile: %w", ErrExecutorFailure, err)
	}
	if err := profileFile.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutorFailure, err)
	}

	name := "mucs-" + uuid.New().String()
	args := d.buildDockerArgs(name, cmd.Dir, profileFile.Name(), cmd)

	// The container is kept until its state has been read.
	var removed atomic.Bool
	defer func() {
		if !removed.Load() {
			d.forceRemove(name)
		}
	}()

	execCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(execCtx, "docker", args...) // #nosec G204 -- args built by buildDockerArgs
	if d.dockerHost != "" {
		c.Env = append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
	}
	// Killing the docker client leaves the container running.
	c.Cancel = func() error {
		d.forceRemove(name)
		removed.Store(true)
		return c.Process.Kill()
	}
	c.WaitDelay = 5 * time.Second

	stdout := newCappedBuffer(maxStdoutBytes)
	stderr := newCappedBuffer(maxStderrBytes)
	c.Stdout = stdout
	c.Stderr = stderr

	logger := log.With().Str("container", name).Str("image", d.Image).Logger()
	logger.Debug().Str("cmd", cmd.Path).Msg("starting docker container")

	start := time.Now()
	err = c.Run()
	result := &ProcessResult{Duration: time.Since(start)}

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			logger.Debug().Dur("timeout", cmd.Timeout).Msg("container timed out, removed")
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
			return nil, fmt.Errorf("%w: docker run: %w", ErrExecutorFailure, err)
		}
		result.ExitStatus = exitErr.ExitCode()

		state, inspectErr := d.inspect(name)
		if dockerFailed(result.ExitStatus, state, inspectErr) {
			detail := strings.TrimSpace(string(stderr.Bytes()))
			if state.Error != "" {
				detail = state.Error
			}
			return nil, fmt.Errorf("%w: docker run: %s", ErrDockerDown, detail)
		}
		if state.OOMKilled {
			result.Signal = "SIGKILL"
		} else {
			result.Signal = signalFromExitStatus(result.ExitStatus)
		}
	}

	logger.Debug().Int("exit_code", result.ExitStatus).Dur("duration", result.Duration).Msg("docker execution completed")
	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()
	return result, nil
}

// containerState is the part of `docker inspect` that tells a child's own
// exit status apart from a container that never ran.
type containerState struct {
	Started   bool
	OOMKilled bool
	Error     string
}

const inspectFormat = "{{.State.StartedAt}}|{{.State.OOMKilled}}|{{.State.Error}}"

func (d *DockerExecutor) inspect(name string) (containerState, error) {
	c := exec.Command("docker", "inspect", "--format", inspectFormat, name) // #nosec G204 -- name is generated
	if d.dockerHost != "" {
		c.Env = append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
	}
	out, err := c.Output()
	if err != nil {
		return containerState{}, fmt.Errorf("docker inspect %s: %w", name, err)
	}
	return parseContainerState(string(out))
}

func parseContainerState(out string) (containerState, error) {
	parts := strings.SplitN(strings.TrimSpace(out), "|", 3)
	if len(parts) != 3 {
		return containerState{}, fmt.Errorf("unexpected docker inspect output %q", out)
	}
	return containerState{
		// Docker reports the zero time for containers that were created but never started.
		Started:   parts[0] != "" && !strings.HasPrefix(parts[0], "0001-01-01"),
		OOMKilled: parts[1] == "true",
		Error:     parts[2],
	}, nil
}

// dockerFailed reports whether a non-zero status came from Docker itself
// rather than from the child. Docker passes the child's status through
// unchanged, so 125 alone proves nothing once the container has started.
func dockerFailed(status int, state containerState, inspectErr error) bool {
	if inspectErr != nil {
		// No container to inspect: docker run gave up before creating one.
		return status == 125
	}
	return state.Error != "" || !state.Started
}

func (d *DockerExecutor) forceRemove(name string) {
	rm := exec.Command("docker", "rm", "-f", name) // #nosec G204 -- name is generated
	if d.dockerHost != "" {
		rm.Env = append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
	}
	if out, err := rm.CombinedOutput(); err != nil && !strings.Contains(string(out), "No such container") {
		log.Warn().Err(err).Str("container", name).Msg("failed to remove container")
	}
}

func (d *DockerExecutor) buildDockerArgs(name, hostDir, seccompPath string, cmd Command) []string {
	args := []string{
		"run",
		"--name", name,
		"--network", "none",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--security-opt", "seccomp=" + seccompPath,
	}
	args = append(args, d.Limits.dockerArgs()...)
	args = append(args,
		"-v", fmt.Sprintf("%s:%s:rw", filepath.Clean(hostDir), containerWorkdir),
		"-w", containerWorkdir,
		"-e", "HOME=/tmp",
		"-e", "LANG=C.UTF-8",
	)
	if d.user != "" {
		args = append(args, "--user", d.user)
	}
	args = append(args, d.Image, cmd.Path)
	args = append(args, cmd.Args...)
	return args
}
