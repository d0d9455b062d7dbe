package sandbox

import (
	"fmt"
	"os/exec"

	"github.com/rs/zerolog/log"

	"mucsmake/internal/config"
)

// NewExecutor picks the process executor named by sandbox.backend.
func NewExecutor(cfg *config.Config) (Executor, error) {
	switch cfg.Sandbox.Backend {
	case "", "local":
		return NewLocalExecutor(), nil
	case "docker":
		return newDockerBackend(cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q: must be local or docker", cfg.Sandbox.Backend)
	}
}

func newDockerBackend(cfg *config.Config) (Executor, error) {
	if err := exec.Command("docker", "info").Run(); err != nil { // #nosec G204 -- fixed argv
		return nil, fmt.Errorf("%w: docker daemon not reachable: %w", ErrDockerDown, err)
	}
	d, err := NewDockerExecutor(cfg.Sandbox.DockerImage, LimitsFromConfig(cfg.Sandbox.Limits))
	if err != nil {
		return nil, err
	}
	log.Debug().Str("image", d.Image).Msg("using docker executor")
	return d, nil
}
