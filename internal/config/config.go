package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all mucsmake configuration. It is loaded once at startup and
// passed explicitly to every component.
type Config struct {
	General       GeneralConfig       `yaml:"general" toml:"general"`
	Paths         PathsConfig         `yaml:"paths" toml:"paths"`
	Sandbox       SandboxConfig       `yaml:"sandbox" toml:"sandbox"`
	MemoryChecker MemoryCheckerConfig `yaml:"memory_checker" toml:"memory_checker"`
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	Metrics       MetricsConfig       `yaml:"metrics" toml:"metrics"`
}

type GeneralConfig struct {
	InstanceCode   string   `yaml:"mucsv2_instance_code" toml:"mucsv2_instance_code"`
	CheckLabHeader bool     `yaml:"check_lab_header" toml:"check_lab_header" comment:"Checks for a C header file corresponding to the lab name in the submission."`
	LogFile        string   `yaml:"log_file" toml:"log_file"`
	Operators      []string `yaml:"operators" toml:"operators" comment:"OS users allowed to submit or view history as another identity with --user. root always may."`

	// RunValgrind is the pre-[memory_checker] location of run_valgrind.
	// When present it overrides memory_checker.run_valgrind.
	RunValgrind *bool `yaml:"run_valgrind,omitempty" toml:"run_valgrind,omitempty"`
}

type PathsConfig struct {
	BasePath               string `yaml:"base_path" toml:"base_path"`
	LabSubmissionDirectory string `yaml:"lab_submission_directory" toml:"lab_submission_directory"`
	TestFilesDirectory     string `yaml:"test_files_directory" toml:"test_files_directory"`
	ValidDir               string `yaml:"valid_dir" toml:"valid_dir" comment:"All valid submissions go here within your grader's submission folder."`
	InvalidDir             string `yaml:"invalid_dir" toml:"invalid_dir" comment:"All invalid submissions go here within your grader's submission folder."`
	WorkRoot               string `yaml:"work_root" toml:"work_root" comment:"Parent of the ephemeral build directories. Empty means the system temp dir."`
}

type SandboxConfig struct {
	Backend      string        `yaml:"backend" toml:"backend"` // "local" (default) or "docker"
	Compiler     string        `yaml:"compiler" toml:"compiler"`
	CFlags       []string      `yaml:"cflags" toml:"cflags"`
	MakeCommand  string        `yaml:"make_command" toml:"make_command"`
	BinaryName   string        `yaml:"binary_name" toml:"binary_name"`
	BuildTimeout Duration      `yaml:"build_timeout" toml:"build_timeout"`
	RunTimeout   Duration      `yaml:"run_timeout" toml:"run_timeout"`
	DockerImage  string        `yaml:"docker_image" toml:"docker_image"`
	Limits       DefaultLimits `yaml:"limits" toml:"limits"`
	ScanSource   bool          `yaml:"scan_source" toml:"scan_source"`
}

type DefaultLimits struct {
	CPUShares int64 `yaml:"cpu_shares" toml:"cpu_shares"`
	MemoryMB  int64 `yaml:"memory_mb" toml:"memory_mb"`
	PidsLimit int64 `yaml:"pids_limit" toml:"pids_limit"`
	DiskMB    int64 `yaml:"disk_mb" toml:"disk_mb"`
}

// MemoryCheckerConfig configures the optional valgrind pass.
type MemoryCheckerConfig struct {
	Enabled bool     `yaml:"run_valgrind" toml:"run_valgrind"`
	Command string   `yaml:"command" toml:"command"`
	Args    []string `yaml:"args" toml:"args"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // "sqlite" or "postgres"
	Path   string `yaml:"db_path" toml:"db_path"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path" toml:"textfile_path" comment:"node_exporter textfile collector output. Empty disables metrics."`
}

// Duration wraps time.Duration so it round-trips as "5s" in both YAML and TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// Load reads configuration from a YAML or TOML file, chosen by extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .toml, .yaml or .yml)", ext)
	}

	if legacy := cfg.General.RunValgrind; legacy != nil {
		log.Warn().Bool("run_valgrind", *legacy).Str("path", path).
			Msg("general.run_valgrind is deprecated, move it to memory_checker.run_valgrind")
		cfg.MemoryChecker.Enabled = *legacy
		cfg.General.RunValgrind = nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes DefaultConfig to path in the format implied by its extension.
// An existing file is never overwritten.
func WriteDefault(path string) error {
	cfg := DefaultConfig()

	var data []byte
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		var buf bytes.Buffer
		enc := toml.NewEncoder(&buf)
		enc.SetIndentTables(true)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encoding default config: %w", err)
		}
		data = buf.Bytes()
	case ".yaml", ".yml":
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encoding default config: %w", err)
		}
		data = out
	default:
		return fmt.Errorf("unsupported config format %q (want .toml, .yaml or .yml)", ext)
	}

	f, err := os.OpenFile(filepath.Clean(path), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644) // #nosec G302 -- config is not secret
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// DefaultConfig returns the stock course configuration.
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			CheckLabHeader: true,
			LogFile:        "mucs_startup.log",
			Operators:      []string{},
		},
		Paths: PathsConfig{
			BasePath:               "/cluster/pixstor/class/",
			LabSubmissionDirectory: "submissions",
			TestFilesDirectory:     "data/test_files",
			ValidDir:               ".valid",
			InvalidDir:             ".invalid",
		},
		Sandbox: SandboxConfig{
			Backend:      "local",
			Compiler:     "gcc",
			CFlags:       []string{"-Wall", "-g"},
			MakeCommand:  "make",
			BinaryName:   "a.out",
			BuildTimeout: Duration{60 * time.Second},
			RunTimeout:   Duration{5 * time.Second},
			DockerImage:  "docker.io/library/gcc:14",
			Limits: DefaultLimits{
				CPUShares: 512,
				MemoryMB:  256,
				PidsLimit: 50,
				DiskMB:    100,
			},
			ScanSource: true,
		},
		MemoryChecker: MemoryCheckerConfig{
			Enabled: true,
			Command: "valgrind",
			Args:    []string{"--leak-check=full"},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "data/mucs.db",
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.General.InstanceCode == "" {
		return fmt.Errorf("general.mucsv2_instance_code is required")
	}
	if strings.ContainsAny(c.General.InstanceCode, `/\`) {
		return fmt.Errorf("general.mucsv2_instance_code must not contain path separators")
	}
	if c.Paths.BasePath == "" {
		return fmt.Errorf("paths.base_path is required")
	}
	if c.Paths.ValidDir == "" || c.Paths.InvalidDir == "" {
		return fmt.Errorf("paths.valid_dir and paths.invalid_dir are required")
	}
	if c.Paths.ValidDir == c.Paths.InvalidDir {
		return fmt.Errorf("paths.valid_dir and paths.invalid_dir must differ, both are %q", c.Paths.ValidDir)
	}
	if c.Paths.WorkRoot != "" && !filepath.IsAbs(c.Paths.WorkRoot) {
		return fmt.Errorf("paths.work_root: %q must be an absolute path", c.Paths.WorkRoot)
	}
	switch c.Sandbox.Backend {
	case "", "local":
	case "docker":
		if c.Sandbox.DockerImage == "" {
			return fmt.Errorf("sandbox.docker_image is required for the docker backend")
		}
		if c.Sandbox.Limits.MemoryMB < 16 {
			return fmt.Errorf("sandbox.limits.memory_mb must be >= 16")
		}
	default:
		return fmt.Errorf("unknown sandbox.backend %q: must be local or docker", c.Sandbox.Backend)
	}
	if c.Sandbox.Compiler == "" {
		return fmt.Errorf("sandbox.compiler is required")
	}
	if c.Sandbox.BinaryName == "" || strings.ContainsAny(c.Sandbox.BinaryName, `/\`) {
		return fmt.Errorf("sandbox.binary_name must be a plain file name, got %q", c.Sandbox.BinaryName)
	}
	if c.Sandbox.RunTimeout.Duration <= 0 {
		return fmt.Errorf("sandbox.run_timeout must be positive")
	}
	if c.Sandbox.BuildTimeout.Duration <= 0 {
		return fmt.Errorf("sandbox.build_timeout must be positive")
	}
	if c.MemoryChecker.Enabled && c.MemoryChecker.Command == "" {
		return fmt.Errorf("memory_checker.command is required when run_valgrind is enabled")
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.db_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
		if strings.Contains(c.Database.DSN, "sslmode=disable") {
			log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
		}
	default:
		return fmt.Errorf("unknown database.driver %q: must be sqlite or postgres", c.Database.Driver)
	}
	return nil
}

// InstanceRoot is <base_path>/<instance_code>.
func (c *Config) InstanceRoot() string {
	return filepath.Join(c.Paths.BasePath, c.General.InstanceCode)
}

// SubmissionsRoot is the root of the grading tree.
func (c *Config) SubmissionsRoot() string {
	return filepath.Join(c.InstanceRoot(), c.Paths.LabSubmissionDirectory)
}

// FixturesDir returns the fixture directory for an assignment.
func (c *Config) FixturesDir(assignment string) string {
	return filepath.Join(c.InstanceRoot(), c.Paths.TestFilesDirectory, assignment)
}

// DatabasePath resolves a relative sqlite path against the instance root.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Database.Path) {
		return c.Database.Path
	}
	return filepath.Join(c.InstanceRoot(), c.Database.Path)
}
