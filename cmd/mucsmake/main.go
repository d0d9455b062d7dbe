package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"mucsmake/internal/config"
	"mucsmake/internal/monitor"
	"mucsmake/internal/pipeline"
	"mucsmake/internal/placement"
	"mucsmake/internal/report"
	"mucsmake/internal/sandbox"
	"mucsmake/internal/storage"
	"mucsmake/internal/toolchain"
)

type rootOptions struct {
	configPath string
	user       string
	verbose    bool
	stdout     io.Writer
	stderr     io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	setupConsoleLogging(stderr, false)
	root := newRootCmd(&rootOptions{stdout: stdout, stderr: stderr})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		var uerr *usageError
		if errors.As(err, &uerr) {
			fmt.Fprintf(stderr, "Error: %s\n%s", uerr.Err, root.UsageString())
		} else {
			fmt.Fprintf(stderr, "Error: %s\n", err)
		}
	}
	return exitCode(err)
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "mucsmake <course> <assignment> <file>",
		Short: "Submit a C program for an assignment",
		Long: "mucsmake validates a submission, builds and runs it in a throwaway sandbox,\n" +
			"files it into the grading tree and records the attempt.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 3 {
				return &usageError{Err: fmt.Errorf("too few arguments: want <course> <assignment> <file>, got %d", len(args))}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), opts, args[0], args[1], args[2])
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{Err: err}
	})

	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.toml", "Config file (.toml, .yaml or .yml)")
	root.PersistentFlags().StringVar(&opts.user, "user", "", "Act as this identity instead of the current OS user (root or general.operators only)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log info messages to the console")

	root.AddCommand(newInitConfigCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newAssignmentCmd(opts))
	root.AddCommand(newRosterCmd(opts))
	return root
}

func runSubmit(ctx context.Context, opts *rootOptions, course, assignmentName, file string) error {
	if info, err := os.Stat(file); err == nil && info.IsDir() {
		return &usageError{Err: fmt.Errorf("%s is a directory, expected a source file", file)}
	}

	env, err := openEnv(ctx, opts)
	if err != nil {
		return err
	}
	defer env.close()
	cfg := env.cfg

	if course != cfg.General.InstanceCode {
		log.Warn().Str("course", course).Str("instance", cfg.General.InstanceCode).Msg("course argument does not match the configured instance")
	}

	executor, err := sandbox.NewExecutor(cfg)
	if err != nil {
		return err
	}

	metrics := monitor.NewMetrics()
	tracer := monitor.NewTracer()
	defer func() {
		if err := metrics.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
			log.Warn().Err(err).Str("path", cfg.Metrics.TextfilePath).Msg("failed to write metrics textfile")
		}
	}()

	sbOpts := sandbox.Options{
		WorkRoot:     cfg.Paths.WorkRoot,
		BinaryName:   cfg.Sandbox.BinaryName,
		BuildTimeout: cfg.Sandbox.BuildTimeout.Duration,
		RunTimeout:   cfg.Sandbox.RunTimeout.Duration,
		Tracer:       tracer,
		Metrics:      metrics,
	}
	if cfg.MemoryChecker.Enabled {
		sbOpts.MemoryChecker = &sandbox.MemoryChecker{Command: cfg.MemoryChecker.Command, Args: cfg.MemoryChecker.Args}
	}
	if cfg.Sandbox.ScanSource {
		sbOpts.Scanner = monitor.NewCodeScanner()
	}
	recipes := toolchain.NewRegistry(cfg.Sandbox.MakeCommand, cfg.Sandbox.Compiler, cfg.Sandbox.CFlags)

	p := pipeline.New(pipeline.Options{
		Store:       env.store,
		Sandbox:     sandbox.New(executor, recipes, sbOpts),
		Placement:   placement.NewEngine(cfg.SubmissionsRoot(), cfg.Paths.ValidDir, cfg.Paths.InvalidDir),
		CheckHeader: cfg.General.CheckLabHeader,
		FixturesDir: cfg.FixturesDir,
		Tracer:      tracer,
		Metrics:     metrics,
	})

	if info, err := os.Stat(file); err == nil {
		metrics.SubmissionBytes.Observe(float64(info.Size()))
	}

	out, err := p.Process(ctx, pipeline.Attempt{
		Identity:       env.identity,
		Assignment:     assignmentName,
		SubmissionPath: file,
	})
	if err != nil {
		return err
	}
	return report.Write(opts.stdout, out.Summary(cfg.General.InstanceCode, env.identity, filepath.Base(file)))
}

// env is the per-invocation state shared by every command that touches the
// store.
type env struct {
	cfg      *config.Config
	store    storage.Store
	identity string
}

func openEnv(ctx context.Context, opts *rootOptions) (*env, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := setupLogging(opts.stderr, opts.verbose, cfg.General.LogFile); err != nil {
		log.Warn().Err(err).Str("path", cfg.General.LogFile).Msg("file logging disabled")
	}

	identity, err := resolveIdentity(opts.user, cfg.General.Operators)
	if err != nil {
		return nil, &pipeline.ConfigError{Op: "resolve identity", Err: err}
	}

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, &pipeline.ConfigError{Op: "open database", Err: err}
	}
	log.Debug().Str("driver", cfg.Database.Driver).Str("identity", identity).Msg("environment ready")
	return &env{cfg: cfg, store: store, identity: identity}, nil
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		log.Warn().Err(err).Msg("closing database")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, &pipeline.ConfigError{
			Op:  "load config",
			Err: fmt.Errorf("%s does not exist; create one with `mucsmake init-config %s`", path, path),
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, &pipeline.ConfigError{Op: "load config", Err: err}
	}
	return cfg, nil
}

// errIdentityOverride is a --user override by someone who is neither root
// nor a configured operator.
var errIdentityOverride = errors.New("--user is reserved for operators")

// resolveIdentity returns the invoking OS user unless an operator asked to
// act for someone else. Students can only ever submit as themselves.
func resolveIdentity(override string, operators []string) (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	if override == "" || override == u.Username {
		return u.Username, nil
	}
	if os.Geteuid() != 0 && !slices.Contains(operators, u.Username) {
		return "", fmt.Errorf("%w: %s may not act as %s", errIdentityOverride, u.Username, override)
	}
	log.Info().Str("operator", u.Username).Str("identity", override).Msg("acting for another identity")
	return override, nil
}
