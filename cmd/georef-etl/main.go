// Package main provides the CLI entry point for the georef ETL.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/cli"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/config"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/factory"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/fsys"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/georef"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/persistence"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/registry"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/scheduler"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitValidationError = 1
	ExitParseError      = 2
	ExitRuntimeError    = 3
)

// defaultConfigPath is read when --config is not given; a missing file
// means defaults plus environment overrides.
const defaultConfigPath = "config/georef.yaml"

var (
	// Build information (set via ldflags during build)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// exitError carries the process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// options holds the flags of one invocation.
type options struct {
	verbose    bool
	quiet      bool
	configPath string
	envFile    string
	workDir    string

	// run flags
	start       int
	end         int
	interactive bool

	stdout io.Writer
	stderr io.Writer
}

func (o *options) output() cli.OutputOptions {
	return cli.OutputOptions{Verbose: o.verbose, Quiet: o.quiet}
}

func (o *options) printf(format string, args ...any) {
	if !o.quiet {
		fmt.Fprintf(o.stdout, format, args...)
	}
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and returns its exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	logger.CloseLogFile()
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(stderr, "✗ %v\n", err)
	return ExitValidationError
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "georef-etl",
		Short: "georef-etl - Argentine georeferencing datasets ETL",
		Long: `georef-etl downloads the official georeferencing datasets (provinces,
departments, municipalities, localities, streets and their blocks),
reconciles them into canonical entity tables and exports them as JSON,
GeoJSON, CSV and NDJSON.

Examples:
  # Run every process
  georef-etl run

  # Run two processes with a configuration file
  georef-etl run provincias departamentos --config georef.yaml

  # Re-run the last steps of a process
  georef-etl run calles --start 5

  # Validate a configuration file
  georef-etl validate georef.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if opts.verbose {
				logger.SetLevel(slog.LevelDebug)
			} else if opts.quiet {
				logger.SetLevel(slog.LevelError)
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose output")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress non-error output")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "Configuration file (YAML or JSON)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Environment file loaded before the configuration")
	root.PersistentFlags().StringVar(&opts.workDir, "workdir", "", "Directory data, output, state and reports are relative to (default: current directory)")

	root.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newListCmd(opts),
		newStatusCmd(opts),
		newScheduleCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

// loadConfig loads the configuration selected by the flags. Parse and
// validation errors are printed and mapped to their exit codes.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return nil, exitWith(ExitRuntimeError, err)
	}

	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(opts.configPath); errors.Is(err, os.ErrNotExist) {
			cfg := config.Default()
			cfg.ApplyEnv(os.LookupEnv)
			return cfg, nil
		}
	}

	cfg, result, err := config.Load(opts.configPath)
	if err == nil {
		return cfg, nil
	}
	switch {
	case result != nil && len(result.ParseErrors) > 0:
		cli.PrintParseErrors(opts.stderr, result.ParseErrors, opts.verbose)
		return nil, exitWith(ExitParseError, err)
	case result != nil && len(result.ValidationErrors) > 0:
		cli.PrintValidationErrors(opts.stderr, result.ValidationErrors, opts.verbose, opts.quiet)
		return nil, exitWith(ExitValidationError, err)
	default:
		fmt.Fprintf(opts.stderr, "✗ Invalid configuration: %v\n", err)
		return nil, exitWith(ExitValidationError, err)
	}
}

func workDir(opts *options) (string, error) {
	if opts.workDir != "" {
		return filepath.Abs(opts.workDir)
	}
	return factory.WorkingDir()
}

// openRuntime loads the configuration, configures logging and opens the
// run collaborators.
func openRuntime(cmd *cobra.Command, opts *options) (*factory.Runtime, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	if err := factory.ConfigureLogging(cfg.Logging, opts.verbose, opts.quiet); err != nil {
		return nil, exitWith(ExitRuntimeError, err)
	}
	root, err := workDir(opts)
	if err != nil {
		return nil, exitWith(ExitRuntimeError, err)
	}
	rt, err := factory.Open(cmd.Context(), cfg, root)
	if err != nil {
		fmt.Fprintf(opts.stderr, "✗ %v\n", err)
		return nil, exitWith(ExitRuntimeError, err)
	}
	return rt, nil
}

// =============================================================================
// run
// =============================================================================

func newRunCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [process...]",
		Short: "Run processes",
		Long: `Run the named processes in the order given. Without names, the
configured process list runs, or every process in dependency order.

Flags:
  --start N        First step of every process (1-indexed)
  --end M          Last step of every process
  --interactive    Keep existing downloads and skip coverage percentages

Exit codes:
  0 - Every process succeeded
  1 - Validation errors (configuration, unknown process)
  2 - Parse errors
  3 - Runtime errors (a process failed)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out, err := rt.Run(ctx, factory.RunRequest{
				Processes:   args,
				Start:       opts.start,
				End:         opts.end,
				Interactive: opts.interactive,
			})
			if err != nil {
				fmt.Fprintf(opts.stderr, "✗ %v\n", err)
				if errors.Is(err, registry.ErrUnknownProcess) {
					return exitWith(ExitValidationError, err)
				}
				return exitWith(ExitRuntimeError, err)
			}

			w := opts.stdout
			if out.Err() != nil {
				w = opts.stderr
			}
			cli.PrintRunResults(w, out.Report, out.Results, out.ReportPath, opts.output())
			if err := out.Err(); err != nil {
				return exitWith(ExitRuntimeError, err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.start, "start", 0, "First step to run (1-indexed)")
	cmd.Flags().IntVar(&opts.end, "end", 0, "Last step to run")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "Interactive mode")
	return cmd
}

// =============================================================================
// validate
// =============================================================================

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file against the schema.

Supports both JSON and YAML formats. The format is auto-detected
based on file extension (.json, .yaml, .yml) or content.

Exit codes:
  0 - Configuration is valid
  1 - Validation errors (schema violations)
  2 - Parse errors (invalid JSON/YAML syntax)`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := args[0]
			opts.printf("Validating configuration: %s\n", path)

			result := config.ParseConfig(path)
			if len(result.ParseErrors) > 0 {
				cli.PrintParseErrors(opts.stderr, result.ParseErrors, opts.verbose)
				return exitWith(ExitParseError, result.ParseErrors[0])
			}
			if len(result.ValidationErrors) > 0 {
				cli.PrintValidationErrors(opts.stderr, result.ValidationErrors, opts.verbose, opts.quiet)
				return exitWith(ExitValidationError, result.ValidationErrors[0])
			}
			cfg, err := config.ConvertToConfig(result.Data)
			if err != nil {
				fmt.Fprintf(opts.stderr, "✗ Invalid configuration: %v\n", err)
				return exitWith(ExitValidationError, err)
			}
			for _, name := range append(append([]string{}, cfg.Processes...), cfg.Schedule.Processes...) {
				if registry.Get(name) == nil {
					err := fmt.Errorf("%w: %q", registry.ErrUnknownProcess, name)
					fmt.Fprintf(opts.stderr, "✗ Invalid configuration: %v\n", err)
					return exitWith(ExitValidationError, err)
				}
			}

			opts.printf("✓ Configuration is valid (format: %s)\n", result.Format)
			if opts.verbose {
				opts.printf("  Database: %s\n", cfg.Database.Driver)
				opts.printf("  Mode: %s\n", cfg.Mode)
				if cfg.Schedule.Cron != "" {
					opts.printf("  Schedule: %s\n", cfg.Schedule.Cron)
				}
			}
			return nil
		},
	}
}

// =============================================================================
// list / status
// =============================================================================

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List processes in dependency order",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			processes, err := registry.Build(nil, georef.Options{})
			if err != nil {
				return exitWith(ExitRuntimeError, err)
			}
			cli.PrintProcessList(opts.stdout, processes, opts.verbose)
			return nil
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last run of every process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			root, err := workDir(opts)
			if err != nil {
				return exitWith(ExitRuntimeError, err)
			}
			fs, err := fsys.NewOSFS(root)
			if err != nil {
				return exitWith(ExitRuntimeError, err)
			}
			states, err := persistence.NewStateStore(fs, cfg.Paths.State).List()
			if err != nil {
				fmt.Fprintf(opts.stderr, "✗ %v\n", err)
				return exitWith(ExitRuntimeError, err)
			}
			cli.PrintStatus(opts.stdout, states)
			return nil
		},
	}
}

// =============================================================================
// schedule
// =============================================================================

func newScheduleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the configured processes on the configured CRON schedule",
		Long: `Run the processes listed under schedule.processes (or every process)
each time schedule.cron fires, until interrupted. A tick that fires while
the previous run is still in progress is skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			job := &scheduler.Job{
				Name:      "georef",
				Schedule:  rt.Config.Schedule.Cron,
				Processes: rt.Config.Schedule.Processes,
				Enabled:   true,
			}
			s := scheduler.NewWithExecutor(scheduler.ExecutorFunc(func(ctx context.Context, job *scheduler.Job) error {
				out, err := rt.Run(ctx, factory.RunRequest{Processes: job.Processes})
				if err != nil {
					return err
				}
				return out.Err()
			}))
			if err := s.Register(job); err != nil {
				fmt.Fprintf(opts.stderr, "✗ %v\n", err)
				return exitWith(ExitValidationError, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := s.Start(ctx); err != nil {
				return exitWith(ExitRuntimeError, err)
			}
			if next, ok := s.NextRun(job.Name); ok {
				opts.printf("Scheduled %q, next run at %s\n", job.Schedule, next.Format("2006-01-02 15:04:05"))
			}

			<-ctx.Done()
			opts.printf("Stopping scheduler...\n")
			if err := s.Stop(context.Background()); err != nil {
				return exitWith(ExitRuntimeError, err)
			}
			return nil
		},
	}
}

// =============================================================================
// version
// =============================================================================

func newVersionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print version, commit hash, and build date information.",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(opts.stdout, "Version: %s\n", version)
			fmt.Fprintf(opts.stdout, "Commit: %s\n", commit)
			fmt.Fprintf(opts.stdout, "Build Date: %s\n", buildDate)
		},
	}
}
