// Package factory builds the collaborators of a run from configuration:
// the file system, the database, the geometry engine, the run state store
// and the report mailer. It centralizes the wiring shared by the CLI run
// command and the scheduler.
//
// # Running Processes
//
// Runtime.Run resolves process names through the registry, runs them one
// after another in a single execution context, then saves the run report,
// records its path in the state of each process and mails it when email
// is configured.
package factory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/config"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/fsys"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/geometry"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/georef"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/persistence"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/registry"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/report"
)

// ErrNilConfig is returned when building a runtime without configuration.
var ErrNilConfig = errors.New("configuration is nil")

// Runtime holds the long-lived collaborators of runs.
type Runtime struct {
	Config *config.Config
	FS     fsys.FS
	DB     *database.DB
	State  *persistence.StateStore

	// Mailer is nil when email is not configured
	Mailer *report.Mailer

	// Now is replaced in tests
	Now func() time.Time
}

// DatabaseConfig converts the database section of the configuration.
func DatabaseConfig(cfg config.DatabaseConfig) database.Config {
	return database.Config{
		Driver:          cfg.Driver,
		URL:             cfg.URL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnectTimeout:  cfg.ConnectTimeout,
	}
}

// EmailConfig converts the report email section of the configuration.
func EmailConfig(cfg config.EmailConfig) report.EmailConfig {
	return report.EmailConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		From:     cfg.From,
		To:       cfg.To,
	}
}

// Mode returns the run mode: interactive when forced or configured.
func Mode(cfg *config.Config, interactive bool) etl.Mode {
	if interactive || (cfg != nil && cfg.Mode == string(etl.ModeInteractive)) {
		return etl.ModeInteractive
	}
	return etl.ModeNormal
}

// NewGeometryEngine returns PostGIS for postgres databases and the planar
// engine otherwise. Interactive runs skip intersection percentages.
func NewGeometryEngine(db *database.DB, mode etl.Mode) geometry.Engine {
	var engine geometry.Engine = geometry.NewPlanarEngine()
	if db != nil && db.Driver() == database.DriverPostgres {
		engine = geometry.NewPostGISEngine(db)
	}
	if mode == etl.ModeInteractive {
		return geometry.Interactive{Engine: engine}
	}
	return engine
}

// ConfigureLogging applies the logging section of the configuration.
// Flags win over the configured level: verbose forces debug and quiet
// forces errors only.
func ConfigureLogging(cfg config.LoggingConfig, verbose, quiet bool) error {
	level := ParseLevel(cfg.Level)
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}
	format := logger.FormatJSON
	if strings.EqualFold(cfg.Format, "human") {
		format = logger.FormatHuman
	}
	if cfg.File != "" {
		return logger.SetLogFile(cfg.File, level, format)
	}
	logger.SetLevelAndFormat(level, format)
	return nil
}

// ParseLevel maps a level name to a slog level; unknown names are info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Open builds a runtime rooted at the working directory root.
func Open(ctx context.Context, cfg *config.Config, root string) (*Runtime, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	fs, err := fsys.NewOSFS(root)
	if err != nil {
		return nil, fmt.Errorf("opening working directory: %w", err)
	}
	db, err := database.Open(ctx, DatabaseConfig(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return New(cfg, fs, db), nil
}

// New builds a runtime from already opened collaborators.
func New(cfg *config.Config, fs fsys.FS, db *database.DB) *Runtime {
	r := &Runtime{
		Config: cfg,
		FS:     fs,
		DB:     db,
		State:  persistence.NewStateStore(fs, cfg.Paths.State),
		Now:    time.Now,
	}
	if email := EmailConfig(cfg.Report.Email); email.Enabled() {
		r.Mailer = report.NewMailer(email)
	}
	return r
}

// Close closes the database.
func (r *Runtime) Close() error {
	if r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Options returns the process build options derived from the configuration.
func (r *Runtime) Options() georef.Options {
	return georef.Options{DataDir: r.Config.Paths.Data}
}

// NewContext creates the execution context of one run.
func (r *Runtime) NewContext(rep *report.Report, mode etl.Mode) *etl.Context {
	return &etl.Context{
		Config:   r.Config,
		FS:       r.FS,
		DB:       r.DB,
		Report:   rep,
		Mode:     mode,
		Geometry: NewGeometryEngine(r.DB, mode),
		State:    r.State,
	}
}

// RunRequest selects what one run executes.
type RunRequest struct {
	// Processes to run in order; empty means the configured list, or every
	// registered process when none is configured
	Processes []string

	// Start and End select the step range of every process (1-indexed,
	// zero means unbounded)
	Start int
	End   int

	Interactive bool
}

// RunOutcome is the result of one run.
type RunOutcome struct {
	Report     *report.Report
	Results    []etl.RunResult
	ReportPath string
}

// Err returns the first process failure of the run, or nil.
func (o *RunOutcome) Err() error {
	return etl.FirstError(o.Results)
}

// Run executes a run and persists its report. An error is returned only
// when the run could not start; process failures are in the outcome.
func (r *Runtime) Run(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	names := req.Processes
	if len(names) == 0 {
		names = r.Config.Processes
	}
	processes, err := registry.Build(names, r.Options())
	if err != nil {
		return nil, err
	}

	mode := Mode(r.Config, req.Interactive)
	rep := report.New(r.Now())
	ectx := r.NewContext(rep, mode)

	logger.Info("run started",
		slog.String("run_id", rep.RunID()),
		slog.Int("processes", len(processes)),
		slog.String("mode", string(mode)),
	)
	results := etl.RunProcesses(ctx, ectx, processes, etl.RunOptions{Start: req.Start, End: req.End})
	out := &RunOutcome{Report: rep, Results: results}

	out.ReportPath, err = rep.Save(r.FS, r.Config.Report.Dir)
	if err != nil {
		logger.Error("failed to save report", slog.String("error", err.Error()))
	} else {
		for _, res := range results {
			if stErr := r.State.SetReportPath(res.Process, out.ReportPath); stErr != nil {
				logger.Warn("failed to record report path",
					slog.String("process", res.Process),
					slog.String("error", stErr.Error()),
				)
			}
		}
	}

	if r.Mailer != nil {
		subject := fmt.Sprintf("georef-etl run %s: %s", rep.RunID(), status(results))
		if mErr := r.Mailer.Send(rep, subject); mErr != nil {
			logger.Error("failed to email report", slog.String("error", mErr.Error()))
		}
	}
	return out, nil
}

func status(results []etl.RunResult) string {
	if etl.FirstError(results) != nil {
		return "error"
	}
	return "success"
}

// WorkingDir returns the current directory, the root of run file systems.
func WorkingDir() (string, error) {
	return os.Getwd()
}
