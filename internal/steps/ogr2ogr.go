package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/config"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/geometry"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
)

// ErrNoSession is returned by steps that need the Process's session.
var ErrNoSession = errors.New("step requires a database session")

const defaultLoaderTimeout = 30 * time.Minute

// CommandRunner runs an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Ogr2OgrLoader loads GIS files with the ogr2ogr command line tool.
// ogr2ogr opens its own connection, so the staging table is written
// outside the Process transaction; geometries are stored as WKT text.
type Ogr2OgrLoader struct {
	// Binary overrides the configured ogr2ogr executable
	Binary string

	// Timeout bounds one invocation
	Timeout time.Duration

	LookPath func(file string) (string, error)
	Run      CommandRunner
}

var _ TableLoader = (*Ogr2OgrLoader)(nil)

// NewOgr2OgrLoader creates a loader running the real tool.
func NewOgr2OgrLoader() *Ogr2OgrLoader {
	return &Ogr2OgrLoader{LookPath: exec.LookPath, Run: execRunner}
}

// Target is the ogr2ogr output datasource for a database.
type Target struct {
	Format     string
	Datasource string
}

// TargetFor derives the ogr2ogr output datasource from the database settings.
func TargetFor(db config.DatabaseConfig) (Target, error) {
	dialect, err := database.DialectFor(db.Driver)
	if err != nil {
		return Target{}, err
	}
	if db.URL == "" {
		return Target{}, errors.New("database url is empty")
	}
	if dialect.Name() == database.DriverPostgres {
		return Target{Format: "PostgreSQL", Datasource: "PG:" + db.URL}, nil
	}
	file := strings.TrimPrefix(db.URL, "file:")
	file, _, _ = strings.Cut(file, "?")
	if file == "" || file == ":memory:" {
		return Target{}, fmt.Errorf("sqlite database %q is not a file", db.URL)
	}
	return Target{Format: "SQLite", Datasource: file}, nil
}

// Args builds the ogr2ogr argument list.
func (o *Ogr2OgrLoader) Args(spec LoadSpec, target Target, source string) []string {
	args := []string{
		"-overwrite",
		"-f", target.Format,
		target.Datasource,
		source,
		"-nln", spec.Table,
		"-lco", "GEOMETRY_NAME=" + geometry.GeometryColumn,
		"-lco", "FID=" + database.StagingKeyField,
	}
	if target.Format == "SQLite" {
		args = append(args, "-lco", "FORMAT=WKT")
	}
	if spec.GeometryType != "" {
		args = append(args, "-nlt", spec.GeometryType)
	}
	// Staged geometry is always 2D.
	args = append(args, "-dim", "XY")
	if spec.SourceSRS != "" {
		args = append(args, "-s_srs", spec.SourceSRS)
	}
	if spec.TargetSRS != "" {
		args = append(args, "-t_srs", spec.TargetSRS)
	}
	if spec.DisablePrecision {
		args = append(args, "-lco", "PRECISION=NO")
	}
	if spec.Encoding != "" {
		args = append(args, "--config", "SHAPE_ENCODING", strings.ToUpper(spec.Encoding))
	}
	return args
}

func (o *Ogr2OgrLoader) binary(ectx *etl.Context) string {
	if o.Binary != "" {
		return o.Binary
	}
	if ectx.Config != nil && ectx.Config.Loader.Binary != "" {
		return ectx.Config.Loader.Binary
	}
	return config.DefaultOgr2OgrBinary
}

func (o *Ogr2OgrLoader) timeout(ectx *etl.Context) time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	if ectx.Config != nil && ectx.Config.Loader.Timeout > 0 {
		return ectx.Config.Loader.Timeout
	}
	return defaultLoaderTimeout
}

// Load runs ogr2ogr and normalizes the staging geometry column to WKT.
func (o *Ogr2OgrLoader) Load(ctx context.Context, ectx *etl.Context, spec LoadSpec) (Table, error) {
	if ectx.Session == nil {
		return Table{}, ErrNoSession
	}
	if ectx.Config == nil {
		return Table{}, errhandling.ProcessErrorf("load", errhandling.CodeToolFailed, "ogr2ogr needs database settings")
	}

	bin, err := o.LookPath(o.binary(ectx))
	if err != nil {
		return Table{}, errhandling.NewProcessError("load", errhandling.CodeToolMissing, "ogr2ogr not found", err)
	}
	source, err := ectx.FS.OSPath(spec.Source)
	if err != nil {
		return Table{}, errhandling.NewProcessError("load", errhandling.CodeToolFailed, spec.Source+" is not on disk", err)
	}
	target, err := TargetFor(ectx.Config.Database)
	if err != nil {
		return Table{}, errhandling.NewProcessError("load", errhandling.CodeToolFailed, "no ogr2ogr target", err)
	}

	args := o.Args(spec, target, source)
	logger.Debug("running ogr2ogr",
		slog.String("binary", bin),
		slog.String("source", spec.Source),
		slog.String("table", spec.Table),
	)

	runCtx, cancel := context.WithTimeout(ctx, o.timeout(ectx))
	defer cancel()
	if out, err := o.Run(runCtx, bin, args...); err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return Table{}, errhandling.NewProcessError("load", errhandling.CodeToolFailed, "ogr2ogr: "+msg, err)
	}

	sess := ectx.Session
	if sess.Dialect().Name() == database.DriverPostgres {
		cols, err := sess.Columns(ctx, spec.Table)
		if err != nil {
			return Table{}, err
		}
		for _, c := range cols {
			if c != geometry.GeometryColumn {
				continue
			}
			col := sess.Dialect().Quote(geometry.GeometryColumn)
			query := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE text USING ST_AsText(%s)",
				sess.Dialect().Quote(spec.Table), col, col)
			if _, err := sess.Exec(ctx, query); err != nil {
				return Table{}, err
			}
		}
	}

	n, err := sess.Count(ctx, spec.Table, nil)
	if err != nil {
		return Table{}, err
	}
	return Table{Name: spec.Table, Rows: n}, nil
}
