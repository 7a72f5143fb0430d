package steps

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"time"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
)

// Table is a handle to a staging table produced by a loader.
type Table struct {
	Name string
	Rows int64
}

// String returns the table name, so a Table can feed steps expecting one.
func (t Table) String() string { return t.Name }

// LoadSpec describes one bulk load of a source file into a staging table.
type LoadSpec struct {
	// Source is the file, relative to the data file system
	Source string

	// Table is the staging table, dropped and recreated by the load
	Table string

	// GeometryType is the ogr2ogr -nlt value ("MULTIPOLYGON", "POINT");
	// empty keeps the source type
	GeometryType string

	// Encoding of the source attributes ("LATIN1"); empty means UTF-8
	Encoding string

	SourceSRS        string
	TargetSRS        string
	DisablePrecision bool
}

// TableLoader bulk-loads a source file into a staging table through the
// running Process's session. Every staging table gets an integer
// database.StagingKeyField column numbering the source rows from 1.
type TableLoader interface {
	Load(ctx context.Context, ectx *etl.Context, spec LoadSpec) (Table, error)
}

// Load is the step that runs a TableLoader on its input.
type Load struct {
	name   string
	loader TableLoader

	// Spec is the load template; Source is resolved against the input
	Spec LoadSpec

	// File is joined to an input directory to name the source
	File string
}

var _ etl.Step = (*Load)(nil)

// NewLoad creates a load step.
func NewLoad(name string, loader TableLoader, spec LoadSpec) *Load {
	return &Load{name: name, loader: loader, Spec: spec}
}

// Name returns the step name.
func (l *Load) Name() string { return l.name }

// ReadsInput is true: the input is the extracted directory or the file.
func (l *Load) ReadsInput() bool { return true }

// Run loads the file and returns the staging Table.
func (l *Load) Run(ctx context.Context, input any, ectx *etl.Context) (any, error) {
	spec := l.Spec
	if in, ok := input.(string); ok && in != "" {
		spec.Source = in
		if l.File != "" {
			spec.Source = path.Join(in, l.File)
		}
	}
	if spec.Source == "" {
		return nil, fmt.Errorf("%s: no source file", l.name)
	}
	if ectx.Config != nil {
		if spec.SourceSRS == "" {
			spec.SourceSRS = ectx.Config.Loader.SourceSRS
		}
		if spec.TargetSRS == "" {
			spec.TargetSRS = ectx.Config.Loader.TargetSRS
		}
		if ectx.Config.Loader.DisablePrecision {
			spec.DisablePrecision = true
		}
		if spec.Encoding == "" {
			spec.Encoding = ectx.Config.Source(ectx.ProcessName()).Encoding
		}
	}

	start := time.Now()
	table, err := l.loader.Load(ctx, ectx, spec)
	if err != nil {
		return nil, err
	}
	logger.Info("staging table loaded",
		slog.String("step", l.name),
		slog.String("source", spec.Source),
		slog.String("table", table.Name),
		slog.Int64("rows", table.Rows),
		slog.Duration("duration", time.Since(start)),
	)
	if ectx.Report != nil {
		ectx.Report.Info("Loaded %d rows into %s", table.Rows, table.Name)
	}
	return table, nil
}

// ============================
// Staging helpers
// ============================

// columnType infers a portable column type from a Go value.
func columnType(v any) database.ColumnType {
	switch v.(type) {
	case int, int32, int64:
		return database.TypeInteger
	case float32, float64:
		return database.TypeFloat
	}
	return database.TypeText
}

// stagingDef builds a staging table definition keyed by the staging key.
func stagingDef(table string, cols []database.Column) database.TableDef {
	def := database.TableDef{
		Name:       table,
		Columns:    []database.Column{{Name: database.StagingKeyField, Type: database.TypeInteger}},
		PrimaryKey: database.StagingKeyField,
	}
	for _, c := range cols {
		if c.Name != database.StagingKeyField {
			def.Columns = append(def.Columns, c)
		}
	}
	return def
}

// inferColumns returns the sorted union of row keys, typed by the first
// non-nil value seen.
func inferColumns(rows []database.Row) []database.Column {
	types := map[string]database.ColumnType{}
	for _, r := range rows {
		for k, v := range r {
			if types[k] != "" {
				continue
			}
			types[k] = ""
			if v != nil {
				types[k] = columnType(v)
			}
		}
	}
	names := make([]string, 0, len(types))
	for k := range types {
		names = append(names, k)
	}
	sort.Strings(names)
	cols := make([]database.Column, len(names))
	for i, n := range names {
		t := types[n]
		if t == "" {
			t = database.TypeText
		}
		cols[i] = database.Column{Name: n, Type: t}
	}
	return cols
}

// recreate drops and creates a staging table.
func recreate(ctx context.Context, sess *database.Session, def database.TableDef) error {
	if err := sess.DropTable(ctx, def.Name); err != nil {
		return err
	}
	return sess.CreateTable(ctx, def)
}
