// Package georef declares the georef processes, one per entity type. Each
// downloads its source, loads a staging table, extracts canonical entities
// from it and exports them.
package georef

import (
	"context"
	"errors"
	"path"
	"strconv"
	"strings"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/config"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/entity"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/export"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/geometry"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/patch"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/reconcile"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/steps"
)

// Definition declares one process.
type Definition struct {
	// Name is the process name, also the base name of exported files
	Name string

	Entity *entity.Type

	// URL is the default source; a configured source URL wins
	URL string

	// Archive is the name the download is saved under. A .zip archive is
	// extracted before loading.
	Archive string

	// File is the layer loaded from the extracted archive
	File string

	GeometryType string
	Encoding     string

	// Staging is the staging table
	Staging string

	// Required are the staging columns the extraction reads
	Required []string

	// KeyField is the staging column rejected rows are reported under
	KeyField string

	Patches      []patch.Rule
	Dependencies []*entity.Type
	Query        reconcile.QueryFunc
	Transform    reconcile.EntityFunc

	// Size is the expected entity count, checked with SizeOp. Zero compares
	// against the previous run.
	Size   int64
	SizeOp string

	// Stage builds the staging table instead of a download and load
	Stage etl.Step
}

// Options tune how processes are built.
type Options struct {
	// DataDir is where downloads are written (config.DefaultDataDir if empty)
	DataDir string

	// Loader overrides the loader chosen from the source file extension
	Loader steps.TableLoader

	// Retry overrides the download retry policy
	Retry *errhandling.RetryConfig
}

// ExtractionStepName returns the name of a process's extraction step; its
// report data is stored under it.
func (d *Definition) ExtractionStepName() string {
	return d.Name + "_extraction"
}

func (d *Definition) source() string {
	if d.File != "" {
		return d.File
	}
	return d.Archive
}

func (d *Definition) loader(opts Options) steps.TableLoader {
	if opts.Loader != nil {
		return opts.Loader
	}
	if strings.EqualFold(path.Ext(d.source()), ".csv") {
		return &steps.CSVLoader{}
	}
	return steps.NewOgr2OgrLoader()
}

// Extraction returns the entities extraction step of the process.
func (d *Definition) Extraction() *reconcile.Step {
	s := reconcile.New(d.ExtractionStepName(), d.Entity, d.Staging, d.Transform)
	s.Patches = d.Patches
	s.Dependencies = d.Dependencies
	s.Query = d.Query
	if d.KeyField != "" {
		s.KeyField = d.KeyField
	}
	return s
}

// Process builds the process: download, unzip, load, validate schema,
// extract, drop staging, validate size, export and copy.
func (d *Definition) Process(opts Options) *etl.Process {
	var head []etl.Step
	if d.Stage != nil {
		head = append(head, d.Stage)
	} else {
		dataDir := opts.DataDir
		if dataDir == "" {
			dataDir = config.DefaultDataDir
		}
		download := steps.NewDownload("download", d.URL, path.Join(dataDir, d.Name, d.Archive))
		download.Retry = opts.Retry
		head = append(head, download)

		load := steps.NewLoad("load", d.loader(opts), steps.LoadSpec{
			Table:        d.Staging,
			GeometryType: d.GeometryType,
			Encoding:     d.Encoding,
		})
		if strings.EqualFold(path.Ext(d.Archive), ".zip") {
			head = append(head, steps.NewUnzip("unzip"))
			load.File = d.File
		}
		head = append(head, load, steps.NewValidateSchema("validate_schema", d.Required...))
	}

	tail := []etl.Step{
		d.Extraction(),
		steps.NewDropTable("drop_staging", d.Staging),
		steps.NewValidateSize("validate_size", d.Size, d.SizeOp),
		steps.NewExport("export", d.Entity),
		steps.NewCopy("copy"),
	}
	return etl.NewProcess(d.Name, append(head, tail...)...)
}

// ============================
// Catalog
// ============================

// Definitions returns every process in dependency order.
func Definitions() []*Definition {
	return []*Definition{
		Provinces(),
		Departments(),
		Municipalities(),
		CensusLocalities(),
		Settlements(),
		Localities(),
		Streets(),
		StreetBlocks(),
		Intersections(),
	}
}

// Lookup returns the definition of a process by name.
func Lookup(name string) (*Definition, bool) {
	for _, d := range Definitions() {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// Names lists the process names in dependency order.
func Names() []string {
	defs := Definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

func stagingName(typ *entity.Type) string {
	return "tmp_" + export.FileBase(typ)
}

// ============================
// Transform helpers
// ============================

func engine(ectx *etl.Context) geometry.Engine {
	if ectx.Geometry != nil {
		return ectx.Geometry
	}
	return geometry.NewPlanarEngine()
}

// newEntity builds an entity from the ID in column idCol and the name in nameCol.
func newEntity(typ *entity.Type, row database.Row, idCol, nameCol string) (*entity.Entity, error) {
	return entity.New(typ, strings.TrimSpace(row.String(idCol)), strings.TrimSpace(row.String(nameCol)))
}

// setGeometry copies the staging geometry and computes its centroid.
// Unparsable geometries and non-finite centroids reject the row.
func setGeometry(ctx context.Context, ectx *etl.Context, e *entity.Entity, row database.Row) error {
	wkt := row.String(entity.ColGeometry)
	if wkt == "" {
		return errhandling.Validationf("%s %s has no geometry", e.Type().Name, e.ID())
	}
	c, err := engine(ectx).Centroid(ctx, wkt)
	if errors.Is(err, geometry.ErrInvalidWKT) {
		return &errhandling.ValidationError{Key: e.ID(), Message: "invalid geometry: " + err.Error(), Err: err}
	}
	if err != nil {
		return err
	}
	if !c.IsFinite() {
		return errhandling.Validationf("%s %s has a non-finite centroid (%v, %v)", e.Type().Name, e.ID(), c.Lon, c.Lat)
	}
	e.Geometry = wkt
	e.Centroid = c
	return nil
}

// parent loads a parent entity, rejecting the row when it does not exist.
func parent(ctx context.Context, cache *database.CachedSession, typ *entity.Type, id string) (database.Row, error) {
	row, found, err := cache.GetOrLoad(ctx, typ.Table, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errhandling.Validationf("%s %s not found", typ.Name, id)
	}
	return row, nil
}

// optionalParent loads a parent referenced by a nullable column. An empty
// reference yields no row; a dangling one rejects the row.
func optionalParent(ctx context.Context, cache *database.CachedSession, typ *entity.Type, id string) (database.Row, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	return parent(ctx, cache, typ, strings.TrimSpace(id))
}

// inherit copies the <prefix>_id and <prefix>_nombre columns of a parent row.
func inherit(e *entity.Entity, row database.Row, prefixes ...string) {
	for _, p := range prefixes {
		e.Set(p+"_id", row[p+"_id"])
		e.Set(p+"_nombre", row[p+"_nombre"])
	}
}

// coverage returns the percentage of geometry covered by the parent's.
// Interactive runs skip the computation.
func coverage(ctx context.Context, ectx *etl.Context, wkt string, parent database.Row) (float64, error) {
	if ectx.Interactive() {
		return 0, nil
	}
	pct, err := engine(ectx).IntersectionPercentage(ctx, wkt, parent.String(entity.ColGeometry))
	if errors.Is(err, geometry.ErrInvalidWKT) {
		return 0, nil
	}
	return pct, err
}

// locate returns the row of typ whose geometry contains the entity centroid.
func locate(ctx context.Context, ectx *etl.Context, cache *database.CachedSession, typ *entity.Type, e *entity.Entity) (database.Row, error) {
	key, found, err := engine(ectx).Locate(ctx, cache.Session(), typ.Table, e.Centroid)
	if err != nil || !found {
		return nil, err
	}
	return parent(ctx, cache, typ, key)
}

// number parses an integer column; empty and unparsable values are NULL.
func number(row database.Row, col string) any {
	switch v := row[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	s := strings.TrimSpace(row.String(col))
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return nil
		}
		return int64(f)
	}
	return n
}

// zeroPad restores leading zeros lost when a code column was read as a number.
func zeroPad(field string, width int) patch.RowFunc {
	return func(row database.Row) (database.Row, error) {
		s := strings.TrimSpace(row.String(field))
		if s == "" || len(s) >= width {
			return nil, nil
		}
		if _, err := strconv.Atoi(s); err != nil {
			return nil, nil
		}
		return database.Row{field: strings.Repeat("0", width-len(s)) + s}, nil
	}
}
