package georef_test

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/config"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/database/dbtest"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/entity"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/fsys"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/georef"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/report"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/steps"
	pkggeoref "github.com/datosgobar/georef-ar-etl-sub000/pkg/georef"
)

const (
	santaFe    = "POLYGON ((0 0, 10 0, 10 10, 0 10, 0 0))"
	rosario    = "POLYGON ((0 0, 5 0, 5 5, 0 5, 0 0))"
	rosarioMun = "POLYGON ((1 1, 3 1, 3 3, 1 3, 1 1))"
)

// seedStaging creates a staging table holding rows, numbered from 1.
func seedStaging(t *testing.T, db *database.DB, table string, rows ...database.Row) {
	t.Helper()
	seen := map[string]bool{}
	def := database.TableDef{
		Name:       table,
		Columns:    []database.Column{{Name: database.StagingKeyField, Type: database.TypeInteger}},
		PrimaryKey: database.StagingKeyField,
	}
	staged := make([]database.Row, len(rows))
	for i, r := range rows {
		for col := range r {
			if !seen[col] {
				seen[col] = true
				def.Columns = append(def.Columns, database.Column{Name: col, Type: database.TypeText})
			}
		}
		row := r.Clone()
		row[database.StagingKeyField] = i + 1
		staged[i] = row
	}
	require.NoError(t, db.Session().DropTable(context.Background(), table))
	dbtest.Seed(t, db, def, staged...)
}

// seedEntities writes canonical entities outside any process.
func seedEntities(t *testing.T, db *database.DB, typ *entity.Type, entities ...*entity.Entity) {
	t.Helper()
	rows := make([]database.Row, len(entities))
	for i, e := range entities {
		rows[i] = e.Row()
	}
	dbtest.Seed(t, db, typ.TableDef(), rows...)
}

func mustEntity(t *testing.T, typ *entity.Type, id, name, wkt string) *entity.Entity {
	t.Helper()
	e, err := entity.New(typ, id, name)
	require.NoError(t, err)
	e.Geometry = wkt
	return e
}

func newContext(db *database.DB) *etl.Context {
	return &etl.Context{
		DB:     db,
		FS:     fsys.NewMemFS(),
		Config: config.Default(),
		Report: report.NewWithID("run", time.Now()),
	}
}

// extract runs the extraction step of def on its already seeded staging table.
func extract(t *testing.T, ectx *etl.Context, def *georef.Definition) pkggeoref.ExtractionReport {
	t.Helper()
	p := etl.NewProcess(def.Name,
		etl.NewFunc("staging", false, func(context.Context, any, *etl.Context) (any, error) {
			return def.Staging, nil
		}),
		def.Extraction(),
	)
	_, err := p.RunAll(context.Background(), ectx)
	require.NoError(t, err)

	data, ok := ectx.Report.Data(def.ExtractionStepName())
	require.True(t, ok)
	return data.(pkggeoref.ExtractionReport)
}

func canonical(t *testing.T, db *database.DB, typ *entity.Type) map[string]database.Row {
	t.Helper()
	rows, err := db.Session().Query(context.Background(), typ.Table, nil, entity.ColID)
	require.NoError(t, err)
	out := make(map[string]database.Row, len(rows))
	for _, r := range rows {
		out[r.String(entity.ColID)] = r
	}
	return out
}

func errorKeys(r pkggeoref.ExtractionReport) []string {
	keys := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		keys[i] = e.Key
	}
	return keys
}

// =============================================================================
// Catalog
// =============================================================================

func TestDefinitions_DependencyOrder(t *testing.T) {
	assert.Equal(t, []string{
		"provincias", "departamentos", "municipios", "localidades_censales", "asentamientos",
		"localidades", "calles", "cuadras", "intersecciones",
	}, georef.Names())

	position := map[*entity.Type]int{}
	for i, d := range georef.Definitions() {
		require.NotNil(t, d.Transform, d.Name)
		assert.Equal(t, "tmp_"+d.Name, d.Staging)
		for _, dep := range d.Dependencies {
			pos, ok := position[dep]
			require.True(t, ok, "%s depends on %s, which runs later", d.Name, dep.Name)
			assert.Less(t, pos, i)
		}
		position[d.Entity] = i
	}
}

func TestLookup(t *testing.T) {
	d, ok := georef.Lookup("cuadras")
	require.True(t, ok)
	assert.Same(t, entity.StreetBlock, d.Entity)

	_, ok = georef.Lookup("barrios")
	assert.False(t, ok)
}

func stepNames(p *etl.Process) []string {
	names := make([]string, p.Len())
	for i, s := range p.Steps() {
		names[i] = s.Name()
	}
	return names
}

func TestDefinition_Process(t *testing.T) {
	p := georef.Provinces().Process(georef.Options{})
	assert.Equal(t, "provincias", p.Name())
	assert.Equal(t, []string{
		"download", "unzip", "load", "validate_schema", "provincias_extraction",
		"drop_staging", "validate_size", "export", "copy",
	}, stepNames(p))

	p = georef.Intersections().Process(georef.Options{})
	assert.Equal(t, []string{
		"stage_intersections", "intersecciones_extraction", "drop_staging", "validate_size", "export", "copy",
	}, stepNames(p))
	assert.False(t, p.Steps()[0].ReadsInput(), "intersections can start a run")
}

// =============================================================================
// End to end
// =============================================================================

func archiveServer(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func provinceRows() []database.Row {
	return []database.Row{
		{"in1": "82", "nam": "Santa Fe", "fna": "Provincia de Santa Fe", "gna": "Provincia", "sag": "IGN", "geometria": santaFe},
		{"in1": "6", "nam": "Buenos Aires", "fna": "Provincia de Buenos Aires", "gna": "Provincia", "sag": "IGN", "geometria": "POLYGON ((20 0, 30 0, 30 10, 20 10, 20 0))"},
	}
}

func TestProvinces_EndToEnd(t *testing.T) {
	srv := archiveServer(t, map[string]string{"provincia.shp": "shape", "provincia.dbf": "attributes"})
	loader := steps.NewMemoryLoader().Add("data/provincias/provincias/provincia.shp", provinceRows()...)

	db := dbtest.Open(t)
	ectx := newContext(db)
	ectx.Config.Sources["provincias"] = config.SourceConfig{URL: srv.URL, ExpectedSize: 2, SizeOp: config.SizeOpEq}

	out, err := georef.Provinces().Process(georef.Options{Loader: loader}).RunAll(context.Background(), ectx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"output/provincias.json", "output/provincias.geojson", "output/provincias.csv", "output/provincias.ndjson",
	}, out)

	rows := canonical(t, db, entity.Province)
	require.Len(t, rows, 2)
	assert.Equal(t, "AR-S", rows["82"].String("iso_id"))
	assert.Equal(t, "AR-B", rows["06"].String("iso_id"), "leading zero restored")

	exists, err := db.Session().TableExists(context.Background(), "tmp_provincias")
	require.NoError(t, err)
	assert.False(t, exists, "staging dropped")

	outcome, ok := ectx.Report.Outcome("provincias")
	require.True(t, ok)
	assert.Equal(t, pkggeoref.StatusSuccess, outcome.Status)
}

func TestProvinces_SizeOutOfTolerance(t *testing.T) {
	srv := archiveServer(t, map[string]string{"provincia.shp": "shape"})
	loader := steps.NewMemoryLoader().Add("data/provincias/provincias/provincia.shp", provinceRows()...)

	db := dbtest.Open(t)
	ectx := newContext(db)
	ectx.Config.Sources["provincias"] = config.SourceConfig{URL: srv.URL}

	_, err := georef.Provinces().Process(georef.Options{Loader: loader}).RunAll(context.Background(), ectx)
	require.Error(t, err)
	assert.Equal(t, errhandling.CodeSizeOutOfTolerance, errhandling.ProcessErrorCode(err), "24 provinces are expected")

	exists, err := db.Session().TableExists(context.Background(), entity.Province.Table)
	require.NoError(t, err)
	assert.False(t, exists, "rolled back")
}
