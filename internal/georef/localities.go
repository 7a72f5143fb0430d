package georef

import (
	"context"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/entity"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/patch"
)

// Columns of the INDEC census localities layer
const (
	colCensusCode         = "link"
	colCensusName         = "nombre"
	colCensusFunction     = "funcion"
	colCensusKind         = "tipo"
	colCensusSource       = "fuente"
	colCensusMunicipality = "municipio"
)

// Columns of the BAHRA settlements layer
const (
	colBahraCode   = "cod_bahra"
	colBahraName   = "nombre_bah"
	colBahraKind   = "tipo_bahra"
	colBahraSource = "fuente_ubi"
)

// localityKinds are the BAHRA settlement types that are localities:
// simple localities, components of compound localities and entities.
var localityKinds = []string{"E", "LC", "LS"}

// CensusLocalities declares the census localities process.
func CensusLocalities() *Definition {
	typ := entity.CensusLocality
	return &Definition{
		Name:         "localidades_censales",
		Entity:       typ,
		Archive:      "localidades_censales.zip",
		File:         "localidades_censales.shp",
		GeometryType: "POINT",
		Staging:      stagingName(typ),
		Required: []string{colCensusCode, colCensusName, colCensusFunction, colCensusKind,
			colCensusSource, colCensusMunicipality, entity.ColGeometry},
		KeyField: colCensusCode,
		Patches: []patch.Rule{
			patch.Apply("codes read as numbers", zeroPad(colCensusCode, typ.IDLength), nil),
			patch.Apply("municipality codes read as numbers", zeroPad(colCensusMunicipality, entity.Municipality.IDLength), nil),
		},
		Dependencies: []*entity.Type{entity.Province, entity.Department, entity.Municipality},
		Transform:    censusLocalityEntity,
	}
}

func censusLocalityEntity(ctx context.Context, ectx *etl.Context, row database.Row, cache *database.CachedSession) (*entity.Entity, error) {
	e, err := newEntity(entity.CensusLocality, row, colCensusCode, colCensusName)
	if err != nil {
		return nil, err
	}
	dept, err := parent(ctx, cache, entity.Department, entity.CensusLocality.ParentID(e.ID()))
	if err != nil {
		return nil, err
	}
	mun, err := optionalParent(ctx, cache, entity.Municipality, row.String(colCensusMunicipality))
	if err != nil {
		return nil, err
	}

	e.Source = row.String(colCensusSource)
	e.Category = row.String(colCensusKind)
	e.Set("funcion", row.String(colCensusFunction)).SetParent("departamento", dept)
	inherit(e, dept, "provincia")
	if err := setGeometry(ctx, ectx, e, row); err != nil {
		return nil, err
	}
	if mun == nil {
		if mun, err = locate(ctx, ectx, cache, entity.Municipality, e); err != nil {
			return nil, err
		}
	}
	setMunicipality(e, mun)
	return e, nil
}

// setMunicipality records the containing municipality; entities outside
// every municipality keep NULL references.
func setMunicipality(e *entity.Entity, mun database.Row) {
	if mun != nil {
		e.SetParent("municipio", mun)
	}
}

// Settlements declares the settlements process.
func Settlements() *Definition {
	typ := entity.Settlement
	return &Definition{
		Name:         "asentamientos",
		Entity:       typ,
		Archive:      "bahra.zip",
		File:         "bahra.shp",
		GeometryType: "POINT",
		Staging:      stagingName(typ),
		Required:     bahraColumns,
		KeyField:     colBahraCode,
		Patches:      bahraPatches(typ),
		Dependencies: []*entity.Type{entity.Province, entity.Department, entity.Municipality, entity.CensusLocality},
		Transform:    settlementEntity,
	}
}

var bahraColumns = []string{colBahraCode, colBahraName, colBahraKind, colBahraSource, entity.ColGeometry}

func bahraPatches(typ *entity.Type) []patch.Rule {
	return []patch.Rule{
		patch.Delete("settlements without code", database.Filter{colBahraCode: nil}),
		patch.Apply("codes read as numbers", zeroPad(colBahraCode, typ.IDLength), nil),
	}
}

func settlementEntity(ctx context.Context, ectx *etl.Context, row database.Row, cache *database.CachedSession) (*entity.Entity, error) {
	e, err := newEntity(entity.Settlement, row, colBahraCode, colBahraName)
	if err != nil {
		return nil, err
	}
	dept, err := parent(ctx, cache, entity.Department, entity.Settlement.ParentID(e.ID()))
	if err != nil {
		return nil, err
	}
	// Not every settlement belongs to a census locality.
	census, inCensus, err := cache.GetOrLoad(ctx, entity.CensusLocality.Table, e.ID()[:entity.CensusLocality.IDLength])
	if err != nil {
		return nil, err
	}

	e.Source = row.String(colBahraSource)
	e.Category = row.String(colBahraKind)
	e.SetParent("departamento", dept)
	inherit(e, dept, "provincia")
	if err := setGeometry(ctx, ectx, e, row); err != nil {
		return nil, err
	}

	if inCensus {
		e.SetParent("localidad_censal", census)
		inherit(e, census, "municipio")
		return e, nil
	}
	mun, err := locate(ctx, ectx, cache, entity.Municipality, e)
	if err != nil {
		return nil, err
	}
	setMunicipality(e, mun)
	return e, nil
}

// Localities declares the localities process: the BAHRA settlements that
// are localities, each inside a census locality.
func Localities() *Definition {
	typ := entity.Locality
	return &Definition{
		Name:         "localidades",
		Entity:       typ,
		Archive:      "bahra.zip",
		File:         "bahra.shp",
		GeometryType: "POINT",
		Staging:      stagingName(typ),
		Required:     bahraColumns,
		KeyField:     colBahraCode,
		Patches:      bahraPatches(typ),
		Dependencies: []*entity.Type{entity.CensusLocality},
		Query:        localitiesQuery,
		Transform:    localityEntity,
	}
}

func localitiesQuery(ctx context.Context, sess *database.Session, staging string) ([]database.Row, error) {
	d := sess.Dialect()
	q := "SELECT * FROM " + d.Quote(staging) + " WHERE " + d.Quote(colBahraKind) + " IN (" +
		d.Placeholder(1) + ", " + d.Placeholder(2) + ", " + d.Placeholder(3) + ")" +
		" ORDER BY " + d.Quote(database.StagingKeyField)
	return sess.QueryRows(ctx, q, localityKinds[0], localityKinds[1], localityKinds[2])
}

func localityEntity(ctx context.Context, ectx *etl.Context, row database.Row, cache *database.CachedSession) (*entity.Entity, error) {
	e, err := newEntity(entity.Locality, row, colBahraCode, colBahraName)
	if err != nil {
		return nil, err
	}
	census, err := parent(ctx, cache, entity.CensusLocality, entity.Locality.ParentID(e.ID()))
	if err != nil {
		return nil, err
	}

	e.Source = row.String(colBahraSource)
	e.Category = row.String(colBahraKind)
	e.SetParent("localidad_censal", census)
	inherit(e, census, "provincia", "departamento", "municipio")
	if err := setGeometry(ctx, ectx, e, row); err != nil {
		return nil, err
	}
	return e, nil
}
