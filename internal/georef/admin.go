package georef

import (
	"context"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/config"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/entity"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/patch"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/reconcile"
)

// ignWFS is the shapefile download of an IGN layer.
const ignWFS = "https://wms.ign.gob.ar/geoserver/ign/ows?service=WFS&version=1.0.0&request=GetFeature&outputFormat=shape-zip&typeName=ign:"

// Columns of the IGN administrative layers
const (
	colCode     = "in1"
	colName     = "nam"
	colFullName = "fna"
	colKind     = "gna"
	colSource   = "sag"
)

var adminColumns = []string{colCode, colName, colFullName, colKind, colSource, entity.ColGeometry}

// isoCodes maps province IDs to ISO 3166-2:AR codes.
var isoCodes = map[string]string{
	"02": "AR-C", "06": "AR-B", "10": "AR-K", "14": "AR-X", "18": "AR-W",
	"22": "AR-H", "26": "AR-U", "30": "AR-E", "34": "AR-P", "38": "AR-Y",
	"42": "AR-L", "46": "AR-F", "50": "AR-M", "54": "AR-N", "58": "AR-Q",
	"62": "AR-R", "66": "AR-A", "70": "AR-J", "74": "AR-D", "78": "AR-Z",
	"82": "AR-S", "86": "AR-G", "90": "AR-T", "94": "AR-V",
}

// adminPatches are the corrections every IGN layer needs.
func adminPatches(typ *entity.Type) []patch.Rule {
	return []patch.Rule{
		patch.Delete("features without code", database.Filter{colCode: nil}),
		patch.Apply("codes read as numbers", zeroPad(colCode, typ.IDLength), nil),
	}
}

// Provinces declares the provinces process.
func Provinces() *Definition {
	typ := entity.Province
	return &Definition{
		Name:         "provincias",
		Entity:       typ,
		URL:          ignWFS + "provincia",
		Archive:      "provincias.zip",
		File:         "provincia.shp",
		GeometryType: "MULTIPOLYGON",
		Staging:      stagingName(typ),
		Required:     adminColumns,
		KeyField:     colCode,
		Patches: append(adminPatches(typ),
			patch.Update("Tierra del Fuego full name", colFullName,
				"Provincia de Tierra del Fuego, Antártida e Islas del Atlántico Sur", database.Filter{colCode: "94"}),
		),
		Transform: provinceEntity,
		Size:      int64(len(isoCodes)),
		SizeOp:    config.SizeOpEq,
	}
}

func provinceEntity(ctx context.Context, ectx *etl.Context, row database.Row, _ *database.CachedSession) (*entity.Entity, error) {
	e, err := newEntity(entity.Province, row, colCode, colName)
	if err != nil {
		return nil, err
	}
	iso, ok := isoCodes[e.ID()]
	if !ok {
		return nil, errhandling.Validationf("unknown province code %s", e.ID())
	}
	e.Source = row.String(colSource)
	e.Category = row.String(colKind)
	e.Set("nombre_completo", row.String(colFullName)).
		Set("iso_id", iso).
		Set("iso_nombre", e.Name)
	if err := setGeometry(ctx, ectx, e, row); err != nil {
		return nil, err
	}
	return e, nil
}

// Departments declares the departments process.
func Departments() *Definition {
	typ := entity.Department
	return &Definition{
		Name:         "departamentos",
		Entity:       typ,
		URL:          ignWFS + "departamento",
		Archive:      "departamentos.zip",
		File:         "departamento.shp",
		GeometryType: "MULTIPOLYGON",
		Staging:      stagingName(typ),
		Required:     adminColumns,
		KeyField:     colCode,
		Patches: append(adminPatches(typ),
			patch.Update("Antártida Argentina category", colKind, "Departamento", database.Filter{colCode: "94028"}),
		),
		Dependencies: []*entity.Type{entity.Province},
		Transform:    provinceChild(entity.Department),
	}
}

// Municipalities declares the municipalities process.
func Municipalities() *Definition {
	typ := entity.Municipality
	return &Definition{
		Name:         "municipios",
		Entity:       typ,
		URL:          ignWFS + "municipio",
		Archive:      "municipios.zip",
		File:         "municipio.shp",
		GeometryType: "MULTIPOLYGON",
		Staging:      stagingName(typ),
		Required:     adminColumns,
		KeyField:     colCode,
		Patches:      adminPatches(typ),
		Dependencies: []*entity.Type{entity.Province},
		Transform:    provinceChild(entity.Municipality),
	}
}

// provinceChild transforms an IGN feature whose ID starts with its
// province's, recording how much of it the province covers.
func provinceChild(typ *entity.Type) reconcile.EntityFunc {
	return func(ctx context.Context, ectx *etl.Context, row database.Row, cache *database.CachedSession) (*entity.Entity, error) {
		e, err := newEntity(typ, row, colCode, colName)
		if err != nil {
			return nil, err
		}
		prov, err := parent(ctx, cache, entity.Province, typ.ParentID(e.ID()))
		if err != nil {
			return nil, err
		}
		e.Source = row.String(colSource)
		e.Category = row.String(colKind)
		e.Set("nombre_completo", row.String(colFullName)).SetParent("provincia", prov)
		if err := setGeometry(ctx, ectx, e, row); err != nil {
			return nil, err
		}
		pct, err := coverage(ctx, ectx, e.Geometry, prov)
		if err != nil {
			return nil, err
		}
		e.Set("provincia_interseccion", pct)
		return e, nil
	}
}
