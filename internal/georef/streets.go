package georef

import (
	"context"
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/entity"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/geometry"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/patch"
)

// sourceINDEC is the source of street data.
const sourceINDEC = "INDEC"

// Columns of the INDEC street blocks layer. Each row is one block; a
// street is every block sharing its code.
const (
	colStreetCode     = "nomencla"
	colStreetName     = "nombre"
	colStreetKind     = "tipo"
	colStreetLocality = "codloc"
	colBlockNumber    = "cuadra"
	colPostalCode     = "cp"

	colFromLeft  = "desdei"
	colFromRight = "desded"
	colToLeft    = "hastai"
	colToRight   = "hastad"

	// colBadBlocks is set on grouped streets with unparsable block geometries
	colBadBlocks = "_bloques_invalidos"
)

var streetColumns = []string{colStreetCode, colStreetName, colStreetKind, colStreetLocality,
	colFromLeft, colFromRight, colToLeft, colToRight, entity.ColGeometry}

func streetPatches() []patch.Rule {
	return []patch.Rule{
		patch.Delete("blocks without street code", database.Filter{colStreetCode: nil}),
		patch.Apply("codes read as numbers", zeroPad(colStreetCode, entity.Street.IDLength), nil),
		patch.Apply("decomposed accents in names", patch.Normalize(colStreetName), nil),
	}
}

// Streets declares the streets process.
func Streets() *Definition {
	typ := entity.Street
	return &Definition{
		Name:         "calles",
		Entity:       typ,
		Archive:      "calles.zip",
		File:         "calles.shp",
		GeometryType: "MULTILINESTRING",
		Staging:      stagingName(typ),
		Required:     streetColumns,
		KeyField:     colStreetCode,
		Patches:      streetPatches(),
		Dependencies: []*entity.Type{entity.Province, entity.Department, entity.CensusLocality},
		Query:        streetsQuery,
		Transform:    streetEntity,
	}
}

// streetsQuery groups blocks into streets: the first block's attributes,
// the widest door number ranges and every block's lines. Blocks with
// unparsable geometries are listed in colBadBlocks.
func streetsQuery(ctx context.Context, sess *database.Session, staging string) ([]database.Row, error) {
	d := sess.Dialect()
	q := "SELECT * FROM " + d.Quote(staging) + " ORDER BY " + d.Quote(colStreetCode) + ", " + d.Quote(database.StagingKeyField)

	var (
		out   []database.Row
		cur   database.Row
		lines orb.MultiLineString
		bad   []string
	)
	closeGroup := func() {
		if cur == nil {
			return
		}
		cur[entity.ColGeometry] = nil
		if len(lines) > 0 {
			cur[entity.ColGeometry] = geometry.FormatMultiLineString(lines)
		}
		if len(bad) > 0 {
			cur[colBadBlocks] = strings.Join(bad, "; ")
		}
		out = append(out, cur)
	}

	err := sess.Each(ctx, q, nil, func(row database.Row) error {
		if cur == nil || cur.String(colStreetCode) != row.String(colStreetCode) {
			closeGroup()
			cur, lines, bad = row.Clone(), nil, nil
			for _, col := range []string{colFromLeft, colFromRight, colToLeft, colToRight} {
				cur[col] = number(row, col)
			}
		} else {
			widen(cur, row)
		}
		wkt := row.String(entity.ColGeometry)
		if wkt == "" {
			return nil
		}
		g, err := geometry.ParseWKT(wkt)
		if err != nil {
			bad = append(bad, fmt.Sprintf("block %s: %v", row.String(colBlockNumber), err))
			return nil
		}
		lines = append(lines, geometry.Lines(g)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	closeGroup()
	return out, nil
}

// widen extends the door number ranges of a street with one block's.
func widen(street, block database.Row) {
	for _, col := range []string{colFromLeft, colFromRight} {
		if n, ok := number(block, col).(int64); ok {
			if cur, ok := street[col].(int64); !ok || n < cur {
				street[col] = n
			}
		}
	}
	for _, col := range []string{colToLeft, colToRight} {
		if n, ok := number(block, col).(int64); ok {
			if cur, ok := street[col].(int64); !ok || n > cur {
				street[col] = n
			}
		}
	}
}

func setDoors(e *entity.Entity, row database.Row) {
	e.Set("inicio_derecha", number(row, colFromRight)).
		Set("fin_derecha", number(row, colToRight)).
		Set("inicio_izquierda", number(row, colFromLeft)).
		Set("fin_izquierda", number(row, colToLeft))
}

func streetEntity(ctx context.Context, ectx *etl.Context, row database.Row, cache *database.CachedSession) (*entity.Entity, error) {
	e, err := newEntity(entity.Street, row, colStreetCode, colStreetName)
	if err != nil {
		return nil, err
	}
	if bad := row.String(colBadBlocks); bad != "" {
		return nil, errhandling.Validationf("street %s has invalid block geometries: %s", e.ID(), bad)
	}
	dept, err := parent(ctx, cache, entity.Department, entity.Street.ParentID(e.ID()))
	if err != nil {
		return nil, err
	}
	census, err := optionalParent(ctx, cache, entity.CensusLocality, row.String(colStreetLocality))
	if err != nil {
		return nil, err
	}

	e.Source = sourceINDEC
	e.Category = strings.TrimSpace(row.String(colStreetKind))
	e.Set("nombre_completo", strings.TrimSpace(e.Category+" "+e.Name)).SetParent("departamento", dept)
	inherit(e, dept, "provincia")
	if census != nil {
		e.SetParent("localidad_censal", census)
	}
	setDoors(e, row)
	if err := setGeometry(ctx, ectx, e, row); err != nil {
		return nil, err
	}
	return e, nil
}

// StreetBlocks declares the street blocks process.
func StreetBlocks() *Definition {
	typ := entity.StreetBlock
	return &Definition{
		Name:         "cuadras",
		Entity:       typ,
		Archive:      "calles.zip",
		File:         "calles.shp",
		GeometryType: "MULTILINESTRING",
		Staging:      stagingName(typ),
		Required:     append([]string{colBlockNumber, colPostalCode}, streetColumns...),
		KeyField:     colStreetCode,
		Patches:      streetPatches(),
		Dependencies: []*entity.Type{entity.Street},
		Transform:    blockEntity,
	}
}

func blockEntity(ctx context.Context, ectx *etl.Context, row database.Row, cache *database.CachedSession) (*entity.Entity, error) {
	code := strings.TrimSpace(row.String(colStreetCode))
	n, ok := number(row, colBlockNumber).(int64)
	if !ok || n < 0 {
		return nil, errhandling.Validationf("block of street %s has no number", code)
	}
	e, err := entity.New(entity.StreetBlock, fmt.Sprintf("%s%05d", code, n), "")
	if err != nil {
		return nil, err
	}
	street, err := parent(ctx, cache, entity.Street, entity.StreetBlock.ParentID(e.ID()))
	if err != nil {
		return nil, err
	}

	e.Name = street.String(entity.ColName)
	e.Source = sourceINDEC
	e.Category = street.String(entity.ColCategory)
	setStreet(e, "calle", street)
	inherit(e, street, "provincia", "departamento")
	e.Set("codigo_postal", strings.TrimSpace(row.String(colPostalCode)))
	setDoors(e, row)
	if err := setGeometry(ctx, ectx, e, row); err != nil {
		return nil, err
	}
	return e, nil
}

// setStreet records a street reference as <prefix>_id, _nombre and _categoria.
func setStreet(e *entity.Entity, prefix string, street database.Row) {
	e.SetParent(prefix, street)
	e.Set(prefix+"_categoria", street.String(entity.ColCategory))
}
