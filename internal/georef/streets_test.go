package georef_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/database/dbtest"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/entity"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/geometry"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/georef"
)

func blockRow(code string, number int, from, to int, wkt string) database.Row {
	return database.Row{
		"nomencla": code, "nombre": "Córdoba", "tipo": "CALLE", "codloc": "82084270",
		"cuadra": number, "cp": "S2000",
		"desdei": from, "hastai": to - 1, "desded": from + 1, "hastad": to,
		"geometria": wkt,
	}
}

func TestStreets_GroupsBlocks(t *testing.T) {
	db := dbtest.Open(t)
	seedCensus(t, db)
	def := georef.Streets()
	seedStaging(t, db, def.Staging,
		blockRow("8208427000005", 2, 101, 200, "LINESTRING (1 2, 2 2)"),
		blockRow("8208427000005", 1, 1, 100, "LINESTRING (0 2, 1 2)"),
		blockRow("8208427000010", 1, 1, 100, "LINESTRING (3 0, 3 4)"),
		blockRow("1401427000010", 1, 1, 100, "LINESTRING (3 0, 3 4)"),
	)

	r := extract(t, newContext(db), def)
	assert.Equal(t, []string{"8208427000005", "8208427000010"}, r.NewEntitiesIDs)
	assert.Equal(t, []string{"1401427000010"}, errorKeys(r))

	street := canonical(t, db, entity.Street)["8208427000005"]
	assert.Equal(t, "CALLE Córdoba", street.String("nombre_completo"))
	assert.Equal(t, "CALLE", street.String(entity.ColCategory))
	assert.Equal(t, "INDEC", street.String(entity.ColSource))
	assert.Equal(t, "82084270", street.String("localidad_censal_id"))
	assert.Equal(t, "82084", street.String("departamento_id"))
	assert.Equal(t, "82", street.String("provincia_id"))
	assert.EqualValues(t, 1, street["inicio_izquierda"])
	assert.EqualValues(t, 199, street["fin_izquierda"])
	assert.EqualValues(t, 2, street["inicio_derecha"])
	assert.EqualValues(t, 200, street["fin_derecha"])

	g, err := geometry.ParseWKT(street.String(entity.ColGeometry))
	require.NoError(t, err)
	assert.Len(t, geometry.Lines(g), 2, "one line per block")
	lon, _ := street.Float(entity.ColLon)
	assert.InDelta(t, 1, lon, 1e-9)
}

func TestStreets_RejectsBrokenBlockGeometry(t *testing.T) {
	db := dbtest.Open(t)
	seedCensus(t, db)
	def := georef.Streets()
	seedStaging(t, db, def.Staging,
		blockRow("8208427000005", 1, 1, 100, "LINESTRING (0 2, 1 2)"),
		blockRow("8208427000020", 1, 1, 100, "LINESTRING (0 5, 1 5)"),
		blockRow("8208427000020", 2, 101, 200, "LINESTRING (1 5, 2"),
		blockRow("8208427000030", 1, 1, 100, "LINESTRING (0 6, NaN 6)"),
	)

	r := extract(t, newContext(db), def)
	assert.Equal(t, []string{"8208427000005"}, r.NewEntitiesIDs)
	assert.Equal(t, []string{"8208427000020", "8208427000030"}, errorKeys(r))
	for _, e := range r.Errors {
		assert.Contains(t, e.Message, "invalid block geometries")
	}
	assert.Contains(t, r.Errors[0].Message, "block 2")

	rows := canonical(t, db, entity.Street)
	assert.NotContains(t, rows, "8208427000020", "a street is never stored with a block missing")
}

func seedStreets(t *testing.T, db *database.DB, streets ...*entity.Entity) {
	t.Helper()
	for _, s := range streets {
		s.Category = "CALLE"
		s.SetParent("departamento", database.Row{entity.ColID: s.ID()[:5], entity.ColName: "Rosario"}).
			SetParent("provincia", database.Row{entity.ColID: s.ID()[:2], entity.ColName: "Santa Fe"})
	}
	seedEntities(t, db, entity.Street, streets...)
}

func TestStreetBlocks_Transform(t *testing.T) {
	db := dbtest.Open(t)
	seedStreets(t, db, mustEntity(t, entity.Street, "8208427000005", "Córdoba", "LINESTRING (0 2, 2 2)"))
	def := georef.StreetBlocks()

	noNumber := blockRow("8208427000005", 0, 201, 300, "LINESTRING (2 2, 3 2)")
	noNumber["cuadra"] = nil
	seedStaging(t, db, def.Staging,
		blockRow("8208427000005", 1, 1, 100, "LINESTRING (0 2, 1 2)"),
		blockRow("8208427000005", 2, 101, 200, "LINESTRING (1 2, 2 2)"),
		noNumber,
		blockRow("8208427000099", 1, 1, 100, "LINESTRING (0 3, 1 3)"),
	)

	r := extract(t, newContext(db), def)
	assert.Equal(t, []string{"820842700000500001", "820842700000500002"}, r.NewEntitiesIDs)
	assert.Equal(t, []string{"8208427000005", "8208427000099"}, errorKeys(r))

	block := canonical(t, db, entity.StreetBlock)["820842700000500002"]
	assert.Equal(t, "Córdoba", block.String(entity.ColName))
	assert.Equal(t, "8208427000005", block.String("calle_id"))
	assert.Equal(t, "Córdoba", block.String("calle_nombre"))
	assert.Equal(t, "CALLE", block.String("calle_categoria"))
	assert.Equal(t, "82084", block.String("departamento_id"))
	assert.Equal(t, "S2000", block.String("codigo_postal"))
	assert.EqualValues(t, 101, block["inicio_izquierda"])
}
