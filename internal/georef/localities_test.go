package georef_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/database/dbtest"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/entity"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/georef"
)

// seedHierarchy writes Santa Fe, the Rosario department and the Rosario
// municipality.
func seedHierarchy(t *testing.T, db *database.DB) {
	t.Helper()
	seedSantaFe(t, db)

	dept := mustEntity(t, entity.Department, "82084", "Rosario", rosario)
	dept.SetParent("provincia", database.Row{entity.ColID: "82", entity.ColName: "Santa Fe"})
	seedEntities(t, db, entity.Department, dept)

	mun := mustEntity(t, entity.Municipality, "820277", "Rosario", rosarioMun)
	mun.SetParent("provincia", database.Row{entity.ColID: "82", entity.ColName: "Santa Fe"})
	seedEntities(t, db, entity.Municipality, mun)
}

func censusRow(code, municipality, wkt string) database.Row {
	return database.Row{
		"link": code, "nombre": "Localidad " + code, "funcion": "", "tipo": "LS",
		"fuente": "INDEC", "municipio": municipality, "geometria": wkt,
	}
}

func TestCensusLocalities_Transform(t *testing.T) {
	db := dbtest.Open(t)
	seedHierarchy(t, db)
	def := georef.CensusLocalities()
	seedStaging(t, db, def.Staging,
		censusRow("82084270", "", "POINT (2 2)"),
		censusRow("82084010", "820277", "POINT (4 4)"),
		censusRow("82084020", "", "POINT (4.5 0.5)"),
		censusRow("82084030", "999999", "POINT (2 2)"),
		censusRow("14014010", "", "POINT (2 2)"),
	)

	r := extract(t, newContext(db), def)
	assert.Equal(t, []string{"82084270", "82084010", "82084020"}, r.NewEntitiesIDs)
	assert.Equal(t, []string{"82084030", "14014010"}, errorKeys(r))

	rows := canonical(t, db, entity.CensusLocality)
	located := rows["82084270"]
	assert.Equal(t, "820277", located.String("municipio_id"), "located by its point")
	assert.Equal(t, "82084", located.String("departamento_id"))
	assert.Equal(t, "Rosario", located.String("departamento_nombre"))
	assert.Equal(t, "82", located.String("provincia_id"))
	assert.Equal(t, "Santa Fe", located.String("provincia_nombre"))

	assert.Equal(t, "820277", rows["82084010"].String("municipio_id"), "declared municipality wins")
	assert.Nil(t, rows["82084020"]["municipio_id"], "outside every municipality")
}

func seedCensus(t *testing.T, db *database.DB) {
	t.Helper()
	seedHierarchy(t, db)
	loc := mustEntity(t, entity.CensusLocality, "82084270", "Rosario", "POINT (2 2)")
	loc.SetParent("departamento", database.Row{entity.ColID: "82084", entity.ColName: "Rosario"}).
		SetParent("provincia", database.Row{entity.ColID: "82", entity.ColName: "Santa Fe"}).
		SetParent("municipio", database.Row{entity.ColID: "820277", entity.ColName: "Rosario"})
	seedEntities(t, db, entity.CensusLocality, loc)
}

func bahraRow(code, kind, wkt string) database.Row {
	return database.Row{"cod_bahra": code, "nombre_bah": "Asentamiento " + code, "tipo_bahra": kind, "fuente_ubi": "BAHRA", "geometria": wkt}
}

func TestSettlements_Transform(t *testing.T) {
	db := dbtest.Open(t)
	seedCensus(t, db)
	def := georef.Settlements()
	seedStaging(t, db, def.Staging,
		bahraRow("82084270000", "LS", "POINT (2 2)"),
		bahraRow("82084999001", "P", "POINT (1.5 1.5)"),
		bahraRow("82084999002", "P", "POINT (4.5 4.5)"),
		bahraRow("9008401001", "P", "POINT (2 2)"),
	)

	r := extract(t, newContext(db), def)
	assert.Equal(t, []string{"82084270000", "82084999001", "82084999002"}, r.NewEntitiesIDs)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "09008401001", r.Errors[0].Key, "zero padded before validation")

	rows := canonical(t, db, entity.Settlement)
	inCensus := rows["82084270000"]
	assert.Equal(t, "82084270", inCensus.String("localidad_censal_id"))
	assert.Equal(t, "820277", inCensus.String("municipio_id"), "inherited from the census locality")
	assert.Equal(t, "P", rows["82084999001"].String(entity.ColCategory))
	assert.Nil(t, rows["82084999001"]["localidad_censal_id"])
	assert.Equal(t, "820277", rows["82084999001"].String("municipio_id"), "located by its point")
	assert.Nil(t, rows["82084999002"]["municipio_id"])
}

func TestLocalities_OnlyLocalityKinds(t *testing.T) {
	db := dbtest.Open(t)
	seedCensus(t, db)
	def := georef.Localities()
	seedStaging(t, db, def.Staging,
		bahraRow("82084270000", "LS", "POINT (2 2)"),
		bahraRow("82084270001", "E", "POINT (2.1 2)"),
		bahraRow("82084270002", "P", "POINT (2.2 2)"),
		bahraRow("82084280000", "LC", "POINT (2.3 2)"),
	)

	r := extract(t, newContext(db), def)
	assert.Equal(t, []string{"82084270000", "82084270001"}, r.NewEntitiesIDs)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "82084280000", r.Errors[0].Key)
	assert.Contains(t, r.Errors[0].Message, "localidad_censal 82084280 not found")

	loc := canonical(t, db, entity.Locality)["82084270001"]
	assert.Equal(t, "82084270", loc.String("localidad_censal_id"))
	assert.Equal(t, "Rosario", loc.String("localidad_censal_nombre"))
	assert.Equal(t, "82084", loc.String("departamento_id"))
	assert.Equal(t, "Santa Fe", loc.String("provincia_nombre"))
	assert.Equal(t, "820277", loc.String("municipio_id"))
}
