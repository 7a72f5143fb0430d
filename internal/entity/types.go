package entity

import "github.com/datosgobar/georef-ar-etl-sub000/internal/database"

func text(names ...string) []database.Column {
	cols := make([]database.Column, len(names))
	for i, n := range names {
		cols[i] = database.Column{Name: n, Type: database.TypeText}
	}
	return cols
}

func ints(names ...string) []database.Column {
	cols := make([]database.Column, len(names))
	for i, n := range names {
		cols[i] = database.Column{Name: n, Type: database.TypeInteger}
	}
	return cols
}

// Canonical entity types
var (
	Province = &Type{
		Name:     "provincia",
		Table:    "georef_provincias",
		IDLength: 2,
		Columns:  text("nombre_completo", "iso_id", "iso_nombre"),
	}

	Department = &Type{
		Name:     "departamento",
		Table:    "georef_departamentos",
		IDLength: 5,
		Parent:   Province,
		Columns:  append(text("nombre_completo", "provincia_id", "provincia_nombre"), database.Column{Name: "provincia_interseccion", Type: database.TypeFloat}),
		Nested:   []string{"provincia"},
	}

	Municipality = &Type{
		Name:     "municipio",
		Table:    "georef_municipios",
		IDLength: 6,
		Parent:   Province,
		Columns:  append(text("nombre_completo", "provincia_id", "provincia_nombre"), database.Column{Name: "provincia_interseccion", Type: database.TypeFloat}),
		Nested:   []string{"provincia"},
	}

	CensusLocality = &Type{
		Name:     "localidad_censal",
		Table:    "georef_localidades_censales",
		IDLength: 8,
		Parent:   Department,
		Columns: text("funcion", "provincia_id", "provincia_nombre", "departamento_id", "departamento_nombre",
			"municipio_id", "municipio_nombre"),
		Nested: []string{"provincia", "departamento", "municipio"},
	}

	Settlement = &Type{
		Name:     "asentamiento",
		Table:    "georef_asentamientos",
		IDLength: 11,
		Parent:   Department,
		Columns: text("provincia_id", "provincia_nombre", "departamento_id", "departamento_nombre",
			"municipio_id", "municipio_nombre", "localidad_censal_id", "localidad_censal_nombre"),
		Nested: []string{"provincia", "departamento", "municipio", "localidad_censal"},
	}

	Locality = &Type{
		Name:     "localidad",
		Table:    "georef_localidades",
		IDLength: 11,
		Parent:   CensusLocality,
		Columns: text("provincia_id", "provincia_nombre", "departamento_id", "departamento_nombre",
			"municipio_id", "municipio_nombre", "localidad_censal_id", "localidad_censal_nombre"),
		Nested: []string{"provincia", "departamento", "municipio", "localidad_censal"},
	}

	Street = &Type{
		Name:     "calle",
		Table:    "georef_calles",
		IDLength: 13,
		Parent:   Department,
		Columns: append(text("nombre_completo", "provincia_id", "provincia_nombre", "departamento_id",
			"departamento_nombre", "localidad_censal_id", "localidad_censal_nombre"),
			ints("inicio_derecha", "fin_derecha", "inicio_izquierda", "fin_izquierda")...),
		Nested: []string{"provincia", "departamento", "localidad_censal"},
	}

	StreetBlock = &Type{
		Name:     "cuadra",
		Table:    "georef_cuadras",
		IDLength: 18,
		Parent:   Street,
		Columns: append(text("calle_id", "calle_nombre", "calle_categoria", "provincia_id", "provincia_nombre",
			"departamento_id", "departamento_nombre", "codigo_postal"),
			ints("inicio_derecha", "fin_derecha", "inicio_izquierda", "fin_izquierda")...),
		Nested: []string{"calle", "provincia", "departamento"},
	}

	Intersection = &Type{
		Name:     "interseccion",
		Table:    "georef_intersecciones",
		IDLength: 27,
		Columns: text("calle_a_id", "calle_a_nombre", "calle_a_categoria", "calle_b_id", "calle_b_nombre",
			"calle_b_categoria", "provincia_id", "provincia_nombre", "departamento_id", "departamento_nombre"),
		Nested: []string{"calle_a", "calle_b", "provincia", "departamento"},
	}
)

// Types lists every canonical type in dependency order.
var Types = []*Type{
	Province, Department, Municipality, CensusLocality, Settlement, Locality,
	Street, StreetBlock, Intersection,
}

// IntersectionID joins two street IDs, lower first.
func IntersectionID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "-" + b
}
