// Package entity defines the canonical georef entities: their tables,
// fixed-length IDs and ancestry encoded as ID prefixes.
package entity

import (
	"sort"
	"strings"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/geometry"
)

// Common columns of every canonical table
const (
	ColID       = "id"
	ColName     = "nombre"
	ColSource   = "fuente"
	ColCategory = "categoria"
	ColGeometry = geometry.GeometryColumn
	ColLon      = "centroide_lon"
	ColLat      = "centroide_lat"
)

// Type describes one kind of canonical entity.
type Type struct {
	// Name is the singular entity name used in exports ("provincia")
	Name string

	// Table is the canonical table
	Table string

	// IDLength is the exact length of every ID of this type
	IDLength int

	// Parent is the entity whose ID prefixes this one's, if any
	Parent *Type

	// Columns are the type-specific columns, after the common ones
	Columns []database.Column

	// Nested groups flattened columns under an export object, e.g.
	// "provincia" groups provincia_id and provincia_nombre
	Nested []string
}

// ParentID returns the prefix of id that identifies the parent entity.
func (t *Type) ParentID(id string) string {
	if t.Parent == nil || len(id) < t.Parent.IDLength {
		return ""
	}
	return id[:t.Parent.IDLength]
}

// TableDef returns the canonical table definition.
func (t *Type) TableDef() database.TableDef {
	cols := []database.Column{
		{Name: ColID, Type: database.TypeText},
		{Name: ColName, Type: database.TypeText},
		{Name: ColSource, Type: database.TypeText},
		{Name: ColCategory, Type: database.TypeText},
		{Name: ColLon, Type: database.TypeFloat},
		{Name: ColLat, Type: database.TypeFloat},
		{Name: ColGeometry, Type: database.TypeText},
	}
	cols = append(cols, t.Columns...)
	return database.TableDef{Name: t.Table, Columns: cols, PrimaryKey: ColID}
}

// ValidateID checks the fixed-length invariant.
func (t *Type) ValidateID(id string) error {
	if len(id) != t.IDLength {
		return errhandling.Validationf("%s ID %q has length %d, expected %d", t.Name, id, len(id), t.IDLength)
	}
	if strings.TrimSpace(id) != id {
		return errhandling.Validationf("%s ID %q has surrounding spaces", t.Name, id)
	}
	return nil
}

// Entity is one canonical row. Construction enforces the ID length, so an
// Entity with a malformed ID never exists.
type Entity struct {
	typ      *Type
	id       string
	Name     string
	Source   string
	Category string
	Centroid geometry.Point
	Geometry string

	// Fields holds the type-specific columns (foreign keys, denormalized
	// parent names, house number ranges)
	Fields map[string]any
}

// New creates an entity, failing with a ValidationError when the ID
// length differs from the type's.
func New(t *Type, id, name string) (*Entity, error) {
	if err := t.ValidateID(id); err != nil {
		return nil, err
	}
	return &Entity{typ: t, id: id, Name: name, Fields: map[string]any{}}, nil
}

// ID returns the entity ID.
func (e *Entity) ID() string { return e.id }

// Type returns the entity type.
func (e *Entity) Type() *Type { return e.typ }

// Set stores a type-specific column value and returns the entity.
func (e *Entity) Set(col string, v any) *Entity {
	e.Fields[col] = v
	return e
}

// SetParent stores a parent's ID and name under "<parent>_id" and "<parent>_nombre".
func (e *Entity) SetParent(prefix string, parent database.Row) *Entity {
	e.Fields[prefix+"_id"] = parent.String(ColID)
	e.Fields[prefix+"_nombre"] = parent.String(ColName)
	return e
}

// Row returns the entity as a canonical table row.
func (e *Entity) Row() database.Row {
	row := database.Row{
		ColID:       e.id,
		ColName:     e.Name,
		ColSource:   e.Source,
		ColCategory: e.Category,
		ColLon:      e.Centroid.Lon,
		ColLat:      e.Centroid.Lat,
		ColGeometry: e.Geometry,
	}
	for k, v := range e.Fields {
		row[k] = v
	}
	for _, c := range e.typ.Columns {
		if _, ok := row[c.Name]; !ok {
			row[c.Name] = nil
		}
	}
	return row
}

// Document returns the export representation of a canonical row: nested
// groups become objects and the centroid becomes {lon, lat}.
func (t *Type) Document(row database.Row) map[string]any {
	doc := make(map[string]any, len(row))
	groups := map[string]map[string]any{}

	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if k == ColGeometry {
			continue
		}
		if prefix, field, ok := t.group(k); ok {
			if groups[prefix] == nil {
				groups[prefix] = map[string]any{}
			}
			groups[prefix][field] = row[k]
			continue
		}
		doc[k] = row[k]
	}
	for prefix, g := range groups {
		doc[prefix] = g
	}
	return doc
}

func (t *Type) group(col string) (prefix, field string, ok bool) {
	if strings.HasPrefix(col, "centroide_") {
		return "centroide", strings.TrimPrefix(col, "centroide_"), true
	}
	for _, n := range t.Nested {
		if strings.HasPrefix(col, n+"_") {
			return n, strings.TrimPrefix(col, n+"_"), true
		}
	}
	return "", "", false
}
