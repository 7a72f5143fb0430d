package geometry

import (
	"context"
	"fmt"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
)

// DefaultSRID is the spatial reference of stored geometries (WGS 84).
const DefaultSRID = 4326

// SQLSTATEs PostGIS raises for unparsable or invalid geometry input
const (
	sqlStateInternal         = "XX000"
	sqlStateInvalidParameter = "22023"
)

// PostGISEngine delegates geometry work to PostGIS functions.
// Geometries travel as WKT and are stored as WKT text columns.
type PostGISEngine struct {
	db       *database.DB
	srid     int
	keyField string
}

var _ Engine = (*PostGISEngine)(nil)

// NewPostGISEngine creates an engine that runs queries on db.
func NewPostGISEngine(db *database.DB) *PostGISEngine {
	return &PostGISEngine{db: db, srid: DefaultSRID, keyField: database.DefaultKeyField}
}

func (e *PostGISEngine) queryFloats(ctx context.Context, q string, args ...any) ([]float64, error) {
	rows, err := e.db.Session().QueryRows(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("postgis: expected one row, got %d", len(rows))
	}
	out := make([]float64, 0, len(rows[0]))
	for _, col := range []string{"a", "b"} {
		if _, present := rows[0][col]; !present {
			continue
		}
		v, ok := rows[0].Float(col)
		if !ok {
			return nil, fmt.Errorf("postgis: column %s is not numeric", col)
		}
		out = append(out, v)
	}
	return out, nil
}

// Centroid returns ST_Centroid of the geometry.
func (e *PostGISEngine) Centroid(ctx context.Context, wkt string) (Point, error) {
	vals, err := e.queryFloats(ctx,
		"SELECT ST_X(c) AS a, ST_Y(c) AS b FROM (SELECT ST_Centroid(ST_GeomFromText($1, $2)) AS c) t",
		wkt, e.srid)
	if err != nil {
		return Point{}, geometryError("centroid", err)
	}
	if len(vals) != 2 {
		return Point{}, fmt.Errorf("centroid: unexpected result")
	}
	return Point{Lon: vals[0], Lat: vals[1]}, nil
}

// IntersectionPercentage returns 100 * area(a ∩ b) / area(a).
func (e *PostGISEngine) IntersectionPercentage(ctx context.Context, a, b string) (float64, error) {
	vals, err := e.queryFloats(ctx, `SELECT CASE WHEN ST_Area(ga) = 0 THEN 0
		ELSE 100 * ST_Area(ST_Intersection(ga, gb)) / ST_Area(ga) END AS a
		FROM (SELECT ST_GeomFromText($1, $3) AS ga, ST_GeomFromText($2, $3) AS gb) t`,
		a, b, e.srid)
	if err != nil {
		return 0, geometryError("intersection percentage", err)
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("intersection percentage: unexpected result")
	}
	return vals[0], nil
}

// Locate returns the first row, in key order, whose geometry contains p.
// It runs inside sess so that rows written earlier in the same
// transaction are visible.
func (e *PostGISEngine) Locate(ctx context.Context, sess *database.Session, table string, p Point) (string, bool, error) {
	d := sess.Dialect()
	key := d.Quote(e.keyField)
	q := "SELECT " + key + " FROM " + d.Quote(table) +
		" WHERE ST_Contains(ST_GeomFromText(" + d.Quote(GeometryColumn) + ", $3), ST_SetSRID(ST_MakePoint($1, $2), $3))" +
		" ORDER BY " + key + " LIMIT 1"

	rows, err := sess.QueryRows(ctx, q, p.Lon, p.Lat, e.srid)
	if err != nil {
		return "", false, fmt.Errorf("locate in %s: %w", table, err)
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].String(e.keyField), true, nil
}

// geometryError marks geometry parse failures reported by PostGIS with
// ErrInvalidWKT, so that a bad row is rejected instead of failing the run.
func geometryError(op string, err error) error {
	switch database.SQLState(err) {
	case sqlStateInternal, sqlStateInvalidParameter:
		return fmt.Errorf("%s: %w: %v", op, ErrInvalidWKT, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
