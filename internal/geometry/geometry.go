// Package geometry is the port to the geometry engine: centroids, coverage
// percentages and point-in-polygon lookups over WKT geometries.
package geometry

import (
	"context"

	"github.com/paulmach/orb"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
)

// GeometryColumn is the column holding WKT geometries in canonical tables.
const GeometryColumn = "geometria"

// Point is a lon/lat coordinate.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// PointOf converts an orb point.
func PointOf(p orb.Point) Point { return Point{Lon: p.X(), Lat: p.Y()} }

// Orb returns p as an orb point.
func (p Point) Orb() orb.Point { return orb.Point{p.Lon, p.Lat} }

// Engine computes geometric properties.
type Engine interface {
	// Centroid returns the centroid of a WKT geometry.
	Centroid(ctx context.Context, wkt string) (Point, error)

	// IntersectionPercentage returns the percentage (0-100) of the area of a
	// covered by b.
	IntersectionPercentage(ctx context.Context, a, b string) (float64, error)

	// Locate returns the key of the row of table whose geometry contains p.
	Locate(ctx context.Context, sess *database.Session, table string, p Point) (string, bool, error)
}

// Interactive wraps an engine so that intersection percentages are skipped.
// Interactive runs favor turnaround over coverage warnings.
type Interactive struct {
	Engine
}

// IntersectionPercentage always returns 0.
func (Interactive) IntersectionPercentage(context.Context, string, string) (float64, error) {
	return 0, nil
}
