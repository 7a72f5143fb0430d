package geometry

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
)

// DefaultGridSize is the per-axis sample count of PlanarEngine coverage estimates.
const DefaultGridSize = 64

// errFound stops a table scan once a containing row is found.
var errFound = errors.New("found")

// PlanarEngine computes geometry in plain Cartesian lon/lat space.
// It backs SQLite runs and tests; coverage is estimated by sampling
// a regular grid over the bounding box of the covered geometry.
type PlanarEngine struct {
	// GridSize is the number of samples per axis (DefaultGridSize if 0)
	GridSize int

	// KeyField is the key column Locate returns (database.DefaultKeyField if empty)
	KeyField string
}

var _ Engine = (*PlanarEngine)(nil)

// NewPlanarEngine creates a PlanarEngine with default settings.
func NewPlanarEngine() *PlanarEngine {
	return &PlanarEngine{GridSize: DefaultGridSize, KeyField: database.DefaultKeyField}
}

// Centroid returns the area-weighted centroid of polygons, the
// length-weighted centroid of lines, or the mean of points.
func (e *PlanarEngine) Centroid(_ context.Context, wkt string) (Point, error) {
	g, err := ParseWKT(wkt)
	if err != nil {
		return Point{}, err
	}
	if IsEmpty(g) {
		return Point{}, fmt.Errorf("%w: empty geometry has no centroid", ErrInvalidWKT)
	}
	c, _ := planar.CentroidArea(g)
	return PointOf(c), nil
}

// Contains reports whether p lies inside any polygon of g. Holes are
// excluded; boundaries count as inside.
func Contains(g orb.Geometry, p Point) bool {
	return planar.MultiPolygonContains(Polygons(g), p.Orb())
}

// IntersectionPercentage estimates the percentage of a's area covered by b.
func (e *PlanarEngine) IntersectionPercentage(_ context.Context, a, b string) (float64, error) {
	ga, err := ParseWKT(a)
	if err != nil {
		return 0, err
	}
	gb, err := ParseWKT(b)
	if err != nil {
		return 0, err
	}
	pa, pb := Polygons(ga), Polygons(gb)
	if len(pa) == 0 || len(pb) == 0 {
		return 0, nil
	}

	n := e.GridSize
	if n <= 0 {
		n = DefaultGridSize
	}
	bound := pa.Bound()
	dx := (bound.Max.X() - bound.Min.X()) / float64(n)
	dy := (bound.Max.Y() - bound.Min.Y()) / float64(n)

	var inA, inBoth int
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p := orb.Point{bound.Min.X() + (float64(i)+0.5)*dx, bound.Min.Y() + (float64(j)+0.5)*dy}
			if !planar.MultiPolygonContains(pa, p) {
				continue
			}
			inA++
			if planar.MultiPolygonContains(pb, p) {
				inBoth++
			}
		}
	}
	if inA == 0 {
		return 0, nil
	}
	return 100 * float64(inBoth) / float64(inA), nil
}

// Locate scans table in key order and returns the first row whose
// geometry contains p. Rows with unparsable geometries are skipped.
func (e *PlanarEngine) Locate(ctx context.Context, sess *database.Session, table string, p Point) (string, bool, error) {
	key := e.KeyField
	if key == "" {
		key = database.DefaultKeyField
	}
	d := sess.Dialect()
	q := "SELECT " + d.Quote(key) + ", " + d.Quote(GeometryColumn) + " FROM " + d.Quote(table) +
		" ORDER BY " + d.Quote(key)

	pt := p.Orb()
	var found string
	err := sess.Each(ctx, q, nil, func(row database.Row) error {
		g, err := ParseWKT(row.String(GeometryColumn))
		if err != nil {
			return nil
		}
		polys := Polygons(g)
		if len(polys) == 0 || !polys.Bound().Contains(pt) {
			return nil
		}
		if planar.MultiPolygonContains(polys, pt) {
			found = row.String(key)
			return errFound
		}
		return nil
	})
	if errors.Is(err, errFound) {
		return found, true, nil
	}
	if err != nil {
		return "", false, err
	}
	return "", false, nil
}

// Crossing returns the first point where a line of a meets a line of b,
// scanning segments in order.
func Crossing(a, b orb.MultiLineString) (Point, bool) {
	if len(a) == 0 || len(b) == 0 || !a.Bound().Intersects(b.Bound()) {
		return Point{}, false
	}
	for _, la := range a {
		for i := 1; i < len(la); i++ {
			for _, lb := range b {
				for j := 1; j < len(lb); j++ {
					if p, ok := segmentCrossing(la[i-1], la[i], lb[j-1], lb[j]); ok {
						return PointOf(p), true
					}
				}
			}
		}
	}
	return Point{}, false
}

// segmentCrossing intersects segments p1p2 and q1q2. Collinear overlaps
// report no crossing.
func segmentCrossing(p1, p2, q1, q2 orb.Point) (orb.Point, bool) {
	rx, ry := p2.X()-p1.X(), p2.Y()-p1.Y()
	sx, sy := q2.X()-q1.X(), q2.Y()-q1.Y()
	den := rx*sy - ry*sx
	if den == 0 {
		return orb.Point{}, false
	}
	dx, dy := q1.X()-p1.X(), q1.Y()-p1.Y()
	t := (dx*sy - dy*sx) / den
	u := (dx*ry - dy*rx) / den
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return orb.Point{}, false
	}
	return orb.Point{p1.X() + t*rx, p1.Y() + t*ry}, true
}
