package geometry

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// ErrInvalidWKT is returned for text that is not well-known-text, and for
// geometries with non-finite coordinates.
var ErrInvalidWKT = errors.New("invalid WKT")

// ParseWKT parses a 2D WKT geometry. An EWKT "SRID=n;" prefix is accepted
// and ignored. NaN and infinite ordinates are rejected.
func ParseWKT(text string) (orb.Geometry, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(strings.ToUpper(s), "SRID=") {
		if i := strings.IndexByte(s, ';'); i >= 0 {
			s = strings.TrimSpace(s[i+1:])
		}
	}

	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWKT, err)
	}
	if !eachPoint(g, finite) {
		return nil, fmt.Errorf("%w: non-finite coordinate", ErrInvalidWKT)
	}
	return g, nil
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}

// IsFinite reports whether both ordinates of p are finite numbers.
func (p Point) IsFinite() bool { return finite(p.Orb()) }

// eachPoint calls fn for every vertex of g until fn returns false.
// It reports whether every call returned true.
func eachPoint(g orb.Geometry, fn func(orb.Point) bool) bool {
	each := func(pts []orb.Point) bool {
		for _, p := range pts {
			if !fn(p) {
				return false
			}
		}
		return true
	}

	switch g := g.(type) {
	case orb.Point:
		return fn(g)
	case orb.MultiPoint:
		return each(g)
	case orb.LineString:
		return each(g)
	case orb.Ring:
		return each(g)
	case orb.MultiLineString:
		for _, ls := range g {
			if !each(ls) {
				return false
			}
		}
	case orb.Polygon:
		for _, r := range g {
			if !each(r) {
				return false
			}
		}
	case orb.MultiPolygon:
		for _, poly := range g {
			if !eachPoint(poly, fn) {
				return false
			}
		}
	case orb.Collection:
		for _, c := range g {
			if !eachPoint(c, fn) {
				return false
			}
		}
	}
	return true
}

// IsEmpty reports whether g has no coordinates.
func IsEmpty(g orb.Geometry) bool {
	return eachPoint(g, func(orb.Point) bool { return false })
}

// Lines returns the line strings of g. Other members are ignored.
func Lines(g orb.Geometry) orb.MultiLineString {
	switch g := g.(type) {
	case orb.LineString:
		if len(g) > 0 {
			return orb.MultiLineString{g}
		}
	case orb.MultiLineString:
		out := make(orb.MultiLineString, 0, len(g))
		for _, ls := range g {
			if len(ls) > 0 {
				out = append(out, ls)
			}
		}
		return out
	case orb.Collection:
		var out orb.MultiLineString
		for _, c := range g {
			out = append(out, Lines(c)...)
		}
		return out
	}
	return nil
}

// Polygons returns the non-empty polygons of g. Other members are ignored.
func Polygons(g orb.Geometry) orb.MultiPolygon {
	var out orb.MultiPolygon
	add := func(p orb.Polygon) {
		if len(p) > 0 && len(p[0]) > 0 {
			out = append(out, p)
		}
	}

	switch g := g.(type) {
	case orb.Polygon:
		add(g)
	case orb.MultiPolygon:
		for _, p := range g {
			add(p)
		}
	case orb.Collection:
		for _, c := range g {
			out = append(out, Polygons(c)...)
		}
	}
	return out
}

// FormatPoint renders a point as WKT.
func FormatPoint(p Point) string {
	return wkt.MarshalString(p.Orb())
}

// FormatMultiLineString renders lines as a WKT MULTILINESTRING.
func FormatMultiLineString(lines orb.MultiLineString) string {
	if lines == nil {
		lines = orb.MultiLineString{}
	}
	return wkt.MarshalString(lines)
}
