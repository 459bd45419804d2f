// Package geometry bridges the go-geom domain types to serialization and overlay operations.
package geometry

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
)

const SRID = 4326

var World = model.BBox{X1: -180, Y1: -90, X2: 180, Y2: 90}

func ToWKB(g geom.T) ([]byte, error) {
	b, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, fmt.Errorf("wkb marshal: %w", err)
	}
	return b, nil
}

func FromWKB(b []byte) (geom.T, error) {
	g, err := wkb.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("wkb unmarshal: %w", err)
	}
	return g, nil
}

// PolygonFromWKB decodes a stored footprint which must be a single polygon.
func PolygonFromWKB(b []byte) (*geom.Polygon, error) {
	g, err := FromWKB(b)
	if err != nil {
		return nil, err
	}
	p, ok := g.(*geom.Polygon)
	if !ok {
		return nil, fmt.Errorf("expected Polygon, got %T", g)
	}
	return p, nil
}

// Round returns a copy of g with every ordinate rounded to digits decimals.
func Round(g geom.T, digits int) geom.T {
	if g == nil || digits < 0 {
		return g
	}
	var c geom.T
	switch t := g.(type) {
	case *geom.Polygon:
		c = t.Clone()
	case *geom.MultiPolygon:
		c = t.Clone()
	default:
		return g
	}
	scale := math.Pow(10, float64(digits))
	flat := c.FlatCoords()
	for i, v := range flat {
		flat[i] = math.Round(v*scale) / scale
	}
	return c
}

// EncodeGeoJSON renders g at the given precision.
func EncodeGeoJSON(g geom.T, digits int) (json.RawMessage, error) {
	b, err := geojson.Marshal(Round(g, digits))
	if err != nil {
		return nil, fmt.Errorf("geojson marshal: %w", err)
	}
	return b, nil
}

func Bounds(g geom.T) model.BBox {
	b := g.Bounds()
	return model.BBox{X1: b.Min(0), Y1: b.Min(1), X2: b.Max(0), Y2: b.Max(1)}
}

// Polygons dumps the polygonal components of g, dropping empty and zero-area pieces.
func Polygons(g geom.T) []*geom.Polygon {
	var out []*geom.Polygon
	var walk func(geom.T)
	walk = func(t geom.T) {
		switch v := t.(type) {
		case *geom.Polygon:
			if v.NumLinearRings() > 0 && v.Area() > minArea {
				out = append(out, v)
			}
		case *geom.MultiPolygon:
			for i := 0; i < v.NumPolygons(); i++ {
				walk(v.Polygon(i))
			}
		case *geom.GeometryCollection:
			for i := 0; i < v.NumGeoms(); i++ {
				walk(v.Geom(i))
			}
		}
	}
	if g != nil {
		walk(g)
	}
	return out
}

// Normalize collapses g to a Polygon or MultiPolygon, or nil when nothing areal remains.
func Normalize(g geom.T) (geom.T, error) {
	ps := Polygons(g)
	switch len(ps) {
	case 0:
		return nil, nil
	case 1:
		return ps[0], nil
	}
	mp := geom.NewMultiPolygon(geom.XY)
	for _, p := range ps {
		if err := mp.Push(p); err != nil {
			return nil, fmt.Errorf("build multipolygon: %w", err)
		}
	}
	return mp, nil
}

// CheckFootprint enforces the structural rules a stored footprint must satisfy.
func CheckFootprint(p *geom.Polygon) error {
	if p == nil {
		return fmt.Errorf("footprint is required")
	}
	if p.Layout() != geom.XY {
		return fmt.Errorf("footprint must be 2D, got layout %v", p.Layout())
	}
	if p.NumLinearRings() == 0 {
		return fmt.Errorf("footprint has no rings")
	}
	for i := 0; i < p.NumLinearRings(); i++ {
		r := p.LinearRing(i)
		n := r.NumCoords()
		if n < 4 {
			return fmt.Errorf("ring %d has %d positions, need at least 4", i, n)
		}
		first, last := r.Coord(0), r.Coord(n-1)
		if first.X() != last.X() || first.Y() != last.Y() {
			return fmt.Errorf("ring %d is not closed", i)
		}
	}
	b := Bounds(p)
	if b.X1 < World.X1 || b.Y1 < World.Y1 || b.X2 > World.X2 || b.Y2 > World.Y2 {
		return fmt.Errorf("footprint bbox %s outside %s", b, World)
	}
	return nil
}
