package geometry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func rect(t *testing.T, x1, y1, x2, y2 float64) *geom.Polygon {
	t.Helper()
	p, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{{
		{x1, y1}, {x2, y1}, {x2, y2}, {x1, y2}, {x1, y1},
	}})
	require.NoError(t, err)
	return p
}

func area(g geom.T) float64 {
	var a float64
	for _, p := range Polygons(g) {
		a += p.Area()
	}
	return a
}
