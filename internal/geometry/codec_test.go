package geometry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func TestWKB_RoundTripPolygon(t *testing.T) {
	p := rect(t, -40, -40, -20, 40)
	b, err := ToWKB(p)
	require.NoError(t, err)
	got, err := PolygonFromWKB(b)
	require.NoError(t, err)
	require.Equal(t, p.FlatCoords(), got.FlatCoords())
}

func TestPolygonFromWKB_RejectsOtherTypes(t *testing.T) {
	pt := geom.NewPointFlat(geom.XY, []float64{1, 2})
	b, err := ToWKB(pt)
	require.NoError(t, err)
	_, err = PolygonFromWKB(b)
	require.Error(t, err)
}

func TestRound_DoesNotMutateInput(t *testing.T) {
	p := rect(t, 0.123456789, 0.987654321, 1.5, 1.5)
	r := Round(p, 3)
	require.Equal(t, 0.123456789, p.FlatCoords()[0])
	require.Equal(t, 0.123, r.FlatCoords()[0])
	require.Equal(t, 0.988, r.FlatCoords()[1])
}

func TestEncodeGeoJSON_Precision(t *testing.T) {
	p := rect(t, 0.11111111, 0, 1, 1)
	raw, err := EncodeGeoJSON(p, 2)
	require.NoError(t, err)
	var doc struct {
		Type        string        `json:"type"`
		Coordinates [][][]float64 `json:"coordinates"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Equal(t, "Polygon", doc.Type)
	require.Equal(t, 0.11, doc.Coordinates[0][0][0])
}

func TestBounds(t *testing.T) {
	b := Bounds(rect(t, -10, -5, 20, 15))
	require.Equal(t, "-10,-5,20,15", b.String())
}

func TestPolygons_DumpsMultiAndDropsDegenerate(t *testing.T) {
	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(rect(t, 0, 0, 1, 1)))
	require.NoError(t, mp.Push(rect(t, 2, 2, 3, 3)))
	flat, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{{{5, 5}, {6, 5}, {7, 5}, {5, 5}}})
	require.NoError(t, err)
	require.NoError(t, mp.Push(flat))

	require.Len(t, Polygons(mp), 2)
	require.Nil(t, Polygons(nil))
}

func TestNormalize(t *testing.T) {
	g, err := Normalize(rect(t, 0, 0, 1, 1))
	require.NoError(t, err)
	require.IsType(t, &geom.Polygon{}, g)

	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(rect(t, 0, 0, 1, 1)))
	require.NoError(t, mp.Push(rect(t, 2, 2, 3, 3)))
	g, err = Normalize(mp)
	require.NoError(t, err)
	require.IsType(t, &geom.MultiPolygon{}, g)

	g, err = Normalize(geom.NewMultiPolygon(geom.XY))
	require.NoError(t, err)
	require.Nil(t, g)
}

func TestCheckFootprint(t *testing.T) {
	require.NoError(t, CheckFootprint(rect(t, -180, -90, 180, 90)))
	require.Error(t, CheckFootprint(nil))
	require.Error(t, CheckFootprint(rect(t, -181, 0, 0, 10)))
	require.Error(t, CheckFootprint(rect(t, 0, 0, 10, 91)))

	open, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{{{0, 0}, {1, 0}, {1, 1}, {0, 1}}})
	require.NoError(t, err)
	require.ErrorContains(t, CheckFootprint(open), "not closed")

	short, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{{{0, 0}, {1, 0}, {0, 0}}})
	require.NoError(t, err)
	require.ErrorContains(t, CheckFootprint(short), "at least 4")

	z, err := geom.NewPolygon(geom.XYZ).SetCoords([][]geom.Coord{{{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 0, 1}}})
	require.NoError(t, err)
	require.ErrorContains(t, CheckFootprint(z), "2D")
}
