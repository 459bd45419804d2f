package aggregate

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/mohammed-shakir/polygon-parts/internal/core/errs"
	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
	"github.com/mohammed-shakir/polygon-parts/internal/geometry"
)

var day = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func square(x1, y1, x2, y2 float64) model.Footprint {
	return model.NewFootprint(geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{x1, y1}, {x2, y1}, {x2, y2}, {x1, y2}, {x1, y1},
	}}))
}

func row(order int64, fp model.Footprint, mutate func(*model.PartData)) model.PolygonPart {
	d := model.PartData{
		SourceName:             "src",
		ImagingTimeBeginUTC:    day,
		ImagingTimeEndUTC:      day.Add(time.Hour),
		ResolutionDegree:       0.001,
		ResolutionMeter:        5,
		SourceResolutionMeter:  5,
		HorizontalAccuracyCE90: 10,
		Sensors:                []string{"WV3"},
		Footprint:              fp,
	}
	if mutate != nil {
		mutate(&d)
	}
	id := uuid.New()
	return model.PolygonPart{
		ID:             id,
		PartID:         id,
		InsertionOrder: order,
		Record:         model.Record{ProductID: "p", ProductType: model.Orthophoto, PartData: d},
	}
}

func TestCompute_ResolutionMeterExtrema(t *testing.T) {
	rows := []model.PolygonPart{
		row(1, square(0, 0, 1, 1), func(d *model.PartData) { d.ResolutionMeter = 5.0 }),
		row(2, square(1, 0, 2, 1), func(d *model.PartData) { d.ResolutionMeter = 0.02 }),
		row(3, square(2, 0, 3, 1), func(d *model.PartData) { d.ResolutionMeter = 100.0 }),
	}
	got, err := Compute(geometry.NewEngine(), "p_orthophoto", rows, 7)
	require.NoError(t, err)
	require.Equal(t, 0.02, got.MinResolutionMeter)
	require.Equal(t, 100.0, got.MaxResolutionMeter)
}

func TestCompute_AllExtremaAndSensors(t *testing.T) {
	rows := []model.PolygonPart{
		row(1, square(0, 0, 1, 1), func(d *model.PartData) {
			d.ImagingTimeBeginUTC = day.Add(-24 * time.Hour)
			d.ResolutionDegree = 0.01
			d.HorizontalAccuracyCE90 = 3
			d.Sensors = []string{"WV3", "GeoEye"}
		}),
		row(2, square(1, 0, 2, 1), func(d *model.PartData) {
			d.ImagingTimeEndUTC = day.Add(48 * time.Hour)
			d.ResolutionDegree = 0.0001
			d.HorizontalAccuracyCE90 = 40
			d.Sensors = []string{"Pleiades", "WV3"}
		}),
	}
	got, err := Compute(geometry.NewEngine(), "p_orthophoto", rows, 7)
	require.NoError(t, err)

	require.Equal(t, day.Add(-24*time.Hour), got.ImagingTimeBeginUTC)
	require.Equal(t, day.Add(48*time.Hour), got.ImagingTimeEndUTC)
	require.Equal(t, 0.0001, got.MinResolutionDeg)
	require.Equal(t, 0.01, got.MaxResolutionDeg)
	require.Equal(t, 3.0, got.MinHorizontalAccuracyCE90)
	require.Equal(t, 40.0, got.MaxHorizontalAccuracyCE90)
	require.Equal(t, []string{"GeoEye", "Pleiades", "WV3"}, got.Sensors)
}

func TestCompute_FootprintIsUnionAndBBoxDerived(t *testing.T) {
	rows := []model.PolygonPart{
		row(1, square(0, 0, 1, 1), nil),
		row(2, square(1, 0, 2, 1), nil),
		row(3, square(5, 5, 6, 7), nil),
	}
	got, err := Compute(geometry.NewEngine(), "p_orthophoto", rows, 7)
	require.NoError(t, err)
	require.Equal(t, "0,0,6,7", got.ProductBoundingBox)

	var g struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(got.Footprint, &g))
	require.Equal(t, "MultiPolygon", g.Type)
}

func TestCompute_RoundsFootprintAndBBox(t *testing.T) {
	rows := []model.PolygonPart{row(1, square(0.123456789, 0, 1, 1.987654321), nil)}
	got, err := Compute(geometry.NewEngine(), "p_orthophoto", rows, 3)
	require.NoError(t, err)
	require.Equal(t, "0.123,0,1,1.988", got.ProductBoundingBox)
	require.NotContains(t, string(got.Footprint), "0.1234")
}

func TestCompute_EmptyIsNotFound(t *testing.T) {
	_, err := Compute(geometry.NewEngine(), "p_orthophoto", nil, 7)
	require.True(t, errors.Is(err, errs.ErrNotFound), "got %v", err)
	require.Equal(t, 404, errs.HTTPStatus(err))
}
