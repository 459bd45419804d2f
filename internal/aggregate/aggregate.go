// Package aggregate computes rollup metadata over a polygon parts partition and serves
// it through a generation-keyed cache.
package aggregate

import (
	"errors"
	"slices"

	"github.com/twpayne/go-geom"

	"github.com/mohammed-shakir/polygon-parts/internal/core/errs"
	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
	"github.com/mohammed-shakir/polygon-parts/internal/geometry"
)

// Compute reduces rows into one AggregationResult. The footprint is the union of all
// rows rounded to digits decimals and the bounding box is taken from that geometry.
func Compute(eng geometry.Engine, entity string, rows []model.PolygonPart, digits int) (model.AggregationResult, error) {
	if len(rows) == 0 {
		return model.AggregationResult{}, errs.E(errs.ErrNotFound, "aggregate", entity, errors.New("partition has no polygon parts"))
	}

	first := rows[0]
	out := model.AggregationResult{
		ImagingTimeBeginUTC:       first.ImagingTimeBeginUTC,
		ImagingTimeEndUTC:         first.ImagingTimeEndUTC,
		MinResolutionDeg:          first.ResolutionDegree,
		MaxResolutionDeg:          first.ResolutionDegree,
		MinResolutionMeter:        first.ResolutionMeter,
		MaxResolutionMeter:        first.ResolutionMeter,
		MinHorizontalAccuracyCE90: first.HorizontalAccuracyCE90,
		MaxHorizontalAccuracyCE90: first.HorizontalAccuracyCE90,
	}
	sensors := make(map[string]struct{})
	footprints := make([]geom.T, 0, len(rows))

	for _, r := range rows {
		if r.ImagingTimeBeginUTC.Before(out.ImagingTimeBeginUTC) {
			out.ImagingTimeBeginUTC = r.ImagingTimeBeginUTC
		}
		if r.ImagingTimeEndUTC.After(out.ImagingTimeEndUTC) {
			out.ImagingTimeEndUTC = r.ImagingTimeEndUTC
		}
		out.MinResolutionDeg = min(out.MinResolutionDeg, r.ResolutionDegree)
		out.MaxResolutionDeg = max(out.MaxResolutionDeg, r.ResolutionDegree)
		out.MinResolutionMeter = min(out.MinResolutionMeter, r.ResolutionMeter)
		out.MaxResolutionMeter = max(out.MaxResolutionMeter, r.ResolutionMeter)
		out.MinHorizontalAccuracyCE90 = min(out.MinHorizontalAccuracyCE90, r.HorizontalAccuracyCE90)
		out.MaxHorizontalAccuracyCE90 = max(out.MaxHorizontalAccuracyCE90, r.HorizontalAccuracyCE90)
		for _, s := range r.Sensors {
			sensors[s] = struct{}{}
		}
		if r.Footprint.Polygon != nil {
			footprints = append(footprints, r.Footprint.Polygon)
		}
	}

	out.Sensors = make([]string, 0, len(sensors))
	for s := range sensors {
		out.Sensors = append(out.Sensors, s)
	}
	slices.Sort(out.Sensors)

	union, err := eng.Union(footprints...)
	if err != nil {
		return model.AggregationResult{}, errs.E(errs.ErrGeometry, "aggregate footprint", entity, err)
	}
	if union == nil {
		return model.AggregationResult{}, errs.E(errs.ErrGeometry, "aggregate footprint", entity, errors.New("union of footprints is empty"))
	}
	rounded := geometry.Round(union, digits)
	out.Footprint, err = geometry.EncodeGeoJSON(rounded, digits)
	if err != nil {
		return model.AggregationResult{}, errs.E(errs.ErrGeometry, "encode footprint", entity, err)
	}
	out.ProductBoundingBox = geometry.Bounds(rounded).String()
	return out, nil
}
