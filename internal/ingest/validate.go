package ingest

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/polygon-parts/internal/core/errs"
	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
	"github.com/mohammed-shakir/polygon-parts/internal/geometry"
)

var (
	productIDRe      = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,37}$`)
	productVersionRe = regexp.MustCompile(`^[1-9]\d*(\.(0|[1-9]\d?))?$`)
)

type numRange struct{ min, max float64 }

func (r numRange) contains(v float64) bool { return v >= r.min && v <= r.max }

var (
	resolutionDegreeRange = numRange{0.000000167638063430786, 0.703125}
	resolutionMeterRange  = numRange{0.0185, 78271.52}
	ce90Range             = numRange{0.01, 4000}
)

// Validate checks a payload against the product and part rules. Every problem is
// reported, joined into one ValidationError.
func Validate(p model.Payload, eng geometry.Engine, now time.Time) error {
	var problems []error
	add := func(format string, args ...any) { problems = append(problems, fmt.Errorf(format, args...)) }

	if p.CatalogID == uuid.Nil {
		add("catalogId is required")
	}
	if !productIDRe.MatchString(p.ProductID) {
		add("productId %q must match %s", p.ProductID, productIDRe)
	}
	if !p.ProductType.Valid() {
		add("productType %q is not supported", p.ProductType)
	}
	if !productVersionRe.MatchString(p.ProductVersion) {
		add("productVersion %q must match %s", p.ProductVersion, productVersionRe)
	}
	if len(p.PartsData) == 0 {
		add("partsData must contain at least one part")
	}

	for i, d := range p.PartsData {
		at := fmt.Sprintf("partsData[%d]", i)
		if strings.TrimSpace(d.SourceName) == "" {
			add("%s.sourceName is required", at)
		}
		if d.SourceID != nil && strings.TrimSpace(*d.SourceID) == "" {
			add("%s.sourceId must not be empty when set", at)
		}
		if d.ImagingTimeBeginUTC.IsZero() || d.ImagingTimeEndUTC.IsZero() {
			add("%s imaging times are required", at)
		} else {
			if d.ImagingTimeBeginUTC.After(d.ImagingTimeEndUTC) {
				add("%s.imagingTimeBeginUTC must not be after imagingTimeEndUTC", at)
			}
			if !d.ImagingTimeEndUTC.Before(now) {
				add("%s.imagingTimeEndUTC must be in the past", at)
			}
			if !d.ImagingTimeBeginUTC.Before(now) {
				add("%s.imagingTimeBeginUTC must be in the past", at)
			}
		}
		if !resolutionDegreeRange.contains(d.ResolutionDegree) {
			add("%s.resolutionDegree %v out of range [%v, %v]", at, d.ResolutionDegree, resolutionDegreeRange.min, resolutionDegreeRange.max)
		}
		if !resolutionMeterRange.contains(d.ResolutionMeter) {
			add("%s.resolutionMeter %v out of range [%v, %v]", at, d.ResolutionMeter, resolutionMeterRange.min, resolutionMeterRange.max)
		}
		if !resolutionMeterRange.contains(d.SourceResolutionMeter) {
			add("%s.sourceResolutionMeter %v out of range [%v, %v]", at, d.SourceResolutionMeter, resolutionMeterRange.min, resolutionMeterRange.max)
		}
		if !ce90Range.contains(d.HorizontalAccuracyCE90) {
			add("%s.horizontalAccuracyCE90 %v out of range [%v, %v]", at, d.HorizontalAccuracyCE90, ce90Range.min, ce90Range.max)
		}
		lists := []struct {
			field string
			items []string
		}{{"sensors", d.Sensors}, {"countries", d.Countries}, {"cities", d.Cities}}
		for _, l := range lists {
			for j, s := range l.items {
				if strings.TrimSpace(s) == "" {
					add("%s.%s[%d] must not be empty", at, l.field, j)
				}
			}
		}
		if err := geometry.CheckFootprint(d.Footprint.Polygon); err != nil {
			add("%s.footprint: %v", at, err)
		} else if err := eng.Validate(d.Footprint.Polygon); err != nil {
			add("%s.footprint: %v", at, err)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errs.E(errs.ErrValidation, "validate payload", p.ProductID, errors.Join(problems...))
}
