package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/twpayne/go-geom"

	"github.com/mohammed-shakir/polygon-parts/internal/core/errs"
	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
	"github.com/mohammed-shakir/polygon-parts/internal/geometry"
)

func TestValidate_Accepts(t *testing.T) {
	p := payload(partData(square(-180, -90, 180, 90), 0.0185))
	if err := Validate(p, geometry.NewEngine(), testNow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	bowtie := model.NewFootprint(geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{0, 0}, {1, 1}, {1, 0}, {0, 1}, {0, 0},
	}}))
	cases := []struct {
		name   string
		mutate func(p *model.Payload)
		want   string
	}{
		{"product id", func(p *model.Payload) { p.ProductID = "1abc" }, "productId"},
		{"product type", func(p *model.Payload) { p.ProductType = "Satellite" }, "productType"},
		{"product version", func(p *model.Payload) { p.ProductVersion = "1.100" }, "productVersion"},
		{"no parts", func(p *model.Payload) { p.PartsData = nil }, "partsData"},
		{"resolution degree", func(p *model.Payload) { p.PartsData[0].ResolutionDegree = 1 }, "resolutionDegree"},
		{"ce90", func(p *model.Payload) { p.PartsData[0].HorizontalAccuracyCE90 = 4000.5 }, "horizontalAccuracyCE90"},
		{"source resolution", func(p *model.Payload) { p.PartsData[0].SourceResolutionMeter = 80000 }, "sourceResolutionMeter"},
		{"times order", func(p *model.Payload) {
			p.PartsData[0].ImagingTimeBeginUTC = p.PartsData[0].ImagingTimeEndUTC.Add(time.Hour)
		}, "must not be after"},
		{"future", func(p *model.Payload) { p.PartsData[0].ImagingTimeEndUTC = testNow.Add(time.Minute) }, "in the past"},
		{"empty sensor", func(p *model.Payload) { p.PartsData[0].Sensors = []string{"a", " "} }, "sensors[1]"},
		{"source name", func(p *model.Payload) { p.PartsData[0].SourceName = "" }, "sourceName"},
		{"self intersection", func(p *model.Payload) { p.PartsData[0].Footprint = bowtie }, "footprint"},
		{"out of world", func(p *model.Payload) { p.PartsData[0].Footprint = square(170, 0, 190, 10) }, "footprint"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := payload(partData(square(0, 0, 1, 1), 5))
			c.mutate(&p)
			err := Validate(p, geometry.NewEngine(), testNow)
			if !errors.Is(err, errs.ErrValidation) {
				t.Fatalf("want validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Fatalf("error %q does not mention %q", err, c.want)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	p := payload(partData(square(0, 0, 1, 1), 5))
	p.ProductID = ""
	p.PartsData[0].ResolutionMeter = 0
	err := Validate(p, geometry.NewEngine(), testNow)
	for _, want := range []string{"productId", "resolutionMeter"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %s in %v", want, err)
		}
	}
}
