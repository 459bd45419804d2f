// Package model defines core domain types shared across the service.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
}

// String representation matching the product bounding box format
func (b BBox) String() string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return f(b.X1) + "," + f(b.Y1) + "," + f(b.X2) + "," + f(b.Y2)
}

type ProductType string

const (
	Orthophoto        ProductType = "Orthophoto"
	OrthophotoHistory ProductType = "OrthophotoHistory"
	OrthophotoBest    ProductType = "OrthophotoBest"
	RasterMap         ProductType = "RasterMap"
	RasterMapBest     ProductType = "RasterMapBest"
	RasterAid         ProductType = "RasterAid"
	RasterAidBest     ProductType = "RasterAidBest"
	RasterVector      ProductType = "RasterVector"
	RasterVectorBest  ProductType = "RasterVectorBest"
)

var productTypes = map[ProductType]struct{}{
	Orthophoto: {}, OrthophotoHistory: {}, OrthophotoBest: {},
	RasterMap: {}, RasterMapBest: {},
	RasterAid: {}, RasterAidBest: {},
	RasterVector: {}, RasterVectorBest: {},
}

func (p ProductType) Valid() bool {
	_, ok := productTypes[p]
	return ok
}

// Footprint is a polygon carried as a GeoJSON geometry on the wire.
type Footprint struct {
	*geom.Polygon
}

func NewFootprint(p *geom.Polygon) Footprint { return Footprint{Polygon: p} }

func (f *Footprint) UnmarshalJSON(b []byte) error {
	var g geom.T
	if err := geojson.Unmarshal(b, &g); err != nil {
		return fmt.Errorf("footprint: %w", err)
	}
	p, ok := g.(*geom.Polygon)
	if !ok {
		return fmt.Errorf("footprint: expected Polygon, got %T", g)
	}
	f.Polygon = p
	return nil
}

func (f Footprint) MarshalJSON() ([]byte, error) {
	if f.Polygon == nil {
		return []byte("null"), nil
	}
	return geojson.Marshal(f.Polygon)
}

// PartData is one footprint contribution as submitted by a client.
type PartData struct {
	SourceID               *string   `json:"sourceId,omitempty"`
	SourceName             string    `json:"sourceName"`
	ImagingTimeBeginUTC    time.Time `json:"imagingTimeBeginUTC"`
	ImagingTimeEndUTC      time.Time `json:"imagingTimeEndUTC"`
	ResolutionDegree       float64   `json:"resolutionDegree"`
	ResolutionMeter        float64   `json:"resolutionMeter"`
	SourceResolutionMeter  float64   `json:"sourceResolutionMeter"`
	HorizontalAccuracyCE90 float64   `json:"horizontalAccuracyCE90"`
	Sensors                []string  `json:"sensors"`
	Countries              []string  `json:"countries,omitempty"`
	Cities                 []string  `json:"cities,omitempty"`
	Description            *string   `json:"description,omitempty"`
	Footprint              Footprint `json:"footprint"`
}

// Payload is the ingestion request body.
type Payload struct {
	CatalogID      uuid.UUID   `json:"catalogId"`
	ProductID      string      `json:"productId"`
	ProductType    ProductType `json:"productType"`
	ProductVersion string      `json:"productVersion"`
	PartsData      []PartData  `json:"partsData"`
}

// Record is the descriptive attribute set shared by parts and polygon parts.
type Record struct {
	CatalogID        uuid.UUID   `json:"catalogId"`
	ProductID        string      `json:"productId"`
	ProductType      ProductType `json:"productType"`
	ProductVersion   string      `json:"productVersion"`
	IngestionDateUTC time.Time   `json:"ingestionDateUTC"`
	PartData
}

// Records expands a payload into one record per part, stamped with ingestedAt.
func (p Payload) Records(ingestedAt time.Time) []Record {
	out := make([]Record, 0, len(p.PartsData))
	for _, d := range p.PartsData {
		out = append(out, Record{
			CatalogID:        p.CatalogID,
			ProductID:        p.ProductID,
			ProductType:      p.ProductType,
			ProductVersion:   p.ProductVersion,
			IngestionDateUTC: ingestedAt,
			PartData:         d,
		})
	}
	return out
}

// Part is a raw ingested footprint. InsertionOrder is assigned by the store.
type Part struct {
	ID              uuid.UUID `json:"id"`
	InsertionOrder  int64     `json:"insertionOrder"`
	IsProcessedPart bool      `json:"isProcessedPart"`
	Record
}

// PolygonPart is a fragment of the consolidated partition.
type PolygonPart struct {
	ID             uuid.UUID `json:"id"`
	PartID         uuid.UUID `json:"partId"`
	InsertionOrder int64     `json:"insertionOrder"`
	Record
}

type EntityName struct {
	EntityName    string `json:"entityName"`
	QualifiedName string `json:"qualifiedName"`
}

// EntityNames is the pair of physical stores backing one product partition.
type EntityNames struct {
	Parts        EntityName `json:"parts"`
	PolygonParts EntityName `json:"polygonParts"`
}

// AggregationResult is the rollup over a polygon parts partition.
type AggregationResult struct {
	ImagingTimeBeginUTC       time.Time       `json:"imagingTimeBeginUTC"`
	ImagingTimeEndUTC         time.Time       `json:"imagingTimeEndUTC"`
	MinResolutionDeg          float64         `json:"minResolutionDeg"`
	MaxResolutionDeg          float64         `json:"maxResolutionDeg"`
	MinResolutionMeter        float64         `json:"minResolutionMeter"`
	MaxResolutionMeter        float64         `json:"maxResolutionMeter"`
	MinHorizontalAccuracyCE90 float64         `json:"minHorizontalAccuracyCE90"`
	MaxHorizontalAccuracyCE90 float64         `json:"maxHorizontalAccuracyCE90"`
	Sensors                   []string        `json:"sensors"`
	Footprint                 json.RawMessage `json:"footprint"`
	ProductBoundingBox        string          `json:"productBoundingBox"`
}
