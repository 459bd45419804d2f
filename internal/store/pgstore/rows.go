package pgstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
	"github.com/mohammed-shakir/polygon-parts/internal/geometry"
	"github.com/mohammed-shakir/polygon-parts/internal/partition"
)

// recordFields are the Record attributes in column order; footprint is handled apart.
var recordFields = []string{
	"catalogId", "productId", "productType", "productVersion", "sourceId", "sourceName",
	"ingestionDateUTC", "imagingTimeBeginUTC", "imagingTimeEndUTC",
	"resolutionDegree", "resolutionMeter", "sourceResolutionMeter", "horizontalAccuracyCE90",
	"sensors", "countries", "cities", "description",
}

var recordColumns = func() []string {
	out := make([]string, len(recordFields))
	for i, f := range recordFields {
		out[i] = partition.ColumnName(f)
	}
	return out
}()

func selectList(extra ...string) string {
	cols := append([]string{"id"}, extra...)
	cols = append(cols, recordColumns...)
	cols = append(cols, "ST_AsBinary(footprint) AS footprint")
	return strings.Join(cols, ", ")
}

var (
	partColumns        = selectList("insertion_order", "is_processed_part")
	polygonPartColumns = selectList("part_id", "insertion_order")
)

type row struct {
	ID                     uuid.UUID      `db:"id"`
	PartID                 uuid.UUID      `db:"part_id"`
	InsertionOrder         int64          `db:"insertion_order"`
	IsProcessedPart        bool           `db:"is_processed_part"`
	CatalogID              uuid.UUID      `db:"catalog_id"`
	ProductID              string         `db:"product_id"`
	ProductType            string         `db:"product_type"`
	ProductVersion         string         `db:"product_version"`
	SourceID               sql.NullString `db:"source_id"`
	SourceName             string         `db:"source_name"`
	IngestionDateUTC       time.Time      `db:"ingestion_date_utc"`
	ImagingTimeBeginUTC    time.Time      `db:"imaging_time_begin_utc"`
	ImagingTimeEndUTC      time.Time      `db:"imaging_time_end_utc"`
	ResolutionDegree       float64        `db:"resolution_degree"`
	ResolutionMeter        float64        `db:"resolution_meter"`
	SourceResolutionMeter  float64        `db:"source_resolution_meter"`
	HorizontalAccuracyCE90 float64        `db:"horizontal_accuracy_ce90"`
	Sensors                pq.StringArray `db:"sensors"`
	Countries              pq.StringArray `db:"countries"`
	Cities                 pq.StringArray `db:"cities"`
	Description            sql.NullString `db:"description"`
	Footprint              []byte         `db:"footprint"`
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func (r row) record() (model.Record, error) {
	fp, err := geometry.PolygonFromWKB(r.Footprint)
	if err != nil {
		return model.Record{}, fmt.Errorf("row %s footprint: %w", r.ID, err)
	}
	return model.Record{
		CatalogID:        r.CatalogID,
		ProductID:        r.ProductID,
		ProductType:      model.ProductType(r.ProductType),
		ProductVersion:   r.ProductVersion,
		IngestionDateUTC: r.IngestionDateUTC.UTC(),
		PartData: model.PartData{
			SourceID:               nullable(r.SourceID),
			SourceName:             r.SourceName,
			ImagingTimeBeginUTC:    r.ImagingTimeBeginUTC.UTC(),
			ImagingTimeEndUTC:      r.ImagingTimeEndUTC.UTC(),
			ResolutionDegree:       r.ResolutionDegree,
			ResolutionMeter:        r.ResolutionMeter,
			SourceResolutionMeter:  r.SourceResolutionMeter,
			HorizontalAccuracyCE90: r.HorizontalAccuracyCE90,
			Sensors:                []string(r.Sensors),
			Countries:              []string(r.Countries),
			Cities:                 []string(r.Cities),
			Description:            nullable(r.Description),
			Footprint:              model.NewFootprint(fp),
		},
	}, nil
}

// recordArgs returns the bind values for recordColumns followed by the footprint WKB.
func recordArgs(r model.Record) ([]any, error) {
	wkbFootprint, err := geometry.ToWKB(r.Footprint.Polygon)
	if err != nil {
		return nil, err
	}
	sensors := r.Sensors
	if sensors == nil {
		sensors = []string{}
	}
	var countries, cities any
	if r.Countries != nil {
		countries = pq.Array(r.Countries)
	}
	if r.Cities != nil {
		cities = pq.Array(r.Cities)
	}
	return []any{
		r.CatalogID, r.ProductID, string(r.ProductType), r.ProductVersion, r.SourceID, r.SourceName,
		r.IngestionDateUTC, r.ImagingTimeBeginUTC, r.ImagingTimeEndUTC,
		r.ResolutionDegree, r.ResolutionMeter, r.SourceResolutionMeter, r.HorizontalAccuracyCE90,
		pq.Array(sensors), countries, cities, r.Description,
		wkbFootprint,
	}, nil
}

// placeholders renders "($n, ..., ST_GeomFromWKB($m, 4326))" for one row of n args
// whose last arg is the footprint.
func placeholders(start, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		if i == n-1 {
			fmt.Fprintf(&b, "ST_GeomFromWKB($%d, %d)", start+i, geometry.SRID)
			continue
		}
		fmt.Fprintf(&b, "$%d", start+i)
	}
	b.WriteByte(')')
	return b.String()
}

func uuidArray(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
