package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
)

// EnsureSchema creates the extension and the schema partitions live in.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,
		`CREATE SCHEMA IF NOT EXISTS ` + pq.QuoteIdentifier(s.schema),
	}
	for i, st := range stmts {
		s.log.Debug("schema_exec", "idx", i)
		if _, err := s.db.ExecContext(ctx, st); err != nil {
			return classify("ensure schema", s.schema, err)
		}
	}
	s.log.Debug("schema_done", "schema", s.schema)
	return nil
}

const productTypesCheck = `'Orthophoto','OrthophotoHistory','OrthophotoBest','RasterMap','RasterMapBest','RasterAid','RasterAidBest','RasterVector','RasterVectorBest'`

// recordColumnsDDL is shared by both tables of a partition.
const recordColumnsDDL = `
	product_id text COLLATE "C" NOT NULL,
	product_type text NOT NULL,
	catalog_id uuid NOT NULL,
	source_id text COLLATE "C",
	source_name text COLLATE "C" NOT NULL,
	product_version text COLLATE "C" NOT NULL,
	ingestion_date_utc timestamptz NOT NULL DEFAULT now(),
	imaging_time_begin_utc timestamptz NOT NULL,
	imaging_time_end_utc timestamptz NOT NULL,
	resolution_degree numeric NOT NULL,
	resolution_meter numeric NOT NULL,
	source_resolution_meter numeric NOT NULL,
	horizontal_accuracy_ce90 real NOT NULL,
	sensors text[] NOT NULL,
	countries text[],
	cities text[],
	description text COLLATE "C",
	footprint geometry(Polygon, 4326) NOT NULL,
	id uuid PRIMARY KEY,
	CONSTRAINT "product id" CHECK (product_id ~ '^[A-Za-z]{1}[A-Za-z0-9_]{0,37}$'),
	CONSTRAINT "product type" CHECK (product_type IN (` + productTypesCheck + `)),
	CONSTRAINT "product version" CHECK (product_version ~ '^[1-9]\d*(\.(0|[1-9]\d?))?$'),
	CONSTRAINT "imaging time begin utc" CHECK (imaging_time_begin_utc < now()),
	CONSTRAINT "imaging time end utc" CHECK (imaging_time_end_utc < now()),
	CONSTRAINT "imaging times" CHECK (imaging_time_begin_utc <= imaging_time_end_utc),
	CONSTRAINT "resolution degree" CHECK (resolution_degree BETWEEN 0.000000167638063430786 AND 0.703125),
	CONSTRAINT "resolution meter" CHECK (resolution_meter BETWEEN 0.0185 AND 78271.52),
	CONSTRAINT "source resolution meter" CHECK (source_resolution_meter BETWEEN 0.0185 AND 78271.52),
	CONSTRAINT "horizontal accuracy ce90" CHECK (horizontal_accuracy_ce90 BETWEEN 0.01 AND 4000),
	CONSTRAINT "geometry extent" CHECK (Box2D(footprint) @ Box2D(ST_GeomFromText('LINESTRING(-180 -90, 180 90)'))),
	CONSTRAINT "valid geometry" CHECK (ST_IsValid(footprint))`

// partitionDDL returns the statements provisioning both tables. CREATE TABLE has
// no IF NOT EXISTS so an existing partition surfaces as duplicate_table.
func partitionDDL(names model.EntityNames) []string {
	parts, polys := ident(names.Parts), ident(names.PolygonParts)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %s (%s,
	insertion_order bigint GENERATED ALWAYS AS IDENTITY NOT NULL UNIQUE,
	is_processed_part boolean NOT NULL DEFAULT false
)`, parts, recordColumnsDDL),
		fmt.Sprintf(`CREATE TABLE %s (%s,
	part_id uuid NOT NULL,
	insertion_order bigint NOT NULL
)`, polys, recordColumnsDDL),
	}
	idx := func(table, using, col string) string {
		return fmt.Sprintf(`CREATE INDEX ON %s USING %s (%s)`, table, using, col)
	}
	for _, t := range []string{parts, polys} {
		stmts = append(stmts,
			idx(t, "gist", "footprint"),
			idx(t, "btree", "catalog_id"),
			idx(t, "btree", "ingestion_date_utc"),
			idx(t, "btree", "imaging_time_begin_utc"),
			idx(t, "btree", "imaging_time_end_utc"),
			idx(t, "btree", "resolution_degree"),
			idx(t, "btree", "resolution_meter"),
		)
	}
	stmts = append(stmts,
		idx(parts, "btree", "is_processed_part"),
		idx(polys, "hash", "part_id"),
		idx(polys, "btree", "insertion_order"),
	)
	return stmts
}

func schemaOf(n model.EntityName) string {
	schema, _, _ := strings.Cut(n.QualifiedName, ".")
	return schema
}
