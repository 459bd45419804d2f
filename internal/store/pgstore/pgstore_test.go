package pgstore

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lib/pq"

	"github.com/mohammed-shakir/polygon-parts/internal/core/errs"
	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
	"github.com/mohammed-shakir/polygon-parts/internal/partition"
)

func TestClassify_SQLState(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"42P07", errs.ErrConflict},
		{"23514", errs.ErrValidation},
		{"42P01", errs.ErrNotFound},
		{"40001", errs.ErrStorage},
	}
	for _, c := range cases {
		err := classify("op", "x", fmt.Errorf("exec: %w", &pq.Error{Code: pq.ErrorCode(c.code)}))
		if !errors.Is(err, c.want) {
			t.Fatalf("code %s: got %v want kind %v", c.code, err, c.want)
		}
	}
	if !errors.Is(classify("op", "", errors.New("dial tcp: refused")), errs.ErrStorage) {
		t.Fatalf("plain errors should be storage errors")
	}
	if classify("op", "", nil) != nil {
		t.Fatalf("nil should stay nil")
	}
}

func TestIdent_QuotesSchemaAndName(t *testing.T) {
	got := ident(model.EntityName{EntityName: "a_b", QualifiedName: "polygon_parts.a_b"})
	if got != `"polygon_parts"."a_b"` {
		t.Fatalf("got %s", got)
	}
}

func TestPlaceholders(t *testing.T) {
	got := placeholders(4, 3)
	want := "($4, $5, ST_GeomFromWKB($6, 4326))"
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestRecordColumns_SnakeCase(t *testing.T) {
	joined := strings.Join(recordColumns, ",")
	for _, want := range []string{"catalog_id", "imaging_time_begin_utc", "horizontal_accuracy_ce90", "ingestion_date_utc"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %s in %s", want, joined)
		}
	}
	if len(recordColumns) != len(recordFields) {
		t.Fatalf("column count mismatch")
	}
}

func TestPartitionDDL(t *testing.T) {
	names, err := partition.DefaultNaming().EntityNames("prod", model.Orthophoto)
	if err != nil {
		t.Fatal(err)
	}
	stmts := partitionDDL(names)
	if !strings.HasPrefix(stmts[0], `CREATE TABLE "polygon_parts"."prod_orthophoto_parts"`) {
		t.Fatalf("first stmt: %s", stmts[0])
	}
	if !strings.Contains(stmts[0], "GENERATED ALWAYS AS IDENTITY") {
		t.Fatalf("parts table must generate insertion order")
	}
	if strings.Contains(stmts[1], "is_processed_part") {
		t.Fatalf("polygon parts table must not carry the processed flag")
	}
	var gist int
	for _, s := range stmts {
		if strings.Contains(s, "IF NOT EXISTS") {
			t.Fatalf("provisioning must fail on existing relations: %s", s)
		}
		if strings.Contains(s, "USING gist") {
			gist++
		}
	}
	if gist != 2 {
		t.Fatalf("gist indexes=%d", gist)
	}
}
