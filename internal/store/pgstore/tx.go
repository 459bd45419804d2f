package pgstore

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mohammed-shakir/polygon-parts/internal/core/errs"
	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
	"github.com/mohammed-shakir/polygon-parts/internal/partition"
	"github.com/mohammed-shakir/polygon-parts/internal/store"
)

// insertChunk bounds rows per multi-row INSERT to stay well under the bind limit.
const insertChunk = 500

type queries struct {
	tx *sqlx.Tx
}

func (q *queries) EntityExists(ctx context.Context, name model.EntityName) (bool, error) {
	var exists bool
	err := q.tx.GetContext(ctx, &exists, `SELECT to_regclass($1) IS NOT NULL`, ident(name))
	if err != nil {
		return false, classify("entity exists", name.QualifiedName, err)
	}
	return exists, nil
}

func (q *queries) PolygonParts(ctx context.Context, name model.EntityName) ([]model.PolygonPart, error) {
	ok, err := q.EntityExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.E(errs.ErrNotFound, "read polygon parts", name.QualifiedName, nil)
	}
	return q.selectPolygonParts(ctx, name, fmt.Sprintf(`SELECT %s FROM %s ORDER BY insertion_order`, polygonPartColumns, ident(name)))
}

func (q *queries) Version(ctx context.Context, name model.EntityName) (string, error) {
	ok, err := q.EntityExists(ctx, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errs.E(errs.ErrNotFound, "read version", name.QualifiedName, nil)
	}
	var v struct {
		N      int64          `db:"n"`
		Digest sql.NullString `db:"digest"`
	}
	query := fmt.Sprintf(`SELECT count(*) AS n, md5(string_agg(id::text, ',' ORDER BY id)) AS digest FROM %s`, ident(name))
	if err := q.tx.GetContext(ctx, &v, query); err != nil {
		return "", classify("read version", name.QualifiedName, err)
	}
	return strconv.FormatInt(v.N, 10) + "-" + v.Digest.String, nil
}

func (q *queries) selectPolygonParts(ctx context.Context, name model.EntityName, query string, args ...any) ([]model.PolygonPart, error) {
	var rows []row
	if err := q.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, classify("read polygon parts", name.QualifiedName, err)
	}
	out := make([]model.PolygonPart, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, classify("decode polygon part", name.QualifiedName, err)
		}
		out = append(out, model.PolygonPart{ID: r.ID, PartID: r.PartID, InsertionOrder: r.InsertionOrder, Record: rec})
	}
	return out, nil
}

type tx struct {
	queries
}

var _ store.Tx = (*tx)(nil)

func (t *tx) LockPartition(ctx context.Context, names model.EntityNames) error {
	key := int64(xxhash.Sum64String(partition.LockKey(names)))
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
		return classify("lock partition", names.PolygonParts.QualifiedName, err)
	}
	return nil
}

func (t *tx) CreatePartition(ctx context.Context, names model.EntityNames) error {
	stmts := []string{`CREATE SCHEMA IF NOT EXISTS ` + pq.QuoteIdentifier(schemaOf(names.Parts))}
	stmts = append(stmts, partitionDDL(names)...)
	for _, st := range stmts {
		if _, err := t.tx.ExecContext(ctx, st); err != nil {
			return classify("create partition", names.PolygonParts.QualifiedName, err)
		}
	}
	return nil
}

func (t *tx) TruncatePartition(ctx context.Context, names model.EntityNames) error {
	q := fmt.Sprintf(`TRUNCATE %s, %s RESTART IDENTITY`, ident(names.Parts), ident(names.PolygonParts))
	if _, err := t.tx.ExecContext(ctx, q); err != nil {
		return classify("truncate partition", names.PolygonParts.QualifiedName, err)
	}
	return nil
}

func (t *tx) InsertParts(ctx context.Context, names model.EntityNames, recs []model.Record) ([]model.Part, error) {
	out := make([]model.Part, 0, len(recs))
	cols := "id, " + strings.Join(recordColumns, ", ") + ", footprint"
	for start := 0; start < len(recs); start += insertChunk {
		end := min(start+insertChunk, len(recs))
		batch := make(map[uuid.UUID]model.Part, end-start)
		var values []string
		var args []any
		for _, r := range recs[start:end] {
			p := model.Part{ID: uuid.New(), Record: r}
			ra, err := recordArgs(r)
			if err != nil {
				return nil, classify("insert parts", names.Parts.QualifiedName, err)
			}
			rowArgs := append([]any{p.ID}, ra...)
			values = append(values, placeholders(len(args)+1, len(rowArgs)))
			args = append(args, rowArgs...)
			batch[p.ID] = p
		}
		q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES %s RETURNING id, insertion_order`,
			ident(names.Parts), cols, strings.Join(values, ", "))
		rows, err := t.tx.QueryxContext(ctx, q, args...)
		if err != nil {
			return nil, classify("insert parts", names.Parts.QualifiedName, err)
		}
		var inserted []model.Part
		for rows.Next() {
			var id uuid.UUID
			var order int64
			if err := rows.Scan(&id, &order); err != nil {
				_ = rows.Close()
				return nil, classify("insert parts", names.Parts.QualifiedName, err)
			}
			p := batch[id]
			p.InsertionOrder = order
			inserted = append(inserted, p)
		}
		if err := rows.Err(); err != nil {
			return nil, classify("insert parts", names.Parts.QualifiedName, err)
		}
		_ = rows.Close()
		slices.SortFunc(inserted, func(a, b model.Part) int { return cmp.Compare(a.InsertionOrder, b.InsertionOrder) })
		out = append(out, inserted...)
	}
	return out, nil
}

func (t *tx) UnprocessedParts(ctx context.Context, names model.EntityNames) ([]model.Part, error) {
	var rows []row
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE NOT is_processed_part ORDER BY insertion_order`, partColumns, ident(names.Parts))
	if err := t.tx.SelectContext(ctx, &rows, q); err != nil {
		return nil, classify("read unprocessed parts", names.Parts.QualifiedName, err)
	}
	out := make([]model.Part, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, classify("decode part", names.Parts.QualifiedName, err)
		}
		out = append(out, model.Part{ID: r.ID, InsertionOrder: r.InsertionOrder, IsProcessedPart: r.IsProcessedPart, Record: rec})
	}
	return out, nil
}

func (t *tx) ConsolidationCandidates(ctx context.Context, names model.EntityNames) ([]model.PolygonPart, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s pp
WHERE EXISTS (
	SELECT 1 FROM %s u
	WHERE NOT u.is_processed_part
	AND u.catalog_id = pp.catalog_id
	AND ST_Intersects(u.footprint, pp.footprint)
)
ORDER BY insertion_order`, polygonPartColumns, ident(names.PolygonParts), ident(names.Parts))
	return t.selectPolygonParts(ctx, names.PolygonParts, q)
}

func (t *tx) DeletePolygonParts(ctx context.Context, names model.EntityNames, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1::uuid[])`, ident(names.PolygonParts))
	if _, err := t.tx.ExecContext(ctx, q, uuidArray(ids)); err != nil {
		return classify("delete polygon parts", names.PolygonParts.QualifiedName, err)
	}
	return nil
}

func (t *tx) InsertPolygonParts(ctx context.Context, names model.EntityNames, parts []model.PolygonPart) error {
	cols := "id, part_id, insertion_order, " + strings.Join(recordColumns, ", ") + ", footprint"
	for start := 0; start < len(parts); start += insertChunk {
		end := min(start+insertChunk, len(parts))
		var values []string
		var args []any
		for _, p := range parts[start:end] {
			ra, err := recordArgs(p.Record)
			if err != nil {
				return classify("insert polygon parts", names.PolygonParts.QualifiedName, err)
			}
			rowArgs := append([]any{p.ID, p.PartID, p.InsertionOrder}, ra...)
			values = append(values, placeholders(len(args)+1, len(rowArgs)))
			args = append(args, rowArgs...)
		}
		q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES %s`, ident(names.PolygonParts), cols, strings.Join(values, ", "))
		if _, err := t.tx.ExecContext(ctx, q, args...); err != nil {
			return classify("insert polygon parts", names.PolygonParts.QualifiedName, err)
		}
	}
	return nil
}

func (t *tx) MarkProcessed(ctx context.Context, names model.EntityNames, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	q := fmt.Sprintf(`UPDATE %s SET is_processed_part = true WHERE id = ANY($1::uuid[])`, ident(names.Parts))
	if _, err := t.tx.ExecContext(ctx, q, uuidArray(ids)); err != nil {
		return classify("mark processed", names.Parts.QualifiedName, err)
	}
	return nil
}

func (t *tx) Commit() error {
	return classify("commit", "", t.tx.Commit())
}

func (t *tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return classify("rollback", "", err)
	}
	return nil
}
