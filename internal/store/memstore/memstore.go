// Package memstore is an in-process Store with the same transactional contract as
// the Postgres store. Committed tables are immutable; a transaction copies a table on
// first write and swaps the copies in on Commit.
package memstore

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/mohammed-shakir/polygon-parts/internal/core/errs"
	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
	"github.com/mohammed-shakir/polygon-parts/internal/partition"
	"github.com/mohammed-shakir/polygon-parts/internal/store"
)

var errTxDone = errors.New("transaction already finished")

type partsTable struct {
	rows []model.Part
	next int64
}

type polyTable struct {
	rows []model.PolygonPart
}

type Store struct {
	mu    sync.RWMutex
	parts map[string]*partsTable
	polys map[string]*polyTable

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		parts: make(map[string]*partsTable),
		polys: make(map[string]*polyTable),
		locks: make(map[string]chan struct{}),
		now:   time.Now,
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.E(errs.ErrStorage, "begin", "", err)
	}
	return &tx{
		s:     s,
		parts: make(map[string]*partsTable),
		polys: make(map[string]*polyTable),
	}, nil
}

func (s *Store) ReadSnapshot(ctx context.Context, fn func(store.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return errs.E(errs.ErrStorage, "snapshot", "", err)
	}
	s.mu.RLock()
	snap := &snapshot{
		parts: make(map[string]*partsTable, len(s.parts)),
		polys: make(map[string]*polyTable, len(s.polys)),
	}
	for k, v := range s.parts {
		snap.parts[k] = v
	}
	for k, v := range s.polys {
		snap.polys[k] = v
	}
	s.mu.RUnlock()
	return fn(snap)
}

func (s *Store) lockChan(key string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	return ch
}

type snapshot struct {
	parts map[string]*partsTable
	polys map[string]*polyTable
}

func (r *snapshot) EntityExists(_ context.Context, name model.EntityName) (bool, error) {
	_, a := r.parts[name.QualifiedName]
	_, b := r.polys[name.QualifiedName]
	return a || b, nil
}

func (r *snapshot) PolygonParts(_ context.Context, name model.EntityName) ([]model.PolygonPart, error) {
	t, ok := r.polys[name.QualifiedName]
	if !ok {
		return nil, errs.E(errs.ErrNotFound, "read polygon parts", name.QualifiedName, nil)
	}
	return slices.Clone(t.rows), nil
}

func (r *snapshot) Version(_ context.Context, name model.EntityName) (string, error) {
	t, ok := r.polys[name.QualifiedName]
	if !ok {
		return "", errs.E(errs.ErrNotFound, "read version", name.QualifiedName, nil)
	}
	return version(t.rows), nil
}

// version digests the sorted fragment ids of one table.
func version(rows []model.PolygonPart) string {
	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	d := xxhash.New()
	for _, id := range ids {
		_, _ = d.Write(id[:])
	}
	return strconv.Itoa(len(ids)) + "-" + strconv.FormatUint(d.Sum64(), 16)
}

type tx struct {
	s     *Store
	parts map[string]*partsTable
	polys map[string]*polyTable
	held  []chan struct{}
	done  bool
}

func (t *tx) LockPartition(ctx context.Context, names model.EntityNames) error {
	if t.done {
		return errs.E(errs.ErrStorage, "lock", "", errTxDone)
	}
	ch := t.s.lockChan(partition.LockKey(names))
	for _, h := range t.held {
		if h == ch {
			return nil
		}
	}
	select {
	case ch <- struct{}{}:
		t.held = append(t.held, ch)
		return nil
	case <-ctx.Done():
		return errs.E(errs.ErrStorage, "lock partition", names.PolygonParts.QualifiedName, ctx.Err())
	}
}

func (t *tx) release() {
	for _, ch := range t.held {
		<-ch
	}
	t.held = nil
	t.done = true
}

// workingParts returns the working copy of a parts table, cloning it on first touch.
func (t *tx) workingParts(name string) (*partsTable, bool) {
	if w, ok := t.parts[name]; ok {
		return w, true
	}
	t.s.mu.RLock()
	c, ok := t.s.parts[name]
	t.s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	w := &partsTable{rows: slices.Clone(c.rows), next: c.next}
	t.parts[name] = w
	return w, true
}

func (t *tx) workingPolys(name string) (*polyTable, bool) {
	if w, ok := t.polys[name]; ok {
		return w, true
	}
	t.s.mu.RLock()
	c, ok := t.s.polys[name]
	t.s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	w := &polyTable{rows: slices.Clone(c.rows)}
	t.polys[name] = w
	return w, true
}

func (t *tx) both(op string, names model.EntityNames) (*partsTable, *polyTable, error) {
	if t.done {
		return nil, nil, errs.E(errs.ErrStorage, op, "", errTxDone)
	}
	pt, ok := t.workingParts(names.Parts.QualifiedName)
	if !ok {
		return nil, nil, errs.E(errs.ErrNotFound, op, names.Parts.QualifiedName, nil)
	}
	pp, ok := t.workingPolys(names.PolygonParts.QualifiedName)
	if !ok {
		return nil, nil, errs.E(errs.ErrNotFound, op, names.PolygonParts.QualifiedName, nil)
	}
	return pt, pp, nil
}

func (t *tx) EntityExists(_ context.Context, name model.EntityName) (bool, error) {
	if t.done {
		return false, errs.E(errs.ErrStorage, "exists", name.QualifiedName, errTxDone)
	}
	_, a := t.workingParts(name.QualifiedName)
	_, b := t.workingPolys(name.QualifiedName)
	return a || b, nil
}

func (t *tx) PolygonParts(_ context.Context, name model.EntityName) ([]model.PolygonPart, error) {
	pp, ok := t.workingPolys(name.QualifiedName)
	if !ok {
		return nil, errs.E(errs.ErrNotFound, "read polygon parts", name.QualifiedName, nil)
	}
	return slices.Clone(pp.rows), nil
}

func (t *tx) Version(_ context.Context, name model.EntityName) (string, error) {
	pp, ok := t.workingPolys(name.QualifiedName)
	if !ok {
		return "", errs.E(errs.ErrNotFound, "read version", name.QualifiedName, nil)
	}
	return version(pp.rows), nil
}

func (t *tx) CreatePartition(ctx context.Context, names model.EntityNames) error {
	for _, n := range []model.EntityName{names.Parts, names.PolygonParts} {
		exists, err := t.EntityExists(ctx, n)
		if err != nil {
			return err
		}
		if exists {
			return errs.E(errs.ErrConflict, "create partition", n.QualifiedName, fmt.Errorf("relation already exists"))
		}
	}
	t.parts[names.Parts.QualifiedName] = &partsTable{}
	t.polys[names.PolygonParts.QualifiedName] = &polyTable{}
	return nil
}

func (t *tx) TruncatePartition(_ context.Context, names model.EntityNames) error {
	if _, _, err := t.both("truncate partition", names); err != nil {
		return err
	}
	t.parts[names.Parts.QualifiedName] = &partsTable{}
	t.polys[names.PolygonParts.QualifiedName] = &polyTable{}
	return nil
}

func (t *tx) InsertParts(_ context.Context, names model.EntityNames, recs []model.Record) ([]model.Part, error) {
	pt, _, err := t.both("insert parts", names)
	if err != nil {
		return nil, err
	}
	out := make([]model.Part, 0, len(recs))
	for _, r := range recs {
		pt.next++
		p := model.Part{ID: uuid.New(), InsertionOrder: pt.next, Record: r}
		if p.IngestionDateUTC.IsZero() {
			p.IngestionDateUTC = t.s.now().UTC()
		}
		out = append(out, p)
	}
	pt.rows = append(pt.rows, out...)
	return out, nil
}

func (t *tx) UnprocessedParts(_ context.Context, names model.EntityNames) ([]model.Part, error) {
	pt, _, err := t.both("read unprocessed parts", names)
	if err != nil {
		return nil, err
	}
	var out []model.Part
	for _, p := range pt.rows {
		if !p.IsProcessedPart {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b model.Part) int { return cmp.Compare(a.InsertionOrder, b.InsertionOrder) })
	return out, nil
}

// ConsolidationCandidates prefilters on bounding boxes only.
func (t *tx) ConsolidationCandidates(ctx context.Context, names model.EntityNames) ([]model.PolygonPart, error) {
	unprocessed, err := t.UnprocessedParts(ctx, names)
	if err != nil {
		return nil, err
	}
	_, pp, err := t.both("read candidates", names)
	if err != nil {
		return nil, err
	}
	var out []model.PolygonPart
	for _, f := range pp.rows {
		fb := f.Footprint.Bounds()
		for _, u := range unprocessed {
			if u.CatalogID == f.CatalogID && fb.Overlaps(f.Footprint.Layout(), u.Footprint.Bounds()) {
				out = append(out, f)
				break
			}
		}
	}
	return out, nil
}

func (t *tx) DeletePolygonParts(_ context.Context, names model.EntityNames, ids []uuid.UUID) error {
	_, pp, err := t.both("delete polygon parts", names)
	if err != nil {
		return err
	}
	drop := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	pp.rows = slices.DeleteFunc(pp.rows, func(f model.PolygonPart) bool {
		_, ok := drop[f.ID]
		return ok
	})
	return nil
}

func (t *tx) InsertPolygonParts(_ context.Context, names model.EntityNames, parts []model.PolygonPart) error {
	_, pp, err := t.both("insert polygon parts", names)
	if err != nil {
		return err
	}
	pp.rows = append(pp.rows, parts...)
	return nil
}

func (t *tx) MarkProcessed(_ context.Context, names model.EntityNames, ids []uuid.UUID) error {
	pt, _, err := t.both("mark processed", names)
	if err != nil {
		return err
	}
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for i := range pt.rows {
		if _, ok := set[pt.rows[i].ID]; ok {
			pt.rows[i].IsProcessedPart = true
		}
	}
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return errs.E(errs.ErrStorage, "commit", "", errTxDone)
	}
	t.s.mu.Lock()
	for k, v := range t.parts {
		t.s.parts[k] = v
	}
	for k, v := range t.polys {
		t.s.polys[k] = v
	}
	t.s.mu.Unlock()
	t.release()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.parts, t.polys = nil, nil
	t.release()
	return nil
}
