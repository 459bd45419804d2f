// Package consolidate computes the non-overlapping polygon parts partition.
//
// Consolidation is a painter's overlay: for every candidate geometry (an existing
// fragment or a newly inserted part) the union of strictly newer unprocessed parts of
// the same catalog that overlap it is subtracted. Newer parts therefore always own the
// overlapping area. The function is pure; storage applies the returned Plan inside the
// ingestion transaction.
package consolidate

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/twpayne/go-geom"

	"github.com/mohammed-shakir/polygon-parts/internal/core/errs"
	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
	"github.com/mohammed-shakir/polygon-parts/internal/geometry"
)

// Plan is the mutation set produced by one consolidation run.
type Plan struct {
	Delete    []uuid.UUID
	Insert    []model.PolygonPart
	Processed []uuid.UUID
}

// Empty reports a plan with nothing to apply, as produced when no unprocessed parts
// remain.
func (p Plan) Empty() bool {
	return len(p.Delete) == 0 && len(p.Insert) == 0 && len(p.Processed) == 0
}

// IDFunc supplies identifiers for new fragments.
type IDFunc func() uuid.UUID

type candidate struct {
	fragmentID uuid.UUID // zero for unprocessed parts
	ancestor   uuid.UUID
	order      int64
	rec        model.Record
}

func (c candidate) footprint() *geom.Polygon { return c.rec.Footprint.Polygon }

// Consolidate clips existing fragments and unprocessed parts against newer unprocessed
// parts. existing must already be pairwise non-overlapping per catalog.
func Consolidate(eng geometry.Engine, existing []model.PolygonPart, unprocessed []model.Part, newID IDFunc) (Plan, error) {
	var plan Plan
	if len(unprocessed) == 0 {
		return plan, nil
	}
	if newID == nil {
		newID = uuid.New
	}

	if err := checkOrders(existing, unprocessed); err != nil {
		return plan, err
	}

	clippers := make(map[uuid.UUID][]model.Part)
	for _, u := range unprocessed {
		if u.Footprint.Polygon == nil {
			return plan, errs.E(errs.ErrValidation, "consolidate", u.ID.String(), fmt.Errorf("part has no footprint"))
		}
		clippers[u.CatalogID] = append(clippers[u.CatalogID], u)
	}
	for k := range clippers {
		slices.SortFunc(clippers[k], func(a, b model.Part) int { return cmp.Compare(a.InsertionOrder, b.InsertionOrder) })
	}

	cands := make([]candidate, 0, len(existing)+len(unprocessed))
	for _, e := range existing {
		if _, touched := clippers[e.CatalogID]; !touched {
			continue
		}
		cands = append(cands, candidate{fragmentID: e.ID, ancestor: e.PartID, order: e.InsertionOrder, rec: e.Record})
	}
	for _, u := range unprocessed {
		cands = append(cands, candidate{ancestor: u.ID, order: u.InsertionOrder, rec: u.Record})
	}
	slices.SortStableFunc(cands, func(a, b candidate) int { return cmp.Compare(a.order, b.order) })

	for _, c := range cands {
		newer, err := overlappingNewer(eng, c, clippers[c.rec.CatalogID])
		if err != nil {
			return Plan{}, err
		}
		isFragment := c.fragmentID != uuid.Nil
		if len(newer) == 0 {
			if !isFragment {
				plan.Insert = append(plan.Insert, fragment(c, c.footprint(), newID()))
			}
			continue
		}

		mask, err := eng.Union(newer...)
		if err != nil {
			return Plan{}, wrap("union", c, err)
		}
		clipped, err := eng.Difference(c.footprint(), mask)
		if err != nil {
			return Plan{}, wrap("difference", c, err)
		}
		if isFragment {
			plan.Delete = append(plan.Delete, c.fragmentID)
		}
		for _, p := range geometry.Polygons(clipped) {
			plan.Insert = append(plan.Insert, fragment(c, p, newID()))
		}
	}

	for _, u := range unprocessed {
		plan.Processed = append(plan.Processed, u.ID)
	}
	return plan, nil
}

func overlappingNewer(eng geometry.Engine, c candidate, clippers []model.Part) ([]geom.T, error) {
	start, _ := slices.BinarySearchFunc(clippers, c.order+1, func(p model.Part, o int64) int {
		return cmp.Compare(p.InsertionOrder, o)
	})
	var out []geom.T
	for _, u := range clippers[start:] {
		ok, err := eng.Overlaps(c.footprint(), u.Footprint.Polygon)
		if err != nil {
			return nil, wrap("intersects", c, err)
		}
		if ok {
			out = append(out, u.Footprint.Polygon)
		}
	}
	return out, nil
}

func fragment(c candidate, p *geom.Polygon, id uuid.UUID) model.PolygonPart {
	rec := c.rec
	rec.Footprint = model.NewFootprint(p)
	return model.PolygonPart{ID: id, PartID: c.ancestor, InsertionOrder: c.order, Record: rec}
}

// checkOrders rejects two ancestors sharing one insertion order.
func checkOrders(existing []model.PolygonPart, unprocessed []model.Part) error {
	owner := make(map[int64]uuid.UUID, len(existing)+len(unprocessed))
	claim := func(order int64, ancestor uuid.UUID) error {
		if prev, ok := owner[order]; ok && prev != ancestor {
			return errs.Errorf(errs.ErrValidation, "consolidate", ancestor.String(),
				"insertion order %d already used by %s", order, prev)
		}
		owner[order] = ancestor
		return nil
	}
	for _, e := range existing {
		if err := claim(e.InsertionOrder, e.PartID); err != nil {
			return err
		}
	}
	for _, u := range unprocessed {
		if err := claim(u.InsertionOrder, u.ID); err != nil {
			return err
		}
	}
	return nil
}

func wrap(op string, c candidate, err error) error {
	return errs.E(errs.ErrGeometry, "consolidate "+op, fmt.Sprintf("part %s order %d", c.ancestor, c.order), err)
}
