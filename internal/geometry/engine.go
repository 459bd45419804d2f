package geometry

import (
	"errors"
	"fmt"

	sf "github.com/peterstace/simplefeatures/geom"
	"github.com/twpayne/go-geom"

	"github.com/mohammed-shakir/polygon-parts/internal/core/errs"
)

// minArea is the area in square degrees below which an overlay result is treated as empty.
const minArea = 1e-12

// Engine is the overlay capability consumed by consolidation, aggregation and validation.
// Union and Difference return nil when the result has no area.
type Engine interface {
	Validate(g geom.T) error
	Union(gs ...geom.T) (geom.T, error)
	Difference(a, b geom.T) (geom.T, error)
	Overlaps(a, b geom.T) (bool, error)
}

type engine struct{}

// NewEngine returns the simplefeatures backed Engine.
func NewEngine() Engine { return engine{} }

var _ Engine = engine{}

func toSF(g geom.T) (sf.Geometry, error) {
	b, err := ToWKB(g)
	if err != nil {
		return sf.Geometry{}, err
	}
	out, err := sf.UnmarshalWKB(b)
	if err != nil {
		return sf.Geometry{}, fmt.Errorf("decode for overlay: %w", err)
	}
	return out, nil
}

func fromSF(g sf.Geometry) (geom.T, error) {
	if g.IsEmpty() || g.Area() <= minArea {
		return nil, nil
	}
	out, err := FromWKB(g.AsBinary())
	if err != nil {
		return nil, err
	}
	return Normalize(out)
}

func (engine) Validate(g geom.T) error {
	if g == nil {
		return errors.New("geometry is empty")
	}
	s, err := toSF(g)
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid geometry: %w", err)
	}
	return nil
}

// Union merges gs with a balanced pairwise reduction.
func (engine) Union(gs ...geom.T) (geom.T, error) {
	level := make([]sf.Geometry, 0, len(gs))
	for _, g := range gs {
		if g == nil {
			continue
		}
		s, err := toSF(g)
		if err != nil {
			return nil, errs.E(errs.ErrGeometry, "union", "", err)
		}
		level = append(level, s)
	}
	if len(level) == 0 {
		return nil, nil
	}
	for len(level) > 1 {
		next := make([]sf.Geometry, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			u, err := sf.Union(level[i], level[i+1])
			if err != nil {
				return nil, errs.E(errs.ErrGeometry, "union", "", err)
			}
			next = append(next, u)
		}
		level = next
	}
	out, err := fromSF(level[0])
	if err != nil {
		return nil, errs.E(errs.ErrGeometry, "union", "", err)
	}
	return out, nil
}

func (engine) Difference(a, b geom.T) (geom.T, error) {
	if a == nil {
		return nil, nil
	}
	if b == nil {
		return Normalize(a)
	}
	sa, err := toSF(a)
	if err != nil {
		return nil, errs.E(errs.ErrGeometry, "difference", "", err)
	}
	sb, err := toSF(b)
	if err != nil {
		return nil, errs.E(errs.ErrGeometry, "difference", "", err)
	}
	d, err := sf.Difference(sa, sb)
	if err != nil {
		return nil, errs.E(errs.ErrGeometry, "difference", "", err)
	}
	out, err := fromSF(d)
	if err != nil {
		return nil, errs.E(errs.ErrGeometry, "difference", "", err)
	}
	return out, nil
}

// Overlaps reports a positive-area intersection; shared edges and points do not count.
func (engine) Overlaps(a, b geom.T) (bool, error) {
	if a == nil || b == nil {
		return false, nil
	}
	ba, bb := a.Bounds(), b.Bounds()
	if !ba.Overlaps(geom.XY, bb) {
		return false, nil
	}
	sa, err := toSF(a)
	if err != nil {
		return false, errs.E(errs.ErrGeometry, "intersection", "", err)
	}
	sb, err := toSF(b)
	if err != nil {
		return false, errs.E(errs.ErrGeometry, "intersection", "", err)
	}
	i, err := sf.Intersection(sa, sb)
	if err != nil {
		return false, errs.E(errs.ErrGeometry, "intersection", "", err)
	}
	return !i.IsEmpty() && i.Area() > minArea, nil
}
