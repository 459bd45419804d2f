// Package partition derives the physical store names for a product partition.
package partition

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/mohammed-shakir/polygon-parts/internal/core/errs"
	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
)

const (
	DefaultSchema      = "polygon_parts"
	DefaultPartsSuffix = "_parts"
)

var entityNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,61}[a-z0-9]$`)

// Naming is the prefix/suffix scheme applied to a product's base name.
type Naming struct {
	Schema             string
	PartsPrefix        string
	PartsSuffix        string
	PolygonPartsPrefix string
	PolygonPartsSuffix string
}

func DefaultNaming() Naming {
	return Naming{Schema: DefaultSchema, PartsSuffix: DefaultPartsSuffix}
}

// BaseName is the canonical lower-cased "<productId>_<productType>".
func BaseName(productID string, productType model.ProductType) string {
	return strings.ToLower(strings.TrimSpace(productID) + "_" + strings.TrimSpace(string(productType)))
}

func (n Naming) EntityNames(productID string, productType model.ProductType) (model.EntityNames, error) {
	base := BaseName(productID, productType)
	parts, err := n.qualify(n.PartsPrefix + base + n.PartsSuffix)
	if err != nil {
		return model.EntityNames{}, err
	}
	polys, err := n.qualify(n.PolygonPartsPrefix + base + n.PolygonPartsSuffix)
	if err != nil {
		return model.EntityNames{}, err
	}
	return model.EntityNames{Parts: parts, PolygonParts: polys}, nil
}

// PolygonParts resolves a client supplied polygon parts entity name.
func (n Naming) PolygonParts(name string) (model.EntityName, error) {
	return n.qualify(strings.TrimSpace(name))
}

func (n Naming) schema() string {
	if n.Schema == "" {
		return DefaultSchema
	}
	return n.Schema
}

func (n Naming) qualify(name string) (model.EntityName, error) {
	name = strings.ToLower(name)
	if !entityNameRe.MatchString(name) {
		return model.EntityName{}, errs.Errorf(errs.ErrValidation, "entity name", name,
			"must match %s", entityNameRe.String())
	}
	return model.EntityName{EntityName: name, QualifiedName: n.schema() + "." + name}, nil
}

// LockKey is the stable per-partition key used to serialize ingestion.
func LockKey(names model.EntityNames) string {
	return names.Parts.QualifiedName + "|" + names.PolygonParts.QualifiedName
}

// ColumnName maps a camelCase field name to its snake_case storage column.
func ColumnName(field string) string {
	rs := []rune(strings.TrimSpace(field))
	var b strings.Builder
	b.Grow(len(rs) + 4)
	for i, r := range rs {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := rs[i-1]
				nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (n Naming) String() string {
	return fmt.Sprintf("%s.{%s<base>%s, %s<base>%s}", n.schema(),
		n.PartsPrefix, n.PartsSuffix, n.PolygonPartsPrefix, n.PolygonPartsSuffix)
}
