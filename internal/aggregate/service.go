package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/polygon-parts/internal/cache"
	"github.com/mohammed-shakir/polygon-parts/internal/cache/keys"
	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
	"github.com/mohammed-shakir/polygon-parts/internal/core/observability"
	"github.com/mohammed-shakir/polygon-parts/internal/geometry"
	"github.com/mohammed-shakir/polygon-parts/internal/logger"
	"github.com/mohammed-shakir/polygon-parts/internal/partition"
	"github.com/mohammed-shakir/polygon-parts/internal/store"
)

// bumped whenever the cached JSON shape changes
const resultFormat = "v1"

// ProductResolver maps a catalog record to the product it describes.
type ProductResolver interface {
	Product(ctx context.Context, catalogID uuid.UUID) (string, model.ProductType, error)
}

type Config struct {
	Store  store.Store
	Engine geometry.Engine
	Naming partition.Naming
	Digits int

	// Cache is optional. Without it every call computes from a fresh snapshot.
	Cache        cache.Interface
	TTL          time.Duration
	TTLOverrides map[string]time.Duration
	OpTimeout    time.Duration

	Catalog ProductResolver
	Logger  *slog.Logger
}

type Service struct {
	store   store.Store
	eng     geometry.Engine
	naming  partition.Naming
	digits  int
	cache   cache.Interface
	ttl     time.Duration
	ttlOvr  map[string]time.Duration
	opTO    time.Duration
	catalog ProductResolver
	log     *slog.Logger
}

func NewService(cfg Config) *Service {
	s := &Service{
		store:   cfg.Store,
		eng:     cfg.Engine,
		naming:  cfg.Naming,
		digits:  cfg.Digits,
		cache:   cfg.Cache,
		ttl:     cfg.TTL,
		ttlOvr:  cfg.TTLOverrides,
		opTO:    cfg.OpTimeout,
		catalog: cfg.Catalog,
		log:     cfg.Logger,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.opTO <= 0 {
		s.opTO = 200 * time.Millisecond
	}
	return s
}

// Aggregate returns the rollup of the named polygon parts partition. The cache key
// carries the partition version read in the same snapshot as the rows, so a cached
// result is only served for the exact content it was computed from.
func (s *Service) Aggregate(ctx context.Context, name string) (model.AggregationResult, error) {
	entity, err := s.naming.PolygonParts(name)
	if err != nil {
		return model.AggregationResult{}, err
	}
	ctx = logger.WithPartition(ctx, entity.EntityName)

	var (
		out      model.AggregationResult
		fillKey  string
		computed bool
	)
	start := time.Now()
	err = s.store.ReadSnapshot(ctx, func(r store.Reader) error {
		version, err := r.Version(ctx, entity)
		if err != nil {
			return err
		}
		key, cached := s.lookup(ctx, entity.EntityName, version)
		if cached != nil {
			out = *cached
			return nil
		}
		rows, err := r.PolygonParts(ctx, entity)
		if err != nil {
			return err
		}
		out, err = Compute(s.eng, entity.EntityName, rows, s.digits)
		fillKey, computed = key, true
		return err
	})
	if computed {
		observability.ObserveAggregation(time.Since(start).Seconds())
	}
	if err != nil {
		return model.AggregationResult{}, fmt.Errorf("aggregate %s: %w", entity.QualifiedName, err)
	}

	if fillKey != "" {
		s.fill(ctx, fillKey, entity.EntityName, out)
	}
	return out, nil
}

// AggregateByCatalog resolves the product a catalog record points at and aggregates
// its polygon parts partition.
func (s *Service) AggregateByCatalog(ctx context.Context, catalogID uuid.UUID) (model.AggregationResult, error) {
	if s.catalog == nil {
		return model.AggregationResult{}, fmt.Errorf("aggregate catalog %s: no catalog client configured", catalogID)
	}
	productID, productType, err := s.catalog.Product(ctx, catalogID)
	if err != nil {
		return model.AggregationResult{}, fmt.Errorf("aggregate catalog %s: %w", catalogID, err)
	}
	names, err := s.naming.EntityNames(productID, productType)
	if err != nil {
		return model.AggregationResult{}, err
	}
	return s.Aggregate(ctx, names.PolygonParts.EntityName)
}

// Invalidate moves the partition to a new cache generation, orphaning every cached
// result for it. Freshness does not depend on it succeeding.
func (s *Service) Invalidate(ctx context.Context, partitionName string) error {
	if s.cache == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, s.opTO)
	defer cancel()
	gen, err := s.cache.Incr(cctx, keys.Generation(partitionName))
	if err != nil {
		observability.IncCacheError()
		return fmt.Errorf("invalidate aggregation cache for %s: %w", partitionName, err)
	}
	s.log.DebugContext(ctx, "aggregation cache invalidated", "partition", partitionName, "generation", gen)
	return nil
}

// lookup returns the key to fill on a miss and the cached result on a hit.
// An empty key means the cache is unavailable for this call.
func (s *Service) lookup(ctx context.Context, partitionName, version string) (string, *model.AggregationResult) {
	if s.cache == nil {
		return "", nil
	}
	cctx, cancel := context.WithTimeout(ctx, s.opTO)
	defer cancel()

	genKey := keys.Generation(partitionName)
	got, err := s.cache.MGet(cctx, []string{genKey})
	if err != nil {
		s.degrade(ctx, "read generation", err)
		return "", nil
	}
	key := keys.Aggregation(partitionName, keys.ParseGeneration(got[genKey]),
		"digits="+strconv.Itoa(s.digits), "version="+version, resultFormat)

	got, err = s.cache.MGet(cctx, []string{key})
	if err != nil {
		s.degrade(ctx, "read result", err)
		return "", nil
	}
	raw, ok := got[key]
	if !ok {
		observability.IncCacheMiss()
		return key, nil
	}
	var res model.AggregationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		s.log.WarnContext(ctx, "discarding undecodable cached aggregation", "key", key, "err", err)
		observability.IncCacheMiss()
		return key, nil
	}
	observability.IncCacheHit()
	return key, &res
}

func (s *Service) fill(ctx context.Context, key, partitionName string, res model.AggregationResult) {
	ttl := s.ttl
	if v, ok := s.ttlOvr[partitionName]; ok {
		ttl = v
	}
	if ttl <= 0 {
		return
	}
	b, err := json.Marshal(res)
	if err != nil {
		s.degrade(ctx, "encode result", err)
		return
	}
	cctx, cancel := context.WithTimeout(ctx, s.opTO)
	defer cancel()
	if err := s.cache.Set(cctx, key, b, ttl); err != nil {
		s.degrade(ctx, "write result", err)
	}
}

func (s *Service) degrade(ctx context.Context, phase string, err error) {
	observability.IncCacheError()
	s.log.WarnContext(ctx, "aggregation cache unavailable, computing directly", "phase", phase, "err", err)
}
