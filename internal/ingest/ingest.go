// Package ingest is the transaction boundary around partition provisioning, part
// insertion and consolidation. Each call runs an ordered list of steps on one store
// transaction and rolls everything back on the first failure.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/polygon-parts/internal/consolidate"
	"github.com/mohammed-shakir/polygon-parts/internal/core/errs"
	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
	"github.com/mohammed-shakir/polygon-parts/internal/core/observability"
	"github.com/mohammed-shakir/polygon-parts/internal/geometry"
	"github.com/mohammed-shakir/polygon-parts/internal/logger"
	"github.com/mohammed-shakir/polygon-parts/internal/partition"
	"github.com/mohammed-shakir/polygon-parts/internal/store"
)

type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpSwap   Op = "swap"
)

// Result describes a committed ingestion.
type Result struct {
	Op                Op
	Names             model.EntityNames
	CatalogIDs        []uuid.UUID
	Parts             int
	FragmentsInserted int
	FragmentsDeleted  int
}

// AfterCommit observes committed ingestions. Its error is logged and never changes
// the outcome returned to the caller.
type AfterCommit func(ctx context.Context, res Result) error

type Config struct {
	Store   store.Store
	Engine  geometry.Engine
	Naming  partition.Naming
	Timeout time.Duration
	Logger  *slog.Logger
	// Now and NewID default to time.Now and uuid.New.
	Now   func() time.Time
	NewID consolidate.IDFunc
}

type hook struct {
	name string
	fn   AfterCommit
}

type Service struct {
	store   store.Store
	eng     geometry.Engine
	naming  partition.Naming
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
	newID   consolidate.IDFunc
	hooks   []hook
}

func New(cfg Config) *Service {
	s := &Service{
		store:   cfg.Store,
		eng:     cfg.Engine,
		naming:  cfg.Naming,
		timeout: cfg.Timeout,
		log:     cfg.Logger,
		now:     cfg.Now,
		newID:   cfg.NewID,
	}
	if s.eng == nil {
		s.eng = geometry.NewEngine()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.New
	}
	return s
}

// OnCommit registers a post-commit hook. Hooks run in registration order.
func (s *Service) OnCommit(name string, fn AfterCommit) {
	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

// Create provisions a new partition for the payload's product and ingests its parts.
func (s *Service) Create(ctx context.Context, p model.Payload) (Result, error) {
	names, err := s.prepare(p)
	if err != nil {
		return Result{}, err
	}
	res := Result{Op: OpCreate, Names: names, CatalogIDs: []uuid.UUID{p.CatalogID}}
	steps := []step{
		{"lock partition", s.lock(names)},
		{"verify partition absent", s.verifyAbsent(names)},
		{"create partition", func(ctx context.Context, tx store.Tx) error { return tx.CreatePartition(ctx, names) }},
		{"insert parts", s.insertParts(names, p, &res)},
		{"consolidate", s.consolidate(names, &res)},
	}
	return s.run(ctx, &res, steps)
}

// Update appends to an existing partition. With swap set both tables are truncated
// first and insertion order restarts.
func (s *Service) Update(ctx context.Context, p model.Payload, swap bool) (Result, error) {
	names, err := s.prepare(p)
	if err != nil {
		return Result{}, err
	}
	op := OpUpdate
	if swap {
		op = OpSwap
	}
	res := Result{Op: op, Names: names, CatalogIDs: []uuid.UUID{p.CatalogID}}
	steps := []step{
		{"lock partition", s.lock(names)},
		{"verify partition exists", s.verifyExists(names)},
	}
	if swap {
		steps = append(steps, step{"truncate partition", func(ctx context.Context, tx store.Tx) error {
			return tx.TruncatePartition(ctx, names)
		}})
	}
	steps = append(steps,
		step{"insert parts", s.insertParts(names, p, &res)},
		step{"consolidate", s.consolidate(names, &res)},
	)
	return s.run(ctx, &res, steps)
}

func (s *Service) prepare(p model.Payload) (model.EntityNames, error) {
	if err := Validate(p, s.eng, s.now()); err != nil {
		return model.EntityNames{}, err
	}
	return s.naming.EntityNames(p.ProductID, p.ProductType)
}

type step struct {
	name string
	fn   func(ctx context.Context, tx store.Tx) error
}

// run executes steps in one transaction. Steps fill the counters of res, so it is
// only read once execute has committed.
func (s *Service) run(parent context.Context, res *Result, steps []step) (Result, error) {
	start := time.Now()
	entity := res.Names.PolygonParts.QualifiedName
	ctx := logger.WithPartition(context.WithoutCancel(parent), entity)
	var cancel context.CancelFunc = func() {}
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	defer cancel()

	err := s.execute(ctx, entity, steps)
	observability.ObserveIngestion(string(res.Op), err, time.Since(start).Seconds())
	if err != nil {
		return Result{}, err
	}
	observability.AddConsolidationFragments(res.FragmentsInserted, res.FragmentsDeleted)
	s.log.InfoContext(ctx, "ingestion committed",
		"op", string(res.Op),
		"parts", res.Parts,
		"fragments_inserted", res.FragmentsInserted,
		"fragments_deleted", res.FragmentsDeleted,
		"duration", time.Since(start),
	)

	for _, h := range s.hooks {
		if herr := h.fn(ctx, *res); herr != nil {
			s.log.WarnContext(ctx, "post-commit hook failed", "hook", h.name, "err", herr)
		}
	}
	return *res, nil
}

func (s *Service) execute(ctx context.Context, entity string, steps []step) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "ingestion failed", "phase", "begin", "err", err)
		return fmt.Errorf("ingest [%s] begin: %w", entity, err)
	}
	for _, st := range steps {
		s.log.DebugContext(ctx, "ingestion phase", "phase", st.name)
		if err := st.fn(ctx, tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.log.ErrorContext(ctx, "rollback failed", "phase", st.name, "err", rbErr)
			}
			s.log.ErrorContext(ctx, "ingestion failed", "phase", st.name, "err", err)
			return fmt.Errorf("ingest [%s] %s: %w", entity, st.name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		s.log.ErrorContext(ctx, "ingestion failed", "phase", "commit", "err", err)
		return fmt.Errorf("ingest [%s] commit: %w", entity, err)
	}
	return nil
}

func (s *Service) lock(names model.EntityNames) func(context.Context, store.Tx) error {
	return func(ctx context.Context, tx store.Tx) error {
		return tx.LockPartition(ctx, names)
	}
}

func (s *Service) verifyAbsent(names model.EntityNames) func(context.Context, store.Tx) error {
	return func(ctx context.Context, tx store.Tx) error {
		for _, n := range []model.EntityName{names.Parts, names.PolygonParts} {
			ok, err := tx.EntityExists(ctx, n)
			if err != nil {
				return err
			}
			if ok {
				return errs.Errorf(errs.ErrConflict, "create partition", n.QualifiedName, "table %s already exists", n.QualifiedName)
			}
		}
		return nil
	}
}

func (s *Service) verifyExists(names model.EntityNames) func(context.Context, store.Tx) error {
	return func(ctx context.Context, tx store.Tx) error {
		for _, n := range []model.EntityName{names.Parts, names.PolygonParts} {
			ok, err := tx.EntityExists(ctx, n)
			if err != nil {
				return err
			}
			if !ok {
				return errs.Errorf(errs.ErrNotFound, "update partition", n.QualifiedName, "table %s does not exist", n.QualifiedName)
			}
		}
		return nil
	}
}

func (s *Service) insertParts(names model.EntityNames, p model.Payload, res *Result) func(context.Context, store.Tx) error {
	return func(ctx context.Context, tx store.Tx) error {
		parts, err := tx.InsertParts(ctx, names, p.Records(s.now().UTC()))
		if err != nil {
			return err
		}
		res.Parts = len(parts)
		return nil
	}
}

func (s *Service) consolidate(names model.EntityNames, res *Result) func(context.Context, store.Tx) error {
	return func(ctx context.Context, tx store.Tx) error {
		unprocessed, err := tx.UnprocessedParts(ctx, names)
		if err != nil {
			return err
		}
		existing, err := tx.ConsolidationCandidates(ctx, names)
		if err != nil {
			return err
		}
		plan, err := consolidate.Consolidate(s.eng, existing, unprocessed, s.newID)
		if err != nil {
			return err
		}
		if plan.Empty() {
			return nil
		}
		if err := tx.DeletePolygonParts(ctx, names, plan.Delete); err != nil {
			return err
		}
		if err := tx.InsertPolygonParts(ctx, names, plan.Insert); err != nil {
			return err
		}
		if err := tx.MarkProcessed(ctx, names, plan.Processed); err != nil {
			return err
		}
		res.FragmentsInserted = len(plan.Insert)
		res.FragmentsDeleted = len(plan.Delete)
		return nil
	}
}
