// Package pgstore is the PostGIS backed Store. Each product partition is a pair of
// physical tables inside the configured schema.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mohammed-shakir/polygon-parts/internal/core/errs"
	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
	"github.com/mohammed-shakir/polygon-parts/internal/store"
)

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	Schema       string
}

type Store struct {
	db     *sqlx.DB
	schema string
	log    *slog.Logger
}

var _ store.Store = (*Store)(nil)

func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, errs.E(errs.ErrStorage, "open postgres", "", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, errs.E(errs.ErrStorage, "ping postgres", "", err)
	}
	return &Store{db: db, schema: cfg.Schema, log: log}, nil
}

// New wraps an existing handle, mainly for tests.
func New(db *sqlx.DB, schema string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, schema: schema, log: log}
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errs.E(errs.ErrStorage, "ping", "", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	t, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, classify("begin", "", err)
	}
	return &tx{queries: queries{tx: t}}, nil
}

func (s *Store) ReadSnapshot(ctx context.Context, fn func(store.Reader) error) error {
	t, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return classify("begin snapshot", "", err)
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(&queries{tx: t}); err != nil {
		return err
	}
	return nil
}

// classify maps Postgres failures onto the error taxonomy by SQLSTATE.
func classify(op, entity string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "42P07":
			return errs.E(errs.ErrConflict, op, entity, err)
		case "23514":
			return errs.E(errs.ErrValidation, op, entity, fmt.Errorf("check %q: %w", pqErr.Constraint, err))
		case "42P01":
			return errs.E(errs.ErrNotFound, op, entity, err)
		}
	}
	return errs.E(errs.ErrStorage, op, entity, err)
}

// ident quotes a schema qualified name for use in SQL text.
func ident(n model.EntityName) string {
	schema, name, ok := strings.Cut(n.QualifiedName, ".")
	if !ok {
		return pq.QuoteIdentifier(n.QualifiedName)
	}
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(name)
}
