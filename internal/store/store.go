// Package store defines the partition store contract used by ingestion and aggregation.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
)

// Reader is the read side available inside a snapshot and inside a write transaction.
type Reader interface {
	EntityExists(ctx context.Context, name model.EntityName) (bool, error)
	// PolygonParts returns every fragment of the named polygon parts store.
	// A missing store is reported as errs.ErrNotFound.
	PolygonParts(ctx context.Context, name model.EntityName) ([]model.PolygonPart, error)
	// Version identifies the current content of the named polygon parts store. Fragments
	// are never updated in place and every commit that changes a partition writes
	// fragments with fresh ids, so the digest of the id set changes with it.
	Version(ctx context.Context, name model.EntityName) (string, error)
}

// Tx is one ingestion transaction. All mutations become visible only on Commit.
type Tx interface {
	Reader

	// LockPartition serializes transactions on the same partition until Commit or Rollback.
	LockPartition(ctx context.Context, names model.EntityNames) error
	CreatePartition(ctx context.Context, names model.EntityNames) error
	TruncatePartition(ctx context.Context, names model.EntityNames) error

	// InsertParts appends records and returns them with id, insertion order and
	// processed flag assigned.
	InsertParts(ctx context.Context, names model.EntityNames, recs []model.Record) ([]model.Part, error)
	UnprocessedParts(ctx context.Context, names model.EntityNames) ([]model.Part, error)
	// ConsolidationCandidates returns the fragments that share a catalog with, and may
	// intersect, at least one unprocessed part. Implementations may return a superset.
	ConsolidationCandidates(ctx context.Context, names model.EntityNames) ([]model.PolygonPart, error)
	DeletePolygonParts(ctx context.Context, names model.EntityNames, ids []uuid.UUID) error
	InsertPolygonParts(ctx context.Context, names model.EntityNames, parts []model.PolygonPart) error
	MarkProcessed(ctx context.Context, names model.EntityNames, ids []uuid.UUID) error

	Commit() error
	Rollback() error
}

type Store interface {
	Begin(ctx context.Context) (Tx, error)
	// ReadSnapshot runs fn against a consistent point-in-time view.
	ReadSnapshot(ctx context.Context, fn func(Reader) error) error
	Ping(ctx context.Context) error
	Close() error
}
