package store

import (
	"context"
	"errors"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrTxDone is returned by a Tx used after Commit or Rollback.
var ErrTxDone = errors.New("transaction already finished")

// Tx is one atomic unit of work. Nothing written through it is observable until Commit.
type Tx interface {
	// InsertSnapshot writes the snapshot row.
	InsertSnapshot(ctx context.Context, snap harvest.Snapshot) error
	// InsertEntity creates a normalized entity, or returns the identifier of an existing one
	// with the same description.
	InsertEntity(ctx context.Context, kind harvest.EntityKind, description string) (int64, error)
	// InsertLink associates a snapshot with an entity.
	InsertLink(ctx context.Context, link harvest.Link) error
	// Commit makes every write visible.
	Commit(ctx context.Context) error
	// Rollback discards every write. Calling it after Commit is a no-op.
	Rollback(ctx context.Context) error
}

// Repository is the persistence store used by the crawl orchestrator and catalog sync.
type Repository interface {
	// Begin opens a unit of work.
	Begin(ctx context.Context) (Tx, error)
	// LoadEntities returns every description of kind with its identifier.
	LoadEntities(ctx context.Context, kind harvest.EntityKind) (map[string]int64, error)
	// PendingEntries returns entries without any snapshot, ordered by identifier.
	// limit <= 0 means no limit.
	PendingEntries(ctx context.Context, limit int) ([]harvest.Entry, error)
	// RecordFailure appends to the failure ledger outside of any unit of work.
	RecordFailure(ctx context.Context, failure harvest.Failure) error
	// CountEntries returns the number of known entries.
	CountEntries(ctx context.Context) (int64, error)
	// UpsertEntries inserts entries, updating names of existing identifiers.
	UpsertEntries(ctx context.Context, entries []harvest.Entry) (int64, error)
	// Close releases resources.
	Close()
}
