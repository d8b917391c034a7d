// Package resolver maps normalized entity descriptions to their store identifiers.
package resolver

import (
	"context"
	"fmt"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
)

// Inserter creates an entity row inside the current unit of work and returns its identifier.
type Inserter interface {
	InsertEntity(ctx context.Context, kind harvest.EntityKind, description string) (int64, error)
}

// Loader reads every known description of a kind.
type Loader interface {
	LoadEntities(ctx context.Context, kind harvest.EntityKind) (map[string]int64, error)
}

// Resolver owns the description cache of one entity kind for one run. It is not safe for
// concurrent use; the run is single-writer.
type Resolver struct {
	kind      harvest.EntityKind
	committed map[string]int64
	pending   map[string]int64
}

// New returns an empty Resolver for kind.
func New(kind harvest.EntityKind) *Resolver {
	return &Resolver{
		kind:      kind,
		committed: map[string]int64{},
		pending:   map[string]int64{},
	}
}

// Load seeds a Resolver with every existing description of kind.
func Load(ctx context.Context, loader Loader, kind harvest.EntityKind) (*Resolver, error) {
	known, err := loader.LoadEntities(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("load %s entities: %w", kind, err)
	}
	r := New(kind)
	for desc, id := range known {
		r.committed[desc] = id
	}
	return r, nil
}

// Kind returns the entity kind served.
func (r *Resolver) Kind() harvest.EntityKind { return r.kind }

// Resolve returns the identifier of description, inserting it through tx on first sight.
// Identifiers created since the last Commit stay pending until then.
func (r *Resolver) Resolve(ctx context.Context, tx Inserter, description string) (int64, error) {
	if id, ok := r.committed[description]; ok {
		return id, nil
	}
	if id, ok := r.pending[description]; ok {
		return id, nil
	}
	id, err := tx.InsertEntity(ctx, r.kind, description)
	if err != nil {
		return 0, fmt.Errorf("insert %s %q: %w", r.kind, description, err)
	}
	r.pending[description] = id
	return id, nil
}

// Commit makes pending identifiers permanent. Call it after the unit of work commits.
func (r *Resolver) Commit() {
	for desc, id := range r.pending {
		r.committed[desc] = id
	}
	clear(r.pending)
}

// Discard forgets pending identifiers. Call it after the unit of work rolls back.
func (r *Resolver) Discard() {
	clear(r.pending)
}

// Len returns the number of committed descriptions.
func (r *Resolver) Len() int { return len(r.committed) }

// Pending returns the number of descriptions inserted since the last Commit or Discard.
func (r *Resolver) Pending() int { return len(r.pending) }

// Set holds one Resolver per entity kind.
type Set map[harvest.EntityKind]*Resolver

// LoadSet seeds a Resolver for every entity kind.
func LoadSet(ctx context.Context, loader Loader) (Set, error) {
	set := Set{}
	for _, kind := range harvest.EntityKinds {
		r, err := Load(ctx, loader, kind)
		if err != nil {
			return nil, err
		}
		set[kind] = r
	}
	return set, nil
}

// Commit commits every Resolver in the set.
func (s Set) Commit() {
	for _, r := range s {
		r.Commit()
	}
}

// Discard discards pending entries of every Resolver in the set.
func (s Set) Discard() {
	for _, r := range s {
		r.Discard()
	}
}
