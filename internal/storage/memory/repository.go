package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/store"
)

type snapshotKey struct {
	entryID    int64
	capturedAt time.Time
}

// Repository is an in-memory store.Repository. Writes made through a Tx are buffered and
// applied on Commit, so rolled-back work is never visible.
type Repository struct {
	mu        sync.Mutex
	entries   map[int64]string
	snapshots map[snapshotKey]harvest.Snapshot
	entities  map[harvest.EntityKind]map[string]int64
	links     []harvest.Link
	failures  []harvest.Failure
	inserts   map[harvest.EntityKind]int
	nextID    int64
	commitErr error
}

var _ store.Repository = (*Repository)(nil)

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	r := &Repository{
		entries:   map[int64]string{},
		snapshots: map[snapshotKey]harvest.Snapshot{},
		entities:  map[harvest.EntityKind]map[string]int64{},
		inserts:   map[harvest.EntityKind]int{},
	}
	for _, kind := range harvest.EntityKinds {
		r.entities[kind] = map[string]int64{}
	}
	return r
}

// FailCommits makes every later Commit fail with err. A nil err restores normal behavior.
func (r *Repository) FailCommits(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commitErr = err
}

// Begin implements store.Repository.
func (r *Repository) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{repo: r, entities: map[harvest.EntityKind]map[string]int64{}}, nil
}

// LoadEntities implements store.Repository.
func (r *Repository) LoadEntities(_ context.Context, kind harvest.EntityKind) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	known, ok := r.entities[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	return maps.Clone(known), nil
}

// PendingEntries implements store.Repository.
func (r *Repository) PendingEntries(_ context.Context, limit int) ([]harvest.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	captured := map[int64]bool{}
	for key := range r.snapshots {
		captured[key.entryID] = true
	}
	ids := slices.Sorted(maps.Keys(r.entries))
	var out []harvest.Entry
	for _, id := range ids {
		if captured[id] {
			continue
		}
		out = append(out, harvest.Entry{ID: id, Name: r.entries[id]})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// RecordFailure implements store.Repository.
func (r *Repository) RecordFailure(_ context.Context, f harvest.Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
	return nil
}

// CountEntries implements store.Repository.
func (r *Repository) CountEntries(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.entries)), nil
}

// UpsertEntries implements store.Repository. It reports inserted plus renamed rows.
func (r *Repository) UpsertEntries(_ context.Context, entries []harvest.Entry) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var affected int64
	for _, e := range entries {
		if name, ok := r.entries[e.ID]; ok && name == e.Name {
			continue
		}
		r.entries[e.ID] = e.Name
		affected++
	}
	return affected, nil
}

// Close implements store.Repository.
func (r *Repository) Close() {}

// Snapshots returns the committed snapshots of an entry ordered by capture time.
func (r *Repository) Snapshots(entryID int64) []harvest.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []harvest.Snapshot
	for key, snap := range r.snapshots {
		if key.entryID == entryID {
			out = append(out, snap)
		}
	}
	slices.SortFunc(out, func(a, b harvest.Snapshot) int { return a.CapturedAt.Compare(b.CapturedAt) })
	return out
}

// Links returns committed links of an entry.
func (r *Repository) Links(entryID int64) []harvest.Link {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []harvest.Link
	for _, l := range r.links {
		if l.EntryID == entryID {
			out = append(out, l)
		}
	}
	return out
}

// Entities returns the committed description table of kind.
func (r *Repository) Entities(kind harvest.EntityKind) map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.entities[kind])
}

// EntityInserts counts InsertEntity calls that created a new row, committed or not.
func (r *Repository) EntityInserts(kind harvest.EntityKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inserts[kind]
}

// Failures returns the failure ledger.
func (r *Repository) Failures() []harvest.Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.failures)
}

// Tx buffers writes until Commit.
type Tx struct {
	repo      *Repository
	snapshots []harvest.Snapshot
	entities  map[harvest.EntityKind]map[string]int64
	links     []harvest.Link
	done      bool
}

// InsertSnapshot implements store.Tx.
func (t *Tx) InsertSnapshot(_ context.Context, s harvest.Snapshot) error {
	if t.done {
		return store.ErrTxDone
	}
	t.snapshots = append(t.snapshots, s)
	return nil
}

// InsertEntity implements store.Tx. Identifiers are never reused, even after a rollback.
func (t *Tx) InsertEntity(_ context.Context, kind harvest.EntityKind, description string) (int64, error) {
	if t.done {
		return 0, store.ErrTxDone
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("unknown entity kind %q", kind)
	}
	if id, ok := t.entities[kind][description]; ok {
		return id, nil
	}
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.entities[kind][description]; ok {
		return id, nil
	}
	r.nextID++
	r.inserts[kind]++
	if t.entities[kind] == nil {
		t.entities[kind] = map[string]int64{}
	}
	t.entities[kind][description] = r.nextID
	return r.nextID, nil
}

// InsertLink implements store.Tx.
func (t *Tx) InsertLink(_ context.Context, link harvest.Link) error {
	if t.done {
		return store.ErrTxDone
	}
	if !link.Kind.Valid() {
		return fmt.Errorf("unknown entity kind %q", link.Kind)
	}
	t.links = append(t.links, link)
	return nil
}

// Commit implements store.Tx.
func (t *Tx) Commit(_ context.Context) error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return fmt.Errorf("commit: %w", r.commitErr)
	}
	for _, s := range t.snapshots {
		key := snapshotKey{entryID: s.EntryID, capturedAt: s.CapturedAt}
		if _, exists := r.snapshots[key]; exists {
			return fmt.Errorf("commit: duplicate snapshot for entry %d at %s", s.EntryID, s.CapturedAt)
		}
		if _, known := r.entries[s.EntryID]; !known {
			return fmt.Errorf("commit: snapshot references unknown entry %d", s.EntryID)
		}
	}
	for _, s := range t.snapshots {
		r.snapshots[snapshotKey{entryID: s.EntryID, capturedAt: s.CapturedAt}] = s
	}
	for kind, descs := range t.entities {
		maps.Copy(r.entities[kind], descs)
	}
	r.links = append(r.links, t.links...)
	return nil
}

// Rollback implements store.Tx. It is a no-op after Commit.
func (t *Tx) Rollback(context.Context) error {
	t.done = true
	return nil
}
