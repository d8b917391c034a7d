// Package postgres provides the Postgres-backed harvester repository.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/store"
)

// Schema creates every table the repository uses. It is idempotent.
//
//go:embed schema.sql
var Schema string

const upsertChunk = 5000

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// entityTables maps a kind to its description table and link table.
var entityTables = map[harvest.EntityKind]struct{ table, link, column string }{
	harvest.KindTag:    {table: "tag", link: "game_tag", column: "tag_id"},
	harvest.KindDetail: {table: "detail", link: "game_detail", column: "detail_id"},
	harvest.KindGenre:  {table: "genre", link: "game_genre", column: "genre_id"},
}

// Repository implements store.Repository on a pgx pool.
type Repository struct {
	pool pool
}

var _ store.Repository = (*Repository)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Repository{pool: p}, nil
}

// NewWithPool constructs a repository from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Repository, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Repository{pool: p}, nil
}

// Close releases the underlying pool resources.
func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// EnsureSchema applies Schema.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Begin implements store.Repository.
func (r *Repository) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// LoadEntities implements store.Repository.
func (r *Repository) LoadEntities(ctx context.Context, kind harvest.EntityKind) (map[string]int64, error) {
	t, ok := entityTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT description, id FROM %s`, t.table))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", kind, err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var (
			desc string
			id   int64
		)
		if err := rows.Scan(&desc, &id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		out[desc] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", kind, err)
	}
	return out, nil
}

// PendingEntries implements store.Repository.
func (r *Repository) PendingEntries(ctx context.Context, limit int) ([]harvest.Entry, error) {
	query := `
		SELECT g.steam_app_id, g.game_name
		FROM game g
		LEFT JOIN game_snapshot s ON s.steam_app_id = g.steam_app_id
		WHERE s.steam_app_id IS NULL
		ORDER BY g.steam_app_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending entries: %w", err)
	}
	defer rows.Close()

	var out []harvest.Entry
	for rows.Next() {
		var e harvest.Entry
		if err := rows.Scan(&e.ID, &e.Name); err != nil {
			return nil, fmt.Errorf("scan pending entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending entries: %w", err)
	}
	return out, nil
}

// RecordFailure implements store.Repository.
func (r *Repository) RecordFailure(ctx context.Context, f harvest.Failure) error {
	query := `
		INSERT INTO entry_failure (run_id, steam_app_id, step, cause, failed_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.pool.Exec(ctx, query, f.RunID, f.EntryID, string(f.Step), f.Cause, f.FailedAt); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// CountEntries implements store.Repository.
func (r *Repository) CountEntries(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM game`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// UpsertEntries implements store.Repository. Duplicate identifiers keep the last name.
func (r *Repository) UpsertEntries(ctx context.Context, entries []harvest.Entry) (int64, error) {
	ids, names := dedupe(entries)
	query := `
		INSERT INTO game (steam_app_id, game_name)
		SELECT * FROM unnest($1::bigint[], $2::text[])
		ON CONFLICT (steam_app_id) DO UPDATE SET game_name = EXCLUDED.game_name
		WHERE game.game_name IS DISTINCT FROM EXCLUDED.game_name`

	var total int64
	for start := 0; start < len(ids); start += upsertChunk {
		end := min(start+upsertChunk, len(ids))
		tag, err := r.pool.Exec(ctx, query, ids[start:end], names[start:end])
		if err != nil {
			return total, fmt.Errorf("upsert entries: %w", err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func dedupe(entries []harvest.Entry) ([]int64, []string) {
	index := make(map[int64]int, len(entries))
	ids := make([]int64, 0, len(entries))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if i, ok := index[e.ID]; ok {
			names[i] = e.Name
			continue
		}
		index[e.ID] = len(ids)
		ids = append(ids, e.ID)
		names = append(names, e.Name)
	}
	return ids, names
}

// Tx implements store.Tx on a pgx transaction.
type Tx struct {
	tx pgx.Tx
}

// InsertSnapshot implements store.Tx.
func (t *Tx) InsertSnapshot(ctx context.Context, s harvest.Snapshot) error {
	query := `
		INSERT INTO game_snapshot (
			steam_app_id,
			captured_at,
			name,
			short_description,
			long_description,
			is_dlc,
			recent_review_percent,
			recent_review_count,
			all_review_percent,
			all_review_count,
			release_date,
			release_date_pending,
			title,
			developer,
			publisher,
			achievements,
			metacritic,
			price_cents,
			price_unknown
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
		)`
	if _, err := t.tx.Exec(ctx, query, snapshotArgs(s)...); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func snapshotArgs(s harvest.Snapshot) []any {
	return []any{
		s.EntryID,
		s.CapturedAt,
		s.Name,
		s.ShortDescription,
		s.LongDescription,
		s.IsDLC,
		s.RecentReviewPercent,
		s.RecentReviewCount,
		s.AllReviewPercent,
		s.AllReviewCount,
		s.ReleaseDate,
		s.ReleasePending,
		s.Title,
		s.Developer,
		s.Publisher,
		s.Achievements,
		s.Metacritic,
		s.PriceCents,
		s.PriceUnknown,
	}
}

// InsertEntity implements store.Tx.
func (t *Tx) InsertEntity(ctx context.Context, kind harvest.EntityKind, description string) (int64, error) {
	tbl, ok := entityTables[kind]
	if !ok {
		return 0, fmt.Errorf("unknown entity kind %q", kind)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (description) VALUES ($1)
		ON CONFLICT (description) DO UPDATE SET description = EXCLUDED.description
		RETURNING id`, tbl.table)
	var id int64
	if err := t.tx.QueryRow(ctx, query, description).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert %s: %w", kind, err)
	}
	return id, nil
}

// InsertLink implements store.Tx.
func (t *Tx) InsertLink(ctx context.Context, link harvest.Link) error {
	tbl, ok := entityTables[link.Kind]
	if !ok {
		return fmt.Errorf("unknown entity kind %q", link.Kind)
	}
	query := fmt.Sprintf(`INSERT INTO %s (steam_app_id, captured_at, %s) VALUES ($1, $2, $3)`, tbl.link, tbl.column)
	if _, err := t.tx.Exec(ctx, query, link.EntryID, link.CapturedAt, link.EntityID); err != nil {
		return fmt.Errorf("insert %s link: %w", link.Kind, err)
	}
	return nil
}

// Commit implements store.Tx.
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return store.ErrTxDone
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback implements store.Tx.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
