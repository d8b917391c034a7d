package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Repository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	repo, err := NewWithPool(mock)
	require.NoError(t, err)
	return mock, repo
}

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func TestTxWritesSnapshotWithLinks(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)
	ctx := context.Background()
	captured := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO tag").
		WithArgs("Action").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("INSERT INTO game_tag").
		WithArgs(int64(10), captured, int64(7)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	snapArgs := append([]any{int64(10), captured}, anyArgs(17)...)
	mock.ExpectExec("INSERT INTO game_snapshot").
		WithArgs(snapArgs...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	id, err := tx.InsertEntity(ctx, harvest.KindTag, "Action")
	require.NoError(t, err)
	require.Equal(t, int64(7), id)
	require.NoError(t, tx.InsertLink(ctx, harvest.Link{Kind: harvest.KindTag, EntryID: 10, CapturedAt: captured, EntityID: id}))
	name := "Portal"
	require.NoError(t, tx.InsertSnapshot(ctx, harvest.Snapshot{
		EntryID:    10,
		CapturedAt: captured,
		Scalars:    harvest.Scalars{Name: &name},
	}))
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTxRollbackOnEntityFailure(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)
	ctx := context.Background()
	boom := errors.New("unique violation")

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO genre").WithArgs("RPG").WillReturnError(boom)
	mock.ExpectRollback()

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertEntity(ctx, harvest.KindGenre, "RPG")
	require.ErrorIs(t, err, boom)
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTxRejectsUnknownKind(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertEntity(ctx, harvest.EntityKind("platform"), "Linux")
	require.Error(t, err)
	require.Error(t, tx.InsertLink(ctx, harvest.Link{Kind: "platform"}))
}

func TestLoadEntities(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)

	mock.ExpectQuery("SELECT description, id FROM detail").
		WillReturnRows(pgxmock.NewRows([]string{"description", "id"}).
			AddRow("Single-player", int64(1)).
			AddRow("Steam Cloud", int64(2)))

	got, err := repo.LoadEntities(context.Background(), harvest.KindDetail)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"Single-player": 1, "Steam Cloud": 2}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingEntries(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)

	mock.ExpectQuery("LEFT JOIN game_snapshot").
		WithArgs(2).
		WillReturnRows(pgxmock.NewRows([]string{"steam_app_id", "game_name"}).
			AddRow(int64(10), "Counter-Strike").
			AddRow(int64(20), "Team Fortress Classic"))

	got, err := repo.PendingEntries(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, []harvest.Entry{{ID: 10, Name: "Counter-Strike"}, {ID: 20, Name: "Team Fortress Classic"}}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingEntriesWithoutLimit(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)

	mock.ExpectQuery("WHERE s.steam_app_id IS NULL").
		WillReturnRows(pgxmock.NewRows([]string{"steam_app_id", "game_name"}))

	got, err := repo.PendingEntries(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailure(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO entry_failure").
		WithArgs("run-1", int64(42), "extraction", "required field classification: not present", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.RecordFailure(context.Background(), harvest.Failure{
		RunID:    "run-1",
		EntryID:  42,
		Step:     harvest.StepExtraction,
		Cause:    "required field classification: not present",
		FailedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountEntries(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM game`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(12)))

	n, err := repo.CountEntries(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(12), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEntriesDedupes(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)

	mock.ExpectExec("INSERT INTO game").
		WithArgs([]int64{1, 2}, []string{"b", "c"}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	n, err := repo.UpsertEntries(context.Background(), []harvest.Entry{
		{ID: 1, Name: "a"},
		{ID: 2, Name: "c"},
		{ID: 1, Name: "b"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()
	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Config{})
	require.EqualError(t, err, "db.dsn is required")
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS game \(`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, repo.EnsureSchema(context.Background()))

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS game \(`).
		WillReturnError(errors.New("permission denied"))
	require.ErrorContains(t, repo.EnsureSchema(context.Background()), "apply schema")
	require.NoError(t, mock.ExpectationsWereMet())
}
