package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/storage/memory"
)

const appListBody = `{"applist":{"apps":{"app":[
	{"appid":10,"name":"Counter-Strike"},
	{"appid":20,"name":"Team Fortress Classic"},
	{"appid":367520,"name":"Hollow Knight"}
]}}}`

func serve(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "harvester-test", r.UserAgent())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newSyncer(store Store, url string) *Syncer {
	return New(store, Config{URL: url, UserAgent: "harvester-test", Timeout: 5 * time.Second}, zap.NewNop())
}

func TestSyncSeedsEmptyTable(t *testing.T) {
	srv, hits := serve(t, http.StatusOK, appListBody)
	repo := memory.NewRepository()

	res, err := newSyncer(repo, srv.URL).Sync(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, Result{Fetched: 3, Upserted: 3}, res)
	require.EqualValues(t, 1, hits.Load())

	pending, err := repo.PendingEntries(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, []harvest.Entry{
		{ID: 10, Name: "Counter-Strike"},
		{ID: 20, Name: "Team Fortress Classic"},
		{ID: 367520, Name: "Hollow Knight"},
	}, pending)
}

func TestSyncSkipsPopulatedTable(t *testing.T) {
	srv, hits := serve(t, http.StatusOK, appListBody)
	repo := memory.NewRepository()
	_, err := repo.UpsertEntries(context.Background(), []harvest.Entry{{ID: 1, Name: "seed"}})
	require.NoError(t, err)

	res, err := newSyncer(repo, srv.URL).Sync(context.Background(), false)
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Zero(t, hits.Load())
}

func TestSyncForceIsIdempotent(t *testing.T) {
	srv, hits := serve(t, http.StatusOK, appListBody)
	repo := memory.NewRepository()
	s := newSyncer(repo, srv.URL)

	_, err := s.Sync(context.Background(), true)
	require.NoError(t, err)
	res, err := s.Sync(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, 3, res.Fetched)
	require.Zero(t, res.Upserted)
	require.EqualValues(t, 2, hits.Load())

	n, err := repo.CountEntries(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "oops"},
		{name: "bad json", status: http.StatusOK, body: "{not json"},
		{name: "missing list", status: http.StatusOK, body: `{"other":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := serve(t, tt.status, tt.body)
			_, err := newSyncer(memory.NewRepository(), srv.URL).Fetch(context.Background())
			require.Error(t, err)
		})
	}
}

type failingStore struct{}

func (failingStore) CountEntries(context.Context) (int64, error) { return 0, nil }

func (failingStore) UpsertEntries(context.Context, []harvest.Entry) (int64, error) {
	return 0, errors.New("read-only")
}

func TestSyncPropagatesUpsertError(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, appListBody)
	_, err := newSyncer(failingStore{}, srv.URL).Sync(context.Background(), false)
	require.ErrorContains(t, err, "read-only")
}

func TestFetchHonorsCancellation(t *testing.T) {
	var aborted atomic.Bool
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			aborted.Store(true)
		case <-block:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(block) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := newSyncer(memory.NewRepository(), srv.URL).Fetch(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Eventually(t, aborted.Load, 2*time.Second, 10*time.Millisecond)
}
