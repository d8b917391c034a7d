package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, entriesTotal)
	require.NotNil(t, failuresTotal)
	require.NotNil(t, httpRequestsTotal)
}

func TestObserveEntryAndFailures(t *testing.T) {
	Init()
	before := testutil.ToFloat64(entriesTotal.WithLabelValues(OutcomeFailed))
	failuresBefore := testutil.ToFloat64(failuresTotal.WithLabelValues("extraction"))

	SetPending(3)
	ObserveEntry(OutcomeFailed, time.Second)
	ObserveFailure("extraction")

	require.Equal(t, before+1, testutil.ToFloat64(entriesTotal.WithLabelValues(OutcomeFailed)))
	require.Equal(t, failuresBefore+1, testutil.ToFloat64(failuresTotal.WithLabelValues("extraction")))
	require.Equal(t, float64(2), testutil.ToFloat64(pendingEntries))
}

func TestObserveEntitiesIgnoresZero(t *testing.T) {
	Init()
	before := testutil.ToFloat64(entitiesCreatedTotal.WithLabelValues("tag"))
	ObserveEntitiesCreated("tag", 0)
	ObserveEntitiesCreated("tag", 2)
	require.Equal(t, before+2, testutil.ToFloat64(entitiesCreatedTotal.WithLabelValues("tag")))
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	ObserveSkip("region_locked")
	ts := httptest.NewServer(Router())
	defer ts.Close()

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Contains(t, string(body), `harvester_skips_total{state="region_locked"}`)

	resp, err = http.Get(ts.URL + "/missing")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.Equal(t, before+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")))
}
