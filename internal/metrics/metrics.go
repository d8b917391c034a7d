// Package metrics exposes Prometheus collectors for harvest runs.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Entry outcomes.
const (
	OutcomeCaptured = "captured"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

var (
	entriesTotal               *prometheus.CounterVec
	skipsTotal                 *prometheus.CounterVec
	failuresTotal              *prometheus.CounterVec
	entryDurationSeconds       *prometheus.HistogramVec
	entitiesCreatedTotal       *prometheus.CounterVec
	archiveWritesTotal         *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	pendingEntries             prometheus.Gauge
	catalogUpsertsTotal        prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to call repeatedly.
func Init() {
	once.Do(func() {
		entriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_entries_total",
				Help: "Entries processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		skipsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_skips_total",
				Help: "Entries recorded as visited but empty, labeled by page state.",
			},
			[]string{"state"},
		)

		failuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_failures_total",
				Help: "Entry-level failures, labeled by the step that failed.",
			},
			[]string{"step"},
		)

		entryDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_entry_duration_seconds",
				Help:    "Time spent on one entry excluding the courtesy delay, labeled by outcome.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"outcome"},
		)

		entitiesCreatedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_entities_created_total",
				Help: "Normalized entities created, labeled by kind.",
			},
			[]string{"kind"},
		)

		archiveWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_archive_writes_total",
				Help: "Archived page writes, labeled by result.",
			},
			[]string{"result"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_notifications_total",
				Help: "Snapshot notifications published, labeled by result.",
			},
			[]string{"result"},
		)

		pendingEntries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_pending_entries",
				Help: "Entries of the current run not yet processed.",
			},
		)

		catalogUpsertsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_catalog_upserts_total",
				Help: "Catalog rows inserted or renamed by catalog sync.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEntry records one processed entry.
func ObserveEntry(outcome string, duration time.Duration) {
	Init()
	entriesTotal.WithLabelValues(outcome).Inc()
	entryDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
	pendingEntries.Dec()
}

// ObserveSkip records a non-extractable page state.
func ObserveSkip(state string) {
	Init()
	skipsTotal.WithLabelValues(state).Inc()
}

// ObserveFailure records an entry-level failure.
func ObserveFailure(step string) {
	Init()
	failuresTotal.WithLabelValues(step).Inc()
}

// ObserveEntitiesCreated adds newly created entities of kind.
func ObserveEntitiesCreated(kind string, n int) {
	Init()
	if n > 0 {
		entitiesCreatedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveArchiveWrite records an archive write result ("ok" or "error").
func ObserveArchiveWrite(result string) {
	Init()
	archiveWritesTotal.WithLabelValues(result).Inc()
}

// ObserveNotification records a notification result ("ok" or "error").
func ObserveNotification(result string) {
	Init()
	notificationsTotal.WithLabelValues(result).Inc()
}

// SetPending sets the number of entries left in the current run.
func SetPending(n int) {
	Init()
	pendingEntries.Set(float64(n))
}

// ObserveCatalogUpserts adds catalog rows written by a sync.
func ObserveCatalogUpserts(n int64) {
	Init()
	if n > 0 {
		catalogUpsertsTotal.Add(float64(n))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
