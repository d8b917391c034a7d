package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/steam-harvester/internal/progress"
)

// PrometheusSink exports run lifecycle metrics. Per-entry metrics live in internal/metrics.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	runProgress   *prometheus.GaugeVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg (the default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_runs_started_total",
			Help: "Harvest runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_runs_completed_total",
			Help: "Harvest runs finished, labeled by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_runs_running",
			Help: "Harvest runs in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_run_duration_seconds",
			Help:    "Wall time per finished run, labeled by result.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800, 86400},
		}, []string{"result"}),
		runProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "harvester_run_progress_ratio",
			Help: "Fraction of planned entries finished by the active run.",
		}, []string{"run_id"}),
		tracker: newRunTracker(),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.runProgress,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.tracker.start(evt.RunID, evt.Total) {
				s.runsRunning.Inc()
			}
			s.runProgress.WithLabelValues(evt.RunID).Set(0)
		case progress.StageEntryDone:
			done, total := s.tracker.advance(evt.RunID)
			if total > 0 {
				s.runProgress.WithLabelValues(evt.RunID).Set(float64(done) / float64(total))
			}
		case progress.StageRunDone:
			result := string(evt.Outcome)
			s.runsCompleted.WithLabelValues(result).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			if s.tracker.complete(evt.RunID) {
				s.runsRunning.Dec()
			}
			s.runProgress.DeleteLabelValues(evt.RunID)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
