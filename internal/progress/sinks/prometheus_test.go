package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/steam-harvester/internal/progress"
)

func TestPrometheusSinkRecordsRunLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r1", TS: now, Stage: progress.StageRunStart, Total: 4},
		{RunID: "r1", TS: now, Stage: progress.StageEntryDone, EntryID: 10, Outcome: progress.OutcomeCaptured},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))
	require.InDelta(t, 0.25, testutil.ToFloat64(sink.runProgress.WithLabelValues("r1")), 1e-9)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r1", TS: now, Stage: progress.StageRunDone, Outcome: progress.RunInterrupted, Dur: 90 * time.Second},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("interrupted")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("completed")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "harvester_run_duration_seconds"))
	require.Equal(t, 0, testutil.CollectAndCount(sink.runProgress, "harvester_run_progress_ratio"))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
