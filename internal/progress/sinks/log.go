package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/progress"
)

// LogSink writes progress as structured logs, including done/total counts per run.
type LogSink struct {
	logger  *zap.Logger
	tracker *runTracker
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger, tracker: newRunTracker()}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			s.tracker.start(evt.RunID, evt.Total)
			s.logger.Info("harvest run started", append(fields, zap.Int("total", evt.Total))...)
		case progress.StageEntryDone:
			done, total := s.tracker.advance(evt.RunID)
			fields = append(fields,
				zap.Int64("entry_id", evt.EntryID),
				zap.String("outcome", string(evt.Outcome)),
				zap.Int("done", done),
				zap.Int("total", total),
				zap.Duration("dur", evt.Dur),
			)
			if evt.State != "" {
				fields = append(fields, zap.String("state", string(evt.State)))
			}
			if evt.Step != "" {
				fields = append(fields, zap.String("step", string(evt.Step)), zap.String("note", evt.Note))
			}
			s.logger.Info("harvest progress", fields...)
		case progress.StageRunDone:
			s.tracker.complete(evt.RunID)
			fields = append(fields, zap.String("outcome", string(evt.Outcome)), zap.Duration("dur", evt.Dur))
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Info("harvest run finished", fields...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
