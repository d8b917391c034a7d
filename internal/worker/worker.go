// Package worker implements the crawl loop: one atomic unit of work per entry.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/browser"
	"github.com/JakeFAU/steam-harvester/internal/extract"
	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/metrics"
	"github.com/JakeFAU/steam-harvester/internal/progress"
	"github.com/JakeFAU/steam-harvester/internal/resolver"
	"github.com/JakeFAU/steam-harvester/internal/store"
)

const tracerName = "github.com/JakeFAU/steam-harvester/internal/worker"

// Navigator loads an entry page into the shared session and classifies it.
type Navigator interface {
	ClassifyAndLoad(ctx context.Context, entryID int64) (harvest.PageState, error)
}

// Extractor reads a record from the page currently loaded in the session.
type Extractor interface {
	Extract(ctx context.Context, s browser.Session) (*extract.Record, error)
}

// Config controls Worker behavior.
type Config struct {
	// Delay is waited before every navigation.
	Delay         time.Duration
	ArchivePrefix string
	ContentType   string
	// Topic receives a notification per committed snapshot. Empty disables notifications.
	Topic string
}

// Worker processes entries sequentially over one browser session.
type Worker struct {
	session   browser.Session
	navigator Navigator
	extractor Extractor
	repo      store.Repository
	resolvers resolver.Set
	clock     harvest.Clock
	hasher    harvest.Hasher
	blobStore harvest.BlobStore
	publisher harvest.Publisher
	ids       harvest.IDGenerator
	cfg       Config
	progress  progress.Emitter
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New constructs a Worker. blobStore and publisher may be nil to disable archiving and
// notifications.
func New(
	session browser.Session,
	navigator Navigator,
	extractor Extractor,
	repo store.Repository,
	resolvers resolver.Set,
	clock harvest.Clock,
	hasher harvest.Hasher,
	blobStore harvest.BlobStore,
	publisher harvest.Publisher,
	ids harvest.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if resolvers == nil {
		resolvers = resolver.Set{}
	}
	for _, kind := range harvest.EntityKinds {
		if resolvers[kind] == nil {
			resolvers[kind] = resolver.New(kind)
		}
	}
	return &Worker{
		session:   session,
		navigator: navigator,
		extractor: extractor,
		repo:      repo,
		resolvers: resolvers,
		clock:     clock,
		hasher:    hasher,
		blobStore: blobStore,
		publisher: publisher,
		ids:       ids,
		cfg:       cfg,
		progress:  progress.Discard,
		logger:    logger.Named("worker"),
		tracer:    otel.Tracer(tracerName),
	}
}

// WithProgress routes run lifecycle events to e.
func (w *Worker) WithProgress(e progress.Emitter) *Worker {
	if e != nil {
		w.progress = e
	}
	return w
}

// capture is the outcome of one committed unit of work.
type capture struct {
	state      harvest.PageState
	capturedAt time.Time
	html       string
}

// Run processes entries in order. Entry-level failures are rolled back, recorded and
// skipped. A session-fatal failure stops the loop and is returned along with the partial
// report. Cancelling ctx stops the loop before the next entry.
func (w *Worker) Run(ctx context.Context, entries []harvest.Entry) (*Report, error) {
	runID, err := w.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	report := newReport(runID)
	metrics.SetPending(len(entries))
	logger := w.logger.With(zap.String("run_id", runID))
	logger.Info("run started", zap.Int("entries", len(entries)))
	runStart := time.Now()
	w.emit(progress.Event{RunID: runID, Stage: progress.StageRunStart, Total: len(entries)})

	for _, entry := range entries {
		if err := w.wait(ctx); err != nil {
			report.Interrupted = true
			break
		}
		start := time.Now()
		c, err := w.processEntry(ctx, entry.ID)
		if err != nil {
			if ctx.Err() != nil {
				logger.Warn("entry interrupted", zap.Int64("entry_id", entry.ID), zap.Error(err))
				report.Interrupted = true
				break
			}
			var entryErr *harvest.EntryError
			if !errors.As(err, &entryErr) {
				entryErr = &harvest.EntryError{EntryID: entry.ID, Step: harvest.StepPersistence, Err: err}
			}
			w.fail(ctx, runID, entryErr)
			report.addFailure(entryErr)
			metrics.ObserveEntry(metrics.OutcomeFailed, time.Since(start))
			w.emit(progress.Event{
				RunID:   runID,
				Stage:   progress.StageEntryDone,
				EntryID: entry.ID,
				Outcome: progress.OutcomeFailed,
				Step:    entryErr.Step,
				Dur:     time.Since(start),
				Note:    entryErr.Err.Error(),
			})
			if browser.IsFatal(err) {
				logger.Error("session lost, stopping run", zap.Int64("entry_id", entry.ID), zap.Error(err))
				w.emit(progress.Event{
					RunID:   runID,
					Stage:   progress.StageRunDone,
					Outcome: progress.RunAborted,
					Dur:     time.Since(runStart),
					Note:    err.Error(),
				})
				return report, fmt.Errorf("entry %d: %w", entry.ID, err)
			}
			continue
		}

		outcome := progress.OutcomeCaptured
		if c.state == harvest.StateExtractable {
			report.Captured++
			metrics.ObserveEntry(metrics.OutcomeCaptured, time.Since(start))
		} else {
			outcome = progress.OutcomeSkipped
			report.addSkip(c.state)
			metrics.ObserveSkip(string(c.state))
			metrics.ObserveEntry(metrics.OutcomeSkipped, time.Since(start))
		}
		w.emit(progress.Event{
			RunID:   runID,
			Stage:   progress.StageEntryDone,
			EntryID: entry.ID,
			Outcome: outcome,
			State:   c.state,
			Dur:     time.Since(start),
		})
		uri := w.archive(ctx, entry.ID, c)
		w.notify(ctx, runID, entry.ID, c, uri)
	}

	result := progress.RunCompleted
	if report.Interrupted {
		result = progress.RunInterrupted
	}
	w.emit(progress.Event{RunID: runID, Stage: progress.StageRunDone, Outcome: result, Dur: time.Since(runStart)})
	logger.Info("run finished",
		zap.Int("processed", report.Processed()),
		zap.Int("captured", report.Captured),
		zap.Int("skipped", report.Skipped()),
		zap.Int("failed", len(report.Failures)),
		zap.Bool("interrupted", report.Interrupted),
	)
	return report, nil
}

func (w *Worker) emit(evt progress.Event) {
	evt.TS = time.Now().UTC()
	w.progress.Emit(evt)
}

func (w *Worker) wait(ctx context.Context) error {
	if w.cfg.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(w.cfg.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *Worker) processEntry(ctx context.Context, entryID int64) (c capture, err error) {
	ctx, span := w.tracer.Start(ctx, "worker.entry", trace.WithAttributes(
		attribute.Int64("entry_id", entryID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("state", string(c.state)))
		}
		span.End()
	}()

	c.capturedAt = w.clock.Now()
	tx, err := w.repo.Begin(ctx)
	if err != nil {
		return c, stepError(entryID, harvest.StepPersistence, fmt.Errorf("begin: %w", err))
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			w.logger.Warn("rollback failed", zap.Int64("entry_id", entryID), zap.Error(rbErr))
		}
		w.resolvers.Discard()
	}()

	c.state, err = w.navigator.ClassifyAndLoad(ctx, entryID)
	if err != nil {
		return c, stepError(entryID, harvest.StepNavigation, err)
	}

	snap := harvest.Snapshot{EntryID: entryID, CapturedAt: c.capturedAt}
	if c.state == harvest.StateExtractable {
		rec, err := w.extractor.Extract(ctx, w.session)
		if err != nil {
			return c, stepError(entryID, harvest.StepExtraction, err)
		}
		if err := w.link(ctx, tx, snap, rec); err != nil {
			return c, stepError(entryID, harvest.StepPersistence, err)
		}
		snap.Scalars = rec.Scalars
		if w.blobStore != nil {
			c.html = w.pageHTML(ctx, entryID)
		}
	}

	if err := tx.InsertSnapshot(ctx, snap); err != nil {
		return c, stepError(entryID, harvest.StepPersistence, fmt.Errorf("insert snapshot: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return c, stepError(entryID, harvest.StepPersistence, fmt.Errorf("commit: %w", err))
	}
	committed = true
	for kind, r := range w.resolvers {
		metrics.ObserveEntitiesCreated(string(kind), r.Pending())
	}
	w.resolvers.Commit()

	w.logger.Debug("entry committed",
		zap.Int64("entry_id", entryID),
		zap.String("state", string(c.state)),
		zap.Time("captured_at", c.capturedAt),
	)
	return c, nil
}

// link resolves every multi-valued field of rec and links it to the snapshot.
func (w *Worker) link(ctx context.Context, tx store.Tx, snap harvest.Snapshot, rec *extract.Record) error {
	for _, kind := range harvest.EntityKinds {
		r := w.resolvers[kind]
		for _, desc := range rec.Entities(kind) {
			id, err := r.Resolve(ctx, tx, desc)
			if err != nil {
				return err
			}
			link := harvest.Link{Kind: kind, EntryID: snap.EntryID, CapturedAt: snap.CapturedAt, EntityID: id}
			if err := tx.InsertLink(ctx, link); err != nil {
				return fmt.Errorf("insert %s link: %w", kind, err)
			}
		}
	}
	return nil
}

func (w *Worker) pageHTML(ctx context.Context, entryID int64) string {
	html, err := w.session.HTML(ctx)
	if err != nil {
		w.logger.Warn("read page html failed", zap.Int64("entry_id", entryID), zap.Error(err))
		return ""
	}
	return html
}

func (w *Worker) fail(ctx context.Context, runID string, entryErr *harvest.EntryError) {
	metrics.ObserveFailure(string(entryErr.Step))
	w.logger.Error("entry failed",
		zap.String("run_id", runID),
		zap.Int64("entry_id", entryErr.EntryID),
		zap.String("step", string(entryErr.Step)),
		zap.Error(entryErr.Err),
	)
	failure := harvest.Failure{
		RunID:    runID,
		EntryID:  entryErr.EntryID,
		Step:     entryErr.Step,
		Cause:    entryErr.Err.Error(),
		FailedAt: w.clock.Now(),
	}
	if err := w.repo.RecordFailure(context.WithoutCancel(ctx), failure); err != nil {
		w.logger.Error("record failure failed", zap.Int64("entry_id", entryErr.EntryID), zap.Error(err))
	}
}

func (w *Worker) buildBlobPath(entryID int64, hash string) string {
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%d/%s.html", entryID, hash)
	}
	return fmt.Sprintf("%s/%d/%s.html", prefix, entryID, hash)
}

// archive stores the page of a captured entry. Failures are logged only.
func (w *Worker) archive(ctx context.Context, entryID int64, c capture) string {
	if w.blobStore == nil || c.html == "" {
		return ""
	}
	body := []byte(c.html)
	hash, err := w.hasher.Hash(body)
	if err != nil {
		metrics.ObserveArchiveWrite("error")
		w.logger.Warn("hash page failed", zap.Int64("entry_id", entryID), zap.Error(err))
		return ""
	}
	uri, err := w.blobStore.PutObject(ctx, w.buildBlobPath(entryID, hash), w.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		metrics.ObserveArchiveWrite("error")
		w.logger.Warn("archive page failed", zap.Int64("entry_id", entryID), zap.Error(err))
		return ""
	}
	metrics.ObserveArchiveWrite("ok")
	w.logger.Debug("page archived", zap.Int64("entry_id", entryID), zap.String("uri", uri))
	return uri
}

func (w *Worker) notify(ctx context.Context, runID string, entryID int64, c capture, uri string) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := Notification{
		RunID:      runID,
		EntryID:    entryID,
		CapturedAt: c.capturedAt,
		State:      c.state,
		ArchiveURI: uri,
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		metrics.ObserveNotification("error")
		w.logger.Warn("publish notification failed", zap.Int64("entry_id", entryID), zap.Error(err))
		return
	}
	metrics.ObserveNotification("ok")
}

func stepError(entryID int64, step harvest.Step, err error) *harvest.EntryError {
	return &harvest.EntryError{EntryID: entryID, Step: step, Err: err}
}
