package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/browser"
	membrowser "github.com/JakeFAU/steam-harvester/internal/browser/memory"
	"github.com/JakeFAU/steam-harvester/internal/extract"
	"github.com/JakeFAU/steam-harvester/internal/gate"
	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/hash/sha256"
	"github.com/JakeFAU/steam-harvester/internal/progress"
	mempub "github.com/JakeFAU/steam-harvester/internal/publisher/memory"
	"github.com/JakeFAU/steam-harvester/internal/resolver"
	"github.com/JakeFAU/steam-harvester/internal/storage/local"
	memstore "github.com/JakeFAU/steam-harvester/internal/storage/memory"
)

const baseURL = "https://store.example.com"

const capturablePage = `<html><body>
<div class="apphub_AppName">Alpha</div>
<div class="glance_tags"><a class="app_tag">Action</a><a class="app_tag">Indie</a></div>
<div class="details_block">Title: Alpha<br>Developer: Studio A<br></div>
</body></html>`

const regionLockedPage = `<html><body>
<div id="error_box"><h3>This item is currently unavailable in your region</h3></div>
</body></html>`

const unclassifiedPage = `<html><body>
<div class="apphub_AppName">Broken</div>
<div class="glance_tags"><a class="app_tag">Action</a></div>
<div class="details_block">Genre: Action</div>
</body></html>`

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeHasher struct {
	hash string
}

func (h *fakeHasher) Hash([]byte) (string, error) {
	return h.hash, nil
}

type fakeIDs struct{}

func (fakeIDs) NewID() (string, error) { return "run-1", nil }

type harness struct {
	session   *membrowser.Session
	repo      *memstore.Repository
	blobs     *memstore.BlobStore
	publisher *mempub.Publisher
	cfg       Config
}

func newHarness(t *testing.T, pages map[int64]string, ids ...int64) *harness {
	t.Helper()
	h := &harness{
		session:   membrowser.New(nil),
		repo:      memstore.NewRepository(),
		blobs:     memstore.NewBlobStore(),
		publisher: mempub.New(),
		cfg:       Config{ArchivePrefix: "/archive/", Topic: "snapshots"},
	}
	for id, html := range pages {
		h.session.AddPage(appURL(id), &membrowser.Page{HTML: html})
	}
	entries := make([]harvest.Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, harvest.Entry{ID: id, Name: fmt.Sprintf("app %d", id)})
	}
	_, err := h.repo.UpsertEntries(context.Background(), entries)
	require.NoError(t, err)
	return h
}

func appURL(id int64) string {
	return fmt.Sprintf("%s/app/%d/", baseURL, id)
}

func (h *harness) worker(t *testing.T) *Worker {
	t.Helper()
	resolvers, err := resolver.LoadSet(context.Background(), h.repo)
	require.NoError(t, err)
	return New(
		h.session,
		gate.New(h.session, gate.Config{BaseURL: baseURL}, zap.NewNop()),
		extract.New(zap.NewNop()),
		h.repo,
		resolvers,
		&fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		&fakeHasher{hash: "abc123"},
		h.blobs,
		h.publisher,
		fakeIDs{},
		h.cfg,
		zap.NewNop(),
	)
}

func (h *harness) run(t *testing.T) (*Report, error) {
	t.Helper()
	pending, err := h.repo.PendingEntries(context.Background(), 0)
	require.NoError(t, err)
	return h.worker(t).Run(context.Background(), pending)
}

func TestRunCapturesExtractablePage(t *testing.T) {
	h := newHarness(t, map[int64]string{10: capturablePage}, 10)

	report, err := h.run(t)
	require.NoError(t, err)
	require.Equal(t, "run-1", report.RunID)
	require.Equal(t, 1, report.Captured)
	require.Empty(t, report.Failures)

	snaps := h.repo.Snapshots(10)
	require.Len(t, snaps, 1)
	require.Equal(t, "Alpha", *snaps[0].Name)
	require.Equal(t, "Studio A", *snaps[0].Developer)

	tags := h.repo.Entities(harvest.KindTag)
	require.Len(t, tags, 2)
	require.Contains(t, tags, "Action")
	require.Contains(t, tags, "Indie")
	require.Equal(t, 2, h.repo.EntityInserts(harvest.KindTag))

	links := h.repo.Links(10)
	require.Len(t, links, 2)
	for _, l := range links {
		require.Equal(t, harvest.KindTag, l.Kind)
		require.True(t, snaps[0].CapturedAt.Equal(l.CapturedAt))
	}

	require.Equal(t, []string{"archive/10/abc123.html"}, h.blobs.Paths())
	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "snapshots", msgs[0].Topic)
	note, ok := msgs[0].Payload.(Notification)
	require.True(t, ok)
	require.Equal(t, int64(10), note.EntryID)
	require.Equal(t, harvest.StateExtractable, note.State)
	require.Equal(t, "memory://archive/10/abc123.html", note.ArchiveURI)
	require.Equal(t, map[string]string{"entry_id": "10", "state": "extractable"}, note.Attributes())
}

func TestRunRegionLockedRecordsMinimalSnapshot(t *testing.T) {
	h := newHarness(t, map[int64]string{20: regionLockedPage}, 20)

	report, err := h.run(t)
	require.NoError(t, err)
	require.Zero(t, report.Captured)
	require.Equal(t, 1, report.SkipsByState[harvest.StateRegionLocked])
	require.Equal(t, 1, report.Skipped())

	snaps := h.repo.Snapshots(20)
	require.Len(t, snaps, 1)
	require.Equal(t, harvest.Scalars{}, snaps[0].Scalars)
	require.False(t, snaps[0].CapturedAt.IsZero())
	require.Empty(t, h.repo.Links(20))
	require.Empty(t, h.blobs.Paths(), "skipped pages are not archived")
	require.Len(t, h.publisher.Messages(), 1)
}

func TestRunRollsBackUnmatchedClassification(t *testing.T) {
	h := newHarness(t, map[int64]string{30: unclassifiedPage, 31: capturablePage}, 30, 31)

	report, err := h.run(t)
	require.NoError(t, err)
	require.Equal(t, 2, report.Processed())
	require.Equal(t, 1, report.Captured)
	require.Len(t, report.Failures, 1)
	require.Equal(t, int64(30), report.Failures[0].EntryID)
	require.Equal(t, map[harvest.Step]int{harvest.StepExtraction: 1}, report.FailuresByStep())

	var malformed *extract.MalformedError
	require.ErrorAs(t, report.Failures[0], &malformed)
	require.Equal(t, "classification", malformed.Field)

	require.Empty(t, h.repo.Snapshots(30))
	require.Empty(t, h.repo.Links(30))
	require.Len(t, h.repo.Snapshots(31), 1)

	failures := h.repo.Failures()
	require.Len(t, failures, 1)
	require.Equal(t, "run-1", failures[0].RunID)
	require.Equal(t, harvest.StepExtraction, failures[0].Step)
	require.Contains(t, failures[0].Cause, "classification")
}

func TestRunCommitFailureDiscardsPendingEntities(t *testing.T) {
	h := newHarness(t, map[int64]string{40: capturablePage}, 40)
	h.repo.FailCommits(errors.New("disk full"))

	report, err := h.run(t)
	require.NoError(t, err)
	require.Equal(t, map[harvest.Step]int{harvest.StepPersistence: 1}, report.FailuresByStep())
	require.Empty(t, h.repo.Snapshots(40))
	require.Empty(t, h.repo.Entities(harvest.KindTag))

	h.repo.FailCommits(nil)
	report, err = h.run(t)
	require.NoError(t, err)
	require.Equal(t, 1, report.Captured)
	require.Len(t, h.repo.Entities(harvest.KindTag), 2)
}

func TestRunRolledBackEntitiesAreResolvedAgain(t *testing.T) {
	// 41 is not a known entry, so its commit fails after its tags were resolved.
	h := newHarness(t, map[int64]string{40: capturablePage, 41: capturablePage}, 40)

	report, err := h.worker(t).Run(context.Background(), []harvest.Entry{{ID: 41}, {ID: 40}})
	require.NoError(t, err)
	require.Equal(t, 1, report.Captured)
	require.Equal(t, map[harvest.Step]int{harvest.StepPersistence: 1}, report.FailuresByStep())

	tags := h.repo.Entities(harvest.KindTag)
	require.Len(t, tags, 2)
	require.Equal(t, 4, h.repo.EntityInserts(harvest.KindTag))
	links := h.repo.Links(40)
	require.Len(t, links, 2)
	for _, l := range links {
		require.Contains(t, []int64{tags["Action"], tags["Indie"]}, l.EntityID)
	}
}

func TestRunIsResumable(t *testing.T) {
	h := newHarness(t, map[int64]string{50: capturablePage}, 50, 51)

	report, err := h.run(t)
	require.NoError(t, err)
	require.Equal(t, 1, report.Captured)
	require.Equal(t, map[harvest.Step]int{harvest.StepNavigation: 1}, report.FailuresByStep())
	require.Equal(t, []string{appURL(50), appURL(51)}, h.session.Visits())

	h.session.AddPage(appURL(51), &membrowser.Page{HTML: regionLockedPage})
	report, err = h.run(t)
	require.NoError(t, err)
	require.Equal(t, 1, report.Processed())
	require.Equal(t, []string{appURL(50), appURL(51), appURL(51)}, h.session.Visits())
	require.Len(t, h.repo.Snapshots(50), 1)
	require.Len(t, h.repo.Snapshots(51), 1)

	report, err = h.run(t)
	require.NoError(t, err)
	require.Zero(t, report.Processed())
	require.Len(t, h.session.Visits(), 3)
}

func TestRunStopsOnClosedSession(t *testing.T) {
	h := newHarness(t, map[int64]string{60: capturablePage, 61: capturablePage}, 60, 61)
	require.NoError(t, h.session.Close())

	report, err := h.run(t)
	require.Error(t, err)
	require.True(t, browser.IsFatal(err))
	require.Len(t, report.Failures, 1)
	require.Equal(t, int64(60), report.Failures[0].EntryID)
	require.Len(t, h.repo.Failures(), 1)
	require.Empty(t, h.repo.Snapshots(61))
}

func TestRunStopsWhenCancelled(t *testing.T) {
	h := newHarness(t, map[int64]string{70: capturablePage}, 70)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.worker(t).Run(ctx, []harvest.Entry{{ID: 70}})
	require.NoError(t, err)
	require.True(t, report.Interrupted)
	require.Zero(t, report.Processed())
	require.Empty(t, h.session.Visits())
}

func TestRunWaitsBeforeEachEntry(t *testing.T) {
	h := newHarness(t, map[int64]string{80: regionLockedPage, 81: regionLockedPage}, 80, 81)
	h.cfg.Delay = 15 * time.Millisecond

	start := time.Now()
	report, err := h.run(t)
	require.NoError(t, err)
	require.Equal(t, 2, report.Skipped())
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRunNotificationFailureKeepsSnapshot(t *testing.T) {
	h := newHarness(t, map[int64]string{90: capturablePage}, 90)
	h.publisher.Fail(errors.New("topic gone"))

	report, err := h.run(t)
	require.NoError(t, err)
	require.Equal(t, 1, report.Captured)
	require.Empty(t, report.Failures)
	require.Len(t, h.repo.Snapshots(90), 1)
}

func TestRunRecordsEntrySpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	h := newHarness(t, map[int64]string{100: capturablePage, 101: unclassifiedPage}, 100, 101)
	_, err := h.run(t)
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "worker.entry", spans[0].Name())
	require.Contains(t, spans[0].Attributes(), attribute.String("state", "extractable"))
	require.Equal(t, codes.Error, spans[1].Status().Code)
}

type recordingEmitter struct {
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) stages() []progress.Stage {
	out := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Stage)
	}
	return out
}

func TestRunEmitsProgress(t *testing.T) {
	h := newHarness(t, map[int64]string{90: capturablePage, 91: regionLockedPage}, 90, 91, 92)
	rec := &recordingEmitter{}
	pending, err := h.repo.PendingEntries(context.Background(), 0)
	require.NoError(t, err)

	_, err = h.worker(t).WithProgress(rec).Run(context.Background(), pending)
	require.NoError(t, err)
	require.Equal(t, []progress.Stage{
		progress.StageRunStart,
		progress.StageEntryDone,
		progress.StageEntryDone,
		progress.StageEntryDone,
		progress.StageRunDone,
	}, rec.stages())

	for _, evt := range rec.events {
		require.NoError(t, evt.Validate())
		require.Equal(t, "run-1", evt.RunID)
	}
	require.Equal(t, 3, rec.events[0].Total)
	require.Equal(t, progress.OutcomeCaptured, rec.events[1].Outcome)
	require.Equal(t, harvest.StateExtractable, rec.events[1].State)
	require.Equal(t, progress.OutcomeSkipped, rec.events[2].Outcome)
	require.Equal(t, harvest.StateRegionLocked, rec.events[2].State)
	require.Equal(t, progress.OutcomeFailed, rec.events[3].Outcome)
	require.Equal(t, harvest.StepNavigation, rec.events[3].Step)
	require.Equal(t, int64(92), rec.events[3].EntryID)
	require.Equal(t, progress.RunCompleted, rec.events[4].Outcome)
}

func TestRunEmitsAbortOnClosedSession(t *testing.T) {
	h := newHarness(t, map[int64]string{95: capturablePage}, 95)
	require.NoError(t, h.session.Close())
	rec := &recordingEmitter{}

	_, err := h.worker(t).WithProgress(rec).Run(context.Background(), []harvest.Entry{{ID: 95}})
	require.Error(t, err)
	last := rec.events[len(rec.events)-1]
	require.Equal(t, progress.StageRunDone, last.Stage)
	require.Equal(t, progress.RunAborted, last.Outcome)
	require.NotEmpty(t, last.Note)
}

func TestArchivedPagesReplay(t *testing.T) {
	h := newHarness(t, map[int64]string{10: capturablePage, 11: regionLockedPage}, 10, 11)
	archiveDir := t.TempDir()
	blobs, err := local.New(local.Config{BaseDir: archiveDir})
	require.NoError(t, err)

	pending, err := h.repo.PendingEntries(context.Background(), 0)
	require.NoError(t, err)
	live := New(
		h.session,
		gate.New(h.session, gate.Config{BaseURL: baseURL}, zap.NewNop()),
		extract.New(zap.NewNop()),
		h.repo,
		nil,
		&fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		sha256.New(),
		blobs,
		nil,
		fakeIDs{},
		Config{ArchivePrefix: "pages"},
		zap.NewNop(),
	)
	report, err := live.Run(context.Background(), pending)
	require.NoError(t, err)
	require.Equal(t, 1, report.Captured)

	session, ids, err := membrowser.FromDir(archiveDir, appURL)
	require.NoError(t, err)
	require.Equal(t, []int64{10}, ids)

	replayRepo := memstore.NewRepository()
	_, err = replayRepo.UpsertEntries(context.Background(), []harvest.Entry{{ID: 10}})
	require.NoError(t, err)
	replay := New(
		session,
		gate.New(session, gate.Config{BaseURL: baseURL}, zap.NewNop()),
		extract.New(zap.NewNop()),
		replayRepo,
		nil,
		&fakeClock{now: time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)},
		sha256.New(),
		nil,
		nil,
		fakeIDs{},
		Config{},
		zap.NewNop(),
	)
	report, err = replay.Run(context.Background(), []harvest.Entry{{ID: 10}})
	require.NoError(t, err)
	require.Equal(t, 1, report.Captured)
	require.Len(t, replayRepo.Links(10), 2)
}

func TestBuildBlobPath(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "", want: "7/ff.html"},
		{prefix: "pages", want: "pages/7/ff.html"},
		{prefix: "/pages/raw/", want: "pages/raw/7/ff.html"},
	}
	for _, tt := range tests {
		w := &Worker{cfg: Config{ArchivePrefix: tt.prefix}}
		require.Equal(t, tt.want, w.buildBlobPath(7, "ff"))
	}
}
