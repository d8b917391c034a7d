package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/app"
	"github.com/JakeFAU/steam-harvester/internal/browser"
	"github.com/JakeFAU/steam-harvester/internal/browser/memory"
	"github.com/JakeFAU/steam-harvester/internal/clock/system"
	"github.com/JakeFAU/steam-harvester/internal/extract"
	"github.com/JakeFAU/steam-harvester/internal/gate"
	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/hash/sha256"
	"github.com/JakeFAU/steam-harvester/internal/id/uuid"
	"github.com/JakeFAU/steam-harvester/internal/resolver"
	memstore "github.com/JakeFAU/steam-harvester/internal/storage/memory"
	"github.com/JakeFAU/steam-harvester/internal/store"
	"github.com/JakeFAU/steam-harvester/internal/telemetry"
	"github.com/JakeFAU/steam-harvester/internal/worker"
)

const serviceName = "steam-harvester"

type crawlOptions struct {
	replay string
	limit  int
}

// plan is everything one harvest pass runs against.
type plan struct {
	session   browser.Session
	repo      store.Repository
	entries   []harvest.Entry
	archive   harvest.BlobStore
	publisher harvest.Publisher
	delay     time.Duration
}

func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Captures every entry that has no snapshot yet",
		Long: `Loads the entries lacking a snapshot, visits each store page in order with a fixed
delay between visits, and commits one snapshot per entry. With --replay, archived
pages named <entry id>.html are re-extracted offline into an in-memory store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.replay, "replay", "", "directory of archived <entry id>.html pages to re-extract without a browser")
	cmd.Flags().IntVar(&opts.limit, "limit", -1, "maximum entries to process (default crawl.limit)")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts *crawlOptions) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exporter, err := telemetry.NewExporter(ctx, a.Config.Telemetry)
	if err != nil {
		return err
	}
	shutdownTracing, err := telemetry.InitTracerProvider(ctx, serviceName, exporter)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("tracing shutdown error", zap.Error(err))
		}
	}()

	if addr := a.Config.Metrics.Addr; addr != "" {
		defer startMetricsServer(addr, logger)()
	}

	var p *plan
	if opts.replay != "" {
		p, err = replayPlan(ctx, a, opts.replay)
	} else {
		limit := a.Config.Crawl.Limit
		if opts.limit >= 0 {
			limit = opts.limit
		}
		p, err = livePlan(ctx, a, limit)
	}
	if err != nil {
		return err
	}
	if len(p.entries) == 0 {
		logger.Info("nothing to harvest")
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to harvest")
		return nil
	}

	resolvers, err := resolver.LoadSet(ctx, p.repo)
	if err != nil {
		return err
	}
	hub, err := a.Progress()
	if err != nil {
		return err
	}
	w := worker.New(
		p.session,
		gate.New(p.session, gate.Config{BaseURL: a.Config.Store.BaseURL, BirthYear: a.Config.Store.BirthYear}, logger),
		extract.New(logger),
		p.repo,
		resolvers,
		system.New(),
		sha256.New(),
		p.archive,
		p.publisher,
		uuid.New(),
		worker.Config{
			Delay:         p.delay,
			ArchivePrefix: a.Config.Archive.Prefix,
			Topic:         a.Config.PubSub.Topic,
		},
		logger,
	).WithProgress(hub)
	report, runErr := w.Run(ctx, p.entries)
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	if runErr != nil {
		return fmt.Errorf("crawl: %w", runErr)
	}
	return nil
}

func livePlan(ctx context.Context, a *app.App, limit int) (*plan, error) {
	repo, err := a.Repository(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := repo.PendingEntries(ctx, limit)
	if err != nil {
		return nil, err
	}
	p := &plan{repo: repo, entries: entries, delay: a.Config.CrawlDelay()}
	if len(entries) == 0 {
		return p, nil
	}
	if p.archive, err = a.Archive(ctx); err != nil {
		return nil, err
	}
	if p.publisher, err = a.Publisher(ctx); err != nil {
		return nil, err
	}
	if p.session, err = a.Session(); err != nil {
		return nil, err
	}
	return p, nil
}

// replayPlan serves archived pages from dir into a throwaway store, without delay,
// archiving or notifications.
func replayPlan(ctx context.Context, a *app.App, dir string) (*plan, error) {
	base := a.Config.Store.BaseURL
	session, ids, err := memory.FromDir(dir, func(id int64) string {
		return gate.PageURL(base, id)
	})
	if err != nil {
		return nil, err
	}
	a.Track("replay session", session)
	entries := make([]harvest.Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, harvest.Entry{ID: id})
	}
	repo := memstore.NewRepository()
	if _, err := repo.UpsertEntries(ctx, entries); err != nil {
		return nil, err
	}
	a.Logger.Info("replaying archived pages", zap.String("dir", dir), zap.Int("pages", len(ids)))
	return &plan{session: session, repo: repo, entries: entries}, nil
}

func printReport(w io.Writer, r *worker.Report) {
	fmt.Fprintf(w, "run %s: processed=%d captured=%d skipped=%d failed=%d\n",
		r.RunID, r.Processed(), r.Captured, r.Skipped(), len(r.Failures))
	states := make([]string, 0, len(r.SkipsByState))
	for state := range r.SkipsByState {
		states = append(states, string(state))
	}
	slices.Sort(states)
	for _, state := range states {
		fmt.Fprintf(w, "  skipped %s: %d\n", state, r.SkipsByState[harvest.PageState(state)])
	}
	byStep := r.FailuresByStep()
	for _, step := range []harvest.Step{harvest.StepNavigation, harvest.StepExtraction, harvest.StepPersistence} {
		if n := byStep[step]; n > 0 {
			fmt.Fprintf(w, "  failed during %s: %d\n", step, n)
		}
	}
	if r.Interrupted {
		fmt.Fprintln(w, "  interrupted before all entries were processed")
	}
}
