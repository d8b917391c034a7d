// Package app builds the long-lived services a command needs from configuration and
// releases them when the command finishes.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/browser"
	"github.com/JakeFAU/steam-harvester/internal/browser/headless"
	"github.com/JakeFAU/steam-harvester/internal/browser/rodbrowser"
	"github.com/JakeFAU/steam-harvester/internal/config"
	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/progress"
	"github.com/JakeFAU/steam-harvester/internal/progress/sinks"
	"github.com/JakeFAU/steam-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/steam-harvester/internal/storage/gcs"
	"github.com/JakeFAU/steam-harvester/internal/storage/local"
	"github.com/JakeFAU/steam-harvester/internal/storage/postgres"
)

// Closer releases one service.
type Closer interface {
	Close() error
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type namedCloser struct {
	name string
	c    Closer
}

// App holds the configuration, the logger, and every service opened through it.
// Services are closed in reverse opening order.
type App struct {
	Config  config.Config
	Logger  *zap.Logger
	closers []namedCloser
}

// New returns an App that has not opened anything yet.
func New(cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{Config: cfg, Logger: logger}
}

// Track registers c to be closed by Close.
func (a *App) Track(name string, c Closer) {
	a.closers = append(a.closers, namedCloser{name: name, c: c})
}

// Repository connects to Postgres.
func (a *App) Repository(ctx context.Context) (*postgres.Repository, error) {
	repo, err := postgres.New(ctx, postgres.Config{
		DSN:      a.Config.DB.DSN,
		MaxConns: a.Config.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	a.Track("postgres", closerFunc(func() error {
		repo.Close()
		return nil
	}))
	a.Logger.Info("connected to postgres")
	return repo, nil
}

// promSink is shared by every hub since its collectors live in the default registry.
var promSink = sync.OnceValues(func() (*sinks.PrometheusSink, error) {
	return sinks.NewPrometheusSink(nil)
})

// Progress starts a hub delivering run events to the log and to Prometheus.
func (a *App) Progress() (*progress.Hub, error) {
	prom, err := promSink()
	if err != nil {
		return nil, err
	}
	hub := progress.NewHub(progress.Config{Logger: a.Logger}, sinks.NewLogSink(a.Logger.Named("progress")), prom)
	a.Track("progress", closerFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return hub.Close(ctx)
	}))
	return hub, nil
}

// Archive opens the configured page archive. It returns nil when archiving is disabled.
func (a *App) Archive(ctx context.Context) (harvest.BlobStore, error) {
	cfg := a.Config.Archive
	switch cfg.Backend {
	case config.ArchiveNone, "":
		return nil, nil
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("open local archive: %w", err)
		}
		a.Logger.Info("archiving pages locally", zap.String("base_dir", cfg.BaseDir))
		return store, nil
	case config.ArchiveGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("open gcs archive: %w", err)
		}
		a.Track("gcs", store)
		a.Logger.Info("archiving pages to gcs", zap.String("bucket", cfg.Bucket))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}

// Publisher opens the notification publisher. It returns nil when no topic is configured.
func (a *App) Publisher(ctx context.Context) (harvest.Publisher, error) {
	cfg := a.Config.PubSub
	if cfg.Topic == "" {
		return nil, nil
	}
	pub, err := pubsub.Open(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("open publisher: %w", err)
	}
	a.Track("pubsub", pub)
	a.Logger.Info("publishing snapshot notifications", zap.String("topic", cfg.Topic))
	return pub, nil
}

// Session launches the configured browser driver.
func (a *App) Session() (browser.Session, error) {
	cfg := a.Config
	var (
		s   browser.Session
		err error
	)
	switch cfg.Browser.Driver {
	case config.DriverChromedp, "":
		s, err = headless.New(headless.Config{
			Headless:          cfg.Browser.Headless,
			UserAgent:         cfg.Browser.UserAgent,
			Headers:           acceptLanguage(cfg.Browser.AcceptLanguage),
			NavigationTimeout: cfg.NavTimeout(),
			Settle:            cfg.Settle(),
		})
	case config.DriverRod:
		s, err = rodbrowser.New(rodbrowser.Config{
			Headless:          cfg.Browser.Headless,
			UserAgent:         cfg.Browser.UserAgent,
			AcceptLanguage:    cfg.Browser.AcceptLanguage,
			NavigationTimeout: cfg.NavTimeout(),
			Settle:            cfg.Settle(),
		})
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Browser.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("start %s browser: %w", cfg.Browser.Driver, err)
	}
	a.Track("browser", s)
	a.Logger.Info("browser session started", zap.String("driver", cfg.Browser.Driver))
	return s, nil
}

func acceptLanguage(value string) http.Header {
	if value == "" {
		return nil
	}
	return http.Header{"Accept-Language": {value}}
}

// Close releases every tracked service and flushes the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		nc := a.closers[i]
		if err := nc.c.Close(); err != nil {
			a.Logger.Warn("close service failed", zap.String("service", nc.name), zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.Logger.Sync()
}
