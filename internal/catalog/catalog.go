// Package catalog seeds the entry table from the remote app list.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/metrics"
)

// DefaultURL is the public app list endpoint.
const DefaultURL = "http://api.steampowered.com/ISteamApps/GetAppList/v0001/"

// Store is the part of the repository catalog sync writes to.
type Store interface {
	CountEntries(ctx context.Context) (int64, error)
	UpsertEntries(ctx context.Context, entries []harvest.Entry) (int64, error)
}

// Config controls the app list request.
type Config struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
}

// Result describes one sync.
type Result struct {
	Fetched  int
	Upserted int64
	// Skipped is set when the table already held entries and the sync was not forced.
	Skipped bool
}

// Syncer fetches the app list and upserts it.
type Syncer struct {
	store     Store
	cfg       Config
	collector *colly.Collector
	logger    *zap.Logger
}

type appList struct {
	AppList struct {
		Apps struct {
			App []harvest.Entry `json:"app"`
		} `json:"apps"`
	} `json:"applist"`
}

// New builds a Syncer.
func New(store Store, cfg Config, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.MaxBodySize = 0
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	return &Syncer{store: store, cfg: cfg, collector: c, logger: logger.Named("catalog")}
}

// Sync upserts the app list when the entry table is empty, or always when force is set.
func (s *Syncer) Sync(ctx context.Context, force bool) (Result, error) {
	if !force {
		n, err := s.store.CountEntries(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("count entries: %w", err)
		}
		if n > 0 {
			s.logger.Info("entry table already populated, skipping sync", zap.Int64("entries", n))
			return Result{Skipped: true}, nil
		}
	}

	entries, err := s.Fetch(ctx)
	if err != nil {
		return Result{}, err
	}
	upserted, err := s.store.UpsertEntries(ctx, entries)
	if err != nil {
		return Result{}, fmt.Errorf("upsert entries: %w", err)
	}
	metrics.ObserveCatalogUpserts(upserted)
	s.logger.Info("catalog synced", zap.Int("fetched", len(entries)), zap.Int64("upserted", upserted))
	return Result{Fetched: len(entries), Upserted: upserted}, nil
}

// Fetch downloads and decodes the app list.
func (s *Syncer) Fetch(ctx context.Context) ([]harvest.Entry, error) {
	collector := s.collector.Clone()

	var (
		entries  []harvest.Entry
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		var list appList
		if err := json.Unmarshal(r.Body, &list); err != nil {
			fetchErr = fmt.Errorf("decode app list: %w", err)
			return
		}
		entries = list.AppList.Apps.App
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("app list returned %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	collector.Context = ctx
	if err := collector.Visit(s.cfg.URL); err != nil && fetchErr == nil {
		fetchErr = err
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("fetch app list: %w", ctx.Err())
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch app list: %w", fetchErr)
	}
	if entries == nil {
		return nil, errors.New("fetch app list: response carried no apps")
	}
	return entries, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
