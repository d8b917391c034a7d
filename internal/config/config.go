// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/steam-harvester/internal/logging"
	"github.com/JakeFAU/steam-harvester/internal/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. HARVESTER_DB_DSN.
const EnvPrefix = "HARVESTER"

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Logging   logging.Config   `mapstructure:"logging"`
	Store     StoreConfig      `mapstructure:"store"`
	Browser   BrowserConfig    `mapstructure:"browser"`
	Crawl     CrawlConfig      `mapstructure:"crawl"`
	DB        DBConfig         `mapstructure:"db"`
	Catalog   CatalogConfig    `mapstructure:"catalog"`
	Archive   ArchiveConfig    `mapstructure:"archive"`
	PubSub    PubSubConfig     `mapstructure:"pubsub"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// StoreConfig locates the storefront.
type StoreConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	BirthYear int    `mapstructure:"birth_year"`
}

// BrowserConfig selects and tunes the browser driver.
type BrowserConfig struct {
	Driver            string `mapstructure:"driver"`
	Headless          bool   `mapstructure:"headless"`
	UserAgent         string `mapstructure:"user_agent"`
	AcceptLanguage    string `mapstructure:"accept_language"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	SettleMillis      int    `mapstructure:"settle_ms"`
}

// CrawlConfig governs the orchestrator loop.
type CrawlConfig struct {
	DelaySeconds float64 `mapstructure:"delay_seconds"`
	Limit        int     `mapstructure:"limit"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// CatalogConfig configures catalog sync.
type CatalogConfig struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// ArchiveConfig selects where rendered pages are archived.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds snapshot notification settings. An empty topic disables notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig enables the metrics listener when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Browser drivers.
const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
)

// Archive backends.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// Load builds a Config from defaults, an optional file, and the environment. With an empty
// path, harvester.yaml is looked up in the working directory and $HOME/.harvester; a missing
// file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("harvester")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.harvester")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("store.base_url", "https://store.steampowered.com")
	v.SetDefault("store.birth_year", 1985)
	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.accept_language", "en-US,en;q=0.9")
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.settle_ms", 500)
	v.SetDefault("crawl.delay_seconds", 2)
	v.SetDefault("crawl.limit", 0)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("catalog.url", "http://api.steampowered.com/ISteamApps/GetAppList/v0001/")
	v.SetDefault("catalog.timeout_seconds", 60)
	v.SetDefault("catalog.user_agent", "steam-harvester/0.1")
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.base_dir", "data/pages")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("telemetry.otlp_grpc_endpoint", "")
	v.SetDefault("telemetry.otlp_http_endpoint", "")
}

// Validate enforces required values and reasonable limits. The database DSN is checked by the
// commands that need it.
func (c Config) Validate() error {
	if c.Store.BaseURL == "" {
		return fmt.Errorf("store.base_url is required")
	}
	if c.Store.BirthYear < 1900 || c.Store.BirthYear > time.Now().Year() {
		return fmt.Errorf("store.birth_year %d is out of range", c.Store.BirthYear)
	}
	switch c.Browser.Driver {
	case DriverChromedp, DriverRod:
	default:
		return fmt.Errorf("browser.driver must be %q or %q", DriverChromedp, DriverRod)
	}
	if c.Browser.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Crawl.DelaySeconds < 0 {
		return fmt.Errorf("crawl.delay_seconds must be >= 0")
	}
	if c.Crawl.Limit < 0 {
		return fmt.Errorf("crawl.limit must be >= 0")
	}
	if c.Catalog.TimeoutSeconds <= 0 {
		return fmt.Errorf("catalog.timeout_seconds must be > 0")
	}
	switch c.Archive.Backend {
	case ArchiveNone, "":
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local archive")
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("unknown archive.backend %q", c.Archive.Backend)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic is set")
	}
	return nil
}

// CrawlDelay converts the configured delay to a duration.
func (c Config) CrawlDelay() time.Duration {
	return time.Duration(c.Crawl.DelaySeconds * float64(time.Second))
}

// NavTimeout converts the navigation timeout to a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSeconds) * time.Second
}

// Settle converts the post-navigation settle time to a duration.
func (c Config) Settle() time.Duration {
	return time.Duration(c.Browser.SettleMillis) * time.Millisecond
}

// CatalogTimeout converts the catalog request timeout to a duration.
func (c Config) CatalogTimeout() time.Duration {
	return time.Duration(c.Catalog.TimeoutSeconds) * time.Second
}
