package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "https://store.steampowered.com", cfg.Store.BaseURL)
	require.Equal(t, 1985, cfg.Store.BirthYear)
	require.Equal(t, DriverChromedp, cfg.Browser.Driver)
	require.True(t, cfg.Browser.Headless)
	require.Equal(t, 2*time.Second, cfg.CrawlDelay())
	require.Equal(t, 30*time.Second, cfg.NavTimeout())
	require.Equal(t, 500*time.Millisecond, cfg.Settle())
	require.Equal(t, time.Minute, cfg.CatalogTimeout())
	require.Equal(t, ArchiveNone, cfg.Archive.Backend)
	require.True(t, cfg.Logging.Development)
	require.Equal(t, int32(4), cfg.DB.MaxConns)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "harvester.yaml")
	configYAML := `
logging:
  development: false
  level: warn
store:
  base_url: https://store.example.com
  birth_year: 1970
browser:
  driver: rod
  headless: false
  nav_timeout_seconds: 45
  settle_ms: 0
crawl:
  delay_seconds: 0.5
  limit: 25
db:
  dsn: postgres://localhost/steam
  max_conns: 2
archive:
  backend: local
  base_dir: /tmp/pages
pubsub:
  project_id: proj
  topic: snapshots
metrics:
  addr: ":9100"
telemetry:
  otlp_grpc_endpoint: "http://collector:4317"
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, "https://store.example.com", cfg.Store.BaseURL)
	require.Equal(t, 1970, cfg.Store.BirthYear)
	require.Equal(t, DriverRod, cfg.Browser.Driver)
	require.False(t, cfg.Browser.Headless)
	require.Equal(t, 500*time.Millisecond, cfg.CrawlDelay())
	require.Equal(t, 25, cfg.Crawl.Limit)
	require.Equal(t, "postgres://localhost/steam", cfg.DB.DSN)
	require.Equal(t, ArchiveLocal, cfg.Archive.Backend)
	require.Equal(t, "snapshots", cfg.PubSub.Topic)
	require.Equal(t, ":9100", cfg.Metrics.Addr)
	require.True(t, cfg.Telemetry.Enabled())
	require.Equal(t, "http://collector:4317", cfg.Telemetry.GRPCEndpoint)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HARVESTER_DB_DSN", "postgres://env/steam")
	t.Setenv("HARVESTER_CRAWL_LIMIT", "7")
	t.Setenv("HARVESTER_BROWSER_DRIVER", "rod")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "postgres://env/steam", cfg.DB.DSN)
	require.Equal(t, 7, cfg.Crawl.Limit)
	require.Equal(t, DriverRod, cfg.Browser.Driver)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Store:   StoreConfig{BaseURL: "https://store.example.com", BirthYear: 1985},
			Browser: BrowserConfig{Driver: DriverChromedp, NavTimeoutSeconds: 30},
			Catalog: CatalogConfig{TimeoutSeconds: 60},
		}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(*Config){
		"driver":          func(c *Config) { c.Browser.Driver = "selenium" },
		"birth year":      func(c *Config) { c.Store.BirthYear = 3000 },
		"nav timeout":     func(c *Config) { c.Browser.NavTimeoutSeconds = 0 },
		"negative delay":  func(c *Config) { c.Crawl.DelaySeconds = -1 },
		"local archive":   func(c *Config) { c.Archive.Backend = ArchiveLocal },
		"gcs archive":     func(c *Config) { c.Archive.Backend = ArchiveGCS },
		"unknown backend": func(c *Config) { c.Archive.Backend = "s3" },
		"pubsub project":  func(c *Config) { c.PubSub.Topic = "snapshots" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
