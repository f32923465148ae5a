package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "https://api.github.com", cfg.GitHub.APIURL)
	require.Equal(t, "https://github.com", cfg.GitHub.SiteURL)
	require.Equal(t, 10, cfg.Sync.Concurrency)
	require.Equal(t, 8, cfg.GitHub.MaxAttempts)
	require.True(t, cfg.GitHub.QuotaGovernor)
	require.Equal(t, BackendLocal, cfg.Storage.Backend)
	require.Equal(t, "database/plugins.json", cfg.Storage.CatalogPath)
	require.Equal(t, "exceptions.md", cfg.Report.ExceptionsPath)
	require.Equal(t, time.Second, cfg.GitHub.BackoffUnit())
	require.Zero(t, cfg.GitHub.BackoffMax())
	require.Equal(t, 30*time.Second, cfg.GitHub.Timeout())
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
github:
  token: file-token
  max_attempts: 3
  backoff_unit_ms: 250
  backoff_max_ms: 4000
  requests_per_second: 2.5
  quota_governor: false
sync:
  concurrency: 4
  queue_depth: 16
  max_tree_depth: 5
storage:
  backend: gcs
  gcs_bucket: catalog-bucket
  prefix: prod
db:
  dsn: postgres://localhost/reposync
  table: mirror
pubsub:
  project_id: proj
  topic_name: runs
status:
  addr: ":9090"
logging:
  development: false
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "file-token", cfg.GitHub.Token)
	require.Equal(t, 3, cfg.GitHub.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.GitHub.BackoffUnit())
	require.Equal(t, 4*time.Second, cfg.GitHub.BackoffMax())
	require.InDelta(t, 2.5, cfg.GitHub.RequestsPerSecond, 0.001)
	require.False(t, cfg.GitHub.QuotaGovernor)
	require.Equal(t, 4, cfg.Sync.Concurrency)
	require.Equal(t, 5, cfg.Sync.MaxTreeDepth)
	require.Equal(t, BackendGCS, cfg.Storage.Backend)
	require.Equal(t, "catalog-bucket", cfg.Storage.GCSBucket)
	require.Equal(t, "mirror", cfg.DB.Table)
	require.Equal(t, "runs", cfg.PubSub.TopicName)
	require.Equal(t, ":9090", cfg.Status.Addr)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadEnvAliases(t *testing.T) {
	t.Setenv("GH_TOKEN", "gh-token")
	t.Setenv("PAT_TOKEN", "pat-token")
	t.Setenv("ISSUE_AUTHOR_USER_ID", "12345")
	t.Setenv("REPOSYNC_SYNC_CONCURRENCY", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "gh-token", cfg.GitHub.Token)
	require.Equal(t, "pat-token", cfg.GitHub.ElevatedToken)
	require.Equal(t, "12345", cfg.Sync.UserID)
	require.Equal(t, 3, cfg.Sync.Concurrency)
	require.NoError(t, cfg.ValidateSubmit())
}

func TestLoadPrefixedEnvWinsOverAlias(t *testing.T) {
	t.Setenv("GH_TOKEN", "alias")
	t.Setenv("REPOSYNC_GITHUB_TOKEN", "prefixed")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "prefixed", cfg.GitHub.Token)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env")))

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("REPOSYNC_TEST_DOTENV=from-file\n"), 0o600))
	t.Setenv("REPOSYNC_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("REPOSYNC_TEST_DOTENV"))
	require.NoError(t, LoadDotEnv(path))
	require.Equal(t, "from-file", os.Getenv("REPOSYNC_TEST_DOTENV"))
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		GitHub:  GitHubConfig{MaxAttempts: 1, TimeoutSeconds: 10},
		Sync:    SyncConfig{Concurrency: 1, MaxTreeDepth: 8},
		Storage: StorageConfig{Backend: BackendMemory, CatalogPath: "plugins.json"},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid concurrency", mutate: func(c *Config) { c.Sync.Concurrency = 0 }, want: "sync.concurrency"},
		{name: "negative queue depth", mutate: func(c *Config) { c.Sync.QueueDepth = -1 }, want: "sync.queue_depth"},
		{name: "invalid tree depth", mutate: func(c *Config) { c.Sync.MaxTreeDepth = 0 }, want: "sync.max_tree_depth"},
		{name: "invalid attempts", mutate: func(c *Config) { c.GitHub.MaxAttempts = 0 }, want: "github.max_attempts"},
		{name: "invalid timeout", mutate: func(c *Config) { c.GitHub.TimeoutSeconds = 0 }, want: "github.timeout_seconds"},
		{name: "negative rps", mutate: func(c *Config) { c.GitHub.RequestsPerSecond = -1 }, want: "github.requests_per_second"},
		{name: "local without dir", mutate: func(c *Config) { c.Storage.Backend = BackendLocal }, want: "storage.base_dir"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = BackendGCS }, want: "storage.gcs_bucket"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "missing catalog path", mutate: func(c *Config) { c.Storage.CatalogPath = "" }, want: "storage.catalog_path"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.TopicName = "runs" }, want: "pubsub.project_id"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, want: "logging.level"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateSubmit(t *testing.T) {
	t.Parallel()

	cfg := Config{Storage: StorageConfig{ContributorsPath: "contributors.json"}}
	require.ErrorContains(t, cfg.ValidateSubmit(), "sync.user_id")
	cfg.Sync.UserID = "  "
	require.ErrorContains(t, cfg.ValidateSubmit(), "sync.user_id")
	cfg.Sync.UserID = "7"
	require.NoError(t, cfg.ValidateSubmit())
	cfg.Storage.ContributorsPath = ""
	require.ErrorContains(t, cfg.ValidateSubmit(), "storage.contributors_path")
}
