// Package config loads and validates reposync configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Storage backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config captures all knobs loaded via Viper.
type Config struct {
	GitHub  GitHubConfig  `mapstructure:"github"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Storage StorageConfig `mapstructure:"storage"`
	Report  ReportConfig  `mapstructure:"report"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Status  StatusConfig  `mapstructure:"status"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// GitHubConfig controls the API client and the wiki probe.
type GitHubConfig struct {
	APIURL              string  `mapstructure:"api_url"`
	SiteURL             string  `mapstructure:"site_url"`
	Token               string  `mapstructure:"token"`
	ElevatedToken       string  `mapstructure:"elevated_token"`
	APIVersion          string  `mapstructure:"api_version"`
	UserAgent           string  `mapstructure:"user_agent"`
	TimeoutSeconds      int     `mapstructure:"timeout_seconds"`
	MaxAttempts         int     `mapstructure:"max_attempts"`
	ContentsMaxAttempts int     `mapstructure:"contents_max_attempts"`
	BackoffUnitMs       int     `mapstructure:"backoff_unit_ms"`
	BackoffMaxMs        int     `mapstructure:"backoff_max_ms"`
	RequestsPerSecond   float64 `mapstructure:"requests_per_second"`
	QuotaGovernor       bool    `mapstructure:"quota_governor"`
	MaxPages            int     `mapstructure:"max_pages"`
	MaxBodyBytes        int64   `mapstructure:"max_body_bytes"`
	WikiMaxAttempts     int     `mapstructure:"wiki_max_attempts"`
}

// SyncConfig governs the worker pool and the assembler.
type SyncConfig struct {
	Concurrency  int    `mapstructure:"concurrency"`
	QueueDepth   int    `mapstructure:"queue_depth"`
	MaxTreeDepth int    `mapstructure:"max_tree_depth"`
	UserID       string `mapstructure:"user_id"`
}

// StorageConfig selects where snapshots are read from and written to.
type StorageConfig struct {
	Backend          string `mapstructure:"backend"`
	BaseDir          string `mapstructure:"base_dir"`
	GCSBucket        string `mapstructure:"gcs_bucket"`
	Prefix           string `mapstructure:"prefix"`
	CatalogPath      string `mapstructure:"catalog_path"`
	ContributorsPath string `mapstructure:"contributors_path"`
}

// ReportConfig names the report artifacts. Empty paths are skipped.
type ReportConfig struct {
	ExceptionsPath string `mapstructure:"exceptions_path"`
	CommentPath    string `mapstructure:"comment_path"`
}

// DBConfig controls the optional Postgres mirror. An empty DSN disables it.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds the run summary topic. An empty topic disables it.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the Pushgateway push at the end of a run.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// StatusConfig controls the optional status server. An empty Addr disables it.
type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

// TracingConfig toggles span logging.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REPOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindAliases(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
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

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// bindAliases maps the environment names the issue workflow exports.
func bindAliases(v *viper.Viper) error {
	aliases := map[string][]string{
		"github.token":          {"REPOSYNC_GITHUB_TOKEN", "GH_TOKEN"},
		"github.elevated_token": {"REPOSYNC_GITHUB_ELEVATED_TOKEN", "PAT_TOKEN"},
		"sync.user_id":          {"REPOSYNC_SYNC_USER_ID", "ISSUE_AUTHOR_USER_ID"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("github.api_url", "https://api.github.com")
	v.SetDefault("github.site_url", "https://github.com")
	v.SetDefault("github.api_version", "2022-11-28")
	v.SetDefault("github.user_agent", "reposync/0.1")
	v.SetDefault("github.timeout_seconds", 30)
	v.SetDefault("github.max_attempts", 8)
	v.SetDefault("github.contents_max_attempts", 8)
	v.SetDefault("github.backoff_unit_ms", 1000)
	v.SetDefault("github.backoff_max_ms", 0)
	v.SetDefault("github.requests_per_second", 0)
	v.SetDefault("github.quota_governor", true)
	v.SetDefault("github.max_pages", 10)
	v.SetDefault("github.max_body_bytes", 16<<20)
	v.SetDefault("github.wiki_max_attempts", 3)
	v.SetDefault("sync.concurrency", 10)
	v.SetDefault("sync.queue_depth", 64)
	v.SetDefault("sync.max_tree_depth", 8)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.base_dir", ".")
	v.SetDefault("storage.catalog_path", "database/plugins.json")
	v.SetDefault("storage.contributors_path", "database/contributors.json")
	v.SetDefault("report.exceptions_path", "exceptions.md")
	v.SetDefault("report.comment_path", "comment.md")
	v.SetDefault("db.table", "plugins")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("metrics.job", "reposync")
	v.SetDefault("tracing.service_name", "reposync")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("sync.concurrency must be > 0")
	}
	if c.Sync.QueueDepth < 0 {
		return fmt.Errorf("sync.queue_depth must be >= 0")
	}
	if c.Sync.MaxTreeDepth <= 0 {
		return fmt.Errorf("sync.max_tree_depth must be > 0")
	}
	if c.GitHub.MaxAttempts <= 0 {
		return fmt.Errorf("github.max_attempts must be > 0")
	}
	if c.GitHub.TimeoutSeconds <= 0 {
		return fmt.Errorf("github.timeout_seconds must be > 0")
	}
	if c.GitHub.RequestsPerSecond < 0 {
		return fmt.Errorf("github.requests_per_second must be >= 0")
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q is not one of local, gcs, memory", c.Storage.Backend)
	}
	if c.Storage.CatalogPath == "" {
		return fmt.Errorf("storage.catalog_path must be set")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Logging.Level != "" {
		if _, err := zap.ParseAtomicLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}
	return nil
}

// ValidateSubmit checks the extra preconditions of submission mode.
func (c Config) ValidateSubmit() error {
	if strings.TrimSpace(c.Sync.UserID) == "" {
		return fmt.Errorf("sync.user_id must be set to process a submission")
	}
	if c.Storage.ContributorsPath == "" {
		return fmt.Errorf("storage.contributors_path must be set to process a submission")
	}
	return nil
}

// Timeout converts the per-request timeout to a duration.
func (c GitHubConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BackoffUnit converts the backoff unit to a duration.
func (c GitHubConfig) BackoffUnit() time.Duration {
	return time.Duration(c.BackoffUnitMs) * time.Millisecond
}

// BackoffMax converts the backoff cap to a duration. Zero means uncapped.
func (c GitHubConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}
