package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/haidra-org/horde-model-reference/internal/analytics"
	"github.com/haidra-org/horde-model-reference/internal/backends"
	"github.com/haidra-org/horde-model-reference/internal/paths"
	"github.com/haidra-org/horde-model-reference/internal/snapshot"
)

// EnvPrefix prefixes every environment variable, e.g.
// HORDE_MODEL_REFERENCE_REDIS_URL for redis.url.
const EnvPrefix = "HORDE_MODEL_REFERENCE"

// Config holds all configuration of a deployment.
type Config struct {
	ReplicateMode      string               `mapstructure:"replicate_mode"`
	CanonicalFormat    string               `mapstructure:"canonical_format"`
	BasePath           string               `mapstructure:"base_path"`
	CacheTTLSeconds    int                  `mapstructure:"cache_ttl_seconds"`
	LegacyDownload     LegacyDownloadConfig `mapstructure:"legacy_download"`
	GitHub             GitHubConfig         `mapstructure:"github"`
	GitHubSeedEnabled  bool                 `mapstructure:"github_seed_enabled"`
	PrimaryAPI         PrimaryAPIConfig     `mapstructure:"primary_api"`
	Redis              RedisConfig          `mapstructure:"redis"`
	Analytics          AnalyticsConfig      `mapstructure:"analytics"`
	PreferredFileHosts []string             `mapstructure:"preferred_file_hosts"`
	Watch              WatchConfig          `mapstructure:"watch"`
	Server             ServerConfig         `mapstructure:"server"`
	Auth               AuthConfig           `mapstructure:"auth"`
	Logging            LoggingConfig        `mapstructure:"logging"`
	Snapshot           SnapshotConfig       `mapstructure:"snapshot"`
	Sync               SyncConfig           `mapstructure:"sync"`
}

// LegacyDownloadConfig bounds GitHub download retries.
type LegacyDownloadConfig struct {
	RetryMaxAttempts    int     `mapstructure:"retry_max_attempts"`
	RetryBackoffSeconds float64 `mapstructure:"retry_backoff_seconds"`
}

// GitHubConfig locates the legacy reference repositories.
type GitHubConfig struct {
	Owner        string `mapstructure:"owner"`
	Branch       string `mapstructure:"branch"`
	ImageRepo    string `mapstructure:"image_repo"`
	TextRepo     string `mapstructure:"text_repo"`
	ProxyURLBase string `mapstructure:"proxy_url_base"`
}

// PrimaryAPIConfig points a REPLICA at a PRIMARY service.
type PrimaryAPIConfig struct {
	URL                  string `mapstructure:"url"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds"`
	EnableGitHubFallback bool   `mapstructure:"enable_github_fallback"`
}

// RedisConfig configures the distributed cache of a PRIMARY.
type RedisConfig struct {
	UseRedis            bool    `mapstructure:"use_redis"`
	URL                 string  `mapstructure:"url"`
	PoolSize            int     `mapstructure:"pool_size"`
	RetryMaxAttempts    int     `mapstructure:"retry_max_attempts"`
	RetryBackoffSeconds float64 `mapstructure:"retry_backoff_seconds"`
	KeyPrefix           string  `mapstructure:"key_prefix"`
	TTLSeconds          int     `mapstructure:"ttl_seconds"` // 0 uses cache_ttl_seconds
	UsePubSub           bool    `mapstructure:"use_pubsub"`
}

// AnalyticsConfig configures the statistics and audit caches.
type AnalyticsConfig struct {
	TTLSeconds             int    `mapstructure:"ttl_seconds"`
	StaleTTLSeconds        int    `mapstructure:"stale_ttl_seconds"`
	ServeStale             bool   `mapstructure:"serve_stale"`
	HydrateEnabled         bool   `mapstructure:"hydrate_enabled"`
	HydrateIntervalSeconds int    `mapstructure:"hydrate_interval_seconds"`
	StartupDelaySeconds    int    `mapstructure:"startup_delay_seconds"`
	HordeAPIURL            string `mapstructure:"horde_api_url"`
	HordeTimeoutSeconds    int    `mapstructure:"horde_timeout_seconds"`
	TextCriticalUsage      int64  `mapstructure:"text_critical_usage"`
}

// WatchConfig enables the file watcher of a PRIMARY.
type WatchConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                   int     `mapstructure:"port"`
	Host                   string  `mapstructure:"host"`
	RateLimit              float64 `mapstructure:"rate_limit"` // requests per second per client, 0 disables
	RateBurst              int     `mapstructure:"rate_burst"`
	ShutdownTimeoutSeconds int     `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Type      string `mapstructure:"type"`       // none | basic
	UsersFile string `mapstructure:"users_file"` // for basic auth
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // json | text | console
}

// SyncConfig drives the comparison of a PRIMARY against the GitHub legacy
// repositories.
type SyncConfig struct {
	PrimaryURL               string `mapstructure:"primary_url"`
	TimeoutSeconds           int    `mapstructure:"timeout_seconds"`
	WatchIntervalSeconds     int    `mapstructure:"watch_interval_seconds"`
	WatchInitialDelaySeconds int    `mapstructure:"watch_initial_delay_seconds"`
	WatchEnableStartupSync   bool   `mapstructure:"watch_enable_startup_sync"`
	MinChangesThreshold      int    `mapstructure:"min_changes_threshold"`
	OutputDir                string `mapstructure:"output_dir"` // empty only reports
}

// SnapshotConfig is the default snapshot target.
type SnapshotConfig struct {
	URI   string `mapstructure:"uri"`
	Token string `mapstructure:"token"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("replicate_mode", string(backends.ModeReplica))
	v.SetDefault("canonical_format", string(backends.FormatV2))
	v.SetDefault("base_path", "./horde_model_reference")
	v.SetDefault("cache_ttl_seconds", 60)
	v.SetDefault("legacy_download.retry_max_attempts", 3)
	v.SetDefault("legacy_download.retry_backoff_seconds", 2.0)

	v.SetDefault("github.owner", backends.DefaultGitHubRepos.Owner)
	v.SetDefault("github.branch", backends.DefaultGitHubRepos.Branch)
	v.SetDefault("github.image_repo", backends.DefaultGitHubRepos.ImageRepo)
	v.SetDefault("github.text_repo", backends.DefaultGitHubRepos.TextRepo)
	v.SetDefault("github.proxy_url_base", "")
	v.SetDefault("github_seed_enabled", false)

	v.SetDefault("primary_api.url", "")
	v.SetDefault("primary_api.timeout_seconds", 10)
	v.SetDefault("primary_api.enable_github_fallback", true)

	v.SetDefault("redis.use_redis", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.retry_max_attempts", 3)
	v.SetDefault("redis.retry_backoff_seconds", 0.5)
	v.SetDefault("redis.key_prefix", "horde:model_ref")
	v.SetDefault("redis.ttl_seconds", 0)
	v.SetDefault("redis.use_pubsub", true)

	v.SetDefault("analytics.ttl_seconds", 300)
	v.SetDefault("analytics.stale_ttl_seconds", 3600)
	v.SetDefault("analytics.serve_stale", true)
	v.SetDefault("analytics.hydrate_enabled", true)
	v.SetDefault("analytics.hydrate_interval_seconds", 240)
	v.SetDefault("analytics.startup_delay_seconds", 5)
	v.SetDefault("analytics.horde_api_url", analytics.DefaultHordeURL)
	v.SetDefault("analytics.horde_timeout_seconds", 15)
	v.SetDefault("analytics.text_critical_usage", analytics.DefaultTextCriticalUsage)

	v.SetDefault("preferred_file_hosts", analytics.DefaultPreferredHosts)
	v.SetDefault("watch.enabled", false)

	v.SetDefault("server.port", 19800)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.rate_limit", 0.0)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.shutdown_timeout_seconds", 30)

	v.SetDefault("auth.type", "none")
	v.SetDefault("auth.users_file", "./users.yaml")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("snapshot.uri", "")
	v.SetDefault("snapshot.token", "")

	v.SetDefault("sync.primary_url", "")
	v.SetDefault("sync.timeout_seconds", 30)
	v.SetDefault("sync.watch_interval_seconds", 60)
	v.SetDefault("sync.watch_initial_delay_seconds", 0)
	v.SetDefault("sync.watch_enable_startup_sync", false)
	v.SetDefault("sync.min_changes_threshold", 1)
	v.SetDefault("sync.output_dir", "")
}

// NewViper creates a viper instance with defaults and environment binding.
// A non-empty configFile is read as YAML.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}
	return v, nil
}

// Load reads the configuration from defaults, the environment and an
// optional config file.
func Load(configFile string) (*Config, error) {
	v, err := NewViper(configFile)
	if err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// LoadWithViper loads configuration using a pre-configured viper instance
// This allows CLI flags to be bound before loading
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ReplicateMode = strings.ToUpper(strings.TrimSpace(cfg.ReplicateMode))
	cfg.CanonicalFormat = strings.ToLower(strings.TrimSpace(cfg.CanonicalFormat))
	return &cfg, nil
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

var redisURLPattern = regexp.MustCompile(`^(redis|rediss|unix)://`)

func httpURL(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL")
	}
	return nil
}

func snapshotURI(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	_, err := snapshot.ParseURI(s)
	return err
}

// Validate validates the configuration
func (c *Config) Validate() error {
	errs := validation.Errors{
		"replicate_mode":   validation.Validate(c.ReplicateMode, validation.Required, validation.In(string(backends.ModePrimary), string(backends.ModeReplica))),
		"canonical_format": validation.Validate(c.CanonicalFormat, validation.Required, validation.In(string(backends.FormatV2), string(backends.FormatLegacy))),
		"base_path":        validation.Validate(c.BasePath, validation.Required),
		"cache_ttl_seconds": validation.Validate(c.CacheTTLSeconds, validation.Required, validation.Min(1)),

		"legacy_download.retry_max_attempts":    validation.Validate(c.LegacyDownload.RetryMaxAttempts, validation.Required, validation.Min(1), validation.Max(10)),
		"legacy_download.retry_backoff_seconds": validation.Validate(c.LegacyDownload.RetryBackoffSeconds, validation.Min(0.0), validation.Max(60.0)),

		"github.owner":          validation.Validate(c.GitHub.Owner, validation.Required),
		"github.branch":         validation.Validate(c.GitHub.Branch, validation.Required),
		"github.image_repo":     validation.Validate(c.GitHub.ImageRepo, validation.Required),
		"github.text_repo":      validation.Validate(c.GitHub.TextRepo, validation.Required),
		"github.proxy_url_base": validation.Validate(c.GitHub.ProxyURLBase, validation.By(httpURL)),

		"primary_api.url":             validation.Validate(c.PrimaryAPI.URL, validation.By(httpURL)),
		"primary_api.timeout_seconds": validation.Validate(c.PrimaryAPI.TimeoutSeconds, validation.Required, validation.Min(1)),

		"redis.url":                   validation.Validate(c.Redis.URL, validation.When(c.Redis.UseRedis, validation.Required, validation.Match(redisURLPattern))),
		"redis.pool_size":             validation.Validate(c.Redis.PoolSize, validation.When(c.Redis.UseRedis, validation.Required, validation.Min(1))),
		"redis.retry_max_attempts":    validation.Validate(c.Redis.RetryMaxAttempts, validation.Min(0), validation.Max(10)),
		"redis.retry_backoff_seconds": validation.Validate(c.Redis.RetryBackoffSeconds, validation.Min(0.0)),
		"redis.key_prefix":            validation.Validate(c.Redis.KeyPrefix, validation.When(c.Redis.UseRedis, validation.Required)),
		"redis.ttl_seconds":           validation.Validate(c.Redis.TTLSeconds, validation.Min(0)),

		"analytics.ttl_seconds":              validation.Validate(c.Analytics.TTLSeconds, validation.Required, validation.Min(1)),
		"analytics.stale_ttl_seconds":        validation.Validate(c.Analytics.StaleTTLSeconds, validation.Required, validation.Min(c.Analytics.TTLSeconds)),
		"analytics.hydrate_interval_seconds": validation.Validate(c.Analytics.HydrateIntervalSeconds, validation.When(c.Analytics.HydrateEnabled, validation.Required, validation.Min(1))),
		"analytics.horde_api_url":            validation.Validate(c.Analytics.HordeAPIURL, validation.By(httpURL)),
		"analytics.text_critical_usage":      validation.Validate(c.Analytics.TextCriticalUsage, validation.Min(int64(0))),

		"server.port":       validation.Validate(c.Server.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		"server.rate_limit": validation.Validate(c.Server.RateLimit, validation.Min(0.0)),
		"server.rate_burst": validation.Validate(c.Server.RateBurst, validation.When(c.Server.RateLimit > 0, validation.Required, validation.Min(1))),

		"auth.type":       validation.Validate(c.Auth.Type, validation.Required, validation.In("none", "basic")),
		"auth.users_file": validation.Validate(c.Auth.UsersFile, validation.When(c.Auth.Type == "basic", validation.Required)),
		"logging.level":   validation.Validate(c.Logging.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
		"logging.format":  validation.Validate(c.Logging.Format, validation.Required, validation.In("json", "text", "console")),
		"snapshot.uri":    validation.Validate(c.Snapshot.URI, validation.By(snapshotURI)),

		"sync.primary_url":                 validation.Validate(c.Sync.PrimaryURL, validation.By(httpURL)),
		"sync.timeout_seconds":             validation.Validate(c.Sync.TimeoutSeconds, validation.Required, validation.Min(1)),
		"sync.watch_interval_seconds":      validation.Validate(c.Sync.WatchIntervalSeconds, validation.Required, validation.Min(1)),
		"sync.watch_initial_delay_seconds": validation.Validate(c.Sync.WatchInitialDelaySeconds, validation.Min(0)),
		"sync.min_changes_threshold":       validation.Validate(c.Sync.MinChangesThreshold, validation.Required, validation.Min(1)),
	}
	return errs.Filter()
}

// ApplyModeRules drops settings that do not apply to the deployment role,
// warning about each one.
func (c *Config) ApplyModeRules(logger *slog.Logger) {
	if c.Mode() == backends.ModeReplica {
		if c.Redis.UseRedis {
			logger.Warn("Redis is only used by PRIMARY deployments, ignoring redis.use_redis")
			c.Redis.UseRedis = false
		}
		if c.GitHubSeedEnabled {
			logger.Warn("GitHub seeding is only used by PRIMARY deployments, ignoring github_seed_enabled")
			c.GitHubSeedEnabled = false
		}
		if c.Watch.Enabled {
			logger.Warn("File watching is only used by PRIMARY deployments, ignoring watch.enabled")
			c.Watch.Enabled = false
		}
		return
	}
	if c.PrimaryAPI.URL != "" {
		logger.Warn("primary_api.url is only used by REPLICA deployments, ignoring it")
		c.PrimaryAPI.URL = ""
	}
}

// Mode is the deployment role.
func (c *Config) Mode() backends.ReplicateMode { return backends.ReplicateMode(c.ReplicateMode) }

// Layout is the on-disk layout under base_path.
func (c *Config) Layout() paths.Layout { return paths.New(c.BasePath) }

// CacheTTL is cache_ttl_seconds as a duration.
func (c *Config) CacheTTL() time.Duration { return seconds(float64(c.CacheTTLSeconds)) }

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

// BackendOptions maps the configuration onto the backend factory options.
func (c *Config) BackendOptions() backends.Options {
	return backends.Options{
		Mode:            c.Mode(),
		CanonicalFormat: backends.CanonicalFormat(c.CanonicalFormat),
		Layout:          c.Layout(),
		CacheTTL:        c.CacheTTL(),
		Repos: backends.GitHubRepos{
			Owner:        c.GitHub.Owner,
			Branch:       c.GitHub.Branch,
			ImageRepo:    c.GitHub.ImageRepo,
			TextRepo:     c.GitHub.TextRepo,
			ProxyURLBase: c.GitHub.ProxyURLBase,
		},
		RetryMaxAttempts:     c.LegacyDownload.RetryMaxAttempts,
		RetryBackoff:         seconds(c.LegacyDownload.RetryBackoffSeconds),
		SeedEnabled:          c.GitHubSeedEnabled,
		PrimaryURL:           c.PrimaryAPI.URL,
		PrimaryTimeout:       seconds(float64(c.PrimaryAPI.TimeoutSeconds)),
		EnableGitHubFallback: c.PrimaryAPI.EnableGitHubFallback,
		UseRedis:             c.Redis.UseRedis,
		Redis: backends.RedisOptions{
			URL:              c.Redis.URL,
			PoolSize:         c.Redis.PoolSize,
			RetryMaxAttempts: c.Redis.RetryMaxAttempts,
			RetryBackoff:     seconds(c.Redis.RetryBackoffSeconds),
			KeyPrefix:        c.Redis.KeyPrefix,
			TTL:              seconds(float64(c.Redis.TTLSeconds)),
			UsePubSub:        c.Redis.UsePubSub,
		},
	}
}

// AnalyticsCache returns the cache options of the named analytics cache.
func (c *Config) AnalyticsCache(name string) analytics.CacheOptions {
	return analytics.CacheOptions{
		Name:       name,
		TTL:        seconds(float64(c.Analytics.TTLSeconds)),
		StaleTTL:   seconds(float64(c.Analytics.StaleTTLSeconds)),
		ServeStale: c.Analytics.ServeStale,
		KeyPrefix:  c.Redis.KeyPrefix + ":analytics:" + name,
	}
}

// ParsedSnapshotURI returns the parsed snapshot.uri.
func (c *Config) ParsedSnapshotURI() (*snapshot.URI, error) {
	return snapshot.ParseURI(c.Snapshot.URI)
}

// MaskToken returns a masked version of the snapshot token for logging
func (c *Config) MaskToken() string {
	if c.Snapshot.Token == "" {
		return ""
	}
	return "***"
}
