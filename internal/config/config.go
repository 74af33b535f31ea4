// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Robots   RobotsConfig   `mapstructure:"robots"`
	Health   HealthConfig   `mapstructure:"health"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Video    VideoConfig    `mapstructure:"video"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// AgentConfig is the identity presented to sites. Token is matched against
// robots.txt groups and meta directives; UserAgent is sent on every request.
type AgentConfig struct {
	Token     string `mapstructure:"token"`
	UserAgent string `mapstructure:"user_agent"`
}

// RobotsConfig controls robots.txt fetching and caching.
type RobotsConfig struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	FetchFailureTTL time.Duration `mapstructure:"fetch_failure_ttl"`
	CacheCapacity   int           `mapstructure:"cache_capacity"`
	MaxBytes        int64         `mapstructure:"max_bytes"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
}

// HealthConfig tunes the per-site circuit breaker.
type HealthConfig struct {
	ErrorThreshold      int           `mapstructure:"error_threshold"`
	Window              time.Duration `mapstructure:"window"`
	SuppressionDuration time.Duration `mapstructure:"suppression_duration"`
	Capacity            int           `mapstructure:"capacity"`
}

// FetchConfig bounds page fetches.
type FetchConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxDocumentSize  int64         `mapstructure:"max_document_size"`
	RateLimitPerHost float64       `mapstructure:"rate_limit_per_host"`
	RateLimitBurst   int           `mapstructure:"rate_limit_burst"`
}

// OEmbedEndpoint maps a host (and its subdomains) to an oEmbed endpoint.
type OEmbedEndpoint struct {
	Host     string `mapstructure:"host"`
	Endpoint string `mapstructure:"endpoint"`
}

// VideoConfig routes video hosting links to API clients. Providers maps a
// provider name to host patterns ("example.com" or "*.example.com").
type VideoConfig struct {
	Providers       map[string][]string `mapstructure:"providers"`
	YouTubeAPIKey   string              `mapstructure:"youtube_api_key"`
	OEmbedEndpoints []OEmbedEndpoint    `mapstructure:"oembed_endpoints"`
}

// Snapshot cache backends.
const (
	CacheBackendMemory   = "memory"
	CacheBackendPostgres = "postgres"
	CacheBackendNone     = "none"
)

// SnapshotConfig controls snapshot caching and batch requests.
type SnapshotConfig struct {
	IgnoredHosts     []string      `mapstructure:"ignored_hosts"`
	CacheBackend     string        `mapstructure:"cache_backend"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	CacheCapacity    int           `mapstructure:"cache_capacity"`
	BatchConcurrency int           `mapstructure:"batch_concurrency"`
}

// DBConfig controls access to the Postgres snapshot cache.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for snapshot notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether notifications should be published.
func (c PubSubConfig) Enabled() bool {
	return c.TopicName != ""
}

// LoggingConfig toggles zap development features. An empty Level keeps the
// mode's default (debug in development, info otherwise).
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRABO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8003)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("agent.token", "fedineko-crabo")
	v.SetDefault("agent.user_agent", "Fedineko (crabo/0.3.1; +https://fedineko.org/about)")
	v.SetDefault("robots.cache_ttl", 24*time.Hour)
	v.SetDefault("robots.fetch_failure_ttl", 10*time.Minute)
	v.SetDefault("robots.cache_capacity", 512)
	v.SetDefault("robots.max_bytes", 512<<10)
	v.SetDefault("robots.fetch_timeout", 10*time.Second)
	v.SetDefault("health.error_threshold", 5)
	v.SetDefault("health.window", 5*time.Minute)
	v.SetDefault("health.suppression_duration", 15*time.Minute)
	v.SetDefault("health.capacity", 4096)
	v.SetDefault("fetch.timeout", 15*time.Second)
	v.SetDefault("fetch.max_document_size", 1<<20)
	v.SetDefault("fetch.rate_limit_per_host", 0)
	v.SetDefault("fetch.rate_limit_burst", 1)
	v.SetDefault("video.providers", map[string][]string{
		"youtube":  {"youtube.com", "*.youtube.com", "youtu.be"},
		"bilibili": {"bilibili.com", "*.bilibili.com", "b23.tv"},
	})
	v.SetDefault("video.youtube_api_key", "")
	v.SetDefault("snapshot.ignored_hosts", []string{"twitter.com", "*.twitter.com", "x.com", "*.x.com"})
	v.SetDefault("snapshot.cache_backend", CacheBackendMemory)
	v.SetDefault("snapshot.cache_ttl", 7*24*time.Hour)
	v.SetDefault("snapshot.cache_capacity", 4096)
	v.SetDefault("snapshot.batch_concurrency", 8)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "snapshots")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if strings.TrimSpace(c.Agent.Token) == "" {
		return fmt.Errorf("agent.token is required")
	}
	if strings.TrimSpace(c.Agent.UserAgent) == "" {
		return fmt.Errorf("agent.user_agent is required")
	}
	if c.Robots.CacheTTL <= 0 || c.Robots.FetchFailureTTL <= 0 {
		return fmt.Errorf("robots.cache_ttl and robots.fetch_failure_ttl must be > 0")
	}
	if c.Robots.CacheCapacity <= 0 {
		return fmt.Errorf("robots.cache_capacity must be > 0")
	}
	if c.Health.ErrorThreshold <= 0 {
		return fmt.Errorf("health.error_threshold must be > 0")
	}
	if c.Health.Window <= 0 || c.Health.SuppressionDuration <= 0 {
		return fmt.Errorf("health.window and health.suppression_duration must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.MaxDocumentSize <= 0 {
		return fmt.Errorf("fetch.max_document_size must be > 0")
	}
	for _, e := range c.Video.OEmbedEndpoints {
		if e.Host == "" || e.Endpoint == "" {
			return fmt.Errorf("video.oembed_endpoints entries need host and endpoint")
		}
	}
	switch c.Snapshot.CacheBackend {
	case CacheBackendMemory:
		if c.Snapshot.CacheCapacity <= 0 {
			return fmt.Errorf("snapshot.cache_capacity must be > 0 for the memory backend")
		}
	case CacheBackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres snapshot cache")
		}
	case CacheBackendNone:
	default:
		return fmt.Errorf("snapshot.cache_backend must be memory, postgres or none, got %q", c.Snapshot.CacheBackend)
	}
	if c.Snapshot.BatchConcurrency <= 0 {
		return fmt.Errorf("snapshot.batch_concurrency must be > 0")
	}
	if c.PubSub.Enabled() && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	return nil
}
