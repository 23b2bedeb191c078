// Package config loads and validates ingest service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Redis      RedisConfig      `mapstructure:"redis"`
	DB         DBConfig         `mapstructure:"db"`
	AI         AIConfig         `mapstructure:"ai"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Gatekeeper GatekeeperConfig `mapstructure:"gatekeeper"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Embed      EmbedConfig      `mapstructure:"embed"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Cycles     []CycleConfig    `mapstructure:"cycles"`
}

// ServerConfig controls the health/metrics HTTP listener.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RedisConfig points at the shared fast-access cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DBConfig controls access to the article store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// AIConfig holds Cohere credentials and model selection per analysis tier.
type AIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	ClassifyModel  string `mapstructure:"classify_model"`
	AnalyzeHard    string `mapstructure:"analyze_hard_model"`
	AnalyzeSoft    string `mapstructure:"analyze_soft_model"`
	EmbedModel     string `mapstructure:"embed_model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ProvidersConfig configures the news source adapters.
type ProvidersConfig struct {
	NewsAPI NewsAPIConfig `mapstructure:"newsapi"`
	RSS     RSSConfig     `mapstructure:"rss"`
}

// NewsAPIConfig configures the primary JSON provider.
type NewsAPIConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	Keys           []string `mapstructure:"keys"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	RPS            float64  `mapstructure:"rps"`
	Burst          int      `mapstructure:"burst"`
}

// RSSConfig configures the fallback feed provider.
type RSSConfig struct {
	Feeds          []string `mapstructure:"feeds"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// GatekeeperConfig holds blocklists and verdict cache policy.
type GatekeeperConfig struct {
	BlockedDomains  []string `mapstructure:"blocked_domains"`
	BlockedKeywords []string `mapstructure:"blocked_keywords"`
	VerdictTTLHours int      `mapstructure:"verdict_ttl_hours"`
}

// DedupConfig holds similarity thresholds and candidate windows.
type DedupConfig struct {
	FuzzyThreshold    float64 `mapstructure:"fuzzy_threshold"`
	SemanticThreshold float64 `mapstructure:"semantic_threshold"`
	ClusterThreshold  float64 `mapstructure:"cluster_threshold"`
	LookbackHours     int     `mapstructure:"lookback_hours"`
	ClusterWindowDays int     `mapstructure:"cluster_window_days"`
}

// EmbedConfig controls embedding batch accumulation.
type EmbedConfig struct {
	BatchSize      int `mapstructure:"batch_size"`
	FlushTimeoutMs int `mapstructure:"flush_timeout_ms"`
}

// BreakerConfig controls the shared circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	CooldownSeconds  int `mapstructure:"cooldown_seconds"`
}

// PipelineConfig governs orchestrator and fetch-cycle behavior.
type PipelineConfig struct {
	Concurrency          int `mapstructure:"concurrency"`
	MinContentLength     int `mapstructure:"min_content_length"`
	MinYield             int `mapstructure:"min_yield"`
	CycleIntervalSeconds int `mapstructure:"cycle_interval_seconds"`
}

// CycleConfig describes one regional/topical query set in the rotation.
type CycleConfig struct {
	Name    string   `mapstructure:"name"`
	Locale  string   `mapstructure:"locale"`
	Queries []string `mapstructure:"queries"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("ai.classify_model", "command-r7b-12-2024")
	v.SetDefault("ai.analyze_hard_model", "command-a-03-2025")
	v.SetDefault("ai.analyze_soft_model", "command-r7b-12-2024")
	v.SetDefault("ai.embed_model", "embed-english-v3.0")
	v.SetDefault("ai.timeout_seconds", 20)
	v.SetDefault("providers.newsapi.base_url", "https://newsapi.org/v2")
	v.SetDefault("providers.newsapi.timeout_seconds", 15)
	v.SetDefault("providers.newsapi.rps", 1)
	v.SetDefault("providers.newsapi.burst", 2)
	v.SetDefault("providers.rss.timeout_seconds", 15)
	v.SetDefault("gatekeeper.verdict_ttl_hours", 24)
	v.SetDefault("dedup.fuzzy_threshold", 0.80)
	v.SetDefault("dedup.semantic_threshold", 0.92)
	v.SetDefault("dedup.cluster_threshold", 0.82)
	v.SetDefault("dedup.lookback_hours", 24)
	v.SetDefault("dedup.cluster_window_days", 7)
	v.SetDefault("embed.batch_size", 10)
	v.SetDefault("embed.flush_timeout_ms", 2000)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown_seconds", 300)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.min_content_length", 100)
	v.SetDefault("pipeline.min_yield", 5)
	v.SetDefault("pipeline.cycle_interval_seconds", 900)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.AI.TimeoutSeconds <= 0 {
		return fmt.Errorf("ai.timeout_seconds must be > 0")
	}
	if c.Dedup.FuzzyThreshold <= 0 || c.Dedup.FuzzyThreshold > 1 {
		return fmt.Errorf("dedup.fuzzy_threshold must be in (0, 1]")
	}
	if c.Dedup.SemanticThreshold <= 0 || c.Dedup.SemanticThreshold > 1 {
		return fmt.Errorf("dedup.semantic_threshold must be in (0, 1]")
	}
	if c.Embed.BatchSize <= 0 {
		return fmt.Errorf("embed.batch_size must be > 0")
	}
	return nil
}

// AITimeout converts the configured AI timeout into a duration.
func (c Config) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutSeconds) * time.Second
}

// CycleInterval converts the configured cycle interval into a duration.
func (c Config) CycleInterval() time.Duration {
	return time.Duration(c.Pipeline.CycleIntervalSeconds) * time.Second
}
