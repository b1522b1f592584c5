// Package config loads and validates knowledge-engine configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Graph backends.
const (
	GraphBadger   = "badger"
	GraphPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Graph     GraphConfig     `mapstructure:"graph"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// StorageConfig locates the embedded database holding queues and documents.
type StorageConfig struct {
	DataDir           string `mapstructure:"data_dir"`
	InMemory          bool   `mapstructure:"in_memory"`
	SyncWrites        bool   `mapstructure:"sync_writes"`
	GCIntervalSeconds int    `mapstructure:"gc_interval_seconds"`
}

// PipelineConfig controls worker polling and retries.
type PipelineConfig struct {
	FetchPollSeconds      float64 `mapstructure:"fetch_poll_seconds"`
	ExtractPollSeconds    float64 `mapstructure:"extract_poll_seconds"`
	GraphMergePollSeconds float64 `mapstructure:"graph_merge_poll_seconds"`
	RetryDelaySeconds     float64 `mapstructure:"retry_delay_seconds"`
	ItemTimeoutSeconds    int     `mapstructure:"item_timeout_seconds"`
	DrainTimeoutSeconds   int     `mapstructure:"drain_timeout_seconds"`
}

// CrawlerConfig governs the probe fetch.
type CrawlerConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	MaxBodyBytes   int     `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// ArchiveConfig selects where raw HTML is kept.
type ArchiveConfig struct {
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// ExtractorConfig configures the chat completion endpoint.
type ExtractorConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float32 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// GraphConfig selects the graph backend.
type GraphConfig struct {
	Backend       string `mapstructure:"backend"`
	DSN           string `mapstructure:"dsn"`
	EntityTable   string `mapstructure:"entity_table"`
	RelationTable string `mapstructure:"relation_table"`
	MaxConns      int32  `mapstructure:"max_conns"`
	EnsureSchema  bool   `mapstructure:"ensure_schema"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. An empty
// topic disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	LogEnabled         bool `mapstructure:"log_enabled"`
	BufferSize         int  `mapstructure:"buffer_size"`
	BatchMaxEvents     int  `mapstructure:"batch_max_events"`
	BatchMaxWaitMs     int  `mapstructure:"batch_max_wait_ms"`
	SinkTimeoutSeconds int  `mapstructure:"sink_timeout_seconds"`
}

// ServerConfig controls the operator HTTP API.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName  string `mapstructure:"service_name"`
	StdoutTraces bool   `mapstructure:"stdout_traces"`
}

// Load builds a Config from disk/environment. Environment variables use the
// KNOWLEDGE_ prefix with dots replaced by underscores, e.g.
// KNOWLEDGE_EXTRACTOR_API_KEY.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KNOWLEDGE")
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
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.in_memory", false)
	v.SetDefault("storage.sync_writes", false)
	v.SetDefault("storage.gc_interval_seconds", 600)
	v.SetDefault("pipeline.fetch_poll_seconds", 1)
	v.SetDefault("pipeline.extract_poll_seconds", 1)
	v.SetDefault("pipeline.graph_merge_poll_seconds", 1)
	v.SetDefault("pipeline.retry_delay_seconds", 10)
	v.SetDefault("pipeline.item_timeout_seconds", 300)
	v.SetDefault("pipeline.drain_timeout_seconds", 30)
	v.SetDefault("crawler.user_agent", "knowledge-engine/0.1")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.rate_limit_rps", 1)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.base_dir", "archive")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("extractor.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("extractor.model", "openai/gpt-4o-mini")
	v.SetDefault("extractor.max_tokens", 10000)
	v.SetDefault("extractor.temperature", 0)
	v.SetDefault("extractor.timeout_seconds", 120)
	v.SetDefault("graph.backend", GraphBadger)
	v.SetDefault("graph.entity_table", "entities")
	v.SetDefault("graph.relation_table", "relations")
	v.SetDefault("graph.max_conns", 4)
	v.SetDefault("graph.ensure_schema", true)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch_max_events", 1000)
	v.SetDefault("progress.batch_max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_seconds", 10)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "knowledge-engine")
	v.SetDefault("telemetry.stdout_traces", false)
	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("extractor.api_key", "")
	v.SetDefault("graph.dsn", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !c.Storage.InMemory && strings.TrimSpace(c.Storage.DataDir) == "" {
		return fmt.Errorf("storage.data_dir is required unless storage.in_memory is set")
	}
	if c.Pipeline.RetryDelaySeconds <= 0 {
		return fmt.Errorf("pipeline.retry_delay_seconds must be > 0")
	}
	if c.Pipeline.FetchPollSeconds <= 0 || c.Pipeline.ExtractPollSeconds <= 0 || c.Pipeline.GraphMergePollSeconds <= 0 {
		return fmt.Errorf("pipeline poll intervals must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if strings.TrimSpace(c.Archive.BaseDir) == "" {
			return fmt.Errorf("archive.base_dir is required for the local archive")
		}
	case ArchiveGCS:
		if strings.TrimSpace(c.Archive.GCSBucket) == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of none, memory, local, gcs", c.Archive.Backend)
	}
	switch c.Graph.Backend {
	case GraphBadger:
	case GraphPostgres:
		if strings.TrimSpace(c.Graph.DSN) == "" {
			return fmt.Errorf("graph.dsn is required for the postgres graph")
		}
	default:
		return fmt.Errorf("graph.backend %q is not one of badger, postgres", c.Graph.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// ValidateExtractor reports whether the extractor can be built. It is checked
// only by commands that run the pipeline.
func (c Config) ValidateExtractor() error {
	if strings.TrimSpace(c.Extractor.APIKey) == "" {
		return fmt.Errorf("extractor.api_key is required (KNOWLEDGE_EXTRACTOR_API_KEY)")
	}
	return nil
}

// Seconds converts fractional seconds to a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
