// Package config loads and validates ingestion service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the ops/dispatch HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig selects the backing for the daily quota counters. When Addr is
// empty an in-process tracker is used instead.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PubSubConfig holds metadata for article event notifications. Publishing is
// disabled when TopicName is empty.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// IngestConfig governs dispatcher and run behavior.
type IngestConfig struct {
	WorkersPerQueue int    `mapstructure:"workers_per_queue"`
	QueueDepth      int    `mapstructure:"queue_depth"`
	MaxPagesDefault int    `mapstructure:"max_pages_default"`
	Timezone        string `mapstructure:"timezone"`
}

// ProviderConfig is the explicit per-provider client configuration. Endpoint
// and key are injected at construction; clients never reach into ambient
// config themselves.
type ProviderConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ProvidersConfig groups the three upstream APIs.
type ProvidersConfig struct {
	Guardian ProviderConfig `mapstructure:"guardian"`
	NYTimes  ProviderConfig `mapstructure:"nytimes"`
	NewsAPI  ProviderConfig `mapstructure:"newsapi"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSRIVER")
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
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("ingest.workers_per_queue", 1)
	v.SetDefault("ingest.queue_depth", 64)
	v.SetDefault("ingest.max_pages_default", 5)
	v.SetDefault("ingest.timezone", "UTC")
	v.SetDefault("providers.guardian.endpoint", "https://content.guardianapis.com")
	v.SetDefault("providers.guardian.timeout_seconds", 30)
	v.SetDefault("providers.nytimes.endpoint", "https://api.nytimes.com/svc")
	v.SetDefault("providers.nytimes.timeout_seconds", 30)
	v.SetDefault("providers.newsapi.endpoint", "https://newsapi.org/v2")
	v.SetDefault("providers.newsapi.timeout_seconds", 30)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Ingest.WorkersPerQueue <= 0 {
		return fmt.Errorf("ingest.workers_per_queue must be > 0")
	}
	if c.Ingest.QueueDepth <= 0 {
		return fmt.Errorf("ingest.queue_depth must be > 0")
	}
	if _, err := time.LoadLocation(c.Ingest.Timezone); err != nil {
		return fmt.Errorf("ingest.timezone: %w", err)
	}
	for name, p := range map[string]ProviderConfig{
		"guardian": c.Providers.Guardian,
		"nytimes":  c.Providers.NYTimes,
		"newsapi":  c.Providers.NewsAPI,
	} {
		if p.Endpoint == "" {
			return fmt.Errorf("providers.%s.endpoint is required", name)
		}
		if p.TimeoutSeconds <= 0 {
			return fmt.Errorf("providers.%s.timeout_seconds must be > 0", name)
		}
	}
	return nil
}

// Location resolves the configured ingestion timezone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Ingest.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
