// Package config loads the application configuration from YAML with
// environment overrides. Load order: built-in defaults, then the YAML file,
// then DEALBRAIN_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Cache     CacheConfig     `yaml:"cache"`
	Recalc    RecalcConfig    `yaml:"recalc"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Paths     PathsConfig     `yaml:"paths"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds PostgreSQL connection settings. URL, when set, wins
// over the discrete fields.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	SSLMode         string `yaml:"ssl_mode"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_s"`
	QueryTimeoutSec int    `yaml:"query_timeout_s"`
}

// QueryTimeout returns the per-statement timeout as a duration.
func (d DatabaseConfig) QueryTimeout() time.Duration {
	return time.Duration(d.QueryTimeoutSec) * time.Second
}

// DSN renders a lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}

// RedisConfig holds the shared Redis settings for cache, pub/sub, and the
// recalculation queue.
type RedisConfig struct {
	URL string `yaml:"url"`
	DB  int    `yaml:"db"`
}

// AdapterConfig is the per-adapter ingestion tuning block.
type AdapterConfig struct {
	Enabled           bool    `yaml:"enabled"`
	TimeoutSeconds    int     `yaml:"timeout_s"`
	Retries           int     `yaml:"retries"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	BackoffFactor     float64 `yaml:"backoff_factor"`
}

// Timeout returns the per-request timeout as a duration.
func (a AdapterConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// IngestionConfig configures the adapter framework.
type IngestionConfig struct {
	Ebay struct {
		AdapterConfig `yaml:",inline"`
		APIKey        string `yaml:"api_key"`
		APIBase       string `yaml:"api_base"`
	} `yaml:"ebay"`
	JSONLD struct {
		AdapterConfig `yaml:",inline"`
		UserAgent     string `yaml:"user_agent"`
	} `yaml:"jsonld"`
}

// AdapterEnabled reports router enablement for a named adapter. Unknown
// adapter names default to enabled.
func (c IngestionConfig) AdapterEnabled(name string) bool {
	switch name {
	case "ebay":
		return c.Ebay.Enabled
	case "jsonld":
		return c.JSONLD.Enabled
	default:
		return true
	}
}

// CacheConfig tunes the Redis-backed read cache.
type CacheConfig struct {
	DefaultTTLSeconds int `yaml:"default_ttl_seconds"`
}

// DefaultTTL returns the cache TTL as a duration.
func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// RecalcConfig tunes the recalculation queue and worker pool.
type RecalcConfig struct {
	Concurrency           int `yaml:"concurrency"`
	CoalesceWindowSeconds int `yaml:"coalesce_window_s"`
	BatchSize             int `yaml:"batch_size"`
}

// CoalesceWindow returns the enqueue dedup window as a duration.
func (r RecalcConfig) CoalesceWindow() time.Duration {
	return time.Duration(r.CoalesceWindowSeconds) * time.Second
}

// DedupConfig tunes duplicate handling during ingest.
type DedupConfig struct {
	// PriceChangeThresholdPct suppresses price.changed events for moves
	// smaller than this percentage. Zero emits on any change.
	PriceChangeThresholdPct float64 `yaml:"price_change_threshold_pct"`
}

// MonitorConfig configures the operational HTTP server.
type MonitorConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// PathsConfig holds filesystem roots consumed by import flows.
type PathsConfig struct {
	UploadRoot string `yaml:"upload_root"`
	ImportRoot string `yaml:"import_root"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration before any file or environment
// override is applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "dealbrain"
	cfg.Database.Database = "dealbrain"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxOpenConns = 20
	cfg.Database.MaxIdleConns = 5
	cfg.Database.ConnMaxLifetime = 300
	cfg.Database.QueryTimeoutSec = 30
	cfg.Redis.URL = "redis://localhost:6379/0"

	cfg.Ingestion.Ebay.Enabled = true
	cfg.Ingestion.Ebay.TimeoutSeconds = 8
	cfg.Ingestion.Ebay.Retries = 2
	cfg.Ingestion.Ebay.RequestsPerMinute = 60
	cfg.Ingestion.Ebay.BackoffFactor = 1.0
	cfg.Ingestion.Ebay.APIBase = "https://api.ebay.com"

	cfg.Ingestion.JSONLD.Enabled = true
	cfg.Ingestion.JSONLD.TimeoutSeconds = 8
	cfg.Ingestion.JSONLD.Retries = 2
	cfg.Ingestion.JSONLD.RequestsPerMinute = 30
	cfg.Ingestion.JSONLD.BackoffFactor = 1.0
	cfg.Ingestion.JSONLD.UserAgent = "DealBrainBot/1.0 (+https://dealbrain.example/bot)"

	cfg.Cache.DefaultTTLSeconds = 300
	cfg.Recalc.Concurrency = 4
	cfg.Recalc.CoalesceWindowSeconds = 5
	cfg.Recalc.BatchSize = 100
	cfg.Monitor.ListenAddr = ":8090"
	cfg.Paths.UploadRoot = "./data/uploads"
	cfg.Paths.ImportRoot = "./data/imports"
	cfg.Logging.Level = "info"
	return cfg
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A missing file is not an error; env-only deployments are
// supported. A .env file in the working directory is loaded first when
// present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to env overrides
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DEALBRAIN_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("DEALBRAIN_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("DEALBRAIN_EBAY_API_KEY"); v != "" {
		cfg.Ingestion.Ebay.APIKey = v
	}
	if v := os.Getenv("DEALBRAIN_EBAY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Ingestion.Ebay.Enabled = b
		}
	}
	if v := os.Getenv("DEALBRAIN_JSONLD_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Ingestion.JSONLD.Enabled = b
		}
	}
	if v := os.Getenv("DEALBRAIN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DEALBRAIN_MONITOR_ADDR"); v != "" {
		cfg.Monitor.ListenAddr = v
	}
	if v := os.Getenv("DEALBRAIN_UPLOAD_ROOT"); v != "" {
		cfg.Paths.UploadRoot = v
	}
	if v := os.Getenv("DEALBRAIN_IMPORT_ROOT"); v != "" {
		cfg.Paths.ImportRoot = v
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Ingestion.Ebay.Enabled && c.Ingestion.Ebay.APIKey == "" {
		return fmt.Errorf("ingestion.ebay.api_key is required when the ebay adapter is enabled")
	}
	for name, a := range map[string]AdapterConfig{
		"ebay":   c.Ingestion.Ebay.AdapterConfig,
		"jsonld": c.Ingestion.JSONLD.AdapterConfig,
	} {
		if a.TimeoutSeconds <= 0 {
			return fmt.Errorf("ingestion.%s.timeout_s must be positive", name)
		}
		if a.Retries < 0 {
			return fmt.Errorf("ingestion.%s.retries must be non-negative", name)
		}
		if a.RequestsPerMinute <= 0 {
			return fmt.Errorf("ingestion.%s.requests_per_minute must be positive", name)
		}
	}
	if c.Recalc.Concurrency < 1 {
		return fmt.Errorf("recalc.concurrency must be at least 1")
	}
	if c.Cache.DefaultTTLSeconds <= 0 {
		return fmt.Errorf("cache.default_ttl_seconds must be positive")
	}
	return nil
}
