// Package config loads the storefront service configuration.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// YAML file, and STOREFRONT_* environment variables (dots become
// underscores, e.g. STOREFRONT_CACHE_DEFAULT_TTL).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STOREFRONT"

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config stores all configuration of the service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BackendConfig configures the commerce backend client.
type BackendConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	APIToken  string        `mapstructure:"api_token"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Backend      string        `mapstructure:"backend"` // memory | redis
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	MaxEntries   int           `mapstructure:"max_entries"` // 0 = unbounded
	SingleFlight bool          `mapstructure:"single_flight"`
	ProductTTL   time.Duration `mapstructure:"product_ttl"`
	Redis        RedisConfig   `mapstructure:"redis"`
}

// RedisConfig configures the Redis cache store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// ReconcileConfig configures reconciliation passes.
type ReconcileConfig struct {
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	PassTimeout    time.Duration `mapstructure:"pass_timeout"`
}

// InventoryConfig configures stock loading.
type InventoryConfig struct {
	StockTTL    time.Duration `mapstructure:"stock_ttl"`
	Concurrency int           `mapstructure:"concurrency"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// TelemetryConfig configures tracing. Tracing is off without an endpoint.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	ServiceName  string  `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.user_agent", "storefront-sync/0.1.0")
	v.SetDefault("backend.api_token", "")
	v.SetDefault("backend.timeout", "10s")

	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.default_ttl", "300s")
	v.SetDefault("cache.max_entries", 0)
	v.SetDefault("cache.single_flight", false)
	v.SetDefault("cache.product_ttl", "300s")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.prefix", "storefront:cache:")

	v.SetDefault("reconcile.retry_attempts", 3)
	v.SetDefault("reconcile.initial_backoff", "250ms")
	v.SetDefault("reconcile.max_backoff", "5s")
	v.SetDefault("reconcile.pass_timeout", "30s")

	v.SetDefault("inventory.stock_ttl", "30s")
	v.SetDefault("inventory.concurrency", 8)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.service_name", "storefront-sync")
}

// Load reads configuration from configPath (optional) and the environment.
// An empty configPath searches ./config.yaml and /etc/storefront-sync/config.yaml;
// a missing file there is not an error, a missing explicit file is.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/storefront-sync")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url is required")
	}
	if c.Backend.UserAgent == "" {
		return errors.New("backend.user_agent is required")
	}
	switch c.Cache.Backend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		return fmt.Errorf("cache.backend must be %q or %q (got %q)", CacheBackendMemory, CacheBackendRedis, c.Cache.Backend)
	}
	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache.default_ttl must be positive (got %s)", c.Cache.DefaultTTL)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative (got %d)", c.Cache.MaxEntries)
	}
	if c.Reconcile.RetryAttempts < 1 {
		return fmt.Errorf("reconcile.retry_attempts must be at least 1 (got %d)", c.Reconcile.RetryAttempts)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1] (got %v)", c.Telemetry.SampleRatio)
	}
	return nil
}
