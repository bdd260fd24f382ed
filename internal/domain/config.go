package domain

import (
	"fmt"
	"time"
)

// Config holds the complete riskcalc configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Profile selects the default backing services.
	Profile Profile `json:"profile" mapstructure:"profile"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"event_bus"`

	// Calculator
	Catalog     CatalogConfig     `json:"catalog" mapstructure:"catalog"`
	Calculation CalculationConfig `json:"calculation" mapstructure:"calculation"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// Profile is a deployment profile.
type Profile string

const (
	// ProfileStandalone runs on SQLite, an in-memory cache and channels.
	ProfileStandalone Profile = "standalone"

	// ProfileCluster runs on PostgreSQL, Redis and NATS.
	ProfileCluster Profile = "cluster"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds

	// RateLimit is the sustained request rate per second across all clients;
	// zero disables limiting.
	RateLimit float64 `json:"rateLimit" mapstructure:"rate_limit"`
	RateBurst int     `json:"rateBurst" mapstructure:"rate_burst"`

	// ClientQuota caps calculations per client address per QuotaWindow.
	ClientQuota int           `json:"clientQuota" mapstructure:"client_quota"`
	QuotaWindow time.Duration `json:"quotaWindow" mapstructure:"quota_window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text

	// File enables rotated file output in addition to stdout.
	File       string `json:"file" mapstructure:"file"`
	MaxSizeMB  int    `json:"maxSizeMb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"maxBackups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"maxAgeDays" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name"`

	// Endpoint is the OTLP/HTTP collector address, host:port.
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	Insecure bool   `json:"insecure" mapstructure:"insecure"`

	// SamplingStrategy is always, never or probability.
	SamplingStrategy string  `json:"samplingStrategy" mapstructure:"sampling_strategy"`
	SamplingRate     float64 `json:"samplingRate" mapstructure:"sampling_rate"`
}

// CatalogConfig locates the calculator configuration.
type CatalogConfig struct {
	// Path is a YAML or JSON catalog bundle. When empty the latest bundle
	// stored in the repository is used.
	Path string `json:"path" mapstructure:"path"`

	// SeedRepository stores the file bundle in the repository on startup.
	SeedRepository bool `json:"seedRepository" mapstructure:"seed_repository"`
}

// CalculationConfig holds calculation service settings.
type CalculationConfig struct {
	// ResultTTL is how long calculation results stay cached.
	ResultTTL time.Duration `json:"resultTtl" mapstructure:"result_ttl"`

	// Workers enables asynchronous calculations from the event bus.
	Workers bool `json:"workers" mapstructure:"workers"`

	// ExpressionCacheSize bounds the compiled expression cache.
	ExpressionCacheSize int `json:"expressionCacheSize" mapstructure:"expression_cache_size"`

	// MaxParallel bounds the models evaluated concurrently for one request.
	MaxParallel int `json:"maxParallel" mapstructure:"max_parallel"`
}

// Validate checks the configuration for values no component can start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver: %s", c.Repository.Driver)
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache type: %s", c.Cache.Type)
	}
	switch c.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unsupported event bus type: %s", c.EventBus.Type)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Tracing.SamplingStrategy {
	case "", "always", "never":
	case "probability":
		if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
			return fmt.Errorf("sampling rate must be between 0 and 1: %g", c.Tracing.SamplingRate)
		}
	default:
		return fmt.Errorf("unknown sampling strategy: %s", c.Tracing.SamplingStrategy)
	}
	if c.Calculation.ResultTTL < 0 {
		return fmt.Errorf("result TTL must not be negative")
	}
	return nil
}

// DefaultConfig returns a standalone configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			RateLimit:    100,
			RateBurst:    200,
			ClientQuota:  600,
			QuotaWindow:  time.Minute,
		},
		Profile: ProfileStandalone,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./riskcalc.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Calculation: CalculationConfig{
			ResultTTL:           24 * time.Hour,
			ExpressionCacheSize: 4096,
			MaxParallel:         8,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Tracing: TracingConfig{
			Enabled:          false,
			ServiceName:      "riskcalc",
			Endpoint:         "localhost:4318",
			Insecure:         true,
			SamplingStrategy: "always",
			SamplingRate:     1.0,
		},
	}
}

// ClusterConfig returns a configuration backed by PostgreSQL, Redis and NATS.
func ClusterConfig() *Config {
	cfg := DefaultConfig()
	cfg.Profile = ProfileCluster
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "riskcalc",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Calculation.Workers = true
	cfg.Tracing.Enabled = true
	return cfg
}
