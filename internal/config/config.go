// Package config loads the riskcalc configuration from defaults, an optional
// YAML file and RISKCALC_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-clinical/riskcalc/internal/domain"
)

// EnvPrefix prefixes every environment variable, e.g. RISKCALC_SERVER_PORT.
const EnvPrefix = "RISKCALC"

// Load reads the configuration. When path is empty, riskcalc.yaml is looked
// up in the working directory and /etc/riskcalc and may be absent; an
// explicit path must exist. The profile setting chooses the defaults:
// "cluster" starts from domain.ClusterConfig, anything else from
// domain.DefaultConfig.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("riskcalc")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/riskcalc/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	base := domain.DefaultConfig()
	if domain.Profile(v.GetString("profile")) == domain.ProfileCluster {
		base = domain.ClusterConfig()
	}
	setDefaults(v, base)

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("profile", string(c.Profile))

	// Server
	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)
	v.SetDefault("server.rate_limit", c.Server.RateLimit)
	v.SetDefault("server.rate_burst", c.Server.RateBurst)
	v.SetDefault("server.client_quota", c.Server.ClientQuota)
	v.SetDefault("server.quota_window", c.Server.QuotaWindow)

	// Repository
	v.SetDefault("repository.driver", c.Repository.Driver)
	v.SetDefault("repository.sqlite_path", c.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", c.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", c.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", c.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", c.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", c.Repository.PostgresDB)
	v.SetDefault("repository.postgres_ssl_mode", c.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", c.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", c.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", c.Repository.ConnMaxLifetime)

	// Cache
	v.SetDefault("cache.type", c.Cache.Type)
	v.SetDefault("cache.local_max_size", c.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", c.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", c.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", c.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", c.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", c.Cache.EnableTwoPhase)

	// Event bus
	v.SetDefault("event_bus.type", c.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", c.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", c.EventBus.NATSUrl)
	v.SetDefault("event_bus.nats_token", c.EventBus.NATSToken)
	v.SetDefault("event_bus.nats_max_reconnects", c.EventBus.NATSMaxReconnects)
	v.SetDefault("event_bus.nats_reconnect_wait", c.EventBus.NATSReconnectWait)

	// Calculator
	v.SetDefault("catalog.path", c.Catalog.Path)
	v.SetDefault("catalog.seed_repository", c.Catalog.SeedRepository)
	v.SetDefault("calculation.result_ttl", c.Calculation.ResultTTL)
	v.SetDefault("calculation.workers", c.Calculation.Workers)
	v.SetDefault("calculation.expression_cache_size", c.Calculation.ExpressionCacheSize)
	v.SetDefault("calculation.max_parallel", c.Calculation.MaxParallel)

	// Observability
	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)
	v.SetDefault("logging.file", c.Logging.File)
	v.SetDefault("logging.max_size_mb", c.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", c.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", c.Logging.Compress)
	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.service_name", c.Tracing.ServiceName)
	v.SetDefault("tracing.endpoint", c.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", c.Tracing.Insecure)
	v.SetDefault("tracing.sampling_strategy", c.Tracing.SamplingStrategy)
	v.SetDefault("tracing.sampling_rate", c.Tracing.SamplingRate)
}
