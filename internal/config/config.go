// Package config loads Sentinel configuration from a yaml file and
// SENTINEL_-prefixed environment variables layered over the defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sentinelfraud/sentinel/internal/domain"
)

// Load builds the configuration. path may be empty, in which case only
// config.yaml in the working directory (if present) and environment
// variables apply. Environment keys mirror the config tree with
// underscores, e.g. SENTINEL_SERVER_PORT, SENTINEL_ENGINE_FRAUD_THRESHOLD.
func Load(path string) (*domain.Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &domain.Config{
		Server: domain.ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			ReadTimeout:  v.GetInt("server.read_timeout"),
			WriteTimeout: v.GetInt("server.write_timeout"),
		},
		Engine: domain.EngineConfig{
			FraudThreshold:      v.GetFloat64("engine.fraud_threshold"),
			ConfidenceThreshold: v.GetFloat64("engine.confidence_threshold"),
			MLWeight:            v.GetFloat64("engine.ml_weight"),
			RuleWeight:          v.GetFloat64("engine.rule_weight"),
			Workers:             v.GetInt("engine.workers"),
			ScoreTimeout:        v.GetDuration("engine.score_timeout"),
			SequenceLength:      v.GetInt("engine.sequence_length"),
			ContaminationRate:   v.GetFloat64("engine.contamination_rate"),
		},
		Repository: domain.RepositoryConfig{
			Driver:           v.GetString("repository.driver"),
			SQLitePath:       v.GetString("repository.sqlite_path"),
			PostgresHost:     v.GetString("repository.postgres_host"),
			PostgresPort:     v.GetInt("repository.postgres_port"),
			PostgresUser:     v.GetString("repository.postgres_user"),
			PostgresPassword: v.GetString("repository.postgres_password"),
			PostgresDB:       v.GetString("repository.postgres_db"),
			PostgresSSLMode:  v.GetString("repository.postgres_sslmode"),
			MaxOpenConns:     v.GetInt("repository.max_open_conns"),
			MaxIdleConns:     v.GetInt("repository.max_idle_conns"),
			ConnMaxLifetime:  v.GetDuration("repository.conn_max_lifetime"),
		},
		Cache: domain.CacheConfig{
			Type:           v.GetString("cache.type"),
			LocalMaxSize:   v.GetInt("cache.local_max_size"),
			LocalTTL:       v.GetDuration("cache.local_ttl"),
			RedisAddr:      v.GetString("cache.redis_addr"),
			RedisPassword:  v.GetString("cache.redis_password"),
			RedisDB:        v.GetInt("cache.redis_db"),
			EnableTwoPhase: v.GetBool("cache.enable_two_phase"),
		},
		EventBus: domain.EventBusConfig{
			Type:              v.GetString("bus.type"),
			ChannelBufferSize: v.GetInt("bus.channel_buffer_size"),
			NATSUrl:           v.GetString("bus.nats_url"),
			NATSToken:         v.GetString("bus.nats_token"),
			NATSMaxReconnects: v.GetInt("bus.nats_max_reconnects"),
			NATSReconnectWait: v.GetInt("bus.nats_reconnect_wait"),
		},
		Logging: domain.LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Tracing: domain.TracingConfig{
			Enabled:      v.GetBool("tracing.enabled"),
			ServiceName:  v.GetString("tracing.service_name"),
			ExporterType: v.GetString("tracing.exporter_type"),
			Endpoint:     v.GetString("tracing.endpoint"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := domain.DefaultConfig()

	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.read_timeout", def.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", def.Server.WriteTimeout)

	v.SetDefault("engine.fraud_threshold", def.Engine.FraudThreshold)
	v.SetDefault("engine.confidence_threshold", def.Engine.ConfidenceThreshold)
	v.SetDefault("engine.ml_weight", def.Engine.MLWeight)
	v.SetDefault("engine.rule_weight", def.Engine.RuleWeight)
	v.SetDefault("engine.workers", def.Engine.Workers)
	v.SetDefault("engine.score_timeout", def.Engine.ScoreTimeout)
	v.SetDefault("engine.sequence_length", def.Engine.SequenceLength)
	v.SetDefault("engine.contamination_rate", def.Engine.ContaminationRate)

	v.SetDefault("repository.driver", def.Repository.Driver)
	v.SetDefault("repository.sqlite_path", def.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", "localhost")
	v.SetDefault("repository.postgres_port", 5432)
	v.SetDefault("repository.postgres_sslmode", "disable")
	v.SetDefault("repository.max_open_conns", 25)
	v.SetDefault("repository.max_idle_conns", 5)
	v.SetDefault("repository.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("cache.type", def.Cache.Type)
	v.SetDefault("cache.local_max_size", def.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", def.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.enable_two_phase", false)

	v.SetDefault("bus.type", def.EventBus.Type)
	v.SetDefault("bus.channel_buffer_size", def.EventBus.ChannelBufferSize)
	v.SetDefault("bus.nats_url", "nats://localhost:4222")
	v.SetDefault("bus.nats_max_reconnects", 10)
	v.SetDefault("bus.nats_reconnect_wait", 5)

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)

	v.SetDefault("tracing.enabled", def.Tracing.Enabled)
	v.SetDefault("tracing.service_name", def.Tracing.ServiceName)
	v.SetDefault("tracing.exporter_type", "stdout")
}

func validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Engine.FraudThreshold <= 0 || cfg.Engine.FraudThreshold >= 1 {
		return fmt.Errorf("fraud_threshold must be in (0,1), got %f", cfg.Engine.FraudThreshold)
	}
	if cfg.Engine.MLWeight < 0 || cfg.Engine.RuleWeight < 0 {
		return fmt.Errorf("ensemble weights must be non-negative")
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver: %s", cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache type: %s", cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unsupported event bus type: %s", cfg.EventBus.Type)
	}
	return nil
}
