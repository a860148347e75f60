package domain

import "time"

// Config holds the complete Sentinel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Engine tunables
	Engine EngineConfig `json:"engine"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// EngineConfig holds scoring engine tunables. The ensemble weighting and
// per-rule score constants are deliberately configuration, not literals:
// they are policy subject to tuning, not a fixed contract.
type EngineConfig struct {
	// FraudThreshold is the probability above which a verdict is fraud.
	FraudThreshold float64 `json:"fraudThreshold"`

	// ConfidenceThreshold gates low-confidence verdicts in reporting.
	ConfidenceThreshold float64 `json:"confidenceThreshold"`

	// MLWeight and RuleWeight split the final probability between the
	// model aggregate and the rule aggregate. Must sum to 1.
	MLWeight   float64 `json:"mlWeight"`
	RuleWeight float64 `json:"ruleWeight"`

	// Workers bounds the model-inference worker pool.
	Workers int `json:"workers"`

	// ScoreTimeout is the overall deadline for one scoring call.
	ScoreTimeout time.Duration `json:"scoreTimeout"`

	// SequenceLength is the sliding-window length for the sequence model.
	SequenceLength int `json:"sequenceLength"`

	// ContaminationRate sets the anomaly threshold percentile
	// (threshold = (1-rate)-quantile of normal reconstruction error).
	ContaminationRate float64 `json:"contaminationRate"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp
	Endpoint     string `json:"endpoint"`
}

// DefaultConfig returns the default configuration: embedded SQLite,
// in-memory cache, channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Engine: DefaultEngineConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./sentinel.db",
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "sentinel",
		},
	}
}

// DefaultEngineConfig returns the engine tunables' defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		FraudThreshold:      0.7,
		ConfidenceThreshold: 0.8,
		MLWeight:            0.7,
		RuleWeight:          0.3,
		Workers:             4,
		ScoreTimeout:        2 * time.Second,
		SequenceLength:      10,
		ContaminationRate:   0.1,
	}
}
