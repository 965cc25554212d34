package domain

import "time"

// Config holds the complete RiskForge configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines the backing infrastructure
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	Queue      QueueConfig      `json:"queue"`

	// Evaluation pipeline
	Scoring  ScoringConfig  `json:"scoring"`
	Pipeline PipelineConfig `json:"pipeline"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// ScoringConfig holds the hybrid combiner and model settings.
// Weights and thresholds are explicit, testable parameters, never embedded
// constants: changing deployment risk tolerance is a config change.
type ScoringConfig struct {
	// ModelPath is the versioned, immutable model artifact loaded once at
	// startup. A missing or corrupt artifact is fatal (fail-closed).
	ModelPath string `json:"modelPath"`

	// Hybrid blend weights: final = MLWeight*ml + RuleWeight*rule
	MLWeight   float64 `json:"mlWeight"`
	RuleWeight float64 `json:"ruleWeight"`

	// Risk-level thresholds, LowThreshold < HighThreshold:
	//   final <  LowThreshold            -> safe
	//   LowThreshold <= final < High     -> suspicious
	//   final >= HighThreshold           -> fraudulent
	LowThreshold  float64 `json:"lowThreshold"`
	HighThreshold float64 `json:"highThreshold"`
}

// PipelineConfig holds worker and retry settings.
type PipelineConfig struct {
	// MaxAttempts is the total delivery attempts before a job is
	// finalized into evaluation_failed.
	MaxAttempts int `json:"maxAttempts"`

	// RetryBackoff is the base delay for exponential backoff between
	// redeliveries (base * 2^attempt).
	RetryBackoff time.Duration `json:"retryBackoff"`

	// VelocityWindow bounds the short-term historical aggregates.
	VelocityWindow time.Duration `json:"velocityWindow"`

	// ViewCacheTTL bounds how long terminal views live in the read cache.
	ViewCacheTTL time.Duration `json:"viewCacheTTL"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierDefault runs on SQLite + in-process queue + local LRU cache.
	TierDefault Tier = "default"

	// TierPro runs on PostgreSQL + NATS + Redis.
	TierPro Tier = "pro"
)

// DefaultConfig returns a configuration for the default tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierDefault,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./riskforge.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		Queue: QueueConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
			ChannelConsumers:  4,
		},
		Scoring: ScoringConfig{
			ModelPath:     "./models/fraud_model.json",
			MLWeight:      0.7,
			RuleWeight:    0.3,
			LowThreshold:  0.3,
			HighThreshold: 0.7,
		},
		Pipeline: PipelineConfig{
			MaxAttempts:    3,
			RetryBackoff:   2 * time.Second,
			VelocityWindow: time.Hour,
			ViewCacheTTL:   10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "riskforge",
		},
	}
}

// ProConfig returns a configuration for the pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "riskforge",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.Queue = QueueConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
