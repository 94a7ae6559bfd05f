// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all worker configuration parsed from environment variables.
type Config struct {
	AppEnv            string `env:"APP_ENV" envDefault:"dev"`
	ServiceName       string `env:"OTEL_SERVICE_NAME" envDefault:"archon-intelligence"`
	ServiceInstanceID string `env:"SERVICE_INSTANCE_ID"`

	// Message bus
	KafkaBrokers       []string `env:"KAFKA_BOOTSTRAP_SERVERS" envSeparator:"," envDefault:"localhost:19092"`
	KafkaTopicPrefix   string   `env:"KAFKA_TOPIC_PREFIX" envDefault:"dev"`
	KafkaConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"archon-intelligence"`

	// Consumer engine
	ProcessingConcurrency int           `env:"PROCESSING_CONCURRENCY" envDefault:"5"`
	MaxPollRecords        int           `env:"MAX_POLL_RECORDS" envDefault:"10"`
	HandlerTimeoutSeconds int           `env:"HANDLER_TIMEOUT_SECONDS" envDefault:"30"`
	ShutdownTimeout       time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Retry scheduling
	MaxRetryAttempts      int    `env:"MAX_RETRY_ATTEMPTS" envDefault:"3"`
	RetryBackoffBase      int    `env:"RETRY_BACKOFF_BASE" envDefault:"2"`
	RetryBackoffMax       int    `env:"RETRY_BACKOFF_MAX" envDefault:"60"`
	RetryJitter           bool   `env:"RETRY_JITTER" envDefault:"true"`
	RetryMode             string `env:"RETRY_MODE" envDefault:"bus"`
	RetryStateTTLSeconds  int    `env:"RETRY_STATE_TTL_SECONDS" envDefault:"600"`
	DLQReprocessEnabled   bool   `env:"DLQ_REPROCESS_ENABLED" envDefault:"false"`

	// Circuit breaker
	BreakerThreshold        int  `env:"CIRCUIT_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerTimeoutSeconds   int  `env:"CIRCUIT_BREAKER_TIMEOUT" envDefault:"60"`
	BreakerSuccessThreshold int  `env:"CIRCUIT_BREAKER_SUCCESS_THRESHOLD" envDefault:"1"`
	BreakerCountTimeouts    bool `env:"CIRCUIT_BREAKER_COUNT_TIMEOUTS" envDefault:"false"`

	// Analyzer
	AnalyzerURL     string        `env:"ANALYZER_URL" envDefault:"http://localhost:8081"`
	AnalyzerTimeout time.Duration `env:"ANALYZER_TIMEOUT" envDefault:"15s"`

	// Embedder
	EmbedderURL               string        `env:"EMBEDDER_URL" envDefault:"http://localhost:8082"`
	EmbedderMaxConcurrent     int           `env:"EMBEDDER_MAX_CONCURRENT" envDefault:"4"`
	EmbedderTimeout           time.Duration `env:"EMBEDDER_TIMEOUT" envDefault:"10s"`
	EmbedderBatchSize         int           `env:"EMBEDDER_BATCH_SIZE" envDefault:"16"`
	EmbedderBatchWindowMS     int           `env:"EMBEDDER_BATCH_WINDOW_MS" envDefault:"25"`
	EmbedderMaxTokensPerBatch int           `env:"EMBEDDER_MAX_TOKENS_PER_BATCH" envDefault:"8000"`
	EmbedderRPS               int           `env:"EMBEDDER_RPS" envDefault:"50"`

	// Result cache
	CacheMaxSize    int `env:"CACHE_MAX_SIZE" envDefault:"1000"`
	CacheTTLSeconds int `env:"CACHE_TTL_SECONDS" envDefault:"900"`

	// Capability stores; empty URL disables the capability.
	PatternDBURL        string `env:"PATTERN_DB_URL"`
	VectorStoreURL      string `env:"VECTOR_STORE_URL"`
	VectorStoreAPIKey   string `env:"VECTOR_STORE_API_KEY"`
	VectorCollection    string `env:"VECTOR_COLLECTION" envDefault:"intelligence"`
	VectorSize          int    `env:"VECTOR_SIZE" envDefault:"768"`
	GraphStoreURL       string `env:"GRAPH_STORE_URL"`
	StoreTimeoutSeconds int    `env:"STORE_TIMEOUT_SECONDS" envDefault:"5"`

	// Outcome markers (replay idempotency); empty disables.
	RedisAddr         string `env:"REDIS_ADDR"`
	OutcomeTTLSeconds int    `env:"OUTCOME_TTL_SECONDS" envDefault:"86400"`

	// Health & observability
	HealthCheckPort        int    `env:"HEALTH_CHECK_PORT" envDefault:"8090"`
	ReadinessWindowSeconds int    `env:"READINESS_WINDOW_SECONDS" envDefault:"120"`
	LogLevel               string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat              string `env:"LOG_FORMAT" envDefault:"json"`
	OTLPEndpoint           string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`

	// Scorer
	ScoringProfilesPath string `env:"SCORING_PROFILES_PATH"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if cfg.ServiceInstanceID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		cfg.ServiceInstanceID = host
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BOOTSTRAP_SERVERS must not be empty")
	}
	if c.KafkaConsumerGroup == "" {
		return fmt.Errorf("KAFKA_CONSUMER_GROUP must not be empty")
	}
	if c.ProcessingConcurrency < 1 {
		return fmt.Errorf("PROCESSING_CONCURRENCY must be >= 1, got %d", c.ProcessingConcurrency)
	}
	if c.MaxPollRecords < 1 {
		return fmt.Errorf("MAX_POLL_RECORDS must be >= 1, got %d", c.MaxPollRecords)
	}
	switch c.RetryMode {
	case "bus", "inprocess":
	default:
		return fmt.Errorf("RETRY_MODE must be bus or inprocess, got %q", c.RetryMode)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// HandlerTimeout is the per-operation execution deadline.
func (c Config) HandlerTimeout() time.Duration {
	return time.Duration(c.HandlerTimeoutSeconds) * time.Second
}

// BackoffBase is the first retry delay.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.RetryBackoffBase) * time.Second
}

// BackoffCap is the retry delay ceiling.
func (c Config) BackoffCap() time.Duration {
	return time.Duration(c.RetryBackoffMax) * time.Second
}

// RetryStateTTL is how long idle retry state survives before eviction.
func (c Config) RetryStateTTL() time.Duration {
	return time.Duration(c.RetryStateTTLSeconds) * time.Second
}

// BreakerResetTimeout is how long a breaker stays open before probing.
func (c Config) BreakerResetTimeout() time.Duration {
	return time.Duration(c.BreakerTimeoutSeconds) * time.Second
}

// CacheTTL is the result-cache entry lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// StoreTimeout bounds each capability sub-query.
func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

// OutcomeTTL is the terminal-outcome marker lifetime.
func (c Config) OutcomeTTL() time.Duration {
	return time.Duration(c.OutcomeTTLSeconds) * time.Second
}

// ReadinessWindow is how recent an embedder success must be for readiness.
func (c Config) ReadinessWindow() time.Duration {
	return time.Duration(c.ReadinessWindowSeconds) * time.Second
}

// EmbedderBatchWindow is how long the embedder batcher waits to fill a batch.
func (c Config) EmbedderBatchWindow() time.Duration {
	return time.Duration(c.EmbedderBatchWindowMS) * time.Millisecond
}
