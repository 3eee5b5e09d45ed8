package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"5400"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// Database settings
	Database DatabaseConfig

	// Embeddings configuration
	Embeddings EmbeddingsConfig

	// Graph integrity engine configuration
	Integrity IntegrityConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"taskweave"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"taskweave"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// EmbeddingsConfig holds embedding service configuration
type EmbeddingsConfig struct {
	// Google API Key for Generative AI embeddings
	GoogleAPIKey string `env:"GOOGLE_API_KEY" envDefault:""`

	// Embedding model name
	Model string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-004"`

	// Embedding dimension (768 for text-embedding-004)
	Dimension int `env:"EMBEDDING_DIMENSION" envDefault:"768"`

	// Disable embeddings network calls (for testing)
	NetworkDisabled bool `env:"EMBEDDINGS_NETWORK_DISABLED" envDefault:"false"`
}

// IsEnabled returns true if embeddings are configured
func (e *EmbeddingsConfig) IsEnabled() bool {
	if e.NetworkDisabled {
		return false
	}
	return e.GoogleAPIKey != ""
}

// IntegrityConfig holds tuning for the task relationship integrity engine
type IntegrityConfig struct {
	// Cosine similarity at or above which a candidate is a semantic duplicate
	SimilarityThreshold float64 `env:"INTEGRITY_SIMILARITY_THRESHOLD" envDefault:"0.9"`

	// How many nearest neighbors to inspect per candidate
	DuplicateTopK int `env:"INTEGRITY_DUPLICATE_TOP_K" envDefault:"3"`

	// Default for requests that do not specify auto_resolve_cycles
	AutoResolveCycles bool `env:"INTEGRITY_AUTO_RESOLVE_CYCLES" envDefault:"false"`

	// Permit inserts without duplicate detection when no embeddings
	// provider is configured. Off by default: such requests are rejected.
	AllowMissingEmbeddings bool `env:"INTEGRITY_ALLOW_MISSING_EMBEDDINGS" envDefault:"false"`

	// Periodic full-graph acyclicity sweep
	SweepEnabled  bool   `env:"INTEGRITY_SWEEP_ENABLED" envDefault:"true"`
	SweepSchedule string `env:"INTEGRITY_SWEEP_SCHEDULE" envDefault:"@every 10m"`
}

// NewConfig parses configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
