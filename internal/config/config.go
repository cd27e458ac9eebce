// Package config loads application configuration with multi-source priority.
//
// Sources (highest to lowest priority):
//  1. Environment variables (LOGSIFT_* primary names; the classic PG_*,
//     EMBED_*, LOG_LEVEL names are honored as fallbacks)
//  2. Config file (~/.logsift/config.yaml or ./config.yaml)
//  3. Defaults
//
// Categories:
//   - AI: provider, chat model, embedder model, embedding dimension
//   - Storage: PostgreSQL connection and pool bounds (storage.go)
//   - RAG: retrieval depth, context budget, generation retry policy
//   - Server: listen address, connection and rate limits
//   - Otel: OTLP trace export
//
// Sensitive values (the database password) are masked in String() and
// MarshalJSON. Validation is fail-fast at Load with sentinel errors checked
// via errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the API key for the selected provider is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the chat model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedDim indicates the embedding dimension is out of range.
	ErrInvalidEmbedDim = errors.New("invalid embedding dimension")

	// ErrInvalidEmbedBatchSize indicates the embedding batch size is out of range.
	ErrInvalidEmbedBatchSize = errors.New("invalid embedding batch size")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidPoolBounds indicates the connection pool bounds are inconsistent.
	ErrInvalidPoolBounds = errors.New("invalid connection pool bounds")

	// ErrInvalidTimeout indicates a timeout or backoff value is out of range.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidRAGTopK indicates the retrieval depth is out of range.
	ErrInvalidRAGTopK = errors.New("invalid RAG top-k")

	// ErrInvalidContextBudget indicates the prompt context budget is out of range.
	ErrInvalidContextBudget = errors.New("invalid context budget")

	// ErrInvalidRetryPolicy indicates the generation retry policy is out of range.
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")

	// ErrInvalidServerAddr indicates the HTTP listen address is invalid.
	ErrInvalidServerAddr = errors.New("invalid server address")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// DefaultEmbedDim is the pinned embedding dimension. It must match the width
// of the log_event.embedding column; changing it requires a schema migration
// and a re-embed of every stored event.
const DefaultEmbedDim = 384

// maxIvfflatDim is the largest vector width an ivfflat index accepts.
const maxIvfflatDim = 2000

// OtelConfig holds OTLP trace export settings. Traces go to a local
// collector over OTLP HTTP; the collector handles auth and forwarding.
type OtelConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON. When adding a new
// secret field, update MarshalJSON as well.
type Config struct {
	// AI provider and model configuration
	Provider       string `mapstructure:"provider" json:"provider"`               // "gemini" (default), "ollama", "openai"
	ModelName      string `mapstructure:"model_name" json:"model_name"`           // chat model (e.g. "gemini-2.5-flash", "gpt-4o-mini")
	EmbedderModel  string `mapstructure:"embedder_model" json:"embedder_model"`   // embedding model identifier
	EmbedDim       int    `mapstructure:"embed_dim" json:"embed_dim"`             // pinned output dimension, must match schema
	EmbedBatchSize int    `mapstructure:"embed_batch_size" json:"embed_batch_size"` // texts per embedding call during ingest
	OllamaHost     string `mapstructure:"ollama_host" json:"ollama_host"`         // only used when provider is "ollama"

	// Storage configuration (see storage.go for DSN builders)
	PostgresHost             string        `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort             int           `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser             string        `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword         string        `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName           string        `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode          string        `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
	PostgresMaxConns         int32         `mapstructure:"postgres_max_conns" json:"postgres_max_conns"`
	PostgresMinConns         int32         `mapstructure:"postgres_min_conns" json:"postgres_min_conns"`
	PostgresAcquireTimeout   time.Duration `mapstructure:"postgres_acquire_timeout" json:"postgres_acquire_timeout"`
	PostgresStatementTimeout time.Duration `mapstructure:"postgres_statement_timeout" json:"postgres_statement_timeout"`

	// RAG configuration
	RAGTopK            int           `mapstructure:"rag_top_k" json:"rag_top_k"`
	RAGMaxContextChars int           `mapstructure:"rag_max_context_chars" json:"rag_max_context_chars"`
	RAGMaxRetries      int           `mapstructure:"rag_max_retries" json:"rag_max_retries"`
	RAGRetryBackoff    time.Duration `mapstructure:"rag_retry_backoff" json:"rag_retry_backoff"`
	RAGTimeout         time.Duration `mapstructure:"rag_timeout" json:"rag_timeout"`

	// HTTP server configuration (serve mode only)
	ServerAddr     string `mapstructure:"server_addr" json:"server_addr"`
	ServerMaxConns int    `mapstructure:"server_max_conns" json:"server_max_conns"`
	RateBurst      int    `mapstructure:"rate_burst" json:"rate_burst"`
	TrustProxy     bool   `mapstructure:"trust_proxy" json:"trust_proxy"` // trust X-Forwarded-For / X-Real-IP

	// Observability
	Otel OtelConfig `mapstructure:"otel" json:"otel"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".logsift")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults + env cover everything
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, when set, overrides the individual postgres_* values
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", "gemini-embedding-001")
	viper.SetDefault("embed_dim", DefaultEmbedDim)
	viper.SetDefault("embed_batch_size", 500)
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "logsift")
	viper.SetDefault("postgres_password", "logsift_dev_password")
	viper.SetDefault("postgres_db_name", "logsift")
	viper.SetDefault("postgres_ssl_mode", "disable")
	viper.SetDefault("postgres_max_conns", 10)
	viper.SetDefault("postgres_min_conns", 2)
	viper.SetDefault("postgres_acquire_timeout", "5s")
	viper.SetDefault("postgres_statement_timeout", "30s")

	// RAG defaults
	viper.SetDefault("rag_top_k", 5)
	viper.SetDefault("rag_max_context_chars", 8192)
	viper.SetDefault("rag_max_retries", 1)
	viper.SetDefault("rag_retry_backoff", "500ms")
	viper.SetDefault("rag_timeout", "30s")

	// Server defaults
	viper.SetDefault("server_addr", "127.0.0.1:3600")
	viper.SetDefault("server_max_conns", 256)
	viper.SetDefault("rate_burst", 60)
	viper.SetDefault("trust_proxy", false)

	// Otel defaults
	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.endpoint", "localhost:4318")
	viper.SetDefault("otel.service_name", "logsift")
	viper.SetDefault("otel.environment", "")

	// Logging defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)
}

// bindEnvVariables binds environment variable overrides explicitly.
// Each key binds its LOGSIFT_* name first; the unprefixed names the original
// deployment scripts export (PG_HOST, EMBED_DIM, LOG_LEVEL, ...) remain
// honored as fallbacks.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime condition.
	mustBind := func(key string, envVars ...string) {
		if err := viper.BindEnv(append([]string{key}, envVars...)...); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q: %v", key, err))
		}
	}

	mustBind("provider", "LOGSIFT_AI_PROVIDER")
	mustBind("model_name", "LOGSIFT_AI_MODEL", "OPENAI_MODEL")
	mustBind("embedder_model", "LOGSIFT_EMBED_MODEL")
	mustBind("embed_dim", "LOGSIFT_EMBED_DIM", "EMBED_DIM")
	mustBind("embed_batch_size", "LOGSIFT_EMBED_BATCH_SIZE", "EMBED_BATCH_SIZE")
	mustBind("ollama_host", "LOGSIFT_OLLAMA_HOST", "OLLAMA_HOST")

	mustBind("postgres_host", "LOGSIFT_PG_HOST", "PG_HOST")
	mustBind("postgres_port", "LOGSIFT_PG_PORT", "PG_PORT")
	mustBind("postgres_user", "LOGSIFT_PG_USER", "PG_USER")
	mustBind("postgres_password", "LOGSIFT_PG_PASSWORD", "PG_PASSWORD")
	mustBind("postgres_db_name", "LOGSIFT_PG_DATABASE", "PG_DATABASE")
	mustBind("postgres_ssl_mode", "LOGSIFT_PG_SSLMODE")
	mustBind("postgres_max_conns", "LOGSIFT_PG_MAX_CONNS")
	mustBind("postgres_min_conns", "LOGSIFT_PG_MIN_CONNS")
	mustBind("postgres_acquire_timeout", "LOGSIFT_PG_ACQUIRE_TIMEOUT")
	mustBind("postgres_statement_timeout", "LOGSIFT_PG_STATEMENT_TIMEOUT")

	mustBind("rag_top_k", "LOGSIFT_RAG_TOP_K")
	mustBind("rag_max_context_chars", "LOGSIFT_RAG_MAX_CONTEXT_CHARS")
	mustBind("rag_max_retries", "LOGSIFT_RAG_MAX_RETRIES")
	mustBind("rag_retry_backoff", "LOGSIFT_RAG_RETRY_BACKOFF")
	mustBind("rag_timeout", "LOGSIFT_RAG_TIMEOUT")

	mustBind("server_addr", "LOGSIFT_ADDR")
	mustBind("server_max_conns", "LOGSIFT_SERVER_MAX_CONNS")
	mustBind("rate_burst", "LOGSIFT_RATE_BURST")
	mustBind("trust_proxy", "LOGSIFT_TRUST_PROXY")

	mustBind("otel.enabled", "LOGSIFT_OTEL_ENABLED")
	mustBind("otel.endpoint", "LOGSIFT_OTEL_ENDPOINT")
	mustBind("otel.service_name", "LOGSIFT_OTEL_SERVICE")
	mustBind("otel.environment", "LOGSIFT_OTEL_ENV")

	mustBind("log_level", "LOGSIFT_LOG_LEVEL", "LOG_LEVEL")
	mustBind("log_json", "LOGSIFT_LOG_JSON")

	// NOTE: GEMINI_API_KEY and OPENAI_API_KEY are read directly by the
	// Genkit plugins, not via Viper. Validate() checks their presence for
	// the selected provider.
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) so no real password substring can match it.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 bytes or fewer
// are fully masked; longer ones keep the first and last 2 characters for
// debug utility. This defends against accidental logging, nothing more — if
// logs leak, rotate the secret.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o-mini".
// A ModelName that already contains "/" is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
