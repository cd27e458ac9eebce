package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"slices"
)

// MaxTopK is the largest retrieval depth any caller may request.
// Shared with the search engine's request validation.
const MaxTopK = 100

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider and API key
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required for provider %q\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey, c.Provider)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required for provider %q",
				ErrMissingAPIKey, c.Provider)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host cannot be empty for provider %q", ErrInvalidOllamaHost, c.Provider)
		}
	default:
		return fmt.Errorf("%w: %q, must be one of: gemini, ollama, openai", ErrInvalidProvider, c.Provider)
	}

	// 2. Model configuration
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// The dimension is pinned to the log_event.embedding column width.
	// ivfflat refuses to index vectors wider than 2000.
	if c.EmbedDim < 1 || c.EmbedDim > maxIvfflatDim {
		return fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidEmbedDim, maxIvfflatDim, c.EmbedDim)
	}

	if c.EmbedBatchSize < 1 || c.EmbedBatchSize > 10000 {
		return fmt.Errorf("%w: must be between 1 and 10000, got %d", ErrInvalidEmbedBatchSize, c.EmbedBatchSize)
	}

	// 3. PostgreSQL
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "logsift_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"hint", "change postgres_password for production deployments")
	}

	// Modern SSL modes only; allow/prefer are deprecated (MITM-vulnerable).
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// 4. Pool bounds
	if c.PostgresMaxConns < 1 {
		return fmt.Errorf("%w: postgres_max_conns must be at least 1, got %d", ErrInvalidPoolBounds, c.PostgresMaxConns)
	}
	if c.PostgresMinConns < 0 || c.PostgresMinConns > c.PostgresMaxConns {
		return fmt.Errorf("%w: postgres_min_conns must be between 0 and postgres_max_conns (%d), got %d",
			ErrInvalidPoolBounds, c.PostgresMaxConns, c.PostgresMinConns)
	}
	if c.PostgresAcquireTimeout <= 0 {
		return fmt.Errorf("%w: postgres_acquire_timeout must be positive, got %v", ErrInvalidTimeout, c.PostgresAcquireTimeout)
	}
	if c.PostgresStatementTimeout <= 0 {
		return fmt.Errorf("%w: postgres_statement_timeout must be positive, got %v", ErrInvalidTimeout, c.PostgresStatementTimeout)
	}

	// 5. RAG
	if c.RAGTopK < 1 || c.RAGTopK > MaxTopK {
		return fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidRAGTopK, MaxTopK, c.RAGTopK)
	}
	if c.RAGMaxContextChars < 512 {
		return fmt.Errorf("%w: rag_max_context_chars must be at least 512, got %d", ErrInvalidContextBudget, c.RAGMaxContextChars)
	}
	if c.RAGMaxRetries < 0 || c.RAGMaxRetries > 5 {
		return fmt.Errorf("%w: rag_max_retries must be between 0 and 5, got %d", ErrInvalidRetryPolicy, c.RAGMaxRetries)
	}
	if c.RAGRetryBackoff <= 0 {
		return fmt.Errorf("%w: rag_retry_backoff must be positive, got %v", ErrInvalidRetryPolicy, c.RAGRetryBackoff)
	}
	if c.RAGTimeout <= 0 {
		return fmt.Errorf("%w: rag_timeout must be positive, got %v", ErrInvalidTimeout, c.RAGTimeout)
	}

	// 6. Server
	if _, _, err := net.SplitHostPort(c.ServerAddr); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidServerAddr, c.ServerAddr, err)
	}
	if c.ServerMaxConns < 1 {
		return fmt.Errorf("%w: server_max_conns must be at least 1, got %d", ErrInvalidServerAddr, c.ServerMaxConns)
	}

	return nil
}
