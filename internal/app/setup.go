package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/logsift/logsift/db"
	"github.com/logsift/logsift/internal/config"
	"github.com/logsift/logsift/internal/embed"
	"github.com/logsift/logsift/internal/ingest"
	"github.com/logsift/logsift/internal/logstore"
	"github.com/logsift/logsift/internal/postgres"
	"github.com/logsift/logsift/internal/rag"
	"github.com/logsift/logsift/internal/search"
)

// Setup creates and initializes the application. On error, everything
// already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideTracing(ctx, cfg, logger)

	dbConn, err := provideDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DB = dbConn

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	aiEmbedder := lookupEmbedder(g, cfg)
	if aiEmbedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}

	embedder, err := embed.New(aiEmbedder, embed.Config{
		Dim:        cfg.EmbedDim,
		RequestDim: cfg.Provider == config.ProviderGemini || cfg.Provider == "",
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	if err := embedder.VerifySchema(ctx, a.DB); err != nil {
		return nil, err
	}
	a.Embedder = embedder

	store, err := logstore.New(a.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("creating log store: %w", err)
	}
	a.Store = store

	searchEngine, err := search.New(a.DB, embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("creating search engine: %w", err)
	}
	a.Search = searchEngine

	ragEngine, err := rag.New(g, embedder, searchEngine, rag.Config{
		ModelName:       cfg.FullModelName(),
		TopK:            cfg.RAGTopK,
		MaxContextChars: cfg.RAGMaxContextChars,
		Timeout:         cfg.RAGTimeout,
		Retry: rag.RetryConfig{
			MaxRetries: cfg.RAGMaxRetries,
			Backoff:    cfg.RAGRetryBackoff,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating rag engine: %w", err)
	}
	a.RAG = ragEngine

	svc, err := ingest.New(store, embedder, ingest.Config{
		EmbedBatchSize: cfg.EmbedBatchSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating ingest service: %w", err)
	}
	a.Ingest = svc

	return a, nil
}

// provideTracing sets up OTLP trace export before Genkit
// initialization so the TracerProvider is ready when flows register.
// Export problems disable tracing but never block startup.
func provideTracing(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	if !cfg.Otel.Enabled {
		return func() {}
	}

	endpoint := cfg.Otel.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}

	// Set OTEL env vars for Genkit's TracerProvider to pick up.
	// os.Setenv is not concurrent-safe, but Setup runs exactly once
	// during startup, before goroutines are spawned.
	if cfg.Otel.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.Otel.ServiceName)
	}
	if cfg.Otel.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Otel.Environment)
	}

	// The endpoint is a local agent or collector; it handles
	// authentication and forwarding.
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating otlp exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("trace export enabled",
		"endpoint", endpoint,
		"service", cfg.Otel.ServiceName,
		"environment", cfg.Otel.Environment)

	shutdown := tracing.TracerProvider().Shutdown

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDB applies pending migrations and opens the connection pool.
func provideDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*postgres.DB, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return postgres.New(ctx, postgres.Config{
		DSN:              cfg.PostgresConnectionString(),
		MaxConns:         cfg.PostgresMaxConns,
		MinConns:         cfg.PostgresMinConns,
		AcquireTimeout:   cfg.PostgresAcquireTimeout,
		StatementTimeout: cfg.PostgresStatementTimeout,
	}, logger)
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default), ollama, and openai.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	var g *genkit.Genkit

	switch provider {
	case config.ProviderOllama:
		plugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(plugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery)
		plugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		plugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit with openai provider", "model", cfg.ModelName)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// lookupEmbedder finds the embedder registered by the provider plugin.
// Each provider registers embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - ollama: registered in provideGenkit, keyed by server address
//   - openai: auto-registered in Init(), looked up by model name
func lookupEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // gemini
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}
