// Package app assembles the application from configuration: trace
// export, the migrated database pool, the Genkit AI provider, and the
// stores and engines built on top. Every entry point (serve, ingest,
// search, ask, mcp) calls Setup once and shares the result.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/genkit"

	"github.com/logsift/logsift/internal/config"
	"github.com/logsift/logsift/internal/embed"
	"github.com/logsift/logsift/internal/ingest"
	"github.com/logsift/logsift/internal/logstore"
	"github.com/logsift/logsift/internal/postgres"
	"github.com/logsift/logsift/internal/rag"
	"github.com/logsift/logsift/internal/search"
)

// App is the assembled application. Fields are populated by Setup;
// Close releases them in reverse initialization order.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	DB       *postgres.DB
	Genkit   *genkit.Genkit
	Embedder *embed.Provider
	Store    *logstore.Store
	Search   *search.Engine
	RAG      *rag.Engine
	Ingest   *ingest.Service

	otelCleanup func()
}

// Close shuts down the application. It is safe on a partially
// initialized App (Setup calls it when a later step fails) and safe to
// call more than once.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
	}

	// Trace export was set up first, so it is flushed last.
	if a.otelCleanup != nil {
		a.otelCleanup()
		a.otelCleanup = nil
	}

	return nil
}
