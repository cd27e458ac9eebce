// Package cmd provides the logsift CLI commands.
//
// Commands:
//   - serve: HTTP JSON API server
//   - ingest: parse and embed a log file
//   - backfill: re-embed the events a partial batch skipped
//   - search: similarity search from the terminal
//   - ask: one-shot question answering over ingested logs
//   - batches: list, show, and delete ingest batches
//   - migrate: apply schema migrations / report schema status
//   - mcp: Model Context Protocol server on stdio
//
// Signal handling and graceful shutdown are implemented for the
// long-running commands via context cancellation.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/logsift/logsift/internal/app"
	"github.com/logsift/logsift/internal/config"
	"github.com/logsift/logsift/internal/log"
)

// Execute is the main entry point for the logsift CLI.
func Execute() error {
	// Early logger so config loading failures are visible; commands
	// replace it with the configured one after Load.
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(log.New(log.Config{Level: level}))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "ingest":
		return runIngest()
	case "backfill":
		return runBackfill()
	case "search":
		return runSearch()
	case "ask":
		return runAsk()
	case "batches":
		return runBatches()
	case "migrate":
		return runMigrate()
	case "mcp":
		return runMCP()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// initApp loads configuration, installs the configured logger as the
// slog default, and assembles the application. Callers own a.Close().
func initApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	logger := log.New(log.Config{Level: level, JSON: cfg.LogJSON})
	slog.SetDefault(logger)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing application: %w", err)
	}
	return a, nil
}

// commandArgs returns the arguments after the command word.
func commandArgs() []string {
	if len(os.Args) > 2 {
		return os.Args[2:]
	}
	return nil
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("logsift - semantic search and Q&A over your logs")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  logsift serve [addr]               Start the HTTP API server (default: 127.0.0.1:3600)")
	fmt.Println("  logsift ingest <file> [flags]      Parse a log file and embed its events")
	fmt.Println("  logsift backfill <batch-id>        Re-embed the events a partial batch skipped")
	fmt.Println("  logsift search <query> [flags]     Similarity search over ingested events")
	fmt.Println("  logsift ask <question> [flags]     Answer a question from the ingested logs")
	fmt.Println("  logsift batches [list|show|delete] Manage ingest batches")
	fmt.Println("  logsift migrate [status]           Apply schema migrations / show schema status")
	fmt.Println("  logsift mcp                        Start the MCP server on stdio")
	fmt.Println("  logsift version                    Show version information")
	fmt.Println("  logsift help                       Show this help")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  ingest:  --service NAME  --env NAME  --source-name NAME")
	fmt.Println("  search:  --k N  --service NAME  --level LEVEL  --from RFC3339  --to RFC3339")
	fmt.Println("  ask:     --k N")
	fmt.Println("  batches: list [--status S] [--limit N]")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY       API key for the default gemini provider")
	fmt.Println("  DATABASE_URL         Postgres URL, overrides the postgres_* settings")
	fmt.Println("  LOGSIFT_AI_PROVIDER  gemini (default), ollama, or openai")
	fmt.Println("  DEBUG                Enable debug logging before config is loaded")
	fmt.Println()
	fmt.Println("Learn more: https://github.com/logsift/logsift")
}
