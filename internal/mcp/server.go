package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/logsift/logsift/internal/rag"
	"github.com/logsift/logsift/internal/search"
)

// Searcher retrieves log events for a text query. *search.Engine
// implements it.
type Searcher interface {
	SearchText(ctx context.Context, query string, topK int, f search.Filters) ([]search.Result, error)
}

// Asker answers a question from stored log events. *rag.Engine
// implements it.
type Asker interface {
	Ask(ctx context.Context, question string, opts ...rag.AskOption) (*rag.Answer, error)
}

// Config holds MCP server configuration.
type Config struct {
	Name     string
	Version  string
	Searcher Searcher
	Asker    Asker
	Logger   *slog.Logger
}

// Server exposes log search and question answering as MCP tools.
type Server struct {
	mcpServer *mcp.Server
	searcher  Searcher
	asker     Asker
	logger    *slog.Logger
	name      string
	version   string
}

// NewServer creates an MCP server with the log tools registered.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if cfg.Searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if cfg.Asker == nil {
		return nil, fmt.Errorf("asker is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		searcher: cfg.Searcher,
		asker:    cfg.Asker,
		logger:   logger,
		name:     cfg.Name,
		version:  cfg.Version,
	}

	if err := s.registerLogTools(); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	return s, nil
}

// Run serves MCP protocol traffic on the given transport. It blocks
// until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("mcp server starting", "name", s.name, "version", s.version)
	return s.mcpServer.Run(ctx, transport)
}
