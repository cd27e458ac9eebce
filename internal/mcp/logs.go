package mcp

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/logsift/logsift/internal/rag"
	"github.com/logsift/logsift/internal/search"
)

// Tool names exposed to MCP clients.
const (
	ToolSearchLogs = "search_logs"
	ToolAskLogs    = "ask_logs"
)

// defaultSearchTopK is used when a search_logs call omits top_k.
const defaultSearchTopK = 10

// SearchLogsInput is the input schema for the search_logs tool.
type SearchLogsInput struct {
	Query   string `json:"query" jsonschema:"Text to match against stored log events by semantic similarity."`
	TopK    int    `json:"top_k,omitempty" jsonschema:"Number of results to return (1-100, default 10)."`
	Service string `json:"service,omitempty" jsonschema:"Restrict results to one service name."`
	Level   string `json:"level,omitempty" jsonschema:"Restrict results to one log level, e.g. ERROR or WARN."`
}

// AskLogsInput is the input schema for the ask_logs tool.
type AskLogsInput struct {
	Question string `json:"question" jsonschema:"Question to answer from the ingested logs."`
	TopK     int    `json:"top_k,omitempty" jsonschema:"Number of log events to ground the answer on (1-100, default 5)."`
}

// registerLogTools registers search_logs and ask_logs.
func (s *Server) registerLogTools() error {
	searchSchema, err := jsonschema.For[SearchLogsInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolSearchLogs, err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolSearchLogs,
		Description: "Search ingested log events using semantic similarity. " +
			"Returns the closest events with level, service, message, stack trace and distance. " +
			"Optional filters narrow by service and log level.",
		InputSchema: searchSchema,
	}, s.SearchLogs)

	askSchema, err := jsonschema.For[AskLogsInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolAskLogs, err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolAskLogs,
		Description: "Answer a question about the ingested logs. " +
			"Retrieves the most relevant log events and generates a grounded answer " +
			"that cites the event IDs it used.",
		InputSchema: askSchema,
	}, s.AskLogs)

	return nil
}

// SearchLogs handles the search_logs MCP tool call.
func (s *Server) SearchLogs(ctx context.Context, _ *mcp.CallToolRequest, in SearchLogsInput) (*mcp.CallToolResult, any, error) {
	topK := in.TopK
	if topK <= 0 {
		topK = defaultSearchTopK
	}

	results, err := s.searcher.SearchText(ctx, in.Query, topK, search.Filters{
		Service: in.Service,
		Level:   in.Level,
	})
	if err != nil {
		if isInputError(err) {
			return errorResult(err), nil, nil
		}
		return nil, nil, fmt.Errorf("%s: %w", ToolSearchLogs, err)
	}
	if results == nil {
		results = []search.Result{}
	}

	s.logger.Debug("mcp search served", "query_len", len(in.Query), "results", len(results))

	return jsonResult(map[string]any{
		"query":        in.Query,
		"result_count": len(results),
		"results":      results,
	})
}

// AskLogs handles the ask_logs MCP tool call. A degraded answer (the
// model failed after retries) is still a successful result; Degraded
// tells the client not to trust citations that are not there.
func (s *Server) AskLogs(ctx context.Context, _ *mcp.CallToolRequest, in AskLogsInput) (*mcp.CallToolResult, any, error) {
	var opts []rag.AskOption
	if in.TopK > 0 {
		opts = append(opts, rag.WithTopK(in.TopK))
	}

	answer, err := s.asker.Ask(ctx, in.Question, opts...)
	if err != nil {
		if isInputError(err) {
			return errorResult(err), nil, nil
		}
		return nil, nil, fmt.Errorf("%s: %w", ToolAskLogs, err)
	}

	s.logger.Debug("mcp ask served", "sources", len(answer.Sources), "degraded", answer.Degraded)

	return jsonResult(answer)
}
