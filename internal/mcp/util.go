package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/logsift/logsift/internal/embed"
	"github.com/logsift/logsift/internal/search"
)

// jsonResult marshals data as the single text content of a successful
// tool call. All tool output is JSON text; clients parse it.
func jsonResult(data any) (*mcp.CallToolResult, any, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}, nil, nil
}

// errorResult reports a caller mistake as a tool-level error so the
// client can fix its arguments and retry. Backend failures go out as
// protocol errors instead.
func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}

// isInputError reports whether err came from invalid tool arguments
// rather than a backend failure.
func isInputError(err error) bool {
	return errors.Is(err, search.ErrInvalidInput) || errors.Is(err, embed.ErrInvalidInput)
}
