package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/logsift/logsift/internal/logstore"
	"github.com/logsift/logsift/internal/rag"
	"github.com/logsift/logsift/internal/search"
)

// connectServer creates a logsift MCP server from the given config and
// an SDK client connected via in-memory transports. Returns the client
// session for making protocol calls. Both sessions are cleaned up via
// t.Cleanup.
func connectServer(t *testing.T, cfg Config) *mcp.ClientSession {
	t.Helper()

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() unexpected error: %v", err)
	}

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.mcpServer.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server.Connect() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client.Connect() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = clientSession.Close() })

	return clientSession
}

// callToolJSON invokes a tool and parses its single text content as JSON.
func callToolJSON(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) map[string]any {
	t.Helper()

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%q) unexpected error: %v", name, err)
	}
	if result.IsError {
		t.Fatalf("CallTool(%q) returned error result: %v", name, result.Content)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%q) returned empty content", name)
	}

	textContent, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%q) content[0] type = %T, want *mcp.TextContent", name, result.Content[0])
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(textContent.Text), &parsed); err != nil {
		t.Fatalf("CallTool(%q) parsing JSON: %v\ntext: %s", name, err, textContent.Text)
	}
	return parsed
}

func TestProtocol_ListTools(t *testing.T) {
	session := connectServer(t, validConfig())

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools() unexpected error: %v", err)
	}

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
		if tool.Description == "" {
			t.Errorf("ListTools() tool %q has empty description", tool.Name)
		}
	}
	sort.Strings(names)

	wantNames := []string{ToolAskLogs, ToolSearchLogs}
	if len(names) != len(wantNames) {
		t.Fatalf("ListTools() returned %d tools, want %d\ngot:  %v\nwant: %v", len(names), len(wantNames), names, wantNames)
	}
	for i, got := range names {
		if got != wantNames[i] {
			t.Errorf("ListTools() tool[%d] = %q, want %q", i, got, wantNames[i])
		}
	}
}

func TestProtocol_CallTool_SearchLogs(t *testing.T) {
	ts := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	searcher := &stubSearcher{
		results: []search.Result{
			{
				Event: logstore.Event{
					ID:      41,
					BatchID: uuid.MustParse("5a9c5b5e-0c1f-4f43-9f0a-97a61e6a5f31"),
					TS:      &ts,
					Level:   "ERROR",
					Service: "payments",
					Message: "card declined",
				},
				Distance: 0.12,
				Rank:     1,
			},
		},
	}

	cfg := validConfig()
	cfg.Searcher = searcher
	session := connectServer(t, cfg)

	parsed := callToolJSON(t, session, ToolSearchLogs, map[string]any{
		"query":   "card errors",
		"top_k":   3,
		"service": "payments",
		"level":   "ERROR",
	})

	if parsed["query"] != "card errors" {
		t.Errorf("query = %v, want %q", parsed["query"], "card errors")
	}
	if count, ok := parsed["result_count"].(float64); !ok || count != 1 {
		t.Errorf("result_count = %v, want 1", parsed["result_count"])
	}

	results, ok := parsed["results"].([]any)
	if !ok || len(results) != 1 {
		t.Fatalf("results = %v, want one entry", parsed["results"])
	}
	first, ok := results[0].(map[string]any)
	if !ok {
		t.Fatalf("results[0] type = %T, want object", results[0])
	}
	if first["message"] != "card declined" {
		t.Errorf("results[0].message = %v, want %q", first["message"], "card declined")
	}
	if dist, ok := first["distance"].(float64); !ok || dist != 0.12 {
		t.Errorf("results[0].distance = %v, want 0.12", first["distance"])
	}

	// Arguments must reach the engine unchanged.
	if searcher.gotQuery != "card errors" {
		t.Errorf("engine query = %q, want %q", searcher.gotQuery, "card errors")
	}
	if searcher.gotTopK != 3 {
		t.Errorf("engine topK = %d, want 3", searcher.gotTopK)
	}
	if searcher.gotFilters.Service != "payments" || searcher.gotFilters.Level != "ERROR" {
		t.Errorf("engine filters = %+v, want payments/ERROR", searcher.gotFilters)
	}
}

func TestProtocol_CallTool_SearchLogs_DefaultTopK(t *testing.T) {
	searcher := &stubSearcher{}
	cfg := validConfig()
	cfg.Searcher = searcher
	session := connectServer(t, cfg)

	parsed := callToolJSON(t, session, ToolSearchLogs, map[string]any{"query": "anything"})

	if searcher.gotTopK != defaultSearchTopK {
		t.Errorf("engine topK = %d, want default %d", searcher.gotTopK, defaultSearchTopK)
	}
	// nil results still render as an empty array.
	if results, ok := parsed["results"].([]any); !ok || len(results) != 0 {
		t.Errorf("results = %v, want empty array", parsed["results"])
	}
}

func TestProtocol_CallTool_AskLogs(t *testing.T) {
	asker := &stubAsker{
		answer: &rag.Answer{
			Text: "The payments service rejected the card at 12:00 UTC.",
			Sources: []rag.Source{
				{ID: 41, Message: "card declined", Distance: 0.12},
			},
		},
	}
	cfg := validConfig()
	cfg.Asker = asker
	session := connectServer(t, cfg)

	parsed := callToolJSON(t, session, ToolAskLogs, map[string]any{
		"question": "why did the payment fail?",
		"top_k":    7,
	})

	if parsed["answer"] != "The payments service rejected the card at 12:00 UTC." {
		t.Errorf("answer = %v, want the stub text", parsed["answer"])
	}
	if degraded, ok := parsed["degraded"].(bool); !ok || degraded {
		t.Errorf("degraded = %v, want false", parsed["degraded"])
	}
	sources, ok := parsed["sources"].([]any)
	if !ok || len(sources) != 1 {
		t.Fatalf("sources = %v, want one entry", parsed["sources"])
	}

	if asker.gotQuestion != "why did the payment fail?" {
		t.Errorf("engine question = %q", asker.gotQuestion)
	}
	if asker.gotOptCount != 1 {
		t.Errorf("engine opt count = %d, want 1 (top_k override)", asker.gotOptCount)
	}
}

func TestProtocol_CallTool_AskLogs_Degraded(t *testing.T) {
	cfg := validConfig()
	cfg.Asker = &stubAsker{answer: &rag.Answer{Text: rag.DegradedAnswerText, Degraded: true}}
	session := connectServer(t, cfg)

	parsed := callToolJSON(t, session, ToolAskLogs, map[string]any{"question": "anything"})

	// A degraded answer is a successful call; the flag carries the signal.
	if degraded, ok := parsed["degraded"].(bool); !ok || !degraded {
		t.Errorf("degraded = %v, want true", parsed["degraded"])
	}
}

func TestProtocol_CallTool_InvalidInput(t *testing.T) {
	cfg := validConfig()
	cfg.Searcher = &stubSearcher{err: fmt.Errorf("searching: %w", search.ErrInvalidInput)}
	session := connectServer(t, cfg)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolSearchLogs,
		Arguments: map[string]any{"query": ""},
	})
	if err != nil {
		t.Fatalf("CallTool() unexpected protocol error: %v", err)
	}

	if !result.IsError {
		t.Fatal("CallTool() IsError = false, want tool-level error for invalid input")
	}
	textContent, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] type = %T, want *mcp.TextContent", result.Content[0])
	}
	if !strings.Contains(textContent.Text, search.ErrInvalidInput.Error()) {
		t.Errorf("error text = %q, want to contain %q", textContent.Text, search.ErrInvalidInput.Error())
	}
}

func TestProtocol_CallTool_BackendError(t *testing.T) {
	cfg := validConfig()
	cfg.Asker = &stubAsker{err: errors.New("acquiring connection: pool timeout")}
	session := connectServer(t, cfg)

	_, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolAskLogs,
		Arguments: map[string]any{"question": "anything"},
	})
	if err == nil {
		t.Fatal("CallTool() expected protocol error for backend failure, got nil")
	}
}

func TestProtocol_CallTool_UnknownTool(t *testing.T) {
	session := connectServer(t, validConfig())

	_, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "nonexistent_tool",
	})
	if err == nil {
		t.Fatal("CallTool(nonexistent_tool) expected error, got nil")
	}
	if !strings.Contains(err.Error(), "nonexistent_tool") {
		t.Errorf("CallTool(nonexistent_tool) error = %q, want to contain tool name", err.Error())
	}
}
