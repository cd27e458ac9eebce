// Package mcp implements a Model Context Protocol server for log
// retrieval.
//
// The server exposes two tools over an MCP transport (normally stdio),
// letting agent and IDE clients query ingested logs without going
// through the HTTP API:
//
//   - search_logs: semantic similarity search over stored log events,
//     with optional service and level filters.
//   - ask_logs: retrieval-augmented question answering; the answer
//     cites the log event IDs it was grounded on.
//
// # Tool handler pattern
//
// Each tool is a struct-typed input (schema inferred with
// jsonschema-go), an mcp.Tool registration, and a handler method that
// calls the search or RAG engine directly and marshals the result as
// JSON text content. There is no conversion layer.
//
// # Error handling
//
// Invalid tool arguments (empty query, out-of-range top_k) come back
// as tool results with IsError set, so the client can correct the call.
// Backend failures (database down, embedding provider unreachable)
// propagate as MCP protocol errors.
package mcp
