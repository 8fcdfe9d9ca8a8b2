// Package mcp implements the Model Context Protocol server for coding agents.
//
// # Overview
//
// MCP (Model Context Protocol) is a standard for AI tool integration. This
// package provides an MCP-compatible HTTP server exposing the agent
// communication and task lifecycle operations as tools to MCP clients
// (Claude Code, other LLM harnesses, or custom applications).
//
// # Protocol
//
// The server implements the Streamable HTTP transport: JSON-RPC 2.0 over a
// single /mcp endpoint.
//
//   - POST /mcp - initialize, tools/list, tools/call
//   - DELETE /mcp - session termination (Mcp-Session-Id header)
//
// Server-initiated SSE streams are not supported; every tool call returns
// its result inline, including the blocking wait_for_response.
//
// # Authentication
//
// Two schemes are accepted on initialize:
//
//	POST /mcp/<token>            opaque token from the TokenStore
//	Authorization: Bearer <jwt>  HS256 JWT verified by internal/auth
//
// The resulting session carries the authenticated principal; subsequent
// requests only need the Mcp-Session-Id header.
//
// # Tool results
//
// Every tool produces a JSON envelope with a "status" field. Service errors
// are folded into {"status":"error","error":...} with isError set on the
// MCP result; JSON-RPC errors are reserved for protocol-level failures.
package mcp
