// Package mcp implements the Model Context Protocol server for the gateway.
//
// # Protocol
//
// The server implements the MCP Streamable HTTP transport: JSON-RPC 2.0
// over HTTP POST on a single /mcp endpoint, with sessions tracked via the
// Mcp-Session-Id header. Server-initiated SSE streams are not supported.
//
// # Authentication
//
// A session is bound to exactly one user at initialize time, resolved from
// one of:
//
//   - an access token in the URL path (/mcp/<token>) or ?token= query
//     parameter, minted by the login flow
//   - a Bearer JWT whose "sub" claim carries the user ID
//
// The bound identity is immutable for the session's lifetime; tools/call
// requests inherit it and never carry identity in the call payload.
//
// # Methods
//
//   - initialize: handshake, creates a session
//   - tools/list: returns the tool catalog with JSON Schema inputs
//   - tools/call: dispatches a tool invocation for the session's user
//
// Unknown tool names and malformed requests surface as JSON-RPC errors
// here; tool-level outcomes (including failures) are envelopes produced
// by the dispatcher.
package mcp
