// Package tools implements the Monarch Money tool catalog and dispatcher.
//
// # Overview
//
// A Tool is a named, schema-validated operation exposed to MCP clients.
// The catalog is built once at startup (see Catalog), compiled into an
// immutable Registry, and shared read-only across concurrent invocations.
//
// # Dispatch
//
// The Dispatcher executes one invocation end to end:
//
//  1. Look up the tool definition by name.
//  2. Validate raw arguments against the compiled JSON Schema and apply
//     declared defaults. Failures here never reach the store or upstream.
//  3. Resolve the session user's stored credential. Absence is a normal
//     state rendered as setup guidance, not an error.
//  4. Construct an upstream client bound to the credential.
//  5. Invoke the handler and project the result.
//  6. Render the outcome as a response envelope.
//
// Every failure from credential resolution onward is caught and rendered
// as an error envelope; nothing propagates to the transport layer except
// ErrUnknownTool.
//
// # Concurrency
//
// Invocations for different tools or users may interleave freely: the
// registry is immutable, the credential store performs only reads on this
// path, and each upstream client is invocation-local.
package tools
