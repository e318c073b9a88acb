// Package mcp contains protocol data types and constants shared across
// transports: tool discovery and invocation, plus the initialize handshake.
// It mirrors the wire representation of the Model Context Protocol's JSON-RPC
// surface while keeping the Go side friendly (exported structs with json
// tags, string constants for method names).
//
// The package is intentionally free of transport logic: the stream and HTTP
// transports import these types but implement their own framing,
// authentication and session handling.
package mcp
