// Package mcpclient speaks the Model Context Protocol to plugin tool servers.
//
// Remote plugins are reached with HTTPClient, built on the mcp-go streamable
// HTTP transport, which POSTs JSON-RPC 2.0 envelopes and accepts either a
// plain JSON response or a text/event-stream response. Below it, an
// http.RoundTripper reads event streams incrementally and keeps only the
// message whose id matches the request, closing the stream as soon as it is
// found. The response Content-Type decides how a body is parsed, so a server
// announcing SSE but answering with JSON still works.
//
// Local plugins run as subprocesses and are reached with StdioClient, a thin
// wrapper around the mcp-go stdio transport.
//
// Both implement Client. Connect performs the initialize handshake;
// ListTools and CallTool connect lazily. Errors reported by a tool are
// returned as a ToolResult with IsError set. Transport failures are returned
// as Go errors, usually *TransportError, and the runtime maps them to the
// plugin instance's error status.
//
// Request headers are obtained from a HeaderProvider once per request and
// handed to the transport's header func through the request context, so a
// refreshed OAuth token is used without reconnecting.
package mcpclient
