// Package runtime runs plugin instances: it builds an authenticated MCP
// client per instance, tracks the instance lifecycle in the registry and
// dispatches tool calls.
//
// Instance status moves stopped -> starting -> ready, or to error when the
// server cannot be reached. A failing health check marks a ready instance
// degraded; a transport failure during a tool call marks it error and drops
// the cached client so the next call reconnects. Every status change is
// published on the organization's plugin channel.
package runtime
