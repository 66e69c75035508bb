// Package logging provides the structured logging used across switchboard.
//
// It wraps Go's standard slog package behind a small subsystem-oriented API so
// every component logs the same way:
//
//	logging.InitForServer(logging.LevelInfo, os.Stderr, true)
//
//	logging.Info("OAuth", "Stored tokens for org=%s plugin=%s", orgID, pluginID)
//	logging.Warn("Auth", "No credentials available for plugin=%s", pluginID)
//	logging.Error("EventBus", err, "Publish to %s failed", channel)
//
// # Subsystems
//
// Each entry carries a subsystem attribute naming the component that emitted it:
//
//   - Vault: credential encryption at rest
//   - OAuth: authorization flows, state store and token refresh
//   - Auth: strategy resolution for plugin calls
//   - MCPClient: JSON-RPC dispatch to tool servers
//   - Runtime: plugin instance orchestration
//   - Conversation: message and state transitions
//   - EventBus: cross-instance publish/subscribe
//   - Relay: WebSocket fan-out to connected clients
//   - Server, Config, Catalog: process plumbing
//
// # Secrets
//
// Token material must never reach the logger. Use TruncateID for identifiers
// such as nonces or worker IDs, and rely on the redacting String methods of
// pkg/oauth.TokenData when logging token metadata.
//
// # Audit Logging
//
// Security-relevant outcomes (state validation failures, replayed nonces,
// token revocation) are logged with Audit:
//
//	logging.Audit(logging.AuditEvent{
//	    Action:   "oauth_callback",
//	    Outcome:  "rejected",
//	    Reason:   "state not found or expired",
//	})
//
// Audit events are logged at INFO level with an [AUDIT] prefix so log
// aggregation can filter them. The Reason field carries the detailed cause and
// is never returned to untrusted callers.
package logging
