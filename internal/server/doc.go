// Package server exposes switchboard over HTTP.
//
// The router is built on gin and serves:
//
//   - GET  /oauth/callback (configurable) completing plugin OAuth flows
//   - POST /api/v1/orgs/:orgID/plugins/:pluginID/oauth/authorize
//   - DELETE /api/v1/orgs/:orgID/plugins/:pluginID/oauth
//   - GET  /api/v1/orgs/:orgID/auth/status
//   - plugin lifecycle and tool routes under /api/v1/orgs/:orgID/plugins
//   - conversation routes under /api/v1/conversations and /api/v1/messages
//   - GET  /api/v1/nonce issuing replay-guard nonces
//   - GET  /ws?org=<id>[&conversation=<id>] the live event relay
//   - GET  /healthz and GET /metrics
//
// Caller authentication happens in front of switchboard. The acting user is
// taken from the X-User-ID header and only recorded, never checked.
//
// When a replay guard is configured, state-changing OAuth routes require a
// single-use nonce in the X-Switchboard-Nonce header. A rejected request
// gets a generic 401 and a fresh nonce in the same header.
package server
