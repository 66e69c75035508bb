// Package oauth runs the OAuth authorization-code flow for plugins and keeps
// the resulting tokens fresh.
//
// # Flow
//
//  1. InitiateAuthorization stores a one-time state (and PKCE verifier) in
//     the StateStore and returns the provider's authorization URL.
//  2. The provider redirects the browser to /oauth/callback. HandleCallback
//     consumes the state, exchanges the code and stores the vault-encrypted
//     tokens in the instance's AuthState.
//  3. GetValidToken returns a token for plugin calls, refreshing it once it
//     is within five minutes of expiry.
//
// Client credentials come from the environment, named after the plugin id:
// GOOGLE_DRIVE_OAUTH_CLIENT_ID and GOOGLE_DRIVE_OAUTH_CLIENT_SECRET for the
// plugin "google-drive". The secret is optional; when it is absent no
// client_secret parameter is sent at all.
//
// # Failure semantics
//
// An unknown, expired or replayed state is reported to the browser with one
// generic message. The precise cause only reaches the audit log.
//
// A failed refresh is not fatal while the current token is still valid: the
// stale token is returned and a warning is logged. Only when the token has
// actually expired does GetValidToken fail.
package oauth
