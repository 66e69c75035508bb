// Package auth resolves how switchboard authenticates to a plugin's MCP server.
//
// A Strategy produces the HTTP headers (for remote plugins) or environment
// variables (for stdio plugins) carrying the organization's credentials.
// Two strategies exist:
//
//   - OAuthStrategy uses tokens managed by the oauth.TokenManager and renews
//     them before every use when they are close to expiry.
//   - APIKeyStrategy reads the API key from the instance configuration,
//     decrypting it with the vault. API keys never expire.
//
// Resolver picks the strategy for an organization-plugin pair: OAuth first,
// then API key. When neither is available the caller proceeds without
// credentials and the plugin server answers with its own 401.
//
// Access tokens are always sent as "Authorization: Bearer <token>", with the
// canonical capitalization, whatever token_type casing the provider returned.
package auth
