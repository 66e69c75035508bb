// Package oauth provides the OAuth 2.1 primitives shared by switchboard's
// token lifecycle code and its command-line tooling.
//
// # Core Components
//
//   - TokenData: token material stored per organization-plugin pair, with
//     refresh-buffer checks and redacting String/LogValue methods
//   - PKCE: Proof Key for Code Exchange generation (RFC 7636)
//   - GenerateState: random nonces for the authorization state store
//
// Token types returned by providers are normalized with CanonicalTokenType, so
// the Authorization header always reads "Bearer <token>" regardless of the
// casing a provider used.
//
// # Usage
//
//	pkce, err := oauth.GeneratePKCE()
//	if err != nil {
//	    return err
//	}
//	state, err := oauth.GenerateState()
//
//	td := oauth.FromOAuth2Token(tok, previous)
//	if td.NeedsRefresh(time.Now()) {
//	    // refresh before calling the plugin
//	}
package oauth
