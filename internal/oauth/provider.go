package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/oauth2"

	"switchboard/internal/plugin"
	pkgoauth "switchboard/pkg/oauth"
)

// RedirectURIEnv overrides the callback URL derived from the public URL.
const RedirectURIEnv = "OAUTH_REDIRECT_URI"

// Provider is the resolved OAuth client configuration for one plugin.
type Provider struct {
	PluginID      string
	Config        *oauth2.Config
	RevocationURL string
	PKCE          bool
	ExtraParams   map[string]string
}

// ProviderResolver builds Provider values from manifests and the environment.
type ProviderResolver struct {
	manifests    plugin.ManifestSource
	publicURL    string
	callbackPath string
	getenv       func(string) string
}

// NewProviderResolver creates a resolver. A nil getenv uses os.Getenv.
func NewProviderResolver(manifests plugin.ManifestSource, publicURL, callbackPath string, getenv func(string) string) *ProviderResolver {
	if getenv == nil {
		getenv = os.Getenv
	}
	if callbackPath == "" {
		callbackPath = "/oauth/callback"
	}
	return &ProviderResolver{
		manifests:    manifests,
		publicURL:    strings.TrimSuffix(publicURL, "/"),
		callbackPath: callbackPath,
		getenv:       getenv,
	}
}

// RedirectURL returns the callback URL registered with providers.
func (r *ProviderResolver) RedirectURL() string {
	if override := r.getenv(RedirectURIEnv); override != "" {
		return override
	}
	return r.publicURL + r.callbackPath
}

// ClientIDEnv returns the environment variable holding the client id of pluginID.
func ClientIDEnv(pluginID string) string {
	return pkgoauth.EnvPrefix(pluginID) + "_OAUTH_CLIENT_ID"
}

// ClientSecretEnv returns the environment variable holding the client secret of pluginID.
func ClientSecretEnv(pluginID string) string {
	return pkgoauth.EnvPrefix(pluginID) + "_OAUTH_CLIENT_SECRET"
}

// Resolve returns the provider configuration for pluginID.
func (r *ProviderResolver) Resolve(pluginID string) (*Provider, error) {
	manifest, err := r.manifests.Manifest(pluginID)
	if err != nil {
		return nil, err
	}
	if !manifest.SupportsOAuth() {
		return nil, fmt.Errorf("%w: %s", ErrOAuthNotSupported, pluginID)
	}

	clientID := r.getenv(ClientIDEnv(pluginID))
	if clientID == "" {
		return nil, fmt.Errorf("%w: set %s", ErrClientNotConfigured, ClientIDEnv(pluginID))
	}

	return &Provider{
		PluginID: pluginID,
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: r.getenv(ClientSecretEnv(pluginID)),
			Endpoint: oauth2.Endpoint{
				AuthURL:  manifest.OAuth.AuthorizationURL,
				TokenURL: manifest.OAuth.TokenURL,
				// Credentials travel in the form body; an empty secret is omitted.
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: r.RedirectURL(),
			Scopes:      manifest.OAuth.Scopes,
		},
		RevocationURL: manifest.OAuth.RevocationURL,
		PKCE:          manifest.OAuth.PKCE,
		ExtraParams:   manifest.OAuth.ExtraParams,
	}, nil
}

// AuthCodeURL builds the authorization URL for state and, when PKCE is on, verifier.
func (p *Provider) AuthCodeURL(state, verifier string) string {
	opts := make([]oauth2.AuthCodeOption, 0, len(p.ExtraParams)+1)
	for k, v := range p.ExtraParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	if verifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	return p.Config.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for tokens.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	return p.Config.Exchange(ctx, code, opts...)
}

// Refresh obtains a new access token with refreshToken.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return p.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// Revoke asks the provider to revoke token (RFC 7009). It is a no-op when the
// manifest names no revocation endpoint.
func (p *Provider) Revoke(ctx context.Context, client *http.Client, token, hint string) error {
	if p.RevocationURL == "" || token == "" {
		return nil
	}
	form := url.Values{}
	form.Set("token", token)
	if hint != "" {
		form.Set("token_type_hint", hint)
	}
	form.Set("client_id", p.Config.ClientID)
	if p.Config.ClientSecret != "" {
		form.Set("client_secret", p.Config.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.RevocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("revocation request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("revocation failed: status=%d", resp.StatusCode)
	}
	return nil
}

// isInvalidGrant reports whether err is a provider rejection of the refresh token.
func isInvalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	return errors.As(err, &re) && re.ErrorCode == "invalid_grant"
}
