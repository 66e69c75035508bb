package oauth

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"switchboard/internal/plugin"
)

func TestEnvNames(t *testing.T) {
	assert.Equal(t, "GOOGLE_DRIVE_OAUTH_CLIENT_ID", ClientIDEnv("google-drive"))
	assert.Equal(t, "GOOGLE_DRIVE_OAUTH_CLIENT_SECRET", ClientSecretEnv("google-drive"))
}

func TestProviderResolver_Resolve(t *testing.T) {
	manifest := &plugin.Manifest{
		ID: "acme-docs", Transport: plugin.TransportHTTP, URL: "http://x",
		OAuth: &plugin.OAuthProvider{AuthorizationURL: "https://a/authorize", TokenURL: "https://a/token", Scopes: []string{"s1", "s2"}},
	}
	noOAuth := &plugin.Manifest{ID: "plain", Transport: plugin.TransportHTTP, URL: "http://y"}
	catalog := plugin.NewStaticCatalog(manifest, noOAuth)

	env := map[string]string{}
	r := NewProviderResolver(catalog, "https://sb.example/", "", func(k string) string { return env[k] })

	_, err := r.Resolve("acme-docs")
	assert.ErrorIs(t, err, ErrClientNotConfigured)

	_, err = r.Resolve("plain")
	assert.ErrorIs(t, err, ErrOAuthNotSupported)

	_, err = r.Resolve("missing")
	assert.ErrorIs(t, err, plugin.ErrManifestNotFound)

	env["ACME_DOCS_OAUTH_CLIENT_ID"] = "cid"
	p, err := r.Resolve("acme-docs")
	require.NoError(t, err)
	assert.Equal(t, "cid", p.Config.ClientID)
	assert.Empty(t, p.Config.ClientSecret)
	assert.Equal(t, oauth2.AuthStyleInParams, p.Config.Endpoint.AuthStyle)
	assert.Equal(t, "https://sb.example/oauth/callback", p.Config.RedirectURL)

	env[RedirectURIEnv] = "https://override.example/cb"
	p, err = r.Resolve("acme-docs")
	require.NoError(t, err)
	assert.Equal(t, "https://override.example/cb", p.Config.RedirectURL)
}

func TestProvider_AuthCodeURL(t *testing.T) {
	p := &Provider{
		Config: &oauth2.Config{
			ClientID:    "cid",
			RedirectURL: "https://sb.example/oauth/callback",
			Scopes:      []string{"read", "write"},
			Endpoint:    oauth2.Endpoint{AuthURL: "https://idp.example/authorize"},
		},
		ExtraParams: map[string]string{"prompt": "consent"},
	}

	const verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	u, err := url.Parse(p.AuthCodeURL("nonce-1", verifier))
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "https://sb.example/oauth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "read write", q.Get("scope"))
	assert.Equal(t, "nonce-1", q.Get("state"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))

	u, err = url.Parse(p.AuthCodeURL("nonce-2", ""))
	require.NoError(t, err)
	assert.Empty(t, u.Query().Get("code_challenge"))
}
