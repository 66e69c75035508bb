package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"switchboard/internal/cache"
	"switchboard/internal/clock"
	"switchboard/internal/plugin"
	"switchboard/internal/vault"
)

const testPluginID = "acme-docs"

// fakeProvider is an OAuth authorization server for tests.
type fakeProvider struct {
	mu            sync.Mutex
	server        *httptest.Server
	tokenRequests []url.Values
	revoked       []url.Values
	refreshCalls  int
	rotations     int

	// behaviour
	tokenType   string
	expiresIn   int
	rotate      bool
	failRefresh bool
	refreshGate chan struct{}
	refreshSeen chan struct{}
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{tokenType: "bearer", expiresIn: 3600}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", p.handleToken)
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		p.mu.Lock()
		p.revoked = append(p.revoked, r.PostForm)
		p.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.tokenRequests = append(p.tokenRequests, r.PostForm)
	grant := r.PostForm.Get("grant_type")
	if grant == "refresh_token" {
		p.refreshCalls++
	}
	gate, seen := p.refreshGate, p.refreshSeen
	fail := p.failRefresh
	p.mu.Unlock()

	resp := map[string]any{
		"token_type": p.tokenType,
		"expires_in": p.expiresIn,
		"scope":      "docs.read",
	}

	switch grant {
	case "authorization_code":
		resp["access_token"] = "at-initial"
		resp["refresh_token"] = "rt-0"
	case "refresh_token":
		if seen != nil {
			select {
			case seen <- struct{}{}:
			default:
			}
		}
		if gate != nil {
			<-gate
		}
		if fail {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
			return
		}
		p.mu.Lock()
		p.rotations++
		n := p.rotations
		rotate := p.rotate
		p.mu.Unlock()
		resp["access_token"] = fmt.Sprintf("at-%d", n)
		if rotate {
			resp["refresh_token"] = fmt.Sprintf("rt-%d", n)
		}
	default:
		http.Error(w, "unsupported grant", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (p *fakeProvider) lastTokenRequest() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tokenRequests) == 0 {
		return nil
	}
	return p.tokenRequests[len(p.tokenRequests)-1]
}

func (p *fakeProvider) manifest(pkce bool) *plugin.Manifest {
	return &plugin.Manifest{
		ID:        testPluginID,
		Name:      "Acme Docs",
		Transport: plugin.TransportHTTP,
		URL:       "https://mcp.acme.example/mcp",
		OAuth: &plugin.OAuthProvider{
			AuthorizationURL: p.server.URL + "/authorize",
			TokenURL:         p.server.URL + "/token",
			RevocationURL:    p.server.URL + "/revoke",
			Scopes:           []string{"docs.read"},
			PKCE:             pkce,
		},
	}
}

type harness struct {
	tm       *TokenManager
	registry *plugin.MemoryRegistry
	vault    *vault.Vault
	states   *StateStore
	clock    *clock.Manual
	provider *fakeProvider
	env      map[string]string
}

func newHarness(t *testing.T, pkce bool) *harness {
	t.Helper()

	h := &harness{
		clock:    clock.NewManual(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
		provider: newFakeProvider(t),
		env:      map[string]string{"ACME_DOCS_OAUTH_CLIENT_ID": "client-123"},
	}
	store := cache.NewMemoryStore(h.clock, -1)
	t.Cleanup(func() { _ = store.Close() })

	v, err := vault.New([]byte("unit-test-master-secret-0123456789"))
	require.NoError(t, err)

	h.vault = v
	h.registry = plugin.NewMemoryRegistry(h.clock)
	h.states = NewStateStore(store, h.clock)
	catalog := plugin.NewStaticCatalog(h.provider.manifest(pkce))
	providers := NewProviderResolver(catalog, "https://switchboard.example", "/oauth/callback",
		func(k string) string { return h.env[k] })

	h.tm = NewTokenManager(Options{
		Registry:   h.registry,
		Providers:  providers,
		States:     h.states,
		Vault:      v,
		HTTPClient: h.provider.server.Client(),
		Clock:      h.clock,
	})
	return h
}

// connect runs the authorization flow to completion and returns the state nonce used.
func (h *harness) connect(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	req, err := h.tm.InitiateAuthorization(ctx, testPluginID, "org-1", "user-1")
	require.NoError(t, err)
	res := h.tm.HandleCallback(ctx, "auth-code", req.State, "", "")
	require.True(t, res.Success, res.Error)
}

func (h *harness) storedTokens(t *testing.T) *plugin.AuthState {
	t.Helper()
	inst, err := h.registry.Get(context.Background(), "org-1", testPluginID)
	require.NoError(t, err)
	require.NotNil(t, inst.AuthState)
	return inst.AuthState
}
