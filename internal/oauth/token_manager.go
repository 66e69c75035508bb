package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"switchboard/internal/clock"
	"switchboard/internal/metrics"
	"switchboard/internal/plugin"
	"switchboard/internal/vault"
	"switchboard/pkg/logging"
	pkgoauth "switchboard/pkg/oauth"
)

// Options configures a TokenManager.
type Options struct {
	Registry  plugin.Registry
	Providers *ProviderResolver
	States    *StateStore
	Vault     *vault.Vault

	// HTTPClient is used for token and revocation requests.
	HTTPClient *http.Client
	Clock      clock.Clock
	Metrics    *metrics.Metrics
}

// TokenManager owns the OAuth token lifecycle of plugin instances.
// It is the only component that writes Instance.AuthState.
type TokenManager struct {
	registry   plugin.Registry
	providers  *ProviderResolver
	states     *StateStore
	vault      *vault.Vault
	httpClient *http.Client
	clock      clock.Clock
	metrics    *metrics.Metrics

	refreshGroup singleflight.Group
}

// NewTokenManager creates a token manager.
func NewTokenManager(opts Options) *TokenManager {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenManager{
		registry:   opts.Registry,
		providers:  opts.Providers,
		states:     opts.States,
		vault:      opts.Vault,
		httpClient: httpClient,
		clock:      clock.OrReal(opts.Clock),
		metrics:    opts.Metrics,
	}
}

// withHTTPClient makes x/oauth2 use the manager's client.
func (m *TokenManager) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// InitiateAuthorization starts the authorization-code flow for a plugin.
func (m *TokenManager) InitiateAuthorization(ctx context.Context, pluginID, orgID, userID string) (*AuthorizationRequest, error) {
	provider, err := m.providers.Resolve(pluginID)
	if err != nil {
		return nil, err
	}

	var verifier string
	if provider.PKCE {
		pkce, err := pkgoauth.GeneratePKCE()
		if err != nil {
			return nil, err
		}
		verifier = pkce.CodeVerifier
	}

	nonce, err := m.states.StoreState(ctx, pluginID, orgID, userID, verifier)
	if err != nil {
		return nil, fmt.Errorf("failed to store authorization state: %w", err)
	}

	logging.Info("OAuth", "Initiated authorization for plugin=%s org=%s pkce=%t", pluginID, orgID, provider.PKCE)
	return &AuthorizationRequest{
		AuthorizationURL: provider.AuthCodeURL(nonce, verifier),
		State:            nonce,
	}, nil
}

// HandleCallback completes the flow started by InitiateAuthorization.
// errParam and errDesc carry the provider's error redirect, if any.
func (m *TokenManager) HandleCallback(ctx context.Context, code, stateParam, errParam, errDesc string) *CallbackResult {
	if errParam != "" {
		// Consume the state so it cannot be used again, and to report which plugin failed.
		state, _ := m.states.RetrieveState(ctx, stateParam)
		res := &CallbackResult{Error: providerErrorMessage(errParam, errDesc)}
		ev := logging.AuditEvent{Action: "oauth_callback", Outcome: "failure", Reason: "provider error: " + errParam}
		if state != nil {
			res.PluginID, res.OrganizationID = state.PluginID, state.OrganizationID
			ev.PluginID, ev.OrganizationID, ev.UserID = state.PluginID, state.OrganizationID, state.UserID
		}
		logging.Audit(ev)
		m.metrics.ObserveCallback("provider_error")
		return res
	}

	if code == "" || stateParam == "" {
		logging.Warn("OAuth", "OAuth callback missing code or state parameter")
		m.metrics.ObserveCallback("invalid")
		return &CallbackResult{Error: msgMissingParams}
	}

	state, err := m.states.RetrieveState(ctx, stateParam)
	if err != nil {
		logging.Error("OAuth", err, "Failed to load authorization state")
		m.metrics.ObserveCallback("error")
		return &CallbackResult{Error: msgInternalFailure}
	}
	if state == nil {
		logging.Audit(logging.AuditEvent{
			Action:  "oauth_callback",
			Outcome: "rejected",
			Reason:  "state unknown, expired or already used: " + logging.TruncateID(stateParam),
		})
		m.metrics.ObserveCallback("invalid_state")
		return &CallbackResult{Error: msgInvalidState}
	}

	res := &CallbackResult{PluginID: state.PluginID, OrganizationID: state.OrganizationID}

	provider, err := m.providers.Resolve(state.PluginID)
	if err != nil {
		logging.Error("OAuth", err, "Cannot resolve provider for plugin=%s", state.PluginID)
		m.metrics.ObserveCallback("error")
		res.Error = msgInternalFailure
		return res
	}

	tok, err := provider.Exchange(m.withHTTPClient(ctx), code, state.CodeVerifier)
	if err != nil {
		logging.Error("OAuth", err, "Code exchange failed for plugin=%s org=%s", state.PluginID, state.OrganizationID)
		m.metrics.ObserveCallback("exchange_failed")
		res.Error = msgExchangeFailed
		return res
	}

	td := m.tokenData(tok, nil)
	if err := m.storeTokens(ctx, state, td); err != nil {
		logging.Error("OAuth", err, "Failed to persist tokens for plugin=%s org=%s", state.PluginID, state.OrganizationID)
		m.metrics.ObserveCallback("error")
		res.Error = msgInternalFailure
		return res
	}

	logging.Audit(logging.AuditEvent{
		Action:         "oauth_connect",
		Outcome:        "success",
		OrganizationID: state.OrganizationID,
		PluginID:       state.PluginID,
		UserID:         state.UserID,
	})
	m.metrics.ObserveCallback("success")
	res.Success = true
	return res
}

func providerErrorMessage(errParam, errDesc string) string {
	if errDesc != "" {
		return fmt.Sprintf("Authorization failed: %s", errDesc)
	}
	return fmt.Sprintf("Authorization failed: %s", errParam)
}

// tokenData converts a provider token. ExpiresAt is computed from expires_in
// against the manager's clock at the moment of receipt.
func (m *TokenManager) tokenData(tok *oauth2.Token, previous *pkgoauth.TokenData) *pkgoauth.TokenData {
	td := pkgoauth.FromOAuth2Token(tok, previous)
	if tok.ExpiresIn > 0 {
		td.ExpiresAt = m.clock.Now().Add(time.Duration(tok.ExpiresIn) * time.Second).Unix()
	}
	return td
}

// storeTokens writes freshly exchanged tokens, creating the instance on first connect.
func (m *TokenManager) storeTokens(ctx context.Context, state *State, td *pkgoauth.TokenData) error {
	enc, err := m.vault.EncryptToken(td)
	if err != nil {
		return err
	}
	now := m.clock.Now()
	apply := func(inst *plugin.Instance) error {
		inst.AuthMethod = plugin.AuthMethodOAuth
		inst.AuthState = &plugin.AuthState{
			Method:      plugin.AuthMethodOAuth,
			Status:      plugin.AuthStatusConnected,
			Credentials: enc,
			ConnectedAt: &now,
			ConnectedBy: state.UserID,
		}
		return nil
	}

	_, err = m.registry.Update(ctx, state.OrganizationID, state.PluginID, apply)
	if errors.Is(err, plugin.ErrInstanceNotFound) {
		inst := &plugin.Instance{
			OrganizationID: state.OrganizationID,
			PluginID:       state.PluginID,
			Enabled:        true,
		}
		_ = apply(inst)
		err = m.registry.Create(ctx, inst)
		if errors.Is(err, plugin.ErrInstanceExists) {
			// lost a creation race; the row exists now
			_, err = m.registry.Update(ctx, state.OrganizationID, state.PluginID, apply)
		}
	}
	return err
}

// loadTokens returns the decrypted tokens of an instance.
func (m *TokenManager) loadTokens(ctx context.Context, orgID, pluginID string) (*pkgoauth.TokenData, error) {
	inst, err := m.registry.Get(ctx, orgID, pluginID)
	if err != nil {
		return nil, err
	}
	if inst.AuthState == nil || inst.AuthState.Credentials == nil || inst.AuthState.Credentials.AccessToken == "" {
		return nil, ErrNotConnected
	}
	return m.vault.DecryptToken(inst.AuthState.Credentials)
}

// RefreshToken exchanges the stored refresh token for a new token pair.
// Concurrent calls for the same instance share one provider request.
func (m *TokenManager) RefreshToken(ctx context.Context, orgID, pluginID string) (*pkgoauth.TokenData, error) {
	v, err, shared := m.refreshGroup.Do(plugin.InstanceKey(orgID, pluginID), func() (interface{}, error) {
		return m.refresh(ctx, orgID, pluginID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logging.Debug("OAuth", "Joined in-flight refresh for plugin=%s org=%s", pluginID, orgID)
	}
	return v.(*pkgoauth.TokenData).Clone(), nil
}

func (m *TokenManager) refresh(ctx context.Context, orgID, pluginID string) (*pkgoauth.TokenData, error) {
	current, err := m.loadTokens(ctx, orgID, pluginID)
	if err != nil {
		return nil, err
	}
	if current.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	provider, err := m.providers.Resolve(pluginID)
	if err != nil {
		return nil, err
	}

	tok, err := provider.Refresh(m.withHTTPClient(ctx), current.RefreshToken)
	if err != nil {
		m.metrics.ObserveRefresh(pluginID, "failure")
		m.recordRefreshFailure(ctx, orgID, pluginID, err)
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	// x/oauth2 echoes the request's refresh token when the provider omits one.
	rotated := tok.RefreshToken != "" && tok.RefreshToken != current.RefreshToken

	td := m.tokenData(tok, current)
	enc, err := m.vault.EncryptToken(td)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	_, err = m.registry.Update(ctx, orgID, pluginID, func(inst *plugin.Instance) error {
		if inst.AuthState == nil {
			inst.AuthState = &plugin.AuthState{Method: plugin.AuthMethodOAuth}
		}
		stored := enc.Clone()
		// Without a rotated refresh token, keep whatever is stored now; another
		// process may have rotated it since we read it.
		if !rotated && inst.AuthState.Credentials != nil && inst.AuthState.Credentials.RefreshToken != "" {
			stored.RefreshToken = inst.AuthState.Credentials.RefreshToken
		}
		inst.AuthState.Credentials = stored
		inst.AuthState.Status = plugin.AuthStatusConnected
		inst.AuthState.LastRefreshedAt = &now
		inst.AuthState.LastError = ""
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	m.metrics.ObserveRefresh(pluginID, "success")
	logging.Info("OAuth", "Refreshed token for plugin=%s org=%s expires_at=%d rotated=%t",
		pluginID, orgID, td.ExpiresAt, rotated)
	return td, nil
}

func (m *TokenManager) recordRefreshFailure(ctx context.Context, orgID, pluginID string, cause error) {
	_, err := m.registry.Update(ctx, orgID, pluginID, func(inst *plugin.Instance) error {
		if inst.AuthState == nil {
			return nil
		}
		inst.AuthState.LastError = cause.Error()
		if isInvalidGrant(cause) {
			inst.AuthState.Status = plugin.AuthStatusError
		}
		return nil
	})
	if err != nil {
		logging.Warn("OAuth", "Could not record refresh failure for plugin=%s org=%s: %v", pluginID, orgID, err)
	}
}

// GetValidToken returns a token usable for a plugin call.
//
// A token within TokenRefreshThreshold of expiry is refreshed first. If that
// refresh fails while the token is still valid, the stale token is returned.
func (m *TokenManager) GetValidToken(ctx context.Context, orgID, pluginID string) (*pkgoauth.TokenData, error) {
	current, err := m.loadTokens(ctx, orgID, pluginID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	if !current.NeedsRefresh(now) {
		return current, nil
	}

	fresh, refreshErr := m.RefreshToken(ctx, orgID, pluginID)
	if refreshErr == nil {
		return fresh, nil
	}

	if !current.IsExpired(now) {
		logging.Warn("OAuth", "Refresh failed for plugin=%s org=%s, using token valid for %s: %v",
			pluginID, orgID, current.Expiry().Sub(now).Round(time.Second), refreshErr)
		m.metrics.ObserveRefresh(pluginID, "stale")
		return current, nil
	}

	m.markExpired(ctx, orgID, pluginID)
	return nil, fmt.Errorf("%w: %v", ErrTokenExpired, refreshErr)
}

func (m *TokenManager) markExpired(ctx context.Context, orgID, pluginID string) {
	_, err := m.registry.Update(ctx, orgID, pluginID, func(inst *plugin.Instance) error {
		if inst.AuthState != nil && inst.AuthState.Status == plugin.AuthStatusConnected {
			inst.AuthState.Status = plugin.AuthStatusExpired
		}
		return nil
	})
	if err != nil {
		logging.Warn("OAuth", "Could not mark token expired for plugin=%s org=%s: %v", pluginID, orgID, err)
	}
}

// RevokeOAuth disconnects a plugin: the provider is asked to revoke the
// tokens when it supports revocation, then the stored AuthState is cleared.
func (m *TokenManager) RevokeOAuth(ctx context.Context, orgID, pluginID string) error {
	td, err := m.loadTokens(ctx, orgID, pluginID)
	switch {
	case err == nil:
		m.revokeAtProvider(ctx, pluginID, td)
	case errors.Is(err, ErrNotConnected), errors.Is(err, vault.ErrDecryption):
		// nothing usable to revoke remotely
	default:
		return err
	}

	_, err = m.registry.Update(ctx, orgID, pluginID, func(inst *plugin.Instance) error {
		inst.AuthState = nil
		if inst.AuthMethod == plugin.AuthMethodOAuth {
			inst.AuthMethod = plugin.AuthMethodNone
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear oauth state: %w", err)
	}

	logging.Audit(logging.AuditEvent{
		Action:         "oauth_revoke",
		Outcome:        "success",
		OrganizationID: orgID,
		PluginID:       pluginID,
	})
	return nil
}

func (m *TokenManager) revokeAtProvider(ctx context.Context, pluginID string, td *pkgoauth.TokenData) {
	provider, err := m.providers.Resolve(pluginID)
	if err != nil {
		logging.Warn("OAuth", "Skipping provider revocation for plugin=%s: %v", pluginID, err)
		return
	}
	token, hint := td.RefreshToken, "refresh_token"
	if token == "" {
		token, hint = td.AccessToken, "access_token"
	}
	if err := provider.Revoke(ctx, m.httpClient, token, hint); err != nil {
		logging.Warn("OAuth", "Provider revocation failed for plugin=%s: %v", pluginID, err)
	}
}
