package auth

import (
	"context"
	"errors"
	"fmt"

	"switchboard/internal/plugin"
	"switchboard/internal/vault"
	"switchboard/pkg/logging"
	pkgauth "switchboard/pkg/auth"
)

// Resolver selects the authentication strategy for a plugin instance.
type Resolver struct {
	registry  plugin.Registry
	manifests plugin.ManifestSource
	tokens    TokenSource
	vault     *vault.Vault
}

// NewResolver creates a resolver.
func NewResolver(registry plugin.Registry, manifests plugin.ManifestSource, tokens TokenSource, v *vault.Vault) *Resolver {
	return &Resolver{registry: registry, manifests: manifests, tokens: tokens, vault: v}
}

// Resolve returns the strategy to use for the instance: OAuth when the
// instance is connected and its token can be obtained, otherwise the API key.
// ErrNoCredentials is returned when neither is available.
func (r *Resolver) Resolve(ctx context.Context, orgID, pluginID string) (Strategy, error) {
	inst, err := r.registry.Get(ctx, orgID, pluginID)
	if err != nil {
		return nil, err
	}
	manifest, err := r.manifests.Manifest(pluginID)
	if err != nil {
		return nil, err
	}

	if hasOAuthCredentials(inst) && r.tokens != nil {
		s := NewOAuthStrategy(r.tokens, orgID, pluginID)
		if s.Refresh(ctx) {
			return s, nil
		}
		logging.Debug("Auth", "OAuth unavailable for plugin=%s org=%s, trying API key", pluginID, orgID)
	}

	s, err := NewAPIKeyStrategy(r.vault, manifest, inst)
	if err == nil {
		return s, nil
	}
	if errors.Is(err, ErrNoCredentialField) {
		return nil, ErrNoCredentials
	}
	return nil, err
}

func hasOAuthCredentials(inst *plugin.Instance) bool {
	return inst.AuthState != nil &&
		inst.AuthState.Credentials != nil &&
		inst.AuthState.Credentials.AccessToken != ""
}

// Headers returns the request headers for a plugin call. It never fails:
// without credentials it returns empty headers and the plugin server is left
// to reject the call.
func (r *Resolver) Headers(ctx context.Context, orgID, pluginID string) map[string]string {
	s, err := r.Resolve(ctx, orgID, pluginID)
	if err != nil {
		logging.Warn("Auth", "No credentials for plugin=%s org=%s, calling unauthenticated: %v", pluginID, orgID, err)
		return map[string]string{}
	}
	headers, err := s.Headers(ctx)
	if err != nil {
		logging.Warn("Auth", "Could not build %s headers for plugin=%s org=%s: %v", s.Method(), pluginID, orgID, err)
		return map[string]string{}
	}
	return headers
}

// Environment returns the credential environment for a stdio plugin process.
// Like Headers it degrades to an empty map.
func (r *Resolver) Environment(ctx context.Context, orgID, pluginID string) map[string]string {
	s, err := r.Resolve(ctx, orgID, pluginID)
	if err != nil {
		logging.Warn("Auth", "No credentials for plugin=%s org=%s, starting without: %v", pluginID, orgID, err)
		return map[string]string{}
	}
	env, err := s.EnvironmentVariables(ctx)
	if err != nil {
		logging.Warn("Auth", "Could not build %s environment for plugin=%s org=%s: %v", s.Method(), pluginID, orgID, err)
		return map[string]string{}
	}
	return env
}

// HeaderProvider binds Headers to one instance, for clients that fetch
// headers per request.
func (r *Resolver) HeaderProvider(orgID, pluginID string) func(ctx context.Context) (map[string]string, error) {
	return func(ctx context.Context) (map[string]string, error) {
		return r.Headers(ctx, orgID, pluginID), nil
	}
}

// Status reports the authentication state of every plugin instance of an organization.
func (r *Resolver) Status(ctx context.Context, orgID string) (*pkgauth.StatusResponse, error) {
	instances, err := r.registry.List(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plugin instances: %w", err)
	}

	resp := &pkgauth.StatusResponse{OrganizationID: orgID, Plugins: make([]pkgauth.PluginAuthStatus, 0, len(instances))}
	for _, inst := range instances {
		st := pkgauth.PluginAuthStatus{
			PluginID: inst.PluginID,
			Method:   string(plugin.AuthMethodNone),
			Status:   pkgauth.StatusDisconnected,
		}
		manifest, mErr := r.manifests.Manifest(inst.PluginID)
		if mErr == nil {
			st.OAuthAvailable = manifest.SupportsOAuth()
		}

		switch {
		case inst.AuthState != nil:
			st.Method = string(plugin.AuthMethodOAuth)
			st.Status = string(inst.AuthState.Status)
			st.ConnectedAt = inst.AuthState.ConnectedAt
			st.ConnectedBy = inst.AuthState.ConnectedBy
			st.Error = inst.AuthState.LastError
			if creds := inst.AuthState.Credentials; creds != nil {
				st.ExpiresAt = creds.ExpiresAt
				st.Scope = creds.Scope
			}
		case mErr == nil:
			if _, err := NewAPIKeyStrategy(r.vault, manifest, inst); err == nil {
				st.Method = string(plugin.AuthMethodAPIKey)
				st.Status = pkgauth.StatusConnected
			} else if !errors.Is(err, ErrNoCredentials) && !errors.Is(err, ErrNoCredentialField) {
				st.Status = pkgauth.StatusError
				st.Error = err.Error()
			} else if errors.Is(err, vault.ErrDecryption) {
				st.Status = pkgauth.StatusError
				st.Error = "stored API key cannot be decrypted"
			}
		}
		resp.Plugins = append(resp.Plugins, st)
	}
	return resp, nil
}
