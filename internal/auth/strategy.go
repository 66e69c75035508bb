package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"switchboard/internal/plugin"
	"switchboard/internal/vault"
	"switchboard/pkg/logging"
	pkgoauth "switchboard/pkg/oauth"
)

// Strategy supplies a plugin's credentials for one organization.
type Strategy interface {
	// Method identifies the strategy.
	Method() plugin.AuthMethod

	// Headers returns the request headers for a remote plugin call.
	Headers(ctx context.Context) (map[string]string, error)

	// EnvironmentVariables returns the environment for a stdio plugin process.
	EnvironmentVariables(ctx context.Context) (map[string]string, error)

	// IsValid reports whether the strategy currently holds usable credentials.
	IsValid(ctx context.Context) bool

	// Refresh renews the credentials if needed and reports whether they are usable.
	Refresh(ctx context.Context) bool
}

// TokenSource is the part of oauth.TokenManager the OAuth strategy uses.
type TokenSource interface {
	GetValidToken(ctx context.Context, orgID, pluginID string) (*pkgoauth.TokenData, error)
}

// OAuthStrategy authenticates with the instance's OAuth access token.
type OAuthStrategy struct {
	orgID    string
	pluginID string
	tokens   TokenSource

	mu      sync.Mutex
	current *pkgoauth.TokenData
	// fresh marks current as loaded by Refresh and not yet used.
	fresh bool
}

// NewOAuthStrategy creates an OAuth strategy for the instance.
func NewOAuthStrategy(tokens TokenSource, orgID, pluginID string) *OAuthStrategy {
	return &OAuthStrategy{orgID: orgID, pluginID: pluginID, tokens: tokens}
}

// Method implements Strategy.
func (s *OAuthStrategy) Method() plugin.AuthMethod { return plugin.AuthMethodOAuth }

// Refresh loads the token, renewing it first when it is inside the refresh
// buffer. The next Headers or EnvironmentVariables call uses that token.
func (s *OAuthStrategy) Refresh(ctx context.Context) bool {
	if _, err := s.token(ctx); err != nil {
		return false
	}
	s.mu.Lock()
	s.fresh = true
	s.mu.Unlock()
	return true
}

// use returns the token Refresh just loaded, or loads a new one.
func (s *OAuthStrategy) use(ctx context.Context) (*pkgoauth.TokenData, error) {
	s.mu.Lock()
	if s.fresh && s.current != nil {
		td := s.current
		s.fresh = false
		s.mu.Unlock()
		return td, nil
	}
	s.mu.Unlock()
	return s.token(ctx)
}

func (s *OAuthStrategy) token(ctx context.Context) (*pkgoauth.TokenData, error) {
	td, err := s.tokens.GetValidToken(ctx, s.orgID, s.pluginID)
	if err == nil && (td == nil || td.AccessToken == "") {
		err = ErrNoCredentials
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fresh = false
	if err != nil {
		s.current = nil
		return nil, err
	}
	s.current = td
	return td, nil
}

// Headers implements Strategy. The token is refreshed before every call
// unless Refresh has just loaded it.
func (s *OAuthStrategy) Headers(ctx context.Context) (map[string]string, error) {
	td, err := s.use(ctx)
	if err != nil {
		return nil, fmt.Errorf("oauth credentials for %s: %w", s.pluginID, err)
	}
	return map[string]string{"Authorization": td.AuthorizationHeader()}, nil
}

// EnvironmentVariables implements Strategy.
func (s *OAuthStrategy) EnvironmentVariables(ctx context.Context) (map[string]string, error) {
	td, err := s.use(ctx)
	if err != nil {
		return nil, fmt.Errorf("oauth credentials for %s: %w", s.pluginID, err)
	}
	prefix := pkgoauth.EnvPrefix(s.pluginID)
	env := map[string]string{
		prefix + "_ACCESS_TOKEN": td.AccessToken,
		prefix + "_TOKEN_TYPE":   pkgoauth.CanonicalTokenType(td.TokenType),
	}
	return env, nil
}

// IsValid reports whether a token has been loaded, loading one if not.
func (s *OAuthStrategy) IsValid(ctx context.Context) bool {
	s.mu.Lock()
	loaded := s.current != nil
	s.mu.Unlock()
	if !loaded {
		return s.Refresh(ctx)
	}
	return true
}

// APIKeyStrategy authenticates with an API key from the instance configuration.
type APIKeyStrategy struct {
	pluginID string
	header   string
	prefix   string
	key      string
}

// NewAPIKeyStrategy reads the API key of inst.
//
// The key is the first credential field of the manifest schema. A missing
// value and a value that fails to decrypt both yield ErrNoCredentials.
func NewAPIKeyStrategy(v *vault.Vault, manifest *plugin.Manifest, inst *plugin.Instance) (*APIKeyStrategy, error) {
	field, ok := manifest.ConfigSchema.CredentialField()
	if !ok {
		return nil, ErrNoCredentialField
	}
	key, present, err := v.DecryptField(inst.Config, field.Key)
	if err != nil {
		logging.Warn("Auth", "API key for plugin=%s org=%s cannot be decrypted: %v",
			inst.PluginID, inst.OrganizationID, err)
		return nil, fmt.Errorf("%w: %w", ErrNoCredentials, err)
	}
	if !present {
		return nil, ErrNoCredentials
	}

	header := manifest.APIKeyHeader
	if header == "" {
		header = "Authorization"
	}
	prefix := manifest.APIKeyPrefix
	if prefix == "" && http.CanonicalHeaderKey(header) == "Authorization" {
		prefix = pkgoauth.TokenTypeBearer
	}

	return &APIKeyStrategy{
		pluginID: manifest.ID,
		header:   header,
		prefix:   prefix,
		key:      key,
	}, nil
}

// Method implements Strategy.
func (s *APIKeyStrategy) Method() plugin.AuthMethod { return plugin.AuthMethodAPIKey }

// Headers implements Strategy.
func (s *APIKeyStrategy) Headers(context.Context) (map[string]string, error) {
	value := s.key
	if s.prefix != "" {
		value = strings.TrimSpace(s.prefix) + " " + s.key
	}
	return map[string]string{s.header: value}, nil
}

// EnvironmentVariables implements Strategy.
func (s *APIKeyStrategy) EnvironmentVariables(context.Context) (map[string]string, error) {
	return map[string]string{pkgoauth.EnvPrefix(s.pluginID) + "_API_KEY": s.key}, nil
}

// IsValid reports whether a key is present. API keys do not expire.
func (s *APIKeyStrategy) IsValid(context.Context) bool { return s.key != "" }

// Refresh is a no-op.
func (s *APIKeyStrategy) Refresh(context.Context) bool { return true }
