package plugin

import (
	"fmt"
	"strings"
)

// Transport is how switchboard reaches a plugin's MCP server.
type Transport string

const (
	// TransportHTTP posts JSON-RPC requests and accepts JSON or SSE responses.
	TransportHTTP Transport = "http"
	// TransportSSE is TransportHTTP advertising a preference for event streams.
	TransportSSE Transport = "sse"
	// TransportStdio launches the plugin as a local subprocess.
	TransportStdio Transport = "stdio"
)

// OAuthProvider holds the provider endpoints for plugins that support OAuth.
type OAuthProvider struct {
	AuthorizationURL string            `json:"authorizationUrl"`
	TokenURL         string            `json:"tokenUrl"`
	RevocationURL    string            `json:"revocationUrl,omitempty"`
	Scopes           []string          `json:"scopes,omitempty"`
	PKCE             bool              `json:"pkce,omitempty"`
	ExtraParams      map[string]string `json:"extraParams,omitempty"`
}

// Manifest describes a plugin independently of any organization.
type Manifest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`

	Transport Transport `json:"transport"`
	// URL is the MCP endpoint for http and sse transports.
	URL string `json:"url,omitempty"`
	// Command and Args start a stdio plugin.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	// Port is the local worker port used for tool discovery, if any.
	Port int `json:"port,omitempty"`

	ConfigSchema ConfigSchema   `json:"configSchema,omitempty"`
	OAuth        *OAuthProvider `json:"oauth,omitempty"`

	// APIKeyHeader names the header carrying the API key. Defaults to Authorization.
	APIKeyHeader string `json:"apiKeyHeader,omitempty"`
	// APIKeyPrefix is prepended to the key. Defaults to "Bearer" for the Authorization header.
	APIKeyPrefix string `json:"apiKeyPrefix,omitempty"`
}

// SupportsOAuth reports whether the manifest declares an OAuth provider.
func (m *Manifest) SupportsOAuth() bool {
	return m.OAuth != nil && m.OAuth.AuthorizationURL != "" && m.OAuth.TokenURL != ""
}

// Validate checks that the manifest is usable.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("manifest id is required")
	}
	if strings.ContainsAny(m.ID, "/ ") {
		return fmt.Errorf("manifest id %q must not contain slashes or spaces", m.ID)
	}
	switch m.Transport {
	case TransportHTTP, TransportSSE:
		if m.URL == "" {
			return fmt.Errorf("manifest %s: url is required for %s transport", m.ID, m.Transport)
		}
	case TransportStdio:
		if m.Command == "" {
			return fmt.Errorf("manifest %s: command is required for stdio transport", m.ID)
		}
	default:
		return fmt.Errorf("manifest %s: unsupported transport %q", m.ID, m.Transport)
	}
	if m.OAuth != nil && (m.OAuth.AuthorizationURL == "" || m.OAuth.TokenURL == "") {
		return fmt.Errorf("manifest %s: oauth requires authorizationUrl and tokenUrl", m.ID)
	}
	seen := make(map[string]bool, len(m.ConfigSchema))
	for _, f := range m.ConfigSchema {
		if f.Key == "" {
			return fmt.Errorf("manifest %s: config field without key", m.ID)
		}
		if seen[f.Key] {
			return fmt.Errorf("manifest %s: duplicate config field %q", m.ID, f.Key)
		}
		seen[f.Key] = true
	}
	return nil
}
