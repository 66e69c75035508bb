package auth

import "time"

// Status values reported for a plugin's authentication.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusExpired      = "expired"
	StatusError        = "error"
)

// StatusResponse is the authentication state of every plugin instance of an organization.
type StatusResponse struct {
	OrganizationID string             `json:"organization_id"`
	Plugins        []PluginAuthStatus `json:"plugins"`
}

// PluginAuthStatus describes how switchboard authenticates to one plugin.
// It never carries credential material.
type PluginAuthStatus struct {
	PluginID string `json:"plugin_id"`

	// Method is one of: "oauth", "apikey", "none"
	Method string `json:"method"`

	// Status is one of: "connected", "disconnected", "expired", "error"
	Status string `json:"status"`

	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	ConnectedBy string     `json:"connected_by,omitempty"`

	// ExpiresAt is the access token expiry in epoch seconds, 0 if it never expires.
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Scope     string `json:"scope,omitempty"`

	// OAuthAvailable is set when the plugin manifest declares an OAuth provider.
	OAuthAvailable bool `json:"oauth_available"`

	// Error is present when Status == "error"
	Error string `json:"error,omitempty"`
}

// Connected reports whether the plugin has usable credentials.
func (s PluginAuthStatus) Connected() bool {
	return s.Status == StatusConnected
}
