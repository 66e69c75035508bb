package oauth

import "time"

// State is the server-side record of an authorization request in flight.
type State struct {
	Nonce          string    `json:"nonce"`
	PluginID       string    `json:"pluginId"`
	OrganizationID string    `json:"organizationId"`
	UserID         string    `json:"userId,omitempty"`
	CodeVerifier   string    `json:"codeVerifier,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// AuthorizationRequest is returned when a user starts connecting a plugin.
type AuthorizationRequest struct {
	AuthorizationURL string `json:"authorizationUrl"`
	State            string `json:"state"`
}

// CallbackResult is the outcome of the redirect callback.
// Error is safe to show to the browser.
type CallbackResult struct {
	Success        bool   `json:"success"`
	PluginID       string `json:"pluginId,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
	Error          string `json:"error,omitempty"`
}
