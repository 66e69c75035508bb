package oauth

import "errors"

var (
	// ErrClientNotConfigured is returned when <PLUGINID>_OAUTH_CLIENT_ID is not set.
	ErrClientNotConfigured = errors.New("oauth client id not configured")

	// ErrOAuthNotSupported is returned for plugins whose manifest has no oauth block.
	ErrOAuthNotSupported = errors.New("plugin does not support oauth")

	// ErrNotConnected is returned when an instance holds no OAuth tokens.
	ErrNotConnected = errors.New("plugin is not connected via oauth")

	// ErrNoRefreshToken is returned when a refresh is needed but impossible.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrTokenExpired is returned when the token expired and could not be refreshed.
	ErrTokenExpired = errors.New("oauth token expired")
)

// Messages shown to the browser. They deliberately do not distinguish causes.
const (
	msgInvalidState    = "Invalid or expired authorization request. Please try again."
	msgMissingParams   = "Invalid callback: missing required parameters."
	msgExchangeFailed  = "Failed to complete authorization. Please try again."
	msgInternalFailure = "Authorization could not be completed due to a server error."
)
