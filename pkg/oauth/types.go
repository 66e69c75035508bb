package oauth

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// TokenRefreshThreshold is the duration before token expiry when tokens should be proactively refreshed.
// Tokens expiring within this threshold are refreshed before a plugin call is attempted.
const TokenRefreshThreshold = 5 * time.Minute

// TokenTypeBearer is the canonical capitalization of the bearer token type.
// Some MCP servers reject the lowercase form, so headers always use this value.
const TokenTypeBearer = "Bearer"

// TokenData is the token material stored for an organization-plugin pair.
//
// ExpiresAt is an absolute Unix timestamp in seconds. Zero means the token
// does not expire.
type TokenData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// HasExpiry reports whether the token carries an expiry.
func (t *TokenData) HasExpiry() bool {
	return t.ExpiresAt > 0
}

// Expiry returns ExpiresAt as a time, or the zero time when the token does not expire.
func (t *TokenData) Expiry() time.Time {
	if !t.HasExpiry() {
		return time.Time{}
	}
	return time.Unix(t.ExpiresAt, 0)
}

// IsExpired reports whether the token is past its expiry at now.
func (t *TokenData) IsExpired(now time.Time) bool {
	return t.HasExpiry() && now.Unix() >= t.ExpiresAt
}

// NeedsRefresh reports whether the token expires within TokenRefreshThreshold of now.
func (t *TokenData) NeedsRefresh(now time.Time) bool {
	if !t.HasExpiry() {
		return false
	}
	return time.Duration(t.ExpiresAt-now.Unix())*time.Second < TokenRefreshThreshold
}

// AuthorizationHeader returns the value for the Authorization header.
func (t *TokenData) AuthorizationHeader() string {
	return CanonicalTokenType(t.TokenType) + " " + t.AccessToken
}

// Scopes returns the scope as a slice of individual scopes.
func (t *TokenData) Scopes() []string {
	if t.Scope == "" {
		return nil
	}
	return strings.Fields(t.Scope)
}

// Clone returns a copy of the token data.
func (t *TokenData) Clone() *TokenData {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// String redacts token material so TokenData is safe to pass to loggers.
func (t *TokenData) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("TokenData{type=%s, expires_at=%d, scope=%q, access=%s, refresh=%s}",
		CanonicalTokenType(t.TokenType), t.ExpiresAt, t.Scope, redact(t.AccessToken), redact(t.RefreshToken))
}

// GoString guards against %#v printing the raw fields.
func (t *TokenData) GoString() string {
	return t.String()
}

// LogValue implements slog.LogValuer.
func (t *TokenData) LogValue() slog.Value {
	if t == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("token_type", CanonicalTokenType(t.TokenType)),
		slog.Int64("expires_at", t.ExpiresAt),
		slog.String("scope", t.Scope),
		slog.Bool("has_refresh_token", t.RefreshToken != ""),
	)
}

func redact(s string) string {
	if s == "" {
		return "<empty>"
	}
	return "[REDACTED]"
}

// CanonicalTokenType normalizes the provider-returned token type.
// Empty and any casing of "bearer" become "Bearer".
func CanonicalTokenType(tokenType string) string {
	switch strings.ToLower(strings.TrimSpace(tokenType)) {
	case "", "bearer":
		return TokenTypeBearer
	case "dpop":
		return "DPoP"
	default:
		return tokenType
	}
}

// FromOAuth2Token converts an oauth2.Token received from a provider.
//
// When the provider omits a refresh token, the refresh token of previous is
// kept. A returned refresh token always replaces it.
func FromOAuth2Token(tok *oauth2.Token, previous *TokenData) *TokenData {
	td := &TokenData{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    CanonicalTokenType(tok.TokenType),
	}
	if !tok.Expiry.IsZero() {
		td.ExpiresAt = tok.Expiry.Unix()
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		td.Scope = scope
	}

	if previous != nil {
		if td.RefreshToken == "" {
			td.RefreshToken = previous.RefreshToken
		}
		if td.Scope == "" {
			td.Scope = previous.Scope
		}
	}
	return td
}

// ToOAuth2Token converts the TokenData to an oauth2.Token for use with golang.org/x/oauth2.
func (t *TokenData) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    CanonicalTokenType(t.TokenType),
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry(),
	}
}

// EnvPrefix returns the environment variable prefix for a plugin id:
// uppercased with hyphens replaced by underscores.
//
//	EnvPrefix("google-drive") == "GOOGLE_DRIVE"
func EnvPrefix(pluginID string) string {
	return strings.ToUpper(strings.ReplaceAll(pluginID, "-", "_"))
}
