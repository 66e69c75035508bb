package plugin

import (
	"fmt"
	"maps"
	"time"

	"switchboard/pkg/oauth"
)

// Status is the lifecycle status of a plugin instance.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusReady    Status = "ready"
	StatusDegraded Status = "degraded"
	StatusError    Status = "error"
)

// AuthMethod identifies which credential kind an instance authenticates with.
type AuthMethod string

const (
	AuthMethodOAuth  AuthMethod = "oauth"
	AuthMethodAPIKey AuthMethod = "apikey"
	AuthMethodNone   AuthMethod = "none"
)

// AuthStatus is the state of the OAuth connection for an instance.
type AuthStatus string

const (
	AuthStatusConnected    AuthStatus = "connected"
	AuthStatusDisconnected AuthStatus = "disconnected"
	AuthStatusExpired      AuthStatus = "expired"
	AuthStatusError        AuthStatus = "error"
)

// AuthState is the token material of an instance, kept apart from the
// user-editable Config. Credentials are stored in vault-encrypted form.
type AuthState struct {
	Method          AuthMethod       `json:"method"`
	Status          AuthStatus       `json:"status"`
	Credentials     *oauth.TokenData `json:"credentials,omitempty"`
	ConnectedAt     *time.Time       `json:"connectedAt,omitempty"`
	ConnectedBy     string           `json:"connectedBy,omitempty"`
	LastRefreshedAt *time.Time       `json:"lastRefreshedAt,omitempty"`
	LastError       string           `json:"lastError,omitempty"`
}

// Connected reports whether the state holds usable credentials.
func (a *AuthState) Connected() bool {
	return a != nil && a.Status == AuthStatusConnected && a.Credentials != nil && a.Credentials.AccessToken != ""
}

// Instance is one plugin enabled for one organization.
type Instance struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organizationId"`
	PluginID       string         `json:"pluginId"`
	Enabled        bool           `json:"enabled"`
	Running        bool           `json:"running"`
	Status         Status         `json:"status"`
	AuthMethod     AuthMethod     `json:"authMethod"`
	Config         map[string]any `json:"config,omitempty"`
	AuthState      *AuthState     `json:"authState,omitempty"`

	RestartCount    int        `json:"restartCount"`
	LastError       string     `json:"lastError,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	StoppedAt       *time.Time `json:"stoppedAt,omitempty"`
	LastHealthCheck *time.Time `json:"lastHealthCheck,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Key returns the registry key of the instance.
func (i *Instance) Key() string {
	return InstanceKey(i.OrganizationID, i.PluginID)
}

// InstanceKey formats the (org, plugin) key used by stores and caches.
func InstanceKey(orgID, pluginID string) string {
	return orgID + "/" + pluginID
}

// Validate checks the instance invariants.
func (i *Instance) Validate() error {
	if i.OrganizationID == "" || i.PluginID == "" {
		return fmt.Errorf("plugin instance requires organization and plugin id")
	}
	if i.Running && !i.Enabled {
		return ErrRunningNotEnabled
	}
	switch i.AuthMethod {
	case "", AuthMethodOAuth, AuthMethodAPIKey, AuthMethodNone:
	default:
		return fmt.Errorf("unknown auth method %q", i.AuthMethod)
	}
	return nil
}

// Clone returns a deep copy, so callers may mutate it without affecting the store.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := *i
	c.Config = cloneConfig(i.Config)
	if i.AuthState != nil {
		as := *i.AuthState
		as.Credentials = i.AuthState.Credentials.Clone()
		as.ConnectedAt = cloneTime(i.AuthState.ConnectedAt)
		as.LastRefreshedAt = cloneTime(i.AuthState.LastRefreshedAt)
		c.AuthState = &as
	}
	c.StartedAt = cloneTime(i.StartedAt)
	c.StoppedAt = cloneTime(i.StoppedAt)
	c.LastHealthCheck = cloneTime(i.LastHealthCheck)
	return &c
}

func cloneConfig(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	return maps.Clone(in)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
