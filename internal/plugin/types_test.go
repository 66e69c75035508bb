package plugin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/pkg/oauth"
)

func TestInstance_Validate(t *testing.T) {
	tests := []struct {
		name    string
		inst    Instance
		wantErr error
	}{
		{"enabled and running", Instance{OrganizationID: "o", PluginID: "p", Enabled: true, Running: true}, nil},
		{"disabled and stopped", Instance{OrganizationID: "o", PluginID: "p"}, nil},
		{"running while disabled", Instance{OrganizationID: "o", PluginID: "p", Running: true}, ErrRunningNotEnabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.inst.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Error(t, (&Instance{PluginID: "p"}).Validate())
	assert.Error(t, (&Instance{OrganizationID: "o", PluginID: "p", AuthMethod: "kerberos"}).Validate())
}

func TestInstance_CloneIsDeep(t *testing.T) {
	now := time.Now()
	orig := &Instance{
		OrganizationID: "o",
		PluginID:       "p",
		Config:         map[string]any{"region": "eu"},
		AuthState: &AuthState{
			Status:      AuthStatusConnected,
			Credentials: &oauth.TokenData{AccessToken: "a"},
			ConnectedAt: &now,
		},
	}

	c := orig.Clone()
	c.Config["region"] = "us"
	c.AuthState.Credentials.AccessToken = "b"
	*c.AuthState.ConnectedAt = now.Add(time.Hour)

	assert.Equal(t, "eu", orig.Config["region"])
	assert.Equal(t, "a", orig.AuthState.Credentials.AccessToken)
	assert.True(t, orig.AuthState.ConnectedAt.Equal(now))
}

func TestAuthState_Connected(t *testing.T) {
	var nilState *AuthState
	assert.False(t, nilState.Connected())
	assert.False(t, (&AuthState{Status: AuthStatusConnected}).Connected())
	assert.False(t, (&AuthState{Status: AuthStatusExpired, Credentials: &oauth.TokenData{AccessToken: "x"}}).Connected())
	assert.True(t, (&AuthState{Status: AuthStatusConnected, Credentials: &oauth.TokenData{AccessToken: "x"}}).Connected())
}

func TestConfigSchema(t *testing.T) {
	schema := ConfigSchema{
		{Key: "workspace", Type: FieldTypeString, Required: true},
		{Key: "region", Default: "eu"},
		{Key: "password", Type: FieldTypePassword},
		{Key: "client_key", Encrypted: true},
		{Key: "api_token"},
	}

	assert.True(t, schema.IsSecret("password"))
	assert.True(t, schema.IsSecret("client_key"))
	assert.False(t, schema.IsSecret("api_token"), "name hints do not make a field secret")
	assert.False(t, schema.IsSecret("unknown"))

	f, ok := schema.CredentialField()
	require.True(t, ok)
	assert.Equal(t, "password", f.Key, "first candidate in schema order wins")

	cfg := schema.ApplyDefaults(map[string]any{"workspace": "acme"})
	assert.Equal(t, "eu", cfg["region"])

	assert.NoError(t, schema.Validate(cfg))
	assert.ErrorIs(t, schema.Validate(map[string]any{"workspace": ""}), ErrMissingField)
	assert.ErrorIs(t, schema.Validate(nil), ErrMissingField)
}

func TestConfigField_IsCredentialCandidate(t *testing.T) {
	tests := map[string]bool{
		"apiKey":        true,
		"API_KEY":       true,
		"access_token":  true,
		"client_secret": true,
		"workspace":     false,
		"base_url":      false,
	}
	for key, want := range tests {
		if got := (ConfigField{Key: key}).IsCredentialCandidate(); got != want {
			t.Errorf("IsCredentialCandidate(%q) = %v, want %v", key, got, want)
		}
	}
}
