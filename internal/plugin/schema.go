package plugin

import (
	"fmt"
	"strings"
)

// FieldType is the declared type of a configuration field.
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypePassword FieldType = "password"
	FieldTypeNumber   FieldType = "number"
	FieldTypeBoolean  FieldType = "boolean"
	FieldTypeURL      FieldType = "url"
)

// ConfigField describes one key of an instance configuration.
type ConfigField struct {
	Key         string    `json:"key"`
	Label       string    `json:"label,omitempty"`
	Type        FieldType `json:"type,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Encrypted   bool      `json:"encrypted,omitempty"`
	Description string    `json:"description,omitempty"`
	Default     any       `json:"default,omitempty"`
}

// IsSecret reports whether the vault must encrypt the field.
func (f ConfigField) IsSecret() bool {
	return f.Encrypted || f.Type == FieldTypePassword
}

// credentialKeyHints are key name fragments that mark a field as the API key.
var credentialKeyHints = []string{"apikey", "api_key", "token", "secret"}

// IsCredentialCandidate reports whether the field may hold the plugin's API key.
func (f ConfigField) IsCredentialCandidate() bool {
	if f.IsSecret() {
		return true
	}
	key := strings.ToLower(f.Key)
	for _, hint := range credentialKeyHints {
		if strings.Contains(key, hint) {
			return true
		}
	}
	return false
}

// ConfigSchema is the ordered list of fields a plugin accepts.
type ConfigSchema []ConfigField

// Field returns the field with the given key.
func (s ConfigSchema) Field(key string) (ConfigField, bool) {
	for _, f := range s {
		if f.Key == key {
			return f, true
		}
	}
	return ConfigField{}, false
}

// IsSecret reports whether key names a secret field.
func (s ConfigSchema) IsSecret(key string) bool {
	f, ok := s.Field(key)
	return ok && f.IsSecret()
}

// CredentialField returns the first credential candidate in schema order.
func (s ConfigSchema) CredentialField() (ConfigField, bool) {
	for _, f := range s {
		if f.IsCredentialCandidate() {
			return f, true
		}
	}
	return ConfigField{}, false
}

// ApplyDefaults returns a copy of cfg with defaults filled in for absent keys.
func (s ConfigSchema) ApplyDefaults(cfg map[string]any) map[string]any {
	out := cloneConfig(cfg)
	if out == nil {
		out = make(map[string]any)
	}
	for _, f := range s {
		if _, ok := out[f.Key]; !ok && f.Default != nil {
			out[f.Key] = f.Default
		}
	}
	return out
}

// Validate checks that every required field is present and non-empty.
func (s ConfigSchema) Validate(cfg map[string]any) error {
	for _, f := range s {
		if !f.Required {
			continue
		}
		v, ok := cfg[f.Key]
		if !ok || v == nil {
			return fmt.Errorf("%w: %s", ErrMissingField, f.Key)
		}
		if str, isStr := v.(string); isStr && str == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, f.Key)
		}
	}
	return nil
}
