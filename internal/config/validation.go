package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// Validate checks the configuration for values that would fail at startup.
// The vault secret is checked separately by ResolveSecret.
func (c Config) Validate() error {
	var errs ValidationErrors

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs.Add("server.port", "must be between 1 and 65535", c.Server.Port)
	}
	if u, err := url.Parse(c.Server.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs.Add("server.publicURL", "must be an absolute URL", c.Server.PublicURL)
	}
	if !strings.HasPrefix(c.Server.CallbackPath, "/") {
		errs.Add("server.callbackPath", "must start with /", c.Server.CallbackPath)
	}

	if err := ValidateOneOf("eventBus.driver", c.EventBus.Driver, []string{EventBusRedis, EventBusNATS, EventBusLocal}); err != nil {
		errs = append(errs, err.(ValidationError))
	}
	if c.EventBus.Driver == EventBusRedis && c.Redis.Addr == "" {
		errs.Add("redis.addr", "is required for the redis event bus")
	}
	if c.EventBus.Driver == EventBusNATS && c.EventBus.NATSURL == "" {
		errs.Add("eventBus.natsURL", "is required for the nats event bus")
	}

	if c.Conversation.Cooldown < 0 {
		errs.Add("conversation.cooldown", "must not be negative", c.Conversation.Cooldown)
	}
	if c.Conversation.LockDuration < 0 {
		errs.Add("conversation.lockDuration", "must not be negative", c.Conversation.LockDuration)
	}
	if c.Plugins.ManifestDir == "" {
		errs.Add("plugins.manifestDir", "is required")
	}
	if c.Plugins.StartConcurrency < 0 {
		errs.Add("plugins.startConcurrency", "must not be negative", c.Plugins.StartConcurrency)
	}
	if c.Plugins.ToolCacheTTL < 0 {
		errs.Add("plugins.toolCacheTTL", "must not be negative", c.Plugins.ToolCacheTTL)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
