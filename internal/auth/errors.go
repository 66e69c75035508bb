package auth

import "errors"

var (
	// ErrNoCredentials is returned when an instance has no usable credentials
	// for the requested strategy.
	ErrNoCredentials = errors.New("no credentials available")

	// ErrNoCredentialField is returned when the manifest schema has no field
	// that can hold an API key.
	ErrNoCredentialField = errors.New("plugin schema declares no credential field")
)
