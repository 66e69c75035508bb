package plugin

import "errors"

var (
	// ErrInstanceNotFound is returned when no instance exists for an (org, plugin) pair.
	ErrInstanceNotFound = errors.New("plugin instance not found")

	// ErrInstanceExists is returned when creating a second instance for an (org, plugin) pair.
	ErrInstanceExists = errors.New("plugin instance already exists")

	// ErrRunningNotEnabled is returned when an instance would be running while disabled.
	ErrRunningNotEnabled = errors.New("plugin instance cannot be running while disabled")

	// ErrManifestNotFound is returned when the catalog has no manifest for a plugin id.
	ErrManifestNotFound = errors.New("plugin manifest not found")

	// ErrMissingField is returned when a required configuration field is absent.
	ErrMissingField = errors.New("missing required configuration field")
)
