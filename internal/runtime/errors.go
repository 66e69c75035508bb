package runtime

import "errors"

var (
	// ErrNotEnabled is returned when starting an instance that is disabled.
	ErrNotEnabled = errors.New("plugin instance is not enabled")

	// ErrNotRunning is returned when calling a plugin that is not running.
	ErrNotRunning = errors.New("plugin instance is not running")

	// ErrUnsupportedTransport is returned for manifests naming an unknown transport.
	ErrUnsupportedTransport = errors.New("unsupported plugin transport")
)
