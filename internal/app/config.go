package app

import (
	"switchboard/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of logging.level.
	Debug bool

	// Silent discards log output.
	Silent bool

	// Custom configuration path (optional)
	ConfigPath string

	// Loaded switchboard configuration
	Switchboard *config.Config

	// Getenv reads environment variables. Defaults to os.Getenv.
	Getenv func(string) string
}

// NewConfig creates a new application configuration
func NewConfig(debug, silent bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		Silent:     silent,
		ConfigPath: configPath,
	}
}
