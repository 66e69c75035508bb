package config

import "time"

const (
	// DefaultOAuthCallbackPath is the default path for OAuth callbacks
	DefaultOAuthCallbackPath = "/oauth/callback"

	// DefaultVaultSecretEnv is the environment variable holding the vault key
	DefaultVaultSecretEnv = "SWITCHBOARD_VAULT_SECRET"
)

// GetDefaultConfig returns the default configuration
func GetDefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8090,
			PublicURL:    "http://localhost:8090",
			CallbackPath: DefaultOAuthCallbackPath,
		},
		Redis: RedisConfig{
			KeyPrefix: "switchboard:",
		},
		EventBus: EventBusConfig{
			Driver: EventBusLocal,
		},
		Vault: VaultConfig{
			SecretEnv: DefaultVaultSecretEnv,
		},
		Conversation: ConversationConfig{
			Cooldown:     5 * time.Second,
			LockDuration: 2 * time.Minute,
		},
		Plugins: PluginsConfig{
			ManifestDir:         "plugins",
			DiscoveryTimeout:    5 * time.Second,
			HealthCheckInterval: 30 * time.Second,
			StartConcurrency:    4,
			ToolCacheTTL:        5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
