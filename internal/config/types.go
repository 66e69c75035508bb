package config

import "time"

// Config is the top-level configuration structure for switchboard.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Redis        RedisConfig        `yaml:"redis"`
	Database     DatabaseConfig     `yaml:"database"`
	EventBus     EventBusConfig     `yaml:"eventBus"`
	Vault        VaultConfig        `yaml:"vault"`
	Conversation ConversationConfig `yaml:"conversation"`
	Plugins      PluginsConfig      `yaml:"plugins"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig defines the HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
	// PublicURL is the externally reachable base URL, used to build OAuth redirect URIs.
	PublicURL    string `yaml:"publicURL,omitempty"`
	CallbackPath string `yaml:"callbackPath,omitempty"`
	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// RedisConfig defines the shared cache and event bus connection.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	// KeyPrefix namespaces every key and channel.
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
}

// DatabaseConfig defines the Postgres connection.
type DatabaseConfig struct {
	URL string `yaml:"url,omitempty"`
	// Migrate applies the embedded schema on startup.
	Migrate bool `yaml:"migrate,omitempty"`
}

// EventBus drivers.
const (
	EventBusRedis = "redis"
	EventBusNATS  = "nats"
	EventBusLocal = "local"
)

// EventBusConfig selects the event bus implementation.
type EventBusConfig struct {
	Driver  string `yaml:"driver,omitempty"`
	NATSURL string `yaml:"natsURL,omitempty"`
}

// VaultConfig defines where the credential vault key comes from.
// Secret wins over SecretEnv when both are set.
type VaultConfig struct {
	Secret    string `yaml:"secret,omitempty"`
	SecretEnv string `yaml:"secretEnv,omitempty"`
}

// ConversationConfig tunes the conversation state machine.
type ConversationConfig struct {
	Cooldown     time.Duration `yaml:"cooldown,omitempty"`
	LockDuration time.Duration `yaml:"lockDuration,omitempty"`
	// TestModeAgents lists agent ids whose replies go through review.
	TestModeAgents []string `yaml:"testModeAgents,omitempty"`
}

// PluginsConfig defines where plugin manifests live and how workers are reached.
// ToolCacheTTL is how long a fetched tool list may be served while its worker
// cannot be reached.
type PluginsConfig struct {
	ManifestDir         string        `yaml:"manifestDir,omitempty"`
	Watch               bool          `yaml:"watch,omitempty"`
	DiscoveryTimeout    time.Duration `yaml:"discoveryTimeout,omitempty"`
	HealthCheckInterval time.Duration `yaml:"healthCheckInterval,omitempty"`
	StartConcurrency    int           `yaml:"startConcurrency,omitempty"`
	ToolCacheTTL        time.Duration `yaml:"toolCacheTTL,omitempty"`
}

// LoggingConfig defines log output.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
	JSON  bool   `yaml:"json,omitempty"`
}
