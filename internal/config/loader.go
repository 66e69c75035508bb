package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"switchboard/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/switchboard"
	configFileName = "config.yaml"
	envPrefix      = "SWITCHBOARD_"
)

func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads config.yaml from configPath over the defaults and then
// applies SWITCHBOARD_* environment overrides. A missing file is not an error.
func LoadConfig(configPath string) (Config, error) {
	return loadConfig(configPath, os.Getenv)
}

func loadConfig(configPath string, getenv func(string) string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("Config", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, &ConfigurationError{
			FilePath:  configFilePath,
			ErrorType: "io",
			Message:   "cannot read file",
			Err:       err,
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, &ConfigurationError{
				FilePath:    configFilePath,
				ErrorType:   "parse",
				Message:     "malformed YAML",
				Details:     err.Error(),
				Suggestions: []string{"durations are written as Go durations, e.g. 5s or 2m"},
				Err:         err,
			}
		}
		logging.Info("Config", "Loaded configuration from %s", configFilePath)
	}

	if err := applyEnv(&config, getenv); err != nil {
		return Config{}, err
	}
	return config, nil
}

type envBinding struct {
	name string
	set  func(c *Config, v string) error
}

var envBindings = []envBinding{
	{"HOST", func(c *Config, v string) error { c.Server.Host = v; return nil }},
	{"PORT", func(c *Config, v string) error { return setInt(&c.Server.Port, v) }},
	{"PUBLIC_URL", func(c *Config, v string) error { c.Server.PublicURL = v; return nil }},
	{"CALLBACK_PATH", func(c *Config, v string) error { c.Server.CallbackPath = v; return nil }},
	{"REDIS_ADDR", func(c *Config, v string) error { c.Redis.Addr = v; return nil }},
	{"REDIS_PASSWORD", func(c *Config, v string) error { c.Redis.Password = v; return nil }},
	{"REDIS_DB", func(c *Config, v string) error { return setInt(&c.Redis.DB, v) }},
	{"DATABASE_URL", func(c *Config, v string) error { c.Database.URL = v; return nil }},
	{"EVENT_BUS", func(c *Config, v string) error { c.EventBus.Driver = v; return nil }},
	{"NATS_URL", func(c *Config, v string) error { c.EventBus.NATSURL = v; return nil }},
	{"MANIFEST_DIR", func(c *Config, v string) error { c.Plugins.ManifestDir = v; return nil }},
	{"COOLDOWN", func(c *Config, v string) error { return setDuration(&c.Conversation.Cooldown, v) }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"LOG_JSON", func(c *Config, v string) error { return setBool(&c.Logging.JSON, v) }},
}

func applyEnv(c *Config, getenv func(string) string) error {
	for _, b := range envBindings {
		v := strings.TrimSpace(getenv(envPrefix + b.name))
		if v == "" {
			continue
		}
		if err := b.set(c, v); err != nil {
			return &ConfigurationError{
				FilePath:  envPrefix + b.name,
				ErrorType: "env",
				Message:   fmt.Sprintf("invalid value %q", v),
				Err:       err,
			}
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// ResolveSecret returns the vault key, reading SecretEnv through getenv when
// Secret is empty.
func (v VaultConfig) ResolveSecret(getenv func(string) string) ([]byte, error) {
	if v.Secret != "" {
		return []byte(v.Secret), nil
	}
	if v.SecretEnv != "" {
		if s := getenv(v.SecretEnv); s != "" {
			return []byte(s), nil
		}
	}
	return nil, ErrVaultSecretMissing
}

// Addr returns the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
