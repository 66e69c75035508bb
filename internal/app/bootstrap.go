package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"switchboard/internal/config"
	"switchboard/pkg/logging"
)

// Application bootstraps and runs switchboard.
//
// Initialization has two phases:
//  1. Bootstrap: load configuration, initialize logging, build services
//  2. Execution: run the server until the context is cancelled
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads configuration, configures logging and builds every
// service. It fails on invalid configuration and on unreachable backends.
func NewApplication(ctx context.Context, cfg *Config) (*Application, error) {
	if cfg.Getenv == nil {
		cfg.Getenv = os.Getenv
	}

	if cfg.Switchboard == nil {
		configPath := cfg.ConfigPath
		if configPath == "" {
			configPath = config.GetDefaultConfigPathOrPanic()
		}
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load switchboard configuration from %s: %w", configPath, err)
		}
		cfg.Switchboard = &loaded
	}

	initLogging(cfg)

	if err := cfg.Switchboard.Validate(); err != nil {
		logging.Error("Bootstrap", err, "Invalid configuration")
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	services, err := InitializeServices(ctx, cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

func initLogging(cfg *Config) {
	level := logging.ParseLevel(cfg.Switchboard.Logging.Level)
	if cfg.Debug {
		level = logging.LevelDebug
	}
	var out io.Writer = os.Stdout
	if cfg.Silent {
		out = io.Discard
	}
	logging.InitForServer(level, out, cfg.Switchboard.Logging.JSON)
}

// Services returns the wired components.
func (a *Application) Services() *Services {
	return a.services
}

// Run serves until ctx is cancelled, then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	return runServer(ctx, a.services)
}
