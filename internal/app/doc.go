// Package app provides application bootstrap and lifecycle management for switchboard.
//
// # Architecture Overview
//
//  1. **Bootstrap (`bootstrap.go`)**: logging setup, configuration loading and validation
//  2. **Configuration (`config.go`)**: command line settings that shape the bootstrap
//  3. **Services (`services.go`)**: construction and wiring of every component
//  4. **Modes (`modes.go`)**: the long-running server mode and its shutdown sequence
//
// # Backend Selection
//
// Components are picked from configuration:
//
//   - redis.addr set: Redis-backed cache, OAuth state and replay guard; otherwise in-process
//   - database.url set: Postgres plugin registry and conversation store; otherwise in-memory
//   - eventBus.driver: redis, nats or local
//
// The in-process variants keep state for a single process only and are
// meant for development.
//
// # Lifecycle
//
// Run initializes the event bus, starts the manifest watcher when enabled,
// brings back every plugin instance recorded as running, and then serves
// HTTP and periodic health checks until the context is cancelled. Shutdown
// happens in reverse order: websocket clients, plugin clients, the event
// bus and finally the stores.
//
// # Usage
//
//	cfg := app.NewConfig(false, false, "/etc/switchboard")
//	application, err := app.NewApplication(ctx, cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
package app
