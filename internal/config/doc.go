// Package config provides configuration management for switchboard.
//
// Configuration is loaded from a single directory containing config.yaml.
// The default directory is ~/.config/switchboard; commands accept a
// --config-path flag to point elsewhere. Values missing from the file keep
// their defaults, and SWITCHBOARD_* environment variables override both.
//
// # Configuration Structure
//
//	server:
//	  host: "0.0.0.0"
//	  port: 8090
//	  publicURL: "https://switchboard.example.com"
//	  callbackPath: "/oauth/callback"
//	redis:
//	  addr: "localhost:6379"
//	  db: 0
//	database:
//	  url: "postgres://switchboard@localhost/switchboard"
//	eventBus:
//	  driver: "redis"          # redis, nats or local
//	  natsURL: "nats://localhost:4222"
//	vault:
//	  secretEnv: "SWITCHBOARD_VAULT_SECRET"
//	conversation:
//	  cooldown: 5s
//	  lockDuration: 2m
//	plugins:
//	  manifestDir: "/etc/switchboard/plugins"
//	  discoveryTimeout: 5s
//	logging:
//	  level: "info"
//	  json: true
//
// An empty redis.addr selects in-process caches, and an empty database.url
// selects in-memory stores. Both are meant for development only.
//
// # Usage
//
//	cfg, err := config.LoadConfig(config.GetDefaultConfigPathOrPanic())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config
