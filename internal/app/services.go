package app

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"switchboard/internal/auth"
	"switchboard/internal/cache"
	"switchboard/internal/config"
	"switchboard/internal/conversation"
	"switchboard/internal/eventbus"
	"switchboard/internal/mcpclient"
	"switchboard/internal/metrics"
	"switchboard/internal/oauth"
	"switchboard/internal/plugin"
	"switchboard/internal/relay"
	"switchboard/internal/runtime"
	"switchboard/internal/server"
	"switchboard/internal/store/postgres"
	"switchboard/internal/vault"
	"switchboard/pkg/logging"
)

const backendTimeout = 5 * time.Second

// Services holds every wired component.
type Services struct {
	Config *config.Config
	NodeID string

	Metrics       *metrics.Metrics
	Vault         *vault.Vault
	Cache         cache.Store
	Replay        *cache.ReplayGuard
	Catalog       *plugin.Catalog
	Registry      plugin.Registry
	Tokens        *oauth.TokenManager
	Resolver      *auth.Resolver
	Runtime       *runtime.Manager
	Bus           eventbus.Bus
	Conversations *conversation.Service
	Relay         *relay.Hub
	Server        *server.Server

	healthChecks []server.HealthCheck
	// closers run in reverse order on shutdown.
	closers []func()
}

// InitializeServices builds every component from cfg. Backends are
// contacted once so misconfiguration fails at startup.
//
// Initialization order:
//  1. Vault and metrics
//  2. Cache (Redis or memory) and replay guard
//  3. Stores (Postgres or memory)
//  4. Manifest catalog
//  5. Event bus
//  6. OAuth, auth resolver and plugin runtime
//  7. Conversation service, relay and HTTP server
func InitializeServices(ctx context.Context, cfg *Config) (*Services, error) {
	sc := cfg.Switchboard
	s := &Services{
		Config:  sc,
		NodeID:  nodeID(),
		Metrics: metrics.New(),
	}
	ok := false
	defer func() {
		if !ok {
			s.close()
		}
	}()

	secret, err := sc.Vault.ResolveSecret(cfg.Getenv)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	if s.Vault, err = vault.New(secret); err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	var redisClient redis.UniversalClient
	if sc.Redis.Addr != "" {
		if redisClient, err = s.connectRedis(ctx, sc.Redis); err != nil {
			return nil, err
		}
		s.Cache = cache.NewRedisStore(redisClient, sc.Redis.KeyPrefix)
	} else {
		logging.Warn("Bootstrap", "No redis.addr configured, OAuth state and nonces are kept in process memory")
		s.Cache = cache.NewMemoryStore(nil, 0)
	}
	s.Replay = cache.NewReplayGuard(s.Cache, nil)

	var convRepo conversation.Repository
	if sc.Database.URL != "" {
		pool, err := postgres.Connect(ctx, sc.Database.URL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)
		s.healthChecks = append(s.healthChecks, server.HealthCheck{Name: "database", Check: pool.Ping})
		if sc.Database.Migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				return nil, err
			}
		}
		s.Registry = postgres.NewPluginRegistry(pool, nil)
		convRepo = postgres.NewConversationRepository(pool)
	} else {
		logging.Warn("Bootstrap", "No database.url configured, plugin instances and conversations are not persisted")
		s.Registry = plugin.NewMemoryRegistry(nil)
		convRepo = conversation.NewMemoryRepository()
	}

	s.Catalog = plugin.NewCatalog(sc.Plugins.ManifestDir)
	if err := s.Catalog.Load(); err != nil {
		logging.Warn("Bootstrap", "Could not load plugin manifests from %s: %v", sc.Plugins.ManifestDir, err)
	}
	s.closers = append(s.closers, s.Catalog.Stop)

	switch sc.EventBus.Driver {
	case config.EventBusRedis:
		s.Bus = eventbus.NewRedisBus(redisClient, sc.Redis.KeyPrefix)
	case config.EventBusNATS:
		s.Bus = eventbus.NewNATSBus(eventbus.NATSConfig{
			URL:           sc.EventBus.NATSURL,
			Name:          "switchboard-" + s.NodeID,
			SubjectPrefix: sc.Redis.KeyPrefix,
		})
	default:
		s.Bus = eventbus.NewLocalBus()
	}

	providers := oauth.NewProviderResolver(s.Catalog, sc.Server.PublicURL, sc.Server.CallbackPath, cfg.Getenv)
	s.Tokens = oauth.NewTokenManager(oauth.Options{
		Registry:  s.Registry,
		Providers: providers,
		States:    oauth.NewStateStore(s.Cache, nil),
		Vault:     s.Vault,
		Metrics:   s.Metrics,
	})
	s.Resolver = auth.NewResolver(s.Registry, s.Catalog, s.Tokens, s.Vault)

	discovery := mcpclient.DefaultDiscovery
	if sc.Plugins.DiscoveryTimeout > 0 {
		discovery.Timeout = sc.Plugins.DiscoveryTimeout
	}
	s.Runtime = runtime.NewManager(runtime.Options{
		Registry:         s.Registry,
		Manifests:        s.Catalog,
		Credentials:      s.Resolver,
		Bus:              s.Bus,
		Metrics:          s.Metrics,
		Discovery:        discovery,
		StartConcurrency: sc.Plugins.StartConcurrency,
		ToolCacheTTL:     sc.Plugins.ToolCacheTTL,
	})

	s.Conversations = conversation.NewService(conversation.Options{
		Repository:   convRepo,
		Bus:          s.Bus,
		Metrics:      s.Metrics,
		Cooldown:     sc.Conversation.Cooldown,
		LockDuration: sc.Conversation.LockDuration,
		TestMode:     testModeAgents(sc.Conversation.TestModeAgents),
		Origin:       s.NodeID,
	})

	s.Relay = relay.NewHub(relay.Options{
		Bus:         s.Bus,
		Metrics:     s.Metrics,
		CheckOrigin: originChecker(sc.Server.AllowedOrigins),
	})

	s.Server = server.New(server.Options{
		Addr:          sc.Server.Addr(),
		CallbackPath:  sc.Server.CallbackPath,
		OAuth:         s.Tokens,
		Callback:      oauth.NewHandler(s.Tokens),
		AuthStatus:    s.Resolver,
		Registry:      s.Registry,
		Runtime:       s.Runtime,
		Conversations: s.Conversations,
		Relay:         s.Relay,
		Replay:        s.Replay,
		Metrics:       s.Metrics,
		HealthChecks:  s.healthChecks,
	})

	ok = true
	return s, nil
}

func (s *Services) connectRedis(ctx context.Context, rc config.RedisConfig) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	s.closers = append(s.closers, func() { _ = client.Close() })
	s.healthChecks = append(s.healthChecks, server.HealthCheck{
		Name:  "redis",
		Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
	})
	logging.Info("Bootstrap", "Connected to redis at %s", rc.Addr)
	return client, nil
}

// close releases stores and connections.
func (s *Services) close() {
	if s.Cache != nil {
		if err := s.Cache.Close(); err != nil {
			logging.Error("Bootstrap", err, "Error closing cache")
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func testModeAgents(agents []string) conversation.TestModeFunc {
	if len(agents) == 0 {
		return nil
	}
	return func(_ context.Context, _, agentID string) bool {
		return slices.Contains(agents, agentID)
	}
}

// originChecker allows websocket upgrades from the listed origins, or from
// anywhere when the list is empty.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return slices.Contains(allowed, origin) || slices.Contains(allowed, u.Host)
	}
}

func nodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uuid.NewString()[:8]
	}
	return host
}
