package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"

	"switchboard/internal/cache"
	"switchboard/internal/conversation"
	"switchboard/internal/mcpclient"
	"switchboard/internal/metrics"
	"switchboard/internal/oauth"
	"switchboard/internal/plugin"
	"switchboard/internal/relay"
	pkgauth "switchboard/pkg/auth"
	"switchboard/pkg/logging"
)

const (
	// DefaultReadHeaderTimeout is the default timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultWriteTimeout is the default timeout for writing responses.
	DefaultWriteTimeout = 120 * time.Second
	// DefaultIdleTimeout is the default idle timeout for keepalive connections.
	DefaultIdleTimeout = 120 * time.Second
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 15 * time.Second

	// NonceHeader carries replay-guard nonces in both directions.
	NonceHeader = "X-Switchboard-Nonce"
	// UserHeader names the acting user.
	UserHeader = "X-User-ID"
)

// OAuthFlow starts and ends plugin OAuth connections.
type OAuthFlow interface {
	InitiateAuthorization(ctx context.Context, pluginID, orgID, userID string) (*oauth.AuthorizationRequest, error)
	RevokeOAuth(ctx context.Context, orgID, pluginID string) error
}

// AuthStatus reports per-plugin authentication state.
type AuthStatus interface {
	Status(ctx context.Context, orgID string) (*pkgauth.StatusResponse, error)
}

// PluginRuntime controls running plugin instances.
type PluginRuntime interface {
	Start(ctx context.Context, orgID, pluginID string) (*plugin.Instance, error)
	Stop(ctx context.Context, orgID, pluginID string) (*plugin.Instance, error)
	Restart(ctx context.Context, orgID, pluginID string) (*plugin.Instance, error)
	ListTools(ctx context.Context, orgID, pluginID string) ([]mcp.Tool, error)
	CallTool(ctx context.Context, orgID, pluginID, name string, args map[string]any) (*mcpclient.ToolResult, error)
}

// HealthCheck is a named dependency probe for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options wires the server to the rest of switchboard. Nil components
// disable their routes.
type Options struct {
	Addr         string
	CallbackPath string

	OAuth         OAuthFlow
	Callback      http.Handler
	AuthStatus    AuthStatus
	Registry      plugin.Registry
	Runtime       PluginRuntime
	Conversations *conversation.Service
	Relay         *relay.Hub
	Replay        *cache.ReplayGuard
	Metrics       *metrics.Metrics
	HealthChecks  []HealthCheck
}

// Server is the switchboard HTTP server.
type Server struct {
	opts   Options
	engine *gin.Engine
	http   *http.Server
}

// New builds the router.
func New(opts Options) *Server {
	if opts.CallbackPath == "" {
		opts.CallbackPath = "/oauth/callback"
	}
	s := &Server{opts: opts}
	s.engine = s.routes()
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info("Server", "Listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	logging.Info("Server", "Shutting down HTTP server")
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	r.GET("/healthz", s.healthz)
	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}
	if s.opts.Callback != nil {
		r.GET(s.opts.CallbackPath, gin.WrapH(s.opts.Callback))
	}
	if s.opts.Relay != nil {
		r.GET("/ws", s.serveWS)
	}

	api := r.Group("/api/v1")
	if s.opts.Replay != nil {
		api.GET("/nonce", s.issueNonce)
	}

	org := api.Group("/orgs/:orgID")
	if s.opts.AuthStatus != nil {
		org.GET("/auth/status", s.authStatus)
	}
	if s.opts.Registry != nil {
		org.GET("/plugins", s.listPlugins)
		org.GET("/plugins/:pluginID", s.getPlugin)
	}
	if s.opts.OAuth != nil {
		oauthRoutes := org.Group("/plugins/:pluginID/oauth", s.requireNonce)
		oauthRoutes.POST("/authorize", s.authorize)
		oauthRoutes.DELETE("", s.revoke)
	}
	if s.opts.Runtime != nil {
		org.POST("/plugins/:pluginID/start", s.startPlugin)
		org.POST("/plugins/:pluginID/stop", s.stopPlugin)
		org.POST("/plugins/:pluginID/restart", s.restartPlugin)
		org.GET("/plugins/:pluginID/tools", s.listTools)
		org.POST("/plugins/:pluginID/tools/:tool", s.callTool)
	}

	if s.opts.Conversations != nil {
		conv := api.Group("/conversations")
		{
			conv.POST("", s.createConversation)
			conv.GET("/:conversationID", s.getConversation)
			conv.GET("/:conversationID/messages", s.listMessages)
			conv.POST("/:conversationID/messages", s.addMessage)
			conv.POST("/:conversationID/assign", s.assignConversation)
			conv.POST("/:conversationID/release", s.releaseConversation)
			conv.POST("/:conversationID/escalate", s.escalateConversation)
			conv.POST("/:conversationID/resolve", s.resolveConversation)
			conv.POST("/:conversationID/close", s.closeConversation)
		}
		msgs := api.Group("/messages")
		{
			msgs.POST("/:messageID/approve", s.approveMessage)
			msgs.POST("/:messageID/reject", s.rejectMessage)
			msgs.POST("/:messageID/edit", s.editMessage)
		}
	}
	return r
}

func (s *Server) healthz(c *gin.Context) {
	failures := map[string]string{}
	for _, hc := range s.opts.HealthChecks {
		if err := hc.Check(c.Request.Context()); err != nil {
			failures[hc.Name] = err.Error()
		}
	}
	if len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failures": failures})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) serveWS(c *gin.Context) {
	s.opts.Relay.ServeWS(c.Writer, c.Request, relay.Target{
		OrganizationID: c.Query("org"),
		ConversationID: c.Query("conversation"),
	})
}
