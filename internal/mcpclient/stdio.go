package mcpclient

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"switchboard/pkg/logging"
)

// DefaultStdioInitTimeout covers starting the subprocess and the handshake.
const DefaultStdioInitTimeout = 10 * time.Second

// EnvProvider returns the environment for a stdio plugin process.
type EnvProvider func(ctx context.Context) map[string]string

// StdioClient runs a local plugin as a subprocess speaking MCP on stdin/stdout.
type StdioClient struct {
	command string
	args    []string
	env     EnvProvider

	mu        sync.RWMutex
	client    *client.Client
	connected bool
}

// NewStdioClient creates a client for command. env is evaluated when the
// process starts, so credentials are current at launch.
func NewStdioClient(command string, args []string, env EnvProvider) *StdioClient {
	return &StdioClient{command: command, args: args, env: env}
}

// Connect starts the process and performs the initialize handshake.
func (c *StdioClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	var envStrings []string
	if c.env != nil {
		env := c.env(ctx)
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, env[k]))
		}
		logging.Debug("MCPClient", "Starting %s %v with %d credential variables", c.command, c.args, len(keys))
	}

	mcpClient, err := client.NewStdioMCPClient(c.command, envStrings, c.args...)
	if err != nil {
		return fmt.Errorf("failed to start stdio plugin: %w", err)
	}

	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, DefaultStdioInitTimeout)
		defer cancel()
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: ClientName, Version: ClientVersion}
	req.Params.Capabilities = mcp.ClientCapabilities{}

	result, err := mcpClient.Initialize(initCtx, req)
	if err != nil {
		if closeErr := mcpClient.Close(); closeErr != nil {
			logging.Debug("MCPClient", "Error closing failed client for %s: %v", c.command, closeErr)
		}
		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	logging.Debug("MCPClient", "Stdio plugin %s initialized (%s %s)", c.command, result.ServerInfo.Name, result.ServerInfo.Version)
	c.client = mcpClient
	c.connected = true
	return nil
}

// IsConnected reports whether the process is running and initialized.
func (c *StdioClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close stops the process.
func (c *StdioClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.connected = false
	return err
}

func (c *StdioClient) ensure(ctx context.Context) (*client.Client, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

// ListTools returns the tools the process offers.
func (c *StdioClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	cl, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	result, err := cl.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool on the process.
func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	cl, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := cl.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to call tool: %w", err)
	}
	return fromCallToolResult(result), nil
}
