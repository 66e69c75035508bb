package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"switchboard/pkg/logging"
)

const (
	// DefaultTimeout bounds a single request, including reading an event stream.
	DefaultTimeout = 30 * time.Second

	// ClientName is sent as clientInfo.name during initialize.
	ClientName = "switchboard"

	acceptJSONFirst = "application/json, text/event-stream"
	acceptSSEFirst  = "text/event-stream, application/json"

	maxErrorBody = 4 << 10
	maxJSONBody  = 16 << 20
)

type initializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    mcp.ClientCapabilities `json:"capabilities"`
	ClientInfo      mcp.Implementation     `json:"clientInfo"`
}

// ClientVersion is sent as clientInfo.version during initialize.
var ClientVersion = "dev"

// HTTPOptions configures an HTTPClient.
type HTTPOptions struct {
	// HTTPClient defaults to a client with DefaultTimeout.
	HTTPClient *http.Client
	// Headers is consulted before every request.
	Headers HeaderProvider
}

// HTTPClient speaks MCP over the mcp-go streamable HTTP transport. Responses
// may be plain JSON or an SSE stream; the response Content-Type decides.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	headers    HeaderProvider

	mu         sync.RWMutex
	transport  *transport.StreamableHTTP
	serverInfo mcp.Implementation
}

// NewHTTPClient creates a client for a server answering with JSON.
func NewHTTPClient(url string, opts HTTPOptions) *HTTPClient {
	return newHTTPClient(url, acceptJSONFirst, opts)
}

// NewSSEClient creates a client for a server answering with event streams.
// It differs from NewHTTPClient only in the Accept header it sends.
func NewSSEClient(url string, opts HTTPOptions) *HTTPClient {
	return newHTTPClient(url, acceptSSEFirst, opts)
}

func newHTTPClient(url, accept string, opts HTTPOptions) *HTTPClient {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	wrapped := *hc
	wrapped.Transport = &eventStreamTransport{next: hc.Transport, accept: accept}
	return &HTTPClient{
		url:        url,
		httpClient: &wrapped,
		headers:    opts.Headers,
	}
}

// Connect performs the initialize handshake followed by the initialized notification.
func (c *HTTPClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport != nil {
		return nil
	}

	t, err := transport.NewStreamableHTTP(c.url,
		transport.WithHTTPBasicClient(c.httpClient),
		transport.WithHTTPHeaderFunc(headersFromContext),
		transport.WithHTTPLogger(transportLogger{}),
	)
	if err != nil {
		return &TransportError{Err: err}
	}
	if err := t.Start(ctx); err != nil {
		return &TransportError{Err: err}
	}

	params := initializeParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		Capabilities:    mcp.ClientCapabilities{},
		ClientInfo:      mcp.Implementation{Name: ClientName, Version: ClientVersion},
	}
	resp, err := c.send(ctx, t, string(mcp.MethodInitialize), params)
	if err != nil {
		_ = t.Close()
		return fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		_ = t.Close()
		return fmt.Errorf("initialize rejected: %w", rpcError(resp.Error))
	}

	var result mcp.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		_ = t.Close()
		return &TransportError{Err: fmt.Errorf("malformed initialize result: %w", err)}
	}
	t.SetProtocolVersion(result.ProtocolVersion)

	if err := c.notifyInitialized(ctx, t); err != nil {
		logging.Warn("MCPClient", "initialized notification to %s failed: %v", c.url, err)
	}

	c.transport = t
	c.serverInfo = result.ServerInfo
	logging.Debug("MCPClient", "Connected to %s (%s %s, protocol %s)",
		c.url, result.ServerInfo.Name, result.ServerInfo.Version, result.ProtocolVersion)
	return nil
}

func (c *HTTPClient) notifyInitialized(ctx context.Context, t *transport.StreamableHTTP) error {
	hctx, err := c.withHeaders(ctx)
	if err != nil {
		return err
	}
	return t.SendNotification(hctx, mcp.JSONRPCNotification{
		JSONRPC:      mcp.JSONRPC_VERSION,
		Notification: mcp.Notification{Method: "notifications/initialized"},
	})
}

// IsConnected reports whether the handshake has completed.
func (c *HTTPClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transport != nil
}

// ServerInfo returns the server's name and version from the handshake.
func (c *HTTPClient) ServerInfo() mcp.Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Close ends the session. The next call reconnects.
func (c *HTTPClient) Close() error {
	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.mu.Unlock()

	if t == nil {
		return nil
	}
	return t.Close()
}

// ListTools returns every tool, following pagination cursors.
func (c *HTTPClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	var (
		tools  []mcp.Tool
		cursor mcp.Cursor
	)
	for {
		var params any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}
		resp, err := c.call(ctx, string(mcp.MethodToolsList), params)
		if err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("tools/list: %w", rpcError(resp.Error))
		}
		var page mcp.ListToolsResult
		if err := json.Unmarshal(resp.Result, &page); err != nil {
			return nil, &TransportError{Err: fmt.Errorf("malformed tools/list result: %w", err)}
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool invokes a tool. A JSON-RPC error becomes a result with IsError set.
func (c *HTTPClient) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	resp, err := c.call(ctx, string(mcp.MethodToolsCall), map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}
	return toolResult(resp)
}

// call connects if needed and sends one request.
func (c *HTTPClient) call(ctx context.Context, method string, params any) (*transport.JSONRPCResponse, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	t := c.transport
	c.mu.RUnlock()
	if t == nil {
		return nil, ErrNotConnected
	}

	resp, err := c.send(ctx, t, method, params)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) && te.StatusCode == http.StatusNotFound {
			// the server dropped our session
			c.drop(t)
		}
		return nil, err
	}
	return resp, nil
}

// drop forgets t if it is still the current transport.
func (c *HTTPClient) drop(t *transport.StreamableHTTP) {
	c.mu.Lock()
	if c.transport == t {
		c.transport = nil
	}
	c.mu.Unlock()
	_ = t.Close()
}

// send issues one request with a fresh UUID and returns the response carrying that id.
func (c *HTTPClient) send(ctx context.Context, t *transport.StreamableHTTP, method string, params any) (*transport.JSONRPCResponse, error) {
	hctx, err := c.withHeaders(ctx)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	resp, err := t.SendRequest(withRequestID(hctx, id), transport.JSONRPCRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      mcp.NewRequestId(id),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return nil, te
		}
		return nil, &TransportError{Err: err}
	}
	if got, _ := resp.ID.Value().(string); got != id {
		return nil, &TransportError{Err: fmt.Errorf("response id %s does not match request", resp.ID.String())}
	}
	return resp, nil
}

type contextKey int

const (
	headersKey contextKey = iota
	requestIDKey
)

// withHeaders resolves the request headers once and carries them to the
// transport's header func through ctx.
func (c *HTTPClient) withHeaders(ctx context.Context) (context.Context, error) {
	if c.headers == nil {
		return ctx, nil
	}
	h, err := c.headers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve request headers: %w", err)
	}
	return context.WithValue(ctx, headersKey, h), nil
}

func headersFromContext(ctx context.Context) map[string]string {
	h, _ := ctx.Value(headersKey).(map[string]string)
	return h
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func requestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

// transportLogger routes mcp-go transport logs to the MCPClient subsystem.
type transportLogger struct{}

func (transportLogger) Infof(format string, v ...any) {
	logging.Debug("MCPClient", format, v...)
}

func (transportLogger) Errorf(format string, v ...any) {
	logging.Warn("MCPClient", format, v...)
}
