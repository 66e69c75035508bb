package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// Client is an MCP connection to one plugin instance.
type Client interface {
	// Connect performs the initialize handshake. It is a no-op when connected.
	Connect(ctx context.Context) error
	// ListTools returns the tools the server offers.
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	// CallTool invokes a tool. Tool failures are reported in the result.
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
	// Close releases the connection.
	Close() error
	// IsConnected reports whether the handshake has completed.
	IsConnected() bool
}

// Compile-time interface compliance checks
var (
	_ Client = (*HTTPClient)(nil)
	_ Client = (*StdioClient)(nil)
)

// HeaderProvider returns the headers to send with a request.
type HeaderProvider func(ctx context.Context) (map[string]string, error)

// ToolResult is the outcome of a tool call.
type ToolResult struct {
	IsError bool `json:"isError"`
	// Error is set when the server answered with a JSON-RPC error.
	Error             *RPCError     `json:"error,omitempty"`
	Content           []mcp.Content `json:"content,omitempty"`
	StructuredContent any           `json:"structuredContent,omitempty"`
	// Raw is the JSON-RPC result or error object as received.
	Raw json.RawMessage `json:"-"`
}

// Text concatenates the text content of the result.
func (r *ToolResult) Text() string {
	var out string
	for _, c := range r.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			if out != "" {
				out += "\n"
			}
			out += tc.Text
		}
	}
	if out == "" && r.Error != nil {
		return r.Error.Message
	}
	return out
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

// rpcError converts the error object of a JSON-RPC response.
func rpcError(d *mcp.JSONRPCErrorDetails) *RPCError {
	if d == nil {
		return nil
	}
	e := &RPCError{Code: d.Code, Message: d.Message}
	if d.Data != nil {
		e.Data, _ = json.Marshal(d.Data)
	}
	return e
}

// toolResult converts a tools/call response.
func toolResult(resp *transport.JSONRPCResponse) (*ToolResult, error) {
	if resp.Error != nil {
		rpcErr := rpcError(resp.Error)
		raw, _ := json.Marshal(rpcErr)
		return &ToolResult{
			IsError: true,
			Error:   rpcErr,
			Content: []mcp.Content{mcp.NewTextContent(rpcErr.Message)},
			Raw:     raw,
		}, nil
	}

	parsed, err := mcp.ParseCallToolResult(&resp.Result)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("malformed tools/call result: %w", err)}
	}
	out := &ToolResult{
		IsError:           parsed.IsError,
		Content:           parsed.Content,
		StructuredContent: parsed.StructuredContent,
		Raw:               resp.Result,
	}
	if out.StructuredContent == nil {
		var sc struct {
			StructuredContent any `json:"structuredContent"`
		}
		if json.Unmarshal(resp.Result, &sc) == nil {
			out.StructuredContent = sc.StructuredContent
		}
	}
	return out, nil
}

// fromCallToolResult converts a result obtained through mcp-go.
func fromCallToolResult(res *mcp.CallToolResult) *ToolResult {
	raw, _ := json.Marshal(res)
	return &ToolResult{
		IsError:           res.IsError,
		Content:           res.Content,
		StructuredContent: res.StructuredContent,
		Raw:               raw,
	}
}
