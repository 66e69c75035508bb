package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"switchboard/internal/clock"
	"switchboard/pkg/logging"
)

// Discovery fetches the tool list of a local worker from its
// /mcp/list-tools endpoint.
type Discovery struct {
	HTTPClient *http.Client
	// Attempts is the number of tries; the wait before retry n is Backoff * n.
	Attempts int
	Backoff  time.Duration
	// Timeout bounds each attempt.
	Timeout time.Duration
	Clock   clock.Clock
}

// DefaultDiscovery tries three times, waiting 1s then 2s, with 5s per attempt.
var DefaultDiscovery = Discovery{
	Attempts: 3,
	Backoff:  time.Second,
	Timeout:  5 * time.Second,
}

// Discover fetches the tools of the worker listening on localhost:port.
func Discover(ctx context.Context, port int) ([]mcp.Tool, error) {
	return DefaultDiscovery.Fetch(ctx, fmt.Sprintf("http://localhost:%d", port))
}

type workerTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type workerToolList struct {
	Tools []workerTool `json:"tools"`
}

// Fetch retrieves the tool list from baseURL.
func (d Discovery) Fetch(ctx context.Context, baseURL string) ([]mcp.Tool, error) {
	attempts := d.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	clk := clock.OrReal(d.Clock)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		tools, err := d.fetchOnce(ctx, baseURL+"/mcp/list-tools")
		if err == nil {
			return tools, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		logging.Debug("MCPClient", "Tool discovery at %s failed (attempt %d/%d): %v", baseURL, attempt, attempts, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-clk.After(time.Duration(attempt) * d.Backoff):
		}
	}
	return nil, fmt.Errorf("tool discovery at %s failed after %d attempts: %w", baseURL, attempts, lastErr)
}

func (d Discovery) fetchOnce(ctx context.Context, url string) ([]mcp.Tool, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	hc := d.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var list workerToolList
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONBody)).Decode(&list); err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("malformed tool list: %w", err)}
	}

	tools := make([]mcp.Tool, 0, len(list.Tools))
	for _, wt := range list.Tools {
		tools = append(tools, wt.toMCP())
	}
	return tools, nil
}

func (wt workerTool) toMCP() mcp.Tool {
	tool := mcp.Tool{
		Name:        wt.Name,
		Description: wt.Description,
		InputSchema: mcp.ToolInputSchema{Type: "object"},
	}
	if len(wt.InputSchema) > 0 && string(wt.InputSchema) != "null" {
		var schema mcp.ToolInputSchema
		if err := json.Unmarshal(wt.InputSchema, &schema); err == nil {
			if schema.Type == "" {
				schema.Type = "object"
			}
			tool.InputSchema = schema
		} else {
			logging.Warn("MCPClient", "Tool %s has an unreadable input schema: %v", wt.Name, err)
		}
	}
	return tool
}
