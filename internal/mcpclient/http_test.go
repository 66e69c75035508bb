package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type incoming struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// fakeServer is a minimal MCP server. respond decides how a request is answered.
type fakeServer struct {
	mu       sync.Mutex
	requests []incoming
	headers  []http.Header
	respond  func(w http.ResponseWriter, r *http.Request, req incoming)
	server   *httptest.Server
}

func newFakeServer(t *testing.T, respond func(w http.ResponseWriter, r *http.Request, req incoming)) *fakeServer {
	t.Helper()
	f := &fakeServer{respond: respond}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req incoming
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.headers = append(f.headers, r.Header.Clone())
		f.mu.Unlock()

		if req.ID == "" {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		if req.Method == "initialize" {
			w.Header().Set("Mcp-Session-Id", "session-1")
			writeJSON(w, req.ID, map[string]any{
				"protocolVersion": "2025-06-18",
				"capabilities":    map[string]any{"tools": map[string]any{}},
				"serverInfo":      map[string]any{"name": "fake", "version": "0.1.0"},
			})
			return
		}
		f.respond(w, r, req)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeServer) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.Method)
	}
	return out
}

func writeJSON(w http.ResponseWriter, id string, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func textResult(text string) map[string]any {
	return map[string]any{"content": []any{map[string]any{"type": "text", "text": text}}}
}

func TestHTTPClient_ConnectHandshake(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, _ *http.Request, req incoming) {
		writeJSON(w, req.ID, map[string]any{"tools": []any{}})
	})
	c := NewHTTPClient(srv.server.URL, HTTPOptions{})

	assert.False(t, c.IsConnected())
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())
	assert.Equal(t, "fake", c.ServerInfo().Name)
	require.NoError(t, c.Connect(context.Background()), "second connect is a no-op")

	assert.Equal(t, []string{"initialize", "notifications/initialized"}, srv.methods())

	var params map[string]any
	require.NoError(t, json.Unmarshal(srv.requests[0].Params, &params))
	assert.NotEmpty(t, params["protocolVersion"])
	assert.Contains(t, params, "capabilities")
	assert.Equal(t, "switchboard", params["clientInfo"].(map[string]any)["name"])
	assert.Equal(t, "session-1", srv.headers[1].Get("Mcp-Session-Id"))
}

func TestHTTPClient_ConnectFailsOnRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req incoming
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]any{"code": -32602, "message": "unsupported protocol version"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, HTTPOptions{})
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, c.IsConnected())
	var rpcErr *RPCError
	assert.True(t, errors.As(err, &rpcErr))
}

func TestHTTPClient_CallToolLazyConnectAndUniqueIDs(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, _ *http.Request, req incoming) {
		writeJSON(w, req.ID, map[string]any{
			"content":           []any{map[string]any{"type": "text", "text": "42 results"}},
			"structuredContent": map[string]any{"count": 42},
		})
	})
	c := NewHTTPClient(srv.server.URL, HTTPOptions{})

	res, err := c.CallTool(context.Background(), "search", map[string]any{"q": "refund"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "42 results", res.Text())
	assert.Equal(t, map[string]any{"count": float64(42)}, res.StructuredContent)

	_, err = c.CallTool(context.Background(), "search", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"initialize", "notifications/initialized", "tools/call", "tools/call"}, srv.methods())
	assert.NotEqual(t, srv.requests[2].ID, srv.requests[3].ID)

	var params map[string]any
	require.NoError(t, json.Unmarshal(srv.requests[2].Params, &params))
	assert.Equal(t, "search", params["name"])
	assert.Equal(t, map[string]any{"q": "refund"}, params["arguments"])
}

func TestHTTPClient_ToolErrorsAreResults(t *testing.T) {
	tests := []struct {
		name     string
		reply    func(w http.ResponseWriter, id string)
		expected string
	}{
		{
			name: "json-rpc error",
			reply: func(w http.ResponseWriter, id string) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]any{
					"jsonrpc": "2.0", "id": id,
					"error": map[string]any{"code": -32601, "message": "unknown tool"},
				})
			},
			expected: "unknown tool",
		},
		{
			name: "isError result",
			reply: func(w http.ResponseWriter, id string) {
				r := textResult("rate limited")
				r["isError"] = true
				writeJSON(w, id, r)
			},
			expected: "rate limited",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeServer(t, func(w http.ResponseWriter, _ *http.Request, req incoming) {
				tt.reply(w, req.ID)
			})
			c := NewHTTPClient(srv.server.URL, HTTPOptions{})

			res, err := c.CallTool(context.Background(), "search", nil)
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Equal(t, tt.expected, res.Text())
		})
	}
}

func TestHTTPClient_SSECorrelation(t *testing.T) {
	streamClosed := make(chan struct{})
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request, req incoming) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		frames := []string{
			": keep-alive\n\n",
			`data: {"jsonrpc":"2.0","method":"notifications/progress","params":{"progress":1}}` + "\n\n",
			`data: {"jsonrpc":"2.0","id":"someone-else","result":` + mustJSON(textResult("wrong")) + "}\n\n",
			"event: message\ndata: not json\n\n",
			"event: message\r\n" +
				`data: {"jsonrpc":"2.0","id":"` + req.ID + `",` + "\r\n" +
				`data: "result":` + mustJSON(textResult("right")) + "}\r\n\r\n",
		}
		for _, f := range frames {
			_, _ = fmt.Fprint(w, f)
			flusher.Flush()
		}
		// keep the stream open; the client must hang up after the match
		<-r.Context().Done()
		close(streamClosed)
	})
	c := NewSSEClient(srv.server.URL, HTTPOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.CallTool(ctx, "search", nil)
	require.NoError(t, err)
	assert.Equal(t, "right", res.Text())

	select {
	case <-streamClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not cancelled after the matching response")
	}

	assert.True(t, strings.HasPrefix(srv.headers[2].Get("Accept"), "text/event-stream"))
}

func TestHTTPClient_SSEStreamEndsWithoutMatch(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, _ *http.Request, _ incoming) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, `data: {"jsonrpc":"2.0","id":"other","result":{}}`+"\n\n")
	})
	c := NewSSEClient(srv.server.URL, HTTPOptions{})

	_, err := c.CallTool(context.Background(), "search", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamEnded)
	var te *TransportError
	assert.True(t, errors.As(err, &te))
}

func TestHTTPClient_SSEClientAcceptsPlainJSON(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, _ *http.Request, req incoming) {
		writeJSON(w, req.ID, map[string]any{"tools": []any{
			map[string]any{"name": "search", "description": "Search docs", "inputSchema": map[string]any{"type": "object"}},
		}})
	})
	c := NewSSEClient(srv.server.URL, HTTPOptions{})

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "search", tools[0].Name)
}

func TestHTTPClient_UnknownContentTypeParsedAsJSON(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, _ *http.Request, req incoming) {
		w.Header().Set("Content-Type", "text/plain")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": textResult("plain")})
	})
	c := NewSSEClient(srv.server.URL, HTTPOptions{})

	res, err := c.CallTool(context.Background(), "search", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", res.Text())
}

func TestHTTPClient_RejectsForeignResponseID(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, _ *http.Request, _ incoming) {
		writeJSON(w, "not-my-request", textResult("stray"))
	})
	c := NewHTTPClient(srv.server.URL, HTTPOptions{})

	_, err := c.CallTool(context.Background(), "search", nil)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, err.Error(), "does not match")
}

func TestHTTPClient_HeaderProviderError(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, _ *http.Request, req incoming) {
		writeJSON(w, req.ID, textResult("ok"))
	})
	c := NewHTTPClient(srv.server.URL, HTTPOptions{
		Headers: func(context.Context) (map[string]string, error) {
			return nil, errors.New("credentials unavailable")
		},
	})

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials unavailable")
	assert.False(t, c.IsConnected())
	assert.Empty(t, srv.methods())
}

func TestHTTPClient_ListToolsPagination(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, _ *http.Request, req incoming) {
		var params struct {
			Cursor string `json:"cursor"`
		}
		_ = json.Unmarshal(req.Params, &params)
		if params.Cursor == "" {
			writeJSON(w, req.ID, map[string]any{
				"tools":      []any{map[string]any{"name": "a", "inputSchema": map[string]any{"type": "object"}}},
				"nextCursor": "page-2",
			})
			return
		}
		writeJSON(w, req.ID, map[string]any{
			"tools": []any{map[string]any{"name": "b", "inputSchema": map[string]any{"type": "object"}}},
		})
	})
	c := NewHTTPClient(srv.server.URL, HTTPOptions{})

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "a", tools[0].Name)
	assert.Equal(t, "b", tools[1].Name)
}

func TestHTTPClient_TransportErrors(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, _ *http.Request, _ incoming) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	})
	c := NewHTTPClient(srv.server.URL, HTTPOptions{})

	_, err := c.CallTool(context.Background(), "search", nil)
	require.Error(t, err)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
	assert.Equal(t, "token expired", te.Body)
	assert.True(t, IsUnauthorized(err))
}

func TestHTTPClient_MalformedJSON(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, _ *http.Request, _ incoming) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{not json"))
	})
	c := NewHTTPClient(srv.server.URL, HTTPOptions{})

	_, err := c.CallTool(context.Background(), "search", nil)
	var te *TransportError
	assert.True(t, errors.As(err, &te))
}

func TestHTTPClient_HeadersResolvedPerRequest(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, _ *http.Request, req incoming) {
		writeJSON(w, req.ID, textResult("ok"))
	})

	var calls int
	provider := func(context.Context) (map[string]string, error) {
		calls++
		return map[string]string{"Authorization": fmt.Sprintf("Bearer at-%d", calls)}, nil
	}
	c := NewHTTPClient(srv.server.URL, HTTPOptions{Headers: provider})

	_, err := c.CallTool(context.Background(), "search", nil)
	require.NoError(t, err)
	_, err = c.CallTool(context.Background(), "search", nil)
	require.NoError(t, err)

	assert.Equal(t, "Bearer at-1", srv.headers[0].Get("Authorization"))
	assert.Equal(t, "Bearer at-4", srv.headers[3].Get("Authorization"), "a refreshed token applies without reconnecting")
}

func TestHTTPClient_ReconnectsWhenSessionDropped(t *testing.T) {
	var dropped bool
	srv := newFakeServer(t, func(w http.ResponseWriter, _ *http.Request, req incoming) {
		if !dropped {
			dropped = true
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		writeJSON(w, req.ID, textResult("ok"))
	})
	c := NewHTTPClient(srv.server.URL, HTTPOptions{})

	_, err := c.CallTool(context.Background(), "search", nil)
	require.Error(t, err)
	assert.False(t, c.IsConnected())

	res, err := c.CallTool(context.Background(), "search", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text())
	assert.Equal(t, 2, strings.Count(strings.Join(srv.methods(), ","), "initialize,"))
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
