package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgauth "switchboard/pkg/auth"
)

const testVaultSecret = "0123456789abcdef0123456789abcdef"

// runCommand executes c with args and returns its combined output.
func runCommand(t *testing.T, c *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetErr(&out)
	c.SetIn(strings.NewReader(stdin))
	c.SetArgs(args)
	err := c.Execute()
	return out.String(), err
}

// useConfigDir points the --config-path global at a fresh directory.
func useConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev := configPath
	configPath = dir
	t.Cleanup(func() { configPath = prev })
	return dir
}

// newToolServer answers the MCP handshake and tools/list.
func newToolServer(t *testing.T, seenHeaders *http.Header) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if seenHeaders != nil {
			*seenHeaders = r.Header.Clone()
		}
		if len(req.ID) == 0 {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		var result any
		switch req.Method {
		case "initialize":
			result = map[string]any{
				"protocolVersion": "2025-06-18",
				"capabilities":    map[string]any{"tools": map[string]any{}},
				"serverInfo":      map[string]any{"name": "orders", "version": "1.0.0"},
			}
		case "tools/list":
			result = map[string]any{"tools": []any{
				map[string]any{
					"name":        "lookup_order",
					"description": "Find an order by id",
					"inputSchema": map[string]any{"type": "object", "required": []string{"order_id"}},
				},
				map[string]any{
					"name":        "cancel_order",
					"description": "Cancel an order",
					"inputSchema": map[string]any{"type": "object"},
				},
			}}
		default:
			result = map[string]any{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestToolsCommand_ByURL(t *testing.T) {
	var headers http.Header
	srv := newToolServer(t, &headers)

	out, err := runCommand(t, newToolsCmd(), "", "--url", srv.URL, "--header", "Authorization: Bearer abc")
	require.NoError(t, err)

	assert.Contains(t, out, "lookup_order")
	assert.Contains(t, out, "order_id")
	assert.Contains(t, out, "cancel_order")
	assert.Less(t, strings.Index(out, "cancel_order"), strings.Index(out, "lookup_order"), "tools are sorted by name")
	assert.Contains(t, out, "Total:")
	assert.Equal(t, "Bearer abc", headers.Get("Authorization"))
}

func TestToolsCommand_ByManifest(t *testing.T) {
	srv := newToolServer(t, nil)
	useConfigDir(t)

	manifests := t.TempDir()
	manifest := "id: orders\nname: Orders\ntransport: http\nurl: " + srv.URL + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(manifests, "orders.yaml"), []byte(manifest), 0o600))
	t.Setenv("SWITCHBOARD_MANIFEST_DIR", manifests)

	out, err := runCommand(t, newToolsCmd(), "", "orders")
	require.NoError(t, err)
	assert.Contains(t, out, "lookup_order")

	_, err = runCommand(t, newToolsCmd(), "", "missing")
	assert.Error(t, err)
}

func TestToolsCommand_Arguments(t *testing.T) {
	_, err := runCommand(t, newToolsCmd(), "")
	assert.ErrorContains(t, err, "--url is required")

	_, err = runCommand(t, newToolsCmd(), "", "--url", "http://localhost:1", "--header", "no-colon")
	assert.ErrorContains(t, err, "invalid header")
}

func TestParseHeaders(t *testing.T) {
	h, err := parseHeaders([]string{"X-Org: acme", " Accept :text/plain", "X-Empty:"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X-Org": "acme", "Accept": "text/plain", "X-Empty": ""}, h)

	_, err = parseHeaders([]string{": value"})
	assert.Error(t, err)
}

func TestAuthStatusCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/orgs/acme/auth/status" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pkgauth.StatusResponse{
			OrganizationID: "acme",
			Plugins: []pkgauth.PluginAuthStatus{
				{PluginID: "notion", Method: "oauth", Status: pkgauth.StatusConnected, ExpiresAt: 1893456000},
				{PluginID: "github", Method: "none", Status: pkgauth.StatusDisconnected, OAuthAvailable: true},
				{PluginID: "jira", Method: "apikey", Status: pkgauth.StatusError, Error: "decryption failed"},
			},
		})
	}))
	defer srv.Close()

	out, err := runCommand(t, newAuthCmd(), "", "status", "--org", "acme", "--server", srv.URL)
	require.NoError(t, err)

	assert.Contains(t, out, "acme")
	assert.Contains(t, out, "notion")
	assert.Contains(t, out, "Connected")
	assert.Contains(t, out, "2030-01-01T00:00:00Z")
	assert.Contains(t, out, "OAuth available")
	assert.Contains(t, out, "decryption failed")
}

func TestAuthStatusCommand_Errors(t *testing.T) {
	_, err := runCommand(t, newAuthCmd(), "", "status")
	assert.ErrorContains(t, err, "--org is required")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err = runCommand(t, newAuthCmd(), "", "status", "--org", "acme", "--server", srv.URL)
	assert.ErrorContains(t, err, "server returned 500")
}

func TestVaultCommand_RoundTrip(t *testing.T) {
	useConfigDir(t)
	t.Setenv("SWITCHBOARD_VAULT_SECRET", testVaultSecret)

	enc, err := runCommand(t, newVaultCmd(), "", "encrypt", "hunter2")
	require.NoError(t, err)
	enc = strings.TrimSpace(enc)
	assert.NotEmpty(t, enc)
	assert.NotContains(t, enc, "hunter2")

	dec, err := runCommand(t, newVaultCmd(), enc+"\n", "decrypt")
	require.NoError(t, err)
	assert.Equal(t, "hunter2\n", dec)
}

func TestVaultCommand_MissingSecret(t *testing.T) {
	useConfigDir(t)
	t.Setenv("SWITCHBOARD_VAULT_SECRET", "")

	_, err := runCommand(t, newVaultCmd(), "", "encrypt", "hunter2")
	require.Error(t, err)
	assert.Equal(t, ExitCodeConfig, getExitCode(err))
}

func TestReadValue(t *testing.T) {
	v, err := readValue(strings.NewReader("ignored"), []string{"arg"})
	require.NoError(t, err)
	assert.Equal(t, "arg", v)

	v, err = readValue(strings.NewReader("from-stdin\r\nsecond line"), nil)
	require.NoError(t, err)
	assert.Equal(t, "from-stdin", v)

	_, err = readValue(strings.NewReader(""), nil)
	assert.Error(t, err)
}
