package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"switchboard/internal/clock"
	"switchboard/internal/eventbus"
	"switchboard/internal/mcpclient"
	"switchboard/internal/metrics"
	"switchboard/internal/plugin"
	"switchboard/pkg/logging"
)

// Credentials supplies authentication material for plugin connections.
// *auth.Resolver implements it.
type Credentials interface {
	HeaderProvider(orgID, pluginID string) func(ctx context.Context) (map[string]string, error)
	Environment(ctx context.Context, orgID, pluginID string) map[string]string
}

// ClientFactory builds the MCP client of an instance.
type ClientFactory func(m *plugin.Manifest, inst *plugin.Instance) (mcpclient.Client, error)

// StatusEvent is the payload of plugin.status events.
type StatusEvent struct {
	PluginID     string        `json:"pluginId"`
	Status       plugin.Status `json:"status"`
	Running      bool          `json:"running"`
	RestartCount int           `json:"restartCount"`
	LastError    string        `json:"lastError,omitempty"`
}

// Options configures a Manager.
type Options struct {
	Registry    plugin.Registry
	Manifests   plugin.ManifestSource
	Credentials Credentials
	Bus         eventbus.Bus
	Metrics     *metrics.Metrics
	Clock       clock.Clock
	// HTTPClient is shared by all HTTP plugin clients.
	HTTPClient *http.Client
	// Discovery lists the tools of local workers that declare a port.
	Discovery mcpclient.Discovery
	// NewClient overrides how clients are built.
	NewClient ClientFactory
	// StartConcurrency bounds parallel starts in StartAll.
	StartConcurrency int
	// ToolCacheTTL is how long the last tool list of an instance is served
	// when the worker cannot be reached. Zero disables the fallback.
	ToolCacheTTL time.Duration
}

type cachedTools struct {
	tools     []mcp.Tool
	fetchedAt time.Time
}

// Manager owns the MCP clients of running plugin instances.
type Manager struct {
	registry    plugin.Registry
	manifests   plugin.ManifestSource
	credentials Credentials
	bus         eventbus.Bus
	metrics     *metrics.Metrics
	clock       clock.Clock
	httpClient  *http.Client
	discovery   mcpclient.Discovery
	newClient   ClientFactory
	concurrency int
	toolTTL     time.Duration

	mu       sync.Mutex
	clients  map[string]mcpclient.Client
	tools    map[string]cachedTools
	starting singleflight.Group
}

// NewManager creates a runtime manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		registry:    opts.Registry,
		manifests:   opts.Manifests,
		credentials: opts.Credentials,
		bus:         opts.Bus,
		metrics:     opts.Metrics,
		clock:       clock.OrReal(opts.Clock),
		httpClient:  opts.HTTPClient,
		discovery:   opts.Discovery,
		newClient:   opts.NewClient,
		concurrency: opts.StartConcurrency,
		toolTTL:     opts.ToolCacheTTL,
		clients:     make(map[string]mcpclient.Client),
		tools:       make(map[string]cachedTools),
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: mcpclient.DefaultTimeout}
	}
	if m.discovery.Attempts == 0 {
		m.discovery = mcpclient.DefaultDiscovery
	}
	if m.newClient == nil {
		m.newClient = m.defaultClient
	}
	if m.concurrency <= 0 {
		m.concurrency = 4
	}
	return m
}

// defaultClient picks the transport named by the manifest.
func (m *Manager) defaultClient(man *plugin.Manifest, inst *plugin.Instance) (mcpclient.Client, error) {
	orgID, pluginID := inst.OrganizationID, inst.PluginID
	switch man.Transport {
	case plugin.TransportStdio:
		return mcpclient.NewStdioClient(man.Command, man.Args, func(ctx context.Context) map[string]string {
			return m.credentials.Environment(ctx, orgID, pluginID)
		}), nil
	case plugin.TransportHTTP, plugin.TransportSSE, "":
		opts := mcpclient.HTTPOptions{
			HTTPClient: m.httpClient,
			Headers:    m.credentials.HeaderProvider(orgID, pluginID),
		}
		url := EndpointURL(man)
		if man.Transport == plugin.TransportSSE {
			return mcpclient.NewSSEClient(url, opts), nil
		}
		return mcpclient.NewHTTPClient(url, opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransport, man.Transport)
	}
}

// EndpointURL returns the manifest URL, or the MCP endpoint of a local worker.
func EndpointURL(man *plugin.Manifest) string {
	if man.URL != "" {
		return man.URL
	}
	return fmt.Sprintf("http://localhost:%d/mcp", man.Port)
}

// Start connects an enabled instance and marks it ready. A connection
// failure leaves the instance in error with LastError set.
func (m *Manager) Start(ctx context.Context, orgID, pluginID string) (*plugin.Instance, error) {
	man, err := m.manifests.Manifest(pluginID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	inst, err := m.setStatus(ctx, orgID, pluginID, func(i *plugin.Instance) error {
		if !i.Enabled {
			return ErrNotEnabled
		}
		i.Running = true
		i.Status = plugin.StatusStarting
		i.StartedAt = &now
		i.StoppedAt = nil
		i.LastError = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.closeClient(inst.Key())
	client, err := m.newClient(man, inst)
	if err == nil {
		err = client.Connect(ctx)
	}
	if err != nil {
		logging.Error("Runtime", err, "Failed to start plugin=%s org=%s", pluginID, orgID)
		if client != nil {
			_ = client.Close()
		}
		if _, serr := m.markFailed(ctx, orgID, pluginID, plugin.StatusError, err); serr != nil {
			logging.Warn("Runtime", "Could not record failure of plugin=%s org=%s: %v", pluginID, orgID, serr)
		}
		return nil, fmt.Errorf("failed to start plugin %s: %w", pluginID, err)
	}

	m.mu.Lock()
	m.clients[inst.Key()] = client
	m.mu.Unlock()

	checked := m.clock.Now()
	inst, err = m.setStatus(ctx, orgID, pluginID, func(i *plugin.Instance) error {
		i.Status = plugin.StatusReady
		i.LastHealthCheck = &checked
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.Info("Runtime", "Plugin %s ready for org=%s", pluginID, orgID)
	return inst, nil
}

// Stop closes the client of an instance and marks it stopped.
func (m *Manager) Stop(ctx context.Context, orgID, pluginID string) (*plugin.Instance, error) {
	key := plugin.InstanceKey(orgID, pluginID)
	m.closeClient(key)
	m.mu.Lock()
	delete(m.tools, key)
	m.mu.Unlock()
	now := m.clock.Now()
	inst, err := m.setStatus(ctx, orgID, pluginID, func(i *plugin.Instance) error {
		i.Running = false
		i.Status = plugin.StatusStopped
		i.StoppedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.Info("Runtime", "Plugin %s stopped for org=%s", pluginID, orgID)
	return inst, nil
}

// Restart stops and starts an instance, counting the restart.
func (m *Manager) Restart(ctx context.Context, orgID, pluginID string) (*plugin.Instance, error) {
	if _, err := m.Stop(ctx, orgID, pluginID); err != nil {
		return nil, err
	}
	if _, err := m.registry.Update(ctx, orgID, pluginID, func(i *plugin.Instance) error {
		i.RestartCount++
		return nil
	}); err != nil {
		return nil, err
	}
	return m.Start(ctx, orgID, pluginID)
}

// StartAll starts every instance recorded as running, for example after a
// process restart. Failures are logged; the instances stay in error.
func (m *Manager) StartAll(ctx context.Context) error {
	running, err := m.registry.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("failed to list running plugins: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, inst := range running {
		orgID, pluginID := inst.OrganizationID, inst.PluginID
		g.Go(func() error {
			if _, err := m.Start(gctx, orgID, pluginID); err != nil {
				logging.Warn("Runtime", "Plugin %s for org=%s did not come back: %v", pluginID, orgID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	m.reportCounts(ctx)
	return nil
}

// ListTools returns the tools of an instance. Local workers that declare a
// port and no URL are asked through their discovery endpoint.
//
// A successful listing is remembered per instance. When the worker cannot be
// reached, a listing younger than the tool cache TTL is returned instead of
// the error; an older one is not.
func (m *Manager) ListTools(ctx context.Context, orgID, pluginID string) ([]mcp.Tool, error) {
	key := plugin.InstanceKey(orgID, pluginID)
	tools, err := m.fetchTools(ctx, orgID, pluginID)
	if err == nil {
		m.mu.Lock()
		m.tools[key] = cachedTools{tools: tools, fetchedAt: m.clock.Now()}
		m.mu.Unlock()
		return tools, nil
	}

	m.mu.Lock()
	cached, ok := m.tools[key]
	m.mu.Unlock()
	if ok && m.toolTTL > 0 {
		if age := m.clock.Now().Sub(cached.fetchedAt); age < m.toolTTL {
			logging.Warn("Runtime", "Serving tools of plugin=%s org=%s from %s ago: %v", pluginID, orgID, age, err)
			return append([]mcp.Tool(nil), cached.tools...), nil
		}
	}
	return nil, err
}

func (m *Manager) fetchTools(ctx context.Context, orgID, pluginID string) ([]mcp.Tool, error) {
	man, err := m.manifests.Manifest(pluginID)
	if err != nil {
		return nil, err
	}
	if man.Port > 0 && man.URL == "" && man.Transport != plugin.TransportStdio {
		return m.discovery.Fetch(ctx, fmt.Sprintf("http://localhost:%d", man.Port))
	}
	client, err := m.client(ctx, orgID, pluginID)
	if err != nil {
		return nil, err
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		m.transportFailed(ctx, orgID, pluginID, err)
		return nil, err
	}
	return tools, nil
}

// CallTool invokes a tool. Tool-level failures come back as a result with
// IsError set; only transport failures are returned as errors.
func (m *Manager) CallTool(ctx context.Context, orgID, pluginID, name string, args map[string]any) (*mcpclient.ToolResult, error) {
	start := m.clock.Now()
	client, err := m.client(ctx, orgID, pluginID)
	if err != nil {
		m.metrics.ObserveToolCall(pluginID, "unavailable", 0)
		return nil, err
	}

	res, err := client.CallTool(ctx, name, args)
	elapsed := m.clock.Now().Sub(start)
	switch {
	case err != nil:
		m.metrics.ObserveToolCall(pluginID, "transport_error", elapsed)
		m.transportFailed(ctx, orgID, pluginID, err)
		return nil, fmt.Errorf("tool %s on plugin %s: %w", name, pluginID, err)
	case res.IsError:
		m.metrics.ObserveToolCall(pluginID, "tool_error", elapsed)
		logging.Debug("Runtime", "Tool %s on plugin=%s returned an error: %s", name, pluginID, res.Text())
	default:
		m.metrics.ObserveToolCall(pluginID, "ok", elapsed)
	}
	return res, nil
}

// HealthCheck lists the tools of a running instance. Success marks it ready,
// failure degraded.
func (m *Manager) HealthCheck(ctx context.Context, orgID, pluginID string) (*plugin.Instance, error) {
	client, err := m.client(ctx, orgID, pluginID)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	if _, err := client.ListTools(ctx); err != nil {
		logging.Warn("Runtime", "Health check of plugin=%s org=%s failed: %v", pluginID, orgID, err)
		return m.markFailed(ctx, orgID, pluginID, plugin.StatusDegraded, err)
	}
	return m.setStatus(ctx, orgID, pluginID, func(i *plugin.Instance) error {
		i.Status = plugin.StatusReady
		i.LastError = ""
		i.LastHealthCheck = &now
		return nil
	})
}

// HealthCheckAll checks every running instance.
func (m *Manager) HealthCheckAll(ctx context.Context) {
	running, err := m.registry.ListRunning(ctx)
	if err != nil {
		logging.Warn("Runtime", "Health check skipped: %v", err)
		return
	}
	for _, inst := range running {
		if _, err := m.HealthCheck(ctx, inst.OrganizationID, inst.PluginID); err != nil {
			logging.Debug("Runtime", "Health check of %s: %v", inst.Key(), err)
		}
	}
	m.reportCounts(ctx)
}

// RunHealthChecks checks running instances every interval until ctx ends.
func (m *Manager) RunHealthChecks(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(interval):
			m.HealthCheckAll(ctx)
		}
	}
}

// Shutdown closes every client. Instances keep Running so StartAll brings
// them back on the next start.
func (m *Manager) Shutdown(context.Context) error {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]mcpclient.Client)
	m.mu.Unlock()

	var errs []error
	for key, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// client returns the cached client of a running instance, starting it when
// the instance is running but this process has no client yet. Concurrent
// callers for the same instance share one start.
func (m *Manager) client(ctx context.Context, orgID, pluginID string) (mcpclient.Client, error) {
	key := plugin.InstanceKey(orgID, pluginID)
	if c, ok := m.cachedClient(key); ok {
		return c, nil
	}

	v, err, shared := m.starting.Do(key, func() (interface{}, error) {
		if c, ok := m.cachedClient(key); ok {
			return c, nil
		}
		inst, err := m.registry.Get(ctx, orgID, pluginID)
		if err != nil {
			return nil, err
		}
		if !inst.Running {
			return nil, ErrNotRunning
		}
		if _, err := m.Start(ctx, orgID, pluginID); err != nil {
			return nil, err
		}
		c, ok := m.cachedClient(key)
		if !ok {
			return nil, ErrNotRunning
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logging.Debug("Runtime", "Joined in-flight start of plugin=%s org=%s", pluginID, orgID)
	}
	return v.(mcpclient.Client), nil
}

func (m *Manager) cachedClient(key string) (mcpclient.Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[key]
	return c, ok
}

func (m *Manager) transportFailed(ctx context.Context, orgID, pluginID string, cause error) {
	m.closeClient(plugin.InstanceKey(orgID, pluginID))
	if _, err := m.markFailed(ctx, orgID, pluginID, plugin.StatusError, cause); err != nil {
		logging.Warn("Runtime", "Could not record failure of plugin=%s org=%s: %v", pluginID, orgID, err)
	}
}

func (m *Manager) markFailed(ctx context.Context, orgID, pluginID string, status plugin.Status, cause error) (*plugin.Instance, error) {
	return m.setStatus(ctx, orgID, pluginID, func(i *plugin.Instance) error {
		i.Status = status
		i.LastError = cause.Error()
		return nil
	})
}

func (m *Manager) closeClient(key string) {
	m.mu.Lock()
	c, ok := m.clients[key]
	delete(m.clients, key)
	m.mu.Unlock()
	if ok {
		if err := c.Close(); err != nil {
			logging.Debug("Runtime", "Closing client %s: %v", key, err)
		}
	}
}

// setStatus updates the instance and publishes the resulting status.
func (m *Manager) setStatus(ctx context.Context, orgID, pluginID string, fn func(*plugin.Instance) error) (*plugin.Instance, error) {
	inst, err := m.registry.Update(ctx, orgID, pluginID, fn)
	if err != nil {
		return nil, err
	}
	m.publish(ctx, inst)
	return inst, nil
}

func (m *Manager) publish(ctx context.Context, inst *plugin.Instance) {
	if m.bus == nil {
		return
	}
	env, err := eventbus.NewEnvelope(eventbus.EventPluginStatus, inst.OrganizationID, "", StatusEvent{
		PluginID:     inst.PluginID,
		Status:       inst.Status,
		Running:      inst.Running,
		RestartCount: inst.RestartCount,
		LastError:    inst.LastError,
	})
	if err != nil {
		logging.Error("Runtime", err, "Cannot encode status of %s", inst.Key())
		return
	}
	err = m.bus.Publish(ctx, eventbus.OrgPluginsChannel(inst.OrganizationID), env)
	m.metrics.ObservePublish(eventbus.EventPluginStatus, err)
	if err != nil {
		logging.Warn("Runtime", "Publishing status of %s failed: %v", inst.Key(), err)
	}
}

func (m *Manager) reportCounts(ctx context.Context) {
	running, err := m.registry.ListRunning(ctx)
	if err != nil {
		return
	}
	counts := map[string]int{}
	for _, inst := range running {
		counts[string(inst.Status)]++
	}
	m.metrics.SetInstanceCounts(counts)
}
