// Package metrics exposes switchboard's Prometheus collectors.
//
// All recording methods are safe on a nil *Metrics, so components accept an
// optional collector set and tests can pass nil.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "switchboard"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	oauthRefreshes   *prometheus.CounterVec
	oauthCallbacks   *prometheus.CounterVec
	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	instanceStatus   *prometheus.GaugeVec
	eventsPublished  *prometheus.CounterVec
	messages         *prometheus.CounterVec
	relayClients     prometheus.Gauge
}

// New creates and registers the collectors, including Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		oauthRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oauth",
			Name:      "refreshes_total",
			Help:      "Token refresh attempts by plugin and outcome.",
		}, []string{"plugin", "outcome"}),
		oauthCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oauth",
			Name:      "callbacks_total",
			Help:      "Authorization callbacks by outcome.",
		}, []string{"outcome"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mcp",
			Name:      "tool_calls_total",
			Help:      "Tool calls by plugin and result (ok, tool_error, transport_error).",
		}, []string{"plugin", "result"}),
		toolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mcp",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"plugin"}),
		instanceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "plugin",
			Name:      "instances",
			Help:      "Plugin instances by status.",
		}, []string{"status"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "published_total",
			Help:      "Event bus publishes by event type and outcome.",
		}, []string{"type", "outcome"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "messages_total",
			Help:      "Messages added by type; duplicates are counted separately.",
		}, []string{"type", "outcome"}),
		relayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "clients",
			Help:      "Connected WebSocket clients.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.oauthRefreshes,
		m.oauthCallbacks,
		m.toolCalls,
		m.toolCallDuration,
		m.instanceStatus,
		m.eventsPublished,
		m.messages,
		m.relayClients,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRefresh records a token refresh outcome ("success", "failure", "stale").
func (m *Metrics) ObserveRefresh(pluginID, outcome string) {
	if m == nil {
		return
	}
	m.oauthRefreshes.WithLabelValues(pluginID, outcome).Inc()
}

// ObserveCallback records an authorization callback outcome.
func (m *Metrics) ObserveCallback(outcome string) {
	if m == nil {
		return
	}
	m.oauthCallbacks.WithLabelValues(outcome).Inc()
}

// ObserveToolCall records a tool call result and its latency.
func (m *Metrics) ObserveToolCall(pluginID, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(pluginID, result).Inc()
	m.toolCallDuration.WithLabelValues(pluginID).Observe(d.Seconds())
}

// SetInstanceCounts replaces the per-status instance gauge.
func (m *Metrics) SetInstanceCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.instanceStatus.Reset()
	for status, n := range counts {
		m.instanceStatus.WithLabelValues(status).Set(float64(n))
	}
}

// ObservePublish records an event bus publish.
func (m *Metrics) ObservePublish(eventType string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.eventsPublished.WithLabelValues(eventType, outcome).Inc()
}

// ObserveMessage records an added message ("created" or "duplicate").
func (m *Metrics) ObserveMessage(msgType, outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(msgType, outcome).Inc()
}

// RelayClientConnected adjusts the relay client gauge by delta.
func (m *Metrics) RelayClientConnected(delta int) {
	if m == nil {
		return
	}
	m.relayClients.Add(float64(delta))
}
