package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"switchboard/internal/eventbus"
	"switchboard/internal/metrics"
	"switchboard/pkg/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// DefaultSendQueue is the number of frames buffered per client.
	DefaultSendQueue = 64
)

// Options configures a Hub.
type Options struct {
	Bus     eventbus.Bus
	Metrics *metrics.Metrics
	// CheckOrigin is passed to the upgrader. Nil accepts same-origin requests only.
	CheckOrigin func(r *http.Request) bool
	SendQueue   int
}

// Hub accepts WebSocket clients and relays bus events to them.
type Hub struct {
	bus       eventbus.Bus
	metrics   *metrics.Metrics
	upgrader  websocket.Upgrader
	sendQueue int

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

// NewHub creates a relay hub.
func NewHub(opts Options) *Hub {
	q := opts.SendQueue
	if q <= 0 {
		q = DefaultSendQueue
	}
	return &Hub{
		bus:       opts.Bus,
		metrics:   opts.Metrics,
		sendQueue: q,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
		clients: make(map[string]*client),
	}
}

// Target selects the channels a client listens to.
type Target struct {
	OrganizationID string
	// ConversationID additionally subscribes to one conversation.
	ConversationID string
}

func (t Target) channels() []string {
	chs := []string{
		eventbus.OrgConversationsChannel(t.OrganizationID),
		eventbus.OrgPluginsChannel(t.OrganizationID),
	}
	if t.ConversationID != "" {
		chs = append(chs, eventbus.ConversationChannel(t.ConversationID))
	}
	return chs
}

type client struct {
	id     string
	target Target
	conn   *websocket.Conn
	send   chan []byte
	subs   []*eventbus.Subscription

	closeOnce sync.Once
	done      chan struct{}
	dropped   atomic.Bool
}

// ServeWS upgrades the request and relays events for target until the
// client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, target Target) {
	if target.OrganizationID == "" {
		http.Error(w, "organization is required", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug("Relay", "WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{
		id:     uuid.NewString(),
		target: target,
		conn:   conn,
		send:   make(chan []byte, h.sendQueue),
		done:   make(chan struct{}),
	}
	if err := h.register(r.Context(), c); err != nil {
		logging.Warn("Relay", "Cannot relay events for org=%s: %v", target.OrganizationID, err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "events unavailable"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(ctx context.Context, c *client) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return eventbus.ErrClosed
	}
	h.clients[c.id] = c
	h.mu.Unlock()

	for _, ch := range c.target.channels() {
		sub, err := h.bus.Subscribe(ctx, ch, func(_ context.Context, _ string, payload []byte) {
			h.deliver(c, payload)
		})
		if err != nil {
			h.unregister(c)
			return err
		}
		c.subs = append(c.subs, sub)
	}

	h.metrics.RelayClientConnected(1)
	logging.Debug("Relay", "Client %s connected for org=%s", logging.TruncateID(c.id), c.target.OrganizationID)
	return nil
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()

	for _, sub := range c.subs {
		if err := h.bus.Unsubscribe(sub); err != nil {
			logging.Debug("Relay", "Unsubscribe %s: %v", sub.Channel(), err)
		}
	}
	c.subs = nil
	c.closeOnce.Do(func() { close(c.done) })
}

// deliver queues payload for c. A full queue drops the client.
func (h *Hub) deliver(c *client, payload []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- payload:
	default:
		if c.dropped.CompareAndSwap(false, true) {
			logging.Warn("Relay", "Client %s is too slow, disconnecting", logging.TruncateID(c.id))
			_ = c.conn.Close()
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		h.metrics.RelayClientConnected(-1)
		_ = c.conn.Close()
		logging.Debug("Relay", "Client %s disconnected", logging.TruncateID(c.id))
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// clients do not send anything meaningful; reading drives pongs and close
		if _, _, err := c.conn.ReadMessage(); err != nil {
			var ne net.Error
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
			case errors.As(err, &ne) && ne.Timeout():
				logging.Debug("Relay", "Client %s timed out", logging.TruncateID(c.id))
			default:
				logging.Debug("Relay", "Client %s read error: %v", logging.TruncateID(c.id), err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown disconnects every client.
func (h *Hub) Shutdown(context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.closeOnce.Do(func() { close(c.done) })
	}
	return nil
}
