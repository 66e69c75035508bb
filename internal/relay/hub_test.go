package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/eventbus"
)

func newRelayServer(t *testing.T) (*Hub, *eventbus.LocalBus, string) {
	t.Helper()
	bus := eventbus.NewLocalBus()
	hub := NewHub(Options{Bus: bus})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, Target{
			OrganizationID: r.URL.Query().Get("org"),
			ConversationID: r.URL.Query().Get("conversation"),
		})
	}))
	t.Cleanup(srv.Close)
	return hub, bus, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *eventbus.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	env, err := eventbus.DecodeEnvelope(data)
	require.NoError(t, err)
	return env
}

func publish(t *testing.T, bus eventbus.Bus, channel, eventType, orgID, convID string) {
	t.Helper()
	env, err := eventbus.NewEnvelope(eventType, orgID, convID, map[string]string{"id": convID})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), channel, env))
}

func TestHub_RelaysOrganizationEvents(t *testing.T) {
	hub, bus, url := newRelayServer(t)
	conn := dial(t, url+"?org=org-1")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	publish(t, bus, eventbus.OrgConversationsChannel("org-2"), eventbus.EventConversationUpdated, "org-2", "c9")
	publish(t, bus, eventbus.OrgConversationsChannel("org-1"), eventbus.EventConversationUpdated, "org-1", "c1")
	publish(t, bus, eventbus.OrgPluginsChannel("org-1"), eventbus.EventPluginStatus, "org-1", "")

	env := readEnvelope(t, conn)
	assert.Equal(t, "org-1", env.OrganizationID, "events of other organizations are not relayed")
	assert.Equal(t, "c1", env.ConversationID)

	env = readEnvelope(t, conn)
	assert.Equal(t, eventbus.EventPluginStatus, env.Type)
}

func TestHub_ConversationChannel(t *testing.T) {
	hub, bus, url := newRelayServer(t)
	conn := dial(t, url+"?org=org-1&conversation=c1")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	publish(t, bus, eventbus.ConversationChannel("c2"), eventbus.EventMessageCreated, "org-1", "c2")
	publish(t, bus, eventbus.ConversationChannel("c1"), eventbus.EventMessageCreated, "org-1", "c1")

	env := readEnvelope(t, conn)
	assert.Equal(t, eventbus.EventMessageCreated, env.Type)
	assert.Equal(t, "c1", env.ConversationID)
}

func TestHub_DisconnectUnsubscribes(t *testing.T) {
	hub, bus, url := newRelayServer(t)
	conn := dial(t, url+"?org=org-1")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)

	// publishing after the client left must not block or panic
	assert.NotPanics(t, func() {
		publish(t, bus, eventbus.OrgConversationsChannel("org-1"), eventbus.EventConversationUpdated, "org-1", "c1")
	})
}

func TestHub_Shutdown(t *testing.T) {
	hub, _, url := newRelayServer(t)
	conn := dial(t, url+"?org=org-1")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Shutdown(context.Background()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	// new clients are told to come back later
	late := dial(t, url+"?org=org-1")
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RequiresOrganization(t *testing.T) {
	_, _, url := newRelayServer(t)
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
