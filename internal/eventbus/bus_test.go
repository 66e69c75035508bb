package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects payloads delivered to a handler.
type recorder struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (r *recorder) handle(_ context.Context, _ string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, append([]byte(nil), payload...))
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func (r *recorder) last() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.payloads) == 0 {
		return nil
	}
	return r.payloads[len(r.payloads)-1]
}

func TestLocalBus_FanOut(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus()

	var a, b, other recorder
	subA, err := bus.Subscribe(ctx, "conversation:c1", a.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, "conversation:c1", b.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, "conversation:c2", other.handle)
	require.NoError(t, err)
	assert.Equal(t, "conversation:c1", subA.Channel())

	require.NoError(t, bus.Publish(ctx, "conversation:c1", "hello"))
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, 0, other.count())

	require.NoError(t, bus.Unsubscribe(subA))
	require.NoError(t, bus.Publish(ctx, "conversation:c1", "again"))
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 2, b.count())
}

func TestLocalBus_PanickingHandlerIsIsolated(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus()

	var rec recorder
	_, err := bus.Subscribe(ctx, "ch", func(context.Context, string, []byte) { panic("boom") })
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, "ch", rec.handle)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		require.NoError(t, bus.Publish(ctx, "ch", []byte("x")))
	})
	assert.Equal(t, 1, rec.count())
}

func TestLocalBus_Shutdown(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus()
	require.NoError(t, bus.Shutdown(ctx))

	assert.ErrorIs(t, bus.Publish(ctx, "ch", "x"), ErrClosed)
	_, err := bus.Subscribe(ctx, "ch", func(context.Context, string, []byte) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, bus.Initialize(ctx), ErrClosed)
}

func TestEnvelope_RoundTrip(t *testing.T) {
	env, err := NewEnvelope(EventMessageCreated, "org-1", "c1", map[string]string{"id": "m1"})
	require.NoError(t, err)
	env.Origin = "node-a"

	payload, err := encodePayload(env)
	require.NoError(t, err)

	got, err := DecodeEnvelope(payload)
	require.NoError(t, err)
	assert.Equal(t, EventMessageCreated, got.Type)
	assert.Equal(t, "org-1", got.OrganizationID)
	assert.Equal(t, "c1", got.ConversationID)
	assert.Equal(t, "node-a", got.Origin)
	assert.JSONEq(t, `{"id":"m1"}`, string(got.Data))

	_, err = DecodeEnvelope([]byte(`{"data":{}}`))
	assert.Error(t, err)
	_, err = DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "conversation:c1", ConversationChannel("c1"))
	assert.Equal(t, "org:o1:conversations", OrgConversationsChannel("o1"))
	assert.Equal(t, "org:o1:plugins", OrgPluginsChannel("o1"))
}

func newRedisBus(t *testing.T, mr *miniredis.Miniredis) (*RedisBus, redis.UniversalClient) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := NewRedisBus(client, "sb:")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = bus.Shutdown(ctx)
		_ = client.Close()
	})
	return bus, client
}

// waitSubscribers blocks until Redis reports n subscribers on channel.
func waitSubscribers(t *testing.T, client redis.UniversalClient, channel string, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		counts, err := client.PubSubNumSub(context.Background(), channel).Result()
		return err == nil && counts[channel] == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisBus_CrossInstanceDelivery(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	publisher, client := newRedisBus(t, mr)
	subscriber, _ := newRedisBus(t, mr)

	var first, second recorder
	_, err := subscriber.Subscribe(ctx, "org:o1:conversations", first.handle)
	require.NoError(t, err)
	_, err = subscriber.Subscribe(ctx, "org:o1:conversations", second.handle)
	require.NoError(t, err)

	// two local handlers share one Redis subscription
	waitSubscribers(t, client, "sb:org:o1:conversations", 1)

	env, err := NewEnvelope(EventConversationUpdated, "o1", "c1", map[string]string{"status": "open"})
	require.NoError(t, err)
	require.NoError(t, publisher.Publish(ctx, "org:o1:conversations", env))

	require.Eventually(t, func() bool {
		return first.count() == 1 && second.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	var got Envelope
	require.NoError(t, json.Unmarshal(first.last(), &got))
	assert.Equal(t, EventConversationUpdated, got.Type)
	assert.Equal(t, "c1", got.ConversationID)
}

func TestRedisBus_UnsubscribeLastHandler(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	bus, client := newRedisBus(t, mr)

	var a, b recorder
	subA, err := bus.Subscribe(ctx, "conversation:c1", a.handle)
	require.NoError(t, err)
	subB, err := bus.Subscribe(ctx, "conversation:c1", b.handle)
	require.NoError(t, err)
	waitSubscribers(t, client, "sb:conversation:c1", 1)

	require.NoError(t, bus.Unsubscribe(subA))
	waitSubscribers(t, client, "sb:conversation:c1", 1)

	require.NoError(t, bus.Unsubscribe(subB))
	waitSubscribers(t, client, "sb:conversation:c1", 0)

	// unknown or repeated unsubscribe is harmless
	assert.NoError(t, bus.Unsubscribe(subB))
	assert.NoError(t, bus.Unsubscribe(nil))
}

func TestRedisBus_HandlerPanicKeepsDemuxAlive(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	bus, client := newRedisBus(t, mr)

	var rec recorder
	_, err := bus.Subscribe(ctx, "panics", func(context.Context, string, []byte) { panic("boom") })
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, "works", rec.handle)
	require.NoError(t, err)
	waitSubscribers(t, client, "sb:works", 1)
	waitSubscribers(t, client, "sb:panics", 1)

	require.NoError(t, bus.Publish(ctx, "panics", "x"))
	require.NoError(t, bus.Publish(ctx, "works", "y"))

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []byte("y"), rec.last())
}

func TestRedisBus_InitializeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	bus, _ := newRedisBus(t, mr)

	require.NoError(t, bus.Initialize(ctx))
	ps := bus.pubsub
	require.NoError(t, bus.Initialize(ctx))
	assert.Same(t, ps, bus.pubsub)
}

func TestRedisBus_Shutdown(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	bus, _ := newRedisBus(t, mr)

	_, err := bus.Subscribe(ctx, "ch", func(context.Context, string, []byte) {})
	require.NoError(t, err)

	require.NoError(t, bus.Shutdown(ctx))
	assert.ErrorIs(t, bus.Publish(ctx, "ch", "x"), ErrClosed)
	_, err = bus.Subscribe(ctx, "ch", func(context.Context, string, []byte) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, bus.Shutdown(ctx), "second shutdown is a no-op")
}

func TestRedisBus_InitializeFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	bus, _ := newRedisBus(t, mr)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, bus.Initialize(ctx))
}
