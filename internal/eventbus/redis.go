package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"switchboard/pkg/logging"
)

// RedisBus is a Bus on Redis pub/sub.
//
// Publishing goes through the shared client. Subscriptions use one dedicated
// PubSub connection, opened by Initialize, whose messages a single goroutine
// hands to the local handlers. A Redis channel is subscribed when its first
// local handler registers and unsubscribed when the last one leaves.
type RedisBus struct {
	client   redis.UniversalClient
	prefix   string
	handlers *handlerSet

	// mu guards pubsub and closed, and serializes SUBSCRIBE/UNSUBSCRIBE
	// with the handler map so the two never disagree.
	mu     sync.Mutex
	pubsub *redis.PubSub
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus creates a bus on client. Channel names are prefixed with prefix
// on the wire. The client is owned by the caller.
func NewRedisBus(client redis.UniversalClient, prefix string) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBus{
		client:   client,
		prefix:   prefix,
		handlers: newHandlerSet(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Initialize opens the subscriber connection. Calling it again is a no-op.
func (b *RedisBus) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initLocked(ctx)
}

func (b *RedisBus) initLocked(ctx context.Context) error {
	if b.closed {
		return ErrClosed
	}
	if b.pubsub != nil {
		return nil
	}
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("event bus: redis unreachable: %w", err)
	}

	// Channels registered before Initialize are subscribed here.
	var channels []string
	for _, ch := range b.handlers.channelNames() {
		channels = append(channels, b.prefix+ch)
	}
	b.pubsub = b.client.Subscribe(b.ctx, channels...)
	b.done = make(chan struct{})
	go b.demux(b.pubsub.Channel(), b.done)

	logging.Debug("EventBus", "Redis subscriber connection opened (%d channels)", len(channels))
	return nil
}

func (b *RedisBus) demux(msgs <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range msgs {
		channel := strings.TrimPrefix(msg.Channel, b.prefix)
		n := b.handlers.dispatch(b.ctx, channel, []byte(msg.Payload))
		if n == 0 {
			logging.Debug("EventBus", "Dropped message on %s: no handlers", channel)
		}
	}
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload any) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("event bus: encode payload: %w", err)
	}
	if err := b.client.Publish(ctx, b.prefix+channel, data).Err(); err != nil {
		return fmt.Errorf("event bus: publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe implements Bus. It initializes the bus if needed.
func (b *RedisBus) Subscribe(ctx context.Context, channel string, h Handler) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.initLocked(ctx); err != nil {
		return nil, err
	}

	sub, first := b.handlers.add(channel, h)
	if first {
		if err := b.pubsub.Subscribe(ctx, b.prefix+channel); err != nil {
			b.handlers.remove(sub)
			return nil, fmt.Errorf("event bus: subscribe to %s: %w", channel, err)
		}
		logging.Debug("EventBus", "Subscribed to %s", channel)
	}
	return sub, nil
}

// Unsubscribe implements Bus.
func (b *RedisBus) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	found, last := b.handlers.remove(sub)
	if !found || !last || b.pubsub == nil || b.closed {
		return nil
	}
	if err := b.pubsub.Unsubscribe(b.ctx, b.prefix+sub.channel); err != nil {
		return fmt.Errorf("event bus: unsubscribe from %s: %w", sub.channel, err)
	}
	logging.Debug("EventBus", "Unsubscribed from %s", sub.channel)
	return nil
}

// Shutdown closes the subscriber connection and waits for in-flight handlers.
func (b *RedisBus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	ps, done := b.pubsub, b.done
	b.mu.Unlock()

	b.cancel()
	if ps == nil {
		return nil
	}
	err := ps.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
