package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"switchboard/pkg/logging"
)

// NATSConfig configures a NATSBus.
type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
	// SubjectPrefix is prepended to channel names, e.g. "switchboard.".
	SubjectPrefix string
}

// NATSBus is a Bus on core NATS subjects. Like RedisBus it keeps one broker
// subscription per channel and demultiplexes locally.
type NATSBus struct {
	cfg      NATSConfig
	handlers *handlerSet

	mu     sync.Mutex
	nc     *nats.Conn
	subs   map[string]*nats.Subscription
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

var _ Bus = (*NATSBus)(nil)

// NewNATSBus creates a bus. The connection is opened by Initialize.
func NewNATSBus(cfg NATSConfig) *NATSBus {
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "switchboard"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &NATSBus{
		cfg:      cfg,
		handlers: newHandlerSet(),
		subs:     make(map[string]*nats.Subscription),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Initialize connects to NATS. Calling it again is a no-op.
func (b *NATSBus) Initialize(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initLocked()
}

func (b *NATSBus) initLocked() error {
	if b.closed {
		return ErrClosed
	}
	if b.nc != nil {
		return nil
	}
	if b.cfg.URL == "" {
		return errors.New("event bus: nats url missing")
	}
	nc, err := nats.Connect(b.cfg.URL,
		nats.Name(b.cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(b.cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(b.cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn("EventBus", "NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("EventBus", "NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("event bus: connect to nats: %w", err)
	}
	b.nc = nc

	for _, ch := range b.handlers.channelNames() {
		if err := b.subscribeLocked(ch); err != nil {
			return err
		}
	}
	return nil
}

func (b *NATSBus) subscribeLocked(channel string) error {
	s, err := b.nc.Subscribe(b.cfg.SubjectPrefix+channel, func(m *nats.Msg) {
		b.handlers.dispatch(b.ctx, channel, m.Data)
	})
	if err != nil {
		return fmt.Errorf("event bus: subscribe to %s: %w", channel, err)
	}
	b.subs[channel] = s
	return nil
}

// Publish implements Bus.
func (b *NATSBus) Publish(ctx context.Context, channel string, payload any) error {
	b.mu.Lock()
	if err := b.initLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	nc := b.nc
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("event bus: encode payload: %w", err)
	}
	if err := nc.Publish(b.cfg.SubjectPrefix+channel, data); err != nil {
		return fmt.Errorf("event bus: publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe implements Bus.
func (b *NATSBus) Subscribe(_ context.Context, channel string, h Handler) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.initLocked(); err != nil {
		return nil, err
	}
	sub, first := b.handlers.add(channel, h)
	if first {
		if err := b.subscribeLocked(channel); err != nil {
			b.handlers.remove(sub)
			return nil, err
		}
	}
	return sub, nil
}

// Unsubscribe implements Bus.
func (b *NATSBus) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	found, last := b.handlers.remove(sub)
	if !found || !last {
		return nil
	}
	s, ok := b.subs[sub.channel]
	if !ok {
		return nil
	}
	delete(b.subs, sub.channel)
	return s.Unsubscribe()
}

// Shutdown drains the connection.
func (b *NATSBus) Shutdown(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.cancel()
	if b.nc == nil {
		return nil
	}
	b.subs = make(map[string]*nats.Subscription)
	return b.nc.Drain()
}
