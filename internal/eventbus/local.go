package eventbus

import (
	"context"
	"sync/atomic"
)

// LocalBus delivers events to handlers in the same process. Publish calls the
// handlers synchronously.
type LocalBus struct {
	handlers *handlerSet
	closed   atomic.Bool
}

var _ Bus = (*LocalBus)(nil)

// NewLocalBus creates an in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: newHandlerSet()}
}

// Initialize implements Bus.
func (b *LocalBus) Initialize(context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Publish implements Bus.
func (b *LocalBus) Publish(ctx context.Context, channel string, payload any) error {
	if b.closed.Load() {
		return ErrClosed
	}
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	b.handlers.dispatch(ctx, channel, data)
	return nil
}

// Subscribe implements Bus.
func (b *LocalBus) Subscribe(_ context.Context, channel string, h Handler) (*Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	sub, _ := b.handlers.add(channel, h)
	return sub, nil
}

// Unsubscribe implements Bus.
func (b *LocalBus) Unsubscribe(sub *Subscription) error {
	if sub != nil {
		b.handlers.remove(sub)
	}
	return nil
}

// Shutdown implements Bus.
func (b *LocalBus) Shutdown(context.Context) error {
	b.closed.Store(true)
	return nil
}
