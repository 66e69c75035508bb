package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"switchboard/pkg/logging"
)

var (
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("event bus is shut down")
)

// Handler receives the raw payload published on a channel.
type Handler func(ctx context.Context, channel string, payload []byte)

// Subscription identifies one registered handler.
type Subscription struct {
	id      uint64
	channel string
}

// Channel returns the subscribed channel.
func (s *Subscription) Channel() string { return s.channel }

// Bus fans events out to every switchboard process.
//
// Delivery is best-effort and at most once. Publishers persist state before
// publishing, so a missed event is recovered by re-reading.
type Bus interface {
	// Initialize opens connections. It is idempotent and also called lazily.
	Initialize(ctx context.Context) error
	// Publish sends payload to every subscriber of channel.
	Publish(ctx context.Context, channel string, payload any) error
	// Subscribe registers h for channel.
	Subscribe(ctx context.Context, channel string, h Handler) (*Subscription, error)
	// Unsubscribe removes a handler.
	Unsubscribe(sub *Subscription) error
	// Shutdown closes connections; subsequent calls fail with ErrClosed.
	Shutdown(ctx context.Context) error
}

// handlerSet is the in-process demultiplexing map shared by the drivers.
type handlerSet struct {
	mu       sync.RWMutex
	nextID   atomic.Uint64
	channels map[string]map[uint64]Handler
}

func newHandlerSet() *handlerSet {
	return &handlerSet{channels: make(map[string]map[uint64]Handler)}
}

// add registers h and reports whether it is the first handler of the channel.
func (s *handlerSet) add(channel string, h Handler) (*Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &Subscription{id: s.nextID.Add(1), channel: channel}
	hs, ok := s.channels[channel]
	if !ok {
		hs = make(map[uint64]Handler)
		s.channels[channel] = hs
	}
	hs[sub.id] = h
	return sub, !ok
}

// remove unregisters sub and reports whether the channel has no handlers left.
func (s *handlerSet) remove(sub *Subscription) (found, last bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs, ok := s.channels[sub.channel]
	if !ok {
		return false, false
	}
	if _, ok := hs[sub.id]; !ok {
		return false, false
	}
	delete(hs, sub.id)
	if len(hs) == 0 {
		delete(s.channels, sub.channel)
		return true, true
	}
	return true, false
}

func (s *handlerSet) channelNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// dispatch calls every handler of channel. A panicking handler is logged
// and does not affect the others.
func (s *handlerSet) dispatch(ctx context.Context, channel string, payload []byte) int {
	s.mu.RLock()
	hs := make([]Handler, 0, len(s.channels[channel]))
	for _, h := range s.channels[channel] {
		hs = append(hs, h)
	}
	s.mu.RUnlock()

	for _, h := range hs {
		safeCall(ctx, h, channel, payload)
	}
	return len(hs)
}

func safeCall(ctx context.Context, h Handler, channel string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("EventBus", fmt.Errorf("panic: %v", r), "Handler for channel %s panicked", channel)
		}
	}()
	h(ctx, channel, payload)
}
