package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for missing and expired keys.
var ErrNotFound = errors.New("cache: key not found")

// Store is a TTL key/value store.
type Store interface {
	// Set stores value under key for ttl. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// Take returns the value and deletes the key atomically.
	Take(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
