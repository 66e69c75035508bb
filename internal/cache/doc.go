// Package cache is the shared key/value cache used for short-lived security
// records: OAuth authorization state and anti-replay nonces.
//
// Two Store implementations exist. RedisStore is used whenever a Redis
// address is configured, so every server process sees the same records.
// MemoryStore serves single-process deployments and tests; it expires
// entries lazily on read and sweeps stale entries periodically.
//
// Take is the primitive behind one-time records: it reads and deletes in one
// atomic step (GETDEL on Redis), so of two concurrent callers exactly one
// receives the value.
package cache
