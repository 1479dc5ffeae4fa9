package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key does not exist.
var ErrCacheMiss = errors.New("cache: key not found")

// Cache defines the key-value storage port backing persisted client state
// (session token, cached user, remembered agent id). Implementations decide
// the medium; the contract is the only thing callers rely on.
type Cache interface {
	// Get retrieves a value from the cache by key.
	// Returns ErrCacheMiss when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with the specified key and TTL.
	// TTL of 0 means no expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache by key.
	Delete(ctx context.Context, key string) error

	// Ping checks if the cache service is reachable.
	Ping(ctx context.Context) error

	// Close closes the cache connection.
	Close() error
}
