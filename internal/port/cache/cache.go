// Package cache defines the port interface for the decision cache.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. A miss is not an
// error: Get returns ok=false and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
