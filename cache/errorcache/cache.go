// Package errorcache implements a cache that is always unreachable.
package errorcache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// Cache holds cache client.
type Cache struct {
	calls atomic.Int64
}

// New creates a new cache client.
func New() (*Cache, error) {
	return &Cache{}, nil
}

// ErrAlways is returned by every call.
var ErrAlways = errors.New("errorcache error always")

// Get retrieves token from cache.
func (c *Cache) Get(_ context.Context) (string, error) {
	c.calls.Add(1)
	return "", ErrAlways
}

// Put inserts token into cache.
func (c *Cache) Put(_ context.Context, _ string, _ time.Duration) error {
	c.calls.Add(1)
	return ErrAlways
}

// Calls reports how many times the cache was hit.
func (c *Cache) Calls() int64 {
	return c.calls.Load()
}
