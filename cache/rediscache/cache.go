// Package rediscache implements a cache.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skyhold/flightquote/token"
)

// Cache holds cache client.
type Cache struct {
	key         string
	redisClient *redis.Client
}

// New creates a new cache client.
// redisString = <host>:<port>:<password>:<key>
// redisString = localhost:6379::access_token
func New(redisString string) (*Cache, error) {
	fields := strings.SplitN(redisString, ":", 4)
	if len(fields) != 4 {
		return nil, fmt.Errorf("4 fields are required, but got: %d", len(fields))
	}
	host := fields[0]
	port := fields[1]
	password := fields[2]
	key := fields[3]
	if key == "" {
		return nil, errors.New("empty redis key")
	}
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       0,
	}), key), nil
}

// NewFromURL creates a cache client from a redis:// or rediss:// URL.
func NewFromURL(redisURL, key string) (*Cache, error) {
	opts, errParse := redis.ParseURL(redisURL)
	if errParse != nil {
		return nil, fmt.Errorf("redis url: %w", errParse)
	}
	// a rejected command must surface quickly so the caller can degrade
	opts.MaxRetries = 2
	return NewWithClient(redis.NewClient(opts), key), nil
}

// NewWithClient wraps an existing redis client.
func NewWithClient(client *redis.Client, key string) *Cache {
	return &Cache{redisClient: client, key: key}
}

// Key returns the redis key holding the token.
func (c *Cache) Key() string {
	return c.key
}

// Get retrieves token from cache.
func (c *Cache) Get(ctx context.Context) (string, error) {
	value, errGet := c.redisClient.Get(ctx, c.key).Result()
	if errors.Is(errGet, redis.Nil) {
		return "", token.ErrNotFound
	}
	if errGet != nil {
		return "", fmt.Errorf("redis GET %s: %w", c.key, errGet)
	}
	return value, nil
}

// Put inserts token into cache. The entry expires after ttl.
func (c *Cache) Put(ctx context.Context, value string, ttl time.Duration) error {
	if ttl < time.Second {
		// zero ttl would keep the key forever
		ttl = time.Second
	}
	if errSet := c.redisClient.Set(ctx, c.key, value, ttl).Err(); errSet != nil {
		return fmt.Errorf("redis SET %s: %w", c.key, errSet)
	}
	return nil
}

// Ping checks server reachability.
func (c *Cache) Ping(ctx context.Context) error {
	return c.redisClient.Ping(ctx).Err()
}

// Close releases the client connections.
func (c *Cache) Close() error {
	return c.redisClient.Close()
}
