// Package cache provides cache implementations.
package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/skyhold/flightquote/cache/errorcache"
	"github.com/skyhold/flightquote/cache/filecache"
	"github.com/skyhold/flightquote/cache/rediscache"
	"github.com/skyhold/flightquote/token"
)

// DefaultKey is the cache key used when none is given.
const DefaultKey = "access_token"

// Pinger is implemented by stores that can check backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New creates cache from string.
//
//	""                                   no external cache
//	"error"                              errorcache
//	"file:<path>"                        filecache
//	"redis://..." or "rediss://..."      rediscache from URL, entry stored under key
//	"redis:<host>:<port>:<password>:<key>" rediscache, explicit key
func New(s, key string) (token.Store, error) {
	if key == "" {
		key = DefaultKey
	}
	switch {
	case s == "":
		return nil, nil
	case s == "error":
		return errorcache.New()
	case strings.HasPrefix(s, "file:"):
		return filecache.New(strings.TrimPrefix(s, "file:"))
	case strings.HasPrefix(s, "redis://"), strings.HasPrefix(s, "rediss://"):
		return rediscache.NewFromURL(s, key)
	case strings.HasPrefix(s, "redis:"):
		return rediscache.New(strings.TrimPrefix(s, "redis:"))
	}
	return nil, fmt.Errorf("unknown cache: %s", s)
}
