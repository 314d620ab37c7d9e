// Package filecache implements a cache.
package filecache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/skyhold/flightquote/token"
)

// Cache holds cache client.
// The ttl is persisted with the value, so an entry expires like a redis key.
type Cache struct {
	filename   string
	mutex      sync.Mutex
	timeSource func() time.Time
}

// New creates a new cache client.
func New(filename string) (*Cache, error) {
	return &Cache{filename: filename, timeSource: time.Now}, nil
}

// Get retrieves token from cache.
func (c *Cache) Get(_ context.Context) (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	t, errRead := tokenFromFile(c.filename)
	if errors.Is(errRead, fs.ErrNotExist) {
		return "", token.ErrNotFound
	}
	if errRead != nil {
		return "", errRead
	}
	if !t.IsValid(c.timeSource()) {
		return "", token.ErrNotFound
	}
	return t.Value, nil
}

func tokenFromFile(filename string) (token.Token, error) {
	buf, errRead := os.ReadFile(filename)
	if errRead != nil {
		return token.Token{}, errRead
	}
	return token.NewTokenFromJSON(buf)
}

// Put inserts token into cache.
func (c *Cache) Put(_ context.Context, value string, ttl time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return saveToken(token.New(value, c.timeSource(), ttl), c.filename)
}

func saveToken(t token.Token, filename string) error {
	buf, errJSON := t.ExportJSON()
	if errJSON != nil {
		return errJSON
	}
	tmp := filename + ".tmp"
	if errWrite := os.WriteFile(tmp, buf, 0o600); errWrite != nil {
		return errWrite
	}
	return os.Rename(tmp, filename)
}
