package filecache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skyhold/flightquote/token"
)

func TestFileCache(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "token.json")

	c, _ := New(filename)
	clock := time.Now()
	c.timeSource = func() time.Time { return clock }

	ctx := context.TODO()

	if _, errGet := c.Get(ctx); !errors.Is(errGet, token.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing file, got: %v", errGet)
	}

	if errPut := c.Put(ctx, "abc", time.Minute); errPut != nil {
		t.Fatalf("put: %v", errPut)
	}

	value, errGet := c.Get(ctx)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if value != "abc" {
		t.Errorf("unexpected value: %s", value)
	}

	clock = clock.Add(time.Minute)

	if _, errGet := c.Get(ctx); !errors.Is(errGet, token.ErrNotFound) {
		t.Errorf("expected ErrNotFound after ttl, got: %v", errGet)
	}
}

func TestFileCacheCorrupt(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(filename, []byte("not-json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, _ := New(filename)

	_, errGet := c.Get(context.TODO())
	if errGet == nil {
		t.Fatalf("expected error for corrupt file")
	}
	if errors.Is(errGet, token.ErrNotFound) {
		t.Errorf("corrupt file must be reported as failure, not miss")
	}
}
