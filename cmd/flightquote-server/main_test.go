package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/skyhold/flightquote/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		ShutdownTimeout: time.Second,
		Upstream:        config.UpstreamConfig{Timeout: time.Second},
		Cache: config.CacheConfig{
			Key:     "access_token",
			Timeout: 500 * time.Millisecond,
		},
	}
}

// TestRunReturnsListenError checks that run hands the error back to main
// instead of exiting, so deferred cleanup can happen before the exit.
func TestRunReturnsListenError(t *testing.T) {
	busy, errListen := net.Listen("tcp", ":0")
	if errListen != nil {
		t.Fatalf("listen: %v", errListen)
	}
	defer busy.Close()

	cfg := testConfig()
	cfg.Port = busy.Addr().(*net.TCPAddr).Port

	errRun := make(chan error, 1)
	go func() { errRun <- run(context.Background(), cfg, zap.NewNop()) }()

	select {
	case err := <-errRun:
		if err == nil {
			t.Errorf("expected listen error")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return")
	}
}

func TestRunShutdown(t *testing.T) {
	cfg := testConfig()

	ctx, cancel := context.WithCancel(context.Background())

	errRun := make(chan error, 1)
	go func() { errRun <- run(ctx, cfg, zap.NewNop()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errRun:
		if err != nil {
			t.Errorf("unexpected shutdown error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return")
	}
}

func TestOpenCache(t *testing.T) {
	mr := miniredis.RunT(t)

	// nothing listens on a closed listener port
	closed, _ := net.Listen("tcp", "127.0.0.1:0")
	deadAddr := closed.Addr().String()
	closed.Close()

	table := []struct {
		name    string
		url     string
		present bool
	}{
		{"not configured", "", false},
		{"invalid", "bogus", false},
		{"unreachable redis", "redis://" + deadAddr + "/0", false},
		{"redis", "redis://" + mr.Addr() + "/0", true},
		{"file", "file:" + t.TempDir() + "/token", true},
	}

	for _, data := range table {
		t.Run(data.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Cache.URL = data.url

			store := openCache(context.TODO(), cfg, zap.NewNop())
			if (store != nil) != data.present {
				t.Errorf("url=%q: store present=%v, expected %v", data.url, store != nil, data.present)
			}
		})
	}
}
