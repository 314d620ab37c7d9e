// Package main implements the flight quote server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/skyhold/flightquote/cache"
	"github.com/skyhold/flightquote/clientcredentials"
	"github.com/skyhold/flightquote/internal/config"
	"github.com/skyhold/flightquote/internal/flights"
	"github.com/skyhold/flightquote/internal/logger"
	"github.com/skyhold/flightquote/internal/metrics"
	"github.com/skyhold/flightquote/internal/server"
	"github.com/skyhold/flightquote/token"
)

const serviceName = "flightquote"

func main() {
	loader := config.NewLoader()

	cfg, errConfig := loader.Load()
	if errConfig != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", errConfig)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, serviceName)
	defer log.Sync()
	zap.ReplaceGlobals(log.Logger)

	if file := loader.ConfigFileUsed(); file != "" {
		log.Info("configuration loaded", zap.String("config_file", file))
	}

	loader.Watch(func(e fsnotify.Event, newCfg *config.Config) {
		if log.SetLevel(newCfg.Log.Level) {
			log.Info("config file changed, log level applied",
				zap.String("name", e.Name), zap.String("level", newCfg.Log.Level))
		}
	}, func(err error) {
		log.Error("config reload failed", zap.Error(err))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log.Logger); err != nil {
		log.Error("server failed", zap.Error(err))
		stop()
		log.Sync()
		os.Exit(1)
	}

	log.Info("server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	store := openCache(ctx, cfg, log)
	if closer, isCloser := store.(io.Closer); isCloser {
		defer closer.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	options := clientcredentials.Options{
		TokenURL:            cfg.Upstream.TokenURL,
		ClientID:            cfg.Upstream.ClientID,
		ClientSecret:        cfg.Upstream.ClientSecret,
		Scope:               cfg.Upstream.Scope,
		HTTPClient:          &http.Client{Timeout: cfg.Upstream.Timeout},
		MemoryTTL:           cfg.Cache.MemoryTTL,
		ExpiryBuffer:        cfg.Token.ExpiryBuffer,
		MinTTL:              cfg.Token.MinTTL,
		CacheTimeout:        cfg.Cache.Timeout,
		IssueTimeout:        cfg.Upstream.Timeout,
		DisableSingleFlight: cfg.Token.DisableSingleFlight,
		Logger:              log.Sugar(),
		Debug:               cfg.Log.Debug,
		Metrics:             metrics.NewTokenMetrics(reg),
	}
	if store != nil {
		// do not assign nil to interface
		options.Cache = store
	}

	tokens := clientcredentials.New(options)
	if !tokens.HasCredentials() {
		log.Warn("client credentials not configured, flight API calls will fail")
	}

	deps := server.Deps{
		Flights:        flights.New(cfg.Upstream.APIBaseURL, tokens),
		Tokens:         tokens,
		Logger:         log,
		HTTPMetrics:    metrics.NewHTTPMetrics(reg),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	if pinger, isPinger := store.(cache.Pinger); isPinger {
		deps.Cache = pinger
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.New(deps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errServe := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", httpServer.Addr),
			zap.String("token_cache", tokens.ExternalCacheState().String()))
		errServe <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errServe:
		return err
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errServe; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// openCache returns the external cache, or nil when it is not configured
// or unreachable at startup. The service then runs memory-only.
func openCache(ctx context.Context, cfg *config.Config, log *zap.Logger) token.Store {
	if cfg.Cache.URL == "" {
		log.Info("no external cache configured, using in-memory token cache only")
		return nil
	}

	store, errCache := cache.New(cfg.Cache.URL, cfg.Cache.Key)
	if errCache != nil {
		log.Warn("external cache config invalid, continuing with in-memory cache", zap.Error(errCache))
		return nil
	}

	pinger, isPinger := store.(cache.Pinger)
	if !isPinger {
		return store
	}

	ctxPing, cancel := context.WithTimeout(ctx, cfg.Cache.Timeout)
	defer cancel()

	if errPing := pinger.Ping(ctxPing); errPing != nil {
		log.Warn("external cache connection failed, continuing with in-memory cache", zap.Error(errPing))
		if closer, isCloser := store.(io.Closer); isCloser {
			closer.Close()
		}
		return nil
	}

	log.Info("external cache connected")
	return store
}
