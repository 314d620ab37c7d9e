// Package main implements the tool.
//
// token-probe obtains tokens through the token cache repeatedly, optionally
// calling a target URL with each one, to observe cache tiers and
// degradation against real backends.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skyhold/flightquote/cache"
	"github.com/skyhold/flightquote/clientcredentials"
)

type application struct {
	tokenURL            string
	clientID            string
	clientSecret        string
	scope               string
	targetURL           string
	count               int
	interval            time.Duration
	cache               string
	cacheKey            string
	memoryTTL           time.Duration
	disableSingleflight bool
	concurrent          bool
	debug               bool
}

func main() {

	app := application{}

	flag.StringVar(&app.tokenURL, "tokenURL", "http://localhost:8080/oauth/token", "token URL")
	flag.StringVar(&app.clientID, "clientID", "admin", "client ID")
	flag.StringVar(&app.clientSecret, "clientSecret", "admin", "client secret")
	flag.StringVar(&app.scope, "scope", "", "space-delimited list of scopes")
	flag.StringVar(&app.targetURL, "targetURL", "", "optional target URL called with each token")
	flag.IntVar(&app.count, "count", 2, "how many tokens to obtain")
	flag.DurationVar(&app.interval, "interval", 2*time.Second, "interval between sends")
	flag.StringVar(&app.cache, "cache", "", "empty means memory only\n'file:<path>' means filecache (example: file:/tmp/cache)\n'error' means errorcache\nredis: 'redis://<host>:<port>/<db>' or 'redis:<host>:<port>:<password>:<key>'")
	flag.StringVar(&app.cacheKey, "cacheKey", cache.DefaultKey, "external cache key for redis URLs")
	flag.DurationVar(&app.memoryTTL, "memoryTTL", 0, "memory trust window after external cache hit (0 means default)")
	flag.BoolVar(&app.disableSingleflight, "disableSingleflight", false, "disable singleflight")
	flag.BoolVar(&app.concurrent, "concurrent", false, "concurrent requests")
	flag.BoolVar(&app.debug, "debug", false, "enable debug logging")

	flag.Parse()

	zapLogger, _ := zap.NewDevelopment()
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	store, errCache := cache.New(app.cache, app.cacheKey)
	if errCache != nil {
		log.Fatalf("cache error: %s: %v", app.cache, errCache)
	}

	options := clientcredentials.Options{
		TokenURL:            app.tokenURL,
		ClientID:            app.clientID,
		ClientSecret:        app.clientSecret,
		Scope:               app.scope,
		HTTPClient:          http.DefaultClient,
		MemoryTTL:           app.memoryTTL,
		DisableSingleFlight: app.disableSingleflight,
		Logger:              log,
		Debug:               app.debug,
	}
	if store != nil {
		// do not assign nil to interface
		options.Cache = store
	}

	client := clientcredentials.New(options)

	if app.concurrent {
		//
		// concurrent requests
		//
		var wg sync.WaitGroup
		for i := 1; i <= app.count; i++ {
			j := i
			wg.Add(1)
			go func() {
				send(&app, client, log, j)
				wg.Done()
			}()
		}
		wg.Wait()
		return
	}

	//
	// non-concurrent requests
	//
	for i := 1; i <= app.count; i++ {
		send(&app, client, log, i)
		if i < app.count && app.interval != 0 {
			log.Infof("request %d/%d: sleeping for interval=%v", i, app.count, app.interval)
			time.Sleep(app.interval)
		}
	}
}

func send(app *application, client *clientcredentials.Client, log *zap.SugaredLogger, i int) {
	label := fmt.Sprintf("request %d/%d", i, app.count)

	accessToken, errToken := client.AccessToken(context.TODO())
	if errToken != nil {
		log.Errorf("%s: token: %v", label, errToken)
		return
	}

	cached, _ := client.Cached()
	log.Infof("%s: token=%s remain=%v external_cache=%s", label,
		mask(accessToken), time.Until(cached.Deadline).Round(time.Second), client.ExternalCacheState())

	if app.targetURL == "" {
		return
	}

	req, errReq := http.NewRequestWithContext(context.TODO(), http.MethodGet, app.targetURL, nil)
	if errReq != nil {
		log.Fatalf("%s: request: %v", label, errReq)
	}

	resp, errDo := client.Do(req)
	if errDo != nil {
		log.Errorf("%s: do: %v", label, errDo)
		return
	}
	defer resp.Body.Close()

	body, errBody := io.ReadAll(resp.Body)
	if errBody != nil {
		log.Errorf("%s: body: %v", label, errBody)
		return
	}

	log.Infof("%s: status: %d body: %s", label, resp.StatusCode, body)
}

// mask keeps only the head and tail of a token for display.
func mask(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
