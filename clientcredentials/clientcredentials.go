// Package clientcredentials helps with oauth2 client-credentials flow.
//
// A Client hands out a bearer token from a two-tier cache: a lock-free
// memory slot first, then a shared external store, then the identity
// provider. External store failures are never fatal; the first one
// disables the store for the rest of the process lifetime.
package clientcredentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	cc "github.com/udhos/oauth2clientcredentials/clientcredentials"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/skyhold/flightquote/token"
)

// HTTPDoer is interface for http client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Logger is the logging interface used by Client.
// *zap.SugaredLogger satisfies it.
type Logger interface {
	Debugf(template string, args ...any)
	Infof(template string, args ...any)
	Warnf(template string, args ...any)
	Errorf(template string, args ...any)
}

// Options define client options.
type Options struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string

	// HTTPClient is the HTTP client to use to make requests.
	// If nil, http.DefaultClient is used.
	HTTPClient HTTPDoer

	// IsTokenStatusCodeOk defines custom function to check whether the
	// token server response status is OK. A non-nil error rejects the
	// response. If undefined, cc.DefaultIsStatusCodeOK is used, which
	// accepts any 2xx status.
	IsTokenStatusCodeOk func(status int) error

	// Cache is the shared external cache.
	// If nil, the external cache is permanently disabled.
	Cache token.Store

	// MemoryTTL is how long a token found in the external cache is
	// trusted in memory before the external cache is checked again.
	// 0 defaults to 5 minutes.
	MemoryTTL time.Duration

	// ExpiryBuffer is subtracted from the provider declared lifetime.
	// 0 defaults to 60 seconds.
	//
	// Example: expires_in = 3600 seconds. The token is kept for
	// 3600-60 = 3540 seconds, in order to renew it before hard expiration.
	ExpiryBuffer time.Duration

	// MinTTL floors the buffered lifetime. 0 defaults to 60 seconds.
	MinTTL time.Duration

	// CacheTimeout bounds each external cache call. 0 defaults to 2 seconds.
	CacheTimeout time.Duration

	// IssueTimeout bounds each identity provider call. 0 defaults to 10 seconds.
	IssueTimeout time.Duration

	// Time source used to check token expiration.
	// If unspecified, defaults to time.Now().
	TimeSource func() time.Time

	DisableSingleFlight bool

	// Logger defaults to zap.S().
	Logger Logger

	// Enable debug logging.
	Debug bool

	// IsBadTokenStatus defines custom function to check whether the
	// server response status is bad token.
	// If undefined, defaults to DefaultIsBadTokenStatus that just checks
	// for status 401.
	IsBadTokenStatus func(status int) bool

	// Metrics receives cache events. Defaults to NoopMetrics.
	Metrics Metrics
}

// DefaultIsBadTokenStatus is used as default function when option IsBadTokenStatus
// is left undefined. DefaultIsBadTokenStatus just checks for status 401.
func DefaultIsBadTokenStatus(status int) bool {
	return status == http.StatusUnauthorized
}

// Client is context for invokations with client-credentials flow.
type Client struct {
	options  Options
	group    singleflight.Group
	slot     token.Slot
	state    atomic.Int32
	rejected atomic.Pointer[string]
}

// New creates a client.
func New(options Options) *Client {
	if options.HTTPClient == nil {
		options.HTTPClient = http.DefaultClient
	}
	if options.MemoryTTL <= 0 {
		options.MemoryTTL = 5 * time.Minute
	}
	if options.ExpiryBuffer <= 0 {
		options.ExpiryBuffer = 60 * time.Second
	}
	if options.MinTTL <= 0 {
		options.MinTTL = 60 * time.Second
	}
	if options.CacheTimeout <= 0 {
		options.CacheTimeout = 2 * time.Second
	}
	if options.IssueTimeout <= 0 {
		options.IssueTimeout = 10 * time.Second
	}
	if options.TimeSource == nil {
		options.TimeSource = time.Now
	}
	if options.Logger == nil {
		options.Logger = zap.S()
	}
	if options.IsBadTokenStatus == nil {
		options.IsBadTokenStatus = DefaultIsBadTokenStatus
	}
	if options.Metrics == nil {
		options.Metrics = NoopMetrics{}
	}
	c := &Client{
		options: options,
	}
	initial := ExternalCacheEnabled
	if options.Cache == nil {
		initial = ExternalCacheDisabled
	}
	c.state.Store(int32(initial))
	c.options.Metrics.CacheState(initial)
	return c
}

func (c *Client) debugf(format string, v ...any) {
	if c.options.Debug {
		c.options.Logger.Debugf(format, v...)
	}
}

// ExternalCacheState reports whether the external cache is still in use.
func (c *Client) ExternalCacheState() ExternalCacheState {
	return ExternalCacheState(c.state.Load())
}

// HasCredentials reports whether client id and secret are configured.
func (c *Client) HasCredentials() bool {
	return c.options.ClientID != "" && c.options.ClientSecret != ""
}

// disableExternalCache moves to ExternalCacheDisabled. Only the caller that
// wins the transition logs it.
func (c *Client) disableExternalCache(op string, err error) {
	c.options.Metrics.ExternalFailure()
	if c.state.CompareAndSwap(int32(ExternalCacheEnabled), int32(ExternalCacheDisabled)) {
		c.options.Logger.Warnf("external cache %s failed, disabling external cache: %v", op, err)
		c.options.Metrics.CacheState(ExternalCacheDisabled)
	}
}

// Cached returns a snapshot of the memory slot.
func (c *Client) Cached() (token.Token, bool) {
	return c.slot.Load()
}

// Invalidate reports that the server refused value. The memory slot is
// cleared if it still holds value, and value is remembered so that the
// external cache cannot hand it back.
func (c *Client) Invalidate(value string) {
	if value == "" {
		return
	}
	c.rejected.Store(&value)
	if c.slot.ClearIf(value) {
		c.debugf("invalidated cached token")
	}
}

func (c *Client) isRejected(value string) bool {
	r := c.rejected.Load()
	return r != nil && *r == value
}

// Do sends an HTTP request with a bearer token.
//
// When the server refuses the token, the token is invalidated and the
// request is retried once, provided its body can be replayed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {

	accessToken, errToken := c.AccessToken(req.Context())
	if errToken != nil {
		return nil, errToken
	}

	resp, errResp := c.send(req, accessToken)
	if errResp != nil {
		return resp, errResp
	}

	if !c.options.IsBadTokenStatus(resp.StatusCode) {
		return resp, nil
	}

	//
	// the server refused our token, so we expire it in order to
	// renew it before retrying.
	//
	c.Invalidate(accessToken)

	retry, errRetry := rewind(req)
	if errRetry != nil {
		c.debugf("request not retried: %v", errRetry)
		return resp, nil
	}

	accessToken, errToken = c.AccessToken(req.Context())
	if errToken != nil {
		return resp, nil
	}

	resp.Body.Close()

	return c.send(retry, accessToken)
}

func rewind(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}
	body, errBody := req.GetBody()
	if errBody != nil {
		return nil, errBody
	}
	retry.Body = body
	return retry, nil
}

func (c *Client) send(req *http.Request, accessToken string) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return c.options.HTTPClient.Do(req)
}

// AccessToken returns a bearer token that is valid at the moment of return.
//
// Lookup order is memory slot, external cache, identity provider.
// Only identity provider failures are returned as errors.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	now := c.options.TimeSource()

	if t, found := c.slot.Load(); found && t.IsValid(now) {
		c.options.Metrics.MemoryHit()
		return t.Value, nil
	}

	if value, found := c.readExternal(ctx); found {
		c.slot.Store(token.New(value, now, c.options.MemoryTTL))
		c.debugf("found token in external cache, trusting it for %v", c.options.MemoryTTL)
		return value, nil
	}

	c.debugf("NO valid cached token")
	return c.fetchToken(ctx)
}

func (c *Client) readExternal(ctx context.Context) (string, bool) {
	if c.ExternalCacheState() == ExternalCacheDisabled {
		return "", false
	}

	// bounded by CacheTimeout only, never by the caller
	ctxGet, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.options.CacheTimeout)
	defer cancel()

	value, errGet := c.options.Cache.Get(ctxGet)
	switch {
	case errors.Is(errGet, token.ErrNotFound):
		c.options.Metrics.ExternalMiss()
		return "", false
	case errGet != nil:
		if ctx.Err() == nil {
			c.disableExternalCache("read", errGet)
		}
		return "", false
	case value == "" || c.isRejected(value):
		c.options.Metrics.ExternalMiss()
		return "", false
	}

	c.options.Metrics.ExternalHit()
	return value, true
}

func (c *Client) writeExternal(ctx context.Context, value string, ttl time.Duration) {
	if c.ExternalCacheState() == ExternalCacheDisabled {
		return
	}

	ctxPut, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.options.CacheTimeout)
	defer cancel()

	if errPut := c.options.Cache.Put(ctxPut, value, ttl); errPut != nil && ctx.Err() == nil {
		c.disableExternalCache("write", errPut)
	}
}

// fetchToken retrieves new token and saves into cache, guarded with singleflight.
func (c *Client) fetchToken(ctx context.Context) (string, error) {

	if c.options.DisableSingleFlight {
		return c.fetchTokenRaw(context.WithoutCancel(ctx))
	}

	key := ""

	f := func() (interface{}, error) {
		// one caller's cancellation must not fail the callers sharing the flight
		return c.fetchTokenRaw(context.WithoutCancel(ctx))
	}

	result, errFetch, _ := c.group.Do(key, f)
	if errFetch != nil {
		return "", errFetch
	}

	str, isStr := result.(string)
	if !isStr {
		return "", fmt.Errorf("non-string result: type:%[1]T value:%[1]v", result)
	}

	return str, nil
}

// fetchTokenRaw retrieves new token and saves into cache.
func (c *Client) fetchTokenRaw(ctx context.Context) (string, error) {

	if !c.HasCredentials() {
		return "", ErrMissingCredentials
	}

	begin := time.Now()

	reqOptions := cc.RequestOptions{
		TokenURL:       c.options.TokenURL,
		ClientID:       c.options.ClientID,
		ClientSecret:   c.options.ClientSecret,
		Scope:          c.options.Scope,
		HTTPClient:     c.options.HTTPClient,
		IsStatusCodeOK: c.options.IsTokenStatusCodeOk,
	}

	ctxIssue, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.options.IssueTimeout)
	defer cancel()

	resp, errSend := cc.SendRequest(ctxIssue, reqOptions)
	if errSend != nil {
		c.options.Metrics.IssueFailure()
		return "", &UpstreamIssuanceError{Err: errSend}
	}

	elap := time.Since(begin)

	c.debugf("fetchToken: elapsed:%v", elap)

	if resp.AccessToken == "" {
		c.options.Metrics.IssueFailure()
		return "", &UpstreamIssuanceError{Err: errNoAccessToken}
	}

	lifetime := time.Duration(resp.ExpiresIn) * time.Second
	if lifetime <= 0 {
		c.options.Metrics.IssueFailure()
		return "", &UpstreamIssuanceError{Err: errNoExpiresIn}
	}

	ttl := c.bufferedTTL(lifetime)
	now := c.options.TimeSource()

	c.slot.Store(token.New(resp.AccessToken, now, ttl))
	c.options.Metrics.Issued(elap)
	c.debugf("saving new token: ttl=%v", ttl)

	c.writeExternal(ctx, resp.AccessToken, ttl)

	return resp.AccessToken, nil
}

// bufferedTTL computes max(lifetime-ExpiryBuffer, MinTTL), always
// strictly below lifetime.
func (c *Client) bufferedTTL(lifetime time.Duration) time.Duration {
	ttl := max(lifetime-c.options.ExpiryBuffer, c.options.MinTTL)
	if ttl >= lifetime {
		// short-lived token: the floor would outlive it
		ttl = lifetime * 9 / 10
	}
	return ttl
}
