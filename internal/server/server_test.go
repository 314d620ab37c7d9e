package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/skyhold/flightquote/cache/rediscache"
	"github.com/skyhold/flightquote/clientcredentials"
	"github.com/skyhold/flightquote/internal/flights"
	"github.com/skyhold/flightquote/internal/metrics"
)

type fakeFlights struct {
	mutex    sync.Mutex
	query    flights.Query
	keyword  string
	body     string
	err      error
	searches int
}

func (f *fakeFlights) Search(_ context.Context, q flights.Query) (json.RawMessage, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.searches++
	f.query = q
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.body), nil
}

func (f *fakeFlights) Locations(_ context.Context, keyword string) (json.RawMessage, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.keyword = keyword
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.body), nil
}

type fakeTokens struct {
	credentials bool
	state       clientcredentials.ExternalCacheState
}

func (f fakeTokens) HasCredentials() bool { return f.credentials }
func (f fakeTokens) ExternalCacheState() clientcredentials.ExternalCacheState {
	return f.state
}

func newTestServer(t *testing.T, fl FlightSearcher, tokens TokenStatus) *httptest.Server {
	srv := httptest.NewServer(New(Deps{Flights: fl, Tokens: tokens}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

type result struct {
	status int
	body   string
	header http.Header
}

func do(t *testing.T, method, url, body string) result {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.TODO(), method, url, r)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	buf, _ := io.ReadAll(resp.Body)
	return result{status: resp.StatusCode, body: strings.TrimSpace(string(buf)), header: resp.Header}
}

func TestSearch(t *testing.T) {
	fl := &fakeFlights{body: `{"data":[{"id":"1"}]}`}
	srv := newTestServer(t, fl, fakeTokens{credentials: true})

	res := do(t, "POST", srv.URL+"/api/search",
		`{"origin":"MEX","destination":"MAD","departureDate":"2026-12-01","adults":2}`)

	if res.status != 200 {
		t.Fatalf("unexpected status: %d %s", res.status, res.body)
	}
	if res.body != `{"data":[{"id":"1"}]}` {
		t.Errorf("unexpected body: %s", res.body)
	}
	if fl.query.Origin != "MEX" || fl.query.Adults != 2 {
		t.Errorf("unexpected query: %+v", fl.query)
	}
	if res.header.Get(RequestIDHeader) == "" {
		t.Errorf("missing request id header")
	}
}

func TestSearchBadPayload(t *testing.T) {
	fl := &fakeFlights{}
	srv := newTestServer(t, fl, fakeTokens{credentials: true})

	res := do(t, "POST", srv.URL+"/api/search", `{"origin":`)
	if res.status != 400 {
		t.Errorf("unexpected status: %d", res.status)
	}

	res = do(t, "POST", srv.URL+"/api/search", `{"origin":"MEX"}`)
	if res.status != 400 {
		t.Errorf("unexpected status for invalid query: %d", res.status)
	}
}

func TestSearchFailure(t *testing.T) {
	fl := &fakeFlights{err: &clientcredentials.UpstreamIssuanceError{Err: errors.New("down")}}
	srv := newTestServer(t, fl, fakeTokens{credentials: true})

	res := do(t, "POST", srv.URL+"/api/search",
		`{"origin":"MEX","destination":"MAD","departureDate":"2026-12-01"}`)

	if res.status != 500 {
		t.Errorf("unexpected status: %d", res.status)
	}
	if res.body != `{"error":"Flight search failed."}` {
		t.Errorf("unexpected body: %s", res.body)
	}
}

func TestSearchMethod(t *testing.T) {
	srv := newTestServer(t, &fakeFlights{}, fakeTokens{credentials: true})

	if res := do(t, "GET", srv.URL+"/api/search", ""); res.status != http.StatusMethodNotAllowed {
		t.Errorf("unexpected status: %d", res.status)
	}
}

func TestAutocomplete(t *testing.T) {
	fl := &fakeFlights{body: `[{"iataCode":"MAD"}]`}
	srv := newTestServer(t, fl, fakeTokens{credentials: true})

	res := do(t, "GET", srv.URL+"/api/autocomplete?keyword=mad", "")
	if res.status != 200 {
		t.Fatalf("unexpected status: %d", res.status)
	}
	if res.body != `[{"iataCode":"MAD"}]` {
		t.Errorf("unexpected body: %s", res.body)
	}
	if fl.keyword != "mad" {
		t.Errorf("unexpected keyword: %s", fl.keyword)
	}
}

func TestAutocompleteShortKeyword(t *testing.T) {
	srv := newTestServer(t, &fakeFlights{}, fakeTokens{credentials: true})

	for _, keyword := range []string{"m", "%C3%A9"} {
		res := do(t, "GET", srv.URL+"/api/autocomplete?keyword="+keyword, "")
		if res.status != 400 {
			t.Errorf("keyword %s: unexpected status: %d", keyword, res.status)
		}
		if res.body != `{"error":"Query must be at least 2 characters"}` {
			t.Errorf("keyword %s: unexpected body: %s", keyword, res.body)
		}
	}
}

func TestAutocompleteMultibyteKeyword(t *testing.T) {
	fl := &fakeFlights{body: `[]`}
	srv := newTestServer(t, fl, fakeTokens{credentials: true})

	res := do(t, "GET", srv.URL+"/api/autocomplete?keyword=%C3%A9a", "")
	if res.status != 200 {
		t.Errorf("unexpected status: %d", res.status)
	}
	fl.mutex.Lock()
	defer fl.mutex.Unlock()
	if fl.keyword != "éa" {
		t.Errorf("unexpected keyword: %q", fl.keyword)
	}
}

func TestAutocompleteFailure(t *testing.T) {
	srv := newTestServer(t, &fakeFlights{err: &flights.APIError{Status: 502}}, fakeTokens{credentials: true})

	res := do(t, "GET", srv.URL+"/api/autocomplete?keyword=mad", "")
	if res.status != 500 {
		t.Errorf("unexpected status: %d", res.status)
	}
	if res.body != `{"error":"Autocomplete failed"}` {
		t.Errorf("unexpected body: %s", res.body)
	}
}

func TestHold(t *testing.T) {
	srv := newTestServer(t, &fakeFlights{}, fakeTokens{credentials: true})

	res := do(t, "POST", srv.URL+"/api/hold", `{"passengers":[{"firstName":"Ana"}]}`)
	if res.status != 200 {
		t.Fatalf("unexpected status: %d", res.status)
	}

	var hold holdResponse
	if err := json.Unmarshal([]byte(res.body), &hold); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !hold.Success || hold.Message != "Hold placeholder created successfully." {
		t.Errorf("unexpected hold: %+v", hold)
	}
	if string(hold.Received) != `{"passengers":[{"firstName":"Ana"}]}` {
		t.Errorf("unexpected echo: %s", hold.Received)
	}

	if res := do(t, "POST", srv.URL+"/api/hold", `not json`); res.status != 400 {
		t.Errorf("unexpected status for bad payload: %d", res.status)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeFlights{}, fakeTokens{})

	res := do(t, "GET", srv.URL+"/health", "")
	if res.status != 200 || res.body != `{"status":"OK"}` {
		t.Errorf("unexpected health: %d %s", res.status, res.body)
	}
}

func readiness(t *testing.T, srv *httptest.Server) (int, readyResponse) {
	res := do(t, "GET", srv.URL+"/ready", "")
	var ready readyResponse
	if err := json.Unmarshal([]byte(res.body), &ready); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return res.status, ready
}

func TestReadyWithoutCache(t *testing.T) {
	srv := newTestServer(t, &fakeFlights{},
		fakeTokens{credentials: true, state: clientcredentials.ExternalCacheDisabled})

	status, ready := readiness(t, srv)
	if status != 200 || ready.Status != "READY" {
		t.Errorf("unexpected readiness: %d %+v", status, ready)
	}
	if ready.Dependencies["redis"] != "not_configured" {
		t.Errorf("unexpected redis status: %s", ready.Dependencies["redis"])
	}
	if ready.Dependencies["token_cache"] != "disabled" {
		t.Errorf("unexpected token cache status: %s", ready.Dependencies["token_cache"])
	}
}

func TestReadyMissingCredentials(t *testing.T) {
	srv := newTestServer(t, &fakeFlights{}, fakeTokens{})

	status, ready := readiness(t, srv)
	if status != http.StatusServiceUnavailable || ready.Status != "NOT_READY" {
		t.Errorf("unexpected readiness: %d %+v", status, ready)
	}
	if ready.Dependencies["credentials"] != "missing" {
		t.Errorf("unexpected credentials status: %s", ready.Dependencies["credentials"])
	}
}

func TestReadyWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	store := rediscache.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "access_token")
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(New(Deps{
		Flights: &fakeFlights{},
		Tokens:  fakeTokens{credentials: true, state: clientcredentials.ExternalCacheEnabled},
		Cache:   store,
	}).Handler())
	defer srv.Close()

	status, ready := readiness(t, srv)
	if status != 200 || ready.Dependencies["redis"] != "connected" {
		t.Errorf("unexpected readiness: %d %+v", status, ready)
	}

	mr.Close()

	status, ready = readiness(t, srv)
	if status != 200 {
		t.Errorf("external cache outage must not fail readiness: %d", status)
	}
	if ready.Dependencies["redis"] != "disconnected" {
		t.Errorf("unexpected redis status: %s", ready.Dependencies["redis"])
	}
}

func TestRequestIDPropagation(t *testing.T) {
	srv := newTestServer(t, &fakeFlights{}, fakeTokens{})

	req, _ := http.NewRequestWithContext(context.TODO(), "GET", srv.URL+"/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()

	if id := resp.Header.Get(RequestIDHeader); id != "req-123" {
		t.Errorf("unexpected request id: %s", id)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()

	srv := httptest.NewServer(New(Deps{
		Flights:        &fakeFlights{},
		Tokens:         fakeTokens{},
		HTTPMetrics:    metrics.NewHTTPMetrics(reg),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}).Handler())
	defer srv.Close()

	do(t, "GET", srv.URL+"/health", "")

	res := do(t, "GET", srv.URL+"/metrics", "")
	if res.status != 200 {
		t.Fatalf("unexpected status: %d", res.status)
	}
	if !strings.Contains(res.body, `flightquote_http_requests_total{route="GET /health",status="200"} 1`) {
		t.Errorf("health request not counted:\n%s", res.body)
	}
}

// TestSearchEndToEnd wires the real token client and flight client against
// fake identity provider and flight API servers.
func TestSearchEndToEnd(t *testing.T) {
	var tokenCalls, apiCalls int
	var mutex sync.Mutex

	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mutex.Lock()
		tokenCalls++
		mutex.Unlock()
		r.ParseForm()
		if r.Form.Get("client_id") != "id" || r.Form.Get("client_secret") != "secret" {
			http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tk","expires_in":1799}`)
	}))
	defer idp.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mutex.Lock()
		apiCalls++
		mutex.Unlock()
		if r.Header.Get("Authorization") != "Bearer tk" {
			http.Error(w, `{}`, http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"offer-1"}]}`)
	}))
	defer api.Close()

	tokens := clientcredentials.New(clientcredentials.Options{
		TokenURL:     idp.URL,
		ClientID:     "id",
		ClientSecret: "secret",
	})

	srv := httptest.NewServer(New(Deps{
		Flights: flights.New(api.URL, tokens),
		Tokens:  tokens,
	}).Handler())
	defer srv.Close()

	for i := 0; i < 3; i++ {
		res := do(t, "POST", srv.URL+"/api/search",
			`{"origin":"MEX","destination":"MAD","departureDate":"2026-12-01"}`)
		if res.status != 200 {
			t.Fatalf("search %d: unexpected status: %d %s", i, res.status, res.body)
		}
	}

	if tokenCalls != 1 {
		t.Errorf("token should be fetched once, got: %d", tokenCalls)
	}
	if apiCalls != 3 {
		t.Errorf("unexpected api calls: %d", apiCalls)
	}
}
