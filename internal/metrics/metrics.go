// Package metrics exposes prometheus metrics for the token cache and the
// HTTP endpoints.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/skyhold/flightquote/clientcredentials"
)

const namespace = "flightquote"

// TokenMetrics implements clientcredentials.Metrics.
type TokenMetrics struct {
	lookups      *prometheus.CounterVec
	failures     prometheus.Counter
	issued       prometheus.Counter
	issueErrors  prometheus.Counter
	issueLatency prometheus.Histogram
	cacheEnabled prometheus.Gauge
}

var _ clientcredentials.Metrics = (*TokenMetrics)(nil)

// NewTokenMetrics registers token cache metrics on reg.
func NewTokenMetrics(reg prometheus.Registerer) *TokenMetrics {
	f := promauto.With(reg)
	return &TokenMetrics{
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_lookups_total",
			Help:      "Token lookups by tier and result.",
		}, []string{"tier", "result"}),
		failures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_external_cache_failures_total",
			Help:      "External token cache read or write failures.",
		}),
		issued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_issued_total",
			Help:      "Tokens issued by the identity provider.",
		}),
		issueErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_issue_failures_total",
			Help:      "Failed token issuance requests.",
		}),
		issueLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "token_issue_duration_seconds",
			Help:      "Token issuance latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		cacheEnabled: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "token_external_cache_enabled",
			Help:      "1 while the external token cache is in use, 0 once disabled.",
		}),
	}
}

func (m *TokenMetrics) MemoryHit()   { m.lookups.WithLabelValues("memory", "hit").Inc() }
func (m *TokenMetrics) ExternalHit() { m.lookups.WithLabelValues("external", "hit").Inc() }
func (m *TokenMetrics) ExternalMiss() {
	m.lookups.WithLabelValues("external", "miss").Inc()
}
func (m *TokenMetrics) ExternalFailure() { m.failures.Inc() }
func (m *TokenMetrics) IssueFailure()    { m.issueErrors.Inc() }

func (m *TokenMetrics) Issued(elapsed time.Duration) {
	m.issued.Inc()
	m.issueLatency.Observe(elapsed.Seconds())
}

func (m *TokenMetrics) CacheState(s clientcredentials.ExternalCacheState) {
	if s == clientcredentials.ExternalCacheEnabled {
		m.cacheEnabled.Set(1)
		return
	}
	m.cacheEnabled.Set(0)
}

// HTTPMetrics records served requests.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics registers HTTP metrics on reg.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	f := promauto.With(reg)
	return &HTTPMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Observe records one request.
func (m *HTTPMetrics) Observe(route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}
