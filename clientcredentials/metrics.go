package clientcredentials

import "time"

// Metrics receives token cache events.
type Metrics interface {
	// MemoryHit is called when the memory slot served the token.
	MemoryHit()

	// ExternalHit is called when the external cache served the token.
	ExternalHit()

	// ExternalMiss is called when the external cache had no usable token.
	ExternalMiss()

	// ExternalFailure is called on any external cache read or write error.
	ExternalFailure()

	// Issued is called after the identity provider issued a token.
	Issued(elapsed time.Duration)

	// IssueFailure is called when token issuance failed.
	IssueFailure()

	// CacheState is called with the initial state and on every transition.
	CacheState(s ExternalCacheState)
}

// NoopMetrics ignores all events.
type NoopMetrics struct{}

func (NoopMetrics) MemoryHit()                      {}
func (NoopMetrics) ExternalHit()                    {}
func (NoopMetrics) ExternalMiss()                   {}
func (NoopMetrics) ExternalFailure()                {}
func (NoopMetrics) Issued(_ time.Duration)          {}
func (NoopMetrics) IssueFailure()                   {}
func (NoopMetrics) CacheState(_ ExternalCacheState) {}
