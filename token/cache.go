package token

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrNotFound is returned by a Store when it holds no token.
// It is a regular cache miss, not a backend failure.
var ErrNotFound = errors.New("token not found in cache")

// Store defines a shared external cache for the token string.
// The backend owns the expiration: entries vanish when their TTL runs out,
// and no expiry is read back.
type Store interface {
	Get(ctx context.Context) (string, error)
	Put(ctx context.Context, value string, ttl time.Duration) error
}

// Slot is the process-local memory cell for the current token.
//
// Readers never block: Load is a single atomic pointer load. Concurrent
// writers may overwrite each other; the last one wins.
type Slot struct {
	p atomic.Pointer[Token]
}

// Load returns the current token, if any.
func (s *Slot) Load() (Token, bool) {
	t := s.p.Load()
	if t == nil {
		return Token{}, false
	}
	return *t, true
}

// Store replaces the current token.
func (s *Slot) Store(t Token) {
	s.p.Store(&t)
}

// Clear empties the slot.
func (s *Slot) Clear() {
	s.p.Store(nil)
}

// ClearIf empties the slot only if it still holds a token with value.
func (s *Slot) ClearIf(value string) bool {
	t := s.p.Load()
	if t == nil || t.Value != value {
		return false
	}
	return s.p.CompareAndSwap(t, nil)
}
